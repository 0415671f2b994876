// Package stub provides the in-memory session backend. It mirrors the
// native backend's observable event behavior without touching the network,
// which makes it the backend of choice for tests and development profiles.
package stub

import (
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
	"torrentd/internal/engine"
	"torrentd/internal/profile"
)

type entry struct {
	source      domain.TorrentSource
	name        string
	downloadDir string
	sequential  bool
	selection   domain.FileSelectionRules
	limits      domain.TorrentRateLimit
	state       domain.TorrentState
	trackers    []string
	webSeeds    []string
	tags        []string
}

// Session keeps every torrent in a map and records the events a real
// backend would surface. Single-owner like every engine.Session: the worker
// goroutine is the only caller.
type Session struct {
	config   profile.EngineRuntimeConfig
	torrents map[domain.TorrentID]*entry
	pending  []domain.EngineEvent
	global   domain.TorrentRateLimit
}

var _ engine.Session = (*Session)(nil)

// New creates an empty stub session.
func New() *Session {
	return &Session{torrents: make(map[domain.TorrentID]*entry)}
}

func (s *Session) Capabilities() ports.CapabilitySet {
	return ports.NewCapabilitySet(
		ports.CapPause, ports.CapResume, ports.CapSequential, ports.CapLimits,
		ports.CapSelection, ports.CapOptions, ports.CapTrackers, ports.CapWebSeeds,
		ports.CapReannounce, ports.CapMove, ports.CapRecheck, ports.CapPieceDeadline,
		ports.CapPeers,
	)
}

func (s *Session) AddTorrent(request domain.AddTorrent) error {
	opts := request.Options
	name := opts.NameHint
	if name == "" {
		name = "torrent " + request.ID.String()
	}
	dir := opts.DownloadDir
	if dir == "" {
		dir = s.config.DownloadRoot
	}
	e := &entry{
		source:      request.Source,
		name:        name,
		downloadDir: dir,
		sequential:  opts.Sequential || s.config.SequentialDefault,
		selection:   opts.FileRules,
		limits:      opts.RateLimit,
		state:       domain.StateQueued,
		trackers:    append([]string(nil), opts.Trackers...),
		webSeeds:    append([]string(nil), opts.WebSeeds...),
		tags:        append([]string(nil), opts.Tags...),
	}
	s.torrents[request.ID] = e

	s.emit(domain.StateChangedEvent(request.ID, domain.StateQueued))
	s.emit(domain.MetadataUpdatedEvent(request.ID, e.name, e.downloadDir))
	s.refreshResume(request.ID, e)
	return nil
}

func (s *Session) RemoveTorrent(id domain.TorrentID, _ domain.RemoveTorrent) error {
	if _, ok := s.torrents[id]; !ok {
		return domain.NotFound(id)
	}
	delete(s.torrents, id)
	s.emit(domain.StateChangedEvent(id, domain.StateStopped))
	// An empty payload tells the store to drop whatever it had.
	s.emit(domain.ResumeDataEvent(id, nil))
	s.emit(domain.EngineEvent{Kind: domain.EngineTorrentRemoved, TorrentID: id})
	return nil
}

func (s *Session) PauseTorrent(id domain.TorrentID) error {
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	e.state = domain.StateStopped
	s.emit(domain.StateChangedEvent(id, domain.StateStopped))
	s.refreshResume(id, e)
	return nil
}

func (s *Session) ResumeTorrent(id domain.TorrentID) error {
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	e.state = domain.StateDownloading
	s.emit(domain.StateChangedEvent(id, domain.StateDownloading))
	s.refreshResume(id, e)
	return nil
}

func (s *Session) SetSequential(id domain.TorrentID, sequential bool) error {
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	e.sequential = sequential
	s.refreshResume(id, e)
	return nil
}

func (s *Session) LoadFastResume(id domain.TorrentID, payload []byte) error {
	p, err := engine.DecodeResumePayload(payload)
	if err != nil {
		return err
	}
	// Restored torrents come back stopped; the orchestrator decides when to
	// resume them.
	s.torrents[id] = &entry{
		source:      p.Source,
		name:        "torrent " + id.String(),
		downloadDir: p.DownloadDir,
		sequential:  p.Sequential,
		selection:   p.Selection,
		limits:      p.RateLimit,
		state:       domain.StateStopped,
	}
	return nil
}

func (s *Session) UpdateLimits(id *domain.TorrentID, limits domain.TorrentRateLimit) error {
	if id == nil {
		s.global = limits
		return nil
	}
	e, ok := s.torrents[*id]
	if !ok {
		return domain.NotFound(*id)
	}
	e.limits = limits
	s.refreshResume(*id, e)
	return nil
}

func (s *Session) UpdateSelection(id domain.TorrentID, rules domain.FileSelectionUpdate) error {
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	e.selection = rules.Apply(e.selection)
	s.refreshResume(id, e)
	return nil
}

func (s *Session) UpdateOptions(id domain.TorrentID, options domain.TorrentOptionsUpdate) error {
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	if options.Sequential != nil {
		e.sequential = *options.Sequential
	}
	if options.RateLimit != nil {
		e.limits = *options.RateLimit
	}
	if options.Tags != nil {
		e.tags = append([]string(nil), (*options.Tags)...)
	}
	s.refreshResume(id, e)
	return nil
}

func (s *Session) UpdateTrackers(id domain.TorrentID, trackers domain.TorrentTrackersUpdate) error {
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	if trackers.Replace {
		e.trackers = append([]string(nil), trackers.Trackers...)
	} else {
		e.trackers = append(e.trackers, trackers.Trackers...)
	}
	s.refreshResume(id, e)
	return nil
}

func (s *Session) UpdateWebSeeds(id domain.TorrentID, webSeeds domain.TorrentWebSeedsUpdate) error {
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	if webSeeds.Replace {
		e.webSeeds = append([]string(nil), webSeeds.WebSeeds...)
	} else {
		e.webSeeds = append(e.webSeeds, webSeeds.WebSeeds...)
	}
	s.refreshResume(id, e)
	return nil
}

func (s *Session) Reannounce(id domain.TorrentID) error {
	if _, ok := s.torrents[id]; !ok {
		return domain.NotFound(id)
	}
	return nil
}

func (s *Session) MoveStorage(id domain.TorrentID, downloadDir string) error {
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	e.downloadDir = downloadDir
	s.emit(domain.MetadataUpdatedEvent(id, e.name, e.downloadDir))
	s.refreshResume(id, e)
	return nil
}

func (s *Session) Recheck(id domain.TorrentID) error {
	if _, ok := s.torrents[id]; !ok {
		return domain.NotFound(id)
	}
	return nil
}

func (s *Session) SetPieceDeadline(id domain.TorrentID, _ int, _ int64, _ time.Duration) error {
	if _, ok := s.torrents[id]; !ok {
		return domain.NotFound(id)
	}
	return nil
}

func (s *Session) ApplyConfig(config profile.EngineRuntimeConfig) error {
	s.config = config
	return nil
}

func (s *Session) Peers(id domain.TorrentID) ([]domain.PeerSnapshot, error) {
	if _, ok := s.torrents[id]; !ok {
		return nil, domain.NotFound(id)
	}
	return []domain.PeerSnapshot{}, nil
}

// PollEvents hands back everything recorded since the last drain.
func (s *Session) PollEvents() []domain.EngineEvent {
	out := s.pending
	s.pending = nil
	return out
}

func (s *Session) Close() error {
	s.torrents = make(map[domain.TorrentID]*entry)
	s.pending = nil
	return nil
}

func (s *Session) emit(ev domain.EngineEvent) {
	s.pending = append(s.pending, ev)
}

// refreshResume snapshots the entry into a fast-resume payload. Every
// mutating per-torrent operation ends up here, so the persisted payload
// always reflects the latest options.
func (s *Session) refreshResume(id domain.TorrentID, e *entry) {
	payload := engine.ResumePayload{
		Source:      e.source,
		Selection:   e.selection,
		Priorities:  e.selection.Priorities,
		RateLimit:   e.limits,
		Sequential:  e.sequential,
		DownloadDir: e.downloadDir,
	}
	s.emit(domain.ResumeDataEvent(id, payload.Encode()))
}
