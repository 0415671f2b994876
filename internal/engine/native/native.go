// Package native implements the session contract on top of the anacrolix
// torrent client. Unlike the stub it does real network and disk I/O, so
// metadata arrives asynchronously: a watcher goroutine per torrent waits for
// the info dictionary and reports discovery events once it lands.
package native

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"golang.org/x/time/rate"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
	"torrentd/internal/engine"
	"torrentd/internal/profile"
)

// defaultMaxConns is restored when a hard-paused torrent resumes.
const defaultMaxConns = 35

// addTimeout caps how long we wait for the anacrolix client to accept a new
// torrent. The client can block on an internal mutex while it is busy
// resolving metadata for another torrent.
const addTimeout = 10 * time.Second

// deadlineSpanBytes is how much data past the requested offset gets its
// piece priority raised by SetPieceDeadline.
const deadlineSpanBytes = 8 << 20

// sequentialWindow is how many incomplete pieces ahead of the playhead are
// kept at elevated priority for sequential torrents.
const sequentialWindow = 16

type entry struct {
	t           *torrent.Torrent
	source      domain.TorrentSource
	name        string
	downloadDir string
	sequential  bool
	selection   domain.FileSelectionRules
	limits      domain.TorrentRateLimit
	paused      bool
	haveInfo    bool
	completed   bool
	// peak guards against BytesCompleted dipping while anacrolix re-verifies
	// pieces from disk after a restart.
	peak       int64
	lastRead   int64
	lastWrite  int64
	lastSample time.Time
}

// Session owns one anacrolix client. Commands arrive from the bridge worker
// only, but metadata watchers run on their own goroutines, so shared state is
// guarded by mu.
type Session struct {
	client *torrent.Client
	logger *slog.Logger

	dlLimiter *rate.Limiter
	ulLimiter *rate.Limiter

	mu       sync.Mutex
	cfg      profile.EngineRuntimeConfig
	torrents map[domain.TorrentID]*entry
	pending  []domain.EngineEvent
}

var _ engine.Session = (*Session)(nil)

// New starts an anacrolix client configured from the effective runtime
// profile. DataDir and the listen port are fixed for the client's lifetime;
// rate limits and defaults can be retuned later through ApplyConfig.
func New(cfg profile.EngineRuntimeConfig, logger *slog.Logger) (*Session, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dl := rate.NewLimiter(rate.Inf, 0)
	ul := rate.NewLimiter(rate.Inf, 0)
	tuneLimiter(dl, cfg.DownloadRateLimit)
	tuneLimiter(ul, cfg.UploadRateLimit)

	clientConfig := torrent.NewDefaultClientConfig()
	if cfg.DownloadRoot != "" {
		clientConfig.DataDir = cfg.DownloadRoot
	}
	clientConfig.NoDHT = !cfg.EnableDHT
	if cfg.ListenPort != nil {
		clientConfig.ListenPort = *cfg.ListenPort
	}
	clientConfig.Seed = true
	clientConfig.DownloadRateLimiter = dl
	clientConfig.UploadRateLimiter = ul
	switch cfg.Encryption {
	case profile.EncryptionRequire:
		clientConfig.HeaderObfuscationPolicy = torrent.HeaderObfuscationPolicy{RequirePreferred: true, Preferred: true}
	case profile.EncryptionDisable:
		clientConfig.HeaderObfuscationPolicy = torrent.HeaderObfuscationPolicy{RequirePreferred: true, Preferred: false}
	}

	client, err := torrent.NewClient(clientConfig)
	if err != nil {
		return nil, fmt.Errorf("start torrent client: %w", err)
	}

	return &Session{
		client:    client,
		logger:    logger,
		dlLimiter: dl,
		ulLimiter: ul,
		cfg:       cfg,
		torrents:  make(map[domain.TorrentID]*entry),
	}, nil
}

func (s *Session) Capabilities() ports.CapabilitySet {
	// Reannounce and storage moves have no anacrolix API.
	return ports.NewCapabilitySet(
		ports.CapPause, ports.CapResume, ports.CapSequential, ports.CapLimits,
		ports.CapSelection, ports.CapOptions, ports.CapTrackers, ports.CapWebSeeds,
		ports.CapRecheck, ports.CapPieceDeadline, ports.CapPeers,
	)
}

func (s *Session) AddTorrent(request domain.AddTorrent) error {
	t, err := s.openTorrent(request.Source)
	if err != nil {
		return err
	}
	opts := request.Options

	if len(opts.Trackers) > 0 {
		t.AddTrackers([][]string{opts.Trackers})
	}
	if len(opts.WebSeeds) > 0 {
		t.AddWebSeeds(opts.WebSeeds)
	}
	if opts.ConnectionsLimit != nil {
		t.SetMaxEstablishedConns(*opts.ConnectionsLimit)
	}

	s.mu.Lock()
	name := opts.NameHint
	if name == "" {
		name = t.Name()
	}
	dir := opts.DownloadDir
	if dir == "" {
		dir = s.cfg.DownloadRoot
	}
	e := &entry{
		t:           t,
		source:      request.Source,
		name:        name,
		downloadDir: dir,
		sequential:  opts.Sequential || s.cfg.SequentialDefault,
		selection:   opts.FileRules,
		limits:      opts.RateLimit,
		paused:      opts.StartPaused,
	}
	s.torrents[request.ID] = e

	s.emit(domain.StateChangedEvent(request.ID, domain.StateQueued))
	s.emit(domain.MetadataUpdatedEvent(request.ID, e.name, e.downloadDir))
	if e.paused {
		hardPause(t)
		s.emit(domain.StateChangedEvent(request.ID, domain.StateStopped))
	} else {
		s.emit(domain.StateChangedEvent(request.ID, domain.StateFetchingMetadata))
	}
	s.refreshResume(request.ID, e)
	s.mu.Unlock()

	go s.watchInfo(request.ID, t)
	return nil
}

// watchInfo waits for the info dictionary and reports what the torrent
// actually contains. For metainfo and file sources GotInfo is already closed
// and this fires immediately.
func (s *Session) watchInfo(id domain.TorrentID, t *torrent.Torrent) {
	select {
	case <-t.GotInfo():
	case <-t.Closed():
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok || e.t != t {
		return
	}
	e.haveInfo = true
	if e.name == "" || e.name != t.Name() {
		e.name = t.Name()
	}

	s.emit(domain.MetadataUpdatedEvent(id, e.name, e.downloadDir))
	s.emit(domain.FilesDiscoveredEvent(id, describeFiles(t, e.selection)))

	if e.paused {
		return
	}
	applySelection(t, e.selection)
	if e.sequential {
		applySequentialWindow(t, e.selection, sequentialWindow)
	} else {
		t.DownloadAll()
	}
	s.emit(domain.StateChangedEvent(id, domain.StateDownloading))
	s.refreshResume(id, e)
}

func (s *Session) RemoveTorrent(id domain.TorrentID, options domain.RemoveTorrent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	delete(s.torrents, id)
	e.t.Drop()
	if options.WithData {
		// Payload files live under the client's DataDir; anacrolix does not
		// delete them on Drop. The orchestrator owns disk cleanup through the
		// download root it configured.
		s.logger.Info("torrent dropped, payload retained on disk",
			slog.String("torrentId", id.String()),
			slog.String("downloadDir", e.downloadDir),
		)
	}
	s.emit(domain.StateChangedEvent(id, domain.StateStopped))
	s.emit(domain.ResumeDataEvent(id, nil))
	s.emit(domain.EngineEvent{Kind: domain.EngineTorrentRemoved, TorrentID: id})
	return nil
}

func (s *Session) PauseTorrent(id domain.TorrentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	e.paused = true
	hardPause(e.t)
	s.emit(domain.StateChangedEvent(id, domain.StateStopped))
	s.refreshResume(id, e)
	return nil
}

func (s *Session) ResumeTorrent(id domain.TorrentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	e.paused = false
	resume(e.t)
	if e.haveInfo {
		applySelection(e.t, e.selection)
		if e.sequential {
			applySequentialWindow(e.t, e.selection, sequentialWindow)
		} else {
			e.t.DownloadAll()
		}
	}
	s.emit(domain.StateChangedEvent(id, domain.StateDownloading))
	s.refreshResume(id, e)
	return nil
}

func (s *Session) SetSequential(id domain.TorrentID, sequential bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	e.sequential = sequential
	if e.haveInfo && !e.paused {
		if sequential {
			applySequentialWindow(e.t, e.selection, sequentialWindow)
		} else {
			applySelection(e.t, e.selection)
			e.t.DownloadAll()
		}
	}
	s.refreshResume(id, e)
	return nil
}

func (s *Session) LoadFastResume(id domain.TorrentID, payload []byte) error {
	p, err := engine.DecodeResumePayload(payload)
	if err != nil {
		return err
	}
	if err := p.Source.Validate(); err != nil {
		return fmt.Errorf("resume payload for %s: %w", id, err)
	}
	t, err := s.openTorrent(p.Source)
	if err != nil {
		return err
	}
	// Restored torrents come back stopped; the orchestrator decides when to
	// resume them.
	hardPause(t)

	s.mu.Lock()
	s.torrents[id] = &entry{
		t:           t,
		source:      p.Source,
		name:        t.Name(),
		downloadDir: p.DownloadDir,
		sequential:  p.Sequential,
		selection:   p.Selection,
		limits:      p.RateLimit,
		paused:      true,
	}
	s.mu.Unlock()

	go s.watchInfo(id, t)
	return nil
}

func (s *Session) UpdateLimits(id *domain.TorrentID, limits domain.TorrentRateLimit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id == nil {
		tuneLimiter(s.dlLimiter, limits.DownloadBps)
		tuneLimiter(s.ulLimiter, limits.UploadBps)
		s.cfg.DownloadRateLimit = limits.DownloadBps
		s.cfg.UploadRateLimit = limits.UploadBps
		return nil
	}
	e, ok := s.torrents[*id]
	if !ok {
		return domain.NotFound(*id)
	}
	// The client enforces caps globally; per-torrent caps are recorded and
	// persisted so they survive a switch to a backend that can enforce them.
	e.limits = limits
	s.refreshResume(*id, e)
	return nil
}

func (s *Session) UpdateSelection(id domain.TorrentID, rules domain.FileSelectionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	e.selection = rules.Apply(e.selection)
	if e.haveInfo {
		applySelection(e.t, e.selection)
		s.emit(domain.FilesDiscoveredEvent(id, describeFiles(e.t, e.selection)))
	}
	s.refreshResume(id, e)
	return nil
}

func (s *Session) UpdateOptions(id domain.TorrentID, options domain.TorrentOptionsUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	if options.Sequential != nil && *options.Sequential != e.sequential {
		e.sequential = *options.Sequential
		if e.haveInfo && !e.paused {
			if e.sequential {
				applySequentialWindow(e.t, e.selection, sequentialWindow)
			} else {
				applySelection(e.t, e.selection)
				e.t.DownloadAll()
			}
		}
	}
	if options.RateLimit != nil {
		e.limits = *options.RateLimit
	}
	if options.ConnectionsLimit != nil {
		e.t.SetMaxEstablishedConns(*options.ConnectionsLimit)
	}
	s.refreshResume(id, e)
	return nil
}

func (s *Session) UpdateTrackers(id domain.TorrentID, trackers domain.TorrentTrackersUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	// anacrolix can only extend the announce list, never shrink it. A replace
	// request still lands the new tier; the stale tiers age out on their own.
	if len(trackers.Trackers) > 0 {
		e.t.AddTrackers([][]string{trackers.Trackers})
	}
	s.refreshResume(id, e)
	return nil
}

func (s *Session) UpdateWebSeeds(id domain.TorrentID, webSeeds domain.TorrentWebSeedsUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	if len(webSeeds.WebSeeds) > 0 {
		e.t.AddWebSeeds(webSeeds.WebSeeds)
	}
	s.refreshResume(id, e)
	return nil
}

func (s *Session) Reannounce(id domain.TorrentID) error {
	return domain.Unsupported("reannounce")
}

func (s *Session) MoveStorage(id domain.TorrentID, downloadDir string) error {
	return domain.Unsupported("move_torrent")
}

func (s *Session) Recheck(id domain.TorrentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	if !e.haveInfo {
		return fmt.Errorf("torrent %s: metadata not ready", id)
	}
	// Re-verification makes BytesCompleted dip; the peak high-water mark in
	// the progress sampler keeps reported progress monotonic meanwhile.
	e.t.VerifyData()
	return nil
}

func (s *Session) SetPieceDeadline(id domain.TorrentID, fileIndex int, offset int64, deadline time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.torrents[id]
	if !ok {
		return domain.NotFound(id)
	}
	if !e.haveInfo {
		return fmt.Errorf("torrent %s: metadata not ready", id)
	}
	files := e.t.Files()
	if fileIndex < 0 || fileIndex >= len(files) {
		return fmt.Errorf("torrent %s: file index %d out of range", id, fileIndex)
	}
	f := files[fileIndex]
	span, ok := pieceSpan(int64(e.t.Info().PieceLength), f.Offset(), f.Length(), offset, deadlineSpanBytes)
	if !ok {
		return nil
	}
	target := torrent.PiecePriorityNext
	if deadline <= time.Second {
		target = torrent.PiecePriorityNow
	}
	numPieces := e.t.NumPieces()
	for i := span.start; i < span.end && i < numPieces; i++ {
		e.t.Piece(i).SetPriority(target)
	}
	return nil
}

func (s *Session) ApplyConfig(config profile.EngineRuntimeConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if config.DownloadRoot != s.cfg.DownloadRoot {
		s.logger.Warn("download root change requires a restart",
			slog.String("current", s.cfg.DownloadRoot),
			slog.String("requested", config.DownloadRoot),
		)
		config.DownloadRoot = s.cfg.DownloadRoot
	}
	tuneLimiter(s.dlLimiter, config.DownloadRateLimit)
	tuneLimiter(s.ulLimiter, config.UploadRateLimit)
	s.cfg = config
	return nil
}

func (s *Session) Peers(id domain.TorrentID) ([]domain.PeerSnapshot, error) {
	s.mu.Lock()
	e, ok := s.torrents[id]
	s.mu.Unlock()
	if !ok {
		return nil, domain.NotFound(id)
	}
	swarm := e.t.KnownSwarm()
	out := make([]domain.PeerSnapshot, 0, len(swarm))
	for _, p := range swarm {
		if p.Addr == nil {
			continue
		}
		snap := domain.PeerSnapshot{Addr: p.Addr.String()}
		if p.SupportsEncryption {
			snap.Flags = "E"
		}
		out = append(out, snap)
	}
	return out, nil
}

// PollEvents drains watcher-reported events and folds in a progress sample
// for every active torrent with metadata.
func (s *Session) PollEvents() []domain.EngineEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.pending
	s.pending = nil
	now := time.Now().UTC()

	for id, e := range s.torrents {
		if !e.haveInfo || e.paused {
			continue
		}
		progress, rates := sampleProgress(e, now)
		out = append(out, domain.ProgressEvent(id, progress, rates))

		if e.sequential && !e.completed {
			applySequentialWindow(e.t, e.selection, sequentialWindow)
		}
		if !e.completed && progress.BytesTotal > 0 && progress.BytesDone >= progress.BytesTotal {
			e.completed = true
			out = append(out, domain.StateChangedEvent(id, domain.StateSeeding))
			out = append(out, domain.EngineEvent{Kind: domain.EngineCompleted, TorrentID: id})
		}
	}
	return out
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.torrents = make(map[domain.TorrentID]*entry)
	s.pending = nil
	s.mu.Unlock()

	errList := s.client.Close()
	if len(errList) > 0 {
		return errList[0]
	}
	return nil
}

// openTorrent hands the source to the client under a timeout so a busy
// client never wedges the command worker. If the add completes after we gave
// up, the orphaned torrent is dropped.
func (s *Session) openTorrent(src domain.TorrentSource) (*torrent.Torrent, error) {
	type addResult struct {
		t   *torrent.Torrent
		err error
	}
	ch := make(chan addResult, 1)
	go func() {
		var t *torrent.Torrent
		var err error
		switch src.Kind() {
		case domain.SourceMagnet:
			t, err = s.client.AddMagnet(src.Magnet)
		case domain.SourceMetainfo:
			var mi *metainfo.MetaInfo
			mi, err = metainfo.Load(bytes.NewReader(src.Metainfo))
			if err == nil {
				t, err = s.client.AddTorrent(mi)
			}
		default:
			t, err = s.client.AddTorrentFromFile(src.FilePath)
		}
		ch <- addResult{t, err}
	}()

	select {
	case res := <-ch:
		return res.t, res.err
	case <-time.After(addTimeout):
		go func() {
			if res := <-ch; res.t != nil {
				res.t.Drop()
			}
		}()
		return nil, errors.New("torrent client busy, try again later")
	}
}

func (s *Session) emit(ev domain.EngineEvent) {
	s.pending = append(s.pending, ev)
}

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

// hardPause cuts all network activity: data transfer disallowed and every
// peer disconnected by zeroing the connection cap.
func hardPause(t *torrent.Torrent) {
	t.DisallowDataDownload()
	t.DisallowDataUpload()
	t.SetMaxEstablishedConns(0)
}

func resume(t *torrent.Torrent) {
	t.SetMaxEstablishedConns(defaultMaxConns)
	t.AllowDataUpload()
	t.AllowDataDownload()
}

// sampleProgress reads counters off the live torrent and derives rates from
// the previous sample. Negative deltas (counter resets) clamp to zero.
func sampleProgress(e *entry, now time.Time) (domain.TorrentProgress, domain.TorrentRates) {
	length := e.t.Length()
	completed := e.t.BytesCompleted()
	if completed > e.peak {
		e.peak = completed
	} else {
		completed = e.peak
	}

	progress := domain.TorrentProgress{BytesDone: completed, BytesTotal: length}
	if length > 0 {
		progress.Fraction = float64(completed) / float64(length)
	}

	stats := e.t.Stats()
	read := stats.BytesReadUsefulData.Int64()
	written := stats.BytesWrittenData.Int64()
	rates := domain.TorrentRates{Peers: stats.ActivePeers}

	if !e.lastSample.IsZero() {
		if dt := now.Sub(e.lastSample).Seconds(); dt > 0 {
			if d := read - e.lastRead; d > 0 {
				rates.DownloadBps = int64(float64(d) / dt)
			}
			if d := written - e.lastWrite; d > 0 {
				rates.UploadBps = int64(float64(d) / dt)
			}
		}
	}
	e.lastRead = read
	e.lastWrite = written
	e.lastSample = now

	return progress, rates
}

func tuneLimiter(l *rate.Limiter, bps *int64) {
	if bps == nil || *bps <= 0 {
		l.SetLimit(rate.Inf)
		l.SetBurst(0)
		return
	}
	l.SetLimit(rate.Limit(*bps))
	burst := int(*bps)
	if burst < 64<<10 {
		burst = 64 << 10
	}
	l.SetBurst(burst)
}
