package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
	"torrentd/internal/events"
	"torrentd/internal/profile"
)

// DefaultPollInterval is the cadence at which the worker drains backend
// events when no commands arrive.
const DefaultPollInterval = 200 * time.Millisecond

const commandBuffer = 128

var ErrEngineClosed = errors.New("engine closed")

// command carries one operation to the worker. apply runs on the worker
// goroutine, which is the only code allowed to touch the session; reply is
// buffered so the worker never blocks on a caller that gave up.
type command struct {
	op      string
	torrent *domain.TorrentID
	apply   func(Session) error
	reply   chan error
}

// Engine owns a session backend through a dedicated worker goroutine and
// exposes it as a ports.TorrentEngine. Commands are serialized over a
// channel; events drained from the backend are translated, persisted, and
// published on the bus. Engine methods are safe for concurrent use.
type Engine struct {
	session      Session
	bus          *events.Bus
	store        *ResumeStore
	logger       *slog.Logger
	pollInterval time.Duration
	commands     chan command
	caps         ports.CapabilitySet
	cache        *statusCache

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// Option tunes engine construction.
type Option func(*Engine)

// WithResumeStore persists fast-resume payloads and restores them into the
// backend at startup.
func WithResumeStore(store *ResumeStore) Option {
	return func(e *Engine) { e.store = store }
}

// WithPollInterval overrides the event polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// New starts the worker that owns the given session and returns the engine
// facade. The caller must Close the engine to release the session.
func New(bus *events.Bus, session Session, opts ...Option) (*Engine, error) {
	e := &Engine{
		session:      session,
		bus:          bus,
		logger:       slog.Default(),
		pollInterval: DefaultPollInterval,
		commands:     make(chan command, commandBuffer),
		caps:         session.Capabilities(),
		cache:        newStatusCache(),
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.store != nil {
		if err := e.store.EnsureInitialized(); err != nil {
			return nil, err
		}
		if err := e.restore(); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	go e.run(ctx)
	return e, nil
}

// restore feeds persisted fast-resume payloads back into the backend before
// the worker starts, so restored torrents exist ahead of the first command.
func (e *Engine) restore() error {
	payloads, err := e.store.LoadAll()
	if err != nil {
		return err
	}
	for id, payload := range payloads {
		if err := e.session.LoadFastResume(id, payload); err != nil {
			e.logger.Warn("failed to restore torrent from fast-resume",
				slog.String("torrentId", id.String()),
				slog.String("error", err.Error()),
			)
			continue
		}
	}
	if len(payloads) > 0 {
		e.logger.Info("restored torrents from fast-resume store",
			slog.Int("count", len(payloads)),
		)
	}
	return nil
}

// Close stops the worker, drains remaining backend events, and closes the
// session.
func (e *Engine) Close() error {
	e.closeOnce.Do(e.cancel)
	<-e.done
	return nil
}

// Capabilities reports what the wrapped backend supports. Computed at
// construction; never changes over the engine's lifetime.
func (e *Engine) Capabilities() ports.CapabilitySet { return e.caps }

// Inspector returns the read-only view over the engine's torrent state.
func (e *Engine) Inspector() *Inspector { return &Inspector{engine: e} }

func (e *Engine) submit(ctx context.Context, op string, id *domain.TorrentID, apply func(Session) error) error {
	cmd := command{op: op, torrent: id, apply: apply, reply: make(chan error, 1)}
	select {
	case e.commands <- cmd:
	case <-e.done:
		return ErrEngineClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return mapCommandError(op, id, err)
	case <-e.done:
		// A command can slip into the buffer after the worker's final drain.
		// Prefer a reply that raced with shutdown; otherwise the command will
		// never run.
		select {
		case err := <-cmd.reply:
			return mapCommandError(op, id, err)
		default:
			return ErrEngineClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func mapCommandError(op string, id *domain.TorrentID, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrEngineClosed) {
		return ErrEngineClosed
	}
	if errors.Is(err, domain.ErrUnsupported) || errors.Is(err, domain.ErrNotFound) {
		return err
	}
	return domain.OperationFailed(op, id, err)
}

func (e *Engine) AddTorrent(ctx context.Context, request domain.AddTorrent) error {
	if err := request.Validate(); err != nil {
		return domain.OperationFailed("add_torrent", nil, err)
	}
	return e.submit(ctx, "add_torrent", &request.ID, func(s Session) error {
		return s.AddTorrent(request)
	})
}

func (e *Engine) RemoveTorrent(ctx context.Context, id domain.TorrentID, options domain.RemoveTorrent) error {
	return e.submit(ctx, "remove_torrent", &id, func(s Session) error {
		return s.RemoveTorrent(id, options)
	})
}

func (e *Engine) PauseTorrent(ctx context.Context, id domain.TorrentID) error {
	return e.submit(ctx, "pause_torrent", &id, func(s Session) error {
		return s.PauseTorrent(id)
	})
}

func (e *Engine) ResumeTorrent(ctx context.Context, id domain.TorrentID) error {
	return e.submit(ctx, "resume_torrent", &id, func(s Session) error {
		return s.ResumeTorrent(id)
	})
}

func (e *Engine) SetSequential(ctx context.Context, id domain.TorrentID, sequential bool) error {
	return e.submit(ctx, "set_sequential", &id, func(s Session) error {
		return s.SetSequential(id, sequential)
	})
}

func (e *Engine) UpdateLimits(ctx context.Context, id *domain.TorrentID, limits domain.TorrentRateLimit) error {
	return e.submit(ctx, "update_limits", id, func(s Session) error {
		return s.UpdateLimits(id, limits)
	})
}

func (e *Engine) UpdateSelection(ctx context.Context, id domain.TorrentID, rules domain.FileSelectionUpdate) error {
	return e.submit(ctx, "update_selection", &id, func(s Session) error {
		return s.UpdateSelection(id, rules)
	})
}

func (e *Engine) UpdateOptions(ctx context.Context, id domain.TorrentID, options domain.TorrentOptionsUpdate) error {
	return e.submit(ctx, "update_options", &id, func(s Session) error {
		return s.UpdateOptions(id, options)
	})
}

func (e *Engine) UpdateTrackers(ctx context.Context, id domain.TorrentID, trackers domain.TorrentTrackersUpdate) error {
	return e.submit(ctx, "update_trackers", &id, func(s Session) error {
		return s.UpdateTrackers(id, trackers)
	})
}

func (e *Engine) UpdateWebSeeds(ctx context.Context, id domain.TorrentID, webSeeds domain.TorrentWebSeedsUpdate) error {
	return e.submit(ctx, "update_web_seeds", &id, func(s Session) error {
		return s.UpdateWebSeeds(id, webSeeds)
	})
}

func (e *Engine) Reannounce(ctx context.Context, id domain.TorrentID) error {
	return e.submit(ctx, "reannounce", &id, func(s Session) error {
		return s.Reannounce(id)
	})
}

func (e *Engine) MoveTorrent(ctx context.Context, id domain.TorrentID, downloadDir string) error {
	return e.submit(ctx, "move_torrent", &id, func(s Session) error {
		return s.MoveStorage(id, downloadDir)
	})
}

func (e *Engine) Recheck(ctx context.Context, id domain.TorrentID) error {
	return e.submit(ctx, "recheck", &id, func(s Session) error {
		return s.Recheck(id)
	})
}

func (e *Engine) SetPieceDeadline(ctx context.Context, id domain.TorrentID, fileIndex int, offset int64, deadline time.Duration) error {
	return e.submit(ctx, "set_piece_deadline", &id, func(s Session) error {
		return s.SetPieceDeadline(id, fileIndex, offset, deadline)
	})
}

// ApplyRuntimeConfig hands a planned runtime configuration to the backend
// and announces the change on the bus.
func (e *Engine) ApplyRuntimeConfig(ctx context.Context, config profile.EngineRuntimeConfig) error {
	err := e.submit(ctx, "apply_config", nil, func(s Session) error {
		return s.ApplyConfig(config)
	})
	if err != nil {
		return err
	}
	e.bus.Publish(domain.SettingsChangedEvent())
	return nil
}

func (e *Engine) peers(ctx context.Context, id domain.TorrentID) ([]domain.PeerSnapshot, error) {
	var snapshots []domain.PeerSnapshot
	err := e.submit(ctx, "peers", &id, func(s Session) error {
		var err error
		snapshots, err = s.Peers(id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return snapshots, nil
}
