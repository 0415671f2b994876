// Package usecase hosts the orchestration layer between the transport
// surfaces and the engine contract.
package usecase

import (
	"context"
	"log/slog"
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
)

// Workflow is the facade callers drive torrents through. It delegates to the
// engine and adds the orchestration concerns the engine should not know
// about: structured logging per operation and a place to hang future policy
// (admission checks, quotas). Implements ports.TorrentWorkflow.
type Workflow struct {
	Engine ports.TorrentEngine
	Logger *slog.Logger
}

// NewWorkflow builds a workflow over the given engine.
func NewWorkflow(engine ports.TorrentEngine, logger *slog.Logger) *Workflow {
	if logger == nil {
		logger = slog.Default()
	}
	return &Workflow{Engine: engine, Logger: logger}
}

func (w *Workflow) exec(op string, id *domain.TorrentID, err error) error {
	attrs := []any{slog.String("operation", op)}
	if id != nil {
		attrs = append(attrs, slog.String("torrentId", id.String()))
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
		w.Logger.Error("torrent operation failed", attrs...)
		return err
	}
	w.Logger.Debug("torrent operation accepted", attrs...)
	return nil
}

func (w *Workflow) AddTorrent(ctx context.Context, request domain.AddTorrent) error {
	w.Logger.Info("adding torrent",
		slog.String("torrentId", request.ID.String()),
		slog.String("source", string(request.Source.Kind())),
		slog.String("nameHint", request.Options.NameHint),
	)
	return w.exec("add_torrent", &request.ID, w.Engine.AddTorrent(ctx, request))
}

func (w *Workflow) RemoveTorrent(ctx context.Context, id domain.TorrentID, options domain.RemoveTorrent) error {
	w.Logger.Info("removing torrent",
		slog.String("torrentId", id.String()),
		slog.Bool("withData", options.WithData),
	)
	return w.exec("remove_torrent", &id, w.Engine.RemoveTorrent(ctx, id, options))
}

func (w *Workflow) PauseTorrent(ctx context.Context, id domain.TorrentID) error {
	return w.exec("pause_torrent", &id, w.Engine.PauseTorrent(ctx, id))
}

func (w *Workflow) ResumeTorrent(ctx context.Context, id domain.TorrentID) error {
	return w.exec("resume_torrent", &id, w.Engine.ResumeTorrent(ctx, id))
}

func (w *Workflow) SetSequential(ctx context.Context, id domain.TorrentID, sequential bool) error {
	return w.exec("set_sequential", &id, w.Engine.SetSequential(ctx, id, sequential))
}

func (w *Workflow) UpdateLimits(ctx context.Context, id *domain.TorrentID, limits domain.TorrentRateLimit) error {
	return w.exec("update_limits", id, w.Engine.UpdateLimits(ctx, id, limits))
}

func (w *Workflow) UpdateSelection(ctx context.Context, id domain.TorrentID, rules domain.FileSelectionUpdate) error {
	return w.exec("update_selection", &id, w.Engine.UpdateSelection(ctx, id, rules))
}

func (w *Workflow) UpdateOptions(ctx context.Context, id domain.TorrentID, options domain.TorrentOptionsUpdate) error {
	return w.exec("update_options", &id, w.Engine.UpdateOptions(ctx, id, options))
}

func (w *Workflow) UpdateTrackers(ctx context.Context, id domain.TorrentID, trackers domain.TorrentTrackersUpdate) error {
	return w.exec("update_trackers", &id, w.Engine.UpdateTrackers(ctx, id, trackers))
}

func (w *Workflow) UpdateWebSeeds(ctx context.Context, id domain.TorrentID, webSeeds domain.TorrentWebSeedsUpdate) error {
	return w.exec("update_web_seeds", &id, w.Engine.UpdateWebSeeds(ctx, id, webSeeds))
}

func (w *Workflow) Reannounce(ctx context.Context, id domain.TorrentID) error {
	return w.exec("reannounce", &id, w.Engine.Reannounce(ctx, id))
}

func (w *Workflow) MoveTorrent(ctx context.Context, id domain.TorrentID, downloadDir string) error {
	w.Logger.Info("moving torrent storage",
		slog.String("torrentId", id.String()),
		slog.String("downloadDir", downloadDir),
	)
	return w.exec("move_torrent", &id, w.Engine.MoveTorrent(ctx, id, downloadDir))
}

func (w *Workflow) Recheck(ctx context.Context, id domain.TorrentID) error {
	return w.exec("recheck", &id, w.Engine.Recheck(ctx, id))
}

func (w *Workflow) SetPieceDeadline(ctx context.Context, id domain.TorrentID, fileIndex int, offset int64, deadline time.Duration) error {
	return w.exec("set_piece_deadline", &id, w.Engine.SetPieceDeadline(ctx, id, fileIndex, offset, deadline))
}

func (w *Workflow) Capabilities() ports.CapabilitySet {
	return w.Engine.Capabilities()
}
