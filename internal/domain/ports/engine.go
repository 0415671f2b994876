package ports

import (
	"context"
	"time"

	"torrentd/internal/domain"
)

// TorrentEngine is the mutating contract between the orchestration layer and
// a torrent backend. AddTorrent and RemoveTorrent are required; everything
// else is optional and a backend that lacks an operation returns
// domain.UnsupportedError naming it. Capabilities lets callers discover
// support without issuing a failing call.
type TorrentEngine interface {
	AddTorrent(ctx context.Context, request domain.AddTorrent) error
	RemoveTorrent(ctx context.Context, id domain.TorrentID, options domain.RemoveTorrent) error

	PauseTorrent(ctx context.Context, id domain.TorrentID) error
	ResumeTorrent(ctx context.Context, id domain.TorrentID) error
	SetSequential(ctx context.Context, id domain.TorrentID, sequential bool) error
	// UpdateLimits applies rate limits to one torrent, or session-wide when
	// id is nil.
	UpdateLimits(ctx context.Context, id *domain.TorrentID, limits domain.TorrentRateLimit) error
	UpdateSelection(ctx context.Context, id domain.TorrentID, rules domain.FileSelectionUpdate) error
	UpdateOptions(ctx context.Context, id domain.TorrentID, options domain.TorrentOptionsUpdate) error
	UpdateTrackers(ctx context.Context, id domain.TorrentID, trackers domain.TorrentTrackersUpdate) error
	UpdateWebSeeds(ctx context.Context, id domain.TorrentID, webSeeds domain.TorrentWebSeedsUpdate) error
	Reannounce(ctx context.Context, id domain.TorrentID) error
	MoveTorrent(ctx context.Context, id domain.TorrentID, downloadDir string) error
	Recheck(ctx context.Context, id domain.TorrentID) error
	// SetPieceDeadline prioritizes the piece covering the given file offset
	// so it completes within the deadline. Streaming readers use this.
	SetPieceDeadline(ctx context.Context, id domain.TorrentID, fileIndex int, offset int64, deadline time.Duration) error

	Capabilities() CapabilitySet
}

// TorrentWorkflow is the surface the orchestration facade exposes upward.
// It mirrors the engine contract; implementations add policy (logging,
// admission checks) around an underlying engine.
type TorrentWorkflow interface {
	TorrentEngine
}

// TorrentInspector is the read-only view over engine state.
type TorrentInspector interface {
	ListTorrents(ctx context.Context) ([]domain.TorrentStatus, error)
	GetTorrent(ctx context.Context, id domain.TorrentID) (domain.TorrentStatus, error)
	Peers(ctx context.Context, id domain.TorrentID) ([]domain.PeerSnapshot, error)
}
