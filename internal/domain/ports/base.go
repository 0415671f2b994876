package ports

import (
	"context"
	"time"

	"torrentd/internal/domain"
)

// BaseEngine provides the optional half of TorrentEngine: every method
// returns domain.UnsupportedError naming the operation, and Capabilities
// reports the empty set. Backends embed it and override what they support;
// the required AddTorrent/RemoveTorrent are deliberately absent so an
// embedding type cannot forget them.
type BaseEngine struct{}

func (BaseEngine) PauseTorrent(context.Context, domain.TorrentID) error {
	return domain.Unsupported("pause_torrent")
}

func (BaseEngine) ResumeTorrent(context.Context, domain.TorrentID) error {
	return domain.Unsupported("resume_torrent")
}

func (BaseEngine) SetSequential(context.Context, domain.TorrentID, bool) error {
	return domain.Unsupported("set_sequential")
}

func (BaseEngine) UpdateLimits(context.Context, *domain.TorrentID, domain.TorrentRateLimit) error {
	return domain.Unsupported("update_limits")
}

func (BaseEngine) UpdateSelection(context.Context, domain.TorrentID, domain.FileSelectionUpdate) error {
	return domain.Unsupported("update_selection")
}

func (BaseEngine) UpdateOptions(context.Context, domain.TorrentID, domain.TorrentOptionsUpdate) error {
	return domain.Unsupported("update_options")
}

func (BaseEngine) UpdateTrackers(context.Context, domain.TorrentID, domain.TorrentTrackersUpdate) error {
	return domain.Unsupported("update_trackers")
}

func (BaseEngine) UpdateWebSeeds(context.Context, domain.TorrentID, domain.TorrentWebSeedsUpdate) error {
	return domain.Unsupported("update_web_seeds")
}

func (BaseEngine) Reannounce(context.Context, domain.TorrentID) error {
	return domain.Unsupported("reannounce")
}

func (BaseEngine) MoveTorrent(context.Context, domain.TorrentID, string) error {
	return domain.Unsupported("move_torrent")
}

func (BaseEngine) Recheck(context.Context, domain.TorrentID) error {
	return domain.Unsupported("recheck")
}

func (BaseEngine) SetPieceDeadline(context.Context, domain.TorrentID, int, int64, time.Duration) error {
	return domain.Unsupported("set_piece_deadline")
}

func (BaseEngine) Capabilities() CapabilitySet { return 0 }
