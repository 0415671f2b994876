// Package engine hosts the session bridge: the command worker that owns a
// torrent session backend, the adapter that exposes it as a TorrentEngine,
// and the fast-resume store. Backends live in the stub and native
// subpackages.
package engine

import (
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/domain/ports"
	"torrentd/internal/profile"
)

// Session is the contract a torrent backend implements. Implementations are
// single-owner: only the worker goroutine calls them, so they need no
// internal locking for command handling. Operations a backend does not
// support return domain.UnsupportedError and stay out of its capability set.
//
// PollEvents drains the backend's pending event buffer; the worker calls it
// after every command and on the polling tick.
type Session interface {
	AddTorrent(request domain.AddTorrent) error
	RemoveTorrent(id domain.TorrentID, options domain.RemoveTorrent) error
	PauseTorrent(id domain.TorrentID) error
	ResumeTorrent(id domain.TorrentID) error
	SetSequential(id domain.TorrentID, sequential bool) error
	LoadFastResume(id domain.TorrentID, payload []byte) error
	UpdateLimits(id *domain.TorrentID, limits domain.TorrentRateLimit) error
	UpdateSelection(id domain.TorrentID, rules domain.FileSelectionUpdate) error
	UpdateOptions(id domain.TorrentID, options domain.TorrentOptionsUpdate) error
	UpdateTrackers(id domain.TorrentID, trackers domain.TorrentTrackersUpdate) error
	UpdateWebSeeds(id domain.TorrentID, webSeeds domain.TorrentWebSeedsUpdate) error
	Reannounce(id domain.TorrentID) error
	MoveStorage(id domain.TorrentID, downloadDir string) error
	Recheck(id domain.TorrentID) error
	SetPieceDeadline(id domain.TorrentID, fileIndex int, offset int64, deadline time.Duration) error
	ApplyConfig(config profile.EngineRuntimeConfig) error
	Peers(id domain.TorrentID) ([]domain.PeerSnapshot, error)
	PollEvents() []domain.EngineEvent
	Capabilities() ports.CapabilitySet
	Close() error
}
