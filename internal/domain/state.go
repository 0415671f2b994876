package domain

import "errors"

// TorrentState is the lifecycle state of a torrent as reported by the engine.
type TorrentState string

const (
	StateQueued           TorrentState = "queued"
	StateFetchingMetadata TorrentState = "fetching_metadata"
	StateDownloading      TorrentState = "downloading"
	StateSeeding          TorrentState = "seeding"
	StateCompleted        TorrentState = "completed"
	StateFailed           TorrentState = "failed"
	StateStopped          TorrentState = "stopped"
)

var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines the adjacency list of allowed lifecycle moves.
// Failed and Stopped are reachable from everywhere; Stopped can come back via
// resume, Failed only via a recheck or re-add.
var validTransitions = map[TorrentState][]TorrentState{
	StateQueued:           {StateFetchingMetadata, StateDownloading, StateStopped, StateFailed},
	StateFetchingMetadata: {StateDownloading, StateStopped, StateFailed},
	StateDownloading:      {StateSeeding, StateCompleted, StateStopped, StateFailed},
	StateSeeding:          {StateCompleted, StateStopped, StateFailed},
	StateCompleted:        {StateSeeding, StateStopped},
	StateStopped:          {StateQueued, StateFetchingMetadata, StateDownloading, StateFailed},
	StateFailed:           {StateQueued, StateDownloading, StateStopped},
}

// CanTransition reports whether moving from one state to another is valid.
func CanTransition(from, to TorrentState) bool {
	if from == to {
		return true
	}
	for _, t := range validTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the state ends the torrent's active lifecycle.
func (s TorrentState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateStopped
}

// Active reports whether the engine is doing work for the torrent.
func (s TorrentState) Active() bool {
	switch s {
	case StateFetchingMetadata, StateDownloading, StateSeeding:
		return true
	default:
		return false
	}
}
