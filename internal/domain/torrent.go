package domain

import (
	"errors"
	"strings"

	"github.com/google/uuid"
)

// TorrentID identifies a torrent across the whole system. IDs are minted by
// the caller (usually the API layer) before admission, so every event about a
// torrent carries the same id from the first announcement on.
type TorrentID = uuid.UUID

// SourceKind discriminates the admission payload of a torrent.
type SourceKind string

const (
	SourceMagnet   SourceKind = "magnet"
	SourceMetainfo SourceKind = "metainfo"
	SourceFilePath SourceKind = "file_path"
)

// TorrentSource is exactly one of a magnet URI, raw metainfo bytes, or a path
// to a .torrent file on local disk.
type TorrentSource struct {
	Magnet   string `json:"magnet,omitempty"`
	Metainfo []byte `json:"metainfo,omitempty"`
	FilePath string `json:"filePath,omitempty"`
}

func MagnetSource(uri string) TorrentSource    { return TorrentSource{Magnet: uri} }
func MetainfoSource(raw []byte) TorrentSource  { return TorrentSource{Metainfo: raw} }
func FilePathSource(path string) TorrentSource { return TorrentSource{FilePath: path} }

// Kind reports which variant is populated.
func (s TorrentSource) Kind() SourceKind {
	switch {
	case s.Magnet != "":
		return SourceMagnet
	case len(s.Metainfo) > 0:
		return SourceMetainfo
	default:
		return SourceFilePath
	}
}

var ErrEmptySource = errors.New("torrent source is empty")

// Validate rejects sources that populate zero or multiple variants.
func (s TorrentSource) Validate() error {
	n := 0
	if strings.TrimSpace(s.Magnet) != "" {
		n++
	}
	if len(s.Metainfo) > 0 {
		n++
	}
	if strings.TrimSpace(s.FilePath) != "" {
		n++
	}
	switch n {
	case 0:
		return ErrEmptySource
	case 1:
		return nil
	default:
		return errors.New("torrent source must have exactly one variant")
	}
}

// FilePriority expresses per-file download priority within a torrent.
type FilePriority string

const (
	FilePrioritySkip   FilePriority = "skip"
	FilePriorityLow    FilePriority = "low"
	FilePriorityNormal FilePriority = "normal"
	FilePriorityHigh   FilePriority = "high"
)

// FilePriorityRule binds a path glob to a priority.
type FilePriorityRule struct {
	Glob     string       `json:"glob"`
	Priority FilePriority `json:"priority"`
}

// FileSelectionRules controls which files inside a torrent are downloaded.
// Include/Exclude hold path globs; exclusion wins over inclusion. SkipFluff
// drops the usual junk files (samples, screenshots, .nfo and friends).
type FileSelectionRules struct {
	Include    []string           `json:"include,omitempty"`
	Exclude    []string           `json:"exclude,omitempty"`
	SkipFluff  bool               `json:"skipFluff,omitempty"`
	Priorities []FilePriorityRule `json:"priorities,omitempty"`
}

// FileSelectionUpdate patches selection rules after admission. Nil fields are
// left untouched.
type FileSelectionUpdate struct {
	Include    *[]string           `json:"include,omitempty"`
	Exclude    *[]string           `json:"exclude,omitempty"`
	SkipFluff  *bool               `json:"skipFluff,omitempty"`
	Priorities *[]FilePriorityRule `json:"priorities,omitempty"`
}

// Apply folds the update into a copy of the given rules.
func (u FileSelectionUpdate) Apply(rules FileSelectionRules) FileSelectionRules {
	out := rules
	if u.Include != nil {
		out.Include = append([]string(nil), (*u.Include)...)
	}
	if u.Exclude != nil {
		out.Exclude = append([]string(nil), (*u.Exclude)...)
	}
	if u.SkipFluff != nil {
		out.SkipFluff = *u.SkipFluff
	}
	if u.Priorities != nil {
		out.Priorities = append([]FilePriorityRule(nil), (*u.Priorities)...)
	}
	return out
}

// TorrentRateLimit carries transfer caps in bytes per second. Nil means
// unlimited in that direction.
type TorrentRateLimit struct {
	DownloadBps *int64 `json:"downloadBps,omitempty"`
	UploadBps   *int64 `json:"uploadBps,omitempty"`
}

// AddTorrentOptions tunes admission behavior. The zero value admits with
// engine defaults.
type AddTorrentOptions struct {
	NameHint         string             `json:"nameHint,omitempty"`
	DownloadDir      string             `json:"downloadDir,omitempty"`
	Sequential       bool               `json:"sequential,omitempty"`
	Trackers         []string           `json:"trackers,omitempty"`
	ReplaceTrackers  bool               `json:"replaceTrackers,omitempty"`
	WebSeeds         []string           `json:"webSeeds,omitempty"`
	ReplaceWebSeeds  bool               `json:"replaceWebSeeds,omitempty"`
	FileRules        FileSelectionRules `json:"fileRules,omitempty"`
	StartPaused      bool               `json:"startPaused,omitempty"`
	SeedMode         bool               `json:"seedMode,omitempty"`
	RateLimit        TorrentRateLimit   `json:"rateLimit,omitempty"`
	ConnectionsLimit *int               `json:"connectionsLimit,omitempty"`
	Tags             []string           `json:"tags,omitempty"`
}

// AddTorrent is the admission command.
type AddTorrent struct {
	ID      TorrentID         `json:"id"`
	Source  TorrentSource     `json:"source"`
	Options AddTorrentOptions `json:"options"`
}

// Validate checks the request is well formed enough to hand to a backend.
func (a AddTorrent) Validate() error {
	if a.ID == uuid.Nil {
		return errors.New("torrent id is required")
	}
	return a.Source.Validate()
}

// RemoveTorrent controls removal behavior.
type RemoveTorrent struct {
	// WithData also deletes downloaded payload from disk.
	WithData bool `json:"withData"`
}

// TorrentOptionsUpdate patches per-torrent options after admission. Nil
// fields are left untouched.
type TorrentOptionsUpdate struct {
	Sequential       *bool             `json:"sequential,omitempty"`
	RateLimit        *TorrentRateLimit `json:"rateLimit,omitempty"`
	ConnectionsLimit *int              `json:"connectionsLimit,omitempty"`
	Tags             *[]string         `json:"tags,omitempty"`
}

// TorrentTrackersUpdate replaces or extends the tracker list of a torrent.
type TorrentTrackersUpdate struct {
	Trackers []string `json:"trackers"`
	Replace  bool     `json:"replace"`
}

// TorrentWebSeedsUpdate replaces or extends the web seed list of a torrent.
type TorrentWebSeedsUpdate struct {
	WebSeeds []string `json:"webSeeds"`
	Replace  bool     `json:"replace"`
}
