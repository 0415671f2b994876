package domain

import "time"

// TorrentFile describes one file inside a torrent.
type TorrentFile struct {
	Index    int          `json:"index"`
	Path     string       `json:"path"`
	Size     int64        `json:"size"`
	Priority FilePriority `json:"priority"`
	Selected bool         `json:"selected"`
}

// TorrentProgress is a byte-level progress snapshot.
type TorrentProgress struct {
	BytesDone  int64   `json:"bytesDone"`
	BytesTotal int64   `json:"bytesTotal"`
	Fraction   float64 `json:"fraction"`
}

// TorrentRates is an instantaneous transfer-rate sample.
type TorrentRates struct {
	DownloadBps int64 `json:"downloadBps"`
	UploadBps   int64 `json:"uploadBps"`
	Peers       int   `json:"peers"`
}

// TorrentStatus is the read-model snapshot served by inspectors.
type TorrentStatus struct {
	ID          TorrentID       `json:"id"`
	Name        string          `json:"name,omitempty"`
	State       TorrentState    `json:"state"`
	Message     string          `json:"message,omitempty"`
	DownloadDir string          `json:"downloadDir,omitempty"`
	Sequential  bool            `json:"sequential,omitempty"`
	Files       []TorrentFile   `json:"files,omitempty"`
	Progress    TorrentProgress `json:"progress"`
	Rates       TorrentRates    `json:"rates"`
	AddedAt     time.Time       `json:"addedAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

// PeerSnapshot describes one connected peer at inspection time.
type PeerSnapshot struct {
	Addr     string  `json:"addr"`
	Client   string  `json:"client,omitempty"`
	DownBps  int64   `json:"downBps"`
	UpBps    int64   `json:"upBps"`
	Progress float64 `json:"progress"`
	Flags    string  `json:"flags,omitempty"`
}
