package engine

import (
	"encoding/json"

	"torrentd/internal/domain"
)

// ResumePayload is the snapshot a backend serializes into fast-resume data.
// Consumers outside the bridge treat the encoded form as opaque bytes; only
// backends decode it, and both backends produce the same shape so torrents
// restore across backend switches.
type ResumePayload struct {
	Source      domain.TorrentSource      `json:"source,omitempty"`
	Selection   domain.FileSelectionRules `json:"selection"`
	Priorities  []domain.FilePriorityRule `json:"priorities"`
	RateLimit   domain.TorrentRateLimit   `json:"rate_limit"`
	Sequential  bool                      `json:"sequential"`
	DownloadDir string                    `json:"download_dir"`
}

// Encode serializes the payload. The shape is JSON-stable but callers must
// not rely on it.
func (p ResumePayload) Encode() []byte {
	data, err := json.Marshal(p)
	if err != nil {
		return nil
	}
	return data
}

// DecodeResumePayload parses an opaque fast-resume blob produced by Encode.
func DecodeResumePayload(data []byte) (ResumePayload, error) {
	var p ResumePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ResumePayload{}, err
	}
	return p, nil
}
