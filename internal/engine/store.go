package engine

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"torrentd/internal/domain"
)

const resumeSuffix = ".resume"

// ResumeStore persists fast-resume payloads, one file per torrent, under a
// dedicated directory. Payloads are opaque blobs owned by the backends.
type ResumeStore struct {
	dir string
}

// NewResumeStore creates a store rooted at dir. The directory is created
// lazily by EnsureInitialized.
func NewResumeStore(dir string) *ResumeStore {
	return &ResumeStore{dir: dir}
}

// Dir returns the store root.
func (s *ResumeStore) Dir() string { return s.dir }

// EnsureInitialized creates the store directory if needed.
func (s *ResumeStore) EnsureInitialized() error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create resume dir %s: %w", s.dir, err)
	}
	return nil
}

// Save writes the payload for a torrent. The write goes through a temp file
// and rename so a crash never leaves a truncated payload behind.
func (s *ResumeStore) Save(id domain.TorrentID, payload []byte) error {
	if err := s.EnsureInitialized(); err != nil {
		return err
	}
	target := s.path(id)
	tmp, err := os.CreateTemp(s.dir, "resume-*")
	if err != nil {
		return fmt.Errorf("create temp resume file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write resume payload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close resume payload: %w", err)
	}
	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("store resume payload: %w", err)
	}
	return nil
}

// Load reads the payload for a torrent. A missing payload reports
// domain.ErrNotFound.
func (s *ResumeStore) Load(id domain.TorrentID) ([]byte, error) {
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, domain.NotFound(id)
	}
	if err != nil {
		return nil, fmt.Errorf("read resume payload: %w", err)
	}
	return data, nil
}

// LoadAll returns every stored payload keyed by torrent id. Files whose
// names do not parse as torrent ids are skipped.
func (s *ResumeStore) LoadAll() (map[domain.TorrentID][]byte, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list resume dir: %w", err)
	}
	out := make(map[domain.TorrentID][]byte)
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, resumeSuffix) {
			continue
		}
		id, err := uuid.Parse(strings.TrimSuffix(name, resumeSuffix))
		if err != nil {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name))
		if err != nil {
			return nil, fmt.Errorf("read resume payload %s: %w", name, err)
		}
		out[id] = data
	}
	return out, nil
}

// Remove deletes the payload for a torrent. Removing an absent payload is
// not an error.
func (s *ResumeStore) Remove(id domain.TorrentID) error {
	err := os.Remove(s.path(id))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove resume payload: %w", err)
	}
	return nil
}

func (s *ResumeStore) path(id domain.TorrentID) string {
	return filepath.Join(s.dir, id.String()+resumeSuffix)
}
