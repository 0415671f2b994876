package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"torrentd/internal/domain"
)

// statusCache is the read model the inspector serves. The worker goroutine
// writes it while translating events; readers take the RWMutex, never the
// session.
type statusCache struct {
	mu       sync.RWMutex
	torrents map[domain.TorrentID]domain.TorrentStatus
}

func newStatusCache() *statusCache {
	return &statusCache{torrents: make(map[domain.TorrentID]domain.TorrentStatus)}
}

func (c *statusCache) apply(event domain.Event, now time.Time) {
	if event.TorrentID == nil {
		return
	}
	id := *event.TorrentID

	c.mu.Lock()
	defer c.mu.Unlock()

	if event.Kind == domain.EventTorrentRemoved {
		delete(c.torrents, id)
		return
	}

	status, ok := c.torrents[id]
	if !ok {
		status = domain.TorrentStatus{ID: id, State: domain.StateQueued, AddedAt: now}
	}
	status.UpdatedAt = now

	switch event.Kind {
	case domain.EventStateChanged:
		status.State = event.State
		status.Message = event.Message
	case domain.EventMetadataUpdated:
		if event.Name != "" {
			status.Name = event.Name
		}
		if event.DownloadDir != "" {
			status.DownloadDir = event.DownloadDir
		}
	case domain.EventFilesDiscovered:
		status.Files = event.Files
	case domain.EventProgress:
		if event.Progress != nil {
			status.Progress = *event.Progress
		}
		if event.Rates != nil {
			status.Rates = *event.Rates
		}
	case domain.EventCompleted:
		status.State = domain.StateCompleted
		status.Progress.Fraction = 1
	}

	c.torrents[id] = status
}

func (c *statusCache) list() []domain.TorrentStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.TorrentStatus, 0, len(c.torrents))
	for _, status := range c.torrents {
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AddedAt.Equal(out[j].AddedAt) {
			return out[i].ID.String() < out[j].ID.String()
		}
		return out[i].AddedAt.Before(out[j].AddedAt)
	})
	return out
}

func (c *statusCache) get(id domain.TorrentID) (domain.TorrentStatus, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	status, ok := c.torrents[id]
	return status, ok
}

func (c *statusCache) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.torrents)
}

// Inspector is the read-only view over engine state, implementing
// ports.TorrentInspector. List and Get serve from the event-built cache;
// Peers queries the backend through the command channel.
type Inspector struct {
	engine *Engine
}

func (i *Inspector) ListTorrents(_ context.Context) ([]domain.TorrentStatus, error) {
	return i.engine.cache.list(), nil
}

func (i *Inspector) GetTorrent(_ context.Context, id domain.TorrentID) (domain.TorrentStatus, error) {
	status, ok := i.engine.cache.get(id)
	if !ok {
		return domain.TorrentStatus{}, domain.NotFound(id)
	}
	return status, nil
}

func (i *Inspector) Peers(ctx context.Context, id domain.TorrentID) ([]domain.PeerSnapshot, error) {
	return i.engine.peers(ctx, id)
}
