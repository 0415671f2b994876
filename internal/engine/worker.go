package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/metrics"
)

// run is the worker loop. It is the sole owner of the session: commands are
// applied one at a time, and backend events are drained after every command
// plus on the polling tick so unsolicited events (metadata arrival, progress,
// completion) surface without traffic.
func (e *Engine) run(ctx context.Context) {
	defer close(e.done)

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-ctx.Done():
			e.flush()
			e.drainCommands()
			if err := e.session.Close(); err != nil {
				e.logger.Warn("session close failed", slog.String("error", err.Error()))
			}
			return
		case cmd := <-e.commands:
			started := time.Now()
			err := cmd.apply(e.session)
			cmd.reply <- err
			metrics.CommandDuration.WithLabelValues(cmd.op).Observe(time.Since(started).Seconds())
			metrics.CommandsTotal.WithLabelValues(cmd.op, commandStatus(err)).Inc()
			healthy = e.trackHealth(healthy, cmd, err)
			e.flush()
		case <-ticker.C:
			e.flush()
		}
	}
}

// drainCommands answers everything still queued when the worker shuts down.
// Without this, a caller waiting on a buffered command with a non-cancellable
// context would block forever.
func (e *Engine) drainCommands() {
	for {
		select {
		case cmd := <-e.commands:
			cmd.reply <- ErrEngineClosed
		default:
			return
		}
	}
}

func commandStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// trackHealth marks the session degraded on infrastructure failures and
// recovered on the next successful command. Domain errors (unknown torrent,
// unsupported operation) say nothing about session health.
func (e *Engine) trackHealth(healthy bool, cmd command, err error) bool {
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrUnsupported) {
			return healthy
		}
		e.logger.Error("engine command failed",
			slog.String("operation", cmd.op),
			slog.String("error", err.Error()),
		)
		if healthy {
			e.bus.Publish(domain.HealthChangedEvent(false, err.Error()))
		}
		return false
	}
	if !healthy {
		e.bus.Publish(domain.HealthChangedEvent(true, "session recovered"))
	}
	return true
}

// flush drains the backend event buffer, persists resume payloads, updates
// the inspector cache, and publishes the translated events.
func (e *Engine) flush() {
	for _, ev := range e.session.PollEvents() {
		metrics.EventsFlushedTotal.WithLabelValues(string(ev.Kind)).Inc()
		if ev.Kind == domain.EngineResumeData {
			e.persistResume(ev)
			continue
		}
		event := translateEvent(ev)
		e.cache.apply(event, time.Now().UTC())
		e.bus.Publish(event)
	}
	metrics.ActiveTorrents.Set(float64(e.cache.len()))
}

// persistResume writes (or clears, for removed torrents) the payload and
// announces the save. The payload itself never crosses the bus; it lives
// only in the store.
func (e *Engine) persistResume(ev domain.EngineEvent) {
	id := ev.TorrentID
	if e.store != nil {
		var err error
		if len(ev.Payload) == 0 {
			err = e.store.Remove(id)
		} else {
			err = e.store.Save(id, ev.Payload)
			if err == nil {
				metrics.ResumeSavesTotal.Inc()
			}
		}
		if err != nil {
			metrics.ResumeSaveErrorsTotal.Inc()
			e.logger.Error("failed to persist fast-resume payload",
				slog.String("torrentId", id.String()),
				slog.String("error", err.Error()),
			)
			return
		}
	}
	e.bus.Publish(domain.Event{Kind: domain.EventResumeSaved, TorrentID: &id})
}

var engineEventKinds = map[domain.EngineEventKind]domain.EventKind{
	domain.EngineTorrentAdded:    domain.EventTorrentAdded,
	domain.EngineMetadataUpdated: domain.EventMetadataUpdated,
	domain.EngineFilesDiscovered: domain.EventFilesDiscovered,
	domain.EngineStateChanged:    domain.EventStateChanged,
	domain.EngineProgress:        domain.EventProgress,
	domain.EngineCompleted:       domain.EventCompleted,
	domain.EngineTorrentRemoved:  domain.EventTorrentRemoved,
	domain.EngineTrackerWarning:  domain.EventTrackerWarning,
}

func translateEvent(ev domain.EngineEvent) domain.Event {
	kind, ok := engineEventKinds[ev.Kind]
	if !ok {
		kind = domain.EventKind(ev.Kind)
	}
	id := ev.TorrentID
	out := domain.Event{
		Kind:        kind,
		TorrentID:   &id,
		State:       ev.State,
		Message:     ev.Message,
		Name:        ev.Name,
		DownloadDir: ev.DownloadDir,
		Files:       ev.Files,
		Progress:    ev.Progress,
		Rates:       ev.Rates,
	}
	switch ev.Kind {
	case domain.EngineDegraded:
		healthy := false
		out.Kind = domain.EventHealthChanged
		out.Healthy = &healthy
		out.TorrentID = nil
	case domain.EngineRecovered:
		healthy := true
		out.Kind = domain.EventHealthChanged
		out.Healthy = &healthy
		out.TorrentID = nil
	}
	return out
}
