package apihttp

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"torrentd/internal/events"
)

const sseKeepAliveInterval = 15 * time.Second

// handleEvents serves the bus as a Server-Sent Events stream. A reconnecting
// client sends Last-Event-ID and resumes from the envelope after it; ids
// older than the bus ring simply replay from the oldest retained envelope.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if s.bus == nil {
		writeError(w, http.StatusNotImplemented, "unsupported", "event stream not configured")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", "streaming unsupported")
		return
	}

	var sub *events.Subscription
	if lastID, ok := sseLastEventID(r); ok {
		sub = s.bus.SubscribeFrom(lastID)
	} else {
		sub = s.bus.Subscribe()
	}
	defer sub.Cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	keepAlive := time.NewTicker(sseKeepAliveInterval)
	defer keepAlive.Stop()

	// Envelope delivery and keep-alives share the connection; Next blocks, so
	// drain it from a goroutine and select here.
	envelopes := make(chan events.Envelope)
	errs := make(chan error, 1)
	drain := func() {
		for {
			env, err := sub.Next(ctx)
			if err != nil {
				errs <- err
				return
			}
			select {
			case envelopes <- env:
			case <-ctx.Done():
				return
			}
		}
	}
	go drain()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-errs:
			var lagged *events.LaggedError
			if errors.As(err, &lagged) {
				// The subscription already resumed past the gap; tell the
				// client and keep streaming.
				fmt.Fprintf(w, ": missed %d events\n\n", lagged.Missed)
				flusher.Flush()
				go drain()
				continue
			}
			return
		case env := <-envelopes:
			if err := writeSSEEvent(w, env); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, env events.Envelope) error {
	data, err := json.Marshal(env.Event)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", env.ID, env.Event.Kind, data)
	return err
}

func sseLastEventID(r *http.Request) (uint64, bool) {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("lastEventId"))
	}
	if raw == "" {
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
