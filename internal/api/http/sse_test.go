package apihttp

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"torrentd/internal/domain"
	"torrentd/internal/events"
)

// sseFrame is one parsed server-sent event.
type sseFrame struct {
	id    string
	event string
	data  string
}

// readSSEFrame reads lines until a blank line terminates the frame. Comment
// lines are skipped.
func readSSEFrame(t *testing.T, reader *bufio.Reader) sseFrame {
	t.Helper()
	var frame sseFrame
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read sse stream: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			if frame.id != "" || frame.event != "" || frame.data != "" {
				return frame
			}
		case strings.HasPrefix(line, ":"):
			// keep-alive or lag comment
		case strings.HasPrefix(line, "id: "):
			frame.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "event: "):
			frame.event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			frame.data = strings.TrimPrefix(line, "data: ")
		}
	}
}

func openSSE(t *testing.T, srv *httptest.Server, lastEventID string) (*http.Response, *bufio.Reader, context.CancelFunc) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	if err != nil {
		cancel()
		t.Fatalf("build request: %v", err)
	}
	if lastEventID != "" {
		req.Header.Set("Last-Event-ID", lastEventID)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		cancel()
		t.Fatalf("open sse stream: %v", err)
	}
	return resp, bufio.NewReader(resp.Body), cancel
}

func TestHandleEvents_StreamsLiveEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	s := NewServer(&fakeWorkflow{}, WithBus(bus))
	defer s.Close()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, reader, cancel := openSSE(t, srv, "")
	defer cancel()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type = %q, want text/event-stream", ct)
	}

	// Give the subscription a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)
	bus.Publish(domain.SettingsChangedEvent())

	frame := readSSEFrame(t, reader)
	if frame.event != string(domain.EventSettingsChanged) {
		t.Fatalf("event = %q, want %s", frame.event, domain.EventSettingsChanged)
	}
	if frame.id != "1" {
		t.Fatalf("id = %q, want 1", frame.id)
	}
	if !strings.Contains(frame.data, `"settings_changed"`) {
		t.Fatalf("data = %q, want the event kind inside", frame.data)
	}
}

func TestHandleEvents_ReplaysFromLastEventID(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	s := NewServer(&fakeWorkflow{}, WithBus(bus))
	defer s.Close()
	srv := httptest.NewServer(s)
	defer srv.Close()

	bus.Publish(domain.SettingsChangedEvent())
	bus.Publish(domain.HealthChangedEvent(false, "tracker timeout"))
	bus.Publish(domain.HealthChangedEvent(true, ""))

	// Reconnect claiming to have seen envelope 1: only 2 and 3 replay.
	resp, reader, cancel := openSSE(t, srv, "1")
	defer cancel()
	defer resp.Body.Close()

	first := readSSEFrame(t, reader)
	if first.id != "2" {
		t.Fatalf("first replayed id = %q, want 2", first.id)
	}
	if first.event != string(domain.EventHealthChanged) {
		t.Fatalf("first replayed event = %q, want %s", first.event, domain.EventHealthChanged)
	}
	second := readSSEFrame(t, reader)
	if second.id != "3" {
		t.Fatalf("second replayed id = %q, want 3", second.id)
	}
}

func TestHandleEvents_NoBusConfigured(t *testing.T) {
	s := NewServer(&fakeWorkflow{})
	defer s.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501", rec.Code)
	}
}

func TestHandleEvents_RejectsNonGet(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	s := NewServer(&fakeWorkflow{}, WithBus(bus))
	defer s.Close()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/events", nil)
	s.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestHandleEvents_ClientCancelEndsStream(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	s := NewServer(&fakeWorkflow{}, WithBus(bus))
	defer s.Close()
	srv := httptest.NewServer(s)
	defer srv.Close()

	resp, _, cancel := openSSE(t, srv, "")
	defer resp.Body.Close()

	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(50 * time.Millisecond)

	// The subscription must be released once the client goes away.
	deadline := time.Now().Add(2 * time.Second)
	for bus.Stats().Subscribers != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want 0 after disconnect", bus.Stats().Subscribers)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestSSELastEventID(t *testing.T) {
	tests := []struct {
		name   string
		header string
		query  string
		wantID uint64
		wantOK bool
	}{
		{"header", "42", "", 42, true},
		{"query fallback", "", "7", 7, true},
		{"header wins", "42", "7", 42, true},
		{"absent", "", "", 0, false},
		{"garbage", "abc", "", 0, false},
		{"negative", "-1", "", 0, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			target := "/api/events"
			if tc.query != "" {
				target += "?lastEventId=" + tc.query
			}
			req := httptest.NewRequest(http.MethodGet, target, nil)
			if tc.header != "" {
				req.Header.Set("Last-Event-ID", tc.header)
			}
			id, ok := sseLastEventID(req)
			if ok != tc.wantOK || id != tc.wantID {
				t.Fatalf("sseLastEventID() = (%d, %v), want (%d, %v)", id, ok, tc.wantID, tc.wantOK)
			}
		})
	}
}
