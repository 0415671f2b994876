// Package apihttp exposes the control surface: REST handlers over the
// torrent workflow, the SSE and WebSocket event streams, and the profile
// settings endpoint.
package apihttp

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"torrentd/internal/domain/ports"
	"torrentd/internal/events"
	"torrentd/internal/profile"
)

// ProfileStore is what the settings endpoint needs from persistence.
type ProfileStore interface {
	Get(ctx context.Context) (profile.Profile, error)
	Save(ctx context.Context, p profile.Profile) error
}

// ApplyProfileFunc pushes a planned runtime configuration into the engine.
type ApplyProfileFunc func(ctx context.Context, cfg profile.EngineRuntimeConfig) error

type Server struct {
	workflow       ports.TorrentWorkflow
	inspector      ports.TorrentInspector
	bus            *events.Bus
	profiles       ProfileStore
	applyProfile   ApplyProfileFunc
	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler
	wsHub          *wsHub
}

type ServerOption func(*Server)

func WithInspector(inspector ports.TorrentInspector) ServerOption {
	return func(s *Server) {
		s.inspector = inspector
	}
}

func WithBus(bus *events.Bus) ServerOption {
	return func(s *Server) {
		s.bus = bus
	}
}

func WithProfileStore(store ProfileStore) ServerOption {
	return func(s *Server) {
		s.profiles = store
	}
}

func WithApplyProfile(apply ApplyProfileFunc) ServerOption {
	return func(s *Server) {
		s.applyProfile = apply
	}
}

// WithAllowedOrigins configures the CORS allowed origins whitelist.
// When empty (default), any origin is permitted (development mode).
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		s.logger = logger
	}
}

func NewServer(workflow ports.TorrentWorkflow, opts ...ServerOption) *Server {
	s := &Server{workflow: workflow}
	for _, opt := range opts {
		opt(s)
	}

	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.wsHub = newWSHub(s.logger, s.bus)
	s.wsHub.start()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/torrents", s.handleTorrents)
	mux.HandleFunc("/api/torrents/", s.handleTorrentByID)
	mux.HandleFunc("/api/capabilities", s.handleCapabilities)
	mux.HandleFunc("/api/limits", s.handleGlobalLimits)
	mux.HandleFunc("/api/settings/profile", s.handleProfile)
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	traced := otelhttp.NewHandler(loggingMiddleware(s.logger, mux), "torrentd",
		otelhttp.WithFilter(func(r *http.Request) bool {
			p := r.URL.Path
			return p != "/metrics" && p != "/healthz" && p != "/api/events" && p != "/ws"
		}),
	)
	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	if s.wsHub == nil {
		http.Error(w, "websocket not available", http.StatusServiceUnavailable)
		return
	}
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("ws upgrade failed", slog.String("error", err.Error()))
		return
	}
	client := &wsClient{
		hub:  s.wsHub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	s.wsHub.register <- client
	go client.writePump()
	go client.readPump()
}

// Close disconnects all WebSocket clients and stops the hub.
func (s *Server) Close() {
	if s.wsHub != nil {
		s.wsHub.Close()
	}
}
