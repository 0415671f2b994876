package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"

	apihttp "torrentd/internal/api/http"
	"torrentd/internal/app"
	"torrentd/internal/domain"
	"torrentd/internal/engine"
	"torrentd/internal/engine/native"
	"torrentd/internal/engine/stub"
	"torrentd/internal/events"
	"torrentd/internal/metrics"
	"torrentd/internal/profile"
	mongorepo "torrentd/internal/repository/mongo"
	"torrentd/internal/telemetry"
	"torrentd/internal/usecase"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "torrentd")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "torrentd"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("backendOverride", cfg.EngineBackend),
		slog.Duration("pollInterval", cfg.PollInterval),
		slog.Int("eventBusSize", cfg.EventBusSize),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	bus := events.NewBusWithCapacity(cfg.EventBusSize)
	metrics.RegisterBus(prometheus.DefaultRegisterer, func() (uint64, uint64, int) {
		stats := bus.Stats()
		return stats.Published, stats.Dropped, stats.Subscribers
	})

	// The profile store is optional: without Mongo the engine runs on the
	// default profile and settings writes are rejected.
	var mongoClient *mongo.Client
	var profileRepo *mongorepo.ProfileRepository
	stored := profile.DefaultProfile()
	if cfg.MongoURI != "" {
		mongoOpts := otelmongo.NewMonitor()
		mongoClient, err = mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(mongoOpts))
		if err != nil {
			logger.Error("mongo connect failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
			logger.Error("mongo ping failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
		profileRepo = mongorepo.NewProfileRepository(mongoClient, cfg.MongoDatabase, cfg.MongoCollection)

		loaded, err := profileRepo.Get(ctx)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			logger.Info("no stored profile, starting with defaults")
		case err != nil:
			logger.Warn("profile load failed, starting with defaults", slog.String("error", err.Error()))
		default:
			stored = loaded
		}
	}

	// Environment overrides win over the stored profile.
	if cfg.EngineBackend != "" {
		stored.Backend = cfg.EngineBackend
	}
	if cfg.DownloadRoot != "" {
		stored.DownloadRoot = cfg.DownloadRoot
	}
	if cfg.ResumeDir != "" {
		stored.ResumeDir = cfg.ResumeDir
	}

	plan := profile.Plan(stored)
	for _, warning := range plan.Warnings {
		logger.Warn("profile adjusted", slog.String("warning", warning))
	}

	session, err := newSession(plan, logger)
	if err != nil {
		logger.Error("session init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	store := engine.NewResumeStore(plan.Runtime.ResumeDir)
	eng, err := engine.New(bus, session,
		engine.WithResumeStore(store),
		engine.WithPollInterval(cfg.PollInterval),
		engine.WithLogger(logger),
	)
	if err != nil {
		logger.Error("engine init failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := eng.ApplyRuntimeConfig(ctx, plan.Runtime); err != nil {
		logger.Warn("initial runtime config apply failed", slog.String("error", err.Error()))
	}

	logger.Info("engine started",
		slog.String("backend", plan.Profile.Backend),
		slog.String("downloadRoot", plan.Runtime.DownloadRoot),
		slog.String("resumeDir", plan.Runtime.ResumeDir),
		slog.String("capabilities", eng.Capabilities().String()),
	)

	workflow := usecase.NewWorkflow(eng, logger)

	serverOpts := []apihttp.ServerOption{
		apihttp.WithInspector(eng.Inspector()),
		apihttp.WithBus(bus),
		apihttp.WithApplyProfile(eng.ApplyRuntimeConfig),
		apihttp.WithAllowedOrigins(cfg.AllowedOrigins),
		apihttp.WithLogger(logger),
	}
	if profileRepo != nil {
		serverOpts = append(serverOpts, apihttp.WithProfileStore(profileRepo))
	}
	handler := apihttp.NewServer(workflow, serverOpts...)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// No write timeout: /api/events and /ws hold long-lived streams.
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	handler.Close()
	if err := eng.Close(); err != nil {
		logger.Warn("engine close error", slog.String("error", err.Error()))
	}
	bus.Close()
	if mongoClient != nil {
		if err := mongoClient.Disconnect(context.Background()); err != nil {
			logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}

// newSession builds the backend the planned profile asks for.
func newSession(plan profile.PlanResult, logger *slog.Logger) (engine.Session, error) {
	if profile.Backend(plan.Profile.Backend) == profile.BackendNative {
		return native.New(plan.Runtime, logger)
	}
	return stub.New(), nil
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
