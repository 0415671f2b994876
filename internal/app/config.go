package app

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr        string
	MongoURI        string
	MongoDatabase   string
	MongoCollection string
	LogLevel        string
	LogFormat       string
	EngineBackend   string // overrides the stored profile when set
	DownloadRoot    string // overrides the stored profile when set
	ResumeDir       string // overrides the stored profile when set
	PollInterval    time.Duration
	EventBusSize    int
	WSWriteTimeout  time.Duration
	AllowedOrigins  []string
}

func LoadConfig() Config {
	return Config{
		HTTPAddr:        getEnv("HTTP_ADDR", ":8080"),
		MongoURI:        getEnv("MONGO_URI", ""),
		MongoDatabase:   getEnv("MONGO_DB", "torrentd"),
		MongoCollection: getEnv("MONGO_COLLECTION", "engine_profile"),
		LogLevel:        strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getEnv("LOG_FORMAT", "text")),
		EngineBackend:   strings.ToLower(getEnv("ENGINE_BACKEND", "")),
		DownloadRoot:    getEnv("DOWNLOAD_ROOT", ""),
		ResumeDir:       getEnv("RESUME_DIR", ""),
		PollInterval:    getEnvDuration("ENGINE_POLL_INTERVAL_MS", 200) * time.Millisecond,
		EventBusSize:    int(getEnvInt64("EVENT_BUS_SIZE", 1024)),
		WSWriteTimeout:  getEnvDuration("WS_WRITE_TIMEOUT_MS", 10_000) * time.Millisecond,
		AllowedOrigins:  parseCSV(getEnv("CORS_ALLOWED_ORIGINS", "")),
	}
}

// parseCSV splits a comma-separated env value, dropping empty entries. An
// empty result means "allow any origin".
func parseCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return fallback
	}
	if parsed < 0 {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback int64) time.Duration {
	return time.Duration(getEnvInt64(key, fallback))
}
