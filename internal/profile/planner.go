package profile

import (
	"fmt"
	"strings"
)

// MaxRateLimitBps is the upper bound guard rail for rate limits (~5 Gbps).
const MaxRateLimitBps int64 = 5_000_000_000

const (
	defaultDownloadRoot = ".server_root/downloads"
	defaultResumeDir    = ".server_root/resume"

	maxTrackerEntryLen  = 512
	maxTrackerTimeoutMs = 900_000
)

// PlanResult pairs the effective profile with the runtime configuration
// derived from it. Warnings describe every value a guard rail had to adjust;
// the caller decides where they are logged.
type PlanResult struct {
	Profile  Profile
	Runtime  EngineRuntimeConfig
	Warnings []string
}

// Plan sanitizes a stored profile and derives the engine runtime
// configuration. It is pure and deterministic: no I/O, no logging, same
// input gives same output. Malformed values never produce an error; they
// degrade to safe defaults with a warning. Planning an already-effective
// profile is a fixpoint: it returns identical output and no warnings.
func Plan(stored Profile) PlanResult {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, "guard rail: "+fmt.Sprintf(format, args...))
	}

	effective := stored

	effective.Backend = sanitizeBackend(stored.Backend, warn)
	effective.DownloadRoot = sanitizePath(stored.DownloadRoot, defaultDownloadRoot, "download_root", warn)
	effective.ResumeDir = sanitizePath(stored.ResumeDir, defaultResumeDir, "resume_dir", warn)
	effective.ListenPort = sanitizeListenPort(stored.ListenPort, warn)
	effective.MaxActive = sanitizePositiveLimit(stored.MaxActive, "max_active", warn)
	effective.MaxDownloadBps = clampRateLimit(stored.MaxDownloadBps, "max_download_bps", warn)
	effective.MaxUploadBps = clampRateLimit(stored.MaxUploadBps, "max_upload_bps", warn)
	effective.Encryption = string(sanitizeEncryption(stored.Encryption, warn))
	effective.Tracker = sanitizeTracker(stored.Tracker, warn)

	runtime := EngineRuntimeConfig{
		DownloadRoot:      effective.DownloadRoot,
		ResumeDir:         effective.ResumeDir,
		EnableDHT:         effective.DHT,
		SequentialDefault: effective.SequentialDefault,
		ListenPort:        effective.ListenPort,
		MaxActive:         effective.MaxActive,
		DownloadRateLimit: effective.MaxDownloadBps,
		UploadRateLimit:   effective.MaxUploadBps,
		Encryption:        EncryptionPolicy(effective.Encryption),
		Tracker:           effective.Tracker,
	}

	return PlanResult{Profile: effective, Runtime: runtime, Warnings: warnings}
}

func sanitizeBackend(raw string, warn func(string, ...any)) string {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case string(BackendNative):
		return string(BackendNative)
	case string(BackendStub), "":
		return string(BackendStub)
	default:
		warn("unknown backend %q; defaulting to stub", raw)
		return string(BackendStub)
	}
}

func sanitizePath(value, fallback, field string, warn func(string, ...any)) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		warn("%s was empty; using %s", field, fallback)
		return fallback
	}
	return trimmed
}

func sanitizeListenPort(port *int, warn func(string, ...any)) *int {
	if port == nil {
		return nil
	}
	if *port < 1 || *port > 65_535 {
		warn("listen_port %d is out of range; disabling listen override", *port)
		return nil
	}
	p := *port
	return &p
}

func sanitizePositiveLimit(value *int, field string, warn func(string, ...any)) *int {
	if value == nil {
		return nil
	}
	if *value <= 0 {
		warn("%s %d is non-positive; disabling override", field, *value)
		return nil
	}
	v := *value
	return &v
}

func clampRateLimit(value *int64, field string, warn func(string, ...any)) *int64 {
	if value == nil {
		return nil
	}
	switch {
	case *value <= 0:
		warn("%s %d is non-positive; disabling limit", field, *value)
		return nil
	case *value > MaxRateLimitBps:
		warn("%s %d exceeds the rate ceiling; clamping to %d", field, *value, MaxRateLimitBps)
		clamped := MaxRateLimitBps
		return &clamped
	default:
		v := *value
		return &v
	}
}

func sanitizeEncryption(raw string, warn func(string, ...any)) EncryptionPolicy {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case string(EncryptionRequire):
		return EncryptionRequire
	case string(EncryptionDisable):
		return EncryptionDisable
	case string(EncryptionPrefer), "":
		return EncryptionPrefer
	default:
		warn("unknown encryption %q; defaulting to prefer", raw)
		return EncryptionPrefer
	}
}

func sanitizeTracker(value TrackerConfig, warn func(string, ...any)) TrackerConfig {
	out := value
	out.Default = sanitizeTrackerList(value.Default, "tracker.default", warn)
	out.Extra = sanitizeTrackerList(value.Extra, "tracker.extra", warn)
	out.UserAgent = strings.TrimSpace(value.UserAgent)
	out.AnnounceIP = strings.TrimSpace(value.AnnounceIP)
	out.RequestTimeoutMs = sanitizeTimeout(value.RequestTimeoutMs, "tracker.request_timeout_ms", warn)
	return out
}

func sanitizeTrackerList(entries []string, field string, warn func(string, ...any)) []string {
	if len(entries) == 0 {
		return entries
	}
	out := make([]string, 0, len(entries))
	for _, entry := range entries {
		trimmed := strings.TrimSpace(entry)
		if trimmed == "" {
			continue
		}
		if len(trimmed) > maxTrackerEntryLen {
			warn("%s entry exceeds %d characters; skipping", field, maxTrackerEntryLen)
			continue
		}
		out = append(out, trimmed)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func sanitizeTimeout(value *int64, field string, warn func(string, ...any)) *int64 {
	if value == nil {
		return nil
	}
	if *value < 0 || *value > maxTrackerTimeoutMs {
		warn("%s must be between 0 and %d milliseconds", field, maxTrackerTimeoutMs)
		return nil
	}
	v := *value
	return &v
}
