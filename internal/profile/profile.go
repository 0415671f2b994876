// Package profile turns the stored engine profile, as persisted by the
// settings service, into the effective runtime configuration the session
// bridge consumes. The settings service is the only writer of the stored
// shape; this package never mutates persisted state.
package profile

// Backend selects the session implementation.
type Backend string

const (
	BackendStub   Backend = "stub"
	BackendNative Backend = "native"
)

// EncryptionPolicy is the canonical peer-encryption setting.
type EncryptionPolicy string

const (
	EncryptionRequire EncryptionPolicy = "require"
	EncryptionPrefer  EncryptionPolicy = "prefer"
	EncryptionDisable EncryptionPolicy = "disable"
)

// TrackerConfig is the stored tracker section. Values arrive loosely typed
// and are sanitized by the planner.
type TrackerConfig struct {
	Default          []string `json:"default,omitempty" bson:"default,omitempty"`
	Extra            []string `json:"extra,omitempty" bson:"extra,omitempty"`
	Replace          bool     `json:"replace,omitempty" bson:"replace,omitempty"`
	UserAgent        string   `json:"user_agent,omitempty" bson:"user_agent,omitempty"`
	AnnounceIP       string   `json:"announce_ip,omitempty" bson:"announce_ip,omitempty"`
	RequestTimeoutMs *int64   `json:"request_timeout_ms,omitempty" bson:"request_timeout_ms,omitempty"`
	AnnounceToAll    bool     `json:"announce_to_all,omitempty" bson:"announce_to_all,omitempty"`
}

// Profile is the stored engine profile. Field values are whatever the
// operator last saved; the planner applies guard rails before anything
// reaches the engine.
type Profile struct {
	Backend           string        `json:"backend,omitempty" bson:"backend,omitempty"`
	DownloadRoot      string        `json:"download_root" bson:"download_root"`
	ResumeDir         string        `json:"resume_dir" bson:"resume_dir"`
	ListenPort        *int          `json:"listen_port,omitempty" bson:"listen_port,omitempty"`
	MaxActive         *int          `json:"max_active,omitempty" bson:"max_active,omitempty"`
	DHT               bool          `json:"dht" bson:"dht"`
	Encryption        string        `json:"encryption,omitempty" bson:"encryption,omitempty"`
	SequentialDefault bool          `json:"sequential_default" bson:"sequential_default"`
	MaxDownloadBps    *int64        `json:"max_download_bps,omitempty" bson:"max_download_bps,omitempty"`
	MaxUploadBps      *int64        `json:"max_upload_bps,omitempty" bson:"max_upload_bps,omitempty"`
	Tracker           TrackerConfig `json:"tracker,omitempty" bson:"tracker,omitempty"`
}

// DefaultProfile is what the system runs with before the settings service
// has persisted anything.
func DefaultProfile() Profile {
	return Profile{
		Backend:      string(BackendStub),
		DownloadRoot: defaultDownloadRoot,
		ResumeDir:    defaultResumeDir,
		DHT:          true,
		Encryption:   string(EncryptionPrefer),
	}
}

// EngineRuntimeConfig is the effective configuration handed to the session
// bridge. All values are already sanitized; nil optionals mean "no override".
type EngineRuntimeConfig struct {
	DownloadRoot      string
	ResumeDir         string
	EnableDHT         bool
	SequentialDefault bool
	ListenPort        *int
	MaxActive         *int
	DownloadRateLimit *int64
	UploadRateLimit   *int64
	Encryption        EncryptionPolicy
	Tracker           TrackerConfig
}
