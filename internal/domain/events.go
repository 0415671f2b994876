package domain

// EngineEventKind discriminates session-level events emitted by a backend.
type EngineEventKind string

const (
	EngineTorrentAdded    EngineEventKind = "torrent_added"
	EngineMetadataUpdated EngineEventKind = "metadata_updated"
	EngineFilesDiscovered EngineEventKind = "files_discovered"
	EngineStateChanged    EngineEventKind = "state_changed"
	EngineProgress        EngineEventKind = "progress"
	EngineCompleted       EngineEventKind = "completed"
	EngineTorrentRemoved  EngineEventKind = "torrent_removed"
	EngineResumeData      EngineEventKind = "resume_data"
	EngineTrackerWarning  EngineEventKind = "tracker_warning"
	EngineDegraded        EngineEventKind = "session_degraded"
	EngineRecovered       EngineEventKind = "session_recovered"
)

// EngineEvent is a fact reported by a session backend. Only the fields
// relevant to Kind are populated. Events describe what happened; they never
// instruct anything.
type EngineEvent struct {
	Kind        EngineEventKind
	TorrentID   TorrentID
	State       TorrentState
	Message     string
	Name        string
	DownloadDir string
	Files       []TorrentFile
	Progress    *TorrentProgress
	Rates       *TorrentRates
	// Payload is the opaque fast-resume blob for resume_data events.
	Payload []byte
}

func StateChangedEvent(id TorrentID, state TorrentState) EngineEvent {
	return EngineEvent{Kind: EngineStateChanged, TorrentID: id, State: state}
}

func FailedEvent(id TorrentID, message string) EngineEvent {
	return EngineEvent{Kind: EngineStateChanged, TorrentID: id, State: StateFailed, Message: message}
}

func MetadataUpdatedEvent(id TorrentID, name, downloadDir string) EngineEvent {
	return EngineEvent{Kind: EngineMetadataUpdated, TorrentID: id, Name: name, DownloadDir: downloadDir}
}

func FilesDiscoveredEvent(id TorrentID, files []TorrentFile) EngineEvent {
	return EngineEvent{Kind: EngineFilesDiscovered, TorrentID: id, Files: files}
}

func ProgressEvent(id TorrentID, progress TorrentProgress, rates TorrentRates) EngineEvent {
	return EngineEvent{Kind: EngineProgress, TorrentID: id, Progress: &progress, Rates: &rates}
}

func ResumeDataEvent(id TorrentID, payload []byte) EngineEvent {
	return EngineEvent{Kind: EngineResumeData, TorrentID: id, Payload: payload}
}

// EventKind discriminates application events published on the bus.
type EventKind string

const (
	EventTorrentAdded    EventKind = "torrent_added"
	EventMetadataUpdated EventKind = "metadata_updated"
	EventFilesDiscovered EventKind = "files_discovered"
	EventStateChanged    EventKind = "state_changed"
	EventProgress        EventKind = "progress"
	EventCompleted       EventKind = "completed"
	EventTorrentRemoved  EventKind = "torrent_removed"
	EventResumeSaved     EventKind = "resume_saved"
	EventTrackerWarning  EventKind = "tracker_warning"
	EventHealthChanged   EventKind = "health_changed"
	EventSettingsChanged EventKind = "settings_changed"
)

// Event is a fact published on the application bus, serializable for the
// streaming surfaces. TorrentID is nil for system-wide events such as
// settings_changed and health_changed.
type Event struct {
	Kind        EventKind        `json:"kind"`
	TorrentID   *TorrentID       `json:"torrentId,omitempty"`
	State       TorrentState     `json:"state,omitempty"`
	Message     string           `json:"message,omitempty"`
	Name        string           `json:"name,omitempty"`
	DownloadDir string           `json:"downloadDir,omitempty"`
	Files       []TorrentFile    `json:"files,omitempty"`
	Progress    *TorrentProgress `json:"progress,omitempty"`
	Rates       *TorrentRates    `json:"rates,omitempty"`
	Healthy     *bool            `json:"healthy,omitempty"`
}

// SettingsChangedEvent announces that a new runtime profile took effect.
func SettingsChangedEvent() Event {
	return Event{Kind: EventSettingsChanged}
}

// HealthChangedEvent announces a session degradation or recovery.
func HealthChangedEvent(healthy bool, message string) Event {
	return Event{Kind: EventHealthChanged, Healthy: &healthy, Message: message}
}
