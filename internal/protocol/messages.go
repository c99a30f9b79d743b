package protocol

import "time"

// ReadRequest asks the surface's controller to read text aloud.
type ReadRequest struct {
	SurfaceID string `json:"surface_id"`
	Text      string `json:"text"`
}

// StopRequest asks the surface's controller to stop playback.
type StopRequest struct {
	SurfaceID string `json:"surface_id"`
}

// ControlRequest carries a popup button press.
type ControlRequest struct {
	SurfaceID string `json:"surface_id"`
	Action    string `json:"action"` // pause, resume, toggle, skip
}

// CommandReply answers read, stop, control and settings-set requests.
type CommandReply struct {
	Outcome string `json:"outcome"`
	Error   string `json:"error,omitempty"`
}

// SettingsRecord is the persisted configuration as it travels on the wire.
// Replies never carry the API key; Configured reports whether one is stored.
// A save with an empty APIKey keeps the stored key.
type SettingsRecord struct {
	APIKey       string `json:"apiKey,omitempty"`
	Configured   bool   `json:"configured"`
	Voice        string `json:"voice"`
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
}

// LifecycleEvent reports that a surface navigated away or was closed.
type LifecycleEvent struct {
	SurfaceID string `json:"surface_id"`
	Event     string `json:"event"` // navigate, removed
}

// UIEvent drives the floating control surface.
type UIEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Index     int       `json:"index,omitempty"`
	Total     int       `json:"total,omitempty"`
	Text      string    `json:"text,omitempty"`
	Voice     string    `json:"voice,omitempty"`
	Model     string    `json:"model,omitempty"`
	Label     string    `json:"label,omitempty"`
	Enabled   bool      `json:"enabled"`
	Message   string    `json:"message,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AudioCommand tells a remote surface what to do with one audio handle.
type AudioCommand struct {
	HandleID string `json:"handle_id"`
	Action   string `json:"action"` // play, pause, resume, release
	Bucket   string `json:"bucket,omitempty"`
	Key      string `json:"key,omitempty"`
}

// AudioEvent is reported by a remote surface for one audio handle.
type AudioEvent struct {
	HandleID string `json:"handle_id"`
	Event    string `json:"event"` // play, pause, ended, error
	Error    string `json:"error,omitempty"`
}

const (
	SubjectReadCommand    = "reader.command.read"
	SubjectStopCommand    = "reader.command.stop"
	SubjectControlCommand = "reader.command.control"
	SubjectSettingsGet    = "reader.settings.get"
	SubjectSettingsSet    = "reader.settings.set"
	SubjectLifecycle      = "reader.surface.lifecycle"
	SubjectSurfacePrefix  = "reader.surface"
)

const (
	OutcomeStarted        = "started"
	OutcomeConfigMissing  = "config_missing"
	OutcomeEmptyInput     = "empty_input"
	OutcomeDeliveryFailed = "delivery_failed"
	OutcomeDelivered      = "delivered"
	OutcomeNoController   = "no_controller"
	OutcomeSaved          = "saved"
	OutcomeInvalid        = "invalid"
	OutcomeError          = "error"
)

const (
	UIProgress     = "progress"
	UIHide         = "hide"
	UIPauseLabel   = "pause_label"
	UINextEnabled  = "next_enabled"
	UINotice       = "notice"
	UIOpenSettings = "open_settings"
)

const (
	LifecycleNavigate = "navigate"
	LifecycleRemoved  = "removed"
)

// SurfaceUISubject is where UI events for a surface are published.
func SurfaceUISubject(surfaceID string) string {
	return SubjectSurfacePrefix + "." + surfaceID + ".ui"
}

// SurfaceAudioSubject is where audio commands for a surface are published.
func SurfaceAudioSubject(surfaceID string) string {
	return SubjectSurfacePrefix + "." + surfaceID + ".audio"
}

// SurfaceAudioEventsSubject is where a surface reports audio events.
func SurfaceAudioEventsSubject(surfaceID string) string {
	return SubjectSurfacePrefix + "." + surfaceID + ".audio.events"
}
