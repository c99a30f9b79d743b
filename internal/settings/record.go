// Package settings persists the reader's user settings: the synthesis API
// key, voice, model and optional style instructions.
package settings

import "strings"

const (
	DefaultVoice = "alloy"
	DefaultModel = "tts-1"
)

var voiceNames = map[string]string{
	"alloy":   "Alloy",
	"echo":    "Echo",
	"fable":   "Fable",
	"onyx":    "Onyx",
	"nova":    "Nova",
	"shimmer": "Shimmer",
	"coral":   "Coral",
	"sage":    "Sage",
}

var modelNames = map[string]string{
	"tts-1":           "TTS-1",
	"tts-1-hd":        "TTS-1-HD",
	"gpt-4o-mini-tts": "GPT-4o Mini TTS",
	"gpt-4o-tts":      "GPT-4o TTS",
}

// Record is the persisted settings document. Only APIKey is required for a
// read to proceed.
type Record struct {
	APIKey       string `json:"apiKey"`
	Voice        string `json:"voice"`
	Model        string `json:"model"`
	Instructions string `json:"instructions"`
}

// Normalized trims user-entered fields the way the settings form does.
func (r Record) Normalized() Record {
	r.APIKey = strings.TrimSpace(r.APIKey)
	r.Instructions = strings.TrimSpace(r.Instructions)
	r.Voice = strings.TrimSpace(r.Voice)
	r.Model = strings.TrimSpace(r.Model)
	return r
}

// Snapshot is the immutable view of the settings taken at the start of a
// read request.
type Snapshot struct {
	APIKey       string
	Voice        string
	Model        string
	Instructions string
}

// Snapshot applies defaults for voice and model.
func (r Record) Snapshot() Snapshot {
	r = r.Normalized()
	s := Snapshot{
		APIKey:       r.APIKey,
		Voice:        r.Voice,
		Model:        r.Model,
		Instructions: r.Instructions,
	}
	if s.Voice == "" {
		s.Voice = DefaultVoice
	}
	if s.Model == "" {
		s.Model = DefaultModel
	}
	return s
}

// Configured reports whether an API key is present.
func (s Snapshot) Configured() bool {
	return s.APIKey != ""
}

// VoiceName returns the display name of the voice.
func (s Snapshot) VoiceName() string {
	return VoiceName(s.Voice)
}

// ModelName returns the display name of the model.
func (s Snapshot) ModelName() string {
	return ModelName(s.Model)
}

// VoiceName maps a voice code to its display name; unknown codes are
// returned unchanged.
func VoiceName(code string) string {
	if name, ok := voiceNames[code]; ok {
		return name
	}
	return code
}

// ModelName maps a model code to its display name; unknown codes are
// returned unchanged.
func ModelName(code string) string {
	if name, ok := modelNames[code]; ok {
		return name
	}
	return code
}
