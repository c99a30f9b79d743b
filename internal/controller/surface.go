package controller

import (
	"context"

	"github.com/loqalabs/loqa-reader/internal/settings"
)

const (
	PauseLabel  = "Pause"
	ResumeLabel = "Resume"
)

// Progress is what the floating control shows while a sentence plays.
type Progress struct {
	SessionID string
	Index     int
	Total     int
	Text      string
	Voice     string
	Model     string
}

// Surface renders the controller's state on the client. Methods are called
// from the controller's loop and should not block.
type Surface interface {
	ShowProgress(p Progress)
	Hide()
	SetPauseLabel(label string)
	SetNextEnabled(enabled bool)
	Notice(message string)
	OpenSettings()
}

// SettingsSource supplies a fresh settings snapshot for every read.
type SettingsSource interface {
	Snapshot(ctx context.Context) (settings.Snapshot, error)
}

// Reporter forwards failures to an external error tracker.
type Reporter interface {
	Report(err error, tags map[string]string)
}
