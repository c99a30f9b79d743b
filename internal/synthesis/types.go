// Package synthesis turns one sentence into playable audio bytes using a
// cloud text-to-speech API.
package synthesis

import (
	"context"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-reader/internal/settings"
)

// Synthesizer is the contract for producing audio for a single sentence.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, snap settings.Snapshot) ([]byte, error)
}

// ErrEmptyAudio is returned when the API answers 2xx with no body.
var ErrEmptyAudio = errors.New("synthesis returned no audio")

const unknownErrorMessage = "Unknown error"

// Error is a non-2xx answer from the synthesis API.
type Error struct {
	StatusCode int
	StatusText string
	Message    string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = unknownErrorMessage
	}
	return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.StatusText, msg)
}
