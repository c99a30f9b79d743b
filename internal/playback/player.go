// Package playback plays a sequence of sentences one at a time: each
// sentence is synthesized, opened as a Handle on a Player, played to its
// end and released before the next one starts.
package playback

import (
	"context"
	"errors"
)

var (
	// ErrPlayback marks failures raised by the audio player.
	ErrPlayback = errors.New("playback failed")
	// ErrSynthesis marks failures raised while producing audio.
	ErrSynthesis = errors.New("synthesis failed")
	// ErrNoSentences is returned when a session is started with nothing to read.
	ErrNoSentences = errors.New("no sentences to play")
	// ErrUnsupported is returned by streams that cannot pause or resume.
	ErrUnsupported = errors.New("operation not supported by player")
)

type EventKind int

const (
	EventPlay EventKind = iota
	EventPause
	EventEnded
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventPlay:
		return "play"
	case EventPause:
		return "pause"
	case EventEnded:
		return "ended"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// ParseEventKind maps the wire name of an event back to its kind.
func ParseEventKind(name string) (EventKind, bool) {
	switch name {
	case "play":
		return EventPlay, true
	case "pause":
		return EventPause, true
	case "ended":
		return EventEnded, true
	case "error":
		return EventError, true
	}
	return 0, false
}

// Event is a notification from a playing stream.
type Event struct {
	Kind EventKind
	Err  error
}

// Stream is one playable audio element together with the resource that
// backs it. Close must halt playback and free that resource.
type Stream interface {
	Play() error
	Pause() error
	Resume() error
	Close() error
}

// Player opens streams over synthesized audio. onEvent may be called from
// any goroutine.
type Player interface {
	Open(ctx context.Context, handleID string, audio []byte, onEvent func(Event)) (Stream, error)
}
