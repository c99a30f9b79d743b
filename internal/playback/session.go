package playback

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-reader/internal/settings"
	"github.com/loqalabs/loqa-reader/internal/synthesis"
)

type Status int

const (
	StatusIdle Status = iota
	StatusPlaying
	StatusPaused
	StatusStopped
	StatusCompleted
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusPlaying:
		return "playing"
	case StatusPaused:
		return "paused"
	case StatusStopped:
		return "stopped"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions happen from s except to
// Stopped.
func (s Status) Terminal() bool {
	return s == StatusStopped || s == StatusCompleted || s == StatusFailed
}

// Observer receives session reports. Calls are made on the session's loop.
type Observer interface {
	// Progress is reported once the sentence at position index (1-based) of
	// total is audible.
	Progress(index, total int, text string)
	PauseChanged(paused bool)
	NextEnabled(enabled bool)
	// Finished is reported exactly once, when the session leaves the
	// playing states.
	Finished(status Status, err error)
}

type SessionConfig struct {
	ID          string
	Loop        *Loop
	Synthesizer synthesis.Synthesizer
	Player      Player
	Settings    settings.Snapshot
	Observer    Observer
	Logger      *slog.Logger
}

// Session reads a fixed list of sentences. All methods must be called on
// the session's loop.
type Session struct {
	id     string
	loop   *Loop
	synth  synthesis.Synthesizer
	player Player
	snap   settings.Snapshot
	obs    Observer
	log    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	sentences  []string
	index      int
	status     Status
	handle     *Handle
	generation uint64
	finished   bool
}

func NewSession(parent context.Context, cfg SessionConfig, sentences []string) *Session {
	ctx, cancel := context.WithCancel(parent)
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		id:        cfg.ID,
		loop:      cfg.Loop,
		synth:     cfg.Synthesizer,
		player:    cfg.Player,
		snap:      cfg.Settings,
		obs:       cfg.Observer,
		log:       logger.With(slog.String("component", "playback-session"), slog.String("session_id", cfg.ID)),
		ctx:       ctx,
		cancel:    cancel,
		sentences: append([]string(nil), sentences...),
	}
}

func (s *Session) ID() string         { return s.id }
func (s *Session) Status() Status     { return s.status }
func (s *Session) Index() int         { return s.index }
func (s *Session) Len() int           { return len(s.sentences) }
func (s *Session) Generation() uint64 { return s.generation }
func (s *Session) HasHandle() bool    { return s.handle != nil }

// Start begins playing the first sentence.
func (s *Session) Start() error {
	if len(s.sentences) == 0 {
		return ErrNoSentences
	}
	if s.status != StatusIdle {
		return fmt.Errorf("session already %s", s.status)
	}
	s.index = 0
	s.status = StatusPlaying
	s.log.Info("session started", slog.Int("sentences", len(s.sentences)))
	s.step()
	return nil
}

// step synthesizes the current sentence off the loop and posts the result
// back tagged with the generation it was started under.
func (s *Session) step() {
	gen := s.generation
	index := s.index
	text := s.sentences[index]
	ctx := s.ctx
	synth := s.synth
	snap := s.snap

	go func() {
		audio, err := synth.Synthesize(ctx, text, snap)
		s.loop.Post(func() { s.synthesized(gen, index, audio, err) })
	}()
}

func (s *Session) synthesized(gen uint64, index int, audio []byte, err error) {
	if gen != s.generation || s.status.Terminal() {
		s.log.Debug("discarding stale synthesis result", slog.Int("index", index))
		return
	}
	if err != nil {
		s.fail(fmt.Errorf("%w: %w", ErrSynthesis, err))
		return
	}

	handle, err := OpenHandle(s.ctx, s.player, audio, func(h *Handle, ev Event) {
		s.loop.Post(func() { s.onEvent(gen, h, ev) })
	})
	if err != nil {
		s.fail(fmt.Errorf("%w: %w", ErrPlayback, err))
		return
	}
	s.handle = handle

	if err := handle.Play(); err != nil {
		s.fail(fmt.Errorf("%w: %w", ErrPlayback, err))
		return
	}
	s.status = StatusPlaying
	s.obs.Progress(index+1, len(s.sentences), s.sentences[index])
	s.obs.PauseChanged(false)
	s.obs.NextEnabled(index < len(s.sentences)-1)
}

func (s *Session) onEvent(gen uint64, h *Handle, ev Event) {
	if gen != s.generation || h != s.handle || s.status.Terminal() {
		return
	}
	switch ev.Kind {
	case EventEnded:
		s.releaseHandle()
		if s.index+1 >= len(s.sentences) {
			s.complete()
			return
		}
		s.index++
		s.step()
	case EventError:
		err := ev.Err
		if err == nil {
			err = fmt.Errorf("audio element error")
		}
		s.fail(fmt.Errorf("%w: %w", ErrPlayback, err))
	case EventPause:
		if s.status == StatusPlaying {
			s.status = StatusPaused
			s.obs.PauseChanged(true)
		}
	case EventPlay:
		if s.status == StatusPaused {
			s.status = StatusPlaying
			s.obs.PauseChanged(false)
		}
	}
}

// Pause pauses the current handle. Without a handle it does nothing.
func (s *Session) Pause() error {
	if s.handle == nil || s.status != StatusPlaying {
		return nil
	}
	if err := s.handle.Pause(); err != nil {
		return err
	}
	s.status = StatusPaused
	s.obs.PauseChanged(true)
	return nil
}

// Resume resumes a paused handle. Without a handle it does nothing.
func (s *Session) Resume() error {
	if s.handle == nil || s.status != StatusPaused {
		return nil
	}
	if err := s.handle.Resume(); err != nil {
		return err
	}
	s.status = StatusPlaying
	s.obs.PauseChanged(false)
	return nil
}

// TogglePause is the pause button: resume when paused, pause otherwise.
func (s *Session) TogglePause() error {
	if s.status == StatusPaused {
		return s.Resume()
	}
	return s.Pause()
}

// Skip abandons the current sentence and moves to the next one. At the last
// sentence it stops the session. Without a handle it does nothing.
func (s *Session) Skip() {
	if s.handle == nil {
		return
	}
	if s.index+1 >= len(s.sentences) {
		s.Stop()
		return
	}
	s.generation++
	s.releaseHandle()
	s.index++
	s.status = StatusPlaying
	s.log.Debug("sentence skipped", slog.Int("index", s.index))
	s.step()
}

// Stop cancels in-flight synthesis, releases the handle and clears the
// session. A second call does nothing.
func (s *Session) Stop() {
	if s.status == StatusStopped {
		return
	}
	s.generation++
	s.cancel()
	s.releaseHandle()
	s.sentences = nil
	s.index = 0
	s.status = StatusStopped
	s.log.Info("session stopped")
	s.finish(StatusStopped, nil)
}

func (s *Session) complete() {
	s.generation++
	s.cancel()
	s.status = StatusCompleted
	s.log.Info("session completed", slog.Int("sentences", len(s.sentences)))
	s.finish(StatusCompleted, nil)
}

func (s *Session) fail(err error) {
	s.generation++
	s.cancel()
	s.releaseHandle()
	s.status = StatusFailed
	s.log.Warn("session failed", slog.Int("index", s.index), slog.String("error", err.Error()))
	s.finish(StatusFailed, err)
}

func (s *Session) finish(status Status, err error) {
	if s.finished {
		return
	}
	s.finished = true
	s.obs.Finished(status, err)
}

func (s *Session) releaseHandle() {
	if s.handle == nil {
		return
	}
	if err := s.handle.Release(); err != nil {
		s.log.Warn("failed to release audio handle", slog.String("handle_id", s.handle.ID()), slog.String("error", err.Error()))
	}
	s.handle = nil
}
