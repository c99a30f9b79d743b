// Package controller runs one read-aloud controller per surface. A
// controller owns at most one playback session and reports its progress to
// the surface.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-reader/internal/eventstore"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/sentence"
	"github.com/loqalabs/loqa-reader/internal/settings"
	"github.com/loqalabs/loqa-reader/internal/synthesis"
)

var (
	// ErrConfigMissing means no API key is stored; the surface was asked to
	// open the settings UI.
	ErrConfigMissing = errors.New("API key not configured")
	// ErrEmptyInput means the text contained no sentences.
	ErrEmptyInput = errors.New("no text to read")
	// ErrClosed is returned once the controller has been torn down.
	ErrClosed = errors.New("controller closed")
)

// EmptyInputNotice is shown when the selected text has no sentences.
const EmptyInputNotice = "No valid sentences found in the selected text."

const closeTimeout = 5 * time.Second

type Config struct {
	SurfaceID   string
	Settings    SettingsSource
	Synthesizer synthesis.Synthesizer
	Player      playback.Player
	Surface     Surface
	Events      *eventstore.Store
	Reporter    Reporter
	Metrics     *Metrics
	Logger      *slog.Logger
}

// State describes the controller's current session.
type State struct {
	SessionID string `json:"session_id,omitempty"`
	Status    string `json:"status"`
	Index     int    `json:"index"`
	Total     int    `json:"total"`
}

type Controller struct {
	cfg       Config
	log       *slog.Logger
	loop      *playback.Loop
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	// loop-owned
	session *playback.Session
}

// New starts a controller whose loop lives until Close. Cancelling parent
// closes the controller, which still stops the current session on the loop.
func New(parent context.Context, cfg Config) *Controller {
	// The loop and sessions must outlive parent long enough for Close to
	// release the open handle.
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Controller{
		cfg:    cfg,
		log:    logger.With(slog.String("component", "controller"), slog.String("surface_id", cfg.SurfaceID)),
		loop:   playback.NewLoop(),
		ctx:    ctx,
		cancel: cancel,
	}
	go c.loop.Run(ctx)
	go func() {
		select {
		case <-parent.Done():
			c.Close()
		case <-ctx.Done():
		}
	}()
	return c
}

func (c *Controller) SurfaceID() string { return c.cfg.SurfaceID }

// RequestRead stops any current session and starts reading text with a fresh
// settings snapshot.
func (c *Controller) RequestRead(ctx context.Context, text string) error {
	var result error
	if err := c.do(ctx, func() { result = c.read(ctx, text) }); err != nil {
		return err
	}
	return result
}

// RequestStop stops the current session, if any.
func (c *Controller) RequestStop(ctx context.Context) error {
	return c.do(ctx, c.stopSession)
}

// Pause pauses the current sentence.
func (c *Controller) Pause(ctx context.Context) error {
	return c.withSession(ctx, func(s *playback.Session) error { return s.Pause() })
}

// Resume resumes a paused sentence.
func (c *Controller) Resume(ctx context.Context) error {
	return c.withSession(ctx, func(s *playback.Session) error { return s.Resume() })
}

// TogglePause is the popup's pause/resume button.
func (c *Controller) TogglePause(ctx context.Context) error {
	return c.withSession(ctx, func(s *playback.Session) error { return s.TogglePause() })
}

// Skip moves on to the next sentence, or stops at the last one.
func (c *Controller) Skip(ctx context.Context) error {
	return c.withSession(ctx, func(s *playback.Session) error {
		if s.HasHandle() {
			c.appendEvent(s.ID(), eventstore.EventSentenceSkipped, s.Index())
		}
		s.Skip()
		return nil
	})
}

// State reports the current session.
func (c *Controller) State(ctx context.Context) (State, error) {
	state := State{Status: playback.StatusIdle.String()}
	err := c.do(ctx, func() {
		if c.session == nil {
			return
		}
		state = State{
			SessionID: c.session.ID(),
			Status:    c.session.Status().String(),
			Index:     c.session.Index(),
			Total:     c.session.Len(),
		}
	})
	return state, err
}

// Close stops the current session and shuts the loop down. It is safe to
// call more than once and from several goroutines; later calls wait for the
// first to finish.
func (c *Controller) Close() {
	c.closeOnce.Do(c.shutdown)
}

func (c *Controller) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := c.do(ctx, c.stopSession); err != nil && !errors.Is(err, ErrClosed) {
		c.log.Warn("failed to stop session on close", slog.String("error", err.Error()))
	}
	c.loop.Close()
	c.cancel()
	<-c.loop.Stopped()
}

func (c *Controller) do(ctx context.Context, fn func()) error {
	if err := c.loop.Do(ctx, fn); err != nil {
		if errors.Is(err, playback.ErrLoopClosed) {
			return ErrClosed
		}
		return err
	}
	return nil
}

func (c *Controller) withSession(ctx context.Context, fn func(*playback.Session) error) error {
	var result error
	if err := c.do(ctx, func() {
		if c.session != nil {
			result = fn(c.session)
		}
	}); err != nil {
		return err
	}
	return result
}

func (c *Controller) read(ctx context.Context, text string) error {
	c.stopSession()

	snap, err := c.cfg.Settings.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if !snap.Configured() {
		c.log.Info("read rejected: API key not configured")
		c.cfg.Surface.OpenSettings()
		return ErrConfigMissing
	}

	sentences := sentence.Split(text)
	if len(sentences) == 0 {
		c.cfg.Surface.Notice(EmptyInputNotice)
		return ErrEmptyInput
	}

	id := uuid.NewString()
	sess := playback.NewSession(c.ctx, playback.SessionConfig{
		ID:          id,
		Loop:        c.loop,
		Synthesizer: c.cfg.Synthesizer,
		Player:      c.cfg.Player,
		Settings:    snap,
		Observer:    &sessionObserver{c: c, id: id, snap: snap},
		Logger:      c.log,
	}, sentences)

	if err := c.cfg.Events.AppendSession(c.ctx, eventstore.Session{
		ID:        id,
		SurfaceID: c.cfg.SurfaceID,
		Sentences: len(sentences),
	}); err != nil {
		c.log.Warn("failed to record session", slog.String("error", err.Error()))
	}

	c.session = sess
	if err := sess.Start(); err != nil {
		c.session = nil
		return err
	}
	c.cfg.Metrics.sessionStarted(c.ctx)
	c.log.Info("read started",
		slog.String("session_id", id),
		slog.Int("sentences", len(sentences)),
		slog.String("voice", snap.Voice),
		slog.String("model", snap.Model))
	return nil
}

func (c *Controller) stopSession() {
	if c.session == nil {
		return
	}
	c.session.Stop()
	c.session = nil
}

func (c *Controller) current(id string) bool {
	return c.session != nil && c.session.ID() == id
}

func (c *Controller) appendEvent(sessionID, eventType string, index int) {
	if err := c.cfg.Events.AppendEvent(c.ctx, eventstore.Event{
		SessionID:     sessionID,
		Type:          eventType,
		SentenceIndex: index,
	}); err != nil {
		c.log.Warn("failed to record event", slog.String("type", eventType), slog.String("error", err.Error()))
	}
}

// sessionObserver maps one session's reports onto the surface. Reports from
// a session that is no longer current only finish its bookkeeping.
type sessionObserver struct {
	c    *Controller
	id   string
	snap settings.Snapshot
}

func (o *sessionObserver) Progress(index, total int, text string) {
	c := o.c
	if !c.current(o.id) {
		return
	}
	c.cfg.Surface.ShowProgress(Progress{
		SessionID: o.id,
		Index:     index,
		Total:     total,
		Text:      text,
		Voice:     o.snap.VoiceName(),
		Model:     o.snap.ModelName(),
	})
	c.appendEvent(o.id, eventstore.EventSentenceStarted, index-1)
	c.cfg.Metrics.sentencePlayed(c.ctx)
}

func (o *sessionObserver) PauseChanged(paused bool) {
	if !o.c.current(o.id) {
		return
	}
	label := PauseLabel
	if paused {
		label = ResumeLabel
	}
	o.c.cfg.Surface.SetPauseLabel(label)
}

func (o *sessionObserver) NextEnabled(enabled bool) {
	if !o.c.current(o.id) {
		return
	}
	o.c.cfg.Surface.SetNextEnabled(enabled)
}

func (o *sessionObserver) Finished(status playback.Status, err error) {
	c := o.c
	if c.current(o.id) {
		c.session = nil
	}
	c.cfg.Surface.Hide()

	outcome := status.String()
	if status == playback.StatusFailed && err != nil {
		c.cfg.Surface.Notice("Error: " + userMessage(err))
		if c.cfg.Reporter != nil {
			c.cfg.Reporter.Report(err, map[string]string{
				"surface_id": c.cfg.SurfaceID,
				"session_id": o.id,
				"model":      o.snap.Model,
				"voice":      o.snap.Voice,
			})
		}
	}

	// The session context may already be cancelled; the record must still
	// be written.
	if ferr := c.cfg.Events.FinishSession(context.WithoutCancel(c.ctx), o.id, outcome, err); ferr != nil {
		c.log.Warn("failed to record session outcome", slog.String("error", ferr.Error()))
	}
	c.cfg.Metrics.sessionFinished(context.WithoutCancel(c.ctx), outcome)
	c.log.Info("read finished", slog.String("session_id", o.id), slog.String("outcome", outcome))
}

// userMessage is the text shown to the user for a failed session.
func userMessage(err error) string {
	var apiErr *synthesis.Error
	if errors.As(err, &apiErr) {
		return apiErr.Error()
	}
	return err.Error()
}
