package controller_test

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/controller"
	"github.com/loqalabs/loqa-reader/internal/eventstore"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/settings"
	"github.com/loqalabs/loqa-reader/internal/synthesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 2 * time.Second
const tick = 5 * time.Millisecond

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type staticSettings struct {
	snap settings.Snapshot
}

func (s staticSettings) Snapshot(context.Context) (settings.Snapshot, error) {
	return s.snap, nil
}

func configured() staticSettings {
	return staticSettings{snap: settings.Record{APIKey: "sk-test", Voice: "shimmer"}.Snapshot()}
}

type countingSynth struct {
	calls atomic.Int32
	fn    func(ctx context.Context, text string) ([]byte, error)
}

func (s *countingSynth) Synthesize(ctx context.Context, text string, _ settings.Snapshot) ([]byte, error) {
	s.calls.Add(1)
	if s.fn != nil {
		return s.fn(ctx, text)
	}
	return []byte(text), nil
}

type countingPlayer struct {
	opened atomic.Int32
	closed atomic.Int32
	inner  playback.Player
}

func (p *countingPlayer) Open(ctx context.Context, id string, audio []byte, onEvent func(playback.Event)) (playback.Stream, error) {
	stream, err := p.inner.Open(ctx, id, audio, onEvent)
	if err != nil {
		return nil, err
	}
	p.opened.Add(1)
	return &countingStream{Stream: stream, closed: &p.closed}, nil
}

type countingStream struct {
	playback.Stream
	closed *atomic.Int32
}

func (s *countingStream) Close() error {
	s.closed.Add(1)
	return s.Stream.Close()
}

type surfaceEvent struct {
	kind     string
	progress controller.Progress
	value    string
	enabled  bool
}

type fakeSurface struct {
	mu     sync.Mutex
	events []surfaceEvent
}

func (f *fakeSurface) add(ev surfaceEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
}

func (f *fakeSurface) ShowProgress(p controller.Progress) {
	f.add(surfaceEvent{kind: "progress", progress: p})
}
func (f *fakeSurface) Hide() { f.add(surfaceEvent{kind: "hide"}) }
func (f *fakeSurface) SetPauseLabel(l string) { f.add(surfaceEvent{kind: "label", value: l}) }
func (f *fakeSurface) SetNextEnabled(e bool) { f.add(surfaceEvent{kind: "next", enabled: e}) }
func (f *fakeSurface) Notice(message string) { f.add(surfaceEvent{kind: "notice", value: message}) }
func (f *fakeSurface) OpenSettings() { f.add(surfaceEvent{kind: "settings"}) }

func (f *fakeSurface) kinds(kind string) []surfaceEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []surfaceEvent
	for _, ev := range f.events {
		if ev.kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

type fakeReporter struct {
	mu   sync.Mutex
	errs []error
}

func (r *fakeReporter) Report(err error, _ map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

type fixture struct {
	ctrl     *controller.Controller
	surface  *fakeSurface
	synth    *countingSynth
	player   *countingPlayer
	events   *eventstore.Store
	reporter *fakeReporter
}

func newFixture(t *testing.T, src controller.SettingsSource, synth *countingSynth, playFor time.Duration) *fixture {
	t.Helper()
	return newFixtureWithParent(t, context.Background(), src, synth, playFor)
}

func newFixtureWithParent(t *testing.T, parent context.Context, src controller.SettingsSource, synth *countingSynth, playFor time.Duration) *fixture {
	t.Helper()

	events, err := eventstore.Open(context.Background(), config.EventStoreConfig{
		Path:          filepath.Join(t.TempDir(), "events.db"),
		RetentionMode: "session",
	}, discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = events.Close() })

	f := &fixture{
		surface:  &fakeSurface{},
		synth:    synth,
		player:   &countingPlayer{inner: playback.NewMockPlayer(playFor)},
		events:   events,
		reporter: &fakeReporter{},
	}
	f.ctrl = controller.New(parent, controller.Config{
		SurfaceID:   "tab-1",
		Settings:    src,
		Synthesizer: synth,
		Player:      f.player,
		Surface:     f.surface,
		Events:      events,
		Reporter:    f.reporter,
		Logger:      discard(),
	})
	t.Cleanup(f.ctrl.Close)
	return f
}

func (f *fixture) waitIdle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		st, err := f.ctrl.State(context.Background())
		return err == nil && st.SessionID == ""
	}, waitFor, tick)
}

func TestReadWithoutAPIKeyOpensSettings(t *testing.T) {
	t.Parallel()

	synth := &countingSynth{}
	f := newFixture(t, staticSettings{}, synth, time.Millisecond)

	err := f.ctrl.RequestRead(context.Background(), "Hello world.")
	require.ErrorIs(t, err, controller.ErrConfigMissing)

	assert.Len(t, f.surface.kinds("settings"), 1)
	assert.Equal(t, int32(0), synth.calls.Load(), "no network call without a key")
	assert.Empty(t, f.surface.kinds("progress"))
}

func TestReadEmptyInput(t *testing.T) {
	t.Parallel()

	synth := &countingSynth{}
	f := newFixture(t, configured(), synth, time.Millisecond)

	err := f.ctrl.RequestRead(context.Background(), "  \n\t ")
	require.ErrorIs(t, err, controller.ErrEmptyInput)
	assert.Equal(t, int32(0), synth.calls.Load())

	notices := f.surface.kinds("notice")
	require.Len(t, notices, 1)
	assert.Equal(t, controller.EmptyInputNotice, notices[0].value)
	assert.Empty(t, f.surface.kinds("progress"))

	st, err := f.ctrl.State(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "idle", st.Status)
}

func TestReadPlaysToCompletion(t *testing.T) {
	t.Parallel()

	f := newFixture(t, configured(), &countingSynth{}, 5*time.Millisecond)

	require.NoError(t, f.ctrl.RequestRead(context.Background(), "Hi! How are you? Fine."))
	f.waitIdle(t)

	progress := f.surface.kinds("progress")
	require.Len(t, progress, 3)
	for i, ev := range progress {
		assert.Equal(t, i+1, ev.progress.Index)
		assert.Equal(t, 3, ev.progress.Total)
		assert.Equal(t, "Shimmer", ev.progress.Voice)
		assert.Equal(t, "TTS-1", ev.progress.Model)
	}
	assert.Equal(t, "How are you?", progress[1].progress.Text)

	next := f.surface.kinds("next")
	require.Len(t, next, 3)
	assert.False(t, next[2].enabled)
	assert.Len(t, f.surface.kinds("hide"), 1)
	assert.Empty(t, f.surface.kinds("notice"))

	sessionID := progress[0].progress.SessionID
	require.Eventually(t, func() bool {
		sess, err := f.events.GetSession(context.Background(), sessionID)
		return err == nil && sess.Outcome == "completed"
	}, waitFor, tick)

	timeline, err := f.events.ListSessionEvents(context.Background(), sessionID, 10)
	require.NoError(t, err)
	var types []string
	for _, e := range timeline {
		types = append(types, e.Type)
	}
	assert.Equal(t, []string{
		eventstore.EventSessionStarted,
		eventstore.EventSentenceStarted,
		eventstore.EventSentenceStarted,
		eventstore.EventSentenceStarted,
		eventstore.EventSessionCompleted,
	}, types)
}

func TestNewReadReplacesCurrentSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, configured(), &countingSynth{}, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.ctrl.RequestRead(ctx, "First text. Still first."))
	require.Eventually(t, func() bool { return len(f.surface.kinds("progress")) == 1 }, waitFor, tick)
	first, err := f.ctrl.State(ctx)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.RequestRead(ctx, "Second text."))
	second, err := f.ctrl.State(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, second.SessionID)
	assert.Equal(t, 1, second.Total)

	require.Eventually(t, func() bool { return len(f.surface.kinds("progress")) == 2 }, waitFor, tick)
	assert.Equal(t, "Second text.", f.surface.kinds("progress")[1].progress.Text)

	old, err := f.events.GetSession(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "stopped", old.Outcome)
}

func TestStopDuringSynthesisDropsLateAudio(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	done := make(chan struct{})
	synth := &countingSynth{fn: func(_ context.Context, text string) ([]byte, error) {
		<-release
		defer close(done)
		return []byte(text), nil
	}}
	f := newFixture(t, configured(), synth, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.ctrl.RequestRead(ctx, "Slow one."))
	require.Eventually(t, func() bool { return synth.calls.Load() == 1 }, waitFor, tick)
	require.NoError(t, f.ctrl.RequestStop(ctx))
	require.NoError(t, f.ctrl.RequestStop(ctx))

	close(release)
	<-done
	time.Sleep(50 * time.Millisecond)

	st, err := f.ctrl.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "idle", st.Status)
	assert.Equal(t, int32(0), f.player.opened.Load())
	assert.Empty(t, f.surface.kinds("progress"))
	assert.Len(t, f.surface.kinds("hide"), 1)
}

func TestSynthesisFailureShowsNotice(t *testing.T) {
	t.Parallel()

	synth := &countingSynth{fn: func(context.Context, string) ([]byte, error) {
		return nil, &synthesis.Error{StatusCode: 401, StatusText: "Unauthorized", Message: "Incorrect API key provided"}
	}}
	f := newFixture(t, configured(), synth, time.Millisecond)

	require.NoError(t, f.ctrl.RequestRead(context.Background(), "One. Two."))
	require.Eventually(t, func() bool { return len(f.surface.kinds("notice")) == 1 }, waitFor, tick)

	notice := f.surface.kinds("notice")[0]
	assert.Equal(t, "Error: API error: 401 Unauthorized - Incorrect API key provided", notice.value)
	assert.Len(t, f.surface.kinds("hide"), 1)
	assert.Equal(t, int32(1), synth.calls.Load(), "remaining sentences are abandoned")

	f.reporter.mu.Lock()
	assert.Len(t, f.reporter.errs, 1)
	f.reporter.mu.Unlock()
}

func TestControlsWithoutSessionAreNoops(t *testing.T) {
	t.Parallel()

	f := newFixture(t, configured(), &countingSynth{}, time.Millisecond)
	ctx := context.Background()

	assert.NoError(t, f.ctrl.Pause(ctx))
	assert.NoError(t, f.ctrl.Resume(ctx))
	assert.NoError(t, f.ctrl.TogglePause(ctx))
	assert.NoError(t, f.ctrl.Skip(ctx))
	assert.NoError(t, f.ctrl.RequestStop(ctx))
	assert.Empty(t, f.surface.kinds("hide"))
}

func TestPauseRelabelsToggle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, configured(), &countingSynth{}, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.ctrl.RequestRead(ctx, "One. Two."))
	require.Eventually(t, func() bool { return len(f.surface.kinds("progress")) == 1 }, waitFor, tick)

	require.NoError(t, f.ctrl.TogglePause(ctx))
	st, err := f.ctrl.State(ctx)
	require.NoError(t, err)
	assert.Equal(t, "paused", st.Status)

	require.NoError(t, f.ctrl.TogglePause(ctx))
	labels := f.surface.kinds("label")
	require.GreaterOrEqual(t, len(labels), 3)
	assert.Equal(t, controller.ResumeLabel, labels[len(labels)-2].value)
	assert.Equal(t, controller.PauseLabel, labels[len(labels)-1].value)
}

func TestSkipAdvancesAndRecords(t *testing.T) {
	t.Parallel()

	f := newFixture(t, configured(), &countingSynth{}, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.ctrl.RequestRead(ctx, "One. Two."))
	require.Eventually(t, func() bool { return len(f.surface.kinds("progress")) == 1 }, waitFor, tick)
	st, err := f.ctrl.State(ctx)
	require.NoError(t, err)

	require.NoError(t, f.ctrl.Skip(ctx))
	require.Eventually(t, func() bool { return len(f.surface.kinds("progress")) == 2 }, waitFor, tick)

	require.NoError(t, f.ctrl.Skip(ctx))
	f.waitIdle(t)

	sess, err := f.events.GetSession(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "stopped", sess.Outcome)

	timeline, err := f.events.ListSessionEvents(ctx, st.SessionID, 20)
	require.NoError(t, err)
	var skipped int
	for _, e := range timeline {
		if e.Type == eventstore.EventSentenceSkipped {
			skipped++
		}
	}
	assert.Equal(t, 2, skipped)
}

func TestClosedControllerRejectsReads(t *testing.T) {
	t.Parallel()

	f := newFixture(t, configured(), &countingSynth{}, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.ctrl.RequestRead(ctx, "One."))
	f.ctrl.Close()

	assert.ErrorIs(t, f.ctrl.RequestRead(ctx, "Two."), controller.ErrClosed)
	assert.ErrorIs(t, f.ctrl.RequestStop(ctx), controller.ErrClosed)
}

func TestParentCancelReleasesOpenHandle(t *testing.T) {
	t.Parallel()

	parent, cancel := context.WithCancel(context.Background())
	defer cancel()
	f := newFixtureWithParent(t, parent, configured(), &countingSynth{}, time.Hour)
	ctx := context.Background()

	require.NoError(t, f.ctrl.RequestRead(ctx, "A. B."))
	require.Eventually(t, func() bool { return f.player.opened.Load() == 1 }, waitFor, tick)
	st, err := f.ctrl.State(ctx)
	require.NoError(t, err)

	cancel()

	require.Eventually(t, func() bool { return f.player.closed.Load() == f.player.opened.Load() }, waitFor, tick)
	require.Eventually(t, func() bool { return len(f.surface.kinds("hide")) == 1 }, waitFor, tick)

	// registry.Close and registry.StopAll still reach the controller after
	// the runtime context is gone.
	f.ctrl.Close()
	assert.ErrorIs(t, f.ctrl.RequestStop(ctx), controller.ErrClosed)

	assert.Equal(t, int32(1), f.player.opened.Load())
	assert.Equal(t, int32(1), f.player.closed.Load())
	assert.Len(t, f.surface.kinds("hide"), 1)
	assert.Empty(t, f.surface.kinds("notice"))

	sess, err := f.events.GetSession(ctx, st.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "stopped", sess.Outcome)
}
