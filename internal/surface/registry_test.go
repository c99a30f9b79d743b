package surface_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/loqalabs/loqa-reader/internal/controller"
	"github.com/loqalabs/loqa-reader/internal/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeController struct {
	mu      sync.Mutex
	calls   []string
	closed  bool
	readErr error
}

func (f *fakeController) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeController) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeController) gone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeController) RequestRead(_ context.Context, text string) error {
	f.record("read:" + text)
	if f.gone() {
		return controller.ErrClosed
	}
	return f.readErr
}

func (f *fakeController) RequestStop(context.Context) error {
	f.record("stop")
	if f.gone() {
		return controller.ErrClosed
	}
	return nil
}

func (f *fakeController) Pause(context.Context) error       { f.record("pause"); return nil }
func (f *fakeController) Resume(context.Context) error      { f.record("resume"); return nil }
func (f *fakeController) TogglePause(context.Context) error { f.record("toggle"); return nil }
func (f *fakeController) Skip(context.Context) error        { f.record("skip"); return nil }

func (f *fakeController) State(context.Context) (controller.State, error) {
	return controller.State{Status: "idle"}, nil
}

func (f *fakeController) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

type factory struct {
	mu    sync.Mutex
	built map[string][]*fakeController
}

func (f *factory) build(id string, _ controller.Surface) (surface.Controller, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.built == nil {
		f.built = make(map[string][]*fakeController)
	}
	c := &fakeController{}
	f.built[id] = append(f.built[id], c)
	return c, nil
}

func (f *factory) controllers(id string) []*fakeController {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*fakeController(nil), f.built[id]...)
}

func newRegistry(delay time.Duration) (*surface.Registry, *factory) {
	f := &factory{}
	r := surface.NewRegistry(surface.Config{
		Factory:   f.build,
		InitDelay: delay,
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return r, f
}

func TestInstallIsIdempotent(t *testing.T) {
	t.Parallel()

	r, f := newRegistry(0)
	created, err := r.Install("tab-1", nil)
	require.NoError(t, err)
	assert.True(t, created)

	created, err = r.Install("tab-1", nil)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Len(t, f.controllers("tab-1"), 1)
}

func TestReadInstallsAndWaits(t *testing.T) {
	t.Parallel()

	r, f := newRegistry(30 * time.Millisecond)
	start := time.Now()
	require.NoError(t, r.Read(context.Background(), "tab-1", nil, "Hello."))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)

	ctrls := f.controllers("tab-1")
	require.Len(t, ctrls, 1)
	assert.Equal(t, []string{"read:Hello."}, ctrls[0].history())
}

func TestReadOnInstalledSurfaceStopsFirst(t *testing.T) {
	t.Parallel()

	r, f := newRegistry(time.Hour)
	_, err := r.Install("tab-1", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Read(ctx, "tab-1", nil, "Again."))

	ctrls := f.controllers("tab-1")
	require.Len(t, ctrls, 1)
	assert.Equal(t, []string{"stop", "read:Again."}, ctrls[0].history())
}

func TestStopResults(t *testing.T) {
	t.Parallel()

	r, _ := newRegistry(0)
	ctx := context.Background()
	assert.Equal(t, surface.NoController, r.Stop(ctx, "missing"))

	_, err := r.Install("tab-1", nil)
	require.NoError(t, err)
	assert.Equal(t, surface.Delivered, r.Stop(ctx, "tab-1"))
	assert.Equal(t, "delivered", surface.Delivered.String())
	assert.Equal(t, "no_controller", surface.NoController.String())
}

func TestNavigateTearsDownController(t *testing.T) {
	t.Parallel()

	r, f := newRegistry(0)
	ctx := context.Background()
	require.NoError(t, r.Read(ctx, "tab-1", nil, "One."))

	r.Navigate("tab-1")
	assert.False(t, r.Installed("tab-1"))
	assert.True(t, f.controllers("tab-1")[0].gone())
	assert.Equal(t, surface.NoController, r.Stop(ctx, "tab-1"))

	require.NoError(t, r.Read(ctx, "tab-1", nil, "Two."))
	assert.Len(t, f.controllers("tab-1"), 2, "a navigated surface gets a fresh controller")
}

func TestDeliveryFailureClearsMarker(t *testing.T) {
	t.Parallel()

	r, f := newRegistry(0)
	ctx := context.Background()
	_, err := r.Install("tab-1", nil)
	require.NoError(t, err)

	// The controller dies without the registry noticing.
	f.controllers("tab-1")[0].Close()

	assert.Equal(t, surface.NoController, r.Stop(ctx, "tab-1"))
	assert.False(t, r.Installed("tab-1"), "a failed stop clears the marker")
}

func TestReadReportsDeliveryFailure(t *testing.T) {
	t.Parallel()

	closing := &fakeController{}
	r := surface.NewRegistry(surface.Config{
		Factory: func(string, controller.Surface) (surface.Controller, error) {
			return closing, nil
		},
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	closing.readErr = controller.ErrClosed

	err := r.Read(context.Background(), "tab-1", nil, "Hello.")
	require.ErrorIs(t, err, surface.ErrDeliveryFailed)
	assert.False(t, r.Installed("tab-1"))
}

func TestReadPassesControllerErrors(t *testing.T) {
	t.Parallel()

	ctrl := &fakeController{readErr: controller.ErrConfigMissing}
	r := surface.NewRegistry(surface.Config{
		Factory: func(string, controller.Surface) (surface.Controller, error) { return ctrl, nil },
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	err := r.Read(context.Background(), "tab-1", nil, "Hello.")
	require.ErrorIs(t, err, controller.ErrConfigMissing)
	assert.True(t, r.Installed("tab-1"))
}

func TestFactoryErrorIsReturned(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	r := surface.NewRegistry(surface.Config{
		Factory: func(string, controller.Surface) (surface.Controller, error) { return nil, boom },
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	err := r.Read(context.Background(), "tab-1", nil, "x")
	require.ErrorIs(t, err, boom)
	assert.False(t, r.Installed("tab-1"))
}

func TestControlActions(t *testing.T) {
	t.Parallel()

	r, f := newRegistry(0)
	ctx := context.Background()

	res, err := r.Control(ctx, "tab-1", "pause")
	require.NoError(t, err)
	assert.Equal(t, surface.NoController, res)

	_, err = r.Install("tab-1", nil)
	require.NoError(t, err)
	for _, action := range []string{"pause", "resume", "toggle", "skip"} {
		res, err := r.Control(ctx, "tab-1", action)
		require.NoError(t, err)
		assert.Equal(t, surface.Delivered, res)
	}
	assert.Equal(t, []string{"pause", "resume", "toggle", "skip"}, f.controllers("tab-1")[0].history())

	_, err = r.Control(ctx, "tab-1", "rewind")
	require.ErrorIs(t, err, surface.ErrUnknownAction)
}

func TestStopAllAndSnapshot(t *testing.T) {
	t.Parallel()

	r, f := newRegistry(0)
	for _, id := range []string{"tab-b", "tab-a"} {
		_, err := r.Install(id, nil)
		require.NoError(t, err)
	}

	r.StopAll(context.Background())
	assert.Equal(t, []string{"stop"}, f.controllers("tab-a")[0].history())
	assert.Equal(t, []string{"stop"}, f.controllers("tab-b")[0].history())

	snap := r.Snapshot(context.Background())
	require.Len(t, snap, 2)
	assert.Equal(t, "tab-a", snap[0].ID)
	assert.Equal(t, "idle", snap[0].State.Status)

	r.Close()
	assert.Empty(t, r.Snapshot(context.Background()))
	assert.True(t, f.controllers("tab-a")[0].gone())
}

type stubSurface struct{ name string }

func (*stubSurface) ShowProgress(controller.Progress) {}
func (*stubSurface) Hide()                            {}
func (*stubSurface) SetPauseLabel(string)             {}
func (*stubSurface) SetNextEnabled(bool)              {}
func (*stubSurface) Notice(string)                    {}
func (*stubSurface) OpenSettings()                    {}

func TestRemoveOwnedKeepsOtherOwnersController(t *testing.T) {
	t.Parallel()

	r, f := newRegistry(0)
	owner, other := &stubSurface{name: "owner"}, &stubSurface{name: "other"}

	_, err := r.Install("tab-1", owner)
	require.NoError(t, err)
	created, err := r.Install("tab-1", other)
	require.NoError(t, err)
	assert.False(t, created)

	assert.False(t, r.RemoveOwned("tab-1", other))
	assert.False(t, r.RemoveOwned("tab-1", nil))
	require.True(t, r.Installed("tab-1"))
	assert.False(t, f.controllers("tab-1")[0].gone())

	assert.True(t, r.RemoveOwned("tab-1", owner))
	assert.False(t, r.Installed("tab-1"))
	assert.True(t, f.controllers("tab-1")[0].gone())
	assert.False(t, r.RemoveOwned("tab-1", owner))
}
