// Package surface keeps one controller per surface and tears it down when
// the surface navigates away or disappears.
package surface

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/controller"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// ErrDeliveryFailed means the surface's controller went away while a
// command was being delivered.
var ErrDeliveryFailed = errors.New("delivery to surface failed")

// ErrUnknownAction is returned by Control for actions it does not know.
var ErrUnknownAction = errors.New("unknown control action")

const DefaultInitDelay = 100 * time.Millisecond

type StopResult int

const (
	Delivered StopResult = iota
	NoController
)

func (r StopResult) String() string {
	if r == Delivered {
		return "delivered"
	}
	return "no_controller"
}

// Controller is the part of *controller.Controller the registry drives.
type Controller interface {
	RequestRead(ctx context.Context, text string) error
	RequestStop(ctx context.Context) error
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
	TogglePause(ctx context.Context) error
	Skip(ctx context.Context) error
	State(ctx context.Context) (controller.State, error)
	Close()
}

// Factory builds the controller for a surface rendering to ui.
type Factory func(surfaceID string, ui controller.Surface) (Controller, error)

type Config struct {
	Factory   Factory
	InitDelay time.Duration
	Logger    *slog.Logger
}

// Info describes one installed surface.
type Info struct {
	ID          string           `json:"id"`
	InstalledAt time.Time        `json:"installed_at"`
	LastSeen    time.Time        `json:"last_seen"`
	State       controller.State `json:"state"`
}

type entry struct {
	id          string
	ctrl        Controller
	ui          controller.Surface
	installedAt time.Time
	lastSeen    time.Time
}

type Registry struct {
	factory   Factory
	initDelay time.Duration
	log       *slog.Logger

	mu      sync.RWMutex
	entries map[string]*entry

	meter metric.Meter
	gauge metric.Int64ObservableGauge
}

func NewRegistry(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		factory:   cfg.Factory,
		initDelay: cfg.InitDelay,
		log:       logger.With(slog.String("component", "surface-registry")),
		entries:   make(map[string]*entry),
		meter:     otel.Meter("github.com/loqalabs/loqa-reader/surface"),
	}
	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	return r
}

// Install creates the controller for id unless one exists. It reports
// whether a new controller was created.
func (r *Registry) Install(id string, ui controller.Surface) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	if e, ok := r.entries[id]; ok {
		e.lastSeen = now
		return false, nil
	}
	ctrl, err := r.factory(id, ui)
	if err != nil {
		return false, fmt.Errorf("create controller for %s: %w", id, err)
	}
	r.entries[id] = &entry{id: id, ctrl: ctrl, ui: ui, installedAt: now, lastSeen: now}
	r.log.Info("controller installed", slog.String("surface_id", id))
	return true, nil
}

// Installed reports whether id has a controller.
func (r *Registry) Installed(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Navigate tears down the controller of a surface that loaded a new page.
func (r *Registry) Navigate(id string) {
	if r.teardown(id) {
		r.log.Info("surface navigated, controller removed", slog.String("surface_id", id))
	}
}

// Remove tears down the controller of a closed surface.
func (r *Registry) Remove(id string) {
	if r.teardown(id) {
		r.log.Info("surface removed", slog.String("surface_id", id))
	}
}

// RemoveOwned tears down the controller of id only if it was installed to
// render to ui. A connection that goes away must not take down a controller
// another connection owns.
func (r *Registry) RemoveOwned(id string, ui controller.Surface) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.ui != ui {
		r.mu.Unlock()
		return false
	}
	delete(r.entries, id)
	r.mu.Unlock()

	e.ctrl.Close()
	r.log.Info("surface removed", slog.String("surface_id", id))
	return true
}

// Read delivers a read request, installing the controller first when the
// surface has none.
func (r *Registry) Read(ctx context.Context, id string, ui controller.Surface, text string) error {
	r.Stop(ctx, id)

	installed, err := r.Install(id, ui)
	if err != nil {
		return err
	}
	if installed && r.initDelay > 0 {
		timer := time.NewTimer(r.initDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	ctrl, ok := r.lookup(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, id)
	}
	if err := ctrl.RequestRead(ctx, text); err != nil {
		if errors.Is(err, controller.ErrClosed) {
			r.forget(id, ctrl)
			return fmt.Errorf("%w: %s", ErrDeliveryFailed, id)
		}
		return err
	}
	return nil
}

// Stop asks the surface's controller to stop. A surface without a working
// controller reports NoController, which callers treat as success.
func (r *Registry) Stop(ctx context.Context, id string) StopResult {
	ctrl, ok := r.lookup(id)
	if !ok {
		return NoController
	}
	if err := ctrl.RequestStop(ctx); err != nil {
		if errors.Is(err, controller.ErrClosed) {
			r.forget(id, ctrl)
		}
		r.log.Debug("stop not delivered", slog.String("surface_id", id), slog.String("error", err.Error()))
		return NoController
	}
	return Delivered
}

// Control forwards a popup button press: pause, resume, toggle or skip.
func (r *Registry) Control(ctx context.Context, id, action string) (StopResult, error) {
	ctrl, ok := r.lookup(id)
	if !ok {
		return NoController, nil
	}
	var err error
	switch action {
	case "pause":
		err = ctrl.Pause(ctx)
	case "resume":
		err = ctrl.Resume(ctx)
	case "toggle":
		err = ctrl.TogglePause(ctx)
	case "skip":
		err = ctrl.Skip(ctx)
	default:
		return NoController, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if errors.Is(err, controller.ErrClosed) {
		r.forget(id, ctrl)
		return NoController, nil
	}
	return Delivered, err
}

// StopAll stops playback on every surface.
func (r *Registry) StopAll(ctx context.Context) {
	for _, id := range r.ids() {
		r.Stop(ctx, id)
	}
}

// Snapshot lists installed surfaces ordered by id.
func (r *Registry) Snapshot(ctx context.Context) []Info {
	r.mu.RLock()
	infos := make([]Info, 0, len(r.entries))
	ctrls := make([]Controller, 0, len(r.entries))
	for _, e := range r.entries {
		infos = append(infos, Info{ID: e.id, InstalledAt: e.installedAt, LastSeen: e.lastSeen})
		ctrls = append(ctrls, e.ctrl)
	}
	r.mu.RUnlock()

	for i, ctrl := range ctrls {
		if st, err := ctrl.State(ctx); err == nil {
			infos[i].State = st
		}
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close tears down every controller.
func (r *Registry) Close() {
	for _, id := range r.ids() {
		r.teardown(id)
	}
}

func (r *Registry) lookup(id string) (Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok {
		return nil, false
	}
	e.lastSeen = time.Now().UTC()
	return e.ctrl, true
}

// forget clears the marker for id if it still points at ctrl.
func (r *Registry) forget(id string, ctrl Controller) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if ok && e.ctrl == ctrl {
		delete(r.entries, id)
	}
	r.mu.Unlock()
	if ok && e.ctrl == ctrl {
		r.log.Warn("controller unreachable, marker cleared", slog.String("surface_id", id))
	}
}

func (r *Registry) teardown(id string) bool {
	r.mu.Lock()
	e, ok := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	e.ctrl.Close()
	return true
}

func (r *Registry) ids() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	return ids
}

func (r *Registry) initMetrics() error {
	gauge, err := r.meter.Int64ObservableGauge("reader.surfaces.installed",
		metric.WithDescription("Surfaces with an installed controller"))
	if err != nil {
		return err
	}
	r.gauge = gauge
	_, err = r.meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		r.mu.RLock()
		n := int64(len(r.entries))
		r.mu.RUnlock()
		obs.ObserveInt64(gauge, n)
		return nil
	}, gauge)
	return err
}
