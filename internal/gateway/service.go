// Package gateway exposes the surface registry and the settings store to
// clients over NATS request/reply subjects and a websocket endpoint.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/controller"
	"github.com/loqalabs/loqa-reader/internal/protocol"
	"github.com/loqalabs/loqa-reader/internal/settings"
	"github.com/loqalabs/loqa-reader/internal/surface"
	"github.com/nats-io/nats.go"
)

var errMissingSurface = errors.New("surface_id is required")

// SettingsStore is the persisted settings record.
type SettingsStore interface {
	Get(ctx context.Context) (settings.Record, error)
	Save(ctx context.Context, rec settings.Record) error
}

type Service struct {
	bus      *bus.Client
	registry *surface.Registry
	settings SettingsStore
	timeout  time.Duration
	logger   *slog.Logger

	subs   []*nats.Subscription
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// closed is set under mu before Close waits on wg, so no handler
	// goroutine is added once the wait has begun.
	mu     sync.Mutex
	closed bool
}

func NewService(parent context.Context, busClient *bus.Client, registry *surface.Registry, store SettingsStore, timeout time.Duration, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		bus:      busClient,
		registry: registry,
		settings: store,
		timeout:  timeout,
		logger:   log.With(slog.String("component", "gateway")),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (s *Service) Start() error {
	handlers := []struct {
		subject string
		handler nats.MsgHandler
	}{
		{protocol.SubjectReadCommand, s.async(s.handleRead)},
		{protocol.SubjectStopCommand, s.async(s.handleStop)},
		{protocol.SubjectControlCommand, s.async(s.handleControl)},
		{protocol.SubjectSettingsGet, s.handleSettingsGet},
		{protocol.SubjectSettingsSet, s.handleSettingsSet},
		{protocol.SubjectLifecycle, s.handleLifecycle},
	}
	for _, h := range handlers {
		sub, err := s.bus.Conn().Subscribe(h.subject, h.handler)
		if err != nil {
			s.drain()
			return fmt.Errorf("subscribe %s: %w", h.subject, err)
		}
		s.subs = append(s.subs, sub)
	}
	s.logger.Info("gateway listening", slog.Int("subjects", len(s.subs)))
	return nil
}

func (s *Service) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.drain()
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return len(s.subs) > 0 && s.bus.Healthy() }

func (s *Service) drain() {
	for _, sub := range s.subs {
		_ = sub.Drain()
	}
}

// async runs handler off the subscription goroutine; reads may wait for a
// controller to initialize.
func (s *Service) async(handler nats.MsgHandler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		if !s.spawn(func() { handler(msg) }) {
			s.logger.Debug("gateway closing, message dropped", slog.String("subject", msg.Subject))
		}
	}
}

// spawn runs fn on a tracked goroutine. It reports false once Close has
// started.
func (s *Service) spawn(fn func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
	return true
}

func (s *Service) handleRead(msg *nats.Msg) {
	var req protocol.ReadRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode read request", slogError(err))
		s.reply(msg, errorReply(err))
		return
	}
	if strings.TrimSpace(req.SurfaceID) == "" {
		s.reply(msg, errorReply(errMissingSurface))
		return
	}

	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	ui := NewBusSurface(s.bus.Conn(), req.SurfaceID, s.logger)
	err := s.registry.Read(ctx, req.SurfaceID, ui, req.Text)
	s.reply(msg, readReply(err))
}

func (s *Service) handleStop(msg *nats.Msg) {
	var req protocol.StopRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode stop request", slogError(err))
		s.reply(msg, errorReply(err))
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	result := s.registry.Stop(ctx, req.SurfaceID)
	s.reply(msg, protocol.CommandReply{Outcome: result.String()})
}

func (s *Service) handleControl(msg *nats.Msg) {
	var req protocol.ControlRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode control request", slogError(err))
		s.reply(msg, errorReply(err))
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	result, err := s.registry.Control(ctx, req.SurfaceID, req.Action)
	if err != nil {
		s.reply(msg, errorReply(err))
		return
	}
	s.reply(msg, protocol.CommandReply{Outcome: result.String()})
}

func (s *Service) handleSettingsGet(msg *nats.Msg) {
	rec, err := s.settings.Get(s.ctx)
	if err != nil {
		s.reply(msg, errorReply(err))
		return
	}
	s.reply(msg, toWire(rec))
}

func (s *Service) handleSettingsSet(msg *nats.Msg) {
	var rec protocol.SettingsRecord
	if err := json.Unmarshal(msg.Data, &rec); err != nil {
		s.reply(msg, errorReply(err))
		return
	}
	s.reply(msg, saveReply(saveSettings(s.ctx, s.settings, rec)))
}

func (s *Service) handleLifecycle(msg *nats.Msg) {
	var ev protocol.LifecycleEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		s.logger.Warn("failed to decode lifecycle event", slogError(err))
		return
	}
	switch ev.Event {
	case protocol.LifecycleNavigate:
		s.spawn(func() { s.registry.Navigate(ev.SurfaceID) })
	case protocol.LifecycleRemoved:
		s.spawn(func() { s.registry.Remove(ev.SurfaceID) })
	default:
		s.logger.Warn("unknown lifecycle event", slog.String("event", ev.Event))
	}
}

func (s *Service) reply(msg *nats.Msg, v any) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("failed to marshal reply", slogError(err))
		return
	}
	if err := msg.Respond(data); err != nil {
		s.logger.Warn("failed to send reply", slogError(err))
	}
}

// readReply maps the result of a read delivery onto its wire outcome.
func readReply(err error) protocol.CommandReply {
	switch {
	case err == nil:
		return protocol.CommandReply{Outcome: protocol.OutcomeStarted}
	case errors.Is(err, controller.ErrConfigMissing):
		return protocol.CommandReply{Outcome: protocol.OutcomeConfigMissing, Error: err.Error()}
	case errors.Is(err, controller.ErrEmptyInput):
		return protocol.CommandReply{Outcome: protocol.OutcomeEmptyInput, Error: err.Error()}
	case errors.Is(err, surface.ErrDeliveryFailed):
		return protocol.CommandReply{Outcome: protocol.OutcomeDeliveryFailed, Error: err.Error()}
	default:
		return errorReply(err)
	}
}

func saveReply(err error) protocol.CommandReply {
	switch {
	case err == nil:
		return protocol.CommandReply{Outcome: protocol.OutcomeSaved}
	case errors.Is(err, settings.ErrInvalid):
		return protocol.CommandReply{Outcome: protocol.OutcomeInvalid, Error: err.Error()}
	default:
		return errorReply(err)
	}
}

func errorReply(err error) protocol.CommandReply {
	return protocol.CommandReply{Outcome: protocol.OutcomeError, Error: err.Error()}
}

// toWire redacts the API key.
func toWire(rec settings.Record) protocol.SettingsRecord {
	return protocol.SettingsRecord{
		Configured:   strings.TrimSpace(rec.APIKey) != "",
		Voice:        rec.Voice,
		Model:        rec.Model,
		Instructions: rec.Instructions,
	}
}

// saveSettings stores rec, keeping the stored API key when rec leaves it
// empty since clients never see it.
func saveSettings(ctx context.Context, store SettingsStore, rec protocol.SettingsRecord) error {
	next := fromWire(rec)
	if strings.TrimSpace(next.APIKey) == "" {
		stored, err := store.Get(ctx)
		if err != nil {
			return err
		}
		next.APIKey = stored.APIKey
	}
	return store.Save(ctx, next)
}

func fromWire(rec protocol.SettingsRecord) settings.Record {
	return settings.Record{
		APIKey:       rec.APIKey,
		Voice:        rec.Voice,
		Model:        rec.Model,
		Instructions: rec.Instructions,
	}
}
