// Package runtime assembles the reader daemon: bus, stores, controllers,
// gateway and the HTTP surface.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-reader/internal/blobstore"
	"github.com/loqalabs/loqa-reader/internal/bus"
	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/controller"
	"github.com/loqalabs/loqa-reader/internal/eventstore"
	"github.com/loqalabs/loqa-reader/internal/gateway"
	"github.com/loqalabs/loqa-reader/internal/natsserver"
	"github.com/loqalabs/loqa-reader/internal/playback"
	"github.com/loqalabs/loqa-reader/internal/settings"
	"github.com/loqalabs/loqa-reader/internal/surface"
	"github.com/loqalabs/loqa-reader/internal/synthesis"
	"go.opentelemetry.io/otel"
)

const (
	shutdownTimeout = 10 * time.Second
	audioTTL        = 10 * time.Minute
)

type Runtime struct {
	cfg           config.Config
	logger        *slog.Logger
	httpServer    *http.Server
	metricsServer *http.Server
	tracerClose   func(context.Context) error
	ready         atomic.Bool
	wg            sync.WaitGroup

	nats     *natsserver.EmbeddedServer
	bus      *bus.Client
	events   *eventstore.Store
	settings *settings.Store
	blobs    *blobstore.Store
	synth    synthesis.Synthesizer
	metrics  *controller.Metrics
	reporter controller.Reporter
	registry *surface.Registry
	gateway  *gateway.Service
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start brings every component up, serves until ctx is cancelled and then
// shuts down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	if initSentry(r.cfg, r.logger) {
		r.reporter = sentryReporter{}
	}

	if err := r.startComponents(ctx); err != nil {
		r.shutdown()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(ctx, metricsHandler),
		ReadHeaderTimeout: 5 * time.Second,
	}
	r.serve(r.httpServer, "http")

	if metricsHandler != nil && r.cfg.Telemetry.PrometheusBind != addr {
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metricsHandler)
		r.metricsServer = &http.Server{
			Addr:              r.cfg.Telemetry.PrometheusBind,
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		r.serve(r.metricsServer, "metrics")
	}

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("synthesis", r.cfg.Synthesis.Mode),
		slog.String("playback", r.cfg.Playback.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	r.shutdown()
	return nil
}

func (r *Runtime) routes(ctx context.Context, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", r.handleHealth)
	mux.HandleFunc("GET /readyz", r.handleReady)
	mux.HandleFunc("GET /surfaces", r.handleSurfaces)
	mux.HandleFunc("GET /sessions", r.handleSessions)
	mux.HandleFunc("GET /sessions/{id}", r.handleSession)
	if metricsHandler != nil {
		mux.Handle("GET /metrics", metricsHandler)
	}
	if r.cfg.Surfaces.Websocket {
		timeout := time.Duration(r.cfg.Bus.RequestTimeout) * time.Millisecond
		mux.Handle("/ws", gateway.NewWebsocketHandler(ctx, r.registry, r.settings, timeout, r.cfg.Surfaces.AllowedOrigins, r.logger))
	}
	return withSentryRecovery(mux)
}

func (r *Runtime) startComponents(ctx context.Context) error {
	ns, err := natsserver.Start(r.cfg.Bus, r.logger)
	if err != nil {
		return err
	}
	r.nats = ns
	busCfg := r.cfg.Bus
	if ns != nil {
		busCfg.Servers = []string{ns.ClientURL()}
	}

	r.bus, err = bus.Connect(ctx, r.cfg.RuntimeName, busCfg, r.logger)
	if err != nil {
		return err
	}

	r.events, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	r.settings, err = settings.Open(r.cfg.Settings.Path, r.logger)
	if err != nil {
		return fmt.Errorf("open settings: %w", err)
	}

	if r.cfg.Playback.Mode == "bus" {
		r.blobs, err = blobstore.Open(r.bus.JetStream(), r.cfg.Playback.BlobBucket, audioTTL)
		if err != nil {
			return fmt.Errorf("open audio bucket: %w", err)
		}
	}

	r.synth = newSynthesizer(r.cfg.Synthesis, r.logger)

	r.metrics, err = controller.NewMetrics(otel.Meter("github.com/loqalabs/loqa-reader/controller"))
	if err != nil {
		r.logger.Warn("failed to initialize controller metrics", slog.String("error", err.Error()))
	}

	r.registry = surface.NewRegistry(surface.Config{
		Factory:   r.controllerFactory(ctx),
		InitDelay: time.Duration(r.cfg.Surfaces.InitDelayMS) * time.Millisecond,
		Logger:    r.logger,
	})

	timeout := time.Duration(r.cfg.Bus.RequestTimeout) * time.Millisecond
	r.gateway = gateway.NewService(ctx, r.bus, r.registry, r.settings, timeout, r.logger)
	if err := r.gateway.Start(); err != nil {
		return fmt.Errorf("start gateway: %w", err)
	}
	return nil
}

func (r *Runtime) controllerFactory(ctx context.Context) surface.Factory {
	return func(surfaceID string, ui controller.Surface) (surface.Controller, error) {
		player, err := r.newPlayer(surfaceID)
		if err != nil {
			return nil, err
		}
		return controller.New(ctx, controller.Config{
			SurfaceID:   surfaceID,
			Settings:    r.settings,
			Synthesizer: r.synth,
			Player:      player,
			Surface:     ui,
			Events:      r.events,
			Reporter:    r.reporter,
			Metrics:     r.metrics,
			Logger:      r.logger,
		}), nil
	}
}

func (r *Runtime) newPlayer(surfaceID string) (playback.Player, error) {
	cfg := r.cfg.Playback
	switch cfg.Mode {
	case "exec":
		return playback.NewExecPlayer(cfg.Command, cfg.FileExtension, r.logger)
	case "bus":
		if r.blobs == nil {
			return nil, errors.New("bus playback requires the audio bucket")
		}
		return playback.NewBusPlayer(r.bus.Conn(), r.blobs, surfaceID, r.logger), nil
	default:
		return playback.NewMockPlayer(time.Duration(cfg.MockDurationMS) * time.Millisecond), nil
	}
}

func newSynthesizer(cfg config.SynthesisConfig, logger *slog.Logger) synthesis.Synthesizer {
	if cfg.Mode == "mock" {
		return synthesis.NewMockSynth(time.Duration(cfg.MockDelayMS) * time.Millisecond)
	}
	return synthesis.NewClient(cfg.Endpoint, time.Duration(cfg.TimeoutMS)*time.Millisecond, logger)
}

func (r *Runtime) serve(srv *http.Server, name string) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error(name+" server failed", slog.String("error", err.Error()))
		}
	}()
}

// shutdown stops whatever Start managed to bring up.
func (r *Runtime) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	for _, srv := range []*http.Server{r.httpServer, r.metricsServer} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
	}
	r.wg.Wait()

	if r.registry != nil {
		r.registry.StopAll(ctx)
	}
	if r.gateway != nil {
		r.gateway.Close()
	}
	if r.registry != nil {
		r.registry.Close()
	}
	if r.settings != nil {
		if err := r.settings.Close(); err != nil {
			r.logger.Warn("settings close error", slog.String("error", err.Error()))
		}
	}
	if err := r.events.Close(); err != nil {
		r.logger.Warn("event store close error", slog.String("error", err.Error()))
	}
	r.bus.Close()
	r.nats.Shutdown()

	if r.reporter != nil {
		flushSentry()
	}
	if r.tracerClose != nil {
		if err := r.tracerClose(ctx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}
}
