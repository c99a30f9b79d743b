package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-reader/internal/config"
	"github.com/loqalabs/loqa-reader/internal/logging"
	"github.com/loqalabs/loqa-reader/internal/runtime"
)

var version = "0.1.0-dev"

func main() {
	var (
		configPath  string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.BoolVar(&showVersion, "version", false, "Print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := logging.ParseLevel(cfg.Telemetry.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	opts := []logging.Option{
		logging.WithLevel(level),
		logging.WithFormat(cfg.Telemetry.LogFormat),
	}
	if cfg.Telemetry.LogFile != "" {
		opts = append(opts, logging.WithLogFile(cfg.Telemetry.LogFile, cfg.Telemetry.LogMaxSizeMB, cfg.Telemetry.LogMaxBackups))
	}
	logger, closeLog := logging.New(opts...)
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting loqa-reader", slog.String("version", version), slog.String("environment", cfg.Environment))

	rt := runtime.New(cfg, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rt.Start(ctx); err != nil {
		logger.Error("runtime exited with error", slog.String("error", err.Error()))
		time.Sleep(1 * time.Second)
		closeLog()
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
