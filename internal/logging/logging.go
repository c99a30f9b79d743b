// Package logging builds the process slog.Logger: tinted console output in
// development, JSON elsewhere, and an optional rotated log file.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"
)

type options struct {
	level      slog.Level
	format     string
	file       string
	maxSizeMB  int
	maxBackups int
	out        io.Writer
}

type Option func(*options)

func WithLevel(level slog.Level) Option {
	return func(o *options) { o.level = level }
}

// WithFormat selects "text" (tinted console) or "json".
func WithFormat(format string) Option {
	return func(o *options) { o.format = format }
}

// WithLogFile additionally writes JSON records to path, rotated at maxSizeMB.
func WithLogFile(path string, maxSizeMB, maxBackups int) Option {
	return func(o *options) {
		o.file = path
		o.maxSizeMB = maxSizeMB
		o.maxBackups = maxBackups
	}
}

func WithOutput(w io.Writer) Option {
	return func(o *options) { o.out = w }
}

// New returns a logger and a close function for the log file, if any.
func New(opts ...Option) (*slog.Logger, func() error) {
	o := options{level: slog.LevelInfo, format: "text", out: os.Stderr}
	for _, opt := range opts {
		opt(&o)
	}

	var console slog.Handler
	switch o.format {
	case "json":
		console = slog.NewJSONHandler(o.out, &slog.HandlerOptions{Level: o.level})
	default:
		console = tint.NewHandler(o.out, &tint.Options{
			Level:      o.level,
			TimeFormat: time.TimeOnly,
		})
	}

	if o.file == "" {
		return slog.New(console), func() error { return nil }
	}

	rotator := &lumberjack.Logger{
		Filename:   o.file,
		MaxSize:    o.maxSizeMB,
		MaxBackups: o.maxBackups,
		Compress:   true,
	}
	file := slog.NewJSONHandler(rotator, &slog.HandlerOptions{Level: o.level})
	return slog.New(fanout{console, file}), rotator.Close
}

// ParseLevel accepts debug, info, warn/warning and error.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// fanout sends each record to every handler that accepts its level.
type fanout []slog.Handler

func (f fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range f {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (f fanout) Handle(ctx context.Context, r slog.Record) error {
	var first error
	for _, h := range f {
		if !h.Enabled(ctx, r.Level) {
			continue
		}
		if err := h.Handle(ctx, r.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (f fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithAttrs(attrs)
	}
	return out
}

func (f fanout) WithGroup(name string) slog.Handler {
	out := make(fanout, len(f))
	for i, h := range f {
		out[i] = h.WithGroup(name)
	}
	return out
}
