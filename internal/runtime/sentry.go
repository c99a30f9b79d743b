package runtime

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/loqalabs/loqa-reader/internal/config"
)

const sentryFlushTimeout = 2 * time.Second

// initSentry reports whether error reporting is enabled.
func initSentry(cfg config.Config, logger *slog.Logger) bool {
	if cfg.Telemetry.SentryDSN == "" {
		return false
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.Telemetry.SentryDSN,
		EnableTracing:    true,
		TracesSampleRate: 0.2,
		Environment:      cfg.Environment,
		ServerName:       cfg.RuntimeName,
	})
	if err != nil {
		logger.Warn("sentry init failed", slog.String("error", err.Error()))
		return false
	}
	logger.Info("sentry initialized")
	return true
}

func flushSentry() {
	sentry.Flush(sentryFlushTimeout)
}

// sentryReporter forwards failed sessions to Sentry.
type sentryReporter struct{}

func (sentryReporter) Report(err error, tags map[string]string) {
	if err == nil {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

func withSentryRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if errors.Is(asError(rec), http.ErrAbortHandler) {
					panic(rec)
				}
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(req)
				hub.RecoverWithContext(req.Context(), rec)
				hub.Flush(sentryFlushTimeout)
				http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, req)
	})
}

func asError(v any) error {
	err, _ := v.(error)
	return err
}
