// Package errtrack reports handler and upstream failures to Sentry.
//
// Realtime event handlers and gateway calls must never tear down a
// connection on a single fault, so errors land here instead of
// propagating. When no DSN is configured the reporter degrades to
// structured logging only.
package errtrack

import (
	"context"
	"log/slog"
	"time"

	"github.com/getsentry/sentry-go"
)

// Reporter captures errors for out-of-band investigation.
type Reporter interface {
	Capture(ctx context.Context, err error, tags map[string]string)
}

// SentryReporter sends errors to Sentry and mirrors them to the logger.
type SentryReporter struct {
	logger  *slog.Logger
	enabled bool
}

// Init configures the global Sentry client. An empty DSN disables
// transport; captures then only hit the logger.
func Init(dsn, env string, logger *slog.Logger) (*SentryReporter, error) {
	if dsn == "" {
		logger.Info("error tracking disabled (no SENTRY_DSN set)")
		return &SentryReporter{logger: logger}, nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:         dsn,
		Environment: env,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("error tracking enabled")
	return &SentryReporter{logger: logger, enabled: true}, nil
}

// Capture reports an error with optional tags.
func (r *SentryReporter) Capture(ctx context.Context, err error, tags map[string]string) {
	if err == nil {
		return
	}
	attrs := make([]any, 0, 2+2*len(tags))
	attrs = append(attrs, "error", err)
	for k, v := range tags {
		attrs = append(attrs, k, v)
	}
	r.logger.Error("captured error", attrs...)

	if !r.enabled {
		return
	}
	sentry.WithScope(func(scope *sentry.Scope) {
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}

// Flush drains buffered events. Call on shutdown.
func (r *SentryReporter) Flush(timeout time.Duration) {
	if r.enabled {
		sentry.Flush(timeout)
	}
}

// Nop returns a reporter that drops everything. For tests.
func Nop() Reporter {
	return nopReporter{}
}

type nopReporter struct{}

func (nopReporter) Capture(context.Context, error, map[string]string) {}
