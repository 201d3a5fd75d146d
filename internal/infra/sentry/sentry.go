package sentry

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
)

// Init configures the global Sentry client. An empty DSN leaves reporting off
// and returns false.
func Init(dsn, env, release string, tracesSampleRate float64) (bool, error) {
	if strings.TrimSpace(dsn) == "" {
		return false, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      env,
		Release:          release,
		EnableTracing:    tracesSampleRate > 0,
		TracesSampleRate: tracesSampleRate,
		AttachStacktrace: true,
	})
	if err != nil {
		return false, fmt.Errorf("init sentry: %w", err)
	}
	return true, nil
}

func Flush() {
	sentry.Flush(2 * time.Second)
}

// Middleware reports panics and attaches a per-request hub. Panics are
// re-raised so chi's Recoverer still writes the 500.
func Middleware() func(http.Handler) http.Handler {
	handler := sentryhttp.New(sentryhttp.Options{
		Repanic:         true,
		WaitForDelivery: false,
		Timeout:         2 * time.Second,
	})
	return handler.Handle
}

// CaptureError reports err with the request hub when ctx carries one.
func CaptureError(ctx context.Context, err error, message string) {
	if err == nil {
		return
	}

	hub := sentry.GetHubFromContext(ctx)
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetExtra("message", message)
		hub.CaptureException(err)
	})
}
