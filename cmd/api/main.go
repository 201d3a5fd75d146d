package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/app/apiapp"
	"github.com/ivankudzin/tgaccounts/internal/config"
	"github.com/ivankudzin/tgaccounts/internal/infra/logger"
	sentryinfra "github.com/ivankudzin/tgaccounts/internal/infra/sentry"
)

// version is set with -ldflags "-X main.version=..." at build time.
var version = "dev"

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Env, "api")
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	if on, err := sentryinfra.Init(cfg.Sentry.DSN, cfg.Env, version, cfg.Sentry.TracesSampleRate); err != nil {
		log.Warn("sentry disabled", zap.Error(err))
	} else if on {
		defer sentryinfra.Flush()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := apiapp.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("build api", zap.Error(err))
	}

	runErr := make(chan error, 1)
	go func() { runErr <- app.Run() }()

	select {
	case err := <-runErr:
		if err != nil {
			log.Error("api stopped", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutting down api")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := app.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown api", zap.Error(err))
	}
}
