package main

import (
	"context"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/app/botapp"
	"github.com/ivankudzin/tgaccounts/internal/config"
	"github.com/ivankudzin/tgaccounts/internal/infra/logger"
	sentryinfra "github.com/ivankudzin/tgaccounts/internal/infra/sentry"
)

var version = "dev"

func main() {
	cfg, err := config.Load(config.Path())
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Env, "bot")
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

	app, err := botapp.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("build bot", zap.Error(err))
	}
	defer func() { _ = app.Close() }()

	if err := app.Run(ctx); err != nil {
		log.Error("bot stopped", zap.Error(err))
	}
}
