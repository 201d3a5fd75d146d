package apiapp

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/config"
	"github.com/ivankudzin/tgaccounts/internal/infra/telegram"
	"github.com/ivankudzin/tgaccounts/internal/repo"
	redrepo "github.com/ivankudzin/tgaccounts/internal/repo/redis"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
	authsvc "github.com/ivankudzin/tgaccounts/internal/services/auth"
	ratesvc "github.com/ivankudzin/tgaccounts/internal/services/rate"
)

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	server     *http.Server
	store      accounts.Store
	redis      *goredis.Client
	httpRouter http.Handler
}

type Option func(*options)

type options struct {
	notifier accounts.Notifier
	store    accounts.Store
}

// WithNotifier replaces the Telegram bot used for outgoing messages.
func WithNotifier(notifier accounts.Notifier) Option {
	return func(o *options) { o.notifier = notifier }
}

// WithStore replaces the store selected by store.driver.
func WithStore(store accounts.Store) Option {
	return func(o *options) { o.store = store }
}

func New(ctx context.Context, cfg config.Config, log *zap.Logger, opts ...Option) (*App, error) {
	if log == nil {
		return nil, fmt.Errorf("logger is nil")
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	store := o.store
	if store == nil {
		s, err := repo.Open(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("open %s store: %w", cfg.Store.Driver, err)
		}
		store = s
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = newNotifier(cfg.Bot.Token, log)
	}

	accountsService := accounts.NewService(store, notifier, accounts.DefaultConfig().WithCodes(cfg.Codes.Length, cfg.Codes.TTL))
	accountsService.AttachLogger(log.Named("accounts"))

	var authService *authsvc.Service
	redisClient := redrepo.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if redisClient != nil {
		if err := redrepo.Ping(ctx, redisClient); err != nil {
			log.Warn("redis unreachable, login tokens disabled and code limits kept in process", zap.Error(err))
			_ = redisClient.Close()
			redisClient = nil
		}
	}
	if redisClient != nil {
		signer := authsvc.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.JWTAccessTTL)
		authService = authsvc.NewService(signer, redrepo.NewSessionRepo(redisClient), cfg.Auth.RefreshTTL)
		accountsService.AttachLimiter(ratesvc.NewLimiter(
			redrepo.NewRateRepo(redisClient),
			cfg.Codes.RequestsPerHour,
			cfg.Codes.RequestsPer10Min,
		))
	} else {
		log.Info("running without redis, login tokens disabled and code limits kept in process")
		accountsService.AttachLimiter(ratesvc.NewLocalLimiter(cfg.Codes.RequestsPerHour, cfg.Codes.RequestsPer10Min))
	}

	r := chi.NewRouter()
	ApplyMiddlewares(r, cfg, log)
	RegisterRoutes(r, Dependencies{
		AccountsService: accountsService,
		AuthService:     authService,
		Store:           store,
		Logger:          log,
		Config:          cfg,
	})

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      r,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	return &App{
		cfg:        cfg,
		logger:     log,
		server:     server,
		store:      store,
		redis:      redisClient,
		httpRouter: r,
	}, nil
}

func (a *App) Run() error {
	a.logger.Info("api server started", zap.String("addr", a.cfg.HTTP.Addr), zap.String("store", a.cfg.Store.Driver))
	err := a.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error

	if err := a.server.Shutdown(ctx); err != nil {
		shutdownErr = err
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil && shutdownErr == nil {
			shutdownErr = err
		}
	}

	return shutdownErr
}

func (a *App) Handler() http.Handler {
	return a.httpRouter
}

func newNotifier(token string, log *zap.Logger) accounts.Notifier {
	if token == "" {
		log.Info("bot token not configured, telegram messages disabled")
		return telegram.Disabled{}
	}
	bot, err := telegram.NewBot(token)
	if err != nil {
		log.Warn("telegram bot init failed, messages disabled", zap.Error(err))
		return telegram.Disabled{}
	}
	return bot
}
