package botapp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/config"
	tginfra "github.com/ivankudzin/tgaccounts/internal/infra/telegram"
	"github.com/ivankudzin/tgaccounts/internal/jobs/cleanup"
	"github.com/ivankudzin/tgaccounts/internal/repo"
	"github.com/ivankudzin/tgaccounts/internal/services/accounts"
)

const (
	helpText          = "Hi! To link this chat to your account, request a code on the website and send it here:\n<code>/link 123456</code>"
	linkUsageText     = "Send the code from the website like this:\n<code>/link 123456</code>"
	codeNotFoundText  = "This code was not found. Request a new one on the website."
	codeUsedText      = "This code was already used. Request a new one on the website."
	codeExpiredText   = "This code has expired. Request a new one on the website."
	internalErrorText = "Something went wrong, please try again later."
)

var ErrSharedStoreRequired = errors.New("bot needs a store shared with the api: use sqlite or postgres")

type replier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type App struct {
	cfg        config.Config
	logger     *zap.Logger
	store      accounts.Store
	bot        *tginfra.Bot
	replies    replier
	accounts   *accounts.Service
	cleanupJob *cleanup.Job
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	// a memory store lives inside one process and never sees codes issued by the api
	if cfg.Store.Driver == config.StoreMemory {
		return nil, ErrSharedStoreRequired
	}

	store, err := repo.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s store for bot app: %w", cfg.Store.Driver, err)
	}

	var (
		bot      *tginfra.Bot
		notifier accounts.Notifier = tginfra.Disabled{}
	)
	if strings.TrimSpace(cfg.Bot.Token) != "" {
		bot, err = tginfra.NewBot(cfg.Bot.Token)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("init telegram bot: %w", err)
		}
		notifier = bot
	} else {
		logger.Warn("BOT_TOKEN is empty, telegram listener disabled")
	}

	service := accounts.NewService(store, notifier, accounts.DefaultConfig().WithCodes(cfg.Codes.Length, cfg.Codes.TTL))
	service.AttachLogger(logger.Named("accounts"))

	return &App{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		bot:        bot,
		replies:    notifier,
		accounts:   service,
		cleanupJob: cleanup.NewCodeCleanupJob(store, cfg.Codes.Retention, logger),
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.logger.Info("bot app started", zap.String("store", a.cfg.Store.Driver))

	errCh := make(chan error, 2)
	go func() {
		errCh <- a.runCleanupLoop(ctx)
	}()

	if a.bot != nil {
		a.logger.Info("telegram listener started", zap.String("bot", a.bot.Username()))
		go func() {
			errCh <- a.bot.Listen(ctx, tginfra.Handlers{
				OnCommand: a.handleCommand,
				OnText:    a.handleText,
			})
		}()
	}

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("bot app stopped")
			return nil
		case err := <-errCh:
			if err == nil || errors.Is(err, context.Canceled) {
				continue
			}
			return err
		}
	}
}

func (a *App) Close() error {
	if a.store == nil {
		return nil
	}
	return a.store.Close()
}

func (a *App) runCleanupLoop(ctx context.Context) error {
	if a.cleanupJob == nil {
		return nil
	}

	interval := a.cfg.Bot.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}

	if err := a.cleanupJob.Run(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := a.cleanupJob.Run(ctx); err != nil {
				return err
			}
		}
	}
}

func (a *App) handleCommand(ctx context.Context, update tginfra.CommandUpdate) error {
	switch strings.ToLower(strings.TrimSpace(update.Command)) {
	case "link":
		return a.handleLink(ctx, update)
	default:
		return a.reply(ctx, update.ChatID, helpText)
	}
}

func (a *App) handleText(ctx context.Context, update tginfra.TextUpdate) error {
	return a.reply(ctx, update.ChatID, helpText)
}

// handleLink confirms the code for this chat. The success message is sent
// by the accounts service itself.
func (a *App) handleLink(ctx context.Context, update tginfra.CommandUpdate) error {
	code := strings.TrimSpace(update.Args)
	if code == "" {
		return a.reply(ctx, update.ChatID, linkUsageText)
	}

	res, err := a.accounts.ConfirmTelegramLink(ctx, code, update.ChatID)
	switch {
	case err == nil:
		a.logger.Info("chat linked via bot", zap.Int64("user_id", res.UserID), zap.Int64("chat_id", update.ChatID))
		return nil
	case errors.Is(err, accounts.ErrNotFound):
		return a.reply(ctx, update.ChatID, codeNotFoundText)
	case errors.Is(err, accounts.ErrCodeUsed):
		return a.reply(ctx, update.ChatID, codeUsedText)
	case errors.Is(err, accounts.ErrCodeExpired):
		return a.reply(ctx, update.ChatID, codeExpiredText)
	case errors.Is(err, accounts.ErrValidation):
		return a.reply(ctx, update.ChatID, linkUsageText)
	default:
		a.logger.Error("confirm link from bot failed", zap.Error(err), zap.Int64("chat_id", update.ChatID))
		return a.reply(ctx, update.ChatID, internalErrorText)
	}
}

// reply never fails the listener; a chat that cannot be reached is only logged.
func (a *App) reply(ctx context.Context, chatID int64, text string) error {
	if a.replies == nil {
		return nil
	}
	if err := a.replies.SendText(ctx, chatID, text); err != nil {
		a.logger.Warn("bot reply failed", zap.Error(err), zap.Int64("chat_id", chatID))
	}
	return nil
}
