package accounts

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
	"github.com/ivankudzin/tgaccounts/internal/domain/model"
	"github.com/ivankudzin/tgaccounts/internal/pkg/validate"
)

type Config struct {
	LinkPolicy   CodePolicy
	ResetPolicy  CodePolicy
	PasswordCost int
}

func DefaultConfig() Config {
	return Config{
		LinkPolicy:  DefaultLinkPolicy(),
		ResetPolicy: DefaultResetPolicy(),
	}
}

// WithCodes applies one length and TTL to both link and reset codes.
// Non-positive values keep the current policy.
func (c Config) WithCodes(length int, ttl time.Duration) Config {
	if length > 0 {
		c.LinkPolicy.Length = length
		c.ResetPolicy.Length = length
	}
	if ttl > 0 {
		c.LinkPolicy.TTL = ttl
		c.ResetPolicy.TTL = ttl
	}
	return c
}

type Service struct {
	store    Store
	notifier Notifier
	limiter  Limiter
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(store Store, notifier Notifier, cfg Config) *Service {
	cfg.LinkPolicy = cfg.LinkPolicy.normalized()
	cfg.ResetPolicy = cfg.ResetPolicy.normalized()

	return &Service{
		store:    store,
		notifier: notifier,
		cfg:      cfg,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
}

func (s *Service) AttachLimiter(limiter Limiter) {
	s.limiter = limiter
}

func (s *Service) AttachLogger(logger *zap.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

func (s *Service) AttachClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

func (s *Service) Register(ctx context.Context, name, email, password string) (int64, error) {
	name = strings.TrimSpace(name)
	email = strings.TrimSpace(email)
	if !validate.Required(name, email, password) {
		return 0, fmt.Errorf("%w: name, email and password are required", ErrValidation)
	}
	if !validate.MaxBytes(password, maxPasswordBytes) {
		return 0, fmt.Errorf("%w: password is longer than %d bytes", ErrValidation, maxPasswordBytes)
	}

	hash, err := hashPassword(password, s.cfg.PasswordCost)
	if err != nil {
		return 0, fmt.Errorf("hash password: %w", err)
	}

	user, err := s.store.CreateUser(ctx, model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("create user: %w", err)
	}

	s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.String("email", user.Email))
	return user.ID, nil
}

func (s *Service) Login(ctx context.Context, email, password string) (model.User, error) {
	email = strings.TrimSpace(email)
	if !validate.Required(email, password) {
		return model.User{}, ErrAuth
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.User{}, ErrAuth
		}
		return model.User{}, fmt.Errorf("find user by email: %w", err)
	}
	if err := checkPassword(user.PasswordHash, password); err != nil {
		return model.User{}, ErrAuth
	}

	return user, nil
}

func (s *Service) RequestTelegramLink(ctx context.Context, email string) (LinkRequest, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return LinkRequest{}, err
	}
	if err := s.allow(ctx, enums.CodePurposeTelegramLink, user.Email); err != nil {
		return LinkRequest{}, err
	}

	code, err := s.issue(ctx, user.ID, enums.CodePurposeTelegramLink, s.cfg.LinkPolicy)
	if err != nil {
		return LinkRequest{}, err
	}

	s.logger.Info("telegram link code issued", zap.Int64("user_id", user.ID))
	return LinkRequest{
		Code:         code.Value,
		Instructions: LinkInstructions(code.Value),
		ExpiresAt:    code.ExpiresAt,
	}, nil
}

func (s *Service) ConfirmTelegramLink(ctx context.Context, value string, chatID int64) (LinkResult, error) {
	value = strings.TrimSpace(value)
	if !validate.Required(value) || chatID == 0 {
		return LinkResult{}, fmt.Errorf("%w: link code and chat id are required", ErrValidation)
	}

	code, err := s.store.FindCode(ctx, model.CodeQuery{
		Purpose: enums.CodePurposeTelegramLink,
		Value:   value,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return LinkResult{}, ErrNotFound
		}
		return LinkResult{}, fmt.Errorf("find link code: %w", err)
	}
	now := s.now().UTC()
	if err := usable(code, now); err != nil {
		return LinkResult{}, err
	}
	if err := s.store.LinkTelegram(ctx, code.ID, chatID, now); err != nil {
		switch {
		case errors.Is(err, ErrCodeUsed):
			return LinkResult{}, ErrCodeUsed
		case errors.Is(err, ErrNotFound):
			return LinkResult{}, ErrNotFound
		}
		return LinkResult{}, fmt.Errorf("link telegram: %w", err)
	}
	user, err := s.store.UserByID(ctx, code.UserID)
	if err != nil {
		return LinkResult{}, fmt.Errorf("load linked user: %w", err)
	}

	s.logger.Info("telegram linked", zap.Int64("user_id", user.ID), zap.Int64("chat_id", chatID))

	text := fmt.Sprintf("Telegram is now linked to <b>%s</b>. Password reset codes will arrive in this chat.", html.EscapeString(user.Email))
	if err := s.send(ctx, chatID, text); err != nil {
		s.logger.Warn("link confirmation message failed", zap.Error(err), zap.Int64("user_id", user.ID))
	}

	return LinkResult{
		UserID: user.ID,
		Email:  user.Email,
		Name:   user.Name,
	}, nil
}

func (s *Service) RequestPasswordReset(ctx context.Context, email string) (ResetRequest, error) {
	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return ResetRequest{}, err
	}
	if !user.Linked() {
		return ResetRequest{}, ErrNotLinked
	}
	if err := s.allow(ctx, enums.CodePurposePasswordReset, user.Email); err != nil {
		return ResetRequest{}, err
	}

	code, err := s.issue(ctx, user.ID, enums.CodePurposePasswordReset, s.cfg.ResetPolicy)
	if err != nil {
		return ResetRequest{}, err
	}

	text := fmt.Sprintf("Your password reset code: <code>%s</code>\nIt expires in %s.", code.Value, formatTTL(s.cfg.ResetPolicy.TTL))
	if err := s.send(ctx, *user.TelegramChatID, text); err != nil {
		if consumeErr := s.store.ConsumeCode(ctx, code.ID, s.now().UTC()); consumeErr != nil && !errors.Is(consumeErr, ErrCodeUsed) {
			s.logger.Error("invalidate undelivered reset code", zap.Error(consumeErr), zap.Int64("code_id", code.ID))
		}
		s.logger.Warn("reset code delivery failed", zap.Error(err), zap.Int64("user_id", user.ID))
		return ResetRequest{}, fmt.Errorf("%w: %v", ErrNotifier, err)
	}

	s.logger.Info("password reset code sent", zap.Int64("user_id", user.ID))
	return ResetRequest{
		Code:      code.Value,
		ExpiresAt: code.ExpiresAt,
	}, nil
}

func (s *Service) ResetPassword(ctx context.Context, email, value, newPassword string) error {
	value = strings.TrimSpace(value)
	if !validate.Required(email, value, newPassword) {
		return fmt.Errorf("%w: email, code and new password are required", ErrValidation)
	}
	if !validate.MaxBytes(newPassword, maxPasswordBytes) {
		return fmt.Errorf("%w: password is longer than %d bytes", ErrValidation, maxPasswordBytes)
	}

	user, err := s.userByEmail(ctx, email)
	if err != nil {
		return err
	}

	code, err := s.store.FindCode(ctx, model.CodeQuery{
		Purpose: enums.CodePurposePasswordReset,
		Value:   value,
		UserID:  user.ID,
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("find reset code: %w", err)
	}
	if err := s.consume(ctx, code); err != nil {
		return err
	}

	hash, err := hashPassword(newPassword, s.cfg.PasswordCost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.store.SetPasswordHash(ctx, user.ID, hash); err != nil {
		return fmt.Errorf("set password hash: %w", err)
	}

	s.logger.Info("password reset", zap.Int64("user_id", user.ID))
	return nil
}

func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (model.User, error) {
	if id <= 0 {
		return model.User{}, ErrNotFound
	}
	user, err := s.store.UserByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("get user: %w", err)
	}
	return user, nil
}

func LinkInstructions(code string) string {
	return "Send the bot the command: /link " + code
}

func (s *Service) userByEmail(ctx context.Context, email string) (model.User, error) {
	email = strings.TrimSpace(email)
	if !validate.Required(email) {
		return model.User{}, fmt.Errorf("%w: email is required", ErrValidation)
	}

	user, err := s.store.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return model.User{}, ErrNotFound
		}
		return model.User{}, fmt.Errorf("find user by email: %w", err)
	}
	return user, nil
}

func (s *Service) allow(ctx context.Context, purpose enums.CodePurpose, email string) error {
	if s.limiter == nil {
		return nil
	}
	retryAfter, allowed, err := s.limiter.AllowCodeRequest(ctx, purpose, email)
	if err != nil {
		return fmt.Errorf("check code request rate: %w", err)
	}
	if !allowed {
		return &RateLimitError{RetryAfterSec: retryAfter}
	}
	return nil
}

func (s *Service) issue(ctx context.Context, userID int64, purpose enums.CodePurpose, policy CodePolicy) (model.Code, error) {
	now := s.now().UTC()

	var value string
	for attempt := 0; ; attempt++ {
		v, err := policy.Generate()
		if err != nil {
			return model.Code{}, fmt.Errorf("generate code: %w", err)
		}
		if policy.Scope != ScopeActive {
			value = v
			break
		}
		taken, err := s.store.HasActiveCode(ctx, purpose, v, now)
		if err != nil {
			return model.Code{}, fmt.Errorf("check active code: %w", err)
		}
		if !taken {
			value = v
			break
		}
		if attempt+1 >= maxIssueAttempts {
			return model.Code{}, fmt.Errorf("generate unique %s code: no free value after %d attempts", purpose, maxIssueAttempts)
		}
	}

	code, err := s.store.IssueCode(ctx, model.Code{
		UserID:    userID,
		Purpose:   purpose,
		Value:     value,
		ExpiresAt: now.Add(policy.TTL),
		CreatedAt: now,
	})
	if err != nil {
		return model.Code{}, fmt.Errorf("issue %s code: %w", purpose, err)
	}
	return code, nil
}

func usable(code model.Code, now time.Time) error {
	if code.Used() {
		return ErrCodeUsed
	}
	if code.Expired(now) {
		return ErrCodeExpired
	}
	return nil
}

func (s *Service) consume(ctx context.Context, code model.Code) error {
	now := s.now().UTC()
	if err := usable(code, now); err != nil {
		return err
	}
	if err := s.store.ConsumeCode(ctx, code.ID, now); err != nil {
		if errors.Is(err, ErrCodeUsed) {
			return ErrCodeUsed
		}
		return fmt.Errorf("consume code: %w", err)
	}
	return nil
}

func (s *Service) send(ctx context.Context, chatID int64, text string) error {
	if s.notifier == nil {
		return errors.New("notifier is not configured")
	}
	return s.notifier.SendText(ctx, chatID, text)
}

func formatTTL(d time.Duration) string {
	if d%time.Minute == 0 {
		return fmt.Sprintf("%d minutes", int(d/time.Minute))
	}
	return d.String()
}
