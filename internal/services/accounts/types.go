package accounts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
	"github.com/ivankudzin/tgaccounts/internal/domain/model"
)

var (
	ErrValidation  = errors.New("validation failed")
	ErrConflict    = errors.New("email already registered")
	ErrAuth        = errors.New("invalid email or password")
	ErrNotFound    = errors.New("not found")
	ErrCodeExpired = errors.New("code expired")
	ErrCodeUsed    = errors.New("code already used")
	ErrNotLinked   = errors.New("telegram account is not linked")
	ErrNotifier    = errors.New("notification delivery failed")
	ErrRateLimited = errors.New("too many code requests")
)

// RateLimitError carries the wait hint for ErrRateLimited.
type RateLimitError struct {
	RetryAfterSec int64
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("%s: retry after %ds", ErrRateLimited.Error(), e.RetryAfterSec)
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// Store persists users and codes. Implementations must make CreateUser's
// email check atomic with the insert and ConsumeCode a conditional update.
type Store interface {
	CreateUser(ctx context.Context, user model.User) (model.User, error)
	UserByEmail(ctx context.Context, email string) (model.User, error)
	UserByID(ctx context.Context, id int64) (model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	SetTelegramChatID(ctx context.Context, userID, chatID int64) error
	SetPasswordHash(ctx context.Context, userID int64, hash string) error

	// IssueCode inserts code and marks the owner's other unused codes of the
	// same purpose as used.
	IssueCode(ctx context.Context, code model.Code) (model.Code, error)
	FindCode(ctx context.Context, query model.CodeQuery) (model.Code, error)
	ConsumeCode(ctx context.Context, codeID int64, at time.Time) error
	// LinkTelegram consumes a link code and stores chatID on its owner in one
	// step. Neither change is kept when the other fails.
	LinkTelegram(ctx context.Context, codeID, chatID int64, at time.Time) error
	HasActiveCode(ctx context.Context, purpose enums.CodePurpose, value string, now time.Time) (bool, error)
	DeleteCodesBefore(ctx context.Context, cutoff time.Time) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
}

type Limiter interface {
	AllowCodeRequest(ctx context.Context, purpose enums.CodePurpose, email string) (int64, bool, error)
}

type LinkRequest struct {
	Code         string
	Instructions string
	ExpiresAt    time.Time
}

type LinkResult struct {
	UserID int64
	Email  string
	Name   string
}

type ResetRequest struct {
	Code      string
	ExpiresAt time.Time
}
