package auth

import (
	"context"
	"errors"
	"time"
)

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrSessionNotFound = errors.New("session not found")
)

// Session binds a refresh token to a user. Only the SHA-256 digest of the
// refresh token is kept.
type Session struct {
	ID          string
	UserID      int64
	RefreshHash string
	ExpiresAt   time.Time
}

// Tokens is what a client receives after login or refresh.
type Tokens struct {
	UserID          int64
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
}

type SessionStore interface {
	SaveSession(ctx context.Context, session Session) error
	SessionByID(ctx context.Context, id string) (Session, error)
	SessionByRefresh(ctx context.Context, refreshHash string) (Session, error)
	// SwapRefresh replaces oldHash with newHash and fails with
	// ErrSessionNotFound when oldHash is no longer current.
	SwapRefresh(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) error
	DeleteSession(ctx context.Context, id string) error
}
