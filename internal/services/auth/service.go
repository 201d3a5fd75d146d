package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	minRefreshTTL = time.Hour
	maxRefreshTTL = 90 * 24 * time.Hour
)

// Service keeps login sessions for users that already passed a password
// check. Access tokens are short-lived JWTs; refresh tokens rotate on use.
type Service struct {
	signer     *Signer
	sessions   SessionStore
	refreshTTL time.Duration
	now        func() time.Time
}

func NewService(signer *Signer, sessions SessionStore, refreshTTL time.Duration) *Service {
	switch {
	case refreshTTL < minRefreshTTL:
		refreshTTL = minRefreshTTL
	case refreshTTL > maxRefreshTTL:
		refreshTTL = maxRefreshTTL
	}
	return &Service{
		signer:     signer,
		sessions:   sessions,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// StartSession opens a new session for userID.
func (s *Service) StartSession(ctx context.Context, userID int64) (Tokens, error) {
	if userID <= 0 {
		return Tokens{}, ErrInvalidInput
	}

	sessionID, err := randomHex(sessionIDBytes)
	if err != nil {
		return Tokens{}, fmt.Errorf("session id: %w", err)
	}
	refresh, err := randomHex(refreshTokenBytes)
	if err != nil {
		return Tokens{}, fmt.Errorf("refresh token: %w", err)
	}

	err = s.sessions.SaveSession(ctx, Session{
		ID:          sessionID,
		UserID:      userID,
		RefreshHash: HashRefreshToken(refresh),
		ExpiresAt:   s.now().Add(s.refreshTTL),
	})
	if err != nil {
		return Tokens{}, fmt.Errorf("save session: %w", err)
	}
	return s.tokens(userID, sessionID, refresh)
}

// Rotate trades a refresh token for a new pair. The old refresh token stops
// working even if the call fails after the swap.
func (s *Service) Rotate(ctx context.Context, refreshToken string) (Tokens, error) {
	refreshToken = strings.TrimSpace(refreshToken)
	if refreshToken == "" {
		return Tokens{}, ErrInvalidInput
	}

	oldHash := HashRefreshToken(refreshToken)
	session, err := s.sessions.SessionByRefresh(ctx, oldHash)
	if err != nil {
		return Tokens{}, unauthorizedIfMissing(err, "load session")
	}
	if !s.now().Before(session.ExpiresAt) {
		return Tokens{}, ErrUnauthorized
	}

	next, err := randomHex(refreshTokenBytes)
	if err != nil {
		return Tokens{}, fmt.Errorf("refresh token: %w", err)
	}
	if err := s.sessions.SwapRefresh(ctx, session.ID, oldHash, HashRefreshToken(next), s.now().Add(s.refreshTTL)); err != nil {
		return Tokens{}, unauthorizedIfMissing(err, "swap refresh token")
	}
	return s.tokens(session.UserID, session.ID, next)
}

func (s *Service) EndSession(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return ErrInvalidInput
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Authenticate verifies an access token and checks that its session is
// still open.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Identity, error) {
	identity, err := s.signer.Verify(accessToken)
	if err != nil {
		return Identity{}, err
	}

	session, err := s.sessions.SessionByID(ctx, identity.SessionID)
	if err != nil {
		return Identity{}, unauthorizedIfMissing(err, "load session")
	}
	if session.UserID != identity.UserID || !s.now().Before(session.ExpiresAt) {
		return Identity{}, ErrUnauthorized
	}
	return identity, nil
}

func (s *Service) tokens(userID int64, sessionID, refresh string) (Tokens, error) {
	access, expiresAt, err := s.signer.Sign(userID, sessionID)
	if err != nil {
		return Tokens{}, err
	}
	return Tokens{
		UserID:          userID,
		AccessToken:     access,
		AccessExpiresAt: expiresAt,
		RefreshToken:    refresh,
	}, nil
}

func unauthorizedIfMissing(err error, op string) error {
	if errors.Is(err, ErrSessionNotFound) {
		return ErrUnauthorized
	}
	return fmt.Errorf("%s: %w", op, err)
}
