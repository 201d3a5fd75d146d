package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	authsvc "github.com/ivankudzin/tgaccounts/internal/services/auth"
)

// A session lives in a hash under sessionKey; refreshKey maps the current
// refresh digest back to the session id. Both expire with the session.
const (
	sessionKeyPrefix = "accounts:session:"
	refreshKeyPrefix = "accounts:refresh:"
)

var errNilClient = errors.New("redis client is nil")

type SessionRepo struct {
	client *goredis.Client
}

func NewSessionRepo(client *goredis.Client) *SessionRepo {
	return &SessionRepo{client: client}
}

func sessionKey(id string) string { return sessionKeyPrefix + id }

func refreshKey(hash string) string { return refreshKeyPrefix + hash }

func (r *SessionRepo) SaveSession(ctx context.Context, session authsvc.Session) error {
	if r.client == nil {
		return errNilClient
	}
	if session.ID == "" || session.RefreshHash == "" || session.UserID <= 0 {
		return authsvc.ErrInvalidInput
	}

	_, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.HSet(ctx, sessionKey(session.ID),
			"user_id", session.UserID,
			"refresh", session.RefreshHash,
			"expires_at", session.ExpiresAt.Unix(),
		)
		pipe.ExpireAt(ctx, sessionKey(session.ID), session.ExpiresAt)
		pipe.Set(ctx, refreshKey(session.RefreshHash), session.ID, 0)
		pipe.ExpireAt(ctx, refreshKey(session.RefreshHash), session.ExpiresAt)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (r *SessionRepo) SessionByID(ctx context.Context, id string) (authsvc.Session, error) {
	if r.client == nil {
		return authsvc.Session{}, errNilClient
	}
	return loadSession(ctx, r.client, id)
}

func (r *SessionRepo) SessionByRefresh(ctx context.Context, refreshHash string) (authsvc.Session, error) {
	if r.client == nil {
		return authsvc.Session{}, errNilClient
	}

	id, err := r.client.Get(ctx, refreshKey(refreshHash)).Result()
	if errors.Is(err, goredis.Nil) {
		return authsvc.Session{}, authsvc.ErrSessionNotFound
	}
	if err != nil {
		return authsvc.Session{}, fmt.Errorf("get refresh pointer: %w", err)
	}

	session, err := loadSession(ctx, r.client, id)
	if err != nil {
		return authsvc.Session{}, err
	}
	if session.RefreshHash != refreshHash {
		return authsvc.Session{}, authsvc.ErrSessionNotFound
	}
	return session, nil
}

// SwapRefresh watches the session hash so two concurrent refreshes with the
// same token cannot both succeed.
func (r *SessionRepo) SwapRefresh(ctx context.Context, id, oldHash, newHash string, expiresAt time.Time) error {
	if r.client == nil {
		return errNilClient
	}

	key := sessionKey(id)
	err := r.client.Watch(ctx, func(tx *goredis.Tx) error {
		current, err := tx.HGet(ctx, key, "refresh").Result()
		if errors.Is(err, goredis.Nil) || (err == nil && current != oldHash) {
			return authsvc.ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("read current refresh: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, refreshKey(oldHash))
			pipe.HSet(ctx, key, "refresh", newHash, "expires_at", expiresAt.Unix())
			pipe.ExpireAt(ctx, key, expiresAt)
			pipe.Set(ctx, refreshKey(newHash), id, 0)
			pipe.ExpireAt(ctx, refreshKey(newHash), expiresAt)
			return nil
		})
		return err
	}, key)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, authsvc.ErrSessionNotFound):
		return err
	case errors.Is(err, goredis.TxFailedErr):
		return authsvc.ErrSessionNotFound
	default:
		return fmt.Errorf("swap refresh token: %w", err)
	}
}

func (r *SessionRepo) DeleteSession(ctx context.Context, id string) error {
	if r.client == nil {
		return errNilClient
	}

	refresh, err := r.client.HGet(ctx, sessionKey(id), "refresh").Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		return fmt.Errorf("read session refresh: %w", err)
	}

	keys := []string{sessionKey(id)}
	if refresh != "" {
		keys = append(keys, refreshKey(refresh))
	}
	if err := r.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

func loadSession(ctx context.Context, client goredis.Cmdable, id string) (authsvc.Session, error) {
	values, err := client.HGetAll(ctx, sessionKey(id)).Result()
	if err != nil {
		return authsvc.Session{}, fmt.Errorf("get session: %w", err)
	}
	if len(values) == 0 {
		return authsvc.Session{}, authsvc.ErrSessionNotFound
	}

	userID, err := strconv.ParseInt(values["user_id"], 10, 64)
	if err != nil {
		return authsvc.Session{}, fmt.Errorf("parse session user_id: %w", err)
	}
	expiresAt, err := strconv.ParseInt(values["expires_at"], 10, 64)
	if err != nil {
		return authsvc.Session{}, fmt.Errorf("parse session expires_at: %w", err)
	}

	return authsvc.Session{
		ID:          id,
		UserID:      userID,
		RefreshHash: values["refresh"],
		ExpiresAt:   time.Unix(expiresAt, 0).UTC(),
	}, nil
}
