package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"

	redrepo "github.com/ivankudzin/tgaccounts/internal/repo/redis"
	authsvc "github.com/ivankudzin/tgaccounts/internal/services/auth"
)

func newService(t *testing.T) *authsvc.Service {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return authsvc.NewService(
		authsvc.NewSigner("test-secret", 15*time.Minute),
		redrepo.NewSessionRepo(client),
		30*24*time.Hour,
	)
}

func TestStartSessionAuthenticates(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tokens, err := svc.StartSession(ctx, 1001)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	if tokens.UserID != 1001 || tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("unexpected tokens: %+v", tokens)
	}

	identity, err := svc.Authenticate(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if identity.UserID != 1001 || identity.SessionID == "" {
		t.Fatalf("unexpected identity: %+v", identity)
	}
}

func TestRotateInvalidatesOldRefreshToken(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	first, err := svc.StartSession(ctx, 1001)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	second, err := svc.Rotate(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if second.RefreshToken == first.RefreshToken {
		t.Fatalf("refresh token was not rotated")
	}
	if second.UserID != 1001 {
		t.Fatalf("unexpected user after rotate: %d", second.UserID)
	}

	if _, err := svc.Rotate(ctx, first.RefreshToken); !errors.Is(err, authsvc.ErrUnauthorized) {
		t.Fatalf("old refresh token: got %v want ErrUnauthorized", err)
	}
	if _, err := svc.Rotate(ctx, second.RefreshToken); err != nil {
		t.Fatalf("rotate with new token: %v", err)
	}
}

func TestConcurrentRotateSucceedsOnce(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tokens, err := svc.StartSession(ctx, 1001)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Rotate(ctx, tokens.RefreshToken); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if success != 1 {
		t.Fatalf("unexpected successful rotations: got %d want 1", success)
	}
}

func TestEndSessionRevokesTokens(t *testing.T) {
	svc := newService(t)
	ctx := context.Background()

	tokens, err := svc.StartSession(ctx, 2002)
	if err != nil {
		t.Fatalf("start session: %v", err)
	}
	identity, err := svc.Authenticate(ctx, tokens.AccessToken)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	if err := svc.EndSession(ctx, identity.SessionID); err != nil {
		t.Fatalf("end session: %v", err)
	}
	if _, err := svc.Authenticate(ctx, tokens.AccessToken); !errors.Is(err, authsvc.ErrUnauthorized) {
		t.Fatalf("access after logout: got %v want ErrUnauthorized", err)
	}
	if _, err := svc.Rotate(ctx, tokens.RefreshToken); !errors.Is(err, authsvc.ErrUnauthorized) {
		t.Fatalf("refresh after logout: got %v want ErrUnauthorized", err)
	}
}

func TestStartSessionRejectsInvalidUser(t *testing.T) {
	svc := newService(t)
	if _, err := svc.StartSession(context.Background(), 0); !errors.Is(err, authsvc.ErrInvalidInput) {
		t.Fatalf("zero user: got %v want ErrInvalidInput", err)
	}
	if _, err := svc.Rotate(context.Background(), " "); !errors.Is(err, authsvc.ErrInvalidInput) {
		t.Fatalf("blank refresh: got %v want ErrInvalidInput", err)
	}
}

func TestAuthenticateRejectsForeignSignature(t *testing.T) {
	svc := newService(t)

	forged, _, err := authsvc.NewSigner("other-secret", time.Minute).Sign(3003, "sid-3003")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := svc.Authenticate(context.Background(), forged); !errors.Is(err, authsvc.ErrUnauthorized) {
		t.Fatalf("foreign token: got %v want ErrUnauthorized", err)
	}
}
