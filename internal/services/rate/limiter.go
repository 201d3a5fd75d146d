package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
)

const (
	shortWindow = 10 * time.Minute
	hourWindow  = time.Hour
)

type WindowStore interface {
	IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// Limiter caps how many codes a single email may request per purpose.
type Limiter struct {
	store    WindowStore
	perHour  int
	per10Min int
}

func NewLimiter(store WindowStore, perHour, per10Min int) *Limiter {
	if perHour < 0 {
		perHour = 0
	}
	if per10Min < 0 {
		per10Min = 0
	}

	return &Limiter{
		store:    store,
		perHour:  perHour,
		per10Min: per10Min,
	}
}

func (l *Limiter) AllowCodeRequest(ctx context.Context, purpose enums.CodePurpose, email string) (int64, bool, error) {
	subject := normalizeSubject(email)
	if subject == "" {
		return 0, false, fmt.Errorf("empty rate limit subject")
	}
	if l.store == nil {
		return 0, false, fmt.Errorf("rate limiter store is nil")
	}

	retryAfterSec := int64(0)

	if l.perHour > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, windowKey("1h", purpose, subject), hourWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.perHour) {
			retryAfterSec = max(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if l.per10Min > 0 {
		count, ttl, err := l.store.IncrementWindow(ctx, windowKey("10m", purpose, subject), shortWindow)
		if err != nil {
			return 0, false, err
		}
		if count > int64(l.per10Min) {
			retryAfterSec = max(retryAfterSec, ceilSeconds(ttl))
		}
	}

	if retryAfterSec > 0 {
		return retryAfterSec, false, nil
	}
	return 0, true, nil
}

func windowKey(window string, purpose enums.CodePurpose, subject string) string {
	return "rate:codes:" + window + ":" + string(purpose) + ":" + subject
}

func normalizeSubject(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ceilSeconds(d time.Duration) int64 {
	if d <= 0 {
		return 0
	}
	sec := int64(d / time.Second)
	if d%time.Second != 0 {
		sec++
	}
	if sec <= 0 {
		sec = 1
	}
	return sec
}
