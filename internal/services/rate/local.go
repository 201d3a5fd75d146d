package rate

import (
	"context"
	"fmt"
	"sync"
	"time"

	xrate "golang.org/x/time/rate"

	"github.com/ivankudzin/tgaccounts/internal/domain/enums"
)

type window struct {
	limit xrate.Limit
	burst int
}

// LocalLimiter is the in-process counterpart of Limiter, used when no Redis
// is reachable. Each purpose+email pair gets one token bucket per enabled
// window: perHour tokens per hour and per10Min tokens per ten minutes.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string][]*xrate.Limiter
	windows []window
	now     func() time.Time
}

func NewLocalLimiter(perHour, per10Min int) *LocalLimiter {
	l := &LocalLimiter{
		buckets: make(map[string][]*xrate.Limiter),
		now:     time.Now,
	}
	l.windows = addWindow(l.windows, perHour, hourWindow)
	l.windows = addWindow(l.windows, per10Min, shortWindow)
	return l
}

func addWindow(windows []window, n int, span time.Duration) []window {
	if n <= 0 {
		return windows
	}
	return append(windows, window{limit: xrate.Every(span / time.Duration(n)), burst: n})
}

func (l *LocalLimiter) AllowCodeRequest(_ context.Context, purpose enums.CodePurpose, email string) (int64, bool, error) {
	subject := normalizeSubject(email)
	if subject == "" {
		return 0, false, fmt.Errorf("empty rate limit subject")
	}
	if len(l.windows) == 0 {
		return 0, true, nil
	}

	now := l.now()
	var wait time.Duration
	reservations := make([]*xrate.Reservation, 0, len(l.windows))
	for _, bucket := range l.bucketsFor(string(purpose) + ":" + subject) {
		reservation := bucket.ReserveN(now, 1)
		reservations = append(reservations, reservation)
		if !reservation.OK() {
			wait = max(wait, hourWindow)
			continue
		}
		wait = max(wait, reservation.DelayFrom(now))
	}

	if wait > 0 {
		// a blocked request must not spend tokens in the other windows
		for _, reservation := range reservations {
			reservation.CancelAt(now)
		}
		return ceilSeconds(wait), false, nil
	}
	return 0, true, nil
}

func (l *LocalLimiter) bucketsFor(key string) []*xrate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	buckets, ok := l.buckets[key]
	if !ok {
		buckets = make([]*xrate.Limiter, 0, len(l.windows))
		for _, w := range l.windows {
			buckets = append(buckets, xrate.NewLimiter(w.limit, w.burst))
		}
		l.buckets[key] = buckets
	}
	return buckets
}
