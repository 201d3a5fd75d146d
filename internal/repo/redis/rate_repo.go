package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// RateRepo keeps fixed-window counters for code requests.
type RateRepo struct {
	client *goredis.Client
}

func NewRateRepo(client *goredis.Client) *RateRepo {
	return &RateRepo{client: client}
}

// IncrementWindow adds one hit to key and returns the hit count and the time
// left in the window. The window opens on the first hit.
func (r *RateRepo) IncrementWindow(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	if r.client == nil {
		return 0, 0, errNilClient
	}
	if key == "" || window <= 0 {
		return 0, 0, fmt.Errorf("rate window needs a key and a positive length")
	}

	var (
		hits *goredis.IntCmd
		left *goredis.DurationCmd
	)
	if _, err := r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		hits = pipe.Incr(ctx, key)
		left = pipe.PTTL(ctx, key)
		return nil
	}); err != nil {
		return 0, 0, fmt.Errorf("count rate hit: %w", err)
	}

	remaining := left.Val()
	// no expiry yet: first hit, or a previous caller died before setting it
	if remaining < 0 {
		if err := r.client.PExpire(ctx, key, window).Err(); err != nil {
			return 0, 0, fmt.Errorf("open rate window: %w", err)
		}
		remaining = window
	}
	return hits.Val(), remaining, nil
}
