package ratelimit

import (
	"context"
	"errors"
	"strconv"
	"time"

	"backend-skatespots/internal/kv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultPointLimit  = 5
	DefaultPointWindow = 45 * time.Minute
)

// Decision is the outcome of a limiter check. RemainingTime is set only when
// the request was rejected and tells the caller when the oldest counted
// creation leaves the window.
type Decision struct {
	Allowed       bool
	RemainingTime time.Duration
}

// PointLimiter throttles point creation per user with a sliding window. The
// window is a sorted set of creation timestamps under rate_limit:<user>.
type PointLimiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewPointLimiter(rdb *redis.Client, limit int, window time.Duration) *PointLimiter {
	if limit <= 0 {
		limit = DefaultPointLimit
	}
	if window <= 0 {
		window = DefaultPointWindow
	}
	return &PointLimiter{rdb: rdb, limit: limit, window: window, now: time.Now}
}

// Allow prunes timestamps that left the window and records a new creation
// when the user is below the limit. The check and the write run under WATCH
// so two concurrent requests cannot both take the last slot.
func (l *PointLimiter) Allow(ctx context.Context, userID string) (Decision, error) {
	if userID == "" {
		return Decision{}, errors.New("user id required")
	}
	key := kv.RateLimitKey(userID)

	var decision Decision
	err := kv.Update(ctx, l.rdb, func(tx *redis.Tx) error {
		now := l.now()
		cutoff := strconv.FormatInt(now.Add(-l.window).UnixMilli(), 10)

		live, err := tx.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{Min: "(" + cutoff, Max: "+inf"}).Result()
		if err != nil {
			return err
		}

		if len(live) >= l.limit {
			oldest := time.UnixMilli(int64(live[0].Score))
			decision = Decision{Allowed: false, RemainingTime: l.window - now.Sub(oldest)}
			_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
				return nil
			})
			return err
		}

		decision = Decision{Allowed: true}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRemRangeByScore(ctx, key, "-inf", cutoff)
			pipe.ZAdd(ctx, key, redis.Z{
				Score:  float64(now.UnixMilli()),
				Member: strconv.FormatInt(now.UnixMilli(), 10) + ":" + uuid.NewString(),
			})
			pipe.PExpire(ctx, key, l.window)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return Decision{}, err
	}
	return decision, nil
}
