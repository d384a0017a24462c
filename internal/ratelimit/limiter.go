package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/voxlane/voxlane/internal/config"
)

const (
	windowKeyPrefix = "ratelimit:window:"
	dailyKeyPrefix  = "ratelimit:daily:"
)

// Result is the outcome of one rate-limit check. Daily fields are only set
// when the policy carries a daily cap.
type Result struct {
	Allowed        bool       `json:"allowed"`
	Remaining      int        `json:"remaining"`
	ResetAt        time.Time  `json:"reset_at"`
	DailyRemaining *int       `json:"daily_remaining,omitempty"`
	DailyResetAt   *time.Time `json:"daily_reset_at,omitempty"`
}

// Limiter is a sliding-window request throttle backed by Redis sorted sets,
// with an optional daily counter that resets at UTC midnight. State is
// best-effort: a Redis flush simply resets all windows.
type Limiter struct {
	rdb redis.Cmdable
	now func() time.Time
}

// NewLimiter creates a Limiter.
func NewLimiter(rdb redis.Cmdable) *Limiter {
	return &Limiter{rdb: rdb, now: time.Now}
}

// Check applies the policy to the identity. Only an allowed check consumes
// quota; denied checks leave both the window log and the daily counter
// untouched. Callers should fail open on error.
func (l *Limiter) Check(ctx context.Context, identity string, policy config.RatePolicy) (Result, error) {
	now := l.now()
	windowKey := windowKeyPrefix + identity
	windowStart := now.Add(-policy.Window)

	pipe := l.rdb.Pipeline()
	pipe.ZRemRangeByScore(ctx, windowKey, "-inf",
		strconv.FormatInt(windowStart.UnixMilli(), 10))
	countCmd := pipe.ZCard(ctx, windowKey)
	oldestCmd := pipe.ZRangeWithScores(ctx, windowKey, 0, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limiter pipeline (clean+count): %w", err)
	}

	count := int(countCmd.Val())
	res := Result{
		Allowed:   count < policy.MaxRequests,
		Remaining: policy.MaxRequests - count,
		ResetAt:   now.Add(policy.Window),
	}
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		res.ResetAt = time.UnixMilli(int64(oldest[0].Score)).Add(policy.Window)
	}

	var dailyKey string
	if policy.DailyMax > 0 {
		dailyKey = dailyKeyPrefix + identity + ":" + now.UTC().Format("2006-01-02")
		used, err := l.rdb.Get(ctx, dailyKey).Int()
		if err != nil && err != redis.Nil {
			return Result{}, fmt.Errorf("rate limiter daily counter: %w", err)
		}

		dailyRemaining := policy.DailyMax - used
		if dailyRemaining < 0 {
			dailyRemaining = 0
		}
		resetAt := nextUTCMidnight(now)
		res.DailyRemaining = &dailyRemaining
		res.DailyResetAt = &resetAt

		if used >= policy.DailyMax {
			res.Allowed = false
		}
	}

	if !res.Allowed {
		return res, nil
	}

	// Both checks passed: consume quota now.
	consume := l.rdb.Pipeline()
	consume.ZAdd(ctx, windowKey, redis.Z{
		Score:  float64(now.UnixMilli()),
		Member: strconv.FormatInt(now.UnixNano(), 10),
	})
	consume.Expire(ctx, windowKey, policy.Window+time.Minute)
	if dailyKey != "" {
		consume.Incr(ctx, dailyKey)
		consume.ExpireAt(ctx, dailyKey, nextUTCMidnight(now).Add(time.Hour))
	}
	if _, err := consume.Exec(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limiter pipeline (consume): %w", err)
	}

	res.Remaining--
	if res.Remaining < 0 {
		res.Remaining = 0
	}
	if res.DailyRemaining != nil && *res.DailyRemaining > 0 {
		*res.DailyRemaining--
	}
	return res, nil
}

func nextUTCMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}
