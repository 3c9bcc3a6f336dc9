package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const attemptsKeyFmt = "ratelimit:attempts:%s"

// Redis is a sliding-window limiter on a shared sorted set, for deployments
// where several redemption actors must share one attempt budget. Timestamps
// are sorted-set scores; eviction is a range delete on each check.
type Redis struct {
	rdb    *redis.Client
	max    int64
	window int64 // seconds
}

func NewRedis(rdb *redis.Client, max int, windowSec int64) *Redis {
	return &Redis{rdb: rdb, max: int64(max), window: windowSec}
}

func (r *Redis) Allow(ctx context.Context, id string) (bool, error) {
	key := fmt.Sprintf(attemptsKeyFmt, id)

	now, err := r.rdb.Time(ctx).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: redis time: %w", err)
	}
	nowSec := now.Unix()
	cutoff := strconv.FormatInt(nowSec-r.window, 10)

	if err := r.rdb.ZRemRangeByScore(ctx, key, "0", cutoff).Err(); err != nil {
		return false, fmt.Errorf("ratelimit: evict: %w", err)
	}
	count, err := r.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("ratelimit: count: %w", err)
	}
	if count >= r.max {
		return false, nil
	}

	member := fmt.Sprintf("%d-%d", now.UnixNano(), count)
	if err := r.rdb.ZAdd(ctx, key, redis.Z{Score: float64(nowSec), Member: member}).Err(); err != nil {
		return false, fmt.Errorf("ratelimit: record: %w", err)
	}
	// Key can vanish once the whole window has passed with no attempts.
	r.rdb.Expire(ctx, key, time.Duration(r.window)*time.Second) //nolint:errcheck
	return true, nil
}

func (r *Redis) Reset(ctx context.Context, id string) error {
	if err := r.rdb.Del(ctx, fmt.Sprintf(attemptsKeyFmt, id)).Err(); err != nil {
		return fmt.Errorf("ratelimit: reset: %w", err)
	}
	return nil
}
