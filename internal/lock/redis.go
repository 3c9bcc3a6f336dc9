package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockKeyFmt = "voucher:lock:%s"

// Redis serializes redemption across processes sharing one ledger file,
// via SET NX with a TTL. The TTL bounds how long a crashed holder can block
// a code; acquisition polls with a short interval until the context or the
// wait budget runs out.
type Redis struct {
	rdb      *redis.Client
	ttl      time.Duration
	maxWait  time.Duration
	pollStep time.Duration
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{
		rdb:      rdb,
		ttl:      10 * time.Second,
		maxWait:  2 * time.Second,
		pollStep: 50 * time.Millisecond,
	}
}

func (r *Redis) Acquire(ctx context.Context, code string) (func(), error) {
	key := fmt.Sprintf(lockKeyFmt, code)
	deadline := time.Now().Add(r.maxWait)

	for {
		ok, err := r.rdb.SetNX(ctx, key, 1, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", code, err)
		}
		if ok {
			release := func() {
				r.rdb.Del(context.Background(), key) //nolint:errcheck
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("lock %s: held elsewhere", code)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.pollStep):
		}
	}
}
