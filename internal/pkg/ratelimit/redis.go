package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter is a fixed one-minute window counter shared by every instance.
type RedisLimiter struct {
	rdb       redis.Cmdable
	perMinute int64
	now       func() time.Time
}

func NewRedisLimiter(rdb redis.Cmdable, perMinute int) *RedisLimiter {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &RedisLimiter{rdb: rdb, perMinute: int64(perMinute), now: time.Now}
}

func windowKey(key string, at time.Time) string {
	return fmt.Sprintf("mindmate:ratelimit:%s:%d", key, at.Unix()/60)
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	k := windowKey(key, l.now())

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, k)
	pipe.Expire(ctx, k, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return incr.Val() <= l.perMinute, nil
}
