package redis

import (
	"context"
	"fmt"
	"github.com/google/uuid"
	"github.com/ilindan-dev/notification-scheduler/pkg/keybuilder"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"time"
)

// releaseScript deletes the lock only if it still holds the caller's token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// lockClient is the part of goredis.Client the lock uses.
type lockClient interface {
	goredis.Scripter
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *goredis.BoolCmd
}

// TickLock keeps instances from scanning in the same tick. Records are protected from
// double dispatch by their store claims, so an expired lock only costs a redundant scan.
type TickLock struct {
	redis  lockClient
	key    string
	ttl    time.Duration
	logger zerolog.Logger
}

// NewTickLock creates a lock named name. The TTL must be shorter than the tick interval.
func NewTickLock(client *goredis.Client, name string, ttl time.Duration, logger *zerolog.Logger) *TickLock {
	return newTickLock(client, name, ttl, logger)
}

func newTickLock(client lockClient, name string, ttl time.Duration, logger *zerolog.Logger) *TickLock {
	return &TickLock{
		redis:  client,
		key:    keybuilder.RedisTickLockKeyBuild(name),
		ttl:    ttl,
		logger: logger.With().Str("component", "tick_lock").Logger(),
	}
}

// TryLock attempts to take the lock without waiting. The returned release func is nil
// when the lock was not acquired.
func (l *TickLock) TryLock(ctx context.Context) (func(), bool, error) {
	if l.ttl <= 0 {
		return nil, false, fmt.Errorf("redis: tick lock: ttl must be positive, got %s", l.ttl)
	}

	token := uuid.NewString()
	ok, err := l.redis.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis: tick lock: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		// Release outlives a cancelled tick context.
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		if err := releaseScript.Run(ctx, l.redis, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn().Err(err).Str("key", l.key).Msg("failed to release tick lock")
		}
	}
	return release, true, nil
}
