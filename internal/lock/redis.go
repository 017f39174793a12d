package lock

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisKeyPrefix namespaces lock keys in a shared Redis.
const redisKeyPrefix = "orgstore:lock:"

const defaultRedisTTL = 2 * time.Minute

// releaseScript deletes the key only if it still carries our token, so an
// expired lock re-acquired by someone else is never released by us.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript renews the lease only while the key still carries our token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLocker shares locks between server instances through Redis. Each key
// is a lease of ttl, renewed every ttl/3 while held, so a crashed holder
// cannot wedge an organization for longer than ttl.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisLocker creates a Redis-backed locker
func NewRedisLocker(client *redis.Client, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = defaultRedisTTL
	}
	return &RedisLocker{client: client, ttl: ttl}
}

// TryLock acquires all keys with SET NX PX or returns ErrLocked. The leases
// are kept alive until Release.
func (l *RedisLocker) TryLock(ctx context.Context, keys ...string) (Release, error) {
	keys = normalizeKeys(keys)
	token := uuid.NewString()

	acquired := make([]string, 0, len(keys))
	unlock := func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		for _, k := range acquired {
			if err := releaseScript.Run(ctx, l.client, []string{redisKeyPrefix + k}, token).Err(); err != nil {
				slog.Warn("failed to release redis lock", "key", k, "error", err)
			}
		}
	}

	for _, k := range keys {
		ok, err := l.client.SetNX(ctx, redisKeyPrefix+k, token, l.ttl).Result()
		if err != nil {
			unlock()
			return nil, fmt.Errorf("failed to acquire lock %q: %w", k, err)
		}
		if !ok {
			unlock()
			return nil, ErrLocked
		}
		acquired = append(acquired, k)
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.keepAlive(stop, acquired, token)
	}()

	return once(func() {
		close(stop)
		<-done
		unlock()
	}), nil
}

// keepAlive renews every lease each ttl/3 until stop is closed. A lease that
// no longer carries token was lost and is left alone.
func (l *RedisLocker) keepAlive(stop <-chan struct{}, keys []string, token string) {
	interval := l.ttl / 3
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), interval)
			for _, k := range keys {
				n, err := extendScript.Run(ctx, l.client, []string{redisKeyPrefix + k}, token, l.ttl.Milliseconds()).Int()
				switch {
				case err != nil:
					slog.Warn("failed to extend redis lock", "key", k, "error", err)
				case n == 0:
					slog.Warn("redis lock lost while held", "key", k)
				}
			}
			cancel()
		}
	}
}
