// Package lock provides non-blocking per-organization mutual exclusion for
// multi-step lifecycle operations. A second operation on a name that is
// already locked fails immediately with ErrLocked instead of waiting.
package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/orgstore/orgstore/internal/config"
)

// ErrLocked is returned when any requested key is held by another operation.
var ErrLocked = errors.New("organization is locked by another operation")

// releaseTimeout bounds unlock calls, which run after the request context may be gone.
const releaseTimeout = 5 * time.Second

// Release unlocks everything a TryLock call acquired. It is safe to call more than once.
type Release func()

// Locker acquires every key or none of them.
type Locker interface {
	TryLock(ctx context.Context, keys ...string) (Release, error)
}

// New builds the locker selected by locking.backend. rdb is required for the
// redis backend and db for the postgres backend.
func New(cfg *config.LockingConfig, rdb *redis.Client, db *sql.DB) (Locker, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryLocker(), nil
	case "redis":
		if rdb == nil {
			return nil, errors.New("redis locker requires a redis client")
		}
		return NewRedisLocker(rdb, cfg.TTL), nil
	case "postgres":
		if db == nil {
			return nil, errors.New("postgres locker requires a database handle")
		}
		return NewPostgresLocker(db), nil
	default:
		return nil, fmt.Errorf("unsupported locking backend: %s", cfg.Backend)
	}
}

// normalizeKeys lower-cases, sorts and de-duplicates keys so every caller
// acquires in the same order, and names differing only in case exclude each
// other.
func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		k = strings.ToLower(k)
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// once wraps fn so repeated Release calls run it a single time.
func once(fn func()) Release {
	var o sync.Once
	return func() { o.Do(fn) }
}
