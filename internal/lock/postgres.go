package lock

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// defaultReserveTimeout bounds the wait for a free lock connection.
const defaultReserveTimeout = 2 * time.Second

// PostgresLocker uses session-level advisory locks. Keys are hashed with
// hashtext, so two names may share a lock slot; that only causes spurious
// contention, never missed exclusion.
//
// db should be a small pool of its own. Every held lock pins one of its
// connections for the whole operation, and the operation itself needs master
// connections to make progress.
type PostgresLocker struct {
	db             *sql.DB
	reserveTimeout time.Duration
}

// NewPostgresLocker creates an advisory-lock locker
func NewPostgresLocker(db *sql.DB) *PostgresLocker {
	return &PostgresLocker{db: db, reserveTimeout: defaultReserveTimeout}
}

// TryLock pins a dedicated connection, since advisory locks belong to the
// session that took them, and holds it until Release. When the pool stays
// exhausted for reserveTimeout the call fails with ErrLocked, as every
// connection is then held by an operation in flight.
func (l *PostgresLocker) TryLock(ctx context.Context, keys ...string) (Release, error) {
	keys = normalizeKeys(keys)

	conn, err := l.reserve(ctx)
	if err != nil {
		return nil, err
	}

	acquired := make([]string, 0, len(keys))
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		for _, k := range acquired {
			if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_unlock(hashtext($1))`, k); err != nil {
				slog.Warn("failed to release advisory lock", "key", k, "error", err)
			}
		}
		if err := conn.Close(); err != nil {
			slog.Warn("failed to return lock connection", "error", err)
		}
	}

	for _, k := range keys {
		var ok bool
		if err := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, k).Scan(&ok); err != nil {
			release()
			return nil, fmt.Errorf("failed to acquire advisory lock %q: %w", k, err)
		}
		if !ok {
			release()
			return nil, ErrLocked
		}
		acquired = append(acquired, k)
	}

	return once(release), nil
}

func (l *PostgresLocker) reserve(ctx context.Context) (*sql.Conn, error) {
	reserveCtx, cancel := context.WithTimeout(ctx, l.reserveTimeout)
	defer cancel()

	conn, err := l.db.Conn(reserveCtx)
	if err == nil {
		return conn, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return nil, fmt.Errorf("%w: no lock connection free within %s", ErrLocked, l.reserveTimeout)
	}
	return nil, fmt.Errorf("failed to reserve lock connection: %w", err)
}
