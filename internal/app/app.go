// Package app opens the process-owned backends (master database, Redis,
// namespace store, lock) from configuration. cmd/server and cmd/orgctl share
// it so both always agree on where namespaces live and how they are locked.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"

	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/db"
	"github.com/orgstore/orgstore/internal/db/repositories"
	"github.com/orgstore/orgstore/internal/lock"
	"github.com/orgstore/orgstore/internal/storage"

	// Import namespace backends to register them
	_ "github.com/orgstore/orgstore/internal/storage/memory"
	_ "github.com/orgstore/orgstore/internal/storage/mongodb"
	_ "github.com/orgstore/orgstore/internal/storage/postgres"
)

// Backends holds the connections every command works against.
type Backends struct {
	DB *sql.DB
	// LockDB is the postgres locker's own pool, nil for other lock backends.
	LockDB   *sql.DB
	Redis    *redis.Client
	Store    storage.NamespaceStore
	Locker   lock.Locker
	Registry *repositories.OrganizationRepository
}

// Open connects to everything cfg selects. On error, whatever was already
// opened is closed.
func Open(ctx context.Context, cfg *config.Config) (b *Backends, err error) {
	b = &Backends{}
	defer func() {
		if err != nil {
			b.Close(context.WithoutCancel(ctx))
			b = nil
		}
	}()

	b.DB, err = db.Connect(ctx, &cfg.Database)
	if err != nil {
		return b, fmt.Errorf("failed to connect to database: %w", err)
	}
	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	if cfg.RedisEnabled() {
		b.Redis, err = db.ConnectRedis(ctx, &cfg.Redis)
		if err != nil {
			return b, err
		}
		slog.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	b.Store, err = storage.NewNamespaceStore(ctx, cfg, storage.Deps{DB: b.DB})
	if err != nil {
		return b, fmt.Errorf("failed to initialize namespace backend: %w", err)
	}
	slog.Info("initialized namespace backend", "backend", cfg.Namespaces.Backend)

	if cfg.Locking.Backend == "postgres" {
		lockCfg := lockPoolConfig(cfg)
		b.LockDB, err = db.Connect(ctx, &lockCfg)
		if err != nil {
			return b, fmt.Errorf("failed to open lock connection pool: %w", err)
		}
	}

	b.Locker, err = lock.New(&cfg.Locking, b.Redis, b.LockDB)
	if err != nil {
		return b, fmt.Errorf("failed to initialize locker: %w", err)
	}
	if cfg.Locking.Backend == "memory" || cfg.Locking.Backend == "" {
		slog.Warn("using in-process locking; run a single server instance or select the redis/postgres locking backend")
	}

	b.Registry = repositories.NewOrganizationRepository(sqlx.NewDb(b.DB, "postgres"))
	return b, nil
}

// Close releases every opened backend.
func (b *Backends) Close(ctx context.Context) error {
	var errs []error
	if b.Store != nil {
		errs = append(errs, b.Store.Close(ctx))
	}
	if b.Redis != nil {
		errs = append(errs, b.Redis.Close())
	}
	if b.LockDB != nil {
		errs = append(errs, b.LockDB.Close())
	}
	if b.DB != nil {
		errs = append(errs, b.DB.Close())
	}
	return errors.Join(errs...)
}

// lockPoolConfig points at the master database with a pool sized by
// locking.max_connections, so held advisory locks never starve registry
// and namespace queries of connections.
func lockPoolConfig(cfg *config.Config) config.DatabaseConfig {
	lockCfg := cfg.Database
	lockCfg.MaxConnections = cfg.Locking.MaxConnections
	if lockCfg.MaxConnections <= 0 {
		lockCfg.MaxConnections = 5
	}
	lockCfg.MinIdleConnections = min(lockCfg.MinIdleConnections, lockCfg.MaxConnections)
	return lockCfg
}
