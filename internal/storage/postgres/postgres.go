// Package postgres stores each organization namespace as a PostgreSQL schema
// named org_<organization_name> holding a single documents table. It shares
// the master database connection pool.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/storage"
)

func init() {
	storage.Register("postgres", func(_ context.Context, _ *config.Config, deps storage.Deps) (storage.NamespaceStore, error) {
		if deps.DB == nil {
			return nil, errors.New("postgres namespace backend requires the master database handle")
		}
		return New(sqlx.NewDb(deps.DB, "postgres")), nil
	})
}

// markerFilter matches the marker document in a documents table.
const markerFilter = `body @> '{"` + models.MarkerField + `": true}'::jsonb`

// SQLSTATEs for a missing schema or table.
const (
	pqInvalidSchemaName = "3F000"
	pqUndefinedTable    = "42P01"
)

// Store implements storage.NamespaceStore on PostgreSQL schemas
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// New creates a schema-per-namespace store on an existing database handle.
// The handle is owned by the caller; Close does not close it.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: time.Now}
}

type documentRow struct {
	ID        int64     `db:"id"`
	Body      []byte    `db:"body"`
	CreatedAt time.Time `db:"created_at"`
}

// table returns the quoted documents table of an organization's namespace.
func table(organization string) string {
	return pq.QuoteIdentifier(models.NamespaceName(organization)) + ".documents"
}

// Create creates the schema, its documents table and the marker document,
// each only if absent.
func (s *Store) Create(ctx context.Context, organization string) (*storage.Namespace, error) {
	name := models.NamespaceName(organization)
	schema := pq.QuoteIdentifier(name)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `CREATE SCHEMA IF NOT EXISTS `+schema); err != nil {
		return nil, fmt.Errorf("failed to create schema %s: %w", name, err)
	}
	if _, err := tx.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS `+schema+`.documents (
			id         BIGSERIAL PRIMARY KEY,
			body       JSONB       NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`); err != nil {
		return nil, fmt.Errorf("failed to create documents table in %s: %w", name, err)
	}
	if err := ensureMarker(ctx, tx, organization, s.now().UTC()); err != nil {
		return nil, err
	}

	var createdAt time.Time
	if err := tx.GetContext(ctx, &createdAt,
		`SELECT created_at FROM `+schema+`.documents WHERE `+markerFilter+` ORDER BY id LIMIT 1`); err != nil {
		return nil, fmt.Errorf("failed to read marker in %s: %w", name, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit namespace creation: %w", err)
	}

	return &storage.Namespace{Organization: organization, Name: name, CreatedAt: createdAt}, nil
}

// Get returns the namespace when its marker document is present
func (s *Store) Get(ctx context.Context, organization string) (*storage.Namespace, error) {
	name := models.NamespaceName(organization)

	var createdAt time.Time
	err := s.db.GetContext(ctx, &createdAt,
		`SELECT created_at FROM `+table(organization)+` WHERE `+markerFilter+` ORDER BY id LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) || isMissingRelation(err) {
			return nil, storage.ErrNamespaceNotFound
		}
		return nil, fmt.Errorf("failed to get namespace %s: %w", name, err)
	}

	return &storage.Namespace{Organization: organization, Name: name, CreatedAt: createdAt}, nil
}

// Drop drops the schema and everything in it
func (s *Store) Drop(ctx context.Context, organization string) error {
	name := models.NamespaceName(organization)
	if _, err := s.db.ExecContext(ctx, `DROP SCHEMA IF EXISTS `+pq.QuoteIdentifier(name)+` CASCADE`); err != nil {
		return fmt.Errorf("failed to drop namespace %s: %w", name, err)
	}
	return nil
}

// CopyAll copies src's tenant documents into dst with one INSERT ... SELECT
func (s *Store) CopyAll(ctx context.Context, src, dst string) (int, error) {
	if src == dst {
		return 0, nil
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO `+table(dst)+` (body, created_at)
		SELECT body, created_at FROM `+table(src)+`
		WHERE NOT (`+markerFilter+`)
		ORDER BY id`)
	if err != nil {
		if isMissingRelation(err) {
			return 0, fmt.Errorf("failed to copy %s to %s: %w", src, dst, storage.ErrNamespaceNotFound)
		}
		return 0, fmt.Errorf("failed to copy documents: %w", err)
	}
	copied, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if err := ensureMarker(ctx, tx, dst, s.now().UTC()); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit document copy: %w", err)
	}
	return int(copied), nil
}

// InsertDocuments inserts bodies in one transaction
func (s *Store) InsertDocuments(ctx context.Context, organization string, bodies []map[string]interface{}) ([]models.Document, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now().UTC()
	inserted := make([]models.Document, 0, len(bodies))
	for _, body := range bodies {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode document: %w", err)
		}

		var id int64
		err = tx.GetContext(ctx, &id,
			`INSERT INTO `+table(organization)+` (body, created_at) VALUES ($1, $2) RETURNING id`,
			string(raw), now)
		if err != nil {
			if isMissingRelation(err) {
				return nil, storage.ErrNamespaceNotFound
			}
			return nil, fmt.Errorf("failed to insert document: %w", err)
		}
		inserted = append(inserted, models.Document{ID: strconv.FormatInt(id, 10), Body: body, CreatedAt: now})
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit documents: %w", err)
	}
	return inserted, nil
}

// Documents lists tenant documents in insertion order
func (s *Store) Documents(ctx context.Context, organization string) ([]models.Document, error) {
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, body, created_at FROM `+table(organization)+` WHERE NOT (`+markerFilter+`) ORDER BY id`)
	if err != nil {
		if isMissingRelation(err) {
			return nil, storage.ErrNamespaceNotFound
		}
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	docs := make([]models.Document, 0, len(rows))
	for _, row := range rows {
		body, err := storage.DecodeBody(row.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode document %d: %w", row.ID, err)
		}
		docs = append(docs, models.Document{ID: strconv.FormatInt(row.ID, 10), Body: body, CreatedAt: row.CreatedAt})
	}
	return docs, nil
}

// List returns every org_ schema, sorted
func (s *Store) List(ctx context.Context) ([]string, error) {
	names := make([]string, 0)
	err := s.db.SelectContext(ctx, &names, `
		SELECT schema_name FROM information_schema.schemata
		WHERE schema_name LIKE $1
		ORDER BY schema_name`, `org\_%`)
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	return names, nil
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close is a no-op; the shared handle is closed by its owner.
func (s *Store) Close(_ context.Context) error { return nil }

// ensureMarker inserts the marker document unless one is already present.
func ensureMarker(ctx context.Context, tx *sqlx.Tx, organization string, now time.Time) error {
	raw, err := json.Marshal(models.NewMarkerBody(now))
	if err != nil {
		return fmt.Errorf("failed to encode marker: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO `+table(organization)+` (body, created_at)
		SELECT $1::jsonb, $2::timestamptz
		WHERE NOT EXISTS (SELECT 1 FROM `+table(organization)+` WHERE `+markerFilter+`)`,
		string(raw), now)
	if err != nil {
		if isMissingRelation(err) {
			return fmt.Errorf("failed to write marker: %w", storage.ErrNamespaceNotFound)
		}
		return fmt.Errorf("failed to write marker: %w", err)
	}
	return nil
}

func isMissingRelation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == pqInvalidSchemaName || pqErr.Code == pqUndefinedTable
}
