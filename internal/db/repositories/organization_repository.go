// organization_repository.go implements OrganizationRepository, the registry of
// organizations and their admin credentials.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/orgstore/orgstore/internal/db/models"
)

// Constraint names declared by the organizations migration.
const (
	ConstraintOrganizationName      = "organizations_name_key"
	ConstraintOrganizationNameLower = "idx_organizations_name_lower"
	ConstraintAdminEmail            = "organizations_admin_email_key"
	ConstraintAdminEmailLower       = "idx_organizations_admin_email_lower"
)

// pqUniqueViolation is the SQLSTATE for unique_violation.
const pqUniqueViolation = "23505"

var (
	// ErrDuplicateKey matches any *DuplicateKeyError via errors.Is.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrVersionConflict is returned by UpdateFields when the row changed (or
	// vanished) since the expected version was read.
	ErrVersionConflict = errors.New("organization was modified concurrently")
)

// DuplicateKeyError reports which unique field rejected a write.
type DuplicateKeyError struct {
	Constraint string
}

func (e *DuplicateKeyError) Error() string {
	return fmt.Sprintf("duplicate key violates unique constraint %q", e.Constraint)
}

// Is lets errors.Is(err, ErrDuplicateKey) match.
func (e *DuplicateKeyError) Is(target error) bool {
	return target == ErrDuplicateKey
}

// Field names the organization field the constraint protects.
func (e *DuplicateKeyError) Field() string {
	switch e.Constraint {
	case ConstraintAdminEmail, ConstraintAdminEmailLower:
		return "admin_email"
	default:
		return "organization_name"
	}
}

const organizationColumns = `id, organization_name, namespace_name, admin_email, admin_password_hash, version, created_at, updated_at`

// OrganizationRepository handles database operations for the organization registry
type OrganizationRepository struct {
	db  *sqlx.DB
	now func() time.Time
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db, now: time.Now}
}

// get runs a single-row query and maps sql.ErrNoRows to (nil, nil).
func (r *OrganizationRepository) get(ctx context.Context, query string, args ...interface{}) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.GetContext(ctx, &org, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &org, nil
}

// FindByName retrieves an organization by its name. Returns (nil, nil) if absent.
func (r *OrganizationRepository) FindByName(ctx context.Context, name string) (*models.Organization, error) {
	org, err := r.get(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE organization_name = $1`, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization by name: %w", err)
	}
	return org, nil
}

// FindByEmail retrieves an organization by its admin email. Returns (nil, nil) if absent.
func (r *OrganizationRepository) FindByEmail(ctx context.Context, email string) (*models.Organization, error) {
	org, err := r.get(ctx, `SELECT `+organizationColumns+` FROM organizations WHERE admin_email = $1`, email)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization by email: %w", err)
	}
	return org, nil
}

// FindConflictingName returns an organization whose name equals name ignoring
// case and whose id is not excludeID. An empty excludeID matches every row.
func (r *OrganizationRepository) FindConflictingName(ctx context.Context, name, excludeID string) (*models.Organization, error) {
	org, err := r.get(ctx,
		`SELECT `+organizationColumns+` FROM organizations WHERE LOWER(organization_name) = LOWER($1) AND id::text <> $2`,
		name, excludeID)
	if err != nil {
		return nil, fmt.Errorf("failed to check organization name conflict: %w", err)
	}
	return org, nil
}

// Insert stores a new organization. ID, namespace name, version and
// timestamps are assigned here and written back into org.
func (r *OrganizationRepository) Insert(ctx context.Context, org *models.Organization) error {
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	now := r.now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	org.NamespaceName = models.NamespaceName(org.Name)
	org.Version = 1

	query := `
		INSERT INTO organizations (
			id, organization_name, namespace_name, admin_email,
			admin_password_hash, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		org.ID, org.Name, org.NamespaceName, org.AdminEmail,
		org.AdminPasswordHash, org.Version, org.CreatedAt, org.UpdatedAt,
	)
	if err != nil {
		if dup := asDuplicateKey(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to insert organization: %w", err)
	}
	return nil
}

// UpdateFields overwrites the mutable fields of the organization with the
// given id, provided its version still equals expectedVersion. The namespace
// name is recomputed from the new name; id and created_at never change.
func (r *OrganizationRepository) UpdateFields(ctx context.Context, id string, fields models.OrganizationUpdate, expectedVersion int64) (*models.Organization, error) {
	query := `
		UPDATE organizations
		SET organization_name = $1,
		    namespace_name = $2,
		    admin_email = $3,
		    admin_password_hash = $4,
		    version = version + 1,
		    updated_at = $5
		WHERE id = $6 AND version = $7
		RETURNING ` + organizationColumns

	org, err := r.get(ctx, query,
		fields.Name, models.NamespaceName(fields.Name), fields.AdminEmail,
		fields.AdminPasswordHash, r.now().UTC(), id, expectedVersion,
	)
	if err != nil {
		if dup := asDuplicateKey(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("failed to update organization: %w", err)
	}
	if org == nil {
		return nil, ErrVersionConflict
	}
	return org, nil
}

// DeleteByName removes the organization row. It reports whether a row was deleted.
func (r *OrganizationRepository) DeleteByName(ctx context.Context, name string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM organizations WHERE organization_name = $1`, name)
	if err != nil {
		return false, fmt.Errorf("failed to delete organization: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n > 0, nil
}

// List returns every organization ordered by name.
func (r *OrganizationRepository) List(ctx context.Context) ([]*models.Organization, error) {
	orgs := make([]*models.Organization, 0)
	err := r.db.SelectContext(ctx, &orgs, `SELECT `+organizationColumns+` FROM organizations ORDER BY organization_name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list organizations: %w", err)
	}
	return orgs, nil
}

func asDuplicateKey(err error) *DuplicateKeyError {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && string(pqErr.Code) == pqUniqueViolation {
		return &DuplicateKeyError{Constraint: pqErr.Constraint}
	}
	return nil
}
