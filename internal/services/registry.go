// Package services implements the organization lifecycle, admin
// authentication and tenant document operations on top of the registry, the
// namespace store and the per-organization locker.
package services

import (
	"context"
	"time"

	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/db/repositories"
)

// Registry is the source of truth for which organizations exist. Lookups
// return (nil, nil) when nothing matches. FindConflictingName compares names
// case-insensitively and an empty excludeID excludes nothing.
type Registry interface {
	FindByName(ctx context.Context, name string) (*models.Organization, error)
	FindByEmail(ctx context.Context, email string) (*models.Organization, error)
	FindConflictingName(ctx context.Context, name, excludeID string) (*models.Organization, error)
	Insert(ctx context.Context, org *models.Organization) error
	UpdateFields(ctx context.Context, id string, fields models.OrganizationUpdate, expectedVersion int64) (*models.Organization, error)
	DeleteByName(ctx context.Context, name string) (bool, error)
	List(ctx context.Context) ([]*models.Organization, error)
}

var _ Registry = (*repositories.OrganizationRepository)(nil)

// PasswordHasher is the credential codec.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(hash, password string) bool
	VerifyMissing(password string) bool
}

var _ PasswordHasher = (*auth.PasswordHasher)(nil)

// TokenIssuer signs and verifies session tokens.
type TokenIssuer interface {
	Issue(adminID, organization, email string) (string, error)
	Verify(token string) (*auth.Claims, error)
	TTL() time.Duration
}

var _ TokenIssuer = (*auth.TokenIssuer)(nil)
