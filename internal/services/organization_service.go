// organization_service.go implements the organization lifecycle: create, get,
// rename/update and delete across the registry and the namespace store.
//
// Ordering policy: a crash between steps may leave an orphaned namespace (no
// registry row references it) but never a registry row pointing at a missing
// namespace, and never loses tenant documents. Orphans are reported by
// `orgctl orphans`.
package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/db/repositories"
	"github.com/orgstore/orgstore/internal/lock"
	"github.com/orgstore/orgstore/internal/storage"
	"github.com/orgstore/orgstore/internal/telemetry"
	"github.com/orgstore/orgstore/internal/validation"
)

// CreateOrganizationInput is the request to provision an organization
type CreateOrganizationInput struct {
	Name     string
	Email    string
	Password string
}

// UpdateOrganizationInput is the request to rename or re-credential an
// organization. Email identifies the organization by its current admin email.
type UpdateOrganizationInput struct {
	Email    string
	Name     string
	Password string
	// NewEmail replaces the admin email. Empty keeps Email.
	NewEmail string
}

// OrganizationService orchestrates lifecycle operations. Every mutating
// operation holds the per-organization lock for all names it touches.
type OrganizationService struct {
	registry Registry
	store    storage.NamespaceStore
	locker   lock.Locker
	hasher   PasswordHasher
}

// NewOrganizationService creates a new organization service
func NewOrganizationService(registry Registry, store storage.NamespaceStore, locker lock.Locker, hasher PasswordHasher) *OrganizationService {
	return &OrganizationService{
		registry: registry,
		store:    store,
		locker:   locker,
		hasher:   hasher,
	}
}

// ---------------------------------------------------------------------------
// Create
// ---------------------------------------------------------------------------

// Create provisions the namespace first and the registry row second.
func (s *OrganizationService) Create(ctx context.Context, in CreateOrganizationInput) (view *models.PublicOrganization, err error) {
	defer func() { recordOperation("create", err) }()

	if err := validation.ValidateOrganizationName(in.Name); err != nil {
		return nil, asValidationError(err)
	}
	email, err := validation.NormalizeEmail("email", in.Email)
	if err != nil {
		return nil, asValidationError(err)
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, asValidationError(err)
	}

	release, err := acquire(ctx, s.locker, "create", in.Name)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	existing, err := s.registry.FindConflictingName(ctx, in.Name, "")
	if err != nil {
		return nil, fmt.Errorf("failed to look up organization: %w", err)
	}
	if existing != nil {
		return nil, ErrAlreadyExists
	}
	owner, err := s.registry.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up admin email: %w", err)
	}
	if owner != nil {
		return nil, ErrEmailInUse
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	// No registry row references this name, so anything stored under it is a
	// leftover from an interrupted operation and must not be inherited.
	if err := s.store.Drop(ctx, in.Name); err != nil {
		return nil, fmt.Errorf("failed to clear namespace: %w", err)
	}
	ns, err := s.store.Create(ctx, in.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create namespace: %w", err)
	}

	org := &models.Organization{
		Name:              in.Name,
		NamespaceName:     ns.Name,
		AdminEmail:        email,
		AdminPasswordHash: hash,
	}
	if err := s.registry.Insert(ctx, org); err != nil {
		dropBestEffort(ctx, s.store, in.Name, "create")
		return nil, registryWriteError(err, ErrAlreadyExists)
	}

	slog.InfoContext(ctx, "organization created", logAttrs(ctx, org.Name)...)
	v := org.Public()
	return &v, nil
}

// ---------------------------------------------------------------------------
// Get
// ---------------------------------------------------------------------------

// Get returns the public view of an organization.
func (s *OrganizationService) Get(ctx context.Context, name string) (view *models.PublicOrganization, err error) {
	defer func() { recordOperation("get", err) }()

	org, err := s.registry.FindByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up organization: %w", err)
	}
	if org == nil {
		return nil, ErrNotFound
	}
	v := org.Public()
	return &v, nil
}

// ---------------------------------------------------------------------------
// Update
// ---------------------------------------------------------------------------

// Update copies documents into the new namespace, repoints the registry row,
// and only then drops the old namespace. Email and password change whether or
// not the name does.
func (s *OrganizationService) Update(ctx context.Context, in UpdateOrganizationInput) (view *models.PublicOrganization, err error) {
	defer func() { recordOperation("update", err) }()

	if err := validation.ValidateOrganizationName(in.Name); err != nil {
		return nil, asValidationError(err)
	}
	email, err := validation.NormalizeEmail("email", in.Email)
	if err != nil {
		return nil, asValidationError(err)
	}
	newEmail := email
	if strings.TrimSpace(in.NewEmail) != "" {
		if newEmail, err = validation.NormalizeEmail("new_email", in.NewEmail); err != nil {
			return nil, asValidationError(err)
		}
	}
	if err := validation.ValidatePassword(in.Password); err != nil {
		return nil, asValidationError(err)
	}

	existing, err := s.registry.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up organization: %w", err)
	}
	if existing == nil {
		return nil, ErrNotFound
	}

	release, err := acquire(ctx, s.locker, "update", existing.Name, in.Name)
	if err != nil {
		return nil, err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	// Re-read under the lock: the record may have been renamed before we got it.
	current, err := s.registry.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to look up organization: %w", err)
	}
	if current == nil {
		return nil, ErrNotFound
	}
	if current.ID != existing.ID || current.Name != existing.Name {
		return nil, ErrConflict
	}

	oldName := current.Name
	renamed := in.Name != oldName

	// Names differing only in case share a namespace on case-insensitive backends.
	if renamed && strings.EqualFold(in.Name, oldName) {
		return nil, &NameConflictError{Name: in.Name}
	}
	if renamed {
		clash, err := s.registry.FindConflictingName(ctx, in.Name, current.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to check organization name: %w", err)
		}
		if clash != nil {
			return nil, &NameConflictError{Name: in.Name}
		}
	}
	if newEmail != current.AdminEmail {
		owner, err := s.registry.FindByEmail(ctx, newEmail)
		if err != nil {
			return nil, fmt.Errorf("failed to look up admin email: %w", err)
		}
		if owner != nil && owner.ID != current.ID {
			return nil, ErrEmailInUse
		}
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	if _, err := s.store.Get(ctx, oldName); err != nil {
		return nil, fmt.Errorf("failed to open namespace %s: %w", current.NamespaceName, err)
	}
	if renamed {
		if err := s.store.Drop(ctx, in.Name); err != nil {
			return nil, fmt.Errorf("failed to clear target namespace: %w", err)
		}
	}
	if _, err := s.store.Create(ctx, in.Name); err != nil {
		return nil, fmt.Errorf("failed to create namespace: %w", err)
	}
	copied, err := s.store.CopyAll(ctx, oldName, in.Name)
	if err != nil {
		if renamed {
			dropBestEffort(ctx, s.store, in.Name, "update")
		}
		return nil, fmt.Errorf("failed to migrate documents: %w", err)
	}

	updated, err := s.registry.UpdateFields(ctx, current.ID, models.OrganizationUpdate{
		Name:              in.Name,
		AdminEmail:        newEmail,
		AdminPasswordHash: hash,
	}, current.Version)
	if err != nil {
		if renamed {
			dropBestEffort(ctx, s.store, in.Name, "update")
		}
		return nil, registryWriteError(err, &NameConflictError{Name: in.Name})
	}

	if renamed {
		telemetry.DocumentsMigratedTotal.Add(float64(copied))
		// The registry already points at the new namespace; a failed drop
		// only leaves an unreferenced duplicate.
		dropBestEffort(ctx, s.store, oldName, "rename")
		slog.InfoContext(ctx, "organization renamed",
			append(logAttrs(ctx, updated.Name), "previous_organization", oldName, "documents_migrated", copied)...)
	} else {
		slog.InfoContext(ctx, "organization updated", logAttrs(ctx, updated.Name)...)
	}

	v := updated.Public()
	return &v, nil
}

// ---------------------------------------------------------------------------
// Delete
// ---------------------------------------------------------------------------

// Delete removes the registry row first, so the organization is gone as soon
// as the call succeeds, then drops the namespace best-effort.
func (s *OrganizationService) Delete(ctx context.Context, name string, requester *auth.Claims) (err error) {
	defer func() { recordOperation("delete", err) }()

	if requester == nil {
		return ErrUnauthorized
	}
	if requester.OrganizationID != name {
		return ErrForbidden
	}

	release, err := acquire(ctx, s.locker, "delete", name)
	if err != nil {
		return err
	}
	defer release()
	ctx = context.WithoutCancel(ctx)

	org, err := s.registry.FindByName(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to look up organization: %w", err)
	}
	if org == nil {
		return ErrNotFound
	}
	// A token minted for an earlier organization of the same name.
	if requester.AdminID != org.ID {
		return ErrForbidden
	}

	deleted, err := s.registry.DeleteByName(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	if !deleted {
		return ErrNotFound
	}

	dropBestEffort(ctx, s.store, name, "delete")
	slog.InfoContext(ctx, "organization deleted", logAttrs(ctx, name)...)
	return nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// acquire takes the per-organization lock, translating contention to ErrConflict.
func acquire(ctx context.Context, locker lock.Locker, operation string, names ...string) (lock.Release, error) {
	release, err := locker.TryLock(ctx, names...)
	if errors.Is(err, lock.ErrLocked) {
		telemetry.LockContentionTotal.WithLabelValues(operation).Inc()
		slog.WarnContext(ctx, "organization locked by another operation",
			"operation", operation, "organizations", names,
			"request_id", telemetry.RequestIDFromContext(ctx))
		return nil, ErrConflict
	}
	if err != nil {
		return nil, fmt.Errorf("failed to acquire organization lock: %w", err)
	}
	return release, nil
}

// dropBestEffort drops a namespace and reports, but does not return, failure.
func dropBestEffort(ctx context.Context, store storage.NamespaceStore, organization, cause string) {
	if err := store.Drop(ctx, organization); err != nil {
		telemetry.NamespaceDropFailuresTotal.WithLabelValues(cause).Inc()
		slog.ErrorContext(ctx, "failed to drop namespace, it is now orphaned",
			append(logAttrs(ctx, organization), "cause", cause, "error", err)...)
	}
}

// registryWriteError maps registry write failures onto domain errors.
// nameTaken is returned when the organization_name constraint fired.
func registryWriteError(err, nameTaken error) error {
	var dup *repositories.DuplicateKeyError
	if errors.As(err, &dup) {
		if dup.Field() == "admin_email" {
			return ErrEmailInUse
		}
		return nameTaken
	}
	if errors.Is(err, repositories.ErrVersionConflict) {
		return ErrConflict
	}
	return fmt.Errorf("failed to write organization: %w", err)
}

func recordOperation(operation string, err error) {
	telemetry.LifecycleOperationsTotal.WithLabelValues(operation, resultLabel(err)).Inc()
}

func logAttrs(ctx context.Context, organization string) []any {
	return []any{
		"organization", organization,
		"namespace", models.NamespaceName(organization),
		"request_id", telemetry.RequestIDFromContext(ctx),
	}
}
