// Package testutil provides in-memory stand-ins for the registry and fault
// injection around namespace stores, shared by service and handler tests.
package testutil

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/db/repositories"
)

// Registry is an in-memory registry with the same contract as
// repositories.OrganizationRepository: (nil, nil) on not-found, unique
// organization_name (ignoring case) and admin_email, optimistic versions.
//
// The *Err fields, when set, are returned by the matching method instead of
// touching state.
type Registry struct {
	mu   sync.Mutex
	byID map[string]*models.Organization

	FindErr   error
	InsertErr error
	UpdateErr error
	DeleteErr error
	ListErr   error

	// BeforeUpdate runs inside UpdateFields before the version check.
	BeforeUpdate func()
}

// NewRegistry returns an empty registry
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*models.Organization)}
}

func clone(o *models.Organization) *models.Organization {
	c := *o
	return &c
}

func (r *Registry) find(match func(*models.Organization) bool) *models.Organization {
	for _, o := range r.byID {
		if match(o) {
			return clone(o)
		}
	}
	return nil
}

// FindByName implements services.Registry
func (r *Registry) FindByName(_ context.Context, name string) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FindErr != nil {
		return nil, r.FindErr
	}
	return r.find(func(o *models.Organization) bool { return o.Name == name }), nil
}

// FindByEmail implements services.Registry
func (r *Registry) FindByEmail(_ context.Context, email string) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FindErr != nil {
		return nil, r.FindErr
	}
	return r.find(func(o *models.Organization) bool { return o.AdminEmail == email }), nil
}

// FindConflictingName implements services.Registry
func (r *Registry) FindConflictingName(_ context.Context, name, excludeID string) (*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FindErr != nil {
		return nil, r.FindErr
	}
	return r.find(func(o *models.Organization) bool { return strings.EqualFold(o.Name, name) && o.ID != excludeID }), nil
}

// uniqueViolation returns the constraint a write with these values breaks.
func (r *Registry) uniqueViolation(id, name, email string) error {
	for _, o := range r.byID {
		if o.ID == id {
			continue
		}
		if o.Name == name {
			return &repositories.DuplicateKeyError{Constraint: repositories.ConstraintOrganizationName}
		}
		if strings.EqualFold(o.Name, name) {
			return &repositories.DuplicateKeyError{Constraint: repositories.ConstraintOrganizationNameLower}
		}
		if o.AdminEmail == email {
			return &repositories.DuplicateKeyError{Constraint: repositories.ConstraintAdminEmail}
		}
	}
	return nil
}

// Insert implements services.Registry
func (r *Registry) Insert(_ context.Context, org *models.Organization) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.InsertErr != nil {
		return r.InsertErr
	}
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if err := r.uniqueViolation(org.ID, org.Name, org.AdminEmail); err != nil {
		return err
	}
	now := time.Now().UTC()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = now
	}
	org.UpdatedAt = now
	org.NamespaceName = models.NamespaceName(org.Name)
	org.Version = 1
	r.byID[org.ID] = clone(org)
	return nil
}

// UpdateFields implements services.Registry
func (r *Registry) UpdateFields(_ context.Context, id string, fields models.OrganizationUpdate, expectedVersion int64) (*models.Organization, error) {
	if r.BeforeUpdate != nil {
		r.BeforeUpdate()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.UpdateErr != nil {
		return nil, r.UpdateErr
	}
	o, ok := r.byID[id]
	if !ok || o.Version != expectedVersion {
		return nil, repositories.ErrVersionConflict
	}
	if err := r.uniqueViolation(id, fields.Name, fields.AdminEmail); err != nil {
		return nil, err
	}
	o.Name = fields.Name
	o.NamespaceName = models.NamespaceName(fields.Name)
	o.AdminEmail = fields.AdminEmail
	o.AdminPasswordHash = fields.AdminPasswordHash
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	return clone(o), nil
}

// DeleteByName implements services.Registry
func (r *Registry) DeleteByName(_ context.Context, name string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.DeleteErr != nil {
		return false, r.DeleteErr
	}
	for id, o := range r.byID {
		if o.Name == name {
			delete(r.byID, id)
			return true, nil
		}
	}
	return false, nil
}

// List implements services.Registry
func (r *Registry) List(_ context.Context) ([]*models.Organization, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ListErr != nil {
		return nil, r.ListErr
	}
	out := make([]*models.Organization, 0, len(r.byID))
	for _, o := range r.byID {
		out = append(out, clone(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Len returns the number of stored organizations.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// Put stores org as-is, bypassing constraints. Used to seed inconsistent states.
func (r *Registry) Put(org *models.Organization) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if org.ID == "" {
		org.ID = uuid.New().String()
	}
	if org.NamespaceName == "" {
		org.NamespaceName = models.NamespaceName(org.Name)
	}
	if org.Version == 0 {
		org.Version = 1
	}
	r.byID[org.ID] = clone(org)
}
