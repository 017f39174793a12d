package services

import (
	"context"
	"fmt"

	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/lock"
	"github.com/orgstore/orgstore/internal/storage"
	"github.com/orgstore/orgstore/internal/validation"
)

// MaxDocumentsPerRequest caps a single AddDocuments batch.
const MaxDocumentsPerRequest = 100

// DocumentService stores and lists tenant documents in the caller's
// namespace. The caller's organization always comes from its session token.
type DocumentService struct {
	registry Registry
	store    storage.NamespaceStore
	locker   lock.Locker
}

// NewDocumentService creates a new document service
func NewDocumentService(registry Registry, store storage.NamespaceStore, locker lock.Locker) *DocumentService {
	return &DocumentService{registry: registry, store: store, locker: locker}
}

// resolve maps the requester to its current registry record.
func (s *DocumentService) resolve(ctx context.Context, requester *auth.Claims) (*models.Organization, error) {
	if requester == nil {
		return nil, ErrUnauthorized
	}
	org, err := s.registry.FindByName(ctx, requester.OrganizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up organization: %w", err)
	}
	if org == nil {
		return nil, ErrNotFound
	}
	if org.ID != requester.AdminID {
		return nil, ErrForbidden
	}
	return org, nil
}

// Add stores bodies in the requester's namespace. It holds the organization
// lock so a concurrent rename cannot strand the new documents in the old
// namespace.
func (s *DocumentService) Add(ctx context.Context, requester *auth.Claims, bodies []map[string]interface{}) (docs []models.Document, err error) {
	defer func() { recordOperation("add_documents", err) }()

	if len(bodies) == 0 {
		return nil, &ValidationError{Message: "at least one document is required"}
	}
	if len(bodies) > MaxDocumentsPerRequest {
		return nil, &ValidationError{Message: fmt.Sprintf("at most %d documents per request", MaxDocumentsPerRequest)}
	}
	for _, body := range bodies {
		if err := validation.ValidateDocument(body); err != nil {
			return nil, asValidationError(err)
		}
	}
	if requester == nil {
		return nil, ErrUnauthorized
	}

	release, err := acquire(ctx, s.locker, "add_documents", requester.OrganizationID)
	if err != nil {
		return nil, err
	}
	defer release()

	org, err := s.resolve(ctx, requester)
	if err != nil {
		return nil, err
	}
	docs, err = s.store.InsertDocuments(ctx, org.Name, bodies)
	if err != nil {
		return nil, fmt.Errorf("failed to store documents in %s: %w", org.NamespaceName, err)
	}
	return docs, nil
}

// List returns the requester's documents, marker excluded.
func (s *DocumentService) List(ctx context.Context, requester *auth.Claims) (docs []models.Document, err error) {
	defer func() { recordOperation("list_documents", err) }()

	org, err := s.resolve(ctx, requester)
	if err != nil {
		return nil, err
	}
	docs, err = s.store.Documents(ctx, org.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents in %s: %w", org.NamespaceName, err)
	}
	return docs, nil
}
