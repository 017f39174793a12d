// Package storage defines the tenant namespace store: one isolated namespace
// per organization, named org_<organization_name>, holding that
// organization's documents.
//
// Backends implement NamespaceStore and register with the factory from an
// init() function in their own package:
//
//	func init() {
//	    storage.Register("mybackend", func(ctx context.Context, cfg *config.Config, deps storage.Deps) (storage.NamespaceStore, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// cmd/server blank-imports each backend to trigger init().
//
// A namespace logically exists only while it holds a marker document
// ({_initialized: true, created_at}). Get never trusts backend-level
// laziness: a namespace without a marker is reported as not found.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/orgstore/orgstore/internal/db/models"
)

// ErrNamespaceNotFound is returned when a namespace has no marker document.
var ErrNamespaceNotFound = errors.New("namespace not found")

// Namespace describes a materialized organization namespace.
type Namespace struct {
	// Organization is the organization name the namespace was derived from.
	Organization string
	// Name is the physical namespace name, always org_<Organization>.
	Name string
	// CreatedAt is the timestamp carried by the marker document.
	CreatedAt time.Time
}

// NamespaceStore creates, reads, copies and destroys organization namespaces.
// All methods take organization names; the store derives namespace names.
type NamespaceStore interface {
	// Create materializes the namespace and writes the marker document if it
	// is not already present. Repeat calls leave exactly one marker.
	Create(ctx context.Context, organization string) (*Namespace, error)

	// Get returns the namespace, or ErrNamespaceNotFound unless a marker
	// document proves it was created.
	Get(ctx context.Context, organization string) (*Namespace, error)

	// Drop permanently destroys the namespace and all its documents.
	// Dropping an absent namespace is not an error.
	Drop(ctx context.Context, organization string) error

	// CopyAll copies every non-marker document from src into dst and leaves
	// dst carrying exactly one marker. It returns the number of documents
	// copied. CopyAll(x, x) is a no-op.
	CopyAll(ctx context.Context, src, dst string) (int, error)

	// InsertDocuments stores tenant documents in an existing namespace.
	InsertDocuments(ctx context.Context, organization string, bodies []map[string]interface{}) ([]models.Document, error)

	// Documents lists the namespace's tenant documents, marker excluded,
	// in insertion order.
	Documents(ctx context.Context, organization string) ([]models.Document, error)

	// List returns the names of all physical org_ namespaces, sorted,
	// whether or not a registry row references them.
	List(ctx context.Context) ([]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources owned by the store.
	Close(ctx context.Context) error
}
