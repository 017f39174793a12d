package testutil

import (
	"context"
	"sync"

	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/storage"
)

// FaultyStore wraps a NamespaceStore and fails selected calls. DropErr can be
// limited to one organization with DropErrFor.
type FaultyStore struct {
	storage.NamespaceStore

	mu         sync.Mutex
	CreateErr  error
	GetErr     error
	DropErr    error
	DropErrFor string
	CopyErr    error
	InsertErr  error

	// Calls records method names in call order.
	Calls []string
}

// NewFaultyStore wraps inner
func NewFaultyStore(inner storage.NamespaceStore) *FaultyStore {
	return &FaultyStore{NamespaceStore: inner}
}

func (f *FaultyStore) record(call string) {
	f.mu.Lock()
	f.Calls = append(f.Calls, call)
	f.mu.Unlock()
}

// Create implements storage.NamespaceStore
func (f *FaultyStore) Create(ctx context.Context, organization string) (*storage.Namespace, error) {
	f.record("create:" + organization)
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return f.NamespaceStore.Create(ctx, organization)
}

// Get implements storage.NamespaceStore
func (f *FaultyStore) Get(ctx context.Context, organization string) (*storage.Namespace, error) {
	f.record("get:" + organization)
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	return f.NamespaceStore.Get(ctx, organization)
}

// Drop implements storage.NamespaceStore
func (f *FaultyStore) Drop(ctx context.Context, organization string) error {
	f.record("drop:" + organization)
	if f.DropErr != nil && (f.DropErrFor == "" || f.DropErrFor == organization) {
		return f.DropErr
	}
	return f.NamespaceStore.Drop(ctx, organization)
}

// CopyAll implements storage.NamespaceStore
func (f *FaultyStore) CopyAll(ctx context.Context, src, dst string) (int, error) {
	f.record("copy:" + src + ">" + dst)
	if f.CopyErr != nil {
		return 0, f.CopyErr
	}
	return f.NamespaceStore.CopyAll(ctx, src, dst)
}

// InsertDocuments implements storage.NamespaceStore
func (f *FaultyStore) InsertDocuments(ctx context.Context, organization string, bodies []map[string]interface{}) ([]models.Document, error) {
	f.record("insert:" + organization)
	if f.InsertErr != nil {
		return nil, f.InsertErr
	}
	return f.NamespaceStore.InsertDocuments(ctx, organization, bodies)
}
