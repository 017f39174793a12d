// Package memory implements an in-process namespace store. It is intended for
// development and tests only: data is lost on restart and is not shared
// between server instances.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orgstore/orgstore/internal/config"
	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/storage"
)

func init() {
	storage.Register("memory", func(_ context.Context, _ *config.Config, _ storage.Deps) (storage.NamespaceStore, error) {
		return New(), nil
	})
}

type namespace struct {
	markerAt time.Time
	docs     []models.Document
}

// Store implements storage.NamespaceStore in memory
type Store struct {
	mu         sync.RWMutex
	namespaces map[string]*namespace
	nextID     int64
	now        func() time.Time
}

// New creates an empty in-memory namespace store
func New() *Store {
	return &Store{
		namespaces: make(map[string]*namespace),
		now:        time.Now,
	}
}

// Create materializes the namespace if it is not already present
func (s *Store) Create(_ context.Context, organization string) (*storage.Namespace, error) {
	name := models.NamespaceName(organization)

	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[name]
	if !ok {
		ns = &namespace{markerAt: s.now().UTC()}
		s.namespaces[name] = ns
	}
	return &storage.Namespace{Organization: organization, Name: name, CreatedAt: ns.markerAt}, nil
}

// Get returns the namespace or storage.ErrNamespaceNotFound
func (s *Store) Get(_ context.Context, organization string) (*storage.Namespace, error) {
	name := models.NamespaceName(organization)

	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.namespaces[name]
	if !ok {
		return nil, storage.ErrNamespaceNotFound
	}
	return &storage.Namespace{Organization: organization, Name: name, CreatedAt: ns.markerAt}, nil
}

// Drop removes the namespace and its documents
func (s *Store) Drop(_ context.Context, organization string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.namespaces, models.NamespaceName(organization))
	return nil
}

// CopyAll copies src's documents into dst, which must exist
func (s *Store) CopyAll(_ context.Context, src, dst string) (int, error) {
	if src == dst {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.namespaces[models.NamespaceName(src)]
	if !ok {
		return 0, fmt.Errorf("source %w: %s", storage.ErrNamespaceNotFound, models.NamespaceName(src))
	}
	to, ok := s.namespaces[models.NamespaceName(dst)]
	if !ok {
		return 0, fmt.Errorf("destination %w: %s", storage.ErrNamespaceNotFound, models.NamespaceName(dst))
	}

	for _, doc := range from.docs {
		body, err := cloneBody(doc.Body)
		if err != nil {
			return 0, err
		}
		to.docs = append(to.docs, models.Document{ID: s.newID(), Body: body, CreatedAt: doc.CreatedAt})
	}
	return len(from.docs), nil
}

// InsertDocuments appends documents to an existing namespace
func (s *Store) InsertDocuments(_ context.Context, organization string, bodies []map[string]interface{}) ([]models.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ns, ok := s.namespaces[models.NamespaceName(organization)]
	if !ok {
		return nil, storage.ErrNamespaceNotFound
	}

	now := s.now().UTC()
	inserted := make([]models.Document, 0, len(bodies))
	for _, b := range bodies {
		body, err := cloneBody(b)
		if err != nil {
			return nil, err
		}
		doc := models.Document{ID: s.newID(), Body: body, CreatedAt: now}
		ns.docs = append(ns.docs, doc)
		inserted = append(inserted, doc)
	}
	return inserted, nil
}

// Documents returns copies of the namespace's documents
func (s *Store) Documents(_ context.Context, organization string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ns, ok := s.namespaces[models.NamespaceName(organization)]
	if !ok {
		return nil, storage.ErrNamespaceNotFound
	}

	docs := make([]models.Document, 0, len(ns.docs))
	for _, doc := range ns.docs {
		body, err := cloneBody(doc.Body)
		if err != nil {
			return nil, err
		}
		docs = append(docs, models.Document{ID: doc.ID, Body: body, CreatedAt: doc.CreatedAt})
	}
	return docs, nil
}

// List returns all namespace names, sorted
func (s *Store) List(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.namespaces))
	for name := range s.namespaces {
		if strings.HasPrefix(name, models.NamespacePrefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// Ping always succeeds
func (s *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op
func (s *Store) Close(_ context.Context) error { return nil }

// newID must be called with mu held.
func (s *Store) newID() string {
	s.nextID++
	return strconv.FormatInt(s.nextID, 10)
}

// cloneBody deep-copies a document body through JSON so stored documents
// never alias caller maps and value types match the database backends.
func cloneBody(body map[string]interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	out, err := storage.DecodeBody(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}
	return out, nil
}
