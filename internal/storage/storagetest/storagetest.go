// Package storagetest holds a behavioural test suite every namespace backend
// must pass.
package storagetest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orgstore/orgstore/internal/db/models"
	"github.com/orgstore/orgstore/internal/storage"
)

// Run exercises store against the NamespaceStore contract. newStore must
// return an empty store.
func Run(t *testing.T, newStore func(t *testing.T) storage.NamespaceStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("get before create is not found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "ghost")
		assert.True(t, errors.Is(err, storage.ErrNamespaceNotFound), "err = %v", err)
	})

	t.Run("create then get", func(t *testing.T) {
		s := newStore(t)
		created, err := s.Create(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "org_acme", created.Name)
		assert.Equal(t, "acme", created.Organization)

		got, err := s.Get(ctx, "acme")
		require.NoError(t, err)
		assert.Equal(t, "org_acme", got.Name)
	})

	t.Run("create twice keeps one marker and no documents", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "acme")
		require.NoError(t, err)
		_, err = s.Create(ctx, "acme")
		require.NoError(t, err)

		docs, err := s.Documents(ctx, "acme")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("insert and list documents", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "acme")
		require.NoError(t, err)

		inserted, err := s.InsertDocuments(ctx, "acme", []map[string]interface{}{
			{"title": "first"},
			{"title": "second", "n": 2},
		})
		require.NoError(t, err)
		require.Len(t, inserted, 2)
		assert.NotEmpty(t, inserted[0].ID)

		docs, err := s.Documents(ctx, "acme")
		require.NoError(t, err)
		require.Len(t, docs, 2)
		assert.Equal(t, "first", docs[0].Body["title"])
		assert.Equal(t, "second", docs[1].Body["title"])
		for _, d := range docs {
			assert.False(t, models.IsMarker(d.Body), "marker leaked into Documents")
		}
	})

	t.Run("insert into missing namespace fails", func(t *testing.T) {
		s := newStore(t)
		_, err := s.InsertDocuments(ctx, "ghost", []map[string]interface{}{{"a": 1}})
		assert.True(t, errors.Is(err, storage.ErrNamespaceNotFound), "err = %v", err)
	})

	t.Run("copy all migrates documents", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "old")
		require.NoError(t, err)
		_, err = s.InsertDocuments(ctx, "old", []map[string]interface{}{{"k": "a"}, {"k": "b"}, {"k": "c"}})
		require.NoError(t, err)
		_, err = s.Create(ctx, "new")
		require.NoError(t, err)

		n, err := s.CopyAll(ctx, "old", "new")
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		docs, err := s.Documents(ctx, "new")
		require.NoError(t, err)
		require.Len(t, docs, 3)
		assert.Equal(t, "a", docs[0].Body["k"])
		assert.Equal(t, "c", docs[2].Body["k"])

		_, err = s.Get(ctx, "new")
		assert.NoError(t, err, "destination must carry a marker")
	})

	t.Run("copy all from empty source leaves marker", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "old")
		require.NoError(t, err)
		_, err = s.Create(ctx, "new")
		require.NoError(t, err)

		n, err := s.CopyAll(ctx, "old", "new")
		require.NoError(t, err)
		assert.Zero(t, n)

		_, err = s.Get(ctx, "new")
		assert.NoError(t, err)
		docs, err := s.Documents(ctx, "new")
		require.NoError(t, err)
		assert.Empty(t, docs)
	})

	t.Run("copy all onto itself is a no-op", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "acme")
		require.NoError(t, err)
		_, err = s.InsertDocuments(ctx, "acme", []map[string]interface{}{{"k": "a"}})
		require.NoError(t, err)

		n, err := s.CopyAll(ctx, "acme", "acme")
		require.NoError(t, err)
		assert.Zero(t, n)

		docs, err := s.Documents(ctx, "acme")
		require.NoError(t, err)
		assert.Len(t, docs, 1)
	})

	t.Run("drop removes namespace and is idempotent", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, "acme")
		require.NoError(t, err)

		require.NoError(t, s.Drop(ctx, "acme"))
		_, err = s.Get(ctx, "acme")
		assert.True(t, errors.Is(err, storage.ErrNamespaceNotFound))

		assert.NoError(t, s.Drop(ctx, "acme"))
	})

	t.Run("list returns physical namespaces", func(t *testing.T) {
		s := newStore(t)
		for _, org := range []string{"zeta", "alpha"} {
			_, err := s.Create(ctx, org)
			require.NoError(t, err)
		}

		names, err := s.List(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"org_alpha", "org_zeta"}, names)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, newStore(t).Ping(ctx))
	})
}
