package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/orgstore/orgstore/internal/auth"
	"github.com/orgstore/orgstore/internal/lock"
	"github.com/orgstore/orgstore/internal/storage/memory"
	"github.com/orgstore/orgstore/internal/testutil"
)

const testJWTSecret = "services-test-secret-that-is-32-chars"

type fixture struct {
	registry *testutil.Registry
	mem      *memory.Store
	store    *testutil.FaultyStore
	locker   *lock.MemoryLocker
	issuer   *auth.TokenIssuer
	orgs     *OrganizationService
	admin    *AdminAuthService
	docs     *DocumentService
	orphans  *Reconciler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	hasher, err := auth.NewPasswordHasher(bcrypt.MinCost)
	require.NoError(t, err)
	issuer, err := auth.NewTokenIssuer(testJWTSecret, "orgstore", time.Hour, false)
	require.NoError(t, err)

	f := &fixture{
		registry: testutil.NewRegistry(),
		mem:      memory.New(),
		locker:   lock.NewMemoryLocker(),
		issuer:   issuer,
	}
	f.store = testutil.NewFaultyStore(f.mem)
	f.orgs = NewOrganizationService(f.registry, f.store, f.locker, hasher)
	f.admin = NewAdminAuthService(f.registry, hasher, issuer)
	f.docs = NewDocumentService(f.registry, f.store, f.locker)
	f.orphans = NewReconciler(f.registry, f.store, f.locker)
	return f
}

// create provisions an organization and fails the test on error.
func (f *fixture) create(t *testing.T, name, email, password string) {
	t.Helper()
	_, err := f.orgs.Create(context.Background(), CreateOrganizationInput{Name: name, Email: email, Password: password})
	require.NoError(t, err)
}

// login returns the verified claims of a fresh session.
func (f *fixture) login(t *testing.T, email, password string) *auth.Claims {
	t.Helper()
	session, err := f.admin.Login(context.Background(), email, password)
	require.NoError(t, err)
	claims, err := f.admin.Verify(session.AccessToken)
	require.NoError(t, err)
	return claims
}

// addDocs stores bodies directly in the organization's namespace.
func (f *fixture) addDocs(t *testing.T, org string, bodies ...map[string]interface{}) {
	t.Helper()
	_, err := f.mem.InsertDocuments(context.Background(), org, bodies)
	require.NoError(t, err)
}
