//go:build integration

package firestore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/backend/firestore"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/config"
)

// Run with FIRESTORE_EMULATOR_HOST pointing at a local emulator.
func TestStoreAgainstEmulator(t *testing.T) {
	host := os.Getenv("FIRESTORE_EMULATOR_HOST")
	if host == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	provider := firestore.NewProvider(config.FirestoreConfig{ProjectID: "vistoria-test", EmulatorHost: host})
	t.Cleanup(func() { _ = provider.Close() })
	store := firestore.NewStore(provider, "profiles", "companies")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	uid := "it-" + time.Now().Format("150405.000000")
	_, err := store.GetProfile(ctx, uid)
	require.ErrorIs(t, err, auth.ErrProfileNotFound)

	role := auth.RoleAdminTenant
	email := "it@example.com"
	require.NoError(t, store.UpsertProfile(ctx, uid, auth.ProfileFields{Role: &role, Email: &email}))

	company, err := store.CreateCompany(ctx, auth.Company{Name: "Vistorias Norte"})
	require.NoError(t, err)
	require.NotEmpty(t, company.ID)
	require.NoError(t, store.UpsertProfile(ctx, uid, auth.ProfileFields{CompanyID: &company.ID}))

	profile, err := store.GetProfile(ctx, uid)
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdminTenant, profile.Role)
	require.Equal(t, email, profile.Email)
	require.Equal(t, company.ID, profile.CompanyID)

	got, err := store.GetCompany(ctx, company.ID)
	require.NoError(t, err)
	require.Equal(t, "Vistorias Norte", got.Name)
}
