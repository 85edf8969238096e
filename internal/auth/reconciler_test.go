package auth_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth/authtest"
)

var errUnavailable = &auth.BackendError{Op: "test", Status: 503, Message: "unavailable"}

func TestReconcilerMetadataFastPath(t *testing.T) {
	t.Parallel()

	for _, role := range []auth.Role{auth.RoleAdminMaster, auth.RoleInspector} {
		role := role
		t.Run(role.String(), func(t *testing.T) {
			t.Parallel()
			store := authtest.NewProfileStore()
			store.RPCRole = "admin_tenant"
			reconciler := auth.NewReconciler(store, nil)

			res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1", auth.MetadataRole, role.String()), nil)
			require.NoError(t, err)
			require.Equal(t, role, res.Role)
			require.Equal(t, auth.SourceMetadata, res.Source)
			require.False(t, res.Degraded)
			require.Zero(t, store.NetworkCalls())
		})
	}
}

func TestReconcilerMetadataTenantWithCompanyStaysOffline(t *testing.T) {
	t.Parallel()

	store := authtest.NewProfileStore()
	reconciler := auth.NewReconciler(store, nil)
	session := authtest.NewSession("u1", auth.MetadataRole, "admin", auth.MetadataCompanyID, "c1")

	res, err := reconciler.Resolve(context.Background(), session, nil)
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdminTenant, res.Role)
	require.True(t, res.Legacy)
	require.Equal(t, "c1", res.CompanyID)
	require.True(t, res.HasCompany)
	require.Zero(t, store.NetworkCalls())
}

func TestReconcilerPrivilegedRPC(t *testing.T) {
	t.Parallel()

	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleInspector, RawRole: "inspector", CompanyID: "c1"})
	store.RPCRole = "admin_tenant"
	reconciler := auth.NewReconciler(store, nil)

	res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1"), nil)
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdminTenant, res.Role)
	require.Equal(t, auth.SourceRPC, res.Source)
	require.Equal(t, "c1", res.CompanyID)
	require.Equal(t, 1, store.RPCCalls())
	require.Equal(t, 1, store.GetCalls())
}

func TestReconcilerRPCCarriesSessionOnContext(t *testing.T) {
	t.Parallel()

	var seen string
	store := &contextProbe{ProfileStore: authtest.NewProfileStore(), seen: &seen}
	reconciler := auth.NewReconciler(store, nil)

	_, err := reconciler.Resolve(context.Background(), authtest.NewSession("u9", auth.MetadataCompanyID, "c1"), nil)
	require.NoError(t, err)
	require.Equal(t, "u9", seen)
}

type contextProbe struct {
	*authtest.ProfileStore
	seen *string
}

func (p *contextProbe) CurrentRoleSafely(ctx context.Context) (string, error) {
	if session, ok := auth.SessionFromContext(ctx); ok {
		*p.seen = session.UserID()
	}
	return "inspector", nil
}

func TestReconcilerProfileQueryFallback(t *testing.T) {
	t.Parallel()

	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleAdminMaster, RawRole: "admin_master"})
	store.RPCErr = errUnavailable
	reconciler := auth.NewReconciler(store, nil)

	res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1"), nil)
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdminMaster, res.Role)
	require.Equal(t, auth.SourceProfileQuery, res.Source)
	require.NotNil(t, res.Profile)
	require.Equal(t, 1, store.GetCalls())
}

func TestReconcilerDefaultsToInspector(t *testing.T) {
	t.Parallel()

	store := authtest.NewProfileStore()
	store.RPCErr = errUnavailable
	store.GetErr = &auth.BackendError{Op: "test", Status: 403, Message: "infinite recursion detected in policy"}
	reconciler := auth.NewReconciler(store, nil)

	res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1"), nil)
	require.NoError(t, err)
	require.Equal(t, auth.RoleInspector, res.Role)
	require.Equal(t, auth.SourceDefault, res.Source)
	require.True(t, res.Degraded)
	require.True(t, res.Has(auth.ErrRoleResolutionDegraded))
	require.True(t, res.Has(auth.ErrProfileFetchFailed))
	require.ErrorIs(t, res.Err(), auth.ErrRoleResolutionDegraded)
}

func TestReconcilerMissingRowDefaultsWithoutFetchFailure(t *testing.T) {
	t.Parallel()

	store := authtest.NewProfileStore()
	reconciler := auth.NewReconciler(store, nil)

	res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1"), nil)
	require.NoError(t, err)
	require.Equal(t, auth.RoleInspector, res.Role)
	require.True(t, res.Has(auth.ErrRoleResolutionDegraded))
	require.False(t, res.Has(auth.ErrProfileFetchFailed))
}

func TestReconcilerUnknownValuesFallThrough(t *testing.T) {
	t.Parallel()

	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", RawRole: "admin_tenant", Role: auth.RoleAdminTenant})
	store.RPCRole = "gestor"
	reconciler := auth.NewReconciler(store, nil)

	res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1", auth.MetadataRole, "root"), nil)
	require.NoError(t, err)
	require.Equal(t, auth.RoleAdminTenant, res.Role)
	require.Equal(t, auth.SourceProfileQuery, res.Source)
	require.True(t, res.Degraded)
	require.True(t, res.Has(auth.ErrRoleResolutionDegraded))
	require.True(t, res.Has(auth.ErrCompanyLinkMissing))
}

func TestReconcilerCompanyLinkage(t *testing.T) {
	t.Parallel()

	t.Run("cached profile of same user", func(t *testing.T) {
		t.Parallel()
		store := authtest.NewProfileStore()
		store.RPCRole = "admin_tenant"
		reconciler := auth.NewReconciler(store, nil)
		cached := &auth.Profile{ID: "u1", Role: auth.RoleAdminTenant, CompanyID: "c7"}

		res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1"), cached)
		require.NoError(t, err)
		require.Equal(t, "c7", res.CompanyID)
		require.Zero(t, store.GetCalls())
	})

	t.Run("cached profile of another user is ignored", func(t *testing.T) {
		t.Parallel()
		store := authtest.NewProfileStore()
		store.RPCRole = "admin_tenant"
		reconciler := auth.NewReconciler(store, nil)
		cached := &auth.Profile{ID: "other", Role: auth.RoleAdminTenant, CompanyID: "c7"}

		res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1"), cached)
		require.NoError(t, err)
		require.False(t, res.HasCompany)
		require.True(t, res.Has(auth.ErrCompanyLinkMissing))
		require.Equal(t, 1, store.GetCalls())
	})

	t.Run("cached profile without company is re-checked", func(t *testing.T) {
		t.Parallel()
		store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleAdminTenant, RawRole: "admin_tenant", CompanyID: "c9"})
		store.RPCRole = "admin_tenant"
		reconciler := auth.NewReconciler(store, nil)
		cached := &auth.Profile{ID: "u1", Role: auth.RoleAdminTenant}

		res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1"), cached)
		require.NoError(t, err)
		require.Equal(t, "c9", res.CompanyID)
		require.True(t, res.HasCompany)
		require.False(t, res.Has(auth.ErrCompanyLinkMissing))
		require.Equal(t, 1, store.GetCalls())
		require.Equal(t, "c9", res.Profile.CompanyID)
	})

	t.Run("inspector never queries for company", func(t *testing.T) {
		t.Parallel()
		store := authtest.NewProfileStore()
		store.RPCRole = "inspector"
		reconciler := auth.NewReconciler(store, nil)

		res, err := reconciler.Resolve(context.Background(), authtest.NewSession("u1"), nil)
		require.NoError(t, err)
		require.Equal(t, auth.RoleInspector, res.Role)
		require.Zero(t, store.GetCalls())
		require.Empty(t, res.Problems)
	})
}

func TestReconcilerNotAuthenticated(t *testing.T) {
	t.Parallel()

	reconciler := auth.NewReconciler(authtest.NewProfileStore(), nil)
	res, err := reconciler.Resolve(context.Background(), nil, nil)
	require.True(t, errors.Is(err, auth.ErrNotAuthenticated))
	require.True(t, res.Has(auth.ErrNotAuthenticated))
}

func TestReconcilerIdempotent(t *testing.T) {
	t.Parallel()

	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleAdminTenant, RawRole: "admin_tenant", CompanyID: "c1"})
	store.RPCRole = "admin_tenant"
	reconciler := auth.NewReconciler(store, nil)
	session := authtest.NewSession("u1")
	cached, _ := store.Profile("u1")

	first, err := reconciler.Resolve(context.Background(), session, cached)
	require.NoError(t, err)
	callsAfterFirst := store.NetworkCalls()

	second, err := reconciler.Resolve(context.Background(), session, cached)
	require.NoError(t, err)
	require.Equal(t, first.Role, second.Role)
	require.Equal(t, first.CompanyID, second.CompanyID)
	require.LessOrEqual(t, store.NetworkCalls()-callsAfterFirst, 1)
}
