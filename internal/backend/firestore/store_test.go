package firestore

import (
	"context"
	"errors"
	"testing"
	"time"

	firebaseauth "firebase.google.com/go/v4/auth"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/config"
)

type fakeDirectory struct {
	records map[string]*firebaseauth.UserRecord
	getErr  error
	set     map[string]map[string]interface{}
}

func (f *fakeDirectory) GetUser(_ context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.records[uid], nil
}

func (f *fakeDirectory) SetCustomUserClaims(_ context.Context, uid string, claims map[string]interface{}) error {
	if f.set == nil {
		f.set = map[string]map[string]interface{}{}
	}
	f.set[uid] = claims
	return nil
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	require.Nil(t, WrapError("profiles.get", nil))
	require.ErrorIs(t, WrapError("profiles.get", status.Error(codes.Canceled, "stop")), context.Canceled)
	require.ErrorIs(t, WrapError("profiles.get", context.DeadlineExceeded), context.DeadlineExceeded)

	err := WrapError("profiles.get", status.Error(codes.NotFound, "no doc"))
	require.True(t, IsNotFound(err))
	require.Contains(t, err.Error(), "profiles.get")

	var fsErr *Error
	require.ErrorAs(t, WrapError("profiles.get", status.Error(codes.PermissionDenied, "rules")), &fsErr)
	require.True(t, fsErr.Forbidden())
	require.False(t, fsErr.Temporary())

	require.ErrorAs(t, WrapError("", status.Error(codes.Unavailable, "down")), &fsErr)
	require.True(t, fsErr.Temporary())
	require.False(t, IsNotFound(errors.New("plain")))
}

func TestProfileDocConversion(t *testing.T) {
	t.Parallel()

	updated := time.Date(2025, 2, 1, 10, 0, 0, 0, time.UTC)
	profile := profileDoc{Email: " ana@example.com ", Role: "admin", CompanyID: "c1", UpdatedAt: updated}.toProfile("u1")
	require.Equal(t, "u1", profile.ID)
	require.Equal(t, "ana@example.com", profile.Email)
	require.Equal(t, auth.RoleAdminTenant, profile.Role)
	require.Equal(t, "admin", profile.RawRole)
	require.True(t, profile.HasCompany())
	require.Equal(t, updated, profile.UpdatedAt)

	role := auth.RoleInspector
	name := " Bia "
	now := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	updates := profileUpdates(auth.ProfileFields{Role: &role, FullName: &name}, now)
	require.Equal(t, map[string]any{"role": "inspector", "full_name": "Bia", "updated_at": now}, updates)
}

func TestCompanyDocConversion(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	doc := newCompanyDoc(auth.Company{Name: " Vistorias Sul ", CNPJ: "12.345.678/0001-90", IsIndividual: true}, now)
	require.Equal(t, "Vistorias Sul", doc.Name)
	require.Equal(t, now, doc.CreatedAt)

	company := doc.toCompany("c9")
	require.Equal(t, "c9", company.ID)
	require.True(t, company.IsIndividual)
}

func TestClaimsRoleReader(t *testing.T) {
	t.Parallel()

	dir := &fakeDirectory{records: map[string]*firebaseauth.UserRecord{
		"u1": {UserInfo: &firebaseauth.UserInfo{UID: "u1"}, CustomClaims: map[string]interface{}{"role": " admin_tenant ", "plan": "pro"}},
		"u2": {UserInfo: &firebaseauth.UserInfo{UID: "u2"}},
	}}
	reader := NewClaimsRoleReader(dir)

	role, err := reader.Role(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, "admin_tenant", role)

	role, err = reader.Role(context.Background(), "u2")
	require.NoError(t, err)
	require.Empty(t, role)

	require.NoError(t, reader.Mirror(context.Background(), "u1", "", "c1"))
	require.Equal(t, map[string]interface{}{"role": " admin_tenant ", "plan": "pro", "company_id": "c1"}, dir.set["u1"])

	failing := NewClaimsRoleReader(&fakeDirectory{getErr: errors.New("backend down")})
	_, err = failing.Role(context.Background(), "u1")
	require.ErrorContains(t, err, "firebase.get_user")
}

type stubRoles struct {
	role string
	uid  string
}

func (s *stubRoles) Role(_ context.Context, uid string) (string, error) {
	s.uid = uid
	return s.role, nil
}

func TestCurrentRoleSafelyUsesRoleReader(t *testing.T) {
	t.Parallel()

	roles := &stubRoles{role: "inspector"}
	store := NewStore(NewProvider(config.FirestoreConfig{}), "profiles", "companies", WithRoleReader(roles))

	_, err := store.CurrentRoleSafely(context.Background())
	require.ErrorIs(t, err, auth.ErrNotAuthenticated)

	ctx := auth.ContextWithSession(context.Background(), &auth.Session{User: auth.User{ID: "u7"}})
	role, err := store.CurrentRoleSafely(ctx)
	require.NoError(t, err)
	require.Equal(t, "inspector", role)
	require.Equal(t, "u7", roles.uid)

	bare := NewStore(NewProvider(config.FirestoreConfig{}), "profiles", "companies")
	_, err = bare.CurrentRoleSafely(ctx)
	require.Error(t, err)
}

func TestProviderRequiresProject(t *testing.T) {
	t.Parallel()

	provider := NewProvider(config.FirestoreConfig{})
	_, err := provider.Client(context.Background())
	require.ErrorContains(t, err, "project id is required")

	require.NoError(t, provider.Close())
	_, err = provider.Client(context.Background())
	require.ErrorIs(t, err, ErrProviderClosed)
}

func TestEmptyIdentifiers(t *testing.T) {
	t.Parallel()

	store := NewStore(NewProvider(config.FirestoreConfig{}), "profiles", "companies")
	_, err := store.GetProfile(context.Background(), " ")
	require.ErrorIs(t, err, auth.ErrProfileNotFound)
	_, err = store.GetCompany(context.Background(), "")
	require.ErrorIs(t, err, auth.ErrCompanyNotFound)
	_, err = store.CreateCompany(context.Background(), auth.Company{Name: "  "})
	require.ErrorContains(t, err, "company name is required")
}
