package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/httpserver/middleware"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/registry"
	appsession "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/session"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth/authtest"
)

func newManager(t *testing.T) *appsession.Manager {
	t.Helper()
	mgr, err := appsession.NewManager(appsession.Config{
		CookieName:  "test_session",
		HashKey:     []byte("12345678901234567890123456789012"),
		IdleTimeout: time.Hour,
	})
	require.NoError(t, err)
	return mgr
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == "test_session" {
			return c
		}
	}
	return nil
}

func TestSessionSavesBeforeBodyAndRunsHooks(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)
	handler := middleware.Session(mgr, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.BeforeSave(r.Context(), func(s *appsession.Session) {
			s.SetUser(&appsession.User{ID: "user-1"})
		})
		_, _ = w.Write([]byte("ok"))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)
	require.Equal(t, "ok", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookie)
	sess, err := mgr.Load(req)
	require.NoError(t, err)
	require.Equal(t, "user-1", sess.User().ID)
}

func TestCSRF(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)
	var token string
	handler := middleware.Session(mgr, nil)(middleware.CSRF()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = middleware.CSRFTokenFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NotEmpty(t, token)
	cookie := sessionCookie(rec)
	require.NotNil(t, cookie)

	tests := []struct {
		name   string
		header string
		form   string
		want   int
	}{
		{name: "missing", want: http.StatusForbidden},
		{name: "wrong header", header: "nope", want: http.StatusForbidden},
		{name: "header", header: token, want: http.StatusNoContent},
		{name: "form field", form: token, want: http.StatusNoContent},
	}
	for _, tc := range tests {
		form := url.Values{}
		if tc.form != "" {
			form.Set(middleware.CSRFField, tc.form)
		}
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if tc.header != "" {
			req.Header.Set(middleware.CSRFHeader, tc.header)
		}
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		require.Equal(t, tc.want, rec.Code, tc.name)
	}
}

func TestRedirect(t *testing.T) {
	t.Parallel()

	handler := middleware.HTMX()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.Redirect(w, r, "/login")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/inspector/dashboard", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))

	req := httptest.NewRequest(http.MethodPost, "/company-setup", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusSeeOther, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/inspector/dashboard", nil)
	req.Header.Set("HX-Request", "true")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("HX-Redirect"))
}

type fixture struct {
	mgr      *appsession.Manager
	profiles *authtest.ProfileStore
	reg      *registry.Registry
	handler  http.Handler
}

func newFixture(t *testing.T, current *auth.Session, profiles *authtest.ProfileStore, opts auth.GuardOptions) *fixture {
	t.Helper()
	f := &fixture{mgr: newManager(t), profiles: profiles}
	reg, err := registry.New(8, func(ctx context.Context, id string, _ registry.Credentials) (*registry.Client, error) {
		client := registry.NewClient(id, registry.ClientConfig{
			Source:    authtest.NewSessionSource(current),
			Profiles:  profiles,
			Companies: profiles,
			Policy:    auth.NewRedirectPolicy(auth.DefaultRoutes()),
		})
		client.Cache().Initialize(ctx)
		return client, nil
	}, nil)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	f.reg = reg

	protected := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		decision, ok := middleware.DecisionFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte("welcome " + decision.State.UserRole.String()))
	})
	f.handler = middleware.Session(f.mgr, nil)(middleware.Principal(reg, nil)(middleware.RequireRole("page", opts, nil)(protected)))
	return f
}

func (f *fixture) get(t *testing.T, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/page", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireRoleRedirectsAnonymousToLogin(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil, authtest.NewProfileStore(), auth.GuardOptions{Required: auth.Roles{auth.RoleInspector}})
	rec := f.get(t, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))
}

func TestRequireRoleAuthorisesAndPersistsCredentials(t *testing.T) {
	t.Parallel()

	session := authtest.NewSession("user-1", "role", "inspector", "full_name", "Ana")
	session.AccessToken = "access-1"
	session.RefreshToken = "refresh-1"
	f := newFixture(t, session, authtest.NewProfileStore(), auth.GuardOptions{Required: auth.Roles{auth.RoleInspector}})

	rec := f.get(t, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "welcome inspector", rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(sessionCookie(rec))
	sess, err := f.mgr.Load(req)
	require.NoError(t, err)
	require.Equal(t, appsession.Tokens{Access: "access-1", Refresh: "refresh-1"}, sess.Tokens())
	require.Equal(t, "Ana", sess.User().Name)
	require.Equal(t, 1, f.reg.Len())
}

func TestRequireRoleRedirectsWrongRoleToItsLanding(t *testing.T) {
	t.Parallel()

	session := authtest.NewSession("user-2", "role", "admin_master")
	f := newFixture(t, session, authtest.NewProfileStore(), auth.GuardOptions{Required: auth.Roles{auth.RoleInspector}})

	rec := f.get(t, nil)
	require.Equal(t, http.StatusFound, rec.Code)
	require.Equal(t, "/master/dashboard", rec.Header().Get("Location"))
}

func TestPrincipalRefusesCookieOfRevokedSession(t *testing.T) {
	t.Parallel()

	mgr := newManager(t)
	profiles := authtest.NewProfileStore()
	reg, err := registry.New(8, func(ctx context.Context, id string, creds registry.Credentials) (*registry.Client, error) {
		var current *auth.Session
		if creds.AccessToken != "" {
			current = authtest.NewSession("user-1", auth.MetadataRole, "inspector")
			current.AccessToken = creds.AccessToken
			current.RefreshToken = creds.RefreshToken
		}
		client := registry.NewClient(id, registry.ClientConfig{
			Source:    authtest.NewSessionSource(current),
			Profiles:  profiles,
			Companies: profiles,
			Policy:    auth.NewRedirectPolicy(auth.DefaultRoutes()),
		})
		client.Cache().Initialize(ctx)
		return client, nil
	}, nil)
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	protected := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("welcome"))
	})
	handler := middleware.Session(mgr, nil)(middleware.Principal(reg, nil)(
		middleware.RequireRole("page", auth.GuardOptions{Required: auth.Roles{auth.RoleInspector}}, nil)(protected)))
	serve := func(cookie *http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/page", nil)
		req.AddCookie(cookie)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	signedIn := mgr.New()
	signedIn.SetTokens(appsession.Tokens{Access: "access-1", Refresh: "refresh-1"})
	rec := httptest.NewRecorder()
	require.NoError(t, mgr.Save(rec, signedIn))
	captured := sessionCookie(rec)
	require.NotNil(t, captured)
	require.Equal(t, http.StatusOK, serve(captured).Code)

	reg.Revoke(signedIn.ID())

	replay := serve(captured)
	require.Equal(t, http.StatusFound, replay.Code)
	require.Equal(t, "/login", replay.Header().Get("Location"))

	renewed := sessionCookie(replay)
	require.NotNil(t, renewed)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(renewed)
	loaded, err := mgr.Load(req)
	require.NoError(t, err)
	require.NotEqual(t, signedIn.ID(), loaded.ID())
	require.Equal(t, appsession.Tokens{}, loaded.Tokens())
	require.Nil(t, loaded.User())
}
