package testutil

import (
	"context"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/httpserver"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/registry"
	appsession "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/session"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth/authtest"
)

type account struct {
	email    string
	password string
	session  *auth.Session
}

type options struct {
	cfg                  httpserver.Config
	accounts             []account
	profiles             *authtest.ProfileStore
	signUpWithoutSession bool
}

// ServerOption customises the console server used in tests.
type ServerOption func(*options)

// WithAccount registers credentials accepted by every browser's identity provider.
func WithAccount(email, password string, session *auth.Session) ServerOption {
	return func(o *options) {
		o.accounts = append(o.accounts, account{email: email, password: password, session: session})
	}
}

// WithProfiles seeds the shared profile store.
func WithProfiles(store *authtest.ProfileStore) ServerOption {
	return func(o *options) {
		o.profiles = store
	}
}

// WithSignUp exposes the registration form. pending makes sign-ups await e-mail confirmation.
func WithSignUp(pending bool) ServerOption {
	return func(o *options) {
		o.cfg.SignUpEnabled = true
		o.signUpWithoutSession = pending
	}
}

// Harness is a running console with in-memory backends.
type Harness struct {
	Server   *httptest.Server
	Profiles *authtest.ProfileStore
	Registry *registry.Registry

	mu      sync.Mutex
	sources []*authtest.SessionSource
}

// Sources returns the identity providers built so far, oldest first.
func (h *Harness) Sources() []*authtest.SessionSource {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*authtest.SessionSource(nil), h.sources...)
}

// NewServer constructs an httptest server running the console HTTP stack with fakes.
func NewServer(t testing.TB, opts ...ServerOption) *Harness {
	t.Helper()

	o := &options{
		cfg: httpserver.Config{
			Address: ":0",
			Routes:  auth.DefaultRoutes(),
		},
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.profiles == nil {
		o.profiles = authtest.NewProfileStore()
	}

	h := &Harness{Profiles: o.profiles}
	policy := auth.NewRedirectPolicy(o.cfg.Routes)
	reg, err := registry.New(32, func(ctx context.Context, sessionID string, creds registry.Credentials) (*registry.Client, error) {
		// Credentials from the cookie restore the account they were issued for.
		var restored *auth.Session
		for _, a := range o.accounts {
			if !creds.Empty() && a.session.AccessToken == creds.AccessToken {
				restored = a.session
			}
		}
		source := authtest.NewSessionSource(restored)
		source.SignUpWithoutSession = o.signUpWithoutSession
		for _, a := range o.accounts {
			source.AddAccount(a.email, a.password, a.session)
		}
		h.mu.Lock()
		h.sources = append(h.sources, source)
		h.mu.Unlock()

		client := registry.NewClient(sessionID, registry.ClientConfig{
			Source:    source,
			Profiles:  o.profiles,
			Companies: o.profiles,
			Policy:    policy,
		})
		client.Cache().Initialize(ctx)
		return client, nil
	}, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	t.Cleanup(reg.Close)
	h.Registry = reg

	sessions, err := appsession.NewManager(appsession.Config{
		CookieName:  "console_session",
		HashKey:     []byte("0123456789abcdef0123456789abcdef"),
		IdleTimeout: time.Hour,
	})
	if err != nil {
		t.Fatalf("session manager: %v", err)
	}

	o.cfg.Sessions = sessions
	o.cfg.Clients = reg
	h.Server = httptest.NewServer(httpserver.NewHandler(o.cfg))
	t.Cleanup(h.Server.Close)
	return h
}

// Browser keeps cookies across requests and never follows redirects.
type Browser struct {
	t      testing.TB
	base   string
	client *http.Client
	csrf   string
}

// Browser returns a fresh cookie-carrying client for the harness.
func (h *Harness) Browser(t testing.TB) *Browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	if err != nil {
		t.Fatalf("cookie jar: %v", err)
	}
	return &Browser{
		t:    t,
		base: h.Server.URL,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Response is a fully read response.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Doc parses the body as HTML.
func (r *Response) Doc(t testing.TB) *goquery.Document {
	t.Helper()
	return ParseHTML(t, r.Body)
}

// Get performs a GET and remembers the CSRF token of HTML pages.
func (b *Browser) Get(path string, headers ...string) *Response {
	b.t.Helper()
	req, err := http.NewRequest(http.MethodGet, b.base+path, nil)
	if err != nil {
		b.t.Fatalf("new request: %v", err)
	}
	setHeaders(req, headers)
	return b.do(req)
}

// PostForm submits values with the last seen CSRF token, fetching the login page first when
// none is known yet.
func (b *Browser) PostForm(path string, values url.Values, headers ...string) *Response {
	b.t.Helper()
	if b.csrf == "" {
		b.Get("/login")
	}
	if values == nil {
		values = url.Values{}
	}
	if values.Get("csrf_token") == "" {
		values.Set("csrf_token", b.csrf)
	}
	req, err := http.NewRequest(http.MethodPost, b.base+path, strings.NewReader(values.Encode()))
	if err != nil {
		b.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	setHeaders(req, headers)
	return b.do(req)
}

// SetCookies replaces the cookies the browser holds for the server, as when they were
// copied from another browser.
func (b *Browser) SetCookies(cookies []*http.Cookie) {
	u, _ := url.Parse(b.base)
	b.client.Jar.SetCookies(u, cookies)
}

// Cookies returns the cookies the browser holds for the server.
func (b *Browser) Cookies() []*http.Cookie {
	u, _ := url.Parse(b.base)
	return b.client.Jar.Cookies(u)
}

func (b *Browser) do(req *http.Request) *Response {
	b.t.Helper()
	resp, err := b.client.Do(req)
	if err != nil {
		b.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		b.t.Fatalf("read body: %v", err)
	}
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		if doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body))); err == nil {
			if token := CSRFToken(doc); token != "" {
				b.csrf = token
			}
		}
	}
	return &Response{Status: resp.StatusCode, Header: resp.Header, Body: body}
}

func setHeaders(req *http.Request, headers []string) {
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
}
