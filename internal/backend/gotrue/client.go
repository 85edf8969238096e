// Package gotrue implements auth.SessionSource against a hosted GoTrue identity API.
package gotrue

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/backend/rest"
)

const defaultRefreshLeeway = 30 * time.Second

// ErrInvalidToken is returned when a persisted access token cannot be decoded or verified.
var ErrInvalidToken = errors.New("gotrue: invalid access token")

// Config configures a Client.
type Config struct {
	// BaseURL is the project URL; requests go to {BaseURL}/auth/v1/....
	BaseURL string
	AnonKey string
	// JWTSecret enables HS256 signature verification of restored access tokens.
	JWTSecret     string
	HTTPClient    rest.HTTPClient
	RefreshLeeway time.Duration
	Clock         func() time.Time
	Logger        *zap.Logger
}

// Client holds the session of one principal and notifies listeners of every change.
type Client struct {
	rest      *rest.Client
	jwtSecret []byte
	leeway    time.Duration
	now       func() time.Time
	logger    *zap.Logger

	mu        sync.Mutex
	session   *auth.Session
	listeners map[uint64]auth.Listener
	nextID    uint64
	closed    bool

	// refreshMu serialises token refreshes so concurrent callers share one round trip.
	refreshMu sync.Mutex
}

// New constructs a Client.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("gotrue: base URL is required")
	}
	rc, err := rest.New("gotrue", base+"/auth/v1/", cfg.AnonKey, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	leeway := cfg.RefreshLeeway
	if leeway <= 0 {
		leeway = defaultRefreshLeeway
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	var secret []byte
	if s := strings.TrimSpace(cfg.JWTSecret); s != "" {
		secret = []byte(s)
	}
	return &Client{
		rest:      rc,
		jwtSecret: secret,
		leeway:    leeway,
		now:       now,
		logger:    logger,
		listeners: make(map[uint64]auth.Listener),
	}, nil
}

type userPayload struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
}

type tokenResponse struct {
	AccessToken  string      `json:"access_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int64       `json:"expires_in"`
	ExpiresAt    int64       `json:"expires_at"`
	RefreshToken string      `json:"refresh_token"`
	User         userPayload `json:"user"`
	// Signup without auto-confirm returns the bare user object.
	ID    string `json:"id"`
	Email string `json:"email"`
}

func (c *Client) sessionFrom(payload tokenResponse) *auth.Session {
	if payload.AccessToken == "" {
		return nil
	}
	expires := time.Time{}
	switch {
	case payload.ExpiresAt > 0:
		expires = time.Unix(payload.ExpiresAt, 0)
	case payload.ExpiresIn > 0:
		expires = c.now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	}
	return &auth.Session{
		AccessToken:  payload.AccessToken,
		RefreshToken: payload.RefreshToken,
		ExpiresAt:    expires,
		User: auth.User{
			ID:       payload.User.ID,
			Email:    payload.User.Email,
			Metadata: payload.User.UserMetadata,
		},
	}
}

// CurrentSession implements auth.SessionSource. An access token about to expire is refreshed
// first; a failed refresh signs the principal out locally.
func (c *Client) CurrentSession(ctx context.Context) (*auth.Session, error) {
	c.mu.Lock()
	session := c.session.Clone()
	c.mu.Unlock()
	if session == nil {
		return nil, nil
	}
	if session.ExpiresAt.IsZero() || c.now().Add(c.leeway).Before(session.ExpiresAt) {
		return session, nil
	}
	return c.refresh(ctx, session)
}

func (c *Client) refresh(ctx context.Context, stale *auth.Session) (*auth.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while this one waited.
	c.mu.Lock()
	current := c.session.Clone()
	c.mu.Unlock()
	if current == nil {
		return nil, nil
	}
	if current.AccessToken != stale.AccessToken {
		return current, nil
	}
	if current.RefreshToken == "" {
		c.clear(auth.EventSignedOut)
		return nil, fmt.Errorf("gotrue: session expired without refresh token: %w", auth.ErrNotAuthenticated)
	}

	payload := map[string]string{"refresh_token": current.RefreshToken}
	next, err := c.token(ctx, "refresh_token", payload)
	if err != nil {
		c.logger.Warn("gotrue: token refresh failed; signing out locally", zap.String("user_id", current.UserID()), zap.Error(err))
		c.clear(auth.EventSignedOut)
		return nil, err
	}
	c.set(next, auth.EventTokenRefreshed)
	return next.Clone(), nil
}

// SignInWithPassword implements auth.SessionSource.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	session, err := c.token(ctx, "password", map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	c.set(session, auth.EventSignedIn)
	return session.Clone(), nil
}

func (c *Client) token(ctx context.Context, grant string, payload any) (*auth.Session, error) {
	action := "token_" + grant
	req, err := c.rest.NewJSONRequest(ctx, http.MethodPost, "token", url.Values{"grant_type": {grant}}, payload, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.rest.Do(req, action)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classify(c.rest.ErrorFromResponse(resp, action))
	}
	var out tokenResponse
	if err := c.rest.Decode(resp, action, &out); err != nil {
		return nil, err
	}
	session := c.sessionFrom(out)
	if session == nil {
		return nil, &auth.BackendError{Op: c.rest.Op(action), Status: resp.StatusCode, Message: "response carried no access token"}
	}
	return session, nil
}

// SignUp implements auth.SessionSource. A nil session with a nil error means the account
// awaits e-mail confirmation.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*auth.Session, error) {
	body := map[string]any{
		"email":    strings.TrimSpace(email),
		"password": password,
	}
	if len(metadata) > 0 {
		body["data"] = metadata
	}
	req, err := c.rest.NewJSONRequest(ctx, http.MethodPost, "signup", nil, body, "")
	if err != nil {
		return nil, err
	}
	resp, err := c.rest.Do(req, "signup")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, classify(c.rest.ErrorFromResponse(resp, "signup"))
	}
	var out tokenResponse
	if err := c.rest.Decode(resp, "signup", &out); err != nil {
		return nil, err
	}
	session := c.sessionFrom(out)
	if session == nil {
		c.logger.Info("gotrue: signup pending confirmation", zap.String("user_id", firstNonEmpty(out.User.ID, out.ID)))
		return nil, nil
	}
	c.set(session, auth.EventSignedIn)
	return session.Clone(), nil
}

// SignOut implements auth.SessionSource. Local state is cleared and SIGNED_OUT emitted even
// when the remote call fails; the remote error is still returned.
func (c *Client) SignOut(ctx context.Context) error {
	c.mu.Lock()
	session := c.session.Clone()
	c.mu.Unlock()
	if session == nil {
		return nil
	}

	var remoteErr error
	req, err := c.rest.NewRequest(ctx, http.MethodPost, "logout", nil, nil, session.AccessToken)
	if err != nil {
		remoteErr = err
	} else if resp, err := c.rest.Do(req, "logout"); err != nil {
		remoteErr = err
	} else if resp.StatusCode >= http.StatusMultipleChoices && resp.StatusCode != http.StatusUnauthorized {
		remoteErr = c.rest.ErrorFromResponse(resp, "logout")
	} else {
		rest.Discard(resp)
	}

	c.clear(auth.EventSignedOut)
	return remoteErr
}

// Restore rebuilds a session from tokens persisted by the host, for example in a cookie.
// The user is read from the access token claims.
func (c *Client) Restore(accessToken, refreshToken string) (*auth.Session, error) {
	session, err := c.decode(accessToken)
	if err != nil {
		return nil, err
	}
	session.RefreshToken = refreshToken
	c.set(session, auth.EventInitialSession)
	return session.Clone(), nil
}

type accessClaims struct {
	Email        string         `json:"email"`
	Role         string         `json:"role"`
	UserMetadata map[string]any `json:"user_metadata"`
	jwt.RegisteredClaims
}

func (c *Client) decode(token string) (*auth.Session, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	claims := &accessClaims{}
	if len(c.jwtSecret) > 0 {
		// Expiry is handled by the refresh path, so only the signature is checked here.
		parser := jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		)
		if _, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
			return c.jwtSecret, nil
		}); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
		}
	} else if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	session := &auth.Session{
		AccessToken: token,
		User: auth.User{
			ID:       claims.Subject,
			Email:    claims.Email,
			Metadata: claims.UserMetadata,
		},
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// OnSessionChange implements auth.SessionSource.
func (c *Client) OnSessionChange(listener auth.Listener) func() {
	if listener == nil {
		return func() {}
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	c.nextID++
	id := c.nextID
	c.listeners[id] = listener
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

// Listeners reports the number of registered listeners.
func (c *Client) Listeners() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.listeners)
}

// Close drops every listener. The client must not be used afterwards.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.listeners = make(map[uint64]auth.Listener)
}

func (c *Client) set(session *auth.Session, kind auth.EventKind) {
	c.mu.Lock()
	c.session = session.Clone()
	c.mu.Unlock()
	c.emit(kind, session)
}

func (c *Client) clear(kind auth.EventKind) {
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.emit(kind, nil)
}

func (c *Client) emit(kind auth.EventKind, session *auth.Session) {
	c.mu.Lock()
	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]auth.Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(kind, session.Clone())
	}
}

// classify maps identity API rejections onto the auth error taxonomy while keeping the
// backend detail.
func classify(err *auth.BackendError) error {
	code := strings.ToLower(err.Code)
	msg := strings.ToLower(err.Message)
	switch {
	case code == "invalid_credentials" || (code == "invalid_grant" && strings.Contains(msg, "invalid login credentials")):
		err.Err = auth.ErrInvalidCredentials
	case code == "email_not_confirmed" || strings.Contains(msg, "email not confirmed"):
		err.Err = auth.ErrEmailNotConfirmed
	case code == "user_already_exists" || strings.Contains(msg, "already registered"):
		err.Err = auth.ErrUserAlreadyRegistered
	case err.Status == http.StatusUnauthorized:
		err.Err = auth.ErrNotAuthenticated
	}
	return err
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
