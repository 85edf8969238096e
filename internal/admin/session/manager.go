// Package session persists the console's browser session in a signed, encrypted cookie.
package session

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/oklog/ulid/v2"
)

const (
	defaultCookieName       = "vistoria_session"
	defaultCookiePath       = "/"
	defaultLifetime         = 12 * time.Hour
	defaultRememberLifetime = 30 * 24 * time.Hour
	defaultIdleTimeout      = 30 * time.Minute
)

// ErrExpired indicates the stored session is no longer valid due to idle or absolute expiry.
var ErrExpired = errors.New("session expired")

// ErrInvalidConfig indicates the manager was initialised with missing or invalid options.
var ErrInvalidConfig = errors.New("session: invalid config")

// User is the principal summary kept for display and logging. Authorisation always goes
// through the auth cache, never through this copy.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
	Name  string `json:"name,omitempty"`
	Role  string `json:"role,omitempty"`
}

// Tokens are the identity provider credentials used to restore the auth client after the
// per-browser registry entry is evicted.
type Tokens struct {
	Access  string `json:"a,omitempty"`
	Refresh string `json:"r,omitempty"`
}

// Data is the persisted cookie payload.
type Data struct {
	ID         string    `json:"id"`
	CreatedAt  time.Time `json:"createdAt"`
	LastActive time.Time `json:"lastActive"`
	ExpiresAt  time.Time `json:"expiresAt,omitempty"`
	RememberMe bool      `json:"rememberMe"`
	CSRFToken  string    `json:"csrfToken,omitempty"`
	User       *User     `json:"user,omitempty"`
	Tokens     Tokens    `json:"tokens"`
	Flash      string    `json:"flash,omitempty"`
}

// Session holds mutable state for the current request lifecycle.
type Session struct {
	data      Data
	dirty     bool
	destroyed bool
	cfg       *Config
}

// Config controls cookie encoding and lifecycle limits.
type Config struct {
	CookieName     string
	HashKey        []byte
	BlockKey       []byte
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite

	IdleTimeout      time.Duration
	Lifetime         time.Duration
	RememberLifetime time.Duration
	Now              func() time.Time
}

// Manager decodes and persists sessions.
type Manager struct {
	cfg   Config
	codec *securecookie.SecureCookie
	now   func() time.Time
}

// NewManager constructs a Manager using the provided configuration.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.HashKey) == 0 {
		return nil, fmt.Errorf("%w: hash key is required", ErrInvalidConfig)
	}
	switch len(cfg.BlockKey) {
	case 0, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: block key must be 16, 24 or 32 bytes", ErrInvalidConfig)
	}
	if cfg.CookieName == "" {
		cfg.CookieName = defaultCookieName
	}
	if cfg.CookiePath == "" {
		cfg.CookiePath = defaultCookiePath
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = defaultLifetime
	}
	if cfg.RememberLifetime <= 0 {
		cfg.RememberLifetime = defaultRememberLifetime
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.CookieSameSite == 0 || cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	cfg.Now = now

	codec := securecookie.New(cfg.HashKey, cfg.BlockKey)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(cfg.RememberLifetime.Seconds()))

	return &Manager{cfg: cfg, codec: codec, now: now}, nil
}

// Load retrieves the session from the request or creates a new one. A cookie that fails to
// decode is replaced silently; an expired one yields ErrExpired.
func (m *Manager) Load(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(m.cfg.CookieName)
	if err != nil {
		return m.New(), nil
	}
	var stored Data
	if err := m.codec.Decode(m.cfg.CookieName, cookie.Value, &stored); err != nil {
		return m.New(), nil
	}
	if stored.ID == "" {
		return m.New(), nil
	}
	sess := &Session{data: stored, cfg: &m.cfg}
	now := m.now()
	if m.expired(sess, now) {
		return nil, ErrExpired
	}
	// Activity slides the idle window.
	sess.Touch(now)
	return sess, nil
}

// New returns a pristine session with a fresh id.
func (m *Manager) New() *Session {
	now := m.now().UTC()
	return &Session{
		data: Data{
			ID:         ulid.MustNew(ulid.Timestamp(now), rand.Reader).String(),
			CreatedAt:  now,
			LastActive: now,
			ExpiresAt:  m.cfg.expiry(now, false),
		},
		dirty: true,
		cfg:   &m.cfg,
	}
}

// Save writes the session cookie. Destroyed sessions clear it.
func (m *Manager) Save(w http.ResponseWriter, sess *Session) error {
	if sess == nil {
		return errors.New("session: nil session")
	}
	if sess.destroyed {
		m.Destroy(w)
		return nil
	}
	sess.Touch(m.now())

	encoded, err := m.codec.Encode(m.cfg.CookieName, sess.data)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	cookie := m.cookie(encoded)
	if !sess.data.ExpiresAt.IsZero() {
		expiry := sess.data.ExpiresAt.UTC()
		cookie.Expires = expiry
		if remaining := expiry.Sub(m.now()); remaining > 0 {
			cookie.MaxAge = int(remaining.Round(time.Second).Seconds())
		} else {
			cookie.MaxAge = -1
		}
	}
	http.SetCookie(w, cookie)
	return nil
}

// Destroy clears the session cookie immediately.
func (m *Manager) Destroy(w http.ResponseWriter) {
	cookie := m.cookie("")
	cookie.MaxAge = -1
	cookie.Expires = time.Unix(0, 0)
	http.SetCookie(w, cookie)
}

func (m *Manager) cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     m.cfg.CookieName,
		Value:    value,
		Path:     m.cfg.CookiePath,
		Domain:   m.cfg.CookieDomain,
		Secure:   m.cfg.CookieSecure,
		HttpOnly: true,
		SameSite: m.cfg.CookieSameSite,
	}
}

func (m *Manager) expired(sess *Session, now time.Time) bool {
	now = now.UTC()
	if !sess.data.ExpiresAt.IsZero() && now.After(sess.data.ExpiresAt) {
		return true
	}
	last := sess.data.LastActive
	if last.IsZero() {
		last = sess.data.CreatedAt
	}
	return !sess.data.RememberMe && !last.IsZero() && now.Sub(last) > m.cfg.IdleTimeout
}

// ID returns the stable session identifier.
func (s *Session) ID() string { return s.data.ID }

// CreatedAt returns the session creation timestamp.
func (s *Session) CreatedAt() time.Time { return s.data.CreatedAt }

// ExpiresAt returns the absolute expiry.
func (s *Session) ExpiresAt() time.Time { return s.data.ExpiresAt }

// RememberMe reports whether the long lifetime applies.
func (s *Session) RememberMe() bool { return s.data.RememberMe }

// SetRememberMe toggles remember-me and recomputes the expiry.
func (s *Session) SetRememberMe(remember bool) {
	if s.data.RememberMe == remember {
		return
	}
	s.data.RememberMe = remember
	s.data.ExpiresAt = s.cfg.expiry(s.data.CreatedAt, remember)
	s.dirty = true
}

// EnsureCSRFToken returns the existing CSRF token or generates one.
func (s *Session) EnsureCSRFToken() (string, error) {
	if s.data.CSRFToken != "" {
		return s.data.CSRFToken, nil
	}
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate csrf token: %w", err)
	}
	s.data.CSRFToken = base64.RawURLEncoding.EncodeToString(buf)
	s.dirty = true
	return s.data.CSRFToken, nil
}

// CSRFToken returns the stored CSRF token.
func (s *Session) CSRFToken() string { return s.data.CSRFToken }

// User returns the stored principal summary, if any.
func (s *Session) User() *User {
	if s.data.User == nil {
		return nil
	}
	copied := *s.data.User
	return &copied
}

// SetUser replaces the principal summary.
func (s *Session) SetUser(user *User) {
	if user == nil {
		if s.data.User != nil {
			s.data.User = nil
			s.dirty = true
		}
		return
	}
	if s.data.User != nil && *s.data.User == *user {
		return
	}
	copied := *user
	s.data.User = &copied
	s.dirty = true
}

// Tokens returns the stored credentials.
func (s *Session) Tokens() Tokens { return s.data.Tokens }

// SetTokens stores the credentials.
func (s *Session) SetTokens(tokens Tokens) {
	if s.data.Tokens == tokens {
		return
	}
	s.data.Tokens = tokens
	s.dirty = true
}

// SetFlash stores a one-shot message shown on the next page.
func (s *Session) SetFlash(msg string) {
	s.data.Flash = msg
	s.dirty = true
}

// TakeFlash returns and clears the flash message.
func (s *Session) TakeFlash() string {
	msg := s.data.Flash
	if msg != "" {
		s.data.Flash = ""
		s.dirty = true
	}
	return msg
}

// SignOut forgets the principal but keeps the session id and CSRF token.
func (s *Session) SignOut() {
	s.SetUser(nil)
	s.SetTokens(Tokens{})
	s.SetRememberMe(false)
}

// Renew gives the session a fresh id, lifetime and CSRF token while keeping its contents.
// Call it whenever the principal changes so an id handed out before sign-in is worthless
// afterwards. It returns the previous id.
func (s *Session) Renew() string {
	previous := s.data.ID
	now := s.cfg.Now().UTC()
	s.data.ID = ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
	s.data.CreatedAt = now
	s.data.LastActive = now
	s.data.ExpiresAt = s.cfg.expiry(now, s.data.RememberMe)
	s.data.CSRFToken = ""
	_, _ = s.EnsureCSRFToken()
	s.dirty = true
	return previous
}

// Destroy marks the session for deletion at the end of the request.
func (s *Session) Destroy() {
	s.destroyed = true
	s.dirty = true
}

// Destroyed exposes the destroy marker.
func (s *Session) Destroyed() bool { return s.destroyed }

// Touch updates the last active timestamp.
func (s *Session) Touch(now time.Time) {
	now = now.UTC()
	if now.After(s.data.LastActive) {
		s.data.LastActive = now
		s.dirty = true
	}
}

// Dirty reports whether the session changed during this request.
func (s *Session) Dirty() bool { return s.dirty }

func (cfg *Config) expiry(from time.Time, remember bool) time.Time {
	lifetime := cfg.Lifetime
	if remember && cfg.RememberLifetime > 0 {
		lifetime = cfg.RememberLifetime
	}
	if lifetime <= 0 {
		return time.Time{}
	}
	return from.UTC().Add(lifetime)
}
