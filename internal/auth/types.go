package auth

import (
	"context"
	"strings"
	"time"
)

// Metadata keys read from the identity provider's user metadata.
const (
	MetadataRole      = "role"
	MetadataCompanyID = "company_id"
	MetadataFullName  = "full_name"
	MetadataAvatarURL = "avatar_url"
)

// User is the principal embedded in a Session.
type User struct {
	ID       string
	Email    string
	Metadata map[string]any
}

// Session is the token bundle issued by the identity provider.
type Session struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	User         User
}

// UserID returns the principal id or empty string for a nil session.
func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.User.ID)
}

// MetadataString returns a trimmed string metadata value.
func (s *Session) MetadataString(key string) string {
	if s == nil || s.User.Metadata == nil {
		return ""
	}
	switch v := s.User.Metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case *string:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	default:
		return ""
	}
}

// Expired reports whether the access token is past its expiry at now.
func (s *Session) Expired(now time.Time) bool {
	if s == nil {
		return true
	}
	if s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Clone returns a deep copy so holders never share the metadata map.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	copied := *s
	if s.User.Metadata != nil {
		copied.User.Metadata = make(map[string]any, len(s.User.Metadata))
		for k, v := range s.User.Metadata {
			copied.User.Metadata[k] = v
		}
	}
	return &copied
}

// Profile is the application-level record of a principal.
type Profile struct {
	ID        string
	Email     string
	FullName  string
	AvatarURL string
	Role      Role
	RawRole   string
	CompanyID string
	CPF       string
	Phone     string
	UpdatedAt time.Time
}

// HasCompany reports whether the profile is linked to a company.
func (p *Profile) HasCompany() bool {
	return p != nil && strings.TrimSpace(p.CompanyID) != ""
}

// Clone returns a copy of the profile.
func (p *Profile) Clone() *Profile {
	if p == nil {
		return nil
	}
	copied := *p
	return &copied
}

// ProfileFields is the upsert payload for a profile. Nil pointers leave the stored value untouched.
type ProfileFields struct {
	Email     *string
	FullName  *string
	AvatarURL *string
	Role      *Role
	CompanyID *string
	CPF       *string
	Phone     *string
}

// Empty reports whether no field is set.
func (f ProfileFields) Empty() bool {
	return f.Email == nil && f.FullName == nil && f.AvatarURL == nil && f.Role == nil &&
		f.CompanyID == nil && f.CPF == nil && f.Phone == nil
}

// Company is the tenant entity that employs inspectors and admins.
type Company struct {
	ID           string
	Name         string
	CNPJ         string
	Address      string
	Phone        string
	Email        string
	LogoURL      string
	IsIndividual bool
}

// EventKind enumerates session change notifications.
type EventKind string

const (
	EventInitialSession EventKind = "INITIAL_SESSION"
	EventSignedIn       EventKind = "SIGNED_IN"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
	EventSignedOut      EventKind = "SIGNED_OUT"
)

// SignedIn reports whether the event means a principal is now signed in.
func (k EventKind) SignedIn() bool {
	switch k {
	case EventInitialSession, EventSignedIn, EventTokenRefreshed, EventUserUpdated:
		return true
	default:
		return false
	}
}

// Listener receives session change events.
type Listener func(kind EventKind, session *Session)

// SessionSource is the remote identity service.
type SessionSource interface {
	CurrentSession(ctx context.Context) (*Session, error)
	OnSessionChange(listener Listener) (unsubscribe func())
	SignInWithPassword(ctx context.Context, email, password string) (*Session, error)
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Session, error)
	SignOut(ctx context.Context) error
}

// ProfileStore is the remote record store keyed by user id.
type ProfileStore interface {
	// GetProfile returns ErrProfileNotFound when no row exists.
	GetProfile(ctx context.Context, userID string) (*Profile, error)
	UpsertProfile(ctx context.Context, userID string, fields ProfileFields) error
	// CurrentRoleSafely returns the caller's raw role through a privileged path that never
	// evaluates the profile table's access policies. The caller is read from the context.
	// An empty string means no role is recorded.
	CurrentRoleSafely(ctx context.Context) (string, error)
}

// CompanyStore manages tenant companies.
type CompanyStore interface {
	GetCompany(ctx context.Context, id string) (*Company, error)
	CreateCompany(ctx context.Context, company Company) (*Company, error)
}

// NavigateOptions controls a navigation.
type NavigateOptions struct {
	Replace bool
}

// Navigator is the thin routing collaborator used by guards and the login flow.
type Navigator interface {
	Navigate(path string, opts NavigateOptions)
}

// NavigatorFunc adapts ordinary functions to Navigator.
type NavigatorFunc func(path string, opts NavigateOptions)

// Navigate implements Navigator.
func (f NavigatorFunc) Navigate(path string, opts NavigateOptions) {
	f(path, opts)
}

type contextKey string

const sessionContextKey contextKey = "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth/session"

// ContextWithSession stores the acting session so store adapters can authenticate calls.
func ContextWithSession(ctx context.Context, session *Session) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, sessionContextKey, session)
}

// SessionFromContext retrieves the acting session previously stored in context.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}
	session, ok := ctx.Value(sessionContextKey).(*Session)
	if !ok || session == nil {
		return nil, false
	}
	return session, true
}
