// Package authtest provides in-memory collaborators for exercising the auth core.
package authtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
)

// Account is a registered credential in SessionSource.
type Account struct {
	Password string
	Session  *auth.Session
}

// SessionSource is an in-memory identity provider that emits events synchronously.
type SessionSource struct {
	mu        sync.Mutex
	current   *auth.Session
	accounts  map[string]Account
	listeners map[int]auth.Listener
	nextID    int

	// CurrentErr is returned by CurrentSession when set.
	CurrentErr error
	// SignOutErr is returned by SignOut after local state is cleared.
	SignOutErr error
	// SignUpWithoutSession makes SignUp return a nil session, as when confirmation is pending.
	SignUpWithoutSession bool

	currentCalls int
	signOutCalls int
}

// NewSessionSource constructs a source with an optional current session.
func NewSessionSource(current *auth.Session) *SessionSource {
	return &SessionSource{
		current:   current.Clone(),
		accounts:  make(map[string]Account),
		listeners: make(map[int]auth.Listener),
	}
}

// AddAccount registers credentials that SignInWithPassword accepts.
func (s *SessionSource) AddAccount(email, password string, session *auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[strings.ToLower(email)] = Account{Password: password, Session: session.Clone()}
}

// CurrentSession implements auth.SessionSource.
func (s *SessionSource) CurrentSession(context.Context) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentCalls++
	if s.CurrentErr != nil {
		return nil, s.CurrentErr
	}
	return s.current.Clone(), nil
}

// OnSessionChange implements auth.SessionSource.
func (s *SessionSource) OnSessionChange(listener auth.Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	id := s.nextID
	s.listeners[id] = listener
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

// SignInWithPassword implements auth.SessionSource.
func (s *SessionSource) SignInWithPassword(_ context.Context, email, password string) (*auth.Session, error) {
	s.mu.Lock()
	account, ok := s.accounts[strings.ToLower(email)]
	if !ok || account.Password != password {
		s.mu.Unlock()
		return nil, auth.ErrInvalidCredentials
	}
	s.current = account.Session.Clone()
	s.mu.Unlock()

	s.Emit(auth.EventSignedIn, account.Session)
	return account.Session.Clone(), nil
}

// SignUp implements auth.SessionSource.
func (s *SessionSource) SignUp(_ context.Context, email, password string, metadata map[string]any) (*auth.Session, error) {
	s.mu.Lock()
	key := strings.ToLower(email)
	if _, exists := s.accounts[key]; exists {
		s.mu.Unlock()
		return nil, auth.ErrUserAlreadyRegistered
	}
	session := &auth.Session{
		AccessToken: "token-" + key,
		ExpiresAt:   time.Now().Add(time.Hour),
		User: auth.User{
			ID:       fmt.Sprintf("user-%d", len(s.accounts)+1),
			Email:    key,
			Metadata: metadata,
		},
	}
	s.accounts[key] = Account{Password: password, Session: session.Clone()}
	if s.SignUpWithoutSession {
		s.mu.Unlock()
		return nil, nil
	}
	s.current = session.Clone()
	s.mu.Unlock()

	s.Emit(auth.EventSignedIn, session)
	return session, nil
}

// SignOut implements auth.SessionSource.
func (s *SessionSource) SignOut(context.Context) error {
	s.mu.Lock()
	s.signOutCalls++
	s.current = nil
	err := s.SignOutErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	s.Emit(auth.EventSignedOut, nil)
	return nil
}

// Emit delivers an event to every listener and updates the current session.
func (s *SessionSource) Emit(kind auth.EventKind, session *auth.Session) {
	s.mu.Lock()
	if kind == auth.EventSignedOut {
		s.current = nil
	} else if session != nil {
		s.current = session.Clone()
	}
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	listeners := make([]auth.Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(kind, session.Clone())
	}
}

// Listeners reports the number of registered listeners.
func (s *SessionSource) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// CurrentCalls reports how many times CurrentSession was called.
func (s *SessionSource) CurrentCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentCalls
}

// SignOutCalls reports how many times SignOut was called.
func (s *SessionSource) SignOutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signOutCalls
}

// ProfileStore is an in-memory profile and company store with call accounting.
type ProfileStore struct {
	mu        sync.Mutex
	profiles  map[string]*auth.Profile
	companies map[string]*auth.Company

	// RPCRole is returned by CurrentRoleSafely.
	RPCRole string
	// RPCErr fails CurrentRoleSafely when set.
	RPCErr error
	// GetErr fails GetProfile when set.
	GetErr error
	// UpsertErr fails UpsertProfile when set.
	UpsertErr error
	// BeforeGet runs before GetProfile reads its data, outside the store lock.
	BeforeGet func(ctx context.Context, userID string)

	getCalls    int
	rpcCalls    int
	upsertCalls int
}

// NewProfileStore constructs a store seeded with profiles.
func NewProfileStore(profiles ...*auth.Profile) *ProfileStore {
	store := &ProfileStore{
		profiles:  make(map[string]*auth.Profile),
		companies: make(map[string]*auth.Company),
	}
	for _, p := range profiles {
		store.profiles[p.ID] = p.Clone()
	}
	return store
}

// Put replaces a stored profile.
func (s *ProfileStore) Put(profile *auth.Profile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profiles[profile.ID] = profile.Clone()
}

// Profile returns the stored profile without counting a call.
func (s *ProfileStore) Profile(userID string) (*auth.Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	return p.Clone(), ok
}

// GetProfile implements auth.ProfileStore.
func (s *ProfileStore) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	s.mu.Lock()
	s.getCalls++
	hook := s.BeforeGet
	s.mu.Unlock()
	if hook != nil {
		hook(ctx, userID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.GetErr != nil {
		return nil, s.GetErr
	}
	p, ok := s.profiles[userID]
	if !ok {
		return nil, auth.ErrProfileNotFound
	}
	return p.Clone(), nil
}

// UpsertProfile implements auth.ProfileStore.
func (s *ProfileStore) UpsertProfile(_ context.Context, userID string, fields auth.ProfileFields) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertCalls++
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	p, ok := s.profiles[userID]
	if !ok {
		p = &auth.Profile{ID: userID}
		s.profiles[userID] = p
	}
	if fields.Email != nil {
		p.Email = *fields.Email
	}
	if fields.FullName != nil {
		p.FullName = *fields.FullName
	}
	if fields.AvatarURL != nil {
		p.AvatarURL = *fields.AvatarURL
	}
	if fields.Role != nil {
		p.Role = *fields.Role
		p.RawRole = fields.Role.String()
	}
	if fields.CompanyID != nil {
		p.CompanyID = *fields.CompanyID
	}
	if fields.CPF != nil {
		p.CPF = *fields.CPF
	}
	if fields.Phone != nil {
		p.Phone = *fields.Phone
	}
	p.UpdatedAt = time.Now()
	return nil
}

// CurrentRoleSafely implements auth.ProfileStore.
func (s *ProfileStore) CurrentRoleSafely(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rpcCalls++
	if s.RPCErr != nil {
		return "", s.RPCErr
	}
	return s.RPCRole, nil
}

// GetCompany implements auth.CompanyStore.
func (s *ProfileStore) GetCompany(_ context.Context, id string) (*auth.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.companies[id]
	if !ok {
		return nil, auth.ErrCompanyNotFound
	}
	copied := *c
	return &copied, nil
}

// CreateCompany implements auth.CompanyStore.
func (s *ProfileStore) CreateCompany(_ context.Context, company auth.Company) (*auth.Company, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if company.ID == "" {
		company.ID = fmt.Sprintf("company-%d", len(s.companies)+1)
	}
	stored := company
	s.companies[company.ID] = &stored
	return &company, nil
}

// SetRPC updates the privileged RPC response.
func (s *ProfileStore) SetRPC(role string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.RPCRole = role
	s.RPCErr = err
}

// SetGetErr updates the GetProfile failure.
func (s *ProfileStore) SetGetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.GetErr = err
}

// GetCalls reports GetProfile calls.
func (s *ProfileStore) GetCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls
}

// RPCCalls reports CurrentRoleSafely calls.
func (s *ProfileStore) RPCCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rpcCalls
}

// UpsertCalls reports UpsertProfile calls.
func (s *ProfileStore) UpsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls
}

// NetworkCalls reports every profile-store round trip.
func (s *ProfileStore) NetworkCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getCalls + s.rpcCalls + s.upsertCalls
}

// NewSession builds a session for userID with metadata key/value pairs.
func NewSession(userID string, kv ...string) *auth.Session {
	metadata := make(map[string]any, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		metadata[kv[i]] = kv[i+1]
	}
	return &auth.Session{
		AccessToken:  "access-" + userID,
		RefreshToken: "refresh-" + userID,
		ExpiresAt:    time.Now().Add(time.Hour),
		User: auth.User{
			ID:       userID,
			Email:    userID + "@example.com",
			Metadata: metadata,
		},
	}
}

// Recorder is a Navigator that remembers every navigation.
type Recorder struct {
	mu    sync.Mutex
	calls []Navigation
}

// Navigation is one recorded call.
type Navigation struct {
	Path    string
	Replace bool
}

// Navigate implements auth.Navigator.
func (r *Recorder) Navigate(path string, opts auth.NavigateOptions) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Navigation{Path: path, Replace: opts.Replace})
}

// Calls returns the recorded navigations.
func (r *Recorder) Calls() []Navigation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Navigation(nil), r.calls...)
}
