package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// ErrInvalidCompany is returned when a company cannot be created from the submitted fields.
var ErrInvalidCompany = errors.New("auth: company name is required")

// Outcome is the result of a flow that ends in navigation.
type Outcome struct {
	Resolution Resolution
	Redirect   string
	// ConfirmationRequired is set by SignUp when the account awaits e-mail confirmation.
	ConfirmationRequired bool
}

// SignUpRequest carries the registration form.
type SignUpRequest struct {
	Email     string
	Password  string
	FullName  string
	Role      Role
	CompanyID string
}

// ServiceConfig wires a Service.
type ServiceConfig struct {
	Source     SessionSource
	Profiles   ProfileStore
	Companies  CompanyStore
	Cache      *Cache
	Reconciler *Reconciler
	Policy     RedirectPolicy
	Logger     *zap.Logger
}

// Service is the single entry point for sign-in, sign-up, sign-out and profile mutations.
type Service struct {
	source     SessionSource
	profiles   ProfileStore
	companies  CompanyStore
	cache      *Cache
	reconciler *Reconciler
	policy     RedirectPolicy
	logger     *zap.Logger
}

// NewService constructs a Service.
func NewService(cfg ServiceConfig) *Service {
	if cfg.Source == nil || cfg.Profiles == nil || cfg.Cache == nil || cfg.Reconciler == nil {
		panic("auth: service requires a session source, profile store, cache and reconciler")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		source:     cfg.Source,
		profiles:   cfg.Profiles,
		companies:  cfg.Companies,
		cache:      cfg.Cache,
		reconciler: cfg.Reconciler,
		policy:     cfg.Policy,
		logger:     logger,
	}
}

// Policy returns the redirect policy shared with guards.
func (s *Service) Policy() RedirectPolicy {
	return s.policy
}

// State returns the current cache snapshot.
func (s *Service) State() State {
	return s.cache.Snapshot()
}

// Current resolves the signed-in principal without touching the guard retry budget.
func (s *Service) Current(ctx context.Context) (Resolution, error) {
	state := s.cache.Snapshot()
	if state.Session == nil {
		return Resolution{Problems: []error{ErrNotAuthenticated}}, ErrNotAuthenticated
	}
	return s.reconciler.Resolve(ctx, state.Session, state.Profile)
}

// SignIn verifies credentials, makes sure a profile row exists and computes the landing route.
func (s *Service) SignIn(ctx context.Context, email, password string) (Outcome, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return Outcome{}, ErrInvalidCredentials
	}

	session, err := s.source.SignInWithPassword(ctx, email, password)
	if err != nil {
		return Outcome{}, err
	}
	if session == nil {
		return Outcome{}, ErrNotAuthenticated
	}

	s.ensureProfile(ContextWithSession(ctx, session), session)
	return s.land(ctx, session), nil
}

// SignUp registers a principal. When the identity provider withholds a session until the
// e-mail is confirmed, the outcome points back at the login page.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (Outcome, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" || req.Password == "" {
		return Outcome{}, ErrInvalidCredentials
	}
	role := req.Role
	if !role.Valid() {
		role = RoleInspector
	}

	metadata := map[string]any{MetadataRole: role.String()}
	if name := strings.TrimSpace(req.FullName); name != "" {
		metadata[MetadataFullName] = name
	}
	if companyID := strings.TrimSpace(req.CompanyID); companyID != "" {
		metadata[MetadataCompanyID] = companyID
	}

	session, err := s.source.SignUp(ctx, email, req.Password, metadata)
	if err != nil {
		return Outcome{}, err
	}
	if session == nil {
		return Outcome{Redirect: s.policy.Routes().Login, ConfirmationRequired: true}, nil
	}

	s.ensureProfile(ContextWithSession(ctx, session), session)
	return s.land(ctx, session), nil
}

// SignOut signs out remotely on a best-effort basis. Local state is cleared regardless and the
// outcome always points at the login page.
func (s *Service) SignOut(ctx context.Context) Outcome {
	userID := s.cache.Snapshot().Session.UserID()
	if err := s.source.SignOut(ctx); err != nil {
		s.logger.Warn("auth: remote sign-out failed; clearing local state", zap.String("user_id", userID), zap.Error(err))
	}
	s.cache.signOutLocally()
	return Outcome{Redirect: s.policy.Routes().Login}
}

// UpdateProfile writes the provided fields for the signed-in principal and refreshes the cache.
func (s *Service) UpdateProfile(ctx context.Context, fields ProfileFields) (*Profile, error) {
	session := s.cache.Snapshot().Session
	if session == nil {
		return nil, ErrNotAuthenticated
	}
	if fields.Empty() {
		return s.cache.Snapshot().Profile, nil
	}
	if err := s.profiles.UpsertProfile(ContextWithSession(ctx, session), session.UserID(), fields); err != nil {
		return nil, fmt.Errorf("auth: update profile: %w", err)
	}
	return s.cache.RefreshProfile(ctx)
}

// SetupCompany creates a company, links the signed-in admin to it and returns the new landing
// route.
func (s *Service) SetupCompany(ctx context.Context, company Company) (Outcome, error) {
	session := s.cache.Snapshot().Session
	if session == nil {
		return Outcome{}, ErrNotAuthenticated
	}
	if s.companies == nil {
		return Outcome{}, errors.New("auth: company store is not configured")
	}
	company.Name = strings.TrimSpace(company.Name)
	if company.Name == "" {
		return Outcome{}, ErrInvalidCompany
	}

	ctx = ContextWithSession(ctx, session)
	created, err := s.companies.CreateCompany(ctx, company)
	if err != nil {
		return Outcome{}, fmt.Errorf("auth: create company: %w", err)
	}
	companyID := created.ID
	if err := s.profiles.UpsertProfile(ctx, session.UserID(), ProfileFields{CompanyID: &companyID}); err != nil {
		return Outcome{}, fmt.Errorf("auth: link company: %w", err)
	}
	s.logger.Info("auth: company linked", zap.String("user_id", session.UserID()), zap.String("company_id", companyID))
	return s.land(ctx, session), nil
}

// Company loads the company linked to the signed-in principal. It returns ErrCompanyLinkMissing
// when the profile has no company.
func (s *Service) Company(ctx context.Context, companyID string) (*Company, error) {
	session := s.cache.Snapshot().Session
	if session == nil {
		return nil, ErrNotAuthenticated
	}
	if s.companies == nil {
		return nil, errors.New("auth: company store is not configured")
	}
	if strings.TrimSpace(companyID) == "" {
		return nil, ErrCompanyLinkMissing
	}
	return s.companies.GetCompany(ContextWithSession(ctx, session), companyID)
}

// ensureProfile creates the profile row from session metadata when it does not exist yet.
func (s *Service) ensureProfile(ctx context.Context, session *Session) {
	_, err := s.profiles.GetProfile(ctx, session.UserID())
	if err == nil {
		return
	}
	if !errors.Is(err, ErrProfileNotFound) {
		s.logger.Warn("auth: profile lookup after sign-in failed", zap.String("user_id", session.UserID()), zap.Error(err))
		return
	}

	email := session.User.Email
	role := RoleInspector
	if value := ParseRole(session.MetadataString(MetadataRole)); value.Known {
		role = value.Role
	}
	fields := ProfileFields{Email: &email, Role: &role}
	if name := session.MetadataString(MetadataFullName); name != "" {
		fields.FullName = &name
	}
	if avatar := session.MetadataString(MetadataAvatarURL); avatar != "" {
		fields.AvatarURL = &avatar
	}
	if companyID := session.MetadataString(MetadataCompanyID); companyID != "" {
		fields.CompanyID = &companyID
	}
	if err := s.profiles.UpsertProfile(ctx, session.UserID(), fields); err != nil {
		s.logger.Warn("auth: profile creation failed", zap.String("user_id", session.UserID()), zap.Error(err))
		return
	}
	s.logger.Info("auth: profile created", zap.String("user_id", session.UserID()), zap.String("role", role.String()))
}

// land refreshes the cached profile and resolves the landing route for session.
func (s *Service) land(ctx context.Context, session *Session) Outcome {
	if _, err := s.cache.RefreshProfile(ctx); err != nil && !errors.Is(err, ErrProfileNotFound) {
		s.logger.Warn("auth: profile refresh after sign-in failed", zap.String("user_id", session.UserID()), zap.Error(err))
	}
	cached := s.cache.Snapshot().Profile
	res, err := s.reconciler.Resolve(ctx, session, cached)
	if err != nil {
		return Outcome{Resolution: res, Redirect: s.policy.Routes().Login}
	}
	return Outcome{Resolution: res, Redirect: s.policy.TargetFor(res)}
}
