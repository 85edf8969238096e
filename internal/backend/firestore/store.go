package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
)

type profileDoc struct {
	Email     string    `firestore:"email"`
	FullName  string    `firestore:"full_name"`
	AvatarURL string    `firestore:"avatar_url"`
	Role      string    `firestore:"role"`
	CompanyID string    `firestore:"company_id"`
	CPF       string    `firestore:"cpf"`
	Phone     string    `firestore:"phone"`
	UpdatedAt time.Time `firestore:"updated_at"`
}

func (d profileDoc) toProfile(id string) *auth.Profile {
	raw := strings.TrimSpace(d.Role)
	return &auth.Profile{
		ID:        id,
		Email:     strings.TrimSpace(d.Email),
		FullName:  strings.TrimSpace(d.FullName),
		AvatarURL: strings.TrimSpace(d.AvatarURL),
		Role:      auth.ParseRole(raw).Role,
		RawRole:   raw,
		CompanyID: strings.TrimSpace(d.CompanyID),
		CPF:       strings.TrimSpace(d.CPF),
		Phone:     strings.TrimSpace(d.Phone),
		UpdatedAt: d.UpdatedAt,
	}
}

// profileUpdates maps the set fields onto document keys.
func profileUpdates(fields auth.ProfileFields, now time.Time) map[string]any {
	out := map[string]any{"updated_at": now}
	set := func(key string, val *string) {
		if val != nil {
			out[key] = strings.TrimSpace(*val)
		}
	}
	set("email", fields.Email)
	set("full_name", fields.FullName)
	set("avatar_url", fields.AvatarURL)
	set("company_id", fields.CompanyID)
	set("cpf", fields.CPF)
	set("phone", fields.Phone)
	if fields.Role != nil {
		out["role"] = fields.Role.String()
	}
	return out
}

type companyDoc struct {
	Name         string    `firestore:"name"`
	CNPJ         string    `firestore:"cnpj,omitempty"`
	Address      string    `firestore:"address,omitempty"`
	Phone        string    `firestore:"phone,omitempty"`
	Email        string    `firestore:"email,omitempty"`
	LogoURL      string    `firestore:"logo_url,omitempty"`
	IsIndividual bool      `firestore:"is_individual"`
	CreatedAt    time.Time `firestore:"created_at"`
}

func newCompanyDoc(c auth.Company, now time.Time) companyDoc {
	return companyDoc{
		Name:         strings.TrimSpace(c.Name),
		CNPJ:         strings.TrimSpace(c.CNPJ),
		Address:      strings.TrimSpace(c.Address),
		Phone:        strings.TrimSpace(c.Phone),
		Email:        strings.TrimSpace(c.Email),
		LogoURL:      strings.TrimSpace(c.LogoURL),
		IsIndividual: c.IsIndividual,
		CreatedAt:    now,
	}
}

func (d companyDoc) toCompany(id string) *auth.Company {
	return &auth.Company{
		ID:           id,
		Name:         d.Name,
		CNPJ:         d.CNPJ,
		Address:      d.Address,
		Phone:        d.Phone,
		Email:        d.Email,
		LogoURL:      d.LogoURL,
		IsIndividual: d.IsIndividual,
	}
}

// StoreOption customises a Store.
type StoreOption func(*Store)

// WithRoleReader sets the privileged role channel used by CurrentRoleSafely.
func WithRoleReader(reader RoleReader) StoreOption {
	return func(s *Store) { s.roles = reader }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the time source for updated_at stamps.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Store implements auth.ProfileStore and auth.CompanyStore over Firestore.
type Store struct {
	profiles  *Collection[profileDoc]
	companies *Collection[companyDoc]
	roles     RoleReader
	logger    *zap.Logger
	now       func() time.Time
}

var (
	_ auth.ProfileStore = (*Store)(nil)
	_ auth.CompanyStore = (*Store)(nil)
)

// NewStore binds the store to the provider's profiles and companies collections.
func NewStore(provider *Provider, profiles, companies string, opts ...StoreOption) *Store {
	s := &Store{
		profiles:  NewCollection[profileDoc](provider, profiles),
		companies: NewCollection[companyDoc](provider, companies),
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetProfile implements auth.ProfileStore.
func (s *Store) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, auth.ErrProfileNotFound
	}
	doc, err := s.profiles.Get(ctx, userID)
	if IsNotFound(err) {
		return nil, auth.ErrProfileNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Data.toProfile(doc.ID), nil
}

// UpsertProfile implements auth.ProfileStore. Role and company changes are mirrored onto the
// custom claims when the role reader supports it, so the privileged path stays in step.
func (s *Store) UpsertProfile(ctx context.Context, userID string, fields auth.ProfileFields) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("firestore: user id is required")
	}
	if err := s.profiles.Merge(ctx, userID, profileUpdates(fields, s.now().UTC())); err != nil {
		return err
	}
	mirror, ok := s.roles.(interface {
		Mirror(ctx context.Context, uid, role, companyID string) error
	})
	if !ok || (fields.Role == nil && fields.CompanyID == nil) {
		return nil
	}
	var role, company string
	if fields.Role != nil {
		role = fields.Role.String()
	}
	if fields.CompanyID != nil {
		company = strings.TrimSpace(*fields.CompanyID)
	}
	if err := mirror.Mirror(ctx, userID, role, company); err != nil {
		// the profile document stays authoritative
		s.logger.Warn("firestore: mirror claims failed", zap.String("user_id", userID), zap.Error(err))
	}
	return nil
}

// CurrentRoleSafely implements auth.ProfileStore through the role reader.
func (s *Store) CurrentRoleSafely(ctx context.Context) (string, error) {
	session, ok := auth.SessionFromContext(ctx)
	if !ok || session.UserID() == "" {
		return "", auth.ErrNotAuthenticated
	}
	if s.roles == nil {
		return "", errors.New("firestore: no privileged role reader configured")
	}
	return s.roles.Role(ctx, session.UserID())
}

// GetCompany implements auth.CompanyStore.
func (s *Store) GetCompany(ctx context.Context, id string) (*auth.Company, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, auth.ErrCompanyNotFound
	}
	doc, err := s.companies.Get(ctx, id)
	if IsNotFound(err) {
		return nil, auth.ErrCompanyNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.Data.toCompany(doc.ID), nil
}

// CreateCompany implements auth.CompanyStore.
func (s *Store) CreateCompany(ctx context.Context, company auth.Company) (*auth.Company, error) {
	data := newCompanyDoc(company, s.now().UTC())
	if data.Name == "" {
		return nil, errors.New("firestore: company name is required")
	}
	id, err := s.companies.Create(ctx, data)
	if err != nil {
		return nil, err
	}
	return data.toCompany(id), nil
}
