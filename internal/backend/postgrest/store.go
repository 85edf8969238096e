// Package postgrest implements the profile and company stores against a hosted PostgREST API.
package postgrest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/backend/rest"
)

const (
	profilesTable  = "profiles"
	companiesTable = "companies"
	// DefaultRoleFunction is the security-definer function returning the caller's role.
	DefaultRoleFunction = "get_current_user_role"
)

// Config configures a Store.
type Config struct {
	// BaseURL is the project URL; requests go to {BaseURL}/rest/v1/....
	BaseURL      string
	AnonKey      string
	RoleFunction string
	HTTPClient   rest.HTTPClient
}

// Store reads and writes profile and company rows. Calls are authorised with the access token
// of the session carried on the context.
type Store struct {
	rest         *rest.Client
	roleFunction string
}

var (
	_ auth.ProfileStore = (*Store)(nil)
	_ auth.CompanyStore = (*Store)(nil)
)

// New constructs a Store.
func New(cfg Config) (*Store, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("postgrest: base URL is required")
	}
	rc, err := rest.New("postgrest", base+"/rest/v1/", cfg.AnonKey, cfg.HTTPClient)
	if err != nil {
		return nil, err
	}
	fn := strings.TrimSpace(cfg.RoleFunction)
	if fn == "" {
		fn = DefaultRoleFunction
	}
	return &Store{rest: rc, roleFunction: fn}, nil
}

type profileRow struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	FullName  *string    `json:"full_name"`
	AvatarURL *string    `json:"avatar_url"`
	Role      *string    `json:"role"`
	CompanyID *string    `json:"company_id"`
	CPF       *string    `json:"cpf"`
	Phone     *string    `json:"phone"`
	UpdatedAt *time.Time `json:"updated_at"`
}

func (r profileRow) toProfile() *auth.Profile {
	raw := deref(r.Role)
	profile := &auth.Profile{
		ID:        r.ID,
		Email:     r.Email,
		FullName:  deref(r.FullName),
		AvatarURL: deref(r.AvatarURL),
		RawRole:   raw,
		Role:      auth.ParseRole(raw).Role,
		CompanyID: deref(r.CompanyID),
		CPF:       deref(r.CPF),
		Phone:     deref(r.Phone),
	}
	if r.UpdatedAt != nil {
		profile.UpdatedAt = *r.UpdatedAt
	}
	return profile
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

func token(ctx context.Context) string {
	if session, ok := auth.SessionFromContext(ctx); ok {
		return session.AccessToken
	}
	return ""
}

// GetProfile implements auth.ProfileStore.
func (s *Store) GetProfile(ctx context.Context, userID string) (*auth.Profile, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, auth.ErrProfileNotFound
	}
	query := url.Values{
		"id":     {"eq." + userID},
		"select": {"*"},
	}
	var rows []profileRow
	if err := s.get(ctx, profilesTable, query, "get_profile", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, auth.ErrProfileNotFound
	}
	return rows[0].toProfile(), nil
}

// UpsertProfile implements auth.ProfileStore. Only the provided fields are written.
func (s *Store) UpsertProfile(ctx context.Context, userID string, fields auth.ProfileFields) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return errors.New("postgrest: user id is required")
	}
	row := map[string]any{
		"id":         userID,
		"updated_at": time.Now().UTC().Format(time.RFC3339),
	}
	set := func(key string, val *string) {
		if val != nil {
			row[key] = strings.TrimSpace(*val)
		}
	}
	set("email", fields.Email)
	set("full_name", fields.FullName)
	set("avatar_url", fields.AvatarURL)
	set("company_id", fields.CompanyID)
	set("cpf", fields.CPF)
	set("phone", fields.Phone)
	if fields.Role != nil {
		row["role"] = fields.Role.String()
	}

	req, err := s.rest.NewJSONRequest(ctx, http.MethodPost, profilesTable, url.Values{"on_conflict": {"id"}}, row, token(ctx))
	if err != nil {
		return err
	}
	req.Header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	resp, err := s.rest.Do(req, "upsert_profile")
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		return s.rest.ErrorFromResponse(resp, "upsert_profile")
	}
	rest.Discard(resp)
	return nil
}

// CurrentRoleSafely implements auth.ProfileStore through the security-definer function, which
// reads the role without evaluating the row-level policies of the profiles table.
func (s *Store) CurrentRoleSafely(ctx context.Context) (string, error) {
	tok := token(ctx)
	if tok == "" {
		return "", auth.ErrNotAuthenticated
	}
	req, err := s.rest.NewJSONRequest(ctx, http.MethodPost, "rpc/"+s.roleFunction, nil, map[string]any{}, tok)
	if err != nil {
		return "", err
	}
	resp, err := s.rest.Do(req, "rpc_role")
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", s.rest.ErrorFromResponse(resp, "rpc_role")
	}
	var raw json.RawMessage
	if err := s.rest.Decode(resp, "rpc_role", &raw); err != nil {
		return "", err
	}
	return decodeRole(raw)
}

// decodeRole accepts a bare string, null, or a single-column row set.
func decodeRole(raw json.RawMessage) (string, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return "", nil
	}
	var role string
	if err := json.Unmarshal(raw, &role); err == nil {
		return strings.TrimSpace(role), nil
	}
	var rows []map[string]*string
	if err := json.Unmarshal(raw, &rows); err == nil {
		for _, row := range rows {
			for _, v := range row {
				return deref(v), nil
			}
		}
		return "", nil
	}
	return "", fmt.Errorf("postgrest: unexpected role payload %s", trimmed)
}

type companyRow struct {
	ID           string  `json:"id,omitempty"`
	Name         string  `json:"name"`
	CNPJ         *string `json:"cnpj,omitempty"`
	Address      *string `json:"address,omitempty"`
	Phone        *string `json:"phone,omitempty"`
	Email        *string `json:"email,omitempty"`
	LogoURL      *string `json:"logo_url,omitempty"`
	IsIndividual bool    `json:"is_individual"`
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}

func (r companyRow) toCompany() *auth.Company {
	return &auth.Company{
		ID:           r.ID,
		Name:         r.Name,
		CNPJ:         deref(r.CNPJ),
		Address:      deref(r.Address),
		Phone:        deref(r.Phone),
		Email:        deref(r.Email),
		LogoURL:      deref(r.LogoURL),
		IsIndividual: r.IsIndividual,
	}
}

// GetCompany implements auth.CompanyStore.
func (s *Store) GetCompany(ctx context.Context, id string) (*auth.Company, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, auth.ErrCompanyNotFound
	}
	var rows []companyRow
	if err := s.get(ctx, companiesTable, url.Values{"id": {"eq." + id}, "select": {"*"}}, "get_company", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, auth.ErrCompanyNotFound
	}
	return rows[0].toCompany(), nil
}

// CreateCompany implements auth.CompanyStore.
func (s *Store) CreateCompany(ctx context.Context, company auth.Company) (*auth.Company, error) {
	row := companyRow{
		Name:         strings.TrimSpace(company.Name),
		CNPJ:         optional(company.CNPJ),
		Address:      optional(company.Address),
		Phone:        optional(company.Phone),
		Email:        optional(company.Email),
		LogoURL:      optional(company.LogoURL),
		IsIndividual: company.IsIndividual,
	}
	req, err := s.rest.NewJSONRequest(ctx, http.MethodPost, companiesTable, nil, row, token(ctx))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Prefer", "return=representation")
	resp, err := s.rest.Do(req, "create_company")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, s.rest.ErrorFromResponse(resp, "create_company")
	}
	var rows []companyRow
	if err := s.rest.Decode(resp, "create_company", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("postgrest: create company returned no row")
	}
	return rows[0].toCompany(), nil
}

func (s *Store) get(ctx context.Context, table string, query url.Values, action string, out any) error {
	req, err := s.rest.NewRequest(ctx, http.MethodGet, table, query, nil, token(ctx))
	if err != nil {
		return err
	}
	resp, err := s.rest.Do(req, action)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return s.rest.ErrorFromResponse(resp, action)
	}
	return s.rest.Decode(resp, action, out)
}
