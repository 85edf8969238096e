package httpserver

import (
	"bytes"
	"errors"
	"net/http"
	"strings"

	"github.com/a-h/templ"
	"go.uber.org/zap"

	custommw "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/httpserver/middleware"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/templates"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/httpx"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/observability"
)

func (h *handlers) root(w http.ResponseWriter, r *http.Request) {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok || !client.Service().State().IsAuthenticated {
		custommw.Redirect(w, r, h.routes.Login)
		return
	}
	res, err := client.Service().Current(r.Context())
	if err != nil {
		custommw.Redirect(w, r, h.routes.Login)
		return
	}
	custommw.Redirect(w, r, client.Service().Policy().TargetFor(res))
}

func (h *handlers) checking(w http.ResponseWriter, r *http.Request) {
	renderPage(w, r, http.StatusAccepted, templates.LayoutData{Title: "Verificando acesso"}, templates.CheckingPage())
}

func (h *handlers) dashboard(w http.ResponseWriter, r *http.Request) {
	decision, _ := custommw.DecisionFromContext(r.Context())
	data := templates.DashboardData{
		RoleLabel: roleLabel(decision.State.UserRole),
		Greeting:  "Olá, " + displayName(r) + "!",
	}
	if res := decision.Resolution; res != nil {
		data.Degraded = res.Degraded
	}

	switch decision.State.UserRole {
	case auth.RoleAdminMaster:
		data.Heading = "Painel master"
	case auth.RoleAdminTenant:
		data.Heading = "Painel da empresa"
		data.Company = h.companyName(r, decision)
	default:
		data.Heading = "Minhas vistorias"
	}
	data.Links = []templates.Link{{Label: "Meu perfil", URL: "/profile"}}

	renderPage(w, r, http.StatusOK, templates.LayoutData{Title: data.Heading}, templates.DashboardPage(data))
}

func (h *handlers) companyName(r *http.Request, decision auth.Decision) string {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok || decision.Resolution == nil {
		return ""
	}
	company, err := client.Service().Company(r.Context(), decision.Resolution.CompanyID)
	if err != nil {
		observability.FromContext(r.Context()).Warn("company lookup failed", zap.Error(err))
		return ""
	}
	return company.Name
}

func (h *handlers) companySetupForm(w http.ResponseWriter, r *http.Request) {
	decision, _ := custommw.DecisionFromContext(r.Context())
	if decision.State.HasCompany {
		custommw.Redirect(w, r, h.routes.AdminDashboard)
		return
	}
	h.renderCompanySetup(w, r, templates.CompanySetupData{}, http.StatusOK)
}

func (h *handlers) companySetupSubmit(w http.ResponseWriter, r *http.Request) {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok {
		http.Error(w, "auth client unavailable", http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderCompanySetup(w, r, templates.CompanySetupData{Error: msgFormUnreadable}, http.StatusBadRequest)
		return
	}
	company := auth.Company{
		Name:         strings.TrimSpace(r.PostFormValue("name")),
		CNPJ:         strings.TrimSpace(r.PostFormValue("cnpj")),
		Phone:        strings.TrimSpace(r.PostFormValue("phone")),
		Email:        strings.TrimSpace(r.PostFormValue("email")),
		Address:      strings.TrimSpace(r.PostFormValue("address")),
		IsIndividual: parseCheckbox(r.PostFormValue("is_individual")),
	}
	data := templates.CompanySetupData{
		Name:         company.Name,
		CNPJ:         company.CNPJ,
		Phone:        company.Phone,
		Email:        company.Email,
		Address:      company.Address,
		IsIndividual: company.IsIndividual,
	}

	outcome, err := client.Service().SetupCompany(r.Context(), company)
	switch {
	case errors.Is(err, auth.ErrInvalidCompany):
		data.Error = "Informe o nome da empresa."
		h.renderCompanySetup(w, r, data, http.StatusUnprocessableEntity)
		return
	case err != nil:
		observability.FromContext(r.Context()).Error("company setup failed", zap.Error(err))
		data.Error = "Não foi possível salvar a empresa. Tente novamente."
		h.renderCompanySetup(w, r, data, http.StatusBadGateway)
		return
	}
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		sess.SetFlash("Empresa cadastrada com sucesso.")
	}
	custommw.Redirect(w, r, outcome.Redirect)
}

func (h *handlers) renderCompanySetup(w http.ResponseWriter, r *http.Request, data templates.CompanySetupData, status int) {
	data.Action = h.routes.CompanySetup
	data.CSRFToken = custommw.CSRFTokenFromContext(r.Context())
	renderPage(w, r, status, templates.LayoutData{Title: "Cadastro da empresa"}, templates.CompanySetupPage(data))
}

func (h *handlers) profileForm(w http.ResponseWriter, r *http.Request) {
	data := templates.ProfileData{Saved: r.URL.Query().Get("saved") == "1"}
	if client, ok := custommw.ClientFromContext(r.Context()); ok {
		state := client.Service().State()
		if state.Session != nil {
			data.Email = state.Session.User.Email
			data.FullName = state.Session.MetadataString(auth.MetadataFullName)
		}
		if p := state.Profile; p != nil {
			if p.FullName != "" {
				data.FullName = p.FullName
			}
			data.Phone = p.Phone
			data.CPF = p.CPF
			data.AvatarURL = p.AvatarURL
		}
	}
	h.renderProfile(w, r, data, http.StatusOK)
}

func (h *handlers) profileSubmit(w http.ResponseWriter, r *http.Request) {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok {
		http.Error(w, "auth client unavailable", http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderProfile(w, r, templates.ProfileData{Error: msgFormUnreadable}, http.StatusBadRequest)
		return
	}
	data := templates.ProfileData{
		FullName:  strings.TrimSpace(r.PostFormValue("full_name")),
		Phone:     strings.TrimSpace(r.PostFormValue("phone")),
		CPF:       strings.TrimSpace(r.PostFormValue("cpf")),
		AvatarURL: strings.TrimSpace(r.PostFormValue("avatar_url")),
	}
	if state := client.Service().State(); state.Session != nil {
		data.Email = state.Session.User.Email
	}
	if data.FullName == "" {
		data.Error = "Informe seu nome completo."
		h.renderProfile(w, r, data, http.StatusUnprocessableEntity)
		return
	}

	fields := auth.ProfileFields{
		FullName:  &data.FullName,
		Phone:     &data.Phone,
		CPF:       &data.CPF,
		AvatarURL: &data.AvatarURL,
	}
	if _, err := client.Service().UpdateProfile(r.Context(), fields); err != nil {
		observability.FromContext(r.Context()).Error("profile update failed", zap.Error(err))
		data.Error = "Não foi possível salvar o perfil. Tente novamente."
		h.renderProfile(w, r, data, http.StatusBadGateway)
		return
	}
	custommw.Redirect(w, r, "/profile?saved=1")
}

func (h *handlers) renderProfile(w http.ResponseWriter, r *http.Request, data templates.ProfileData, status int) {
	data.Action = "/profile"
	data.CSRFToken = custommw.CSRFTokenFromContext(r.Context())
	renderPage(w, r, status, templates.LayoutData{Title: "Meu perfil"}, templates.ProfilePage(data))
}

// meResponse is the JSON view of the current principal.
type meResponse struct {
	auth.GuardState
	Loading  bool   `json:"loading"`
	Redirect string `json:"redirect,omitempty"`
	Source   string `json:"roleSource,omitempty"`
	Degraded bool   `json:"degraded"`
}

func (h *handlers) me(w http.ResponseWriter, r *http.Request) {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok {
		httpx.WriteError(r.Context(), w, httpx.NewError("client_unavailable", "auth client unavailable", http.StatusInternalServerError))
		return
	}
	svc := client.Service()
	state := svc.State()
	body := meResponse{
		GuardState: auth.GuardState{IsAuthenticated: state.IsAuthenticated, Checking: state.Loading},
		Loading:    state.Loading,
	}
	status := http.StatusUnauthorized
	if state.IsAuthenticated {
		res, err := svc.Current(r.Context())
		if err == nil {
			status = http.StatusOK
			body.UserID = res.UserID
			body.UserRole = res.Role
			body.HasCompany = res.HasCompany
			body.MatchesRole = res.Role.Valid()
			body.Source = string(res.Source)
			body.Degraded = res.Degraded
			body.Redirect = svc.Policy().TargetFor(res)
		}
	}

	httpx.WriteJSON(r.Context(), w, status, body)
}

// renderPage buffers the full document so a render failure can still produce a 500.
func renderPage(w http.ResponseWriter, r *http.Request, status int, layout templates.LayoutData, body templ.Component) {
	if sess, ok := custommw.SessionFromContext(r.Context()); ok && layout.Flash == "" {
		layout.Flash = sess.TakeFlash()
	}
	if layout.CSRFToken == "" {
		layout.CSRFToken = custommw.CSRFTokenFromContext(r.Context())
	}
	if layout.User == nil {
		layout.User = userBadge(r)
	}
	renderFragment(w, r, status, templates.Page(layout, body))
}

func renderFragment(w http.ResponseWriter, r *http.Request, status int, component templ.Component) {
	var buf bytes.Buffer
	if err := component.Render(r.Context(), &buf); err != nil {
		observability.FromContext(r.Context()).Error("render failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func userBadge(r *http.Request) *templates.UserBadge {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok {
		return nil
	}
	state := client.Service().State()
	if state.Session == nil {
		return nil
	}
	badge := &templates.UserBadge{
		Name:      displayName(r),
		Email:     state.Session.User.Email,
		LogoutURL: "/logout",
	}
	if decision, ok := custommw.DecisionFromContext(r.Context()); ok {
		badge.RoleLabel = roleLabel(decision.State.UserRole)
	}
	return badge
}

func displayName(r *http.Request) string {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok {
		return ""
	}
	state := client.Service().State()
	if p := state.Profile; p != nil && p.FullName != "" {
		return p.FullName
	}
	if state.Session == nil {
		return ""
	}
	if name := state.Session.MetadataString(auth.MetadataFullName); name != "" {
		return name
	}
	return state.Session.User.Email
}

func roleLabel(role auth.Role) string {
	switch role {
	case auth.RoleAdminMaster:
		return "Administrador master"
	case auth.RoleAdminTenant:
		return "Administrador"
	case auth.RoleInspector:
		return "Vistoriador"
	default:
		return "Sem perfil"
	}
}
