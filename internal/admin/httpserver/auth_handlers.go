package httpserver

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	custommw "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/httpserver/middleware"
	appsession "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/session"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/templates"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/observability"
)

const (
	statusLoggedOut = "logged_out"
	statusConfirm   = "confirm"

	msgLoggedOut       = "Você saiu da sua conta."
	msgConfirmEmail    = "Cadastro realizado. Confirme seu e-mail para entrar."
	msgUnknownRole     = "Seu perfil de acesso não foi reconhecido. Procure o administrador da sua empresa."
	msgFormUnreadable  = "Não foi possível ler o formulário. Tente novamente."
	msgSignUpFieldsReq = "Preencha nome, e-mail e senha."
)

type handlers struct {
	routes        auth.Routes
	clients       Clients
	signUpEnabled bool
}

type loginFormState struct {
	Email    string
	Remember bool
	Error    string
	Message  string
}

func (h *handlers) loginForm(w http.ResponseWriter, r *http.Request) {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok {
		http.Error(w, "auth client unavailable", http.StatusInternalServerError)
		return
	}
	state := &loginFormState{Message: statusMessage(r.URL.Query().Get("status"))}

	svc := client.Service()
	if svc.State().IsAuthenticated {
		res, err := svc.Current(r.Context())
		if err == nil {
			if target := svc.Policy().TargetFor(res); target != h.routes.Login {
				custommw.Redirect(w, r, target)
				return
			}
			state.Error = msgUnknownRole
		}
	}
	h.renderLogin(w, r, state, http.StatusOK)
}

func (h *handlers) loginSubmit(w http.ResponseWriter, r *http.Request) {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok {
		http.Error(w, "auth client unavailable", http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderLogin(w, r, &loginFormState{Error: msgFormUnreadable}, http.StatusBadRequest)
		return
	}
	state := &loginFormState{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Remember: parseCheckbox(r.PostFormValue("remember")),
	}

	outcome, err := client.Service().SignIn(r.Context(), state.Email, r.PostFormValue("password"))
	if err != nil {
		observability.FromContext(r.Context()).Info("sign-in rejected", zap.Error(err))
		state.Error = auth.LoginMessage(err)
		h.renderLogin(w, r, state, loginFailureStatus(err))
		return
	}

	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		h.renewSession(r, sess)
		sess.SetRememberMe(state.Remember)
	}
	custommw.Redirect(w, r, outcome.Redirect)
}

// renewSession rotates the browser session id after sign-in and moves the signed-in client
// to it, so an id observed before authentication no longer reaches that client.
func (h *handlers) renewSession(r *http.Request, sess *appsession.Session) {
	previous := sess.Renew()
	if !h.clients.Rekey(previous, sess.ID()) {
		observability.FromContext(r.Context()).Warn("auth client missing during session renewal")
	}
}

func (h *handlers) signUpForm(w http.ResponseWriter, r *http.Request) {
	h.renderSignUp(w, r, templates.SignUpData{}, http.StatusOK)
}

func (h *handlers) signUpSubmit(w http.ResponseWriter, r *http.Request) {
	client, ok := custommw.ClientFromContext(r.Context())
	if !ok {
		http.Error(w, "auth client unavailable", http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		h.renderSignUp(w, r, templates.SignUpData{Error: msgFormUnreadable}, http.StatusBadRequest)
		return
	}
	req := auth.SignUpRequest{
		Email:    strings.TrimSpace(r.PostFormValue("email")),
		Password: r.PostFormValue("password"),
		FullName: strings.TrimSpace(r.PostFormValue("full_name")),
		Role:     signUpRole(r.PostFormValue("role")),
	}
	data := templates.SignUpData{Email: req.Email, FullName: req.FullName, Roles: roleOptions(req.Role)}
	if req.FullName == "" || req.Email == "" || req.Password == "" {
		data.Error = msgSignUpFieldsReq
		h.renderSignUp(w, r, data, http.StatusUnprocessableEntity)
		return
	}

	outcome, err := client.Service().SignUp(r.Context(), req)
	if err != nil {
		observability.FromContext(r.Context()).Info("sign-up rejected", zap.Error(err))
		data.Error = auth.LoginMessage(err)
		h.renderSignUp(w, r, data, loginFailureStatus(err))
		return
	}
	if outcome.ConfirmationRequired {
		custommw.Redirect(w, r, h.loginURL(statusConfirm))
		return
	}
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		h.renewSession(r, sess)
	}
	custommw.Redirect(w, r, outcome.Redirect)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	client, ok := custommw.ClientFromContext(r.Context())
	if ok {
		client.Service().SignOut(r.Context())
	}
	if sess, ok := custommw.SessionFromContext(r.Context()); ok {
		h.clients.Revoke(sess.ID())
		sess.Destroy()
	}
	custommw.Redirect(w, r, h.loginURL(statusLoggedOut))
}

func (h *handlers) renderLogin(w http.ResponseWriter, r *http.Request, state *loginFormState, status int) {
	data := templates.LoginData{
		Action:    h.routes.Login,
		Email:     state.Email,
		Remember:  state.Remember,
		Error:     state.Error,
		Message:   state.Message,
		CSRFToken: custommw.CSRFTokenFromContext(r.Context()),
	}
	if h.signUpEnabled {
		data.SignUpURL = "/signup"
	}
	// htmx swaps the form in place and ignores 4xx bodies by default.
	if custommw.IsHTMXRequest(r.Context()) {
		renderFragment(w, r, http.StatusOK, templates.LoginPage(data))
		return
	}
	renderPage(w, r, status, templates.LayoutData{Title: "Entrar"}, templates.LoginPage(data))
}

func (h *handlers) renderSignUp(w http.ResponseWriter, r *http.Request, data templates.SignUpData, status int) {
	data.Action = "/signup"
	data.LoginURL = h.routes.Login
	data.CSRFToken = custommw.CSRFTokenFromContext(r.Context())
	if len(data.Roles) == 0 {
		data.Roles = roleOptions(auth.RoleInspector)
	}
	renderPage(w, r, status, templates.LayoutData{Title: "Criar conta"}, templates.SignUpPage(data))
}

func (h *handlers) loginURL(status string) string {
	return h.routes.Login + "?" + url.Values{"status": {status}}.Encode()
}

func statusMessage(status string) string {
	switch status {
	case statusLoggedOut:
		return msgLoggedOut
	case statusConfirm:
		return msgConfirmEmail
	default:
		return ""
	}
}

func loginFailureStatus(err error) int {
	var backendErr *auth.BackendError
	switch {
	case errors.Is(err, auth.ErrUserAlreadyRegistered):
		return http.StatusConflict
	case errors.As(err, &backendErr) && backendErr.Temporary():
		return http.StatusServiceUnavailable
	default:
		return http.StatusUnauthorized
	}
}

// signUpRole only lets visitors register as inspector or tenant admin. Master accounts are
// provisioned out of band.
func signUpRole(raw string) auth.Role {
	value := auth.ParseRole(raw)
	if value.Known && value.Role != auth.RoleAdminMaster {
		return value.Role
	}
	return auth.RoleInspector
}

func roleOptions(selected auth.Role) []templates.RoleOption {
	roles := []auth.Role{auth.RoleInspector, auth.RoleAdminTenant}
	options := make([]templates.RoleOption, 0, len(roles))
	for _, role := range roles {
		options = append(options, templates.RoleOption{
			Value:    role.String(),
			Label:    roleLabel(role),
			Selected: role == selected,
		})
	}
	return options
}

func parseCheckbox(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "on", "yes":
		return true
	default:
		return false
	}
}
