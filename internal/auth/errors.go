package auth

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotAuthenticated indicates there is no session.
	ErrNotAuthenticated = errors.New("auth: not authenticated")
	// ErrRoleResolutionDegraded indicates no source produced a usable role and the
	// least-privileged role was assumed.
	ErrRoleResolutionDegraded = errors.New("auth: role resolution degraded")
	// ErrProfileFetchFailed indicates every profile source failed.
	ErrProfileFetchFailed = errors.New("auth: profile fetch failed")
	// ErrCompanyLinkMissing marks an admin-class principal without a company. It is a
	// routing state rather than a failure.
	ErrCompanyLinkMissing = errors.New("auth: company link missing")
	// ErrProfileNotFound is returned by stores when the profile row does not exist.
	ErrProfileNotFound = errors.New("auth: profile not found")
	// ErrCompanyNotFound is returned by stores when the company does not exist.
	ErrCompanyNotFound = errors.New("auth: company not found")
	// ErrStaleSession is returned when a response arrives for a superseded session.
	ErrStaleSession = errors.New("auth: stale session")
	// ErrInvalidCredentials is returned by session sources when sign-in is rejected.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrEmailNotConfirmed is returned when the account exists but has not been confirmed.
	ErrEmailNotConfirmed = errors.New("auth: email not confirmed")
	// ErrUserAlreadyRegistered is returned by SignUp for duplicate accounts.
	ErrUserAlreadyRegistered = errors.New("auth: user already registered")
)

// BackendError describes a failed call to the identity or record backend.
type BackendError struct {
	Op      string
	Status  int
	Code    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *BackendError) Error() string {
	if e == nil {
		return ""
	}
	detail := e.Message
	if detail == "" && e.Status > 0 {
		detail = http.StatusText(e.Status)
	}
	if e.Code != "" {
		detail = fmt.Sprintf("(%s) %s", e.Code, detail)
	}
	if e.Status > 0 {
		detail = fmt.Sprintf("%d %s", e.Status, detail)
	}
	if e.Err != nil {
		if detail == "" {
			return fmt.Sprintf("%s: %v", e.Op, e.Err)
		}
		return fmt.Sprintf("%s: %s: %v", e.Op, detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, detail)
}

// Unwrap returns the underlying error.
func (e *BackendError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Temporary reports whether a retry could succeed.
func (e *BackendError) Temporary() bool {
	if e == nil {
		return false
	}
	return e.Status == 0 || e.Status == http.StatusTooManyRequests || e.Status >= http.StatusInternalServerError
}

// Forbidden reports whether the backend refused the call on permission grounds.
func (e *BackendError) Forbidden() bool {
	return e != nil && (e.Status == http.StatusForbidden || e.Status == http.StatusUnauthorized)
}

const (
	msgInvalidCredentials = "E-mail ou senha inválidos."
	msgEmailNotConfirmed  = "Confirme seu e-mail antes de entrar."
	msgAlreadyRegistered  = "Este e-mail já está cadastrado."
	msgNotAuthenticated   = "Faça login para continuar."
	msgServiceUnavailable = "Serviço de autenticação indisponível. Tente novamente em instantes."
	msgUnknown            = "Não foi possível entrar. Tente novamente."
)

// LoginMessage maps an authentication failure onto the message shown next to the login form.
func LoginMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return msgInvalidCredentials
	case errors.Is(err, ErrEmailNotConfirmed):
		return msgEmailNotConfirmed
	case errors.Is(err, ErrUserAlreadyRegistered):
		return msgAlreadyRegistered
	case errors.Is(err, ErrNotAuthenticated):
		return msgNotAuthenticated
	}
	var backendErr *BackendError
	if errors.As(err, &backendErr) && backendErr.Temporary() {
		return msgServiceUnavailable
	}
	return msgUnknown
}
