package middleware

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/registry"
	appsession "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/session"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/observability"
)

type (
	clientContextKey   struct{}
	decisionContextKey struct{}
)

// ClientRegistry resolves the per-browser auth client.
type ClientRegistry interface {
	Get(ctx context.Context, sessionID string, creds registry.Credentials) (*registry.Client, bool, error)
}

// Principal attaches the browser's auth client to the context. The client is restored from
// the cookie credentials when the registry has none, and the cookie is kept in step with the
// client's session before the response is written.
func Principal(clients ClientRegistry, fallback *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := loggerFor(r.Context(), fallback)
			sess, ok := SessionFromContext(r.Context())
			if !ok {
				http.Error(w, "session unavailable", http.StatusInternalServerError)
				return
			}
			tokens := sess.Tokens()
			client, created, err := clients.Get(r.Context(), sess.ID(), registry.Credentials{
				AccessToken:  tokens.Access,
				RefreshToken: tokens.Refresh,
			})
			if errors.Is(err, registry.ErrRevoked) {
				// A cookie replayed after sign-out: drop its credentials and start over.
				logger.Info("revoked session presented; starting a new one")
				sess.SignOut()
				sess.Renew()
				tokens = appsession.Tokens{}
				client, created, err = clients.Get(r.Context(), sess.ID(), registry.Credentials{})
			}
			if err != nil {
				logger.Error("auth client unavailable", zap.Error(err))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
				return
			}
			if created {
				logger.Debug("auth client restored", zap.Bool("with_credentials", tokens.Access != ""))
			} else if err := client.Cache().Sync(r.Context()); err != nil {
				// the source signs out locally when a refresh is rejected
				logger.Warn("session sync failed", zap.Error(err))
			}

			BeforeSave(r.Context(), func(s *appsession.Session) {
				syncSession(s, client.Service().State())
			})

			ctx := context.WithValue(r.Context(), clientContextKey{}, client)
			if state := client.Service().State(); state.Session != nil {
				ctx = observability.WithLogger(ctx, logger.With(zap.String("user_id", state.Session.UserID())))
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func syncSession(s *appsession.Session, state auth.State) {
	if s.Destroyed() || state.Loading {
		return
	}
	if state.Session == nil {
		if s.User() != nil || s.Tokens() != (appsession.Tokens{}) {
			s.SignOut()
		}
		return
	}
	s.SetTokens(appsession.Tokens{Access: state.Session.AccessToken, Refresh: state.Session.RefreshToken})
	user := &appsession.User{
		ID:    state.Session.UserID(),
		Email: state.Session.User.Email,
		Name:  state.Session.MetadataString(auth.MetadataFullName),
		Role:  state.Session.MetadataString(auth.MetadataRole),
	}
	if p := state.Profile; p != nil && p.ID == user.ID {
		if p.FullName != "" {
			user.Name = p.FullName
		}
		if p.RawRole != "" {
			user.Role = p.RawRole
		}
	}
	s.SetUser(user)
}

// ClientFromContext returns the auth client attached by Principal.
func ClientFromContext(ctx context.Context) (*registry.Client, bool) {
	client, ok := ctx.Value(clientContextKey{}).(*registry.Client)
	return client, ok && client != nil
}

// DecisionFromContext returns the authorising guard decision attached by RequireRole.
func DecisionFromContext(ctx context.Context) (auth.Decision, bool) {
	decision, ok := ctx.Value(decisionContextKey{}).(auth.Decision)
	return decision, ok
}

type navigation struct {
	target string
}

func (n *navigation) Navigate(path string, _ auth.NavigateOptions) {
	n.target = path
}

// RequireRole gates the route with the client's guard registered under name. Guards are
// memoised per browser so the bounded re-fetch budget spans requests. checking renders the
// holding page while the session is still resolving.
func RequireRole(name string, opts auth.GuardOptions, checking http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client, ok := ClientFromContext(r.Context())
			if !ok {
				http.Error(w, "auth client unavailable", http.StatusInternalServerError)
				return
			}
			nav := &navigation{}
			decision := client.Guard(name, opts).Enforce(r.Context(), nav)
			switch {
			case nav.target != "":
				observability.FromContext(r.Context()).Debug("guard redirect",
					zap.String("guard", name),
					zap.String("status", decision.Status.String()),
					zap.String("target", nav.target),
				)
				Redirect(w, r, nav.target)
			case decision.Status == auth.GuardChecking:
				if checking == nil {
					w.WriteHeader(http.StatusAccepted)
					return
				}
				checking.ServeHTTP(w, r)
			case decision.Status == auth.GuardAuthorized:
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), decisionContextKey{}, decision)))
			default:
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			}
		})
	}
}
