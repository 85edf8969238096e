package httpserver

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	custommw "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/httpserver/middleware"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/templates"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/observability"
)

// Clients is the per-browser auth client registry.
type Clients interface {
	custommw.ClientRegistry
	// Rekey moves a client to a renewed session id.
	Rekey(from, to string) bool
	// Revoke drops a signed-out session id for good.
	Revoke(sessionID string)
}

// Config holds runtime options for the console HTTP server.
type Config struct {
	Address  string
	Sessions custommw.SessionStore
	Clients  Clients
	Routes   auth.Routes
	// SignUpEnabled exposes the self-service registration form.
	SignUpEnabled  bool
	Logger         *zap.Logger
	RequestTimeout time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// New constructs the HTTP server with the middleware stack and console routes.
func New(cfg Config) *http.Server {
	return &http.Server{
		Addr:         cfg.Address,
		Handler:      NewHandler(cfg),
		ReadTimeout:  durationOr(cfg.ReadTimeout, 10*time.Second),
		WriteTimeout: durationOr(cfg.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(cfg.IdleTimeout, 60*time.Second),
	}
}

// NewHandler builds the router without binding it to a listener.
func NewHandler(cfg Config) http.Handler {
	if cfg.Sessions == nil || cfg.Clients == nil {
		panic("httpserver: session store and client registry are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	routes := auth.NewRedirectPolicy(cfg.Routes).Routes()

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(observability.Tracing("console"))
	router.Use(observability.RequestLogger(logger))
	router.Use(chimw.Recoverer)
	router.Use(chimw.Timeout(durationOr(cfg.RequestTimeout, 60*time.Second)))

	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})

	h := &handlers{
		routes:        routes,
		clients:       cfg.Clients,
		signUpEnabled: cfg.SignUpEnabled,
	}
	// Guards take their attempt budget from the client they are memoised on.
	guard := func(name string, opts auth.GuardOptions) func(http.Handler) http.Handler {
		return custommw.RequireRole(name, opts, http.HandlerFunc(h.checking))
	}

	router.Group(func(r chi.Router) {
		r.Use(custommw.HTMX())
		r.Use(custommw.NoStore())
		r.Use(custommw.Session(cfg.Sessions, logger))
		r.Use(custommw.CSRF())
		r.Use(custommw.Principal(cfg.Clients, logger))

		r.Get("/", h.root)
		r.Get(routes.Login, h.loginForm)
		r.Post(routes.Login, h.loginSubmit)
		r.Post("/logout", h.logout)
		if cfg.SignUpEnabled {
			r.Get("/signup", h.signUpForm)
			r.Post("/signup", h.signUpSubmit)
		}
		r.Get("/me", h.me)

		r.Group(func(r chi.Router) {
			r.Use(guard("company-setup", auth.GuardOptions{
				Required:             auth.Roles{auth.RoleAdminTenant},
				AllowIncompleteSetup: true,
			}))
			r.Get(routes.CompanySetup, h.companySetupForm)
			r.Post(routes.CompanySetup, h.companySetupSubmit)
		})
		r.With(guard("master", auth.GuardOptions{Required: auth.Roles{auth.RoleAdminMaster}})).
			Get(routes.MasterDashboard, h.dashboard)
		r.With(guard("admin", auth.GuardOptions{Required: auth.Roles{auth.RoleAdminTenant}})).
			Get(routes.AdminDashboard, h.dashboard)
		r.With(guard("inspector", auth.GuardOptions{Required: auth.Roles{auth.RoleInspector}})).
			Get(routes.InspectorDashboard, h.dashboard)
		r.Group(func(r chi.Router) {
			r.Use(guard("profile", auth.GuardOptions{AllowIncompleteSetup: true}))
			r.Get("/profile", h.profileForm)
			r.Post("/profile", h.profileSubmit)
		})
	})

	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		renderPage(w, r, http.StatusNotFound, templates.LayoutData{Title: "Página não encontrada"},
			templates.ErrorPage("Página não encontrada", "O endereço acessado não existe."))
	})

	return router
}

func durationOr(value, fallback time.Duration) time.Duration {
	if value > 0 {
		return value
	}
	return fallback
}
