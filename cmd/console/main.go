package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/httpserver"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/registry"
	appsession "github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/admin/session"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/backend/firestore"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/backend/gotrue"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/backend/postgrest"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/config"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/observability"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/platform/secrets"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "console: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	bootLogger, err := observability.NewLogger(os.Getenv("CONSOLE_LOG_LEVEL"))
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	resolver := secrets.New(ctx, []secrets.Option{
		secrets.WithLogger(bootLogger),
		secrets.WithProject(firstNonEmpty(os.Getenv("CONSOLE_SECRETS_PROJECT_ID"), os.Getenv("CONSOLE_FIREBASE_PROJECT_ID"))),
	})
	defer func() { _ = resolver.Close() }()

	cfg, err := config.Load(ctx, config.WithSecretResolver(resolver))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	logger = logger.With(zap.String("environment", cfg.Environment))

	profiles, companies, closeBackend, err := buildStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBackend()

	// A replayed cookie stays dangerous for as long as the cookie itself could live.
	clients, err := registry.New(cfg.Registry.Size, newClientFactory(cfg, profiles, companies, logger), logger,
		registry.WithRevocationTTL(cfg.Session.RememberLifetime),
	)
	if err != nil {
		return fmt.Errorf("client registry: %w", err)
	}
	defer clients.Close()

	sessions, err := appsession.NewManager(appsession.Config{
		CookieName:       cfg.Session.CookieName,
		HashKey:          []byte(cfg.Session.HashKey),
		BlockKey:         []byte(cfg.Session.BlockKey),
		CookiePath:       "/",
		CookieSecure:     cfg.Session.Secure,
		CookieSameSite:   http.SameSiteLaxMode,
		IdleTimeout:      cfg.Session.IdleTimeout,
		Lifetime:         cfg.Session.Lifetime,
		RememberLifetime: cfg.Session.RememberLifetime,
	})
	if err != nil {
		return fmt.Errorf("session manager: %w", err)
	}

	srv := httpserver.New(httpserver.Config{
		Address:       cfg.Server.Address,
		Sessions:      sessions,
		Clients:       clients,
		Routes:        routesFrom(cfg.Auth),
		SignUpEnabled: cfg.Auth.SignUpEnabled,
		Logger:        logger,
		ReadTimeout:   cfg.Server.ReadTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		IdleTimeout:   cfg.Server.IdleTimeout,
	})

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	logger.Info("console listening", zap.String("addr", cfg.Server.Address), zap.String("backend", cfg.Backend))

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	logger.Info("console stopped")
	return nil
}

// buildStores selects the profile backend. The returned closer is always safe to call.
func buildStores(ctx context.Context, cfg config.Config, logger *zap.Logger) (auth.ProfileStore, auth.CompanyStore, func(), error) {
	switch cfg.Backend {
	case config.BackendFirestore:
		var clientOpts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.Firebase.ProjectID}, clientOpts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init firebase app: %w", err)
		}
		users, err := app.Auth(ctx)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init firebase auth: %w", err)
		}

		provider := firestore.NewProvider(cfg.Firestore, firestore.WithClientOptions(clientOpts...))
		store := firestore.NewStore(provider, cfg.Firestore.ProfilesCollection, cfg.Firestore.CompaniesCollection,
			firestore.WithRoleReader(firestore.NewClaimsRoleReader(users)),
			firestore.WithLogger(logger.Named("firestore")),
		)
		logger.Info("firestore profile store enabled", zap.String("project", cfg.Firestore.ProjectID))
		return store, store, func() {
			if err := provider.Close(); err != nil {
				logger.Warn("close firestore client", zap.Error(err))
			}
		}, nil
	default:
		store, err := postgrest.New(postgrest.Config{
			BaseURL:      cfg.Identity.URL,
			AnonKey:      cfg.Identity.AnonKey,
			RoleFunction: cfg.Identity.RoleFunction,
			HTTPClient:   observability.HTTPClient(cfg.Identity.RequestTimeout),
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("init postgrest store: %w", err)
		}
		return store, store, func() {}, nil
	}
}

// newClientFactory builds one identity client per browser session and restores the tokens
// persisted in its cookie.
func newClientFactory(cfg config.Config, profiles auth.ProfileStore, companies auth.CompanyStore, logger *zap.Logger) registry.Factory {
	policy := auth.NewRedirectPolicy(routesFrom(cfg.Auth))
	httpClient := observability.HTTPClient(cfg.Identity.RequestTimeout)

	return func(ctx context.Context, sessionID string, creds registry.Credentials) (*registry.Client, error) {
		clientLogger := logger.With(zap.String("session_id", sessionID))
		source, err := gotrue.New(gotrue.Config{
			BaseURL:    cfg.Identity.URL,
			AnonKey:    cfg.Identity.AnonKey,
			JWTSecret:  cfg.Identity.JWTSecret,
			HTTPClient: httpClient,
			Logger:     clientLogger.Named("gotrue"),
		})
		if err != nil {
			return nil, err
		}
		if !creds.Empty() {
			if _, err := source.Restore(creds.AccessToken, creds.RefreshToken); err != nil {
				clientLogger.Info("stored credentials rejected; starting signed out", zap.Error(err))
			}
		}

		client := registry.NewClient(sessionID, registry.ClientConfig{
			Source:      source,
			Profiles:    profiles,
			Companies:   companies,
			Policy:      policy,
			MaxAttempts: cfg.Auth.MaxAttempts,
			Logger:      clientLogger,
		})
		client.Cache().Initialize(ctx)
		return client, nil
	}
}

func routesFrom(cfg config.AuthConfig) auth.Routes {
	return auth.Routes{
		Login:              cfg.LoginPath,
		MasterDashboard:    cfg.MasterDashboard,
		AdminDashboard:     cfg.AdminDashboard,
		CompanySetup:       cfg.CompanySetup,
		InspectorDashboard: cfg.InspectorDashboard,
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
