package config

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultEnvFile          = ".env"
	defaultAddress          = ":8080"
	defaultReadTimeout      = 15 * time.Second
	defaultWriteTimeout     = 30 * time.Second
	defaultIdleTimeout      = 120 * time.Second
	defaultShutdownTimeout  = 10 * time.Second
	defaultEnvironment      = "local"
	defaultBackend          = BackendPostgREST
	defaultRoleFunction     = "get_current_user_role"
	defaultRequestTimeout   = 10 * time.Second
	defaultProfiles         = "profiles"
	defaultCompanies        = "companies"
	defaultCookieName       = "__Host-vistoria_session"
	defaultSessionIdle      = 30 * time.Minute
	defaultSessionLifetime  = 12 * time.Hour
	defaultSessionRemember  = 30 * 24 * time.Hour
	defaultMaxAttempts      = 3
	defaultRegistrySize     = 1024
	defaultLogLevel         = "info"
	minimumSessionKeyLength = 32
)

// Backend kinds accepted by BACKEND.
const (
	BackendPostgREST = "postgrest"
	BackendFirestore = "firestore"
)

// Config captures all runtime configuration organised by concern.
type Config struct {
	Environment string
	Server      ServerConfig
	Backend     string
	Identity    IdentityConfig
	Firebase    FirebaseConfig
	Firestore   FirestoreConfig
	Session     SessionConfig
	Auth        AuthConfig
	Registry    RegistryConfig
	Log         LogConfig
}

// ServerConfig configures HTTP server parameters.
type ServerConfig struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// IdentityConfig points at the hosted identity and relational APIs.
type IdentityConfig struct {
	URL            string
	AnonKey        string
	JWTSecret      string
	RoleFunction   string
	RequestTimeout time.Duration
}

// FirebaseConfig stores Firebase project settings.
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
}

// FirestoreConfig stores database parameters.
type FirestoreConfig struct {
	ProjectID           string
	EmulatorHost        string
	ProfilesCollection  string
	CompaniesCollection string
}

// SessionConfig controls the browser session cookie.
type SessionConfig struct {
	CookieName       string
	HashKey          string
	BlockKey         string
	Secure           bool
	IdleTimeout      time.Duration
	Lifetime         time.Duration
	RememberLifetime time.Duration
}

// AuthConfig tunes the guard and the landing routes.
type AuthConfig struct {
	MaxAttempts        int
	SignUpEnabled      bool
	LoginPath          string
	MasterDashboard    string
	AdminDashboard     string
	CompanySetup       string
	InspectorDashboard string
}

// RegistryConfig bounds the per-browser client registry.
type RegistryConfig struct {
	Size int
}

// LogConfig selects the log level.
type LogConfig struct {
	Level string
}

// IsLocal reports whether the process runs in a developer environment.
func (c Config) IsLocal() bool {
	return c.Environment == defaultEnvironment || c.Environment == "dev" || c.Environment == "test"
}

// SecretResolver resolves references to external secrets (e.g. Secret Manager URIs).
type SecretResolver interface {
	ResolveSecret(ctx context.Context, ref string) (string, error)
}

// SecretResolverFunc adapts ordinary functions to SecretResolver.
type SecretResolverFunc func(context.Context, string) (string, error)

// ResolveSecret resolves the secret using the wrapped function.
func (f SecretResolverFunc) ResolveSecret(ctx context.Context, ref string) (string, error) {
	return f(ctx, ref)
}

// ValidationError is returned when required configuration fields are missing or invalid.
type ValidationError struct {
	fields []string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed: missing or invalid fields [%s]", strings.Join(e.fields, ", "))
}

// Fields returns a copy of the missing/invalid field list.
func (e *ValidationError) Fields() []string {
	out := make([]string, len(e.fields))
	copy(out, e.fields)
	return out
}

// SecretError describes failures while resolving a secret reference.
type SecretError struct {
	Ref string
	Err error
}

// Error implements the error interface.
func (e *SecretError) Error() string {
	return fmt.Sprintf("secret resolution failed for ref %q: %v", e.Ref, e.Err)
}

// Unwrap exposes the underlying error.
func (e *SecretError) Unwrap() error { return e.Err }

var errSecretResolverNotConfigured = errors.New("secret resolver not configured")

// Option customises Load behaviour.
type Option func(*loaderOptions)

type loaderOptions struct {
	envFile      string
	envMap       map[string]string
	useSystemEnv bool
	secret       SecretResolver
}

// WithEnvFile overrides the .env file path used for local overrides.
func WithEnvFile(path string) Option {
	return func(o *loaderOptions) {
		o.envFile = path
	}
}

// WithEnvMap injects an explicit key/value map for environment lookups. Values in the map
// take precedence over system environment variables.
func WithEnvMap(values map[string]string) Option {
	return func(o *loaderOptions) {
		o.envMap = values
	}
}

// WithoutSystemEnv disables reading from os.Getenv, relying only on provided maps and .env files.
func WithoutSystemEnv() Option {
	return func(o *loaderOptions) {
		o.useSystemEnv = false
	}
}

// WithSecretResolver sets the resolver used for secret:// and sm:// references.
func WithSecretResolver(resolver SecretResolver) Option {
	return func(o *loaderOptions) {
		o.secret = resolver
	}
}

// Load assembles the console configuration from defaults, .env overrides, environment
// variables and secret references.
func Load(ctx context.Context, opts ...Option) (Config, error) {
	options := loaderOptions{
		envFile:      defaultEnvFile,
		useSystemEnv: true,
	}
	for _, opt := range opts {
		opt(&options)
	}

	dotEnvValues, err := loadDotEnv(options.envFile)
	if err != nil {
		return Config{}, err
	}

	lookup := func(key string) (string, bool) {
		if options.envMap != nil {
			if value, ok := options.envMap[key]; ok {
				return value, true
			}
		}
		if options.useSystemEnv {
			if value, ok := os.LookupEnv(key); ok {
				return value, true
			}
		}
		if dotEnvValues != nil {
			if value, ok := dotEnvValues[key]; ok {
				return value, true
			}
		}
		return "", false
	}

	env := strings.ToLower(stringWithDefault(lookup, "CONSOLE_ENVIRONMENT", defaultEnvironment))
	cfg := Config{
		Environment: env,
		Server: ServerConfig{
			Address:         stringWithDefault(lookup, "CONSOLE_HTTP_ADDR", defaultAddress),
			ReadTimeout:     durationWithDefault(lookup, "CONSOLE_HTTP_READ_TIMEOUT", defaultReadTimeout),
			WriteTimeout:    durationWithDefault(lookup, "CONSOLE_HTTP_WRITE_TIMEOUT", defaultWriteTimeout),
			IdleTimeout:     durationWithDefault(lookup, "CONSOLE_HTTP_IDLE_TIMEOUT", defaultIdleTimeout),
			ShutdownTimeout: durationWithDefault(lookup, "CONSOLE_HTTP_SHUTDOWN_TIMEOUT", defaultShutdownTimeout),
		},
		Backend: strings.ToLower(stringWithDefault(lookup, "CONSOLE_BACKEND", defaultBackend)),
		Identity: IdentityConfig{
			URL:            stringWithDefault(lookup, "CONSOLE_SUPABASE_URL", ""),
			AnonKey:        stringWithDefault(lookup, "CONSOLE_SUPABASE_ANON_KEY", ""),
			JWTSecret:      stringWithDefault(lookup, "CONSOLE_SUPABASE_JWT_SECRET", ""),
			RoleFunction:   stringWithDefault(lookup, "CONSOLE_ROLE_FUNCTION", defaultRoleFunction),
			RequestTimeout: durationWithDefault(lookup, "CONSOLE_BACKEND_TIMEOUT", defaultRequestTimeout),
		},
		Firebase: FirebaseConfig{
			ProjectID:       stringWithDefault(lookup, "CONSOLE_FIREBASE_PROJECT_ID", ""),
			CredentialsFile: stringWithDefault(lookup, "CONSOLE_FIREBASE_CREDENTIALS_FILE", ""),
		},
		Firestore: FirestoreConfig{
			ProjectID:           stringWithDefault(lookup, "CONSOLE_FIRESTORE_PROJECT_ID", ""),
			EmulatorHost:        stringWithDefault(lookup, "CONSOLE_FIRESTORE_EMULATOR_HOST", ""),
			ProfilesCollection:  stringWithDefault(lookup, "CONSOLE_FIRESTORE_PROFILES", defaultProfiles),
			CompaniesCollection: stringWithDefault(lookup, "CONSOLE_FIRESTORE_COMPANIES", defaultCompanies),
		},
		Session: SessionConfig{
			CookieName:       stringWithDefault(lookup, "CONSOLE_SESSION_COOKIE", defaultCookieName),
			HashKey:          stringWithDefault(lookup, "CONSOLE_SESSION_HASH_KEY", ""),
			BlockKey:         stringWithDefault(lookup, "CONSOLE_SESSION_BLOCK_KEY", ""),
			Secure:           boolWithDefault(lookup, "CONSOLE_SESSION_SECURE", env != defaultEnvironment),
			IdleTimeout:      durationWithDefault(lookup, "CONSOLE_SESSION_IDLE_TIMEOUT", defaultSessionIdle),
			Lifetime:         durationWithDefault(lookup, "CONSOLE_SESSION_LIFETIME", defaultSessionLifetime),
			RememberLifetime: durationWithDefault(lookup, "CONSOLE_SESSION_REMEMBER_LIFETIME", defaultSessionRemember),
		},
		Auth: AuthConfig{
			MaxAttempts:        intWithDefault(lookup, "CONSOLE_AUTH_MAX_ATTEMPTS", defaultMaxAttempts),
			SignUpEnabled:      boolWithDefault(lookup, "CONSOLE_AUTH_SIGNUP_ENABLED", false),
			LoginPath:          stringWithDefault(lookup, "CONSOLE_ROUTE_LOGIN", "/login"),
			MasterDashboard:    stringWithDefault(lookup, "CONSOLE_ROUTE_MASTER_DASHBOARD", "/master/dashboard"),
			AdminDashboard:     stringWithDefault(lookup, "CONSOLE_ROUTE_ADMIN_DASHBOARD", "/admin/dashboard"),
			CompanySetup:       stringWithDefault(lookup, "CONSOLE_ROUTE_COMPANY_SETUP", "/company-setup"),
			InspectorDashboard: stringWithDefault(lookup, "CONSOLE_ROUTE_INSPECTOR_DASHBOARD", "/inspector/dashboard"),
		},
		Registry: RegistryConfig{
			Size: intWithDefault(lookup, "CONSOLE_REGISTRY_SIZE", defaultRegistrySize),
		},
		Log: LogConfig{
			Level: strings.ToLower(stringWithDefault(lookup, "CONSOLE_LOG_LEVEL", defaultLogLevel)),
		},
	}

	// Firestore project defaults to Firebase project when unspecified.
	if cfg.Firestore.ProjectID == "" {
		cfg.Firestore.ProjectID = cfg.Firebase.ProjectID
	}

	secretFields := []*string{
		&cfg.Identity.AnonKey,
		&cfg.Identity.JWTSecret,
		&cfg.Session.HashKey,
		&cfg.Session.BlockKey,
	}
	for _, field := range secretFields {
		resolved, err := resolveSecret(ctx, *field, options.secret)
		if err != nil {
			return Config{}, err
		}
		*field = resolved
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveSecret(ctx context.Context, value string, resolver SecretResolver) (string, error) {
	if value == "" || !isSecretReference(value) {
		return value, nil
	}
	normalized := normalizeSecretReference(value)
	if resolver == nil {
		return "", &SecretError{Ref: normalized, Err: errSecretResolverNotConfigured}
	}
	secret, err := resolver.ResolveSecret(ctx, normalized)
	if err != nil {
		return "", &SecretError{Ref: normalized, Err: err}
	}
	return strings.TrimSpace(secret), nil
}

func validateConfig(cfg Config) error {
	var missing []string

	if cfg.Server.Address == "" {
		missing = append(missing, "Server.Address")
	}
	switch cfg.Backend {
	case BackendPostgREST:
		if cfg.Identity.URL == "" {
			missing = append(missing, "Identity.URL")
		}
		if cfg.Identity.AnonKey == "" {
			missing = append(missing, "Identity.AnonKey")
		}
	case BackendFirestore:
		if cfg.Identity.URL == "" {
			missing = append(missing, "Identity.URL")
		}
		if cfg.Firestore.ProjectID == "" {
			missing = append(missing, "Firestore.ProjectID")
		}
	default:
		missing = append(missing, "Backend")
	}
	if !cfg.IsLocal() && len(cfg.Session.HashKey) < minimumSessionKeyLength {
		missing = append(missing, "Session.HashKey")
	}
	if cfg.Session.IdleTimeout <= 0 {
		missing = append(missing, "Session.IdleTimeout")
	}
	if cfg.Session.Lifetime <= 0 {
		missing = append(missing, "Session.Lifetime")
	}
	if cfg.Auth.MaxAttempts <= 0 {
		missing = append(missing, "Auth.MaxAttempts")
	}
	if cfg.Registry.Size <= 0 {
		missing = append(missing, "Registry.Size")
	}

	if len(missing) > 0 {
		return &ValidationError{fields: missing}
	}
	return nil
}

func isSecretReference(value string) bool {
	trimmed := strings.TrimSpace(value)
	return strings.HasPrefix(trimmed, "secret://") || strings.HasPrefix(trimmed, "sm://")
}

func normalizeSecretReference(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "sm://") {
		return "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	return trimmed
}

func loadDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		absPath = path
	}

	file, err := os.Open(absPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: unable to read %s: %w", absPath, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	values := make(map[string]string)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if key == "" {
			continue
		}
		values[key] = strings.Trim(strings.TrimSpace(value), "\"'")
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: failed parsing %s: %w", absPath, err)
	}
	return values, nil
}

func stringWithDefault(lookup func(string) (string, bool), key, fallback string) string {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		return strings.TrimSpace(value)
	}
	return fallback
}

func durationWithDefault(lookup func(string) (string, bool), key string, fallback time.Duration) time.Duration {
	if value, ok := lookup(key); ok && value != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(value)); err == nil {
			return d
		}
	}
	return fallback
}

func intWithDefault(lookup func(string) (string, bool), key string, fallback int) int {
	if value, ok := lookup(key); ok && value != "" {
		if parsed, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return parsed
		}
	}
	return fallback
}

func boolWithDefault(lookup func(string) (string, bool), key string, fallback bool) bool {
	if value, ok := lookup(key); ok && value != "" {
		switch strings.ToLower(strings.TrimSpace(value)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
	}
	return fallback
}
