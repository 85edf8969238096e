package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseEnv() map[string]string {
	return map[string]string{
		"CONSOLE_SUPABASE_URL":      "https://project.supabase.co",
		"CONSOLE_SUPABASE_ANON_KEY": "anon",
	}
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(baseEnv()))
	require.NoError(t, err)

	require.Equal(t, "local", cfg.Environment)
	require.True(t, cfg.IsLocal())
	require.Equal(t, ":8080", cfg.Server.Address)
	require.Equal(t, BackendPostgREST, cfg.Backend)
	require.Equal(t, "get_current_user_role", cfg.Identity.RoleFunction)
	require.Equal(t, 3, cfg.Auth.MaxAttempts)
	require.False(t, cfg.Auth.SignUpEnabled)
	require.Equal(t, "/company-setup", cfg.Auth.CompanySetup)
	require.Equal(t, 30*time.Minute, cfg.Session.IdleTimeout)
	require.False(t, cfg.Session.Secure)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestLoadOverridesAndDotEnv(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	content := "# local overrides\nexport CONSOLE_HTTP_ADDR=:9090\nCONSOLE_AUTH_MAX_ATTEMPTS='5'\nCONSOLE_SUPABASE_URL=https://dotenv.supabase.co\n"
	require.NoError(t, os.WriteFile(envFile, []byte(content), 0o600))

	env := baseEnv()
	env["CONSOLE_SESSION_IDLE_TIMEOUT"] = "45m"
	env["CONSOLE_ROUTE_LOGIN"] = "/entrar"
	env["CONSOLE_LOG_LEVEL"] = "DEBUG"

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(envFile), WithEnvMap(env))
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Server.Address)
	require.Equal(t, 5, cfg.Auth.MaxAttempts)
	// the explicit map wins over the .env file
	require.Equal(t, "https://project.supabase.co", cfg.Identity.URL)
	require.Equal(t, 45*time.Minute, cfg.Session.IdleTimeout)
	require.Equal(t, "/entrar", cfg.Auth.LoginPath)
	require.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFirestoreBackend(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"CONSOLE_BACKEND":             "firestore",
		"CONSOLE_SUPABASE_URL":        "https://project.supabase.co",
		"CONSOLE_FIREBASE_PROJECT_ID": "vistoria-dev",
	}
	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	require.NoError(t, err)
	require.Equal(t, "vistoria-dev", cfg.Firestore.ProjectID)
	require.Equal(t, "profiles", cfg.Firestore.ProfilesCollection)
}

func TestLoadValidation(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"CONSOLE_ENVIRONMENT":       "prod",
		"CONSOLE_BACKEND":           "mysql",
		"CONSOLE_AUTH_MAX_ATTEMPTS": "0",
	}
	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	var validation *ValidationError
	require.ErrorAs(t, err, &validation)
	require.ElementsMatch(t, []string{"Backend", "Session.HashKey", "Auth.MaxAttempts"}, validation.Fields())
}

func TestLoadResolvesSecretReferences(t *testing.T) {
	t.Parallel()

	env := baseEnv()
	env["CONSOLE_SUPABASE_ANON_KEY"] = "sm://supabase-anon-key"
	env["CONSOLE_SESSION_HASH_KEY"] = "secret://session-hash?version=2"

	var refs []string
	resolver := SecretResolverFunc(func(_ context.Context, ref string) (string, error) {
		refs = append(refs, ref)
		return " resolved-" + ref + " ", nil
	})

	cfg, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env), WithSecretResolver(resolver))
	require.NoError(t, err)
	require.Equal(t, "resolved-secret://supabase-anon-key", cfg.Identity.AnonKey)
	require.Equal(t, "resolved-secret://session-hash?version=2", cfg.Session.HashKey)
	require.Equal(t, []string{"secret://supabase-anon-key", "secret://session-hash?version=2"}, refs)
}

func TestLoadSecretFailures(t *testing.T) {
	t.Parallel()

	env := baseEnv()
	env["CONSOLE_SUPABASE_JWT_SECRET"] = "secret://jwt"

	_, err := Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env))
	var secretErr *SecretError
	require.ErrorAs(t, err, &secretErr)
	require.ErrorIs(t, err, errSecretResolverNotConfigured)
	require.Equal(t, "secret://jwt", secretErr.Ref)

	boom := errors.New("permission denied")
	_, err = Load(context.Background(), WithoutSystemEnv(), WithEnvFile(""), WithEnvMap(env),
		WithSecretResolver(SecretResolverFunc(func(context.Context, string) (string, error) { return "", boom })))
	require.ErrorIs(t, err, boom)
}
