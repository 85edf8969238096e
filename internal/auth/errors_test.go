package auth

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoginMessage(t *testing.T) {
	t.Parallel()

	require.Empty(t, LoginMessage(nil))
	require.Equal(t, "E-mail ou senha inválidos.", LoginMessage(fmt.Errorf("wrap: %w", ErrInvalidCredentials)))
	require.Equal(t, "Confirme seu e-mail antes de entrar.", LoginMessage(ErrEmailNotConfirmed))
	require.Equal(t, "Este e-mail já está cadastrado.", LoginMessage(ErrUserAlreadyRegistered))
	require.Equal(t, "Serviço de autenticação indisponível. Tente novamente em instantes.",
		LoginMessage(&BackendError{Op: "gotrue.token", Status: http.StatusBadGateway}))
	require.Equal(t, "Não foi possível entrar. Tente novamente.", LoginMessage(errors.New("boom")))
}

func TestBackendError(t *testing.T) {
	t.Parallel()

	cause := errors.New("dial tcp: refused")
	err := &BackendError{Op: "postgrest.get_profile", Err: cause}
	require.ErrorIs(t, err, cause)
	require.True(t, err.Temporary())
	require.Contains(t, err.Error(), "postgrest.get_profile")

	forbidden := &BackendError{Op: "postgrest.get_profile", Status: http.StatusForbidden, Code: "42501", Message: "permission denied"}
	require.True(t, forbidden.Forbidden())
	require.False(t, forbidden.Temporary())
	require.Equal(t, "postgrest.get_profile: 403 (42501) permission denied", forbidden.Error())
}
