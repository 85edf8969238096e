package secrets

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type fakeAccessor struct {
	mu     sync.Mutex
	values map[string]string
	errs   map[string]error
	calls  map[string]int
}

func newFakeAccessor() *fakeAccessor {
	return &fakeAccessor{values: map[string]string{}, errs: map[string]error{}, calls: map[string]int{}}
}

func (f *fakeAccessor) AccessSecretVersion(_ context.Context, req *secretmanagerpb.AccessSecretVersionRequest, _ ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[req.GetName()]++
	if err, ok := f.errs[req.GetName()]; ok {
		return nil, err
	}
	value, ok := f.values[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "missing")
	}
	return &secretmanagerpb.AccessSecretVersionResponse{Payload: &secretmanagerpb.SecretPayload{Data: []byte(value)}}, nil
}

func (f *fakeAccessor) Close() error { return nil }

func (f *fakeAccessor) count(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[name]
}

func TestResolveSecretCachesRemoteValue(t *testing.T) {
	t.Parallel()

	client := newFakeAccessor()
	resource := "projects/vistoria/secrets/session-hash/versions/latest"
	client.values[resource] = "hash-key"

	r := New(context.Background(), []Option{WithClient(client), WithProject("vistoria"), WithLocalFile("")})
	t.Cleanup(func() { _ = r.Close() })

	for i := 0; i < 2; i++ {
		got, err := r.ResolveSecret(context.Background(), "secret://session-hash")
		require.NoError(t, err)
		require.Equal(t, "hash-key", got)
	}
	require.Equal(t, 1, client.count(resource))
}

func TestResolveSecretHonoursVersionAndProject(t *testing.T) {
	t.Parallel()

	client := newFakeAccessor()
	resource := "projects/other/secrets/anon-key/versions/3"
	client.values[resource] = "pinned"

	r := New(context.Background(), []Option{WithClient(client), WithProject("vistoria"), WithLocalFile("")})
	got, err := r.ResolveSecret(context.Background(), "sm://anon-key?version=3&project=other")
	require.NoError(t, err)
	require.Equal(t, "pinned", got)
}

func TestResolveSecretFallsBackToLocalFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), ".secrets.local")
	require.NoError(t, os.WriteFile(path, []byte("# dev keys\nsecret://session-hash=local-hash\nanon-key = local-anon\n"), 0o600))

	client := newFakeAccessor()
	client.errs["projects/vistoria/secrets/session-hash/versions/latest"] = status.Error(codes.PermissionDenied, "denied")

	r := New(context.Background(), []Option{WithClient(client), WithProject("vistoria"), WithLocalFile(path)})
	got, err := r.ResolveSecret(context.Background(), "secret://session-hash")
	require.NoError(t, err)
	require.Equal(t, "local-hash", got)

	// no project configured: local file only
	offline := New(context.Background(), []Option{WithLocalFile(path)})
	got, err = offline.ResolveSecret(context.Background(), "secret://anon-key")
	require.NoError(t, err)
	require.Equal(t, "local-anon", got)

	_, err = offline.ResolveSecret(context.Background(), "secret://missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestResolveSecretPropagatesHardErrors(t *testing.T) {
	t.Parallel()

	client := newFakeAccessor()
	client.errs["projects/vistoria/secrets/jwt/versions/latest"] = status.Error(codes.InvalidArgument, "bad name")

	r := New(context.Background(), []Option{WithClient(client), WithProject("vistoria"), WithLocalFile("")})
	_, err := r.ResolveSecret(context.Background(), "secret://jwt")
	require.Error(t, err)
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = r.ResolveSecret(context.Background(), "https://jwt")
	require.ErrorContains(t, err, "unsupported scheme")
}
