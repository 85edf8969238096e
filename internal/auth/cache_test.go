package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth/authtest"
)

func TestCacheInitializeWithSession(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(authtest.NewSession("u1"))
	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleInspector})
	cache := auth.NewCache(source, store, nil)
	require.True(t, cache.Snapshot().Loading)

	var (
		mu     sync.Mutex
		states []auth.State
	)
	unsubscribe := cache.Subscribe(func(s auth.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	})
	defer unsubscribe()

	cache.Initialize(context.Background())

	state := cache.Snapshot()
	require.False(t, state.Loading)
	require.True(t, state.IsAuthenticated)
	require.Equal(t, "u1", state.Session.UserID())
	require.NotNil(t, state.Profile)
	require.Equal(t, 1, source.Listeners())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, states)
	last := states[len(states)-1]
	require.False(t, last.Loading)
	for i := 1; i < len(states); i++ {
		require.Greater(t, states[i].Version, states[i-1].Version)
	}
	for _, s := range states[:len(states)-1] {
		require.True(t, s.Loading, "loading must stay set until the initial resolution completes")
	}
}

func TestCacheInitializeFailureIsSignedOut(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(authtest.NewSession("u1"))
	source.CurrentErr = errors.New("network down")
	store := authtest.NewProfileStore()
	cache := auth.NewCache(source, store, nil)

	cache.Initialize(context.Background())

	state := cache.Snapshot()
	require.False(t, state.Loading)
	require.False(t, state.IsAuthenticated)
	require.Nil(t, state.Session)
	require.Zero(t, store.GetCalls())
}

func TestCacheInitializeIsIdempotent(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(nil)
	cache := auth.NewCache(source, authtest.NewProfileStore(), nil)
	cache.Initialize(context.Background())
	cache.Initialize(context.Background())

	require.Equal(t, 1, source.CurrentCalls())
	require.Equal(t, 1, source.Listeners())
}

func TestCacheEvents(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(nil)
	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleInspector})
	cache := auth.NewCache(source, store, nil)
	cache.Initialize(context.Background())
	require.False(t, cache.Snapshot().IsAuthenticated)

	source.Emit(auth.EventSignedIn, authtest.NewSession("u1"))
	_, err := cache.RefreshProfile(context.Background())
	require.NoError(t, err)
	require.True(t, cache.Snapshot().IsAuthenticated)
	require.NotNil(t, cache.Snapshot().Profile)

	refreshed := authtest.NewSession("u1")
	refreshed.AccessToken = "rotated"
	source.Emit(auth.EventTokenRefreshed, refreshed)
	state := cache.Snapshot()
	require.Equal(t, "rotated", state.Session.AccessToken)
	require.NotNil(t, state.Profile, "token refresh keeps the profile of the same user")

	source.Emit(auth.EventSignedIn, authtest.NewSession("u2"))
	require.Nil(t, cache.Snapshot().Profile, "a different user must not inherit the previous profile")

	source.Emit(auth.EventSignedOut, nil)
	state = cache.Snapshot()
	require.False(t, state.IsAuthenticated)
	require.Nil(t, state.Session)
	require.Nil(t, state.Profile)
	require.False(t, state.Loading)
}

func TestCacheFirstEventClearsLoading(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(nil)
	store := authtest.NewProfileStore()
	release := make(chan struct{})
	entered := make(chan struct{})
	blocking := &blockingSource{SessionSource: source, entered: entered, release: release}
	cache := auth.NewCache(blocking, store, nil)

	done := make(chan struct{})
	go func() {
		cache.Initialize(context.Background())
		close(done)
	}()

	<-entered
	require.True(t, cache.Snapshot().Loading)
	source.Emit(auth.EventSignedIn, authtest.NewSession("u1"))
	require.False(t, cache.Snapshot().Loading)
	require.True(t, cache.Snapshot().IsAuthenticated)
	close(release)
	<-done

	// The eager fetch resolved to no session but the event is newer and must win.
	require.True(t, cache.Snapshot().IsAuthenticated)
}

type blockingSource struct {
	*authtest.SessionSource
	entered chan struct{}
	release chan struct{}
}

func (b *blockingSource) CurrentSession(ctx context.Context) (*auth.Session, error) {
	close(b.entered)
	<-b.release
	return nil, nil
}

func TestCacheDiscardsStaleProfile(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(authtest.NewSession("u1"))
	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleAdminTenant})
	cache := auth.NewCache(source, store, nil)
	cache.Initialize(context.Background())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.BeforeGet = func(context.Context, string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	result := make(chan error, 1)
	go func() {
		_, err := cache.RefreshProfile(context.Background())
		result <- err
	}()

	<-entered
	source.Emit(auth.EventSignedOut, nil)
	close(release)

	require.ErrorIs(t, <-result, auth.ErrStaleSession)
	state := cache.Snapshot()
	require.Nil(t, state.Profile)
	require.False(t, state.IsAuthenticated)
}

func TestCacheDiscardsProfileAcrossReauthenticationOfSameUser(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(authtest.NewSession("u1"))
	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleInspector})
	cache := auth.NewCache(source, store, nil)
	cache.Initialize(context.Background())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.BeforeGet = func(context.Context, string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	result := make(chan error, 1)
	go func() {
		_, err := cache.RefreshProfile(context.Background())
		result <- err
	}()

	<-entered
	source.Emit(auth.EventSignedOut, nil)
	source.Emit(auth.EventSignedIn, authtest.NewSession("u1"))
	close(release)

	require.ErrorIs(t, <-result, auth.ErrStaleSession)
	state := cache.Snapshot()
	require.True(t, state.IsAuthenticated)
	require.Nil(t, state.Profile)
}

func TestCacheKeepsProfileFetchAcrossTokenRefresh(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(authtest.NewSession("u1"))
	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleInspector})
	cache := auth.NewCache(source, store, nil)
	cache.Initialize(context.Background())

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	store.BeforeGet = func(context.Context, string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	}

	result := make(chan error, 1)
	go func() {
		_, err := cache.RefreshProfile(context.Background())
		result <- err
	}()

	<-entered
	refreshed := authtest.NewSession("u1")
	refreshed.AccessToken = "rotated"
	source.Emit(auth.EventTokenRefreshed, refreshed)
	close(release)

	require.NoError(t, <-result)
	state := cache.Snapshot()
	require.Equal(t, "rotated", state.Session.AccessToken)
	require.NotNil(t, state.Profile)
}

func TestCacheSyncAppliesSilentSourceChanges(t *testing.T) {
	t.Parallel()

	source := &silentSource{SessionSource: authtest.NewSessionSource(authtest.NewSession("u1"))}
	cache := auth.NewCache(source, authtest.NewProfileStore(), nil)
	require.NoError(t, cache.Sync(context.Background()), "sync before initialisation is a no-op")
	cache.Initialize(context.Background())

	rotated := authtest.NewSession("u1")
	rotated.AccessToken = "rotated"
	source.set(rotated)
	require.NoError(t, cache.Sync(context.Background()))
	require.Equal(t, "rotated", cache.Snapshot().Session.AccessToken)

	source.set(nil)
	require.NoError(t, cache.Sync(context.Background()))
	require.False(t, cache.Snapshot().IsAuthenticated)
}

// silentSource changes its current session without emitting events.
type silentSource struct {
	*authtest.SessionSource
	mu       sync.Mutex
	current  *auth.Session
	override bool
}

func (s *silentSource) set(session *auth.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = session
	s.override = true
}

func (s *silentSource) CurrentSession(ctx context.Context) (*auth.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.override {
		return s.SessionSource.CurrentSession(ctx)
	}
	return s.current.Clone(), nil
}

func TestCacheRefreshWithoutSession(t *testing.T) {
	t.Parallel()

	cache := auth.NewCache(authtest.NewSessionSource(nil), authtest.NewProfileStore(), nil)
	cache.Initialize(context.Background())
	_, err := cache.RefreshProfile(context.Background())
	require.ErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestCacheRefreshFailureKeepsProfile(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(authtest.NewSession("u1"))
	store := authtest.NewProfileStore(&auth.Profile{ID: "u1", Role: auth.RoleInspector})
	cache := auth.NewCache(source, store, nil)
	cache.Initialize(context.Background())

	store.SetGetErr(errUnavailable)
	_, err := cache.RefreshProfile(context.Background())
	require.ErrorIs(t, err, errUnavailable)
	require.NotNil(t, cache.Snapshot().Profile)
}

func TestCacheSubscriptionLifecycle(t *testing.T) {
	t.Parallel()

	source := authtest.NewSessionSource(nil)
	cache := auth.NewCache(source, authtest.NewProfileStore(), nil)
	cache.Initialize(context.Background())

	calls := 0
	unsubscribe := cache.Subscribe(func(auth.State) { calls++ })
	require.Equal(t, 1, cache.Observers())

	source.Emit(auth.EventSignedIn, authtest.NewSession("u1"))
	require.Equal(t, 1, calls)

	unsubscribe()
	unsubscribe()
	require.Zero(t, cache.Observers())
	source.Emit(auth.EventSignedOut, nil)
	require.Equal(t, 1, calls)

	cache.Subscribe(func(auth.State) { calls++ })
	cache.Close()
	require.Zero(t, source.Listeners())
	require.Zero(t, cache.Observers())
	source.Emit(auth.EventSignedIn, authtest.NewSession("u1"))
	require.Equal(t, 1, calls)
}
