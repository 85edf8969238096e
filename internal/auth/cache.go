package auth

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// State is what the client currently believes about the signed-in principal.
type State struct {
	Session         *Session
	Profile         *Profile
	Loading         bool
	IsAuthenticated bool
	// Version increases with every transition so observers can drop out-of-order deliveries.
	Version uint64
}

// Cache is the single owner of session state for one principal. It is kept current by
// the SessionSource subscription and by explicit profile refreshes.
type Cache struct {
	source   SessionSource
	profiles ProfileStore
	logger   *zap.Logger

	mu          sync.Mutex
	state       State
	resolved    bool
	initialized bool
	closed      bool
	eventSeq    uint64
	// generation changes whenever a different session takes over, including a sign-out
	// followed by a sign-in of the same user. Token refreshes keep it.
	generation  uint64
	unsubscribe func()

	observers    map[uint64]func(State)
	nextObserver uint64
}

// NewCache constructs a Cache bound to the provided collaborators. Initialize must be
// called before the state is meaningful.
func NewCache(source SessionSource, profiles ProfileStore, logger *zap.Logger) *Cache {
	if source == nil {
		panic("auth: session source is required")
	}
	if profiles == nil {
		panic("auth: profile store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{
		source:    source,
		profiles:  profiles,
		logger:    logger,
		state:     State{Loading: true},
		observers: make(map[uint64]func(State)),
	}
}

// Initialize subscribes to session changes, fetches the current session once and loads the
// profile when a session exists. Loading is cleared once this resolution completes, whether
// it succeeded or not. Subsequent calls are no-ops.
func (c *Cache) Initialize(ctx context.Context) {
	c.mu.Lock()
	if c.initialized || c.closed {
		c.mu.Unlock()
		return
	}
	c.initialized = true
	c.mu.Unlock()

	unsubscribe := c.source.OnSessionChange(c.handleEvent)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if unsubscribe != nil {
			unsubscribe()
		}
		return
	}
	c.unsubscribe = unsubscribe
	seq := c.eventSeq
	c.mu.Unlock()

	session, err := c.source.CurrentSession(ctx)
	if err != nil {
		c.logger.Warn("auth: current session fetch failed; treating as signed out", zap.Error(err))
		session = nil
	}

	// An event observed while the eager fetch was in flight is newer than its result.
	c.mu.Lock()
	applied := false
	if !c.closed && c.eventSeq == seq {
		if session == nil || session.UserID() != c.state.Session.UserID() {
			c.generation++
		}
		c.state.Session = session.Clone()
		c.state.IsAuthenticated = session != nil
		if session == nil {
			c.state.Profile = nil
		}
		c.state.Version++
		applied = true
	}
	hasSession := c.state.Session != nil
	c.mu.Unlock()
	if applied {
		c.notify()
	}

	if hasSession {
		if _, err := c.RefreshProfile(ctx); err != nil && !errors.Is(err, ErrProfileNotFound) {
			c.logger.Warn("auth: initial profile fetch failed", zap.Error(err))
		}
	}

	c.mu.Lock()
	changed := false
	if !c.closed && c.state.Loading {
		c.state.Loading = false
		c.state.Version++
		changed = true
	}
	c.resolved = true
	c.mu.Unlock()
	if changed {
		c.notify()
	}
}

func (c *Cache) handleEvent(kind EventKind, session *Session) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.eventSeq++

	next := c.state
	if !continues(kind, next.Session, session) {
		c.generation++
	}
	if kind.SignedIn() && session != nil {
		if next.Session.UserID() != session.UserID() {
			next.Profile = nil
		}
		next.Session = session.Clone()
		next.IsAuthenticated = true
	} else {
		next.Session = nil
		next.Profile = nil
		next.IsAuthenticated = false
	}
	if !c.resolved {
		c.resolved = true
		next.Loading = false
	}
	next.Version++
	c.state = next
	c.mu.Unlock()

	c.logger.Debug("auth: session event", zap.String("event", string(kind)), zap.String("user_id", session.UserID()))
	c.notify()
}

// continues reports whether the event keeps the same session alive rather than replacing it.
func continues(kind EventKind, prev, next *Session) bool {
	if prev == nil || next == nil {
		return false
	}
	switch kind {
	case EventTokenRefreshed, EventUserUpdated, EventInitialSession:
		return prev.UserID() == next.UserID()
	default:
		return false
	}
}

// Sync asks the source for the current session so an expiring access token is refreshed.
// Sources announce refreshes and sign-outs as events; a result that differs from the cached
// session without an accompanying event is applied here.
func (c *Cache) Sync(ctx context.Context) error {
	c.mu.Lock()
	if c.closed || !c.resolved || c.state.Session == nil {
		c.mu.Unlock()
		return nil
	}
	seq := c.eventSeq
	cached := c.state.Session
	c.mu.Unlock()

	session, err := c.source.CurrentSession(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	superseded := c.closed || c.eventSeq != seq
	c.mu.Unlock()
	switch {
	case superseded:
	case session == nil:
		c.handleEvent(EventSignedOut, nil)
	case session.UserID() != cached.UserID():
		c.handleEvent(EventSignedIn, session)
	case session.AccessToken != cached.AccessToken:
		c.handleEvent(EventTokenRefreshed, session)
	}
	return nil
}

// RefreshProfile fetches the profile of the current principal and stores it. A response
// that arrives after the session was replaced is discarded with ErrStaleSession. A missing
// profile row clears the cached profile and returns ErrProfileNotFound.
func (c *Cache) RefreshProfile(ctx context.Context) (*Profile, error) {
	c.mu.Lock()
	session := c.state.Session
	generation := c.generation
	c.mu.Unlock()
	if session == nil {
		return nil, ErrNotAuthenticated
	}

	userID := session.UserID()
	profile, err := c.profiles.GetProfile(ContextWithSession(ctx, session), userID)
	notFound := errors.Is(err, ErrProfileNotFound)
	if err != nil && !notFound {
		return nil, err
	}

	c.mu.Lock()
	if c.closed || c.generation != generation || c.state.Session.UserID() != userID {
		c.mu.Unlock()
		c.logger.Debug("auth: discarding profile for superseded session", zap.String("user_id", userID))
		return nil, ErrStaleSession
	}
	if notFound {
		c.state.Profile = nil
	} else {
		c.state.Profile = profile.Clone()
	}
	c.state.Version++
	c.mu.Unlock()
	c.notify()

	if notFound {
		return nil, ErrProfileNotFound
	}
	return profile.Clone(), nil
}

// signOutLocally clears local state through the same path as a SIGNED_OUT event.
func (c *Cache) signOutLocally() {
	c.handleEvent(EventSignedOut, nil)
}

// Snapshot returns a copy of the current state.
func (c *Cache) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Cache) snapshotLocked() State {
	state := c.state
	state.Session = c.state.Session.Clone()
	state.Profile = c.state.Profile.Clone()
	return state
}

// Subscribe registers an observer invoked after every transition. The returned function
// must be called when the observer is torn down; it is safe to call more than once.
func (c *Cache) Subscribe(fn func(State)) (unsubscribe func()) {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return func() {}
	}
	c.nextObserver++
	id := c.nextObserver
	c.observers[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.observers, id)
			c.mu.Unlock()
		})
	}
}

// Observers reports the number of registered observers.
func (c *Cache) Observers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.observers)
}

// Close releases the session source subscription and drops every observer.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	unsubscribe := c.unsubscribe
	c.unsubscribe = nil
	c.observers = make(map[uint64]func(State))
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

func (c *Cache) notify() {
	c.mu.Lock()
	state := c.snapshotLocked()
	ids := make([]uint64, 0, len(c.observers))
	for id := range c.observers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	observers := make([]func(State), 0, len(ids))
	for _, id := range ids {
		observers = append(observers, c.observers[id])
	}
	c.mu.Unlock()

	for _, fn := range observers {
		fn(state)
	}
}
