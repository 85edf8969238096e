// Package registry keeps one auth client bundle per browser session.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
)

const defaultRevocationTTL = 12 * time.Hour

// ErrRevoked is returned for a session id that was signed out. Its cookie may still carry
// credentials and must not be used to restore a client.
var ErrRevoked = errors.New("registry: session revoked")

// Credentials restore a signed-in principal into a freshly built client.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether no credentials were supplied.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.AccessToken) == "" && strings.TrimSpace(c.RefreshToken) == ""
}

// Factory builds and initialises the client for a browser session.
type Factory func(ctx context.Context, sessionID string, creds Credentials) (*Client, error)

// Registry is a bounded LRU of clients keyed by browser session id. Evicted and removed
// clients are closed, which unsubscribes their caches from the session source.
type Registry struct {
	factory       Factory
	logger        *zap.Logger
	revocationTTL time.Duration

	// mu serialises every mutation so the eviction callback can see moving.
	mu      sync.Mutex
	entries *lru.Cache[string, *Client]
	revoked *expirable.LRU[string, struct{}]
	moving  *Client
}

// Option customises a Registry.
type Option func(*Registry)

// WithRevocationTTL sets how long signed-out session ids are remembered. It should cover
// the lifetime of the credentials a stale cookie may carry.
func WithRevocationTTL(ttl time.Duration) Option {
	return func(r *Registry) {
		if ttl > 0 {
			r.revocationTTL = ttl
		}
	}
}

// New constructs a Registry holding at most size clients.
func New(size int, factory Factory, logger *zap.Logger, opts ...Option) (*Registry, error) {
	if factory == nil {
		return nil, errors.New("registry: factory is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &Registry{factory: factory, logger: logger, revocationTTL: defaultRevocationTTL}
	for _, opt := range opts {
		opt(r)
	}
	entries, err := lru.NewWithEvict[string, *Client](size, r.evicted)
	if err != nil {
		return nil, fmt.Errorf("registry: %w", err)
	}
	r.entries = entries
	r.revoked = expirable.NewLRU[string, struct{}](size*4, nil, r.revocationTTL)
	return r, nil
}

func (r *Registry) evicted(id string, client *Client) {
	if client == r.moving {
		return
	}
	r.logger.Debug("registry: closing client", zap.String("session_id", id))
	client.Close()
}

// Get returns the client for sessionID, building it with creds when absent. created reports
// whether a new client was built.
func (r *Registry) Get(ctx context.Context, sessionID string, creds Credentials) (client *Client, created bool, err error) {
	if strings.TrimSpace(sessionID) == "" {
		return nil, false, errors.New("registry: session id is required")
	}
	if r.revoked.Contains(sessionID) {
		return nil, false, ErrRevoked
	}
	if existing, ok := r.entries.Get(sessionID); ok {
		return existing, false, nil
	}

	built, err := r.factory(ctx, sessionID, creds)
	if err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.entries.Get(sessionID); ok {
		// a concurrent request for the same browser won the race
		built.Close()
		return existing, false, nil
	}
	r.entries.Add(sessionID, built)
	return built, true, nil
}

// Peek returns the client without building one or touching recency.
func (r *Registry) Peek(sessionID string) (*Client, bool) {
	return r.entries.Peek(sessionID)
}

// Remove closes and forgets the client for sessionID.
func (r *Registry) Remove(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Remove(sessionID)
}

// Revoke closes the client for sessionID and refuses to rebuild one under that id.
func (r *Registry) Revoke(sessionID string) {
	if strings.TrimSpace(sessionID) == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Remove(sessionID)
	r.revoked.Add(sessionID, struct{}{})
}

// Revoked reports whether sessionID was signed out.
func (r *Registry) Revoked(sessionID string) bool {
	return r.revoked.Contains(sessionID)
}

// Rekey moves the client registered under from to the id to without closing it. It is used
// when the browser session id is rotated on sign-in. The old id is revoked.
func (r *Registry) Rekey(from, to string) bool {
	if strings.TrimSpace(to) == "" || from == to {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	client, ok := r.entries.Peek(from)
	if !ok {
		return false
	}
	r.moving = client
	r.entries.Remove(from)
	r.moving = nil
	if displaced, ok := r.entries.Peek(to); ok && displaced != client {
		r.entries.Remove(to)
	}
	client.rekey(to)
	r.entries.Add(to, client)
	r.revoked.Add(from, struct{}{})
	return true
}

// Len reports the number of live clients.
func (r *Registry) Len() int {
	return r.entries.Len()
}

// Close closes every client.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries.Purge()
}
