package registry

import (
	"sync"

	"go.uber.org/zap"

	"github.com/MiguelLoboBR/vistoria-pro-frontend-sub001/internal/auth"
)

// ClientConfig wires a Client.
type ClientConfig struct {
	Source      auth.SessionSource
	Profiles    auth.ProfileStore
	Companies   auth.CompanyStore
	Policy      auth.RedirectPolicy
	MaxAttempts int
	Logger      *zap.Logger
}

// Client bundles the auth collaborators of one browser session. Guards are memoised by name
// so their attempt counters survive across requests.
type Client struct {
	id         string
	source     auth.SessionSource
	cache      *auth.Cache
	reconciler *auth.Reconciler
	service    *auth.Service
	policy     auth.RedirectPolicy
	attempts   int
	logger     *zap.Logger

	mu     sync.Mutex
	guards map[string]*auth.Guard
	closed bool
}

// NewClient builds the cache, reconciler and service around the given source and stores.
// The cache is not initialised; the factory decides when to do that.
func NewClient(id string, cfg ClientConfig) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session_id", id))
	cache := auth.NewCache(cfg.Source, cfg.Profiles, logger)
	reconciler := auth.NewReconciler(cfg.Profiles, logger)
	return &Client{
		id:         id,
		source:     cfg.Source,
		cache:      cache,
		reconciler: reconciler,
		service: auth.NewService(auth.ServiceConfig{
			Source:     cfg.Source,
			Profiles:   cfg.Profiles,
			Companies:  cfg.Companies,
			Cache:      cache,
			Reconciler: reconciler,
			Policy:     cfg.Policy,
			Logger:     logger,
		}),
		policy:   cfg.Policy,
		attempts: cfg.MaxAttempts,
		logger:   logger,
		guards:   make(map[string]*auth.Guard),
	}
}

// ID returns the browser session id.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

func (c *Client) rekey(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.id = id
}

// Cache returns the session cache.
func (c *Client) Cache() *auth.Cache { return c.cache }

// Service returns the auth service.
func (c *Client) Service() *auth.Service { return c.service }

// Source returns the session source.
func (c *Client) Source() auth.SessionSource { return c.source }

// Guard returns the guard registered under name, creating it with opts on first use.
// Later calls ignore opts.
func (c *Client) Guard(name string, opts auth.GuardOptions) *auth.Guard {
	c.mu.Lock()
	defer c.mu.Unlock()
	if guard, ok := c.guards[name]; ok {
		return guard
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = c.attempts
	}
	guard := auth.NewGuard(c.cache, c.reconciler, c.policy, opts, c.logger)
	c.guards[name] = guard
	return guard
}

// Close tears down the cache subscription and the source. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.guards = map[string]*auth.Guard{}
	c.mu.Unlock()

	c.cache.Close()
	if closer, ok := c.source.(interface{ Close() }); ok {
		closer.Close()
	}
}
