package auth

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// DefaultMaxAttempts bounds profile re-fetches triggered by a guard for one identity.
const DefaultMaxAttempts = 3

// GuardStatus is the outcome of one guard evaluation.
type GuardStatus int

const (
	GuardChecking GuardStatus = iota
	GuardAuthorized
	GuardUnauthorized
	GuardUnauthenticated
)

// String implements fmt.Stringer.
func (s GuardStatus) String() string {
	switch s {
	case GuardChecking:
		return "checking"
	case GuardAuthorized:
		return "authorized"
	case GuardUnauthorized:
		return "unauthorized"
	case GuardUnauthenticated:
		return "unauthenticated"
	default:
		return "unknown"
	}
}

// GuardState is the derived view recomputed on every check.
type GuardState struct {
	IsAuthenticated bool   `json:"isAuthenticated"`
	MatchesRole     bool   `json:"matchesRole"`
	Checking        bool   `json:"checking"`
	UserRole        Role   `json:"userRole,omitempty"`
	HasCompany      bool   `json:"hasCompany"`
	UserID          string `json:"userId,omitempty"`
}

// Decision is what a guard wants the host to do.
type Decision struct {
	Status GuardStatus
	State  GuardState
	// Redirect is empty for GuardChecking and GuardAuthorized.
	Redirect   string
	Resolution *Resolution
}

// GuardOptions configures a Guard.
type GuardOptions struct {
	// Required lists the roles allowed through. Empty means any authenticated principal.
	Required Roles
	// AllowIncompleteSetup lets an admin without a company through, as the company setup
	// page itself must.
	AllowIncompleteSetup bool
	// MaxAttempts overrides DefaultMaxAttempts when positive.
	MaxAttempts int
}

// Guard gates protected content until authentication and role are resolved.
type Guard struct {
	cache      *Cache
	reconciler *Reconciler
	policy     RedirectPolicy
	opts       GuardOptions
	logger     *zap.Logger

	mu       sync.Mutex
	userID   string
	attempts int
}

// NewGuard constructs a guard. Its attempt counter lives as long as the guard does.
func NewGuard(cache *Cache, reconciler *Reconciler, policy RedirectPolicy, opts GuardOptions, logger *zap.Logger) *Guard {
	if cache == nil || reconciler == nil {
		panic("auth: guard requires a cache and a reconciler")
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Guard{
		cache:      cache,
		reconciler: reconciler,
		policy:     policy,
		opts:       opts,
		logger:     logger,
	}
}

// Attempts reports how many re-fetches the guard has triggered for the current identity.
func (g *Guard) Attempts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.attempts
}

// Check evaluates the guard against the current cache state. It performs no navigation.
func (g *Guard) Check(ctx context.Context) Decision {
	state := g.cache.Snapshot()
	if state.Loading {
		return Decision{Status: GuardChecking, State: GuardState{Checking: true}}
	}
	if !state.IsAuthenticated || state.Session == nil {
		return g.unauthenticated()
	}

	userID := state.Session.UserID()
	g.observeIdentity(userID)

	res, err := g.reconciler.Resolve(ctx, state.Session, state.Profile)
	if err != nil {
		return g.unauthenticated()
	}

	if cached := state.Profile; cached != nil && cached.ID == userID && cached.Role != res.Role {
		if g.takeAttempt() {
			g.logger.Info("auth: cached profile disagrees with resolved role; refreshing",
				zap.String("user_id", userID),
				zap.String("cached_role", cached.Role.String()),
				zap.String("resolved_role", res.Role.String()),
				zap.Int("attempt", g.Attempts()),
			)
			if _, err := g.cache.RefreshProfile(ctx); err != nil && !errors.Is(err, ErrProfileNotFound) {
				g.logger.Warn("auth: guard profile refresh failed", zap.String("user_id", userID), zap.Error(err))
			}
		}
	}

	return g.decide(res)
}

// Enforce evaluates the guard and performs the redirect, replacing history, when the
// decision calls for one.
func (g *Guard) Enforce(ctx context.Context, nav Navigator) Decision {
	decision := g.Check(ctx)
	if decision.Redirect != "" && nav != nil {
		nav.Navigate(decision.Redirect, NavigateOptions{Replace: true})
	}
	return decision
}

func (g *Guard) decide(res Resolution) Decision {
	matches := len(g.opts.Required) == 0 || g.opts.Required.Has(res.Role)
	decision := Decision{
		State: GuardState{
			IsAuthenticated: true,
			MatchesRole:     matches,
			UserRole:        res.Role,
			HasCompany:      res.HasCompany,
			UserID:          res.UserID,
		},
		Resolution: &res,
	}
	switch {
	case !matches:
		decision.Status = GuardUnauthorized
		decision.Redirect = g.policy.TargetFor(res)
	case res.Role.RequiresCompany() && !res.HasCompany && !g.opts.AllowIncompleteSetup:
		decision.Status = GuardUnauthorized
		decision.Redirect = g.policy.Routes().CompanySetup
	default:
		decision.Status = GuardAuthorized
	}
	return decision
}

func (g *Guard) unauthenticated() Decision {
	return Decision{
		Status:   GuardUnauthenticated,
		Redirect: g.policy.Routes().Login,
	}
}

func (g *Guard) observeIdentity(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.userID != userID {
		g.userID = userID
		g.attempts = 0
	}
}

func (g *Guard) takeAttempt() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.attempts >= g.opts.MaxAttempts {
		return false
	}
	g.attempts++
	return true
}
