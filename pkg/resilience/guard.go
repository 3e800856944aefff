package resilience

import (
	"context"
	"sync"
)

// GuardOpts configures one provider's limiter and breaker pair.
type GuardOpts struct {
	Limiter LimiterOpts
	Breaker BreakerOpts
}

// Guard combines a token bucket and a circuit breaker for one provider.
type Guard struct {
	limiter *Limiter
	breaker *Breaker
}

// NewGuard creates a Guard from opts.
func NewGuard(opts GuardOpts) *Guard {
	return &Guard{
		limiter: NewLimiter(opts.Limiter),
		breaker: NewBreaker(opts.Breaker),
	}
}

// State returns the breaker state.
func (g *Guard) State() State { return g.breaker.State() }

// Do runs f behind the limiter and breaker. weigh maps a call error to its
// breaker weight; nil weigh counts every failure as 1. Limiter exhaustion
// returns ErrRateLimited without consulting the breaker.
func (g *Guard) Do(ctx context.Context, f func(context.Context) error, weigh func(error) int) error {
	if !g.limiter.Allow() {
		return ErrRateLimited
	}
	if err := g.breaker.Admit(); err != nil {
		return err
	}
	err := f(ctx)
	w := 1
	if weigh != nil {
		w = weigh(err)
	}
	g.breaker.Record(err, w)
	return err
}

// Registry holds one Guard per provider ID. Process-wide: created at startup,
// injected into components, shared across concurrent invocations.
type Registry struct {
	mu       sync.RWMutex
	guards   map[string]*Guard
	defaults GuardOpts
	perID    map[string]GuardOpts
}

// NewRegistry creates a Registry. perID overrides defaults for named providers.
func NewRegistry(defaults GuardOpts, perID map[string]GuardOpts) *Registry {
	return &Registry{
		guards:   make(map[string]*Guard),
		defaults: defaults,
		perID:    perID,
	}
}

// Guard returns the guard for id, creating it on first use.
func (r *Registry) Guard(id string) *Guard {
	r.mu.RLock()
	g, ok := r.guards[id]
	r.mu.RUnlock()
	if ok {
		return g
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if g, ok := r.guards[id]; ok {
		return g
	}
	opts := r.defaults
	if o, ok := r.perID[id]; ok {
		opts = o
	}
	g = NewGuard(opts)
	r.guards[id] = g
	return g
}

// Do is shorthand for Guard(id).Do.
func (r *Registry) Do(ctx context.Context, id string, f func(context.Context) error, weigh func(error) int) error {
	return r.Guard(id).Do(ctx, f, weigh)
}

// Shutdown releases registry state. Safe to call more than once.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.guards = make(map[string]*Guard)
}
