package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter is an additive, in-process per-tenant limiter on the rate of
// ProviderClient.Create calls, applied ahead of the provider's own rate
// limit. It is distinct from Tracker: Tracker records what the provider
// told us after the fact, Limiter throttles what we send.
type Limiter struct {
	mu       sync.Mutex
	perSec   rate.Limit
	burst    int
	tenants  map[string]*rate.Limiter
}

// NewLimiter builds a per-tenant limiter allowing ratePerSecond requests
// per second with the given burst, lazily creating one rate.Limiter per
// tenant on first use.
func NewLimiter(ratePerSecond float64, burst int) *Limiter {
	return &Limiter{
		perSec:  rate.Limit(ratePerSecond),
		burst:   burst,
		tenants: make(map[string]*rate.Limiter),
	}
}

func (l *Limiter) limiterFor(tenantID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.tenants[tenantID]
	if !ok {
		lim = rate.NewLimiter(l.perSec, l.burst)
		l.tenants[tenantID] = lim
	}
	return lim
}

// Allow reports whether tenantID may issue another provider call right now.
func (l *Limiter) Allow(tenantID string) bool {
	return l.limiterFor(tenantID).Allow()
}
