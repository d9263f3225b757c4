package fetcher

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter is a rate.Limiter that speeds up by 20% after each
// success (up to twice the initial rate) and halves after a 429 (down to a
// quarter of it).
type AdaptiveLimiter struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	initial rate.Limit
	current rate.Limit
}

// NewAdaptiveLimiter starts at initial events per second.
func NewAdaptiveLimiter(initial rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter: rate.NewLimiter(initial, burst),
		initial: initial,
		current: initial,
	}
}

// Wait blocks until the next request may go out.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess raises the rate.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(min(a.current*1.2, a.initial*2))
}

// OnRateLimit lowers the rate after the host answered 429.
func (a *AdaptiveLimiter) OnRateLimit(host string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.set(max(a.current*0.5, a.initial/4))
	zap.L().Warn("fetcher: rate limited, slowing down",
		zap.String("host", host),
		zap.Float64("rate", float64(a.current)),
	)
}

// Limit returns the current rate.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

func (a *AdaptiveLimiter) set(r rate.Limit) {
	a.current = r
	a.limiter.SetLimit(r)
}

// hostLimiters lazily creates one AdaptiveLimiter per host.
type hostLimiters struct {
	mu    sync.Mutex
	rate  rate.Limit
	burst int
	byKey map[string]*AdaptiveLimiter
}

func newHostLimiters(perSec float64, burst int) *hostLimiters {
	if perSec <= 0 {
		perSec = 2
	}
	if burst <= 0 {
		burst = 1
	}
	return &hostLimiters{rate: rate.Limit(perSec), burst: burst, byKey: make(map[string]*AdaptiveLimiter)}
}

func (h *hostLimiters) get(host string) *AdaptiveLimiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.byKey[host]
	if !ok {
		l = NewAdaptiveLimiter(h.rate, h.burst)
		h.byKey[host] = l
	}
	return l
}
