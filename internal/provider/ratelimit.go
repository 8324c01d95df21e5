package provider

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Default request pacing per provider (requests per second).
var defaultRateLimits = map[ProviderName]rate.Limit{
	NameQQMusic: 5,
	NameNetEase: 5,
	NameKugou:   2,
	NameKuwo:    2,
	NameMigu:    2,
}

// RateLimiterMap holds one rate.Limiter per provider, created once at startup.
type RateLimiterMap struct {
	mu       sync.RWMutex
	limiters map[ProviderName]*rate.Limiter
}

// NewRateLimiterMap creates all provider rate limiters.
func NewRateLimiterMap() *RateLimiterMap {
	m := &RateLimiterMap{
		limiters: make(map[ProviderName]*rate.Limiter, len(defaultRateLimits)),
	}
	for name, limit := range defaultRateLimits {
		m.limiters[name] = rate.NewLimiter(limit, 2)
	}
	return m
}

// SetLimit overrides the pacing for one provider.
func (m *RateLimiterMap) SetLimit(name ProviderName, perSecond float64, burst int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if burst < 1 {
		burst = 1
	}
	m.limiters[name] = rate.NewLimiter(rate.Limit(perSecond), burst)
}

// Wait blocks until the rate limiter for the given provider allows a request,
// or the context is canceled. A limiter failure is reported as ErrRateLimited.
func (m *RateLimiterMap) Wait(ctx context.Context, name ProviderName) error {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	limiter, ok := m.limiters[name]
	m.mu.RUnlock()
	if !ok {
		return nil
	}
	if err := limiter.Wait(ctx); err != nil {
		return &ErrRateLimited{Provider: name, Cause: err}
	}
	return nil
}
