// Package ratelimit implements per-host token buckets that space out feed
// fetches against the same server.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DelayObserver receives the time a fetch spent waiting for its host's token.
type DelayObserver interface {
	ObserveRateLimitDelay(host string, d time.Duration)
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	observer     DelayObserver
}

// Config holds rate limiter configuration.
type Config struct {
	// PerHostRPS of zero or less disables limiting.
	PerHostRPS float64
	Burst      int
	Observer   DelayObserver
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		observer:     cfg.Observer,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond && l.observer != nil {
		l.observer.ObserveRateLimitDelay(host, d)
	}
	return nil
}
