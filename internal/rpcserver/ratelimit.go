package rpcserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimitConfig controls per-connection RPC request throttling.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate each connection is allowed.
	// Zero disables rate limiting entirely.
	RequestsPerSecond float64
	// Burst is the maximum number of requests a connection may send
	// instantaneously before the sustained rate applies.
	Burst int
}

// defaultRateLimitConfig matches the teacher's HTTP middleware default
// shape (requests/min spread over 60s, generous burst), scaled to a
// steady per-connection RPC rate rather than per-client-IP HTTP rate.
func defaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 50, Burst: 100}
}

// connRateLimiter token-bucket-limits RPC requests per domain.Connection,
// keyed by connection id instead of client IP: a unix-socket RPC server has
// no IP to key on, but does have a stable per-connection identity.
// Grounded on the teacher's infra/middleware.RateLimitWithConfig client map
// plus its stale-entry cleanup goroutine.
type connRateLimiter struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	stop     chan struct{}
	stopOnce sync.Once
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newConnRateLimiter(cfg RateLimitConfig) *connRateLimiter {
	rl := &connRateLimiter{
		cfg:      cfg,
		limiters: make(map[string]*limiterEntry),
		stop:     make(chan struct{}),
	}
	if cfg.RequestsPerSecond > 0 {
		go rl.cleanupLoop()
	}
	return rl
}

func (rl *connRateLimiter) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			for id, e := range rl.limiters {
				if time.Since(e.lastSeen) > 3*time.Minute {
					delete(rl.limiters, id)
				}
			}
			rl.mu.Unlock()
		case <-rl.stop:
			return
		}
	}
}

// Allow reports whether connID may proceed with another request right now.
// Disabled (RequestsPerSecond <= 0) always allows.
func (rl *connRateLimiter) Allow(connID string) bool {
	if rl.cfg.RequestsPerSecond <= 0 {
		return true
	}

	rl.mu.Lock()
	e, ok := rl.limiters[connID]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.cfg.RequestsPerSecond), rl.cfg.Burst)}
		rl.limiters[connID] = e
	}
	e.lastSeen = time.Now()
	limiter := e.limiter
	rl.mu.Unlock()

	return limiter.Allow()
}

// Close stops the cleanup goroutine.
func (rl *connRateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// forget drops a connection's limiter once it disconnects, so a reconnect
// starts with a fresh bucket instead of inheriting a throttled one.
func (rl *connRateLimiter) forget(connID string) {
	rl.mu.Lock()
	delete(rl.limiters, connID)
	rl.mu.Unlock()
}
