package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

const (
	defaultLimiterIdleTTL = 10 * time.Minute
	defaultSweepEvery     = time.Minute
)

type limiterEntry struct {
	l        *rate.Limiter
	lastSeen time.Time
}

type RateLimiterConfig struct {
	RPS   float64
	Burst int
	// Limiters unused for IdleTTL are dropped on the next sweep.
	IdleTTL    time.Duration
	SweepEvery time.Duration
	Now        func() time.Time
}

// RateLimiter keeps one token bucket per client IP. Idle buckets are swept
// from the request path at most once per SweepEvery, so no background
// goroutine outlives the router.
type RateLimiter struct {
	cfg RateLimiterConfig

	mu        sync.Mutex
	m         map[string]*limiterEntry
	lastSweep time.Time
}

func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = defaultLimiterIdleTTL
	}
	if cfg.SweepEvery <= 0 {
		cfg.SweepEvery = defaultSweepEvery
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &RateLimiter{cfg: cfg, m: make(map[string]*limiterEntry), lastSweep: cfg.Now()}
}

func (r *RateLimiter) Allow(key string) bool {
	now := r.cfg.Now()

	r.mu.Lock()
	if now.Sub(r.lastSweep) >= r.cfg.SweepEvery {
		r.sweepLocked(now)
	}
	e, ok := r.m[key]
	if !ok {
		e = &limiterEntry{l: rate.NewLimiter(rate.Limit(r.cfg.RPS), r.cfg.Burst)}
		r.m[key] = e
	}
	e.lastSeen = now
	r.mu.Unlock()

	return e.l.AllowN(now, 1)
}

// Len reports how many client buckets are held.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}

func (r *RateLimiter) sweepLocked(now time.Time) {
	cutoff := now.Add(-r.cfg.IdleTTL)
	for k, e := range r.m {
		if e.lastSeen.Before(cutoff) {
			delete(r.m, k)
		}
	}
	r.lastSweep = now
}

func (r *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.Allow(c.ClientIP()) {
			slog.WarnContext(c.Request.Context(), "rate limited", "client_ip", c.ClientIP(), "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error":   "too many requests",
			})
			return
		}
		c.Next()
	}
}

// RateLimit applies a token bucket per client IP. A non-positive rps
// disables limiting.
func RateLimit(rps float64, burst int) gin.HandlerFunc {
	if rps <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	return NewRateLimiter(RateLimiterConfig{RPS: rps, Burst: burst}).Handler()
}
