package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/reservation-engine/pkg/response"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds per-client token bucket settings
type RateLimitConfig struct {
	RequestsPerSecond float64
	Burst             int
	// EntryTTL evicts idle clients
	EntryTTL time.Duration
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client key
type RateLimiter struct {
	config  RateLimitConfig
	mu      sync.Mutex
	clients map[string]*limiterEntry
}

// NewRateLimiter creates a limiter. Zero RequestsPerSecond disables limiting.
func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.EntryTTL <= 0 {
		cfg.EntryTTL = 10 * time.Minute
	}
	return &RateLimiter{config: cfg, clients: make(map[string]*limiterEntry)}
}

// Allow reports whether key may make another request now
func (rl *RateLimiter) Allow(key string) bool {
	if rl.config.RequestsPerSecond <= 0 {
		return true
	}

	rl.mu.Lock()
	entry, ok := rl.clients[key]
	if !ok {
		entry = &limiterEntry{limiter: rate.NewLimiter(rate.Limit(rl.config.RequestsPerSecond), rl.config.Burst)}
		rl.clients[key] = entry
	}
	entry.lastSeen = time.Now()
	rl.mu.Unlock()

	return entry.limiter.Allow()
}

// Cleanup drops clients idle longer than EntryTTL
func (rl *RateLimiter) Cleanup() int {
	cutoff := time.Now().Add(-rl.config.EntryTTL)
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	for key, entry := range rl.clients {
		if entry.lastSeen.Before(cutoff) {
			delete(rl.clients, key)
			removed++
		}
	}
	return removed
}

// RunCleanup evicts idle clients until ctx ends
func (rl *RateLimiter) RunCleanup(ctx context.Context, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.Cleanup()
		}
	}
}

// Middleware limits by authenticated user, falling back to client IP
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, ok := GetUserID(c)
		if !ok {
			key = "ip:" + c.ClientIP()
		}

		if !rl.Allow(key) {
			c.Header("Retry-After", strconv.Itoa(1))
			response.Abort(c, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests")
			return
		}
		c.Next()
	}
}
