package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/router-for-me/SchoolAuth/internal/config"
	"github.com/router-for-me/SchoolAuth/internal/metrics"
	"golang.org/x/time/rate"
)

const (
	defaultLimiterCleanup = 10 * time.Minute
	defaultLimiterMaxIdle = 30 * time.Minute
)

// RateLimiter keeps one token bucket per client IP.
type RateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rate     rate.Limit
	burst    int
	enabled  bool
	maxIdle  time.Duration
}

// NewRateLimiter builds a limiter from the login rate limit configuration.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = cfg.RequestsPerMinute
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     rate.Limit(float64(cfg.RequestsPerMinute) / 60.0),
		burst:    burst,
		enabled:  cfg.Enabled && cfg.RequestsPerMinute > 0,
		maxIdle:  defaultLimiterMaxIdle,
	}
}

// Allow reports whether clientID may proceed now.
func (l *RateLimiter) Allow(clientID string) bool {
	if l == nil || !l.enabled {
		return true
	}
	l.mu.Lock()
	limiter, exists := l.limiters[clientID]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[clientID] = limiter
	}
	l.lastSeen[clientID] = time.Now()
	l.mu.Unlock()
	return limiter.Allow()
}

// StartCleanup drops idle client buckets until ctx is done.
func (l *RateLimiter) StartCleanup(ctx context.Context) {
	if l == nil || !l.enabled {
		return
	}
	go func() {
		ticker := time.NewTicker(defaultLimiterCleanup)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.cleanup(time.Now())
			}
		}
	}()
}

func (l *RateLimiter) cleanup(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for clientID, seen := range l.lastSeen {
		if now.Sub(seen) > l.maxIdle {
			delete(l.limiters, clientID)
			delete(l.lastSeen, clientID)
		}
	}
}

// Middleware rejects clients over their budget with 429.
func (l *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.Allow(c.ClientIP()) {
			metrics.RateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "RateLimited", "detail": "too many requests"})
			return
		}
		c.Next()
	}
}
