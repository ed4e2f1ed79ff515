package security

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/NikhilSetiya/helpdesk-relay/pkg/logging"
)

// RateLimitConfig holds per-client rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained rate allowed per client IP
	RequestsPerMinute int
	// Burst is the number of requests a client may make at once
	Burst int
	// IdleTTL drops a client's bucket after this long without requests
	IdleTTL time.Duration
	// WhitelistedIPs bypass rate limiting
	WhitelistedIPs []string
}

// DefaultRateLimitConfig returns the limits applied to form submissions
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
		Burst:             5,
		IdleTTL:           10 * time.Minute,
	}
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter keeps one token bucket per client IP
type RateLimiter struct {
	config    RateLimitConfig
	limit     rate.Limit
	whitelist map[string]struct{}
	logger    *logging.Logger
	now       func() time.Time

	mu        sync.Mutex
	clients   map[string]*clientBucket
	lastSweep time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config RateLimitConfig, logger *logging.Logger) *RateLimiter {
	defaults := DefaultRateLimitConfig()
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = defaults.RequestsPerMinute
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}
	if config.IdleTTL <= 0 {
		config.IdleTTL = defaults.IdleTTL
	}
	if logger == nil {
		logger = logging.GetLogger()
	}

	whitelist := make(map[string]struct{}, len(config.WhitelistedIPs))
	for _, ip := range config.WhitelistedIPs {
		whitelist[ip] = struct{}{}
	}

	return &RateLimiter{
		config:    config,
		limit:     rate.Limit(float64(config.RequestsPerMinute) / 60),
		whitelist: whitelist,
		logger:    logger,
		now:       time.Now,
		clients:   make(map[string]*clientBucket),
	}
}

// Allow reports whether key may make a request now and how many requests it
// has left in its bucket.
func (rl *RateLimiter) Allow(key string) (bool, int) {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.sweepLocked(now)

	bucket, ok := rl.clients[key]
	if !ok {
		bucket = &clientBucket{limiter: rate.NewLimiter(rl.limit, rl.config.Burst)}
		rl.clients[key] = bucket
	}
	bucket.lastSeen = now

	allowed := bucket.limiter.AllowN(now, 1)
	remaining := int(math.Floor(bucket.limiter.TokensAt(now)))
	if remaining < 0 {
		remaining = 0
	}
	return allowed, remaining
}

// Clients returns the number of tracked client buckets
func (rl *RateLimiter) Clients() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}

func (rl *RateLimiter) sweepLocked(now time.Time) {
	if now.Sub(rl.lastSweep) < rl.config.IdleTTL {
		return
	}
	rl.lastSweep = now

	for key, bucket := range rl.clients {
		if now.Sub(bucket.lastSeen) > rl.config.IdleTTL {
			delete(rl.clients, key)
		}
	}
}

// retryAfter is the wait until one token is back in an empty bucket
func (rl *RateLimiter) retryAfter() int {
	return int(math.Ceil(60 / float64(rl.config.RequestsPerMinute)))
}

// RateLimitMiddleware rejects clients over their limit with 429
func (rl *RateLimiter) RateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if _, ok := rl.whitelist[clientIP]; ok {
			c.Next()
			return
		}

		allowed, remaining := rl.Allow(clientIP)
		c.Header("X-RateLimit-Limit", strconv.Itoa(rl.config.RequestsPerMinute))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		if !allowed {
			ctx := c.Request.Context()
			rl.logger.WithContext(ctx).WithField("client_ip", clientIP).
				WithField("path", c.Request.URL.Path).
				Warn("Rate limit exceeded")

			retryAfter := rl.retryAfter()
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"success": false,
				"error": gin.H{
					"code":    "RATE_LIMITED",
					"message": "Too many submissions, please try again later",
					"details": gin.H{"retry_after": retryAfter},
				},
				"request_id": logging.GetRequestID(ctx),
				"timestamp":  time.Now(),
			})
			return
		}

		c.Next()
	}
}
