package ratelimit

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/telekom/cli-auth-broker/pkg/apiresponses"
	"github.com/telekom/cli-auth-broker/pkg/metrics"
)

// Config holds rate limiter configuration
type Config struct {
	// Name labels rejections in the rate limit metric
	Name string
	// Rate is the number of requests allowed per second
	Rate float64
	// Burst is the maximum number of requests allowed in a burst
	Burst int
	// CleanupInterval is how often to clean up stale entries
	CleanupInterval time.Duration
	// MaxAge is how long to keep an entry after last access
	MaxAge time.Duration
}

// KeyFunc extracts the bucket key from a request. An empty key skips limiting.
type KeyFunc func(c *gin.Context) string

// ByClientIP keys buckets by the client address gin resolved for the request.
func ByClientIP(c *gin.Context) string {
	return c.ClientIP()
}

// ByQuery keys buckets by a query parameter, falling back to the client IP
// when the parameter is absent.
func ByQuery(param string) KeyFunc {
	return func(c *gin.Context) string {
		if v := c.Query(param); v != "" {
			return param + ":" + v
		}
		return c.ClientIP()
	}
}

// DefaultLoginConfig returns the per-IP limits for the login endpoints:
// 5 req/s, burst of 20.
func DefaultLoginConfig() Config {
	return Config{
		Name:            "login",
		Rate:            5,
		Burst:           20,
		CleanupInterval: time.Minute,
		MaxAge:          5 * time.Minute,
	}
}

// DefaultPollConfig returns the per-state limits for status polling. The CLI
// polls every two seconds; the burst absorbs retries after network blips.
func DefaultPollConfig() Config {
	return Config{
		Name:            "poll",
		Rate:            2,
		Burst:           10,
		CleanupInterval: time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

// entry holds rate limiter and last access time for a key
type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// Limiter implements keyed rate limiting with automatic cleanup
type Limiter struct {
	mu       sync.Mutex
	entries  map[string]*entry
	config   Config
	key      KeyFunc
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New creates a new keyed rate limiter. A nil key func limits per client IP.
func New(cfg Config, key KeyFunc) *Limiter {
	if cfg.CleanupInterval == 0 {
		cfg.CleanupInterval = time.Minute
	}
	if cfg.MaxAge == 0 {
		cfg.MaxAge = 5 * time.Minute
	}
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if key == nil {
		key = ByClientIP
	}

	rl := &Limiter{
		entries: make(map[string]*entry),
		config:  cfg,
		key:     key,
		done:    make(chan struct{}),
		now:     time.Now,
	}

	go rl.cleanup()

	return rl
}

// Allow checks if a request for the given key should be allowed
func (rl *Limiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.entries[key]
	if !exists {
		e = &entry{
			limiter: rate.NewLimiter(rate.Limit(rl.config.Rate), rl.config.Burst),
		}
		rl.entries[key] = e
	}
	e.lastAccess = rl.now()

	return e.limiter.Allow()
}

// Middleware returns a Gin middleware that rejects requests over the limit
// with 429 and a Retry-After hint.
func (rl *Limiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := rl.key(c)
		if key == "" || rl.Allow(key) {
			c.Next()
			return
		}
		metrics.RateLimitRejections.WithLabelValues(rl.config.Name).Inc()
		c.Header("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
		apiresponses.RespondTooManyRequests(c)
		c.Abort()
	}
}

func (rl *Limiter) retryAfterSeconds() int {
	if rl.config.Rate <= 0 {
		return 60
	}
	return int(math.Max(1, math.Ceil(1/rl.config.Rate)))
}

// Stop stops the cleanup goroutine. It is safe to call more than once.
func (rl *Limiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

func (rl *Limiter) cleanup() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.cleanupStaleEntries()
		}
	}
}

// cleanupStaleEntries removes entries that haven't been accessed recently
func (rl *Limiter) cleanupStaleEntries() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for key, e := range rl.entries {
		if now.Sub(e.lastAccess) > rl.config.MaxAge {
			delete(rl.entries, key)
		}
	}
}

// Len returns the current number of tracked keys
func (rl *Limiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Config returns a copy of the current configuration
func (rl *Limiter) Config() Config {
	return rl.config
}
