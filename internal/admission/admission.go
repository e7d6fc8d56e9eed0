// Package admission implements token-bucket admission control per
// principal and operation class.
package admission

import (
	"log/slog"
	"sync"
	"time"

	"github.com/memcord/memcord/internal/memerr"
)

// Class identifies an operation class with its own bucket limits.
type Class string

const (
	// ClassHTTP covers plain HTTP requests.
	ClassHTTP Class = "http"
	// ClassStream covers inbound websocket messages.
	ClassStream Class = "stream"
)

// Limits configures a bucket: sustained refill rate and burst capacity.
type Limits struct {
	PerMinute int // tokens refilled per minute
	Burst     int // bucket capacity
}

// Decision is the outcome of a TryAcquire call. Denials always carry a
// positive RetryAfter; they are reported, never silently dropped.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// bucket tracks tokens for one (principal, class) pair.
type bucket struct {
	tokens float64
	last   time.Time
}

type bucketKey struct {
	principal string
	class     Class
}

// Controller owns all bucket state. It is created at service start and
// injected wherever admission checks happen; it holds no state beyond
// the counters and performs no retries itself.
type Controller struct {
	mu      sync.Mutex
	buckets map[bucketKey]*bucket
	limits  map[Class]Limits
	logger  *slog.Logger

	// now is replaceable in tests
	now func() time.Time
}

// NewController creates a controller with per-class limits.
func NewController(limits map[Class]Limits, logger *slog.Logger) *Controller {
	return &Controller{
		buckets: make(map[bucketKey]*bucket),
		limits:  limits,
		logger:  logger,
		now:     time.Now,
	}
}

// TryAcquire consumes one token for principal in class. Concurrent calls
// for the same principal never lose tokens: all accounting happens under
// the controller mutex.
func (c *Controller) TryAcquire(principal string, class Class) Decision {
	lim, ok := c.limits[class]
	if !ok || lim.PerMinute <= 0 || lim.Burst <= 0 {
		return Decision{Allowed: true}
	}
	rate := float64(lim.PerMinute) / 60.0 // tokens per second

	c.mu.Lock()
	defer c.mu.Unlock()

	key := bucketKey{principal: principal, class: class}
	b, ok := c.buckets[key]
	now := c.now()
	if !ok {
		b = &bucket{tokens: float64(lim.Burst), last: now}
		c.buckets[key] = b
	}

	// Refill based on elapsed time, capped at burst capacity.
	elapsed := now.Sub(b.last).Seconds()
	b.last = now
	b.tokens += elapsed * rate
	if b.tokens > float64(lim.Burst) {
		b.tokens = float64(lim.Burst)
	}

	if b.tokens < 1.0 {
		retryAfter := time.Duration((1.0 - b.tokens) / rate * float64(time.Second))
		c.logger.Warn("rate limit exceeded",
			"principal", principal, "class", string(class), "retry_after", retryAfter)
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}

	b.tokens--
	return Decision{Allowed: true, Remaining: int(b.tokens)}
}

// Burst returns the configured bucket capacity for a class, zero when
// the class is unlimited.
func (c *Controller) Burst(class Class) int {
	return c.limits[class].Burst
}

// Check is TryAcquire returning the taxonomy error on denial.
func (c *Controller) Check(principal string, class Class) error {
	d := c.TryAcquire(principal, class)
	if !d.Allowed {
		return &memerr.RateLimitedError{RetryAfter: d.RetryAfter}
	}
	return nil
}

// Prune drops buckets idle longer than maxIdle. Called periodically by
// the owner to bound memory on long-running processes.
func (c *Controller) Prune(maxIdle time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	pruned := 0
	for key, b := range c.buckets {
		if now.Sub(b.last) > maxIdle {
			delete(c.buckets, key)
			pruned++
		}
	}
	return pruned
}
