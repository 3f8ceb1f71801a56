package resilience

import (
	"errors"
	"sync"
	"time"
)

// RateLimitError represents a provider rate limit response.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return "rate limit"
}

// IsRateLimit returns true when the error is a RateLimitError.
func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}

// CircuitBreaker blocks requests after repeated failures that the trip
// predicate counts. Other errors neither count nor reset.
type CircuitBreaker struct {
	mu        sync.Mutex
	failures  int
	threshold int
	openUntil time.Time
	cooldown  time.Duration
	trip      func(error) bool
	now       func() time.Time
}

// NewCircuitBreaker counts rate limit errors only.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return NewCircuitBreakerFunc(threshold, cooldown, IsRateLimit)
}

// NewCircuitBreakerFunc counts errors for which trip returns true.
func NewCircuitBreakerFunc(threshold int, cooldown time.Duration, trip func(error) bool) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	if trip == nil {
		trip = IsRateLimit
	}
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown, trip: trip, now: time.Now}
}

func (c *CircuitBreaker) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.now().Before(c.openUntil)
}

// Open reports whether the breaker is currently rejecting calls.
func (c *CircuitBreaker) Open() bool {
	return !c.Allow()
}

func (c *CircuitBreaker) OnSuccess() {
	c.mu.Lock()
	c.failures = 0
	c.openUntil = time.Time{}
	c.mu.Unlock()
}

// OnError records a failure and reports whether this call opened the breaker.
func (c *CircuitBreaker) OnError(err error) bool {
	if err == nil || !c.trip(err) {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures++
	if c.failures >= c.threshold {
		wasOpen := c.now().Before(c.openUntil)
		c.openUntil = c.now().Add(c.cooldown)
		c.failures = 0
		return !wasOpen
	}
	return false
}
