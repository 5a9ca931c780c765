package api

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultMaxRateLimitRetries     = 3
	DefaultMax5xxRetries           = 1
	DefaultRateLimitBaseDelay      = 1 * time.Second
	DefaultServerErrorRetryDelay   = 1 * time.Second
	DefaultCircuitBreakerThreshold = 5
	DefaultCircuitBreakerResetTime = 30 * time.Second
)

// RetryConfig controls request retries and the circuit breaker. Only
// idempotent requests, including sends carrying an idempotency key, are
// retried.
type RetryConfig struct {
	MaxRateLimitRetries     int
	Max5xxRetries           int
	RateLimitBaseDelay      time.Duration
	ServerErrorRetryDelay   time.Duration
	CircuitBreakerThreshold int
	CircuitBreakerResetTime time.Duration
}

// DefaultRetryConfig starts from the package defaults and applies any
// SUPPORTSYNC_MAX_RATE_LIMIT_RETRIES, SUPPORTSYNC_MAX_5XX_RETRIES,
// SUPPORTSYNC_RATE_LIMIT_DELAY, SUPPORTSYNC_SERVER_ERROR_DELAY,
// SUPPORTSYNC_CIRCUIT_BREAKER_THRESHOLD or
// SUPPORTSYNC_CIRCUIT_BREAKER_RESET_TIME override. Unparseable values are
// ignored.
func DefaultRetryConfig() RetryConfig {
	cfg := RetryConfig{
		MaxRateLimitRetries:     DefaultMaxRateLimitRetries,
		Max5xxRetries:           DefaultMax5xxRetries,
		RateLimitBaseDelay:      DefaultRateLimitBaseDelay,
		ServerErrorRetryDelay:   DefaultServerErrorRetryDelay,
		CircuitBreakerThreshold: DefaultCircuitBreakerThreshold,
		CircuitBreakerResetTime: DefaultCircuitBreakerResetTime,
	}
	for key, dst := range map[string]*int{
		"SUPPORTSYNC_MAX_RATE_LIMIT_RETRIES":    &cfg.MaxRateLimitRetries,
		"SUPPORTSYNC_MAX_5XX_RETRIES":           &cfg.Max5xxRetries,
		"SUPPORTSYNC_CIRCUIT_BREAKER_THRESHOLD": &cfg.CircuitBreakerThreshold,
	} {
		if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
			*dst = n
		}
	}
	for key, dst := range map[string]*time.Duration{
		"SUPPORTSYNC_RATE_LIMIT_DELAY":           &cfg.RateLimitBaseDelay,
		"SUPPORTSYNC_SERVER_ERROR_DELAY":         &cfg.ServerErrorRetryDelay,
		"SUPPORTSYNC_CIRCUIT_BREAKER_RESET_TIME": &cfg.CircuitBreakerResetTime,
	} {
		if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
			*dst = d
		}
	}
	return cfg
}

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	// breakerProbing lets requests through after the reset time; the next
	// outcome closes or re-opens the breaker.
	breakerProbing
)

// circuitBreaker stops requests to a server that keeps failing with 5xx.
type circuitBreaker struct {
	mu          sync.Mutex
	state       breakerState
	failures    int
	lastFailure time.Time
	threshold   int
	resetTime   time.Duration
}

func (cb *circuitBreaker) limits() (int, time.Duration) {
	threshold, resetTime := cb.threshold, cb.resetTime
	if threshold <= 0 {
		threshold = DefaultCircuitBreakerThreshold
	}
	if resetTime <= 0 {
		resetTime = DefaultCircuitBreakerResetTime
	}
	return threshold, resetTime
}

// isOpen reports whether requests should be rejected right now.
func (cb *circuitBreaker) isOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != breakerOpen {
		return false
	}
	if _, resetTime := cb.limits(); time.Since(cb.lastFailure) >= resetTime {
		cb.state = breakerProbing
		return false
	}
	return true
}

// recordFailure counts a server failure and reports whether it opened the
// breaker. A failure while probing re-opens it at once.
func (cb *circuitBreaker) recordFailure() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = time.Now()

	threshold, _ := cb.limits()
	switch {
	case cb.state == breakerProbing,
		cb.state == breakerClosed && cb.failures >= threshold:
		cb.state = breakerOpen
		return true
	}
	return false
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = breakerClosed
	cb.failures = 0
}

func (cb *circuitBreaker) reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = breakerClosed
	cb.failures = 0
	cb.lastFailure = time.Time{}
}

// sleepWithContext waits d or until ctx ends.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfterDuration reads Retry-After as seconds or an HTTP date. Values in
// the past count as zero.
func retryAfterDuration(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	var d time.Duration
	if secs, err := strconv.Atoi(v); err == nil {
		d = time.Duration(secs) * time.Second
	} else if at, err := http.ParseTime(v); err == nil {
		d = time.Until(at)
	} else {
		return 0, false
	}
	return max(d, 0), true
}
