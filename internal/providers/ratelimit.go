package providers

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a token bucket refilled continuously at requestsPerMinute.
// A 429 with Retry-After pauses the bucket until that deadline.
type RateLimiter struct {
	mu sync.Mutex

	requestsPerMinute int
	tokens            float64
	lastUpdate        time.Time
	pausedUntil       time.Time

	totalConsumed int64
	totalWaited   time.Duration
	last429       time.Time
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	TotalConsumed   int64         `json:"total_consumed"`
	TotalWaited     time.Duration `json:"total_waited"`
	PausedUntil     time.Time     `json:"paused_until,omitempty"`
	Last429         time.Time     `json:"last_429,omitempty"`
}

// NewRateLimiter creates a limiter. Non-positive rates default to 60 RPM.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = 60
	}
	return &RateLimiter{
		requestsPerMinute: requestsPerMinute,
		tokens:            float64(requestsPerMinute),
		lastUpdate:        time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		wait, ok := r.reserve()
		if ok {
			return nil
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			r.mu.Lock()
			r.totalWaited += wait
			r.mu.Unlock()
		}
	}
}

// TryConsume takes a token without blocking.
func (r *RateLimiter) TryConsume() bool {
	_, ok := r.reserve()
	return ok
}

// Record429 drains the bucket and honours the server's Retry-After.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	r.last429 = now
	r.tokens = 0
	if retryAfter > 0 {
		r.pausedUntil = now.Add(retryAfter)
	}
}

// Status returns current limiter state.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill(time.Now())
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.requestsPerMinute,
		TotalConsumed:   r.totalConsumed,
		TotalWaited:     r.totalWaited,
		PausedUntil:     r.pausedUntil,
		Last429:         r.last429,
	}
}

// reserve consumes a token if one is available, otherwise it returns how long
// to wait before trying again.
func (r *RateLimiter) reserve() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Before(r.pausedUntil) {
		return r.pausedUntil.Sub(now), false
	}

	r.refill(now)
	if r.tokens >= 1.0 {
		r.tokens--
		r.totalConsumed++
		return 0, true
	}

	perToken := time.Minute / time.Duration(r.requestsPerMinute)
	return time.Duration((1.0 - r.tokens) * float64(perToken)), false
}

// refill must be called with mu held.
func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.lastUpdate)
	r.lastUpdate = now

	r.tokens += elapsed.Minutes() * float64(r.requestsPerMinute)
	if max := float64(r.requestsPerMinute); r.tokens > max {
		r.tokens = max
	}
}
