package providers

import (
	"context"
	"sync"
	"time"
)

// DefaultRequestsPerMinute is used when a limiter is built with a
// non-positive rate.
const DefaultRequestsPerMinute = 150

// RateLimiter is a token bucket shared by every annotation request sent to
// one provider. A 429 empties the bucket and blocks callers until the
// provider's Retry-After has elapsed.
type RateLimiter struct {
	mu sync.Mutex

	perMinute    int
	tokens       float64
	lastRefill   time.Time
	blockedUntil time.Time

	consumed  int64
	waited    time.Duration
	throttled int64
}

// RateLimiterStatus reports current limiter state.
type RateLimiterStatus struct {
	TokensAvailable int           `json:"tokens_available"`
	TokensLimit     int           `json:"tokens_limit"`
	Consumed        int64         `json:"consumed"`
	Waited          time.Duration `json:"waited"`
	Throttled       int64         `json:"throttled"`
	BlockedUntil    time.Time     `json:"blocked_until,omitempty"`
}

// NewRateLimiter creates a limiter allowing requestsPerMinute requests with
// a burst of the same size.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	if requestsPerMinute <= 0 {
		requestsPerMinute = DefaultRequestsPerMinute
	}
	return &RateLimiter{
		perMinute:  requestsPerMinute,
		tokens:     float64(requestsPerMinute),
		lastRefill: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		delay := r.reserve()
		if delay == 0 {
			return nil
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		r.mu.Lock()
		r.waited += delay
		r.mu.Unlock()
	}
}

// TryConsume takes a token if one is available without blocking.
func (r *RateLimiter) TryConsume() bool {
	return r.reserve() == 0
}

// reserve consumes a token and returns 0, or returns how long to wait.
func (r *RateLimiter) reserve() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if now.Before(r.blockedUntil) {
		return r.blockedUntil.Sub(now)
	}
	r.refill(now)
	if r.tokens >= 1 {
		r.tokens--
		r.consumed++
		return 0
	}
	return r.untilNextToken()
}

// Record429 notes a rate-limit response. A positive retryAfter drains the
// bucket and blocks all callers for that long.
func (r *RateLimiter) Record429(retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.throttled++
	if retryAfter <= 0 {
		return
	}
	r.tokens = 0
	if until := time.Now().Add(retryAfter); until.After(r.blockedUntil) {
		r.blockedUntil = until
	}
}

// Status returns current limiter state.
func (r *RateLimiter) Status() RateLimiterStatus {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.refill(time.Now())
	return RateLimiterStatus{
		TokensAvailable: int(r.tokens),
		TokensLimit:     r.perMinute,
		Consumed:        r.consumed,
		Waited:          r.waited,
		Throttled:       r.throttled,
		BlockedUntil:    r.blockedUntil,
	}
}

// refill must be called with the lock held.
func (r *RateLimiter) refill(now time.Time) {
	elapsed := now.Sub(r.lastRefill).Seconds()
	r.lastRefill = now
	r.tokens += elapsed * float64(r.perMinute) / 60.0
	if max := float64(r.perMinute); r.tokens > max {
		r.tokens = max
	}
}

func (r *RateLimiter) untilNextToken() time.Duration {
	perSecond := float64(r.perMinute) / 60.0
	d := time.Duration((1 - r.tokens) / perSecond * float64(time.Second))
	if d < time.Millisecond {
		d = time.Millisecond
	}
	return d
}
