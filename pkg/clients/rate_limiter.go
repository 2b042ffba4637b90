package clients

import (
	"context"
	"sync"
	"time"
)

// RateLimiter throttles outgoing requests. Sessions report Stats to the
// rate limiter metrics after every Wait.
type RateLimiter interface {
	// Wait blocks until a token is available or ctx is done
	Wait(ctx context.Context) error
	// Stats returns a snapshot of the limiter
	Stats() RateLimiterStats
}

// RateLimiterStats describes a limiter's current state
type RateLimiterStats struct {
	Rate            float64       `json:"rate"`
	Burst           int           `json:"burst"`
	AllowedRequests int64         `json:"allowed_requests"`
	BlockedRequests int64         `json:"blocked_requests"`
	CurrentTokens   float64       `json:"current_tokens"`
	AverageWaitTime time.Duration `json:"average_wait_time"`
}

// NewRateLimiter returns a token bucket limiter, or an unlimited one when rate <= 0
func NewRateLimiter(rate float64, burst int) RateLimiter {
	if rate <= 0 {
		return unlimited{}
	}
	return NewTokenBucketRateLimiter(rate, burst)
}

// TokenBucketRateLimiter refills tokens at a constant rate up to burst
type TokenBucketRateLimiter struct {
	rate     float64
	burst    int
	tokens   float64
	lastTime time.Time

	allowed   int64
	blocked   int64
	totalWait time.Duration

	mu sync.Mutex
}

// NewTokenBucketRateLimiter creates a full bucket
func NewTokenBucketRateLimiter(rate float64, burst int) *TokenBucketRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &TokenBucketRateLimiter{
		rate:     rate,
		burst:    burst,
		tokens:   float64(burst),
		lastTime: time.Now(),
	}
}

// Wait implements RateLimiter
func (tb *TokenBucketRateLimiter) Wait(ctx context.Context) error {
	start := time.Now()

	for {
		tb.mu.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens--
			tb.allowed++
			tb.totalWait += time.Since(start)
			tb.mu.Unlock()
			return nil
		}
		deficit := 1.0 - tb.tokens
		wait := time.Duration(deficit / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			tb.mu.Lock()
			tb.blocked++
			tb.mu.Unlock()
			return ctx.Err()
		}
	}
}

// Stats implements RateLimiter
func (tb *TokenBucketRateLimiter) Stats() RateLimiterStats {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	var avg time.Duration
	if tb.allowed > 0 {
		avg = tb.totalWait / time.Duration(tb.allowed)
	}
	return RateLimiterStats{
		Rate:            tb.rate,
		Burst:           tb.burst,
		AllowedRequests: tb.allowed,
		BlockedRequests: tb.blocked,
		CurrentTokens:   tb.tokens,
		AverageWaitTime: avg,
	}
}

func (tb *TokenBucketRateLimiter) refill() {
	now := time.Now()
	tb.tokens += now.Sub(tb.lastTime).Seconds() * tb.rate
	if tb.tokens > float64(tb.burst) {
		tb.tokens = float64(tb.burst)
	}
	tb.lastTime = now
}

type unlimited struct{}

func (unlimited) Wait(ctx context.Context) error { return ctx.Err() }
func (unlimited) Stats() RateLimiterStats        { return RateLimiterStats{} }
