// Package ratelimit keeps an adapter under a provider's published
// per-second, per-minute and per-hour request quotas.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// RateLimiter is a fixed-window limiter across three windows. A zero limit
// disables that window.
type RateLimiter struct {
	mu                sync.Mutex
	secCount          int
	minCount          int
	hrCount           int
	secReset          time.Time
	minReset          time.Time
	hrReset           time.Time
	requestsPerSecond int
	requestsPerMinute int
	requestsPerHour   int
	poll              time.Duration
}

func NewRateLimiter(requestsPerSecond, requestsPerMinute, requestsPerHour int) *RateLimiter {
	now := time.Now().UTC()
	return &RateLimiter{
		secReset:          now.Add(time.Second),
		minReset:          now.Add(time.Minute),
		hrReset:           now.Add(time.Hour),
		requestsPerSecond: requestsPerSecond,
		requestsPerMinute: requestsPerMinute,
		requestsPerHour:   requestsPerHour,
		poll:              50 * time.Millisecond,
	}
}

// Wait blocks until a request slot is free or ctx is done.
func (r *RateLimiter) Wait(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.tryAcquire() {
			return nil
		}
		select {
		case <-time.After(r.poll):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (r *RateLimiter) tryAcquire() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now().UTC()
	r.resetIfNeeded(now)

	if !under(r.secCount, r.requestsPerSecond) ||
		!under(r.minCount, r.requestsPerMinute) ||
		!under(r.hrCount, r.requestsPerHour) {
		return false
	}
	r.secCount++
	r.minCount++
	r.hrCount++
	return true
}

func under(count, limit int) bool {
	return limit <= 0 || count < limit
}

func (r *RateLimiter) resetIfNeeded(now time.Time) {
	if now.After(r.secReset) {
		r.secCount = 0
		r.secReset = now.Add(time.Second)
	}
	if now.After(r.minReset) {
		r.minCount = 0
		r.minReset = now.Add(time.Minute)
	}
	if now.After(r.hrReset) {
		r.hrCount = 0
		r.hrReset = now.Add(time.Hour)
	}
}
