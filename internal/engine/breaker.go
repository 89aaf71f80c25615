package engine

import (
	"time"
)

// breaker suspends the external reasoning route after a streak of failures
// so a degraded service is not retried on every frame. The classifier's
// mutex serializes access.
type breaker struct {
	threshold int
	cooldown  time.Duration
	failures  int
	openUntil time.Time
}

func newBreaker(threshold int, cooldown time.Duration) *breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &breaker{threshold: threshold, cooldown: cooldown}
}

func (b *breaker) allow(now time.Time) bool {
	if b.openUntil.IsZero() {
		return true
	}
	if now.Before(b.openUntil) {
		return false
	}
	b.openUntil = time.Time{}
	b.failures = 0
	return true
}

func (b *breaker) recordFailure(now time.Time) {
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = now.Add(b.cooldown)
	}
}

func (b *breaker) recordSuccess() {
	b.failures = 0
	b.openUntil = time.Time{}
}

func (b *breaker) configure(threshold int, cooldown time.Duration) {
	if threshold > 0 {
		b.threshold = threshold
	}
	if cooldown > 0 {
		b.cooldown = cooldown
	}
}
