// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package resilience holds the retry and failure-isolation primitives used
// by the guide sync engine and the guide source client.
package resilience

import (
	"sync"
	"time"
)

// Backoff produces doubling waits whose running total stays strictly below
// half of Period. Once the next wait would reach that cap the sequence is
// exhausted: Next reports false and the counter starts over.
type Backoff struct {
	Base   time.Duration
	Period time.Duration

	mu       sync.Mutex
	attempts int
	total    time.Duration
}

// NewBackoff returns a Backoff starting at base and capped by period/2.
func NewBackoff(base, period time.Duration) *Backoff {
	return &Backoff{Base: base, Period: period}
}

// Next returns the wait before the next retry, or false when the retry
// budget of the current sequence is spent.
func (b *Backoff) Next() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.Base <= 0 || b.Period <= 0 {
		b.reset()
		return 0, false
	}
	wait := b.Base << b.attempts
	if wait <= 0 || wait < b.Base || b.total+wait >= b.Period/2 {
		b.reset()
		return 0, false
	}
	b.attempts++
	b.total += wait
	return wait, true
}

// Reset starts a new sequence.
func (b *Backoff) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reset()
}

// Attempts returns the retries handed out in the current sequence.
func (b *Backoff) Attempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.attempts
}

// Total returns the cumulative wait of the current sequence.
func (b *Backoff) Total() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

func (b *Backoff) reset() {
	b.attempts = 0
	b.total = 0
}

// MaxRetries returns how many waits a fresh sequence yields for base and period.
func MaxRetries(base, period time.Duration) int {
	b := NewBackoff(base, period)
	n := 0
	for {
		if _, ok := b.Next(); !ok {
			return n
		}
		n++
	}
}
