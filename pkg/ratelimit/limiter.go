package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter defines the interface for request pacing
type Limiter interface {
	// Wait blocks until another request may be issued or ctx is done
	Wait(ctx context.Context) error
}

// Pacer enforces a minimum delay between consecutive remote requests.
// One Pacer is shared by every component that talks to the archive so the
// delay holds across listing, detail and image fetches.
type Pacer struct {
	mu      sync.Mutex
	delay   time.Duration
	limiter *rate.Limiter
	waits   int
}

// NewPacer creates a Pacer. A non-positive delay disables pacing.
func NewPacer(delay time.Duration) *Pacer {
	p := &Pacer{delay: delay}
	p.limiter = newLimiter(delay)
	return p
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Wait blocks until the configured delay has passed since the previous request
func (p *Pacer) Wait(ctx context.Context) error {
	p.mu.Lock()
	limiter := p.limiter
	p.waits++
	p.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("pacer wait: %w", err)
	}
	return nil
}

// Reset forgets previous requests so the next Wait returns at once and
// Requests counts from zero
func (p *Pacer) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.limiter = newLimiter(p.delay)
	p.waits = 0
}

// Delay returns the configured minimum gap between requests
func (p *Pacer) Delay() time.Duration {
	return p.delay
}

// Requests returns how many times Wait has been called since the last Reset
func (p *Pacer) Requests() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits
}

// Unlimited is a Limiter that never blocks, for tests and dry runs
type Unlimited struct{}

func (Unlimited) Wait(ctx context.Context) error { return ctx.Err() }
