package weather

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerConfig controls when the circuit opens and for how long.
type BreakerConfig struct {
	// TripFailures consecutive failures open the circuit. <0 disables it.
	TripFailures int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	// ResetAfter forgets old failures when the last one is this old.
	ResetAfter time.Duration
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.TripFailures == 0 {
		c.TripFailures = 5
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = 5 * time.Second
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 2 * time.Minute
	}
	if c.ResetAfter <= 0 {
		c.ResetAfter = 5 * time.Minute
	}
	return c
}

// Breaker stops calling a failing provider for an exponentially growing
// cooldown. ErrNoData and caller cancellation do not count as failures.
type Breaker struct {
	next Provider
	cfg  BreakerConfig
	now  func() time.Time

	mu          sync.Mutex
	fails       int
	openUntil   time.Time
	lastFailure time.Time
}

// NewBreaker wraps next with a consecutive-failure circuit breaker.
func NewBreaker(next Provider, cfg BreakerConfig) *Breaker {
	return &Breaker{next: next, cfg: cfg.withDefaults(), now: time.Now}
}

// Current fails fast with ErrCircuitOpen while the circuit is open.
func (b *Breaker) Current(ctx context.Context, location string) (Conditions, error) {
	if b.cfg.TripFailures < 0 {
		return b.next.Current(ctx, location)
	}
	if until, open := b.isOpen(); open {
		return Conditions{}, &openError{until: until}
	}
	c, err := b.next.Current(ctx, location)
	b.record(err, ctx.Err() != nil)
	return c, err
}

// State reports the consecutive failure count and whether the circuit is open.
func (b *Breaker) State() (fails int, open bool) {
	_, open = b.isOpen()
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.fails, open
}

func (b *Breaker) isOpen() (time.Time, bool) {
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetLocked(now)
	if !b.openUntil.IsZero() && now.Before(b.openUntil) {
		return b.openUntil, true
	}
	return time.Time{}, false
}

func (b *Breaker) maybeResetLocked(now time.Time) {
	if !b.lastFailure.IsZero() && now.Sub(b.lastFailure) > b.cfg.ResetAfter {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
	}
}

func (b *Breaker) record(err error, canceled bool) {
	if canceled || errors.Is(err, ErrNoData) {
		return
	}
	now := b.now()
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeResetLocked(now)

	if err == nil {
		b.fails = 0
		b.openUntil = time.Time{}
		b.lastFailure = time.Time{}
		return
	}
	b.fails++
	b.lastFailure = now
	if b.fails < b.cfg.TripFailures {
		return
	}
	d := b.cfg.BaseDelay
	for i := b.cfg.TripFailures; i < b.fails && d < b.cfg.MaxDelay; i++ {
		d *= 2
	}
	b.openUntil = now.Add(min(d, b.cfg.MaxDelay))
}

type openError struct{ until time.Time }

func (e *openError) Error() string {
	return ErrCircuitOpen.Error() + " until " + e.until.Format(time.RFC3339)
}

func (e *openError) Unwrap() error { return ErrCircuitOpen }
