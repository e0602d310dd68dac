package resolver

import (
	"context"
	"errors"
	"sync"
	"time"
)

// BreakerState represents the state of a circuit breaker
type BreakerState int

const (
	// BreakerClosed indicates normal operation
	BreakerClosed BreakerState = iota
	// BreakerOpen indicates calls are being rejected
	BreakerOpen
	// BreakerHalfOpen indicates a trial call is allowed through
	BreakerHalfOpen
)

// String returns the string representation of BreakerState
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// ErrBreakerOpen indicates the resolver breaker is open and rejecting calls
var ErrBreakerOpen = errors.New("resolver circuit breaker is open")

// Breaker stops calling the external resolver after repeated infrastructure
// failures. Content failures (private, geo-restricted, ...) say nothing about
// resolver health and are not counted.
type Breaker struct {
	failureThreshold int
	resetTimeout     time.Duration
	state            BreakerState
	failures         int
	openedAt         time.Time
	now              func() time.Time
	mu               sync.Mutex
}

// NewBreaker creates a breaker with the given threshold and reset timeout
func NewBreaker(failureThreshold int, resetTimeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		resetTimeout:     resetTimeout,
		state:            BreakerClosed,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed, moving an expired open breaker to half-open
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerOpen {
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrBreakerOpen
		}
		b.state = BreakerHalfOpen
	}
	return nil
}

// Record feeds the outcome of a call back into the breaker
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !countsAsFailure(err) {
		b.failures = 0
		b.state = BreakerClosed
		return
	}

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.failureThreshold {
		b.state = BreakerOpen
		b.openedAt = b.now()
	}
}

// State returns the current breaker state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return BreakerHalfOpen
	}
	return b.state
}

// Reset returns the breaker to its initial state
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.failures = 0
	b.openedAt = time.Time{}
}

// countsAsFailure reports whether err reflects resolver health rather than the media itself
func countsAsFailure(err error) bool {
	if err == nil || errors.Is(err, ErrNoResults) || errors.Is(err, ErrEmptyLocator) ||
		errors.Is(err, context.Canceled) {
		return false
	}
	switch KindOf(err) {
	case KindExtractionFailed, KindUnknown:
		return true
	default:
		return false
	}
}
