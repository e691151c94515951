// Package circuitbreaker implements the three-state circuit breaker shared by
// the worker heartbeat loop and any other guarded outbound call.
package circuitbreaker

import (
	"sync"
	"time"
)

// State is one of Closed, Open, HalfOpen.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker is a concurrency-safe circuit breaker. Unlike a counted half-open
// trial window, this breaker matches spec.md §4.5 exactly: a single
// transition to HalfOpen on the first Allow() call after the recovery
// timeout elapses, closing again on the next success and reopening on the
// next failure.
type Breaker struct {
	mu              sync.Mutex
	threshold       int
	recoveryTimeout time.Duration
	state           State
	failures        int
	lastFailure     time.Time
}

// New creates a breaker with the given consecutive-failure threshold and
// recovery timeout.
func New(threshold int, recoveryTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = 60 * time.Second
	}
	return &Breaker{threshold: threshold, recoveryTimeout: recoveryTimeout, state: StateClosed}
}

// Allow reports whether a request may proceed, performing the Open->HalfOpen
// transition as a side effect once the recovery timeout has elapsed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.recoveryTimeout {
			b.state = StateHalfOpen
			return true
		}
		return false
	default: // StateHalfOpen
		return true
	}
}

// RecordSuccess resets the failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.state = StateClosed
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is met.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	b.lastFailure = time.Now()
	if b.failures >= b.threshold {
		b.state = StateOpen
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
