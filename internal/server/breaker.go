// breaker.go - Circuit breaker for the audit database.
//
// After repeated write failures the audit trail is skipped for a cooldown
// so a dead database costs each transfer nothing.
package server

import (
	"errors"
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

func (s CircuitState) String() string {
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

// ErrCircuitOpen is returned while the breaker is failing fast.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// circuitBreaker opens after maxFailures consecutive failures and lets a
// single probe through once cooldown has elapsed. Errors matched by benign
// count as successes for the breaker.
type circuitBreaker struct {
	mu sync.Mutex

	maxFailures int
	cooldown    time.Duration
	now         func() time.Time
	benign      func(error) bool

	state    CircuitState
	failures int
	openedAt time.Time
	probing  bool
	rejected uint64
}

func newCircuitBreaker(maxFailures int, cooldown time.Duration) *circuitBreaker {
	return &circuitBreaker{
		maxFailures: maxFailures,
		cooldown:    cooldown,
		now:         time.Now,
	}
}

// Do runs fn unless the breaker is open. A rejected call returns
// ErrCircuitOpen without running fn.
func (cb *circuitBreaker) Do(fn func() error) error {
	ok, probe := cb.admit()
	if !ok {
		return ErrCircuitOpen
	}
	err := fn()
	cb.done(err, probe)
	return err
}

// admit reports whether a call may run and whether it is the half-open
// probe. Only the probe's outcome decides the half-open state.
func (cb *circuitBreaker) admit() (ok, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.cooldown {
			cb.rejected++
			return false, false
		}
		cb.state = StateHalfOpen
		cb.probing = true
		return true, true
	case StateHalfOpen:
		// One probe at a time.
		if cb.probing {
			cb.rejected++
			return false, false
		}
		cb.probing = true
		return true, true
	default:
		return true, false
	}
}

func (cb *circuitBreaker) done(err error, probe bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if probe {
		cb.probing = false
	} else if cb.state != StateClosed {
		// A call admitted before the breaker tripped says nothing about
		// recovery.
		return
	}

	if err == nil || (cb.benign != nil && cb.benign(err)) {
		cb.state = StateClosed
		cb.failures = 0
		return
	}

	cb.failures++
	if probe || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current state.
func (cb *circuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Rejected returns how many calls were refused while open.
func (cb *circuitBreaker) Rejected() uint64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejected
}
