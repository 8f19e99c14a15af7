package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Calls fail immediately
	StateHalfOpen                     // A few trial calls probe for recovery
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// StateChangeFunc is notified on every state transition
type StateChangeFunc func(name string, from, to CircuitState)

// BreakerOption customizes a CircuitBreaker
type BreakerOption func(*CircuitBreaker)

// WithHalfOpenTrials sets how many trial calls half-open admits, and how many
// must succeed before the circuit closes again.
func WithHalfOpenTrials(n int) BreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.halfOpenMax = n
		}
	}
}

// WithBreakerClock overrides the time source
func WithBreakerClock(now func() time.Time) BreakerOption {
	return func(cb *CircuitBreaker) {
		cb.now = now
	}
}

// Stats is a snapshot of a breaker, reported by readiness checks
type Stats struct {
	Name                string    `json:"name"`
	State               string    `json:"state"`
	Requests            int64     `json:"requests"`
	Failures            int64     `json:"failures"`
	ConsecutiveFailures int       `json:"consecutiveFailures"`
	LastFailure         time.Time `json:"lastFailure,omitempty"`
}

// FailureRate returns the share of recorded calls that failed, in percent
func (s Stats) FailureRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Failures) / float64(s.Requests) * 100
}

// CircuitBreaker guards one capability backend. Consecutive failures open
// it; after resetTimeout a limited number of trial calls decide whether it
// closes again.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time

	mu            sync.Mutex
	onStateChange StateChangeFunc
	state         CircuitState
	consecutive   int
	openedAt      time.Time
	trials        int // admitted while half-open
	trialSuccess  int
	requests      int64
	failures      int64
	lastFailure   time.Time
}

// NewCircuitBreaker creates a closed breaker. maxFailures below one is treated as one.
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration, opts ...BreakerOption) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 1
	}
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		halfOpenMax:  3,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// OnStateChange registers a transition callback. It runs with the breaker
// locked and must not call back into it.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CallContext runs fn unless the circuit is open. A call abandoned because
// the caller cancelled ctx is not counted as a backend failure.
func (cb *CircuitBreaker) CallContext(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.admit() {
		return ErrCircuitOpen
	}

	err := fn(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		cb.giveBackTrial()
		return err
	}
	cb.RecordResult(err == nil)
	return err
}

func (cb *CircuitBreaker) admit() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false
		}
		cb.transition(StateHalfOpen)
		cb.trials, cb.trialSuccess = 1, 0
		return true
	case StateHalfOpen:
		if cb.trials >= cb.halfOpenMax {
			return false
		}
		cb.trials++
		return true
	}
	return true
}

func (cb *CircuitBreaker) giveBackTrial() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateHalfOpen && cb.trials > 0 {
		cb.trials--
	}
}

// RecordResult records the outcome of one call
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.requests++
	if success {
		switch cb.state {
		case StateClosed:
			cb.consecutive = 0
		case StateHalfOpen:
			cb.trialSuccess++
			if cb.trialSuccess >= cb.halfOpenMax {
				cb.transition(StateClosed)
			}
		}
		return
	}

	cb.failures++
	cb.consecutive++
	cb.lastFailure = cb.now()

	// A single failed trial reopens the circuit
	if cb.state == StateHalfOpen || (cb.state == StateClosed && cb.consecutive >= cb.maxFailures) {
		cb.transition(StateOpen)
	}
}

// transition moves to state and resets the per-state counters. Caller holds mu.
func (cb *CircuitBreaker) transition(state CircuitState) {
	if cb.state == state {
		return
	}
	from := cb.state
	cb.state = state

	switch state {
	case StateOpen:
		cb.openedAt = cb.now()
		cb.trials, cb.trialSuccess = 0, 0
	case StateClosed:
		cb.consecutive = 0
		cb.trials, cb.trialSuccess = 0, 0
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, state)
	}
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Stats returns a snapshot of the breaker
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		Name:                cb.name,
		State:               cb.state.String(),
		Requests:            cb.requests,
		Failures:            cb.failures,
		ConsecutiveFailures: cb.consecutive,
		LastFailure:         cb.lastFailure,
	}
}
