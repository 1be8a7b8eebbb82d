package errors

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where calls pass through.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and calls fail fast.
	StateOpen
	// StateHalfOpen lets a single probe through after the reset timeout.
	StateHalfOpen
)

// String returns a string representation of the state.
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

// CircuitBreaker fails fast once a collaborator has failed maxFailures times
// in a row. The search index adapter uses one so a dead index does not pin
// every queue worker inside a slow write. Only errors accepted by the trip
// filter count as failures; the rest pass through without touching state.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	trips        func(error) bool
	now          func() time.Time

	mu          sync.Mutex
	state       State
	failures    int
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets the number of consecutive failures before opening.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.maxFailures = n
	}
}

// WithResetTimeout sets the time to wait before probing again.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = d
	}
}

// WithTripFilter sets which errors count towards opening the circuit.
func WithTripFilter(trips func(error) bool) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.trips = trips
	}
}

// TripsOnFailure is the default trip filter. Cancellation says nothing
// about the collaborator, and neither does a rejected argument.
func TripsOnFailure(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return GetCategory(err) != CategoryArgument
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Default: 5 failures, 30 second reset timeout, TripsOnFailure.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         name,
		maxFailures:  5,
		resetTimeout: 30 * time.Second,
		trips:        TripsOnFailure,
		now:          time.Now,
		state:        StateClosed,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState must be called with mu held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Failures returns the current consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

// Execute runs fn through the breaker. It returns ErrCircuitOpen without
// calling fn while the circuit is open. While half-open one probe runs and
// its outcome decides the next state.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	state := cb.currentState()
	cb.mu.Unlock()
	if state == StateOpen {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil && !cb.trips(err) {
		return err
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.setState(StateClosed)
		cb.failures = 0
		return nil
	}
	cb.failures++
	cb.lastFailure = cb.now()
	if state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.setState(StateOpen)
	}
	return err
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(next State) {
	if cb.state == next {
		return
	}
	slog.Warn("circuit breaker state changed",
		slog.String("breaker", cb.name),
		slog.String("from", cb.state.String()),
		slog.String("to", next.String()),
		slog.Int("failures", cb.failures))
	cb.state = next
}
