// Package circuitbreaker guards outbound calls to a flaky collaborator so a
// dead signaling server costs one error instead of a timeout per request.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed   State = iota // Normal operation, requests pass through
	StateOpen                  // Circuit is open, requests fail immediately
	StateHalfOpen              // Testing if service recovered, limited requests allowed
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

// ErrOpen is returned when the circuit rejects a request without trying it.
var ErrOpen = errors.New("circuit breaker open")

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold int           // Consecutive failures before opening the circuit
	SuccessThreshold int           // Successes in half-open state needed to close
	OpenTimeout      time.Duration // Time to wait before probing again
	HalfOpenMax      int           // Max in-flight probes while half-open
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
		HalfOpenMax:      3,
	}
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	config Config

	mu           sync.Mutex
	state        State
	failures     int
	successes    int
	halfOpenUsed int
	changedAt    time.Time

	onStateChange func(from, to State)
}

// New creates a new circuit breaker with the given configuration
func New(config Config) *Breaker {
	return &Breaker{
		config:    config,
		state:     StateClosed,
		changedAt: time.Now(),
	}
}

// OnStateChange registers a callback invoked on every state transition.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = fn
}

// Do runs fn through the breaker. When the circuit is open the call is
// rejected with ErrOpen and fn never runs; fn's own error is returned
// unwrapped otherwise.
func (b *Breaker) Do(fn func() error) error {
	if !b.allow() {
		return ErrOpen
	}

	err := fn()
	if err != nil {
		b.recordFailure()
		return err
	}
	b.recordSuccess()
	return nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if time.Since(b.changedAt) >= b.config.OpenTimeout {
			b.transitionTo(StateHalfOpen)
			b.halfOpenUsed = 1
			return true
		}
		return false

	case StateHalfOpen:
		if b.halfOpenUsed >= b.config.HalfOpenMax {
			return false
		}
		b.halfOpenUsed++
		return true

	default:
		return true
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.successes = 0

	switch b.state {
	case StateClosed:
		if b.failures >= b.config.FailureThreshold {
			b.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// One failed probe reopens the circuit.
		b.transitionTo(StateOpen)
	}
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.successes++

	if b.state == StateHalfOpen && b.successes >= b.config.SuccessThreshold {
		b.transitionTo(StateClosed)
	}
}

func (b *Breaker) transitionTo(newState State) {
	if b.state == newState {
		return
	}

	oldState := b.state
	b.state = newState
	b.changedAt = time.Now()
	b.failures = 0
	b.successes = 0
	b.halfOpenUsed = 0

	if b.onStateChange != nil {
		go b.onStateChange(oldState, newState)
	}
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionTo(StateClosed)
}
