// Package resilience guards calls to unreliable dependencies.
package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN"
)

// ErrCircuitOpen is returned without calling through while the circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that open the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that close it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before a probe is allowed.
	Timeout time.Duration
	// IsFailure decides whether an error counts against the circuit.
	// Nil counts every error except context cancellation.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the lock.
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns the stock thresholds.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// CircuitBreaker stops calling a dependency after repeated failures and
// lets a probe through once Timeout has passed.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	now    func() time.Time

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	probing         bool
	openedAt        time.Time
	lastStateChange time.Time

	totalRequests  int64
	totalFailures  int64
	totalSuccesses int64
	totalRejected  int64
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	if config.IsFailure == nil {
		config.IsFailure = defaultIsFailure
	}
	return &CircuitBreaker{
		name:            name,
		config:          config,
		now:             time.Now,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

func defaultIsFailure(err error) bool {
	return err != nil && !errors.Is(err, context.Canceled)
}

// Execute runs fn unless the circuit is open.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	_, err := ExecuteWithResult(cb, ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithResult runs fn unless the circuit is open and records the outcome.
func ExecuteWithResult[T any](cb *CircuitBreaker, ctx context.Context, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := cb.allowRequest(); err != nil {
		return zero, err
	}

	v, err := fn(ctx)
	cb.record(err)
	if err != nil {
		return zero, err
	}
	return v, nil
}

func (cb *CircuitBreaker) allowRequest() error {
	cb.mu.Lock()

	switch cb.state {
	case CircuitOpen:
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			cb.totalRejected++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		from := cb.transitionLocked(CircuitHalfOpen)
		cb.probing = true
		cb.totalRequests++
		cb.mu.Unlock()
		cb.changed(from, CircuitHalfOpen)
		return nil
	case CircuitHalfOpen:
		// One probe at a time.
		if cb.probing {
			cb.totalRejected++
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		cb.probing = true
	}

	cb.totalRequests++
	cb.mu.Unlock()
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	cb.probing = false

	failed := err != nil && cb.config.IsFailure(err)
	var from, to CircuitState

	switch {
	case err != nil && !failed:
		// Neutral outcome, e.g. the caller cancelled.
	case failed:
		cb.totalFailures++
		switch cb.state {
		case CircuitClosed:
			cb.failures++
			if cb.failures >= cb.config.FailureThreshold {
				from, to = cb.transitionLocked(CircuitOpen), CircuitOpen
			}
		case CircuitHalfOpen:
			from, to = cb.transitionLocked(CircuitOpen), CircuitOpen
		}
	default:
		cb.totalSuccesses++
		switch cb.state {
		case CircuitClosed:
			cb.failures = 0
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				from, to = cb.transitionLocked(CircuitClosed), CircuitClosed
			}
		}
	}
	cb.mu.Unlock()

	if to != "" {
		cb.changed(from, to)
	}
}

func (cb *CircuitBreaker) transitionLocked(state CircuitState) CircuitState {
	from := cb.state
	cb.state = state
	cb.lastStateChange = cb.now()
	cb.failures = 0
	cb.successes = 0
	if state == CircuitOpen {
		cb.openedAt = cb.lastStateChange
	}
	return from
}

func (cb *CircuitBreaker) changed(from, to CircuitState) {
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
}

// State returns the current circuit state. An open circuit whose
// timeout has passed still reports OPEN until the next call.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset closes the circuit and clears the failure count.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.transitionLocked(CircuitClosed)
	cb.probing = false
	cb.mu.Unlock()

	if from != CircuitClosed {
		cb.changed(from, CircuitClosed)
	}
}

// Stats returns circuit breaker statistics.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		TotalRequests:   cb.totalRequests,
		TotalSuccesses:  cb.totalSuccesses,
		TotalFailures:   cb.totalFailures,
		TotalRejected:   cb.totalRejected,
		CurrentFailures: cb.failures,
		LastStateChange: cb.lastStateChange,
	}
}

// CircuitBreakerStats holds circuit breaker statistics.
type CircuitBreakerStats struct {
	Name            string       `json:"name"`
	State           CircuitState `json:"state"`
	TotalRequests   int64        `json:"total_requests"`
	TotalSuccesses  int64        `json:"total_successes"`
	TotalFailures   int64        `json:"total_failures"`
	TotalRejected   int64        `json:"total_rejected"`
	CurrentFailures int          `json:"current_failures"`
	LastStateChange time.Time    `json:"last_state_change"`
}

// FailureRate returns the failure rate as a percentage.
func (s CircuitBreakerStats) FailureRate() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.TotalFailures) / float64(s.TotalRequests) * 100
}
