// Package circuitbreaker stops calling an unhealthy API server until it has had time to recover.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the state of a circuit breaker
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Options tune a breaker. Zero values take the defaults.
type Options struct {
	// MaxFailures consecutive failures open the circuit. Default 5.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before probing. Default 30s.
	Timeout time.Duration
	// HalfOpenMaxCalls successful probes close the circuit again. Default 3.
	HalfOpenMaxCalls uint32
	// IsFailure decides which errors count against the server. Default: every non-nil error.
	// Callers return false for answers the server gave on purpose, such as a lost race.
	IsFailure func(error) bool
	// OnStateChange is called after every transition, outside the breaker lock.
	OnStateChange func(name string, from, to State)
}

// CircuitBreaker guards calls to one remote dependency.
type CircuitBreaker struct {
	name string
	opts Options

	mu              sync.Mutex
	state           State
	failures        uint32
	lastFailureTime time.Time
	halfOpenCalls   uint32
	successCount    uint32
	requestCount    uint32

	now    func() time.Time
	logger *logrus.Logger
}

// New creates a breaker named after the dependency it protects.
func New(name string, opts Options, logger *logrus.Logger) *CircuitBreaker {
	if opts.MaxFailures == 0 {
		opts.MaxFailures = 5
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.HalfOpenMaxCalls == 0 {
		opts.HalfOpenMaxCalls = 3
	}
	if opts.IsFailure == nil {
		opts.IsFailure = func(err error) bool { return err != nil }
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &CircuitBreaker{
		name:   name,
		opts:   opts,
		state:  StateClosed,
		now:    time.Now,
		logger: logger,
	}
}

// Execute runs fn unless the circuit is open. Errors that IsFailure rejects are returned
// unchanged but count as successes for the breaker.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.acquire(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil && cb.opts.IsFailure(err) && ctx.Err() == nil {
		cb.onFailure()
	} else {
		cb.onSuccess()
	}
	return err
}

// acquire admits one call, moving an expired open circuit to half-open.
func (cb *CircuitBreaker) acquire() error {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.opts.Timeout {
		cb.state = StateHalfOpen
		cb.halfOpenCalls = 0
		cb.successCount = 0
	}

	var err error
	switch cb.state {
	case StateOpen:
		err = &CircuitBreakerError{Name: cb.name, State: cb.state}
	case StateHalfOpen:
		if cb.halfOpenCalls >= cb.opts.HalfOpenMaxCalls {
			err = &CircuitBreakerError{Name: cb.name, State: cb.state}
		} else {
			cb.halfOpenCalls++
		}
	}
	if err == nil {
		cb.requestCount++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

// onSuccess handles successful requests
func (cb *CircuitBreaker) onSuccess() {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.opts.HalfOpenMaxCalls {
			cb.reset()
		}
	case StateClosed:
		cb.failures = 0
		cb.successCount++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// onFailure handles failed requests
func (cb *CircuitBreaker) onFailure() {
	cb.mu.Lock()
	from := cb.state
	cb.failures++
	cb.lastFailureTime = cb.now()

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.opts.MaxFailures {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.state = StateOpen
	}
	to := cb.state
	failures := cb.failures
	cb.mu.Unlock()

	if to == StateOpen && from != StateOpen {
		cb.logger.WithFields(logrus.Fields{
			"circuit_breaker": cb.name,
			"failures":        failures,
		}).Warn("Circuit breaker opened due to failures")
	}
	cb.notify(from, to)
}

// reset resets the circuit breaker to the closed state
func (cb *CircuitBreaker) reset() {
	cb.state = StateClosed
	cb.failures = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
}

func (cb *CircuitBreaker) notify(from, to State) {
	if from == to {
		return
	}
	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"from":            from.String(),
		"to":              to.String(),
	}).Info("Circuit breaker state changed")
	if cb.opts.OnStateChange != nil {
		cb.opts.OnStateChange(cb.name, from, to)
	}
}

// GetState returns the current state. An open circuit whose timeout elapsed reports
// half-open; the transition itself happens on the next call.
func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.lastFailureTime) >= cb.opts.Timeout {
		return StateHalfOpen
	}
	return cb.state
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return Stats{
		Name:            cb.name,
		State:           cb.state,
		Failures:        cb.failures,
		Requests:        cb.requestCount,
		Successes:       cb.successCount,
		LastFailureTime: cb.lastFailureTime,
	}
}

// Stats represents circuit breaker statistics
type Stats struct {
	Name            string
	State           State
	Failures        uint32
	Requests        uint32
	Successes       uint32
	LastFailureTime time.Time
}

// CircuitBreakerError is returned without calling through while the circuit is open.
type CircuitBreakerError struct {
	Name  string
	State State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s", e.Name, e.State)
}

// IsCircuitBreakerError checks if an error is a circuit breaker error
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
