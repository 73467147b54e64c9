// Package circuitbreaker protects the generative resolution oracle
// from cascading failures. A run of oracle errors opens the circuit;
// resolution then escalates instead of queueing doomed calls.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

// State represents the circuit breaker state
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

// ErrCircuitOpen is returned when the circuit rejects a request.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// ErrTooManyConcurrentRequests limits probes in half-open state.
var ErrTooManyConcurrentRequests = errors.New("too many concurrent requests in half-open state")

// Config holds circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open before closing
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing
	Timeout time.Duration
	// MaxConcurrentRequests in half-open state
	MaxConcurrentRequests int
	// OnStateChange is called on state transitions
	OnStateChange func(from, to State)
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:      5,
		SuccessThreshold:      2,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// CircuitBreaker implements the circuit breaker pattern with atomic
// state transitions.
type CircuitBreaker struct {
	config *Config

	state           int32 // atomic State
	lastFailureTime int64 // atomic unix nano

	consecutiveFailures  int32
	consecutiveSuccesses int32
	halfOpenRequests     int32

	totalRequests   int64
	totalFailures   int64
	totalSuccesses  int64
	totalRejections int64
}

// New creates a circuit breaker.
func New(config *Config) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}
	return &CircuitBreaker{
		config: config,
		state:  int32(StateClosed),
	}
}

// Execute runs fn with circuit breaker protection.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.canExecute(); err != nil {
		atomic.AddInt64(&cb.totalRejections, 1)
		return err
	}

	atomic.AddInt64(&cb.totalRequests, 1)
	err := fn(ctx)
	cb.recordResult(err)
	return err
}

func (cb *CircuitBreaker) canExecute() error {
	switch cb.getState() {
	case StateClosed:
		return nil

	case StateOpen:
		if cb.shouldProbe() {
			cb.transitionTo(StateHalfOpen)
			return nil
		}
		return ErrCircuitOpen

	case StateHalfOpen:
		current := atomic.AddInt32(&cb.halfOpenRequests, 1)
		if current > int32(cb.config.MaxConcurrentRequests) {
			atomic.AddInt32(&cb.halfOpenRequests, -1)
			return ErrTooManyConcurrentRequests
		}
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state: %v", cb.getState())
	}
}

func (cb *CircuitBreaker) recordResult(err error) {
	state := cb.getState()

	if err != nil {
		cb.recordFailure()
	} else {
		cb.recordSuccess()
	}

	if state == StateHalfOpen {
		atomic.AddInt32(&cb.halfOpenRequests, -1)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	atomic.AddInt64(&cb.totalSuccesses, 1)

	switch cb.getState() {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
	case StateHalfOpen:
		if atomic.AddInt32(&cb.consecutiveSuccesses, 1) >= int32(cb.config.SuccessThreshold) {
			cb.transitionTo(StateClosed)
		}
	case StateOpen:
		// open state transitions only via timeout probe
	}
}

func (cb *CircuitBreaker) recordFailure() {
	atomic.AddInt64(&cb.totalFailures, 1)
	atomic.StoreInt64(&cb.lastFailureTime, time.Now().UnixNano())

	switch cb.getState() {
	case StateClosed:
		if atomic.AddInt32(&cb.consecutiveFailures, 1) >= int32(cb.config.FailureThreshold) {
			cb.transitionTo(StateOpen)
		}
	case StateHalfOpen:
		// any failure while probing reopens the circuit
		cb.transitionTo(StateOpen)
	case StateOpen:
	}
}

func (cb *CircuitBreaker) shouldProbe() bool {
	lastFailure := atomic.LoadInt64(&cb.lastFailureTime)
	if lastFailure == 0 {
		return true
	}
	return time.Since(time.Unix(0, lastFailure)) >= cb.config.Timeout
}

func (cb *CircuitBreaker) transitionTo(newState State) {
	oldState := State(atomic.SwapInt32(&cb.state, int32(newState)))
	if oldState == newState {
		return
	}

	switch newState {
	case StateClosed:
		atomic.StoreInt32(&cb.consecutiveFailures, 0)
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	case StateOpen:
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
	case StateHalfOpen:
		atomic.StoreInt32(&cb.consecutiveSuccesses, 0)
		atomic.StoreInt32(&cb.halfOpenRequests, 0)
	}

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, newState)
	}
}

func (cb *CircuitBreaker) getState() State {
	return State(atomic.LoadInt32(&cb.state))
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() State {
	return cb.getState()
}

// Stats holds circuit breaker counters.
type Stats struct {
	State           State  `json:"-"`
	StateName       string `json:"state"`
	TotalRequests   int64  `json:"total_requests"`
	TotalFailures   int64  `json:"total_failures"`
	TotalSuccesses  int64  `json:"total_successes"`
	TotalRejections int64  `json:"total_rejections"`
}

// GetStats returns a snapshot of the counters.
func (cb *CircuitBreaker) GetStats() Stats {
	state := cb.getState()
	return Stats{
		State:           state,
		StateName:       state.String(),
		TotalRequests:   atomic.LoadInt64(&cb.totalRequests),
		TotalFailures:   atomic.LoadInt64(&cb.totalFailures),
		TotalSuccesses:  atomic.LoadInt64(&cb.totalSuccesses),
		TotalRejections: atomic.LoadInt64(&cb.totalRejections),
	}
}
