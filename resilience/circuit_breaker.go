package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/wardline/wardline/core"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed allows all requests through
	StateClosed CircuitState = iota
	// StateOpen blocks all requests
	StateOpen
	// StateHalfOpen allows a single probe request
	StateHalfOpen
)

// String returns the string representation of the state
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

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name identifies the circuit breaker (for logging/metrics)
	Name string

	// FailureThreshold is the number of consecutive failures before opening
	FailureThreshold int

	// ResetTimeout is how long to wait in open state before admitting a
	// half-open probe
	ResetTimeout time.Duration

	// Logger for state transitions
	Logger core.Logger

	// OnStateChange is invoked on every transition (for metrics)
	OnStateChange func(name string, from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns production-ready defaults
func DefaultCircuitBreakerConfig(name string) *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		Logger:           &core.NoOpLogger{},
	}
}

// CircuitBreaker implements the closed/open/half-open pattern with a
// consecutive-failure trip condition. In half-open state exactly one probe
// is admitted; its outcome decides whether the circuit closes or re-opens.
type CircuitBreaker struct {
	config *CircuitBreakerConfig

	mu               sync.Mutex
	state            CircuitState
	consecutiveFails int
	openedAt         time.Time
	probeInFlight    bool
}

// NewCircuitBreaker creates a circuit breaker in the closed state
func NewCircuitBreaker(config *CircuitBreakerConfig) *CircuitBreaker {
	if config == nil {
		config = DefaultCircuitBreakerConfig("default")
	}
	if config.Logger == nil {
		config.Logger = &core.NoOpLogger{}
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// CanExecute returns true if the circuit breaker would admit a call.
// In half-open state only the first caller is admitted as the probe.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.ResetTimeout {
			cb.transition(StateHalfOpen)
			cb.probeInFlight = true
			return true
		}
		return false
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess records a successful call
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	if cb.state == StateHalfOpen {
		cb.probeInFlight = false
		cb.transition(StateClosed)
	}
}

// RecordFailure records a failed call
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		// Probe failed, back to open
		cb.probeInFlight = false
		cb.openedAt = time.Now()
		cb.transition(StateOpen)
	case StateClosed:
		cb.consecutiveFails++
		if cb.consecutiveFails >= cb.config.FailureThreshold {
			cb.openedAt = time.Now()
			cb.transition(StateOpen)
		}
	}
}

// Execute runs fn with circuit breaker protection. If the circuit is open
// it returns core.ErrCircuitBreakerOpen without invoking fn.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.CanExecute() {
		return core.ErrCircuitBreakerOpen
	}

	if err := fn(); err != nil {
		cb.RecordFailure()
		return err
	}

	cb.RecordSuccess()
	return nil
}

// GetState returns the current state
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Lazily advance open → half-open so callers observing state see the
	// same answer CanExecute would give.
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.config.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFails = 0
	cb.probeInFlight = false
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

// transition changes state and notifies. Caller must hold cb.mu.
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to

	cb.config.Logger.Info("Circuit breaker state change", map[string]interface{}{
		"name": cb.config.Name,
		"from": from.String(),
		"to":   to.String(),
	})
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.config.Name, from, to)
	}
}
