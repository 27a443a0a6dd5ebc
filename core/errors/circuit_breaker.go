package errors

import (
	"sync"
	"time"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed allows requests to proceed normally.
	CircuitClosed CircuitState = iota

	// CircuitOpen blocks all requests during cooldown.
	CircuitOpen

	// CircuitHalfOpen allows probe requests to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures trip and recovery thresholds.
type CircuitBreakerConfig struct {
	// ConsecutiveFailures trips the breaker when reached.
	ConsecutiveFailures int `yaml:"consecutive_failures"`

	// CooldownDuration is the time before transitioning to half-open.
	CooldownDuration time.Duration `yaml:"cooldown_duration"`

	// SuccessThreshold is the number of half-open successes needed to close.
	SuccessThreshold int `yaml:"success_threshold"`
}

// DefaultCircuitBreakerConfig returns the default configuration.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		ConsecutiveFailures: 3,
		CooldownDuration:    30 * time.Second,
		SuccessThreshold:    2,
	}
}

// CircuitBreaker guards a flaky collaborator (the full-text index, a model
// endpoint) so a run of failures stops generating load until cooldown.
type CircuitBreaker struct {
	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	config      CircuitBreakerConfig
	resourceID  string
}

// NewCircuitBreaker creates a breaker for the named resource.
func NewCircuitBreaker(resourceID string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.ConsecutiveFailures <= 0 {
		config.ConsecutiveFailures = DefaultCircuitBreakerConfig().ConsecutiveFailures
	}
	if config.CooldownDuration <= 0 {
		config.CooldownDuration = DefaultCircuitBreakerConfig().CooldownDuration
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultCircuitBreakerConfig().SuccessThreshold
	}
	return &CircuitBreaker{
		state:      CircuitClosed,
		config:     config,
		resourceID: resourceID,
	}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return true
	case CircuitOpen:
		if time.Since(cb.lastFailure) >= cb.config.CooldownDuration {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return true
		}
		return false
	case CircuitHalfOpen:
		return true
	}
	return false
}

// RecordResult tracks the outcome of an operation.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if success {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = CircuitClosed
			}
		}
		return
	}

	cb.failures++
	cb.lastFailure = time.Now()
	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.ConsecutiveFailures {
		cb.state = CircuitOpen
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ResourceID returns the name of the guarded resource.
func (cb *CircuitBreaker) ResourceID() string {
	return cb.resourceID
}
