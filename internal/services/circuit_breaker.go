package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrCircuitOpen is returned when the breaker rejects a call without
// running it. Callers use errors.Is to tell fast-fail from a real failure.
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState is the breaker's position in the closed/open/half-open cycle.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

// String returns the lowercase state name used in logs.
func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig bounds how quickly the breaker trips and recovers.
type CircuitBreakerConfig struct {
	FailureThreshold int           `json:"failure_threshold"`
	SuccessThreshold int           `json:"success_threshold"`
	OpenTimeout      time.Duration `json:"open_timeout"`
	HalfOpenMaxCalls int           `json:"half_open_max_calls"`
	FailureWindow    time.Duration `json:"failure_window"`
}

// CircuitBreakerStats counts calls through the breaker.
type CircuitBreakerStats struct {
	TotalCalls      int64     `json:"total_calls"`
	SuccessfulCalls int64     `json:"successful_calls"`
	FailedCalls     int64     `json:"failed_calls"`
	RejectedCalls   int64     `json:"rejected_calls"`
	StateChanges    int64     `json:"state_changes"`
	LastFailureTime time.Time `json:"last_failure_time"`
}

// CircuitBreaker guards an external dependency, currently Telegram
// delivery, so a dead endpoint fails fast instead of stalling every
// digest run.
type CircuitBreaker struct {
	name   string
	config CircuitBreakerConfig
	logger *logrus.Logger

	mu              sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	halfOpenCalls   int
	lastFailureTime time.Time
	lastStateChange time.Time
	stats           CircuitBreakerStats
}

// NewCircuitBreaker creates a circuit breaker with defaults filled in.
func NewCircuitBreaker(name string, config CircuitBreakerConfig, logger *logrus.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 2
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = 60 * time.Second
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = 3
	}
	if config.FailureWindow <= 0 {
		config.FailureWindow = 5 * time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}

	return &CircuitBreaker{
		name:            name,
		config:          config,
		logger:          logger,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Execute runs fn under breaker protection. The lock is not held while fn
// runs, so slow calls do not serialize each other.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.allow(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.record(err)
	return err
}

// allow decides whether a call may proceed in the current state.
func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.stats.TotalCalls++
	now := time.Now()

	switch cb.state {
	case CircuitClosed:
		// Stale failures outside the window no longer count toward the trip.
		if cb.failureCount > 0 && now.Sub(cb.lastFailureTime) > cb.config.FailureWindow {
			cb.failureCount = 0
		}
		return nil

	case CircuitOpen:
		if now.Sub(cb.lastStateChange) > cb.config.OpenTimeout {
			cb.setState(CircuitHalfOpen)
			cb.halfOpenCalls = 1
			cb.successCount = 0
			return nil
		}
		cb.stats.RejectedCalls++
		return ErrCircuitOpen

	case CircuitHalfOpen:
		if cb.halfOpenCalls >= cb.config.HalfOpenMaxCalls {
			cb.stats.RejectedCalls++
			return ErrCircuitOpen
		}
		cb.halfOpenCalls++
		return nil

	default:
		cb.stats.RejectedCalls++
		return ErrCircuitOpen
	}
}

// record books the call outcome and moves the state machine.
func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		cb.stats.SuccessfulCalls++
		switch cb.state {
		case CircuitClosed:
			cb.failureCount = 0
		case CircuitHalfOpen:
			cb.successCount++
			if cb.successCount >= cb.config.SuccessThreshold {
				cb.setState(CircuitClosed)
				cb.failureCount = 0
				cb.successCount = 0
				cb.halfOpenCalls = 0
			}
		}
		return
	}

	cb.stats.FailedCalls++
	cb.stats.LastFailureTime = time.Now()
	cb.lastFailureTime = time.Now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.setState(CircuitOpen)
		}
	case CircuitHalfOpen:
		// One probe failure reopens the circuit.
		cb.setState(CircuitOpen)
		cb.successCount = 0
		cb.halfOpenCalls = 0
	}
}

// setState transitions the breaker. Callers must hold cb.mu.
func (cb *CircuitBreaker) setState(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState
	cb.lastStateChange = time.Now()
	cb.stats.StateChanges++

	cb.logger.WithFields(logrus.Fields{
		"circuit_breaker": cb.name,
		"old_state":       oldState.String(),
		"new_state":       newState.String(),
		"failure_count":   cb.failureCount,
	}).Info("Circuit breaker state changed")
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// GetStats returns current call counters.
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stats
}

// Reset forces the breaker closed, clearing all trip state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.setState(CircuitClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.halfOpenCalls = 0
}
