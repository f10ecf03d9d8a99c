// Package reliability classifies and retries transient failures from
// the underlying database handle (lock contention, busy connections)
// without ever retrying a merge-logic rejection or validation error,
// which are not transient and would not succeed on a second attempt.
package reliability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aphrodite-sh/cf-sqlite/pkg/crrerrors"
)

// ErrorType classifies the failures the merge engine can see from its
// DBHandle.
type ErrorType int

const (
	ErrorTypeConnection ErrorType = iota
	ErrorTypeTransaction
)

// RecoveryStrategy configures retry behavior for one ErrorType.
type RecoveryStrategy struct {
	MaxRetries    int
	RetryInterval time.Duration
	BackoffFactor float64
	OnError       func(attempt int, err error)
	OnSuccess     func()
}

// ErrorRecoveryManager retries operations that fail with a classified,
// retryable error and keeps a bounded log of what it saw.
type ErrorRecoveryManager struct {
	strategies map[ErrorType]*RecoveryStrategy
	errorLog   []error
	logLock    sync.RWMutex
}

// NewErrorRecoveryManager returns a manager with no strategies
// registered; ExecuteWithRetry falls back to a conservative default
// for any ErrorType without one.
func NewErrorRecoveryManager() *ErrorRecoveryManager {
	return &ErrorRecoveryManager{
		strategies: make(map[ErrorType]*RecoveryStrategy),
		errorLog:   make([]error, 0),
	}
}

// RegisterStrategy installs the retry policy for one ErrorType.
func (m *ErrorRecoveryManager) RegisterStrategy(t ErrorType, s *RecoveryStrategy) {
	m.strategies[t] = s
}

// ExecuteWithRetry runs fn, retrying per t's registered strategy (or a
// default of 3 retries at a 100ms interval) as long as fn keeps
// failing with a DbError. A non-DbError failure (a merge rejection or
// a validation error) is never retried: it is returned immediately.
func (m *ErrorRecoveryManager) ExecuteWithRetry(t ErrorType, fn func() error) error {
	strategy, ok := m.strategies[t]
	if !ok {
		strategy = &RecoveryStrategy{
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
			BackoffFactor: 2.0,
		}
	}

	var lastErr error
	interval := strategy.RetryInterval

	for attempt := 0; attempt <= strategy.MaxRetries; attempt++ {
		err := fn()
		if err == nil {
			if strategy.OnSuccess != nil {
				strategy.OnSuccess()
			}
			return nil
		}

		lastErr = err
		m.logError(err)

		if strategy.OnError != nil {
			strategy.OnError(attempt+1, err)
		}

		if !IsRetryable(err) {
			return err
		}

		if attempt < strategy.MaxRetries {
			time.Sleep(interval)
			interval = time.Duration(float64(interval) * strategy.BackoffFactor)
		}
	}

	return fmt.Errorf("max retries (%d) exceeded, last error: %w", strategy.MaxRetries, lastErr)
}

func (m *ErrorRecoveryManager) logError(err error) {
	m.logLock.Lock()
	defer m.logLock.Unlock()

	m.errorLog = append(m.errorLog, err)
	if len(m.errorLog) > 1000 {
		m.errorLog = m.errorLog[len(m.errorLog)-1000:]
	}
}

// ErrorLog returns a snapshot of the retained error history.
func (m *ErrorRecoveryManager) ErrorLog() []error {
	m.logLock.RLock()
	defer m.logLock.RUnlock()

	out := make([]error, len(m.errorLog))
	copy(out, m.errorLog)
	return out
}

// IsRetryable reports whether err is a crrerrors.DbError: the only
// error kind the merge engine ever produces that reflects a transient
// failure of the underlying database handle rather than a merge-logic
// or validation outcome.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var dbErr *crrerrors.DbError
	return errors.As(err, &dbErr)
}

// CircuitState is the state of a CircuitBreaker.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker trips open after a run of consecutive failures and
// stays open until timeout elapses, after which it lets requests through
// (half-open) and closes again after three consecutive successes.
type CircuitBreaker struct {
	failureThreshold int
	failureCount     int
	successThreshold int
	successCount     int
	state            CircuitState
	lastFailureTime  time.Time
	timeout          time.Duration
	mu               sync.Mutex
}

// NewCircuitBreaker returns a closed breaker that opens after
// failureThreshold consecutive failures and attempts recovery after
// timeout.
func NewCircuitBreaker(failureThreshold int, timeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		successThreshold: 3,
		state:            StateClosed,
		timeout:          timeout,
	}
}

// Execute runs fn through the breaker, short-circuiting with an error
// while the breaker is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	if cb.state == StateOpen {
		if time.Since(cb.lastFailureTime) > cb.timeout {
			cb.state = StateHalfOpen
			cb.successCount = 0
		} else {
			cb.mu.Unlock()
			return errors.New("circuit breaker is open")
		}
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.onFailure()
		return err
	}
	cb.onSuccess()
	return nil
}

func (cb *CircuitBreaker) onSuccess() {
	cb.failureCount = 0
	if cb.state == StateHalfOpen {
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.state = StateClosed
		}
	}
}

func (cb *CircuitBreaker) onFailure() {
	cb.failureCount++
	cb.lastFailureTime = time.Now()
	if cb.failureCount >= cb.failureThreshold {
		cb.state = StateOpen
	}
}

// State returns the breaker's current state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset clears the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failureCount = 0
	cb.successCount = 0
	cb.state = StateClosed
}
