package postgres

import (
	"context"
	"errors"
	"log/slog"
	"time"

	kerrors "katalyst/internal/errors"
	"katalyst/internal/metrics"
	"katalyst/internal/resilience"
)

// CircuitBreakerState is the three-state circuit breaker machine guarding
// repeated calls to an unhealthy database.
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// CircuitBreaker trips open after maxFailures consecutive failures and
// stays open for resetTimeout before allowing a single half-open probe.
type CircuitBreaker struct {
	state        CircuitBreakerState
	failureCount int
	maxFailures  int
	resetTimeout time.Duration
	lastFailure  time.Time
}

func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

var ErrCircuitBreakerOpen = errCircuitOpen{}

type errCircuitOpen struct{}

func (errCircuitOpen) Error() string { return "circuit breaker is open" }

// Call runs operation, tracking failures toward the open threshold.
func (cb *CircuitBreaker) Call(operation func() error) error {
	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			cb.state = StateHalfOpen
		} else {
			return ErrCircuitBreakerOpen
		}
	}

	if err := operation(); err != nil {
		cb.failureCount++
		cb.lastFailure = time.Now()
		if cb.failureCount >= cb.maxFailures {
			cb.state = StateOpen
		}
		return err
	}
	cb.failureCount = 0
	cb.state = StateClosed
	return nil
}

func (cb *CircuitBreaker) IsOpen() bool { return cb.state == StateOpen }

func (cb *CircuitBreaker) Reset() {
	cb.state = StateClosed
	cb.failureCount = 0
	cb.lastFailure = time.Time{}
}

// OpenWithRetry runs Open under policy, routing each attempt through
// breaker (if non-nil) so repeated startup failures trip open instead
// of hammering an unreachable server. Configuration errors never retry;
// the last connection error is returned once policy's attempts are
// spent or the error classifies non-retryable.
func OpenWithRetry(ctx context.Context, cfg *Config, policy resilience.Policy, breaker *CircuitBreaker, logger *slog.Logger, m *metrics.AdapterMetrics) (*Pool, error) {
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var pool *Pool
		open := func() error {
			var err error
			pool, err = Open(ctx, cfg, logger, m)
			return err
		}

		var err error
		if breaker != nil {
			err = breaker.Call(open)
		} else {
			err = open()
		}
		if err == nil {
			return pool, nil
		}
		lastErr = err

		var cfgErr *kerrors.ConfigurationError
		if errors.As(err, &cfgErr) {
			break
		}
		if attempt == maxAttempts || !policy.IsRetryable(err) {
			break
		}
		if logger != nil {
			logger.Warn("postgres open failed, retrying",
				"attempt", attempt, "max_attempts", maxAttempts, "error", err)
		}
		if !resilience.Wait(ctx, policy.DelayForAttempt(attempt)) {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
