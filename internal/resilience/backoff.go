// Package resilience provides the backoff and error-classification
// primitives the transaction manager uses to retry a failed scope.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"strings"
	"syscall"
	"time"
)

// Strategy selects the backoff shape between retry attempts.
type Strategy string

const (
	StrategyExponential Strategy = "exponential"
	StrategyLinear      Strategy = "linear"
	StrategyImmediate   Strategy = "immediate"
)

// Policy mirrors TransactionConfig's retry fields:
// max attempts, backoff strategy, base/max delay, and jitter fraction.
type Policy struct {
	MaxAttempts int
	Strategy    Strategy
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// JitterFraction is applied as ±JitterFraction around the computed
	// delay, e.g. 0.2 for ±20%.
	JitterFraction float64
	// Retryable classifies whether an error should trigger another
	// attempt. Nil means "classify with DefaultIsRetryable".
	Retryable func(error) bool
}

// DefaultPolicy returns the standard retry policy: 3 attempts,
// exponential backoff with a 100ms base / 30s cap, ±20% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		Strategy:       StrategyExponential,
		BaseDelay:      100 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		JitterFraction: 0.2,
	}
}

// DelayForAttempt computes the delay before attempt n (1-indexed; n=1 is
// the delay before the *second* attempt). Per strategy:
//
//	exponential: min(base * 2^(n-1) * (1 ± jitter), maxDelay)
//	linear:      base * n
//	immediate:   0
func (p Policy) DelayForAttempt(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	switch p.Strategy {
	case StrategyLinear:
		return p.BaseDelay * time.Duration(n)
	case StrategyImmediate:
		return 0
	default: // exponential
		raw := float64(p.BaseDelay) * math.Pow(2, float64(n-1))
		if p.JitterFraction > 0 {
			// ±jitter uniformly distributed around raw.
			delta := raw * p.JitterFraction * (rand.Float64()*2 - 1)
			raw += delta
		}
		delay := time.Duration(raw)
		if p.MaxDelay > 0 && delay > p.MaxDelay {
			delay = p.MaxDelay
		}
		if delay < 0 {
			delay = 0
		}
		return delay
	}
}

// IsRetryable applies the policy's classifier, or the package default
// when none is configured.
func (p Policy) IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return DefaultIsRetryable(err)
}

// Wait blocks for delay, returning early with false if ctx is cancelled
// first. This is the suspension point the transaction manager observes
// between retry attempts.
func Wait(ctx context.Context, delay time.Duration) bool {
	if delay <= 0 {
		select {
		case <-ctx.Done():
			return false
		default:
			return true
		}
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// DefaultIsRetryable classifies network errors and timeouts as
// retryable; an error implementing the stdlib Temporary() interface is
// retryable only when Temporary() reports true; errors wrapping
// ErrNonRetryable never are; everything else is treated as retryable.
func DefaultIsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNonRetryable) {
		return false
	}
	if isTransientNetworkError(err) {
		return true
	}
	if isTimeoutError(err) {
		return true
	}
	type temporary interface {
		Temporary() bool
	}
	var te temporary
	if errors.As(err, &te) {
		return te.Temporary()
	}
	return true
}

// ErrNonRetryable marks an error that must never be retried regardless
// of classification.
var ErrNonRetryable = errors.New("error is not retryable")

func isTransientNetworkError(err error) bool {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary()
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		switch {
		case errors.Is(opErr.Err, syscall.ECONNREFUSED),
			errors.Is(opErr.Err, syscall.ECONNRESET),
			errors.Is(opErr.Err, syscall.ENETUNREACH),
			errors.Is(opErr.Err, syscall.EHOSTUNREACH):
			return true
		}
	}
	return false
}

func isTimeoutError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, indicator := range []string{"timeout", "deadline exceeded", "i/o timeout", "timed out"} {
		if strings.Contains(msg, indicator) {
			return true
		}
	}
	type timeout interface {
		Timeout() bool
	}
	var te timeout
	if errors.As(err, &te) {
		return te.Timeout()
	}
	return false
}

// ClassifyError returns a short label for metrics.
func ClassifyError(err error) string {
	if err == nil {
		return "none"
	}
	if errors.Is(err, context.Canceled) {
		return "context_cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "context_deadline"
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return "dns"
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return "network"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "deadlock"):
		return "deadlock"
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "timed out"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return "network"
	default:
		return "unknown"
	}
}
