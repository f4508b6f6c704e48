package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayForAttemptExponential(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, BaseDelay: 100 * time.Millisecond, MaxDelay: 30 * time.Second}

	assert.Equal(t, 100*time.Millisecond, p.DelayForAttempt(1))
	assert.Equal(t, 200*time.Millisecond, p.DelayForAttempt(2))
	assert.Equal(t, 400*time.Millisecond, p.DelayForAttempt(3))
}

func TestDelayForAttemptExponentialCapsAtMaxDelay(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}
	// n=3 => 100 * 2^2 = 400ms, capped to 300ms.
	assert.Equal(t, 300*time.Millisecond, p.DelayForAttempt(3))
}

func TestDelayForAttemptLinear(t *testing.T) {
	p := Policy{Strategy: StrategyLinear, BaseDelay: 50 * time.Millisecond}
	assert.Equal(t, 50*time.Millisecond, p.DelayForAttempt(1))
	assert.Equal(t, 150*time.Millisecond, p.DelayForAttempt(3))
}

func TestDelayForAttemptImmediate(t *testing.T) {
	p := Policy{Strategy: StrategyImmediate, BaseDelay: 50 * time.Millisecond}
	assert.Equal(t, time.Duration(0), p.DelayForAttempt(5))
}

func TestDelayForAttemptJitterStaysWithinBounds(t *testing.T) {
	p := Policy{Strategy: StrategyExponential, BaseDelay: 100 * time.Millisecond, MaxDelay: time.Hour, JitterFraction: 0.2}
	for i := 0; i < 50; i++ {
		d := p.DelayForAttempt(1)
		assert.GreaterOrEqual(t, d, 80*time.Millisecond)
		assert.LessOrEqual(t, d, 120*time.Millisecond)
	}
}

func TestWaitRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, Wait(ctx, time.Second))
}

func TestWaitCompletesNormally(t *testing.T) {
	assert.True(t, Wait(context.Background(), time.Millisecond))
}

func TestDefaultIsRetryableRejectsExplicitNonRetryable(t *testing.T) {
	err := errors.New("bad input: " + ErrNonRetryable.Error())
	wrapped := errors.Join(ErrNonRetryable, err)
	assert.False(t, DefaultIsRetryable(wrapped))
}

func TestDefaultIsRetryableAcceptsTimeout(t *testing.T) {
	assert.True(t, DefaultIsRetryable(errors.New("dial tcp: i/o timeout")))
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, "none", ClassifyError(nil))
	assert.Equal(t, "timeout", ClassifyError(errors.New("context deadline exceeded")))
	assert.Equal(t, "deadlock", ClassifyError(errors.New("deadlock detected")))
}
