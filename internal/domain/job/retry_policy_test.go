package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestNewRetryPolicy(t *testing.T) {
	_, err := NewRetryPolicy(0, nil)
	require.ErrorIs(t, err, ErrInvalidMaxAttempts)

	p, err := NewRetryPolicy(3, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, p.MaxAttempts())
	assert.IsType(t, ExponentialJitter{}, p.backoff)
}

func TestNilRetryPolicyMakesOneAttempt(t *testing.T) {
	var p *RetryPolicy
	assert.Equal(t, 1, p.MaxAttempts())
}

func TestExponentialJitter_StaysWithinCap(t *testing.T) {
	b := ExponentialJitter{Initial: 100 * time.Millisecond, Max: time.Second}
	tests := []struct {
		attempt int
		ceiling time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 400 * time.Millisecond},
		{10, time.Second},
	}
	for _, tt := range tests {
		for range 50 {
			d := b.Delay(tt.attempt)
			assert.GreaterOrEqual(t, d, time.Duration(0))
			assert.LessOrEqual(t, d, tt.ceiling, "attempt %d", tt.attempt)
		}
	}
}

func TestRetryPolicy_Do(t *testing.T) {
	tests := []struct {
		name         string
		failures     int
		retryable    func(error) bool
		wantAttempts int
		wantErr      bool
	}{
		{name: "succeeds first time", failures: 0, wantAttempts: 1},
		{name: "succeeds after retries", failures: 2, wantAttempts: 3},
		{name: "exhausts budget", failures: 5, wantAttempts: 3, wantErr: true},
		{
			name:         "permanent error stops immediately",
			failures:     5,
			retryable:    func(error) bool { return false },
			wantAttempts: 1,
			wantErr:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewRetryPolicy(3, ConstantBackoff(time.Millisecond))
			require.NoError(t, err)

			calls := 0
			attempts, err := p.Do(context.Background(), func(_ context.Context, attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				if calls <= tt.failures {
					return errTransient
				}
				return nil
			}, tt.retryable)

			assert.Equal(t, tt.wantAttempts, attempts)
			assert.Equal(t, tt.wantAttempts, calls)
			if tt.wantErr {
				require.ErrorIs(t, err, errTransient)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestRetryPolicy_DoStopsOnCancel(t *testing.T) {
	p, err := NewRetryPolicy(5, ConstantBackoff(time.Hour))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	attempts, err := p.Do(ctx, func(context.Context, int) error {
		cancel()
		return errTransient
	}, nil)

	assert.Equal(t, 1, attempts)
	require.ErrorIs(t, err, errTransient)
	require.ErrorIs(t, err, context.Canceled)
}
