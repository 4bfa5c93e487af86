package job

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"time"
)

// ErrInvalidMaxAttempts indicates a retry policy was configured with fewer than one attempt.
var ErrInvalidMaxAttempts = errors.New("max attempts must be at least 1")

// Backoff computes the delay before retry attempt n (1-indexed).
type Backoff interface {
	Delay(attempt int) time.Duration
}

// ExponentialJitter applies full jitter to an exponential base:
// a random duration in [0, min(Initial * 2^(attempt-1), Max)].
type ExponentialJitter struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the jittered delay for attempt.
func (e ExponentialJitter) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter does not need crypto rand
}

// ConstantBackoff always waits the same interval.
type ConstantBackoff time.Duration

// Delay returns the fixed interval.
func (c ConstantBackoff) Delay(int) time.Duration { return time.Duration(c) }

// RetryPolicy bounds how often a transient failure is retried and how long to wait in between.
type RetryPolicy struct {
	maxAttempts int
	backoff     Backoff
}

// NewRetryPolicy builds a policy allowing maxAttempts total attempts.
// A nil backoff defaults to ExponentialJitter{Initial: time.Second, Max: 30 * time.Second}.
func NewRetryPolicy(maxAttempts int, backoff Backoff) (*RetryPolicy, error) {
	if maxAttempts < 1 {
		return nil, ErrInvalidMaxAttempts
	}
	if backoff == nil {
		backoff = ExponentialJitter{Initial: time.Second, Max: 30 * time.Second}
	}
	return &RetryPolicy{maxAttempts: maxAttempts, backoff: backoff}, nil
}

// MaxAttempts returns the total number of attempts, including the first.
func (p *RetryPolicy) MaxAttempts() int {
	if p == nil {
		return 1
	}
	return p.maxAttempts
}

// Do calls fn until it succeeds, returns an error retryable rejects, or the attempt
// budget is spent. It returns the last error together with the number of attempts made.
// A nil retryable retries every error.
func (p *RetryPolicy) Do(
	ctx context.Context,
	fn func(ctx context.Context, attempt int) error,
	retryable func(error) bool,
) (int, error) {
	maxAttempts := p.MaxAttempts()
	var err error
	for attempt := 1; ; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}
		if attempt >= maxAttempts || (retryable != nil && !retryable(err)) {
			return attempt, err
		}
		if waitErr := sleepCtx(ctx, p.backoff.Delay(attempt)); waitErr != nil {
			return attempt, errors.Join(err, waitErr)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
