package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	triageErrors "github.com/harunnryd/medtriage/internal/errors"
)

// RetryPolicy re-runs a whole conversation attempt when it fails with a
// retryable error.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
	Retryable   func(error) bool
}

// DefaultRetryPolicy retries once, and only for empty model output.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 2,
		Backoff:     200 * time.Millisecond,
		Retryable:   isEmptyModelOutput,
	}
}

func isEmptyModelOutput(err error) bool {
	return errors.Is(err, triageErrors.ErrEmptyModelOutput)
}

// Do calls fn until it succeeds, fails with a non-retryable error, or the
// attempts run out. The wait between attempts grows linearly and honors ctx.
func Do[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context, attempt int) (T, error)) (T, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = isEmptyModelOutput
	}

	var (
		zero T
		err  error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		var v T
		v, err = fn(ctx, attempt)
		if err == nil {
			return v, nil
		}
		if !retryable(err) || attempt == attempts {
			return zero, err
		}

		slog.Warn("Conversation attempt failed, retrying", "attempt", attempt, "max_attempts", attempts, "error", err)
		select {
		case <-time.After(p.Backoff * time.Duration(attempt)):
		case <-ctx.Done():
			return zero, ctx.Err()
		}
	}
	return zero, err
}
