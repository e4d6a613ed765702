package saga

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// executeWithRetry runs one step invocation through the retry scheduler.
// Transient failures are retried with exponential backoff until the remaining
// budget is spent; the budget is the saga-level ceiling minus the retries
// already consumed by earlier steps. A fired cancellation/timeout signal is
// never retried.
func (in *Instance[T]) executeWithRetry(ctx context.Context, step Step[T]) error {
	budget := in.def.maxRetries - in.retryCount
	if budget < 0 {
		budget = 0
	}

	attempts := 0
	var lastErr error
	backoff := retry.WithMaxRetries(uint64(budget), in.notifyingBackoff(ctx, step))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := step.Execute(ctx, in.data); err != nil {
			lastErr = err
			if ctx.Err() != nil {
				return err
			}
			if in.def.classify(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})

	if attempts > 1 {
		in.retryCount += attempts - 1
	}
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return err
	}
	if in.def.classify(lastErr) {
		return &RetriesExhaustedError{
			StepName:   step.Name(),
			Attempts:   attempts,
			MaxRetries: in.def.maxRetries,
			Err:        lastErr,
		}
	}
	return lastErr
}

// notifyingBackoff wraps the exponential backoff so the OnRetry hook observes
// the attempt number and computed delay before each sleep.
func (in *Instance[T]) notifyingBackoff(ctx context.Context, step Step[T]) retry.Backoff {
	exp := retry.NewExponential(in.def.retryBase)
	attempt := 0
	return retry.BackoffFunc(func() (time.Duration, bool) {
		delay, stop := exp.Next()
		if stop {
			return delay, stop
		}
		attempt++
		if h := in.def.hooks.OnRetry; h != nil {
			h(ctx, in.id, step.Name(), attempt, delay)
		}
		return delay, false
	})
}
