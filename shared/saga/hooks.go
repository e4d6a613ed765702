package saga

import (
	"context"
	"time"

	"github.com/orderflow/order-system/shared/models"
)

// Hooks are the engine's extension points. All hooks are optional and are
// invoked synchronously on the goroutine driving the saga; they must not call
// back into the instance that fired them.
type Hooks[T any] struct {
	// OnStepCompleted fires after a step executed successfully and the
	// progress cursor advanced past it.
	OnStepCompleted func(ctx context.Context, sagaID models.ID, stepName string, stepIndex int)

	// OnRetry fires before each backoff sleep with the attempt number
	// (1-based) and the computed delay.
	OnRetry func(ctx context.Context, sagaID models.ID, stepName string, attempt int, delay time.Duration)

	// OnSagaFailed fires when the saga enters Failed, before compensation.
	OnSagaFailed func(ctx context.Context, sagaID models.ID, err error)

	// OnCompensationSkipped fires for each executed step bypassed during the
	// unwind because it cannot compensate.
	OnCompensationSkipped func(ctx context.Context, sagaID models.ID, stepName string)

	// OnSagaCompensated fires when every compensation in the unwind
	// succeeded.
	OnSagaCompensated func(ctx context.Context, sagaID models.ID, compensated []string)

	// OnCompensationFailed fires when at least one compensation failed, with
	// the full list of failures.
	OnCompensationFailed func(ctx context.Context, sagaID models.ID, failures []CompensationFailure)

	// OnStoreError fires when a snapshot write fails. Snapshot writes are
	// best-effort and never abort the run.
	OnStoreError func(ctx context.Context, sagaID models.ID, err error)
}
