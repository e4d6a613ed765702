package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/orderflow/order-system/shared/models"
	"github.com/orderflow/order-system/shared/saga"
)

// SagaHooks returns a hook set that records saga lifecycle metrics: completed
// steps, retries, failures and compensation outcomes, all labelled with the
// saga name.
func SagaHooks[T any](sagaName string) *saga.Hooks[T] {
	nameAttr := attribute.String("saga_name", sagaName)

	return &saga.Hooks[T]{
		OnStepCompleted: func(ctx context.Context, sagaID models.ID, stepName string, stepIndex int) {
			RecordCounter(ctx, "saga_steps_completed_total", "Total saga steps completed", 1,
				nameAttr, attribute.String("step", stepName))
		},
		OnRetry: func(ctx context.Context, sagaID models.ID, stepName string, attempt int, delay time.Duration) {
			RecordCounter(ctx, "saga_step_retries_total", "Total saga step retries", 1,
				nameAttr, attribute.String("step", stepName))
			RecordHistogram(ctx, "saga_retry_delay_seconds", "Backoff delay before a step retry",
				delay.Seconds(), nameAttr, attribute.String("step", stepName))
		},
		OnSagaFailed: func(ctx context.Context, sagaID models.ID, err error) {
			RecordCounter(ctx, "saga_failed_total", "Total sagas that entered compensation", 1, nameAttr)
		},
		OnCompensationSkipped: func(ctx context.Context, sagaID models.ID, stepName string) {
			RecordCounter(ctx, "saga_compensations_skipped_total", "Compensations skipped for non-compensable steps", 1,
				nameAttr, attribute.String("step", stepName))
		},
		OnSagaCompensated: func(ctx context.Context, sagaID models.ID, compensated []string) {
			RecordCounter(ctx, "saga_compensated_total", "Sagas fully compensated", 1, nameAttr)
		},
		OnCompensationFailed: func(ctx context.Context, sagaID models.ID, failures []saga.CompensationFailure) {
			RecordCounter(ctx, "saga_partially_compensated_total", "Sagas left partially compensated", 1, nameAttr)
		},
		OnStoreError: func(ctx context.Context, sagaID models.ID, err error) {
			RecordCounter(ctx, "saga_store_errors_total", "Snapshot writes that failed", 1, nameAttr)
		},
	}
}
