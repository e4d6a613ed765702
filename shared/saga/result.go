package saga

import "github.com/orderflow/order-system/shared/models"

// Result is the outcome of a saga run returned to callers.
type Result struct {
	SagaID models.ID
	Status Status

	// Reason is a human-readable explanation for failure and compensation
	// outcomes; empty on success.
	Reason string

	// CompensatedSteps lists the steps whose compensation ran successfully
	// during an unwind, in unwind order.
	CompensatedSteps []string

	// CompensationErrors lists the compensations that failed, when the run
	// ended PartiallyCompensated.
	CompensationErrors []CompensationFailure

	// RetryCount is the total number of retries consumed across all steps.
	RetryCount int

	// Err is the causal error for failure, timeout and cancellation
	// outcomes; nil when the saga completed.
	Err error
}

// Succeeded reports whether the saga ran all its steps to completion.
func (r *Result) Succeeded() bool {
	return r.Status == StatusCompleted
}
