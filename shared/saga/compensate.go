package saga

import (
	"context"
	"fmt"

	"github.com/orderflow/order-system/shared/events"
)

// Compensate force-unwinds the run. It is valid only while the saga is
// Running (a forced rollback) or after it has Failed; any other status
// returns an InvalidStateError.
func (in *Instance[T]) Compensate(ctx context.Context) (*Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.fire(triggerCompensate); err != nil {
		return nil, err
	}
	return in.unwind(ctx), nil
}

// unwind is the compensation coordinator. It pops the executed-step stack in
// reverse-of-execution order and invokes each step's compensation. Steps that
// cannot compensate are bypassed, not failed. A compensation failure is
// recorded and never stops the unwind of the remaining steps. The run ends
// Compensated when every compensation succeeded, PartiallyCompensated
// otherwise; completedAt is stamped regardless.
//
// The caller has already transitioned the machine to Compensating and holds
// in.mu. Compensation is detached from run cancellation: it proceeds even
// when the signal that caused the failure is still fired.
func (in *Instance[T]) unwind(ctx context.Context) *Result {
	ctx = context.WithoutCancel(ctx)

	in.persist(ctx)
	in.publish(ctx, events.SagaCompensatingEvent, "", "")

	var failures []CompensationFailure
	for len(in.executed) > 0 {
		step := in.executed[len(in.executed)-1]
		in.executed = in.executed[:len(in.executed)-1]

		if !step.CanCompensate() {
			if h := in.def.hooks.OnCompensationSkipped; h != nil {
				h(ctx, in.id, step.Name())
			}
			continue
		}

		if err := step.Compensate(ctx, in.data); err != nil {
			failures = append(failures, CompensationFailure{StepName: step.Name(), Err: err})
			in.errs = append(in.errs, fmt.Sprintf("compensate %s: %v", step.Name(), err))
			continue
		}
		in.compensated = append(in.compensated, step.Name())
	}

	in.stampCompleted()

	if len(failures) == 0 {
		_ = in.fire(triggerCompensated)
		in.persist(ctx)
		if h := in.def.hooks.OnSagaCompensated; h != nil {
			h(ctx, in.id, append([]string(nil), in.compensated...))
		}
		in.publish(ctx, events.SagaCompensatedEvent, "", "")
		return in.result(nil, "")
	}

	in.compErrs = failures
	_ = in.fire(triggerPartial)
	in.persist(ctx)
	if h := in.def.hooks.OnCompensationFailed; h != nil {
		h(ctx, in.id, append([]CompensationFailure(nil), failures...))
	}
	in.publish(ctx, events.SagaPartiallyCompensatedEvent, "", (&CompensationError{Failures: failures}).Error())
	return in.result(nil, "")
}
