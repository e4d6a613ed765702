package saga

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/qmuntal/stateless"

	"github.com/orderflow/order-system/shared/events"
	"github.com/orderflow/order-system/shared/models"
)

type trigger string

const (
	triggerStart       trigger = "start"
	triggerResume      trigger = "resume"
	triggerComplete    trigger = "complete"
	triggerFail        trigger = "fail"
	triggerCancel      trigger = "cancel"
	triggerCompensate  trigger = "compensate"
	triggerCompensated trigger = "compensated"
	triggerPartial     trigger = "partially_compensated"
)

// newStatusMachine builds the saga lifecycle state machine. Terminal statuses
// have no outgoing permits, so any trigger fired on them errors.
func newStatusMachine(initial Status) *stateless.StateMachine {
	m := stateless.NewStateMachine(initial)
	m.Configure(StatusNotStarted).
		Permit(triggerStart, StatusRunning)
	m.Configure(StatusSuspended).
		Permit(triggerResume, StatusRunning)
	m.Configure(StatusRunning).
		PermitReentry(triggerResume).
		Permit(triggerComplete, StatusCompleted).
		Permit(triggerFail, StatusFailed).
		Permit(triggerCancel, StatusCancelled).
		Permit(triggerCompensate, StatusCompensating)
	m.Configure(StatusFailed).
		Permit(triggerCompensate, StatusCompensating)
	m.Configure(StatusCompensating).
		Permit(triggerCompensated, StatusCompensated).
		Permit(triggerPartial, StatusPartiallyCompensated)
	return m
}

// Instance is a single run of a saga type. It owns the run's mutable
// progress and must not be reused to drive two concurrent executions; the
// persistence layer, not the engine, ensures only one executor is progressing
// a given saga id at a time.
type Instance[T any] struct {
	def *Definition[T]

	mu      sync.Mutex
	machine *stateless.StateMachine

	id               models.ID
	data             *T
	currentStepIndex int
	currentStepName  string
	startedAt        time.Time
	completedAt      *time.Time
	errs             []string
	retryCount       int
	version          int
	saved            bool

	executed    []Step[T]
	compensated []string
	compErrs    []CompensationFailure
}

// NewInstance creates a fresh run of this saga type.
func (d *Definition[T]) NewInstance() *Instance[T] {
	return &Instance[T]{
		def:     d,
		machine: newStatusMachine(StatusNotStarted),
	}
}

// Resume restores a run from a previously persisted snapshot and continues
// it from the first non-completed step.
func (d *Definition[T]) Resume(ctx context.Context, snapshot *Snapshot) (*Result, error) {
	return d.NewInstance().Resume(ctx, snapshot)
}

// ID returns the saga id assigned at Start, or restored by Resume. Empty
// before the run begins.
func (in *Instance[T]) ID() models.ID { return in.id }

// Status returns the run's current status.
func (in *Instance[T]) Status() Status {
	return in.machine.MustState().(Status)
}

// Start begins a fresh run with the given business payload. It is only valid
// once, from NotStarted; any later call returns an InvalidStateError. The
// payload is exclusively owned by the run until Start returns.
func (in *Instance[T]) Start(ctx context.Context, data *T) (*Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if err := in.fire(triggerStart); err != nil {
		return nil, err
	}

	in.id = models.GenerateUUID()
	in.data = data
	in.startedAt = time.Now()

	in.persist(ctx)
	in.publish(ctx, events.SagaStartedEvent, "", "")

	return in.run(ctx)
}

// Resume continues a run from a snapshot. Only Running and Suspended
// snapshots are resumable. Steps recorded as executed are restored without
// being re-invoked; execution continues at the snapshot's step cursor.
func (in *Instance[T]) Resume(ctx context.Context, snapshot *Snapshot) (*Result, error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if snapshot == nil {
		return nil, fmt.Errorf("saga %q: cannot resume from nil snapshot", in.def.name)
	}
	if st := in.Status(); st != StatusNotStarted {
		return nil, &InvalidStateError{SagaID: in.id, Op: "resume", Status: st}
	}
	if snapshot.SagaName != in.def.name {
		return nil, fmt.Errorf("snapshot belongs to saga type %q, not %q", snapshot.SagaName, in.def.name)
	}
	if !snapshot.Resumable() {
		return nil, &InvalidStateError{SagaID: snapshot.SagaID, Op: "resume", Status: snapshot.Status}
	}
	if snapshot.CurrentStepIndex > len(in.def.steps) {
		return nil, fmt.Errorf("snapshot step index %d out of range for %d steps",
			snapshot.CurrentStepIndex, len(in.def.steps))
	}

	data := new(T)
	if len(snapshot.Data) > 0 {
		if err := json.Unmarshal(snapshot.Data, data); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot data: %w", err)
		}
	}

	in.machine = newStatusMachine(snapshot.Status)
	if err := in.fire(triggerResume); err != nil {
		return nil, err
	}

	in.id = snapshot.SagaID
	in.data = data
	in.currentStepIndex = snapshot.CurrentStepIndex
	in.currentStepName = snapshot.CurrentStepName
	in.startedAt = snapshot.StartedAt
	in.errs = append([]string(nil), snapshot.Errors...)
	in.compensated = append([]string(nil), snapshot.CompensatedSteps...)
	in.retryCount = snapshot.RetryCount
	in.version = snapshot.Version
	in.saved = true

	in.executed = make([]Step[T], 0, snapshot.CurrentStepIndex)
	for i := 0; i < snapshot.CurrentStepIndex; i++ {
		step := in.def.steps[i]
		if i < len(snapshot.ExecutedSteps) && snapshot.ExecutedSteps[i] != step.Name() {
			return nil, fmt.Errorf("snapshot executed step %d is %q, definition has %q",
				i, snapshot.ExecutedSteps[i], step.Name())
		}
		in.executed = append(in.executed, step)
	}

	in.persist(ctx)
	return in.run(ctx)
}

// State produces the current persistable snapshot of the run. While a run is
// in flight the authoritative snapshots are the ones written to the state
// store.
func (in *Instance[T]) State() (*Snapshot, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.snapshotLocked()
}

// run drives the per-step loop. in.mu is held.
func (in *Instance[T]) run(ctx context.Context) (*Result, error) {
	runCtx := ctx
	if in.def.timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, in.startedAt.Add(in.def.timeout))
		defer cancel()
	}

	for in.currentStepIndex < len(in.def.steps) {
		step := in.def.steps[in.currentStepIndex]
		in.currentStepName = step.Name()

		if runCtx.Err() != nil {
			return in.abort(ctx, step)
		}

		if err := in.executeWithRetry(runCtx, step); err != nil {
			if runCtx.Err() != nil {
				return in.abort(ctx, step)
			}
			wrapped := &StepExecutionError{
				SagaID:    in.id,
				StepName:  step.Name(),
				StepIndex: in.currentStepIndex,
				Err:       err,
			}
			return in.fail(ctx, wrapped)
		}

		in.executed = append(in.executed, step)
		in.currentStepIndex++
		in.persist(ctx)
		if h := in.def.hooks.OnStepCompleted; h != nil {
			h(ctx, in.id, step.Name(), in.currentStepIndex-1)
		}
		in.publish(ctx, events.SagaStepCompletedEvent, step.Name(), "")
	}

	if err := in.fire(triggerComplete); err != nil {
		return nil, err
	}
	in.stampCompleted()
	in.persist(ctx)
	in.publish(ctx, events.SagaCompletedEvent, "", "")
	return in.result(nil, ""), nil
}

// abort maps a fired combined signal to its outcome. A caller-requested
// cancellation terminates the run as Cancelled; the timeout budget firing
// escalates to the failure path, which always compensates.
func (in *Instance[T]) abort(ctx context.Context, step Step[T]) (*Result, error) {
	if ctx.Err() == nil {
		return in.fail(ctx, &SagaTimeoutError{
			SagaID:   in.id,
			StepName: step.Name(),
			Timeout:  in.def.timeout,
		})
	}

	cause := ctx.Err()
	if in.def.compensateOnCancel {
		return in.fail(ctx, fmt.Errorf("cancelled while executing step %q: %w", step.Name(), cause))
	}

	in.errs = append(in.errs, cause.Error())
	if err := in.fire(triggerCancel); err != nil {
		return nil, err
	}
	in.stampCompleted()
	in.persist(ctx)
	in.publish(ctx, events.SagaCancelledEvent, step.Name(), cause.Error())
	return in.result(cause, fmt.Sprintf("cancelled by caller while executing step %q", step.Name())), cause
}

// fail moves the run to Failed and hands it to the compensation coordinator.
// Compensation is the universal recovery path for forward-progress failures.
func (in *Instance[T]) fail(ctx context.Context, cause error) (*Result, error) {
	in.errs = append(in.errs, cause.Error())
	if err := in.fire(triggerFail); err != nil {
		return nil, err
	}
	in.persist(ctx)
	if h := in.def.hooks.OnSagaFailed; h != nil {
		h(ctx, in.id, cause)
	}
	in.publish(ctx, events.SagaFailedEvent, in.currentStepName, cause.Error())

	if err := in.fire(triggerCompensate); err != nil {
		return nil, err
	}
	res := in.unwind(ctx)
	res.Reason = cause.Error()
	res.Err = cause
	return res, cause
}

func (in *Instance[T]) fire(t trigger) error {
	if err := in.machine.Fire(t); err != nil {
		return &InvalidStateError{SagaID: in.id, Op: string(t), Status: in.Status()}
	}
	return nil
}

func (in *Instance[T]) stampCompleted() {
	now := time.Now()
	in.completedAt = &now
}

func (in *Instance[T]) snapshotLocked() (*Snapshot, error) {
	data, err := json.Marshal(in.data)
	if err != nil {
		return nil, fmt.Errorf("marshal saga data: %w", err)
	}

	executed := make([]string, len(in.executed))
	for i, s := range in.executed {
		executed[i] = s.Name()
	}

	snap := &Snapshot{
		SagaID:           in.id,
		SagaName:         in.def.name,
		Status:           in.Status(),
		CurrentStepIndex: in.currentStepIndex,
		CurrentStepName:  in.currentStepName,
		Data:             data,
		StartedAt:        in.startedAt,
		Timeout:          in.def.timeout,
		ExecutedSteps:    executed,
		CompensatedSteps: append([]string(nil), in.compensated...),
		Errors:           append([]string(nil), in.errs...),
		RetryCount:       in.retryCount,
		MaxRetries:       in.def.maxRetries,
		Version:          in.version,
	}
	if in.completedAt != nil {
		t := *in.completedAt
		snap.CompletedAt = &t
	}
	return snap, nil
}

// persist writes the current snapshot to the configured store. Writes are
// detached from run cancellation and are best-effort: a failed write is
// reported through OnStoreError and never aborts the run.
func (in *Instance[T]) persist(ctx context.Context) {
	if in.def.store == nil {
		return
	}

	in.version++
	snap, err := in.snapshotLocked()
	if err == nil {
		ctx = context.WithoutCancel(ctx)
		if !in.saved {
			if err = in.def.store.Save(ctx, snap); err == nil {
				in.saved = true
			}
		} else {
			err = in.def.store.Update(ctx, snap)
		}
	}
	if err != nil && in.def.hooks.OnStoreError != nil {
		in.def.hooks.OnStoreError(ctx, in.id, err)
	}
}

type lifecycleEventData struct {
	SagaID   models.ID `json:"saga_id"`
	SagaName string    `json:"saga_name"`
	Status   Status    `json:"status"`
	StepName string    `json:"step_name,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// publish emits a lifecycle event. Events are observational and best-effort.
func (in *Instance[T]) publish(ctx context.Context, topic events.Topic, stepName, errMsg string) {
	if in.def.publisher == nil {
		return
	}
	evt := events.NewEvent(in.id, topic, lifecycleEventData{
		SagaID:   in.id,
		SagaName: in.def.name,
		Status:   in.Status(),
		StepName: stepName,
		Error:    errMsg,
	}).WithCorrelationID(in.id)
	_ = in.def.publisher.Publish(context.WithoutCancel(ctx), evt)
}

func (in *Instance[T]) result(cause error, reason string) *Result {
	return &Result{
		SagaID:             in.id,
		Status:             in.Status(),
		Reason:             reason,
		CompensatedSteps:   append([]string(nil), in.compensated...),
		CompensationErrors: append([]CompensationFailure(nil), in.compErrs...),
		RetryCount:         in.retryCount,
		Err:                cause,
	}
}
