// Package saga implements an orchestrated saga engine: an ordered sequence of
// compensable steps driven by a central coordinator, with retry/backoff on
// transient step failures, a saga-level timeout, durable state snapshots, and
// reverse-order compensation when forward progress becomes impossible.
package saga

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/orderflow/order-system/shared/models"
)

// Status represents the lifecycle state of a saga run
type Status string

const (
	StatusNotStarted           Status = "not_started"
	StatusRunning              Status = "running"
	StatusSuspended            Status = "suspended"
	StatusCompleted            Status = "completed"
	StatusFailed               Status = "failed"
	StatusCompensating         Status = "compensating"
	StatusCompensated          Status = "compensated"
	StatusPartiallyCompensated Status = "partially_compensated"
	StatusCancelled            Status = "cancelled"
)

// IsTerminal reports whether no further transition is permitted from s.
// Failed is not terminal: it always moves on to Compensating.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusCompensated, StatusPartiallyCompensated:
		return true
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Step is the unit of forward progress within a saga. Execute runs the step's
// business effect against the shared payload; Compensate semantically undoes
// it. Compensate is only invoked when CanCompensate reports true. Step
// implementations may be stateless and shared across concurrent saga runs, so
// Execute and Compensate must not assume they are called at most once
// process-wide.
type Step[T any] interface {
	// Name uniquely identifies the step within its saga type.
	Name() string

	// Order is the sort key for execution ordering. Zero means "use the
	// registration sequence"; ties are broken by name.
	Order() int

	// CanCompensate reports whether the step has a meaningful undo action.
	CanCompensate() bool

	Execute(ctx context.Context, data *T) error
	Compensate(ctx context.Context, data *T) error
}

// FuncStep adapts plain functions to the Step interface. Useful for small
// steps and for tests.
type FuncStep[T any] struct {
	StepName       string
	StepOrder      int
	Compensable    bool
	ExecuteFunc    func(ctx context.Context, data *T) error
	CompensateFunc func(ctx context.Context, data *T) error
}

func (s *FuncStep[T]) Name() string        { return s.StepName }
func (s *FuncStep[T]) Order() int          { return s.StepOrder }
func (s *FuncStep[T]) CanCompensate() bool { return s.Compensable }

func (s *FuncStep[T]) Execute(ctx context.Context, data *T) error {
	return s.ExecuteFunc(ctx, data)
}

func (s *FuncStep[T]) Compensate(ctx context.Context, data *T) error {
	if s.CompensateFunc == nil {
		return nil
	}
	return s.CompensateFunc(ctx, data)
}

var (
	// ErrSnapshotNotFound is returned by StateStore.Load when no snapshot
	// exists for the saga id.
	ErrSnapshotNotFound = errors.New("saga: snapshot not found")

	// ErrVersionConflict is returned by StateStore.Update when the stored
	// snapshot's version does not match the expected one.
	ErrVersionConflict = errors.New("saga: snapshot version conflict")
)

// StateStore persists saga snapshots. The engine performs one logical write
// after every significant transition and never assumes the store is
// transactional across writes; each snapshot is self-consistent. Update must
// enforce the snapshot's optimistic version (stored version == Version-1).
type StateStore interface {
	Save(ctx context.Context, snapshot *Snapshot) error
	Load(ctx context.Context, sagaID models.ID) (*Snapshot, error)
	Update(ctx context.Context, snapshot *Snapshot) error
}

// Snapshot is the serializable projection of a saga run, sufficient to
// persist it and later resume it. It is the only engine structure that
// crosses a persistence boundary.
type Snapshot struct {
	SagaID           models.ID       `json:"saga_id"`
	SagaName         string          `json:"saga_name"`
	Status           Status          `json:"status"`
	CurrentStepIndex int             `json:"current_step_index"`
	CurrentStepName  string          `json:"current_step_name,omitempty"`
	Data             json.RawMessage `json:"data,omitempty"`
	StartedAt        time.Time       `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	Timeout          time.Duration   `json:"timeout,omitempty"`
	ExecutedSteps    []string        `json:"executed_steps,omitempty"`
	CompensatedSteps []string        `json:"compensated_steps,omitempty"`
	Errors           []string        `json:"errors,omitempty"`
	RetryCount       int             `json:"retry_count"`
	MaxRetries       int             `json:"max_retries"`
	Version          int             `json:"version"`
}

// Clone returns a deep copy of the snapshot.
func (s *Snapshot) Clone() *Snapshot {
	clone := *s
	clone.Data = append(json.RawMessage(nil), s.Data...)
	clone.ExecutedSteps = append([]string(nil), s.ExecutedSteps...)
	clone.CompensatedSteps = append([]string(nil), s.CompensatedSteps...)
	clone.Errors = append([]string(nil), s.Errors...)
	if s.CompletedAt != nil {
		t := *s.CompletedAt
		clone.CompletedAt = &t
	}
	return &clone
}

// Resumable reports whether the snapshot may be handed to Resume.
func (s *Snapshot) Resumable() bool {
	return s.Status == StatusRunning || s.Status == StatusSuspended
}
