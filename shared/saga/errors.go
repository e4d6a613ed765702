package saga

import (
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/orderflow/order-system/shared/models"
)

// StepExecutionError wraps a step failure with the saga id, step name and
// step index it occurred at. It is what the engine escalates to failure
// handling when a step error survives the retry scheduler.
type StepExecutionError struct {
	SagaID    models.ID
	StepName  string
	StepIndex int
	Err       error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("saga %s: step %q (index %d) failed: %v", e.SagaID, e.StepName, e.StepIndex, e.Err)
}

func (e *StepExecutionError) Unwrap() error { return e.Err }

// RetriesExhaustedError reports that the retry scheduler gave up on a step.
// It carries the last underlying error and the attempt count.
type RetriesExhaustedError struct {
	StepName   string
	Attempts   int
	MaxRetries int
	Err        error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("step %q: retries exhausted after %d attempts (max retries %d): %v",
		e.StepName, e.Attempts, e.MaxRetries, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// SagaTimeoutError reports that the saga-level timeout budget fired, naming
// the step that was in flight.
type SagaTimeoutError struct {
	SagaID   models.ID
	StepName string
	Timeout  time.Duration
}

func (e *SagaTimeoutError) Error() string {
	return fmt.Sprintf("saga %s timed out after %s while executing step %q", e.SagaID, e.Timeout, e.StepName)
}

// InvalidStateError reports an operation invoked while the saga was in a
// status that does not permit it. It is never retried or compensated; it
// indicates a caller error.
type InvalidStateError struct {
	SagaID models.ID
	Op     string
	Status Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("saga %s: operation %q not permitted in status %q", e.SagaID, e.Op, e.Status)
}

// CompensationFailure records one failed compensation.
type CompensationFailure struct {
	StepName string
	Err      error
}

// CompensationError aggregates every compensation failure in an unwind. It
// is carried on the result, not raised: there is no further recovery action.
type CompensationError struct {
	Failures []CompensationFailure
}

func (e *CompensationError) Error() string {
	names := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		names[i] = f.StepName
	}
	return fmt.Sprintf("compensation failed for %d step(s): %v", len(e.Failures), names)
}

type transientError struct {
	err error
}

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() error { return e.err }

// Transient marks an error as retryable for the default classifier. Steps
// use it to declare retryability as a property of the error value.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return &transientError{err: err}
}

// IsTransient reports whether err carries the Transient marker.
func IsTransient(err error) bool {
	var te *transientError
	return errors.As(err, &te)
}

// DefaultClassifier is the default retryability predicate: explicitly marked
// transient errors and timeout/IO-like failures are retried, everything else
// is fatal.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	if IsTransient(err) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return errors.Is(err, os.ErrDeadlineExceeded)
}
