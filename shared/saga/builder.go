package saga

import (
	"fmt"
	"sort"
	"time"

	"github.com/orderflow/order-system/shared/events"
)

const (
	// DefaultMaxRetries is the saga-level retry ceiling across all steps.
	DefaultMaxRetries = 3

	// DefaultRetryBase is the base delay of the exponential backoff; the
	// delay before attempt n is base * 2^(n-1).
	DefaultRetryBase = 100 * time.Millisecond
)

// Definition is the immutable description of a saga type: its ordered step
// list and execution policy. One Definition is built per saga type and shared
// by every run of that type.
type Definition[T any] struct {
	name               string
	steps              []Step[T]
	maxRetries         int
	retryBase          time.Duration
	timeout            time.Duration
	classify           func(error) bool
	hooks              Hooks[T]
	store              StateStore
	publisher          events.Publisher
	compensateOnCancel bool
}

// Name returns the saga type name.
func (d *Definition[T]) Name() string { return d.name }

// Steps returns the sorted step list.
func (d *Definition[T]) Steps() []Step[T] {
	steps := make([]Step[T], len(d.steps))
	copy(steps, d.steps)
	return steps
}

// Builder registers the steps of a saga type in order and configures its
// execution policy. Builders are not safe for concurrent use; Build is called
// once at startup.
type Builder[T any] struct {
	def     *Definition[T]
	entries []builderEntry[T]
}

type builderEntry[T any] struct {
	step  Step[T]
	order int
	seq   int
}

// NewBuilder creates a builder for a saga type.
func NewBuilder[T any](name string) *Builder[T] {
	return &Builder[T]{
		def: &Definition[T]{
			name:       name,
			maxRetries: DefaultMaxRetries,
			retryBase:  DefaultRetryBase,
			classify:   DefaultClassifier,
		},
	}
}

// AddStep appends a step. Its order defaults to the registration sequence
// unless the step declares a non-zero Order.
func (b *Builder[T]) AddStep(step Step[T]) *Builder[T] {
	order := step.Order()
	if order == 0 {
		order = len(b.entries) + 1
	}
	return b.AddStepWithOrder(step, order)
}

// AddStepWithOrder appends a step with an explicit order, overriding both the
// registration sequence and the step's own Order.
func (b *Builder[T]) AddStepWithOrder(step Step[T], order int) *Builder[T] {
	b.entries = append(b.entries, builderEntry[T]{
		step:  step,
		order: order,
		seq:   len(b.entries),
	})
	return b
}

// MaxRetries sets the saga-level retry ceiling across all steps.
func (b *Builder[T]) MaxRetries(n int) *Builder[T] {
	b.def.maxRetries = n
	return b
}

// Timeout sets the wall-clock budget for a whole run. Zero means no timeout.
func (b *Builder[T]) Timeout(d time.Duration) *Builder[T] {
	b.def.timeout = d
	return b
}

// RetryBase sets the base delay of the exponential backoff.
func (b *Builder[T]) RetryBase(d time.Duration) *Builder[T] {
	b.def.retryBase = d
	return b
}

// Classifier overrides the retryability predicate.
func (b *Builder[T]) Classifier(f func(error) bool) *Builder[T] {
	b.def.classify = f
	return b
}

// Hooks sets the extension hooks shared by every run of this saga type.
func (b *Builder[T]) Hooks(h Hooks[T]) *Builder[T] {
	b.def.hooks = h
	return b
}

// Store sets the state store snapshots are written to after every
// significant status transition.
func (b *Builder[T]) Store(s StateStore) *Builder[T] {
	b.def.store = s
	return b
}

// Publisher sets the publisher lifecycle events are emitted through.
func (b *Builder[T]) Publisher(p events.Publisher) *Builder[T] {
	b.def.publisher = p
	return b
}

// CompensateOnCancel makes a caller-requested cancellation unwind completed
// steps before terminating, instead of leaving their side effects in place.
func (b *Builder[T]) CompensateOnCancel() *Builder[T] {
	b.def.compensateOnCancel = true
	return b
}

// Build validates the registration and produces the shared Definition. Steps
// are sorted by (order, name); the sort is stable, so identical step sets
// always produce identical ordering.
func (b *Builder[T]) Build() (*Definition[T], error) {
	if b.def.name == "" {
		return nil, fmt.Errorf("saga name is required")
	}
	if len(b.entries) == 0 {
		return nil, fmt.Errorf("saga %q: at least one step is required", b.def.name)
	}
	if b.def.maxRetries < 0 {
		return nil, fmt.Errorf("saga %q: max retries must not be negative", b.def.name)
	}
	if b.def.retryBase <= 0 {
		return nil, fmt.Errorf("saga %q: retry base must be positive", b.def.name)
	}

	seen := make(map[string]struct{}, len(b.entries))
	for _, e := range b.entries {
		name := e.step.Name()
		if name == "" {
			return nil, fmt.Errorf("saga %q: step at position %d has no name", b.def.name, e.seq)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("saga %q: duplicate step name %q", b.def.name, name)
		}
		seen[name] = struct{}{}
	}

	entries := make([]builderEntry[T], len(b.entries))
	copy(entries, b.entries)
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].order != entries[j].order {
			return entries[i].order < entries[j].order
		}
		return entries[i].step.Name() < entries[j].step.Name()
	})

	b.def.steps = make([]Step[T], len(entries))
	for i, e := range entries {
		b.def.steps[i] = e.step
	}

	return b.def, nil
}
