package saga

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/order-system/shared/events"
	"github.com/orderflow/order-system/shared/models"
)

type bookingData struct {
	FlightRef string `json:"flight_ref"`
	HotelRef  string `json:"hotel_ref"`
	CarRef    string `json:"car_ref"`
}

// memStore is an in-memory StateStore recording every snapshot version
type memStore struct {
	mu         sync.Mutex
	history    map[models.ID][]*Snapshot
	failSave   bool
	failUpdate bool
}

func newMemStore() *memStore {
	return &memStore{history: make(map[models.ID][]*Snapshot)}
}

func (s *memStore) Save(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("store unavailable")
	}
	if len(s.history[snap.SagaID]) > 0 {
		return errors.Errorf("saga %s already saved", snap.SagaID)
	}
	s.history[snap.SagaID] = append(s.history[snap.SagaID], snap.Clone())
	return nil
}

func (s *memStore) Load(_ context.Context, sagaID models.ID) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.history[sagaID]
	if len(snaps) == 0 {
		return nil, ErrSnapshotNotFound
	}
	return snaps[len(snaps)-1].Clone(), nil
}

func (s *memStore) Update(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate {
		return errors.New("store unavailable")
	}
	snaps := s.history[snap.SagaID]
	if len(snaps) == 0 {
		return ErrSnapshotNotFound
	}
	if snaps[len(snaps)-1].Version != snap.Version-1 {
		return ErrVersionConflict
	}
	s.history[snap.SagaID] = append(snaps, snap.Clone())
	return nil
}

func (s *memStore) latest(sagaID models.ID) *Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snaps := s.history[sagaID]
	if len(snaps) == 0 {
		return nil
	}
	return snaps[len(snaps)-1]
}

// capturingPublisher records published lifecycle topics in order
type capturingPublisher struct {
	mu     sync.Mutex
	topics []events.Topic
}

func (p *capturingPublisher) Publish(_ context.Context, evts ...*events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range evts {
		p.topics = append(p.topics, e.Topic)
	}
	return nil
}

func (p *capturingPublisher) Topics() []events.Topic {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]events.Topic(nil), p.topics...)
}

// trackedStep counts executions and compensations and appends to a shared log
type trackedStep struct {
	name        string
	compensable bool
	execute     func(ctx context.Context, data *bookingData) error
	compensate  func(ctx context.Context, data *bookingData) error

	mu         sync.Mutex
	log        *[]string
	executions int
	undos      int
}

func (s *trackedStep) Name() string        { return s.name }
func (s *trackedStep) Order() int          { return 0 }
func (s *trackedStep) CanCompensate() bool { return s.compensable }

func (s *trackedStep) Execute(ctx context.Context, data *bookingData) error {
	s.mu.Lock()
	s.executions++
	if s.log != nil {
		*s.log = append(*s.log, "exec:"+s.name)
	}
	s.mu.Unlock()
	if s.execute != nil {
		return s.execute(ctx, data)
	}
	return nil
}

func (s *trackedStep) Compensate(ctx context.Context, data *bookingData) error {
	s.mu.Lock()
	s.undos++
	if s.log != nil {
		*s.log = append(*s.log, "undo:"+s.name)
	}
	s.mu.Unlock()
	if s.compensate != nil {
		return s.compensate(ctx, data)
	}
	return nil
}

func buildBookingSaga(t *testing.T, store StateStore, publisher events.Publisher, steps ...Step[bookingData]) *Definition[bookingData] {
	t.Helper()
	b := NewBuilder[bookingData]("trip_booking").RetryBase(time.Millisecond)
	for _, s := range steps {
		b.AddStep(s)
	}
	if store != nil {
		b.Store(store)
	}
	if publisher != nil {
		b.Publisher(publisher)
	}
	def, err := b.Build()
	require.NoError(t, err)
	return def
}

func TestInstance_CompletesAllStepsInOrder(t *testing.T) {
	var log []string
	flight := &trackedStep{name: "book_flight", compensable: true, log: &log,
		execute: func(_ context.Context, d *bookingData) error {
			d.FlightRef = "FL-1"
			return nil
		}}
	hotel := &trackedStep{name: "book_hotel", compensable: true, log: &log,
		execute: func(_ context.Context, d *bookingData) error {
			require.Equal(t, "FL-1", d.FlightRef)
			d.HotelRef = "HO-1"
			return nil
		}}
	car := &trackedStep{name: "book_car", compensable: true, log: &log}

	store := newMemStore()
	def := buildBookingSaga(t, store, nil, flight, hotel, car)
	inst := def.NewInstance()

	res, err := inst.Start(context.Background(), &bookingData{})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Succeeded())
	assert.Equal(t, StatusCompleted, res.Status)
	assert.Zero(t, res.RetryCount)
	assert.Empty(t, res.CompensatedSteps)
	assert.Equal(t, []string{"exec:book_flight", "exec:book_hotel", "exec:book_car"}, log)

	snap := store.latest(inst.ID())
	require.NotNil(t, snap)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, []string{"book_flight", "book_hotel", "book_car"}, snap.ExecutedSteps)
	assert.Equal(t, 3, snap.CurrentStepIndex)
	assert.NotNil(t, snap.CompletedAt)
}

func TestInstance_FailureCompensatesInReverseOrder(t *testing.T) {
	var log []string
	flight := &trackedStep{name: "book_flight", compensable: true, log: &log}
	hotel := &trackedStep{name: "book_hotel", compensable: true, log: &log}
	car := &trackedStep{name: "book_car", compensable: true, log: &log,
		execute: func(_ context.Context, _ *bookingData) error {
			return errors.New("no cars available")
		}}

	store := newMemStore()
	def := buildBookingSaga(t, store, nil, flight, hotel, car)
	inst := def.NewInstance()

	res, err := inst.Start(context.Background(), &bookingData{})
	require.Error(t, err)
	require.NotNil(t, res)

	var stepErr *StepExecutionError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "book_car", stepErr.StepName)
	assert.Equal(t, 2, stepErr.StepIndex)

	assert.Equal(t, StatusCompensated, res.Status)
	assert.Equal(t, []string{"book_hotel", "book_flight"}, res.CompensatedSteps)
	assert.Contains(t, res.Reason, "no cars available")
	assert.Equal(t, []string{
		"exec:book_flight", "exec:book_hotel", "exec:book_car",
		"undo:book_hotel", "undo:book_flight",
	}, log)

	snap := store.latest(inst.ID())
	require.NotNil(t, snap)
	assert.Equal(t, StatusCompensated, snap.Status)
	assert.Equal(t, []string{"book_hotel", "book_flight"}, snap.CompensatedSteps)
}

func TestInstance_NonCompensableStepIsSkipped(t *testing.T) {
	var log []string
	var skipped []string
	flight := &trackedStep{name: "book_flight", compensable: true, log: &log}
	notify := &trackedStep{name: "send_confirmation", compensable: false, log: &log}
	car := &trackedStep{name: "book_car", compensable: true, log: &log,
		execute: func(_ context.Context, _ *bookingData) error {
			return errors.New("no cars available")
		}}

	b := NewBuilder[bookingData]("trip_booking").
		AddStep(flight).
		AddStep(notify).
		AddStep(car).
		RetryBase(time.Millisecond).
		Hooks(Hooks[bookingData]{
			OnCompensationSkipped: func(_ context.Context, _ models.ID, stepName string) {
				skipped = append(skipped, stepName)
			},
		})
	def, err := b.Build()
	require.NoError(t, err)

	res, err := def.NewInstance().Start(context.Background(), &bookingData{})
	require.Error(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StatusCompensated, res.Status)
	assert.Equal(t, []string{"book_flight"}, res.CompensatedSteps)
	assert.Equal(t, []string{"send_confirmation"}, skipped)
	assert.Zero(t, notify.undos)
}

func TestInstance_PartialCompensation(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}
	hotel := &trackedStep{name: "book_hotel", compensable: true,
		compensate: func(_ context.Context, _ *bookingData) error {
			return errors.New("hotel refund rejected")
		}}
	car := &trackedStep{name: "book_car", compensable: true,
		execute: func(_ context.Context, _ *bookingData) error {
			return errors.New("no cars available")
		}}

	var failures []CompensationFailure
	b := NewBuilder[bookingData]("trip_booking").
		AddStep(flight).
		AddStep(hotel).
		AddStep(car).
		RetryBase(time.Millisecond).
		Hooks(Hooks[bookingData]{
			OnCompensationFailed: func(_ context.Context, _ models.ID, f []CompensationFailure) {
				failures = f
			},
		})
	def, err := b.Build()
	require.NoError(t, err)

	res, err := def.NewInstance().Start(context.Background(), &bookingData{})
	require.Error(t, err)
	require.NotNil(t, res)

	assert.Equal(t, StatusPartiallyCompensated, res.Status)
	// The failed hotel compensation did not stop the flight from unwinding
	assert.Equal(t, []string{"book_flight"}, res.CompensatedSteps)
	require.Len(t, res.CompensationErrors, 1)
	assert.Equal(t, "book_hotel", res.CompensationErrors[0].StepName)
	require.Len(t, failures, 1)
	assert.Equal(t, "book_hotel", failures[0].StepName)
}

func TestInstance_TimeoutFailsAndCompensates(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}
	hotel := &trackedStep{name: "book_hotel", compensable: true,
		execute: func(ctx context.Context, _ *bookingData) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(200 * time.Millisecond):
				return nil
			}
		}}

	b := NewBuilder[bookingData]("trip_booking").
		AddStep(flight).
		AddStep(hotel).
		RetryBase(time.Millisecond).
		Timeout(50 * time.Millisecond)
	def, err := b.Build()
	require.NoError(t, err)

	res, err := def.NewInstance().Start(context.Background(), &bookingData{})
	require.Error(t, err)
	require.NotNil(t, res)

	var timeoutErr *SagaTimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "book_hotel", timeoutErr.StepName)
	assert.Equal(t, 50*time.Millisecond, timeoutErr.Timeout)

	// The deadline firing does not block the unwind
	assert.Equal(t, StatusCompensated, res.Status)
	assert.Equal(t, []string{"book_flight"}, res.CompensatedSteps)
	assert.Equal(t, 1, flight.undos)
}

func TestInstance_CancellationTerminatesWithoutCompensation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	flight := &trackedStep{name: "book_flight", compensable: true}
	hotel := &trackedStep{name: "book_hotel", compensable: true,
		execute: func(ctx context.Context, _ *bookingData) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}}

	store := newMemStore()
	def := buildBookingSaga(t, store, nil, flight, hotel)
	inst := def.NewInstance()

	res, err := inst.Start(ctx, &bookingData{})
	require.Error(t, err)
	require.NotNil(t, res)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCancelled, res.Status)
	assert.Empty(t, res.CompensatedSteps)
	assert.Zero(t, flight.undos)

	snap := store.latest(inst.ID())
	require.NotNil(t, snap)
	assert.Equal(t, StatusCancelled, snap.Status)
}

func TestInstance_CompensateOnCancelUnwinds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	flight := &trackedStep{name: "book_flight", compensable: true}
	hotel := &trackedStep{name: "book_hotel", compensable: true,
		execute: func(ctx context.Context, _ *bookingData) error {
			cancel()
			<-ctx.Done()
			return ctx.Err()
		}}

	b := NewBuilder[bookingData]("trip_booking").
		AddStep(flight).
		AddStep(hotel).
		RetryBase(time.Millisecond).
		CompensateOnCancel()
	def, err := b.Build()
	require.NoError(t, err)

	res, err := def.NewInstance().Start(ctx, &bookingData{})
	require.Error(t, err)
	require.NotNil(t, res)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StatusCompensated, res.Status)
	assert.Equal(t, []string{"book_flight"}, res.CompensatedSteps)
	assert.Equal(t, 1, flight.undos)
}

func TestInstance_StartTwiceReturnsInvalidState(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}
	def := buildBookingSaga(t, nil, nil, flight)
	inst := def.NewInstance()

	_, err := inst.Start(context.Background(), &bookingData{})
	require.NoError(t, err)

	_, err = inst.Start(context.Background(), &bookingData{})
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
	assert.Equal(t, StatusCompleted, stateErr.Status)
	assert.Equal(t, 1, flight.executions)
}

func TestInstance_CompensateAfterCompletionReturnsInvalidState(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}
	def := buildBookingSaga(t, nil, nil, flight)
	inst := def.NewInstance()

	_, err := inst.Start(context.Background(), &bookingData{})
	require.NoError(t, err)

	_, err = inst.Compensate(context.Background())
	var stateErr *InvalidStateError
	require.ErrorAs(t, err, &stateErr)
}

func TestInstance_LifecycleEvents(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}
	hotel := &trackedStep{name: "book_hotel", compensable: true,
		execute: func(_ context.Context, _ *bookingData) error {
			return errors.New("sold out")
		}}

	publisher := &capturingPublisher{}
	def := buildBookingSaga(t, nil, publisher, flight, hotel)

	_, err := def.NewInstance().Start(context.Background(), &bookingData{})
	require.Error(t, err)

	assert.Equal(t, []events.Topic{
		events.SagaStartedEvent,
		events.SagaStepCompletedEvent,
		events.SagaFailedEvent,
		events.SagaCompensatingEvent,
		events.SagaCompensatedEvent,
	}, publisher.Topics())
}

func TestInstance_HappyPathEvents(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}

	publisher := &capturingPublisher{}
	def := buildBookingSaga(t, nil, publisher, flight)

	_, err := def.NewInstance().Start(context.Background(), &bookingData{})
	require.NoError(t, err)

	assert.Equal(t, []events.Topic{
		events.SagaStartedEvent,
		events.SagaStepCompletedEvent,
		events.SagaCompletedEvent,
	}, publisher.Topics())
}

func TestInstance_StoreErrorDoesNotAbortRun(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}

	store := newMemStore()
	store.failSave = true
	store.failUpdate = true

	var storeErrs int
	b := NewBuilder[bookingData]("trip_booking").
		AddStep(flight).
		RetryBase(time.Millisecond).
		Store(store).
		Hooks(Hooks[bookingData]{
			OnStoreError: func(_ context.Context, _ models.ID, err error) {
				require.Error(t, err)
				storeErrs++
			},
		})
	def, err := b.Build()
	require.NoError(t, err)

	res, err := def.NewInstance().Start(context.Background(), &bookingData{})
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Greater(t, storeErrs, 0)
}

func TestInstance_SnapshotVersionsAreMonotonic(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}
	hotel := &trackedStep{name: "book_hotel", compensable: true}

	store := newMemStore()
	def := buildBookingSaga(t, store, nil, flight, hotel)
	inst := def.NewInstance()

	_, err := inst.Start(context.Background(), &bookingData{})
	require.NoError(t, err)

	store.mu.Lock()
	defer store.mu.Unlock()
	snaps := store.history[inst.ID()]
	require.NotEmpty(t, snaps)
	for i, snap := range snaps {
		assert.Equal(t, i+1, snap.Version)
	}
}

func TestResume_ContinuesWithoutReinvokingCompletedSteps(t *testing.T) {
	var log []string
	flight := &trackedStep{name: "book_flight", compensable: true, log: &log}
	hotel := &trackedStep{name: "book_hotel", compensable: true, log: &log,
		execute: func(_ context.Context, d *bookingData) error {
			require.Equal(t, "FL-9", d.FlightRef)
			d.HotelRef = "HO-9"
			return nil
		}}
	car := &trackedStep{name: "book_car", compensable: true, log: &log}

	store := newMemStore()
	def := buildBookingSaga(t, store, nil, flight, hotel, car)

	sagaID := models.GenerateUUID()
	data, err := json.Marshal(&bookingData{FlightRef: "FL-9"})
	require.NoError(t, err)

	snapshot := &Snapshot{
		SagaID:           sagaID,
		SagaName:         "trip_booking",
		Status:           StatusRunning,
		CurrentStepIndex: 1,
		CurrentStepName:  "book_hotel",
		Data:             data,
		StartedAt:        time.Now().Add(-time.Second),
		ExecutedSteps:    []string{"book_flight"},
		MaxRetries:       DefaultMaxRetries,
		Version:          3,
	}
	require.NoError(t, store.Save(context.Background(), snapshot))

	res, err := def.Resume(context.Background(), snapshot)
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Succeeded())
	assert.Equal(t, sagaID, res.SagaID)
	// The flight step completed before the snapshot and is never re-invoked
	assert.Zero(t, flight.executions)
	assert.Equal(t, []string{"exec:book_hotel", "exec:book_car"}, log)

	snap := store.latest(sagaID)
	require.NotNil(t, snap)
	assert.Equal(t, StatusCompleted, snap.Status)
	assert.Equal(t, []string{"book_flight", "book_hotel", "book_car"}, snap.ExecutedSteps)
}

func TestResume_RejectsBadSnapshots(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}
	def := buildBookingSaga(t, nil, nil, flight)

	t.Run("nil snapshot", func(t *testing.T) {
		_, err := def.Resume(context.Background(), nil)
		require.Error(t, err)
	})

	t.Run("wrong saga type", func(t *testing.T) {
		_, err := def.Resume(context.Background(), &Snapshot{
			SagaID:   models.GenerateUUID(),
			SagaName: "other_saga",
			Status:   StatusRunning,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "other_saga")
	})

	t.Run("terminal status", func(t *testing.T) {
		_, err := def.Resume(context.Background(), &Snapshot{
			SagaID:   models.GenerateUUID(),
			SagaName: "trip_booking",
			Status:   StatusCompleted,
		})
		var stateErr *InvalidStateError
		require.ErrorAs(t, err, &stateErr)
	})

	t.Run("step index out of range", func(t *testing.T) {
		_, err := def.Resume(context.Background(), &Snapshot{
			SagaID:           models.GenerateUUID(),
			SagaName:         "trip_booking",
			Status:           StatusRunning,
			CurrentStepIndex: 5,
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "out of range")
	})

	t.Run("executed step name mismatch", func(t *testing.T) {
		_, err := def.Resume(context.Background(), &Snapshot{
			SagaID:           models.GenerateUUID(),
			SagaName:         "trip_booking",
			Status:           StatusRunning,
			CurrentStepIndex: 1,
			ExecutedSteps:    []string{"not_a_step"},
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not_a_step")
	})
}

func TestResume_SuspendedSnapshotIsResumable(t *testing.T) {
	flight := &trackedStep{name: "book_flight", compensable: true}

	store := newMemStore()
	def := buildBookingSaga(t, store, nil, flight)

	sagaID := models.GenerateUUID()
	snapshot := &Snapshot{
		SagaID:    sagaID,
		SagaName:  "trip_booking",
		Status:    StatusSuspended,
		StartedAt: time.Now(),
		Version:   1,
	}
	require.NoError(t, store.Save(context.Background(), snapshot))

	res, err := def.Resume(context.Background(), snapshot)
	require.NoError(t, err)
	assert.True(t, res.Succeeded())
	assert.Equal(t, 1, flight.executions)
}
