package application

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/orderflow/order-system/shared/models"
	"github.com/orderflow/order-system/shared/saga"
)

// GetOrderSagaQuery requests the persisted state of a placement saga
type GetOrderSagaQuery struct {
	SagaID string `json:"saga_id"`
}

// OrderSagaView is the read model of a saga run
type OrderSagaView struct {
	SagaID           string     `json:"saga_id"`
	SagaName         string     `json:"saga_name"`
	Status           string     `json:"status"`
	CurrentStep      string     `json:"current_step,omitempty"`
	ExecutedSteps    []string   `json:"executed_steps,omitempty"`
	CompensatedSteps []string   `json:"compensated_steps,omitempty"`
	Errors           []string   `json:"errors,omitempty"`
	RetryCount       int        `json:"retry_count"`
	StartedAt        time.Time  `json:"started_at"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
}

// GetOrderSaga use case: reads a saga's latest snapshot from the store
type GetOrderSaga struct {
	store saga.StateStore
}

// NewGetOrderSaga creates a new GetOrderSaga use case
func NewGetOrderSaga(store saga.StateStore) *GetOrderSaga {
	return &GetOrderSaga{store: store}
}

// Execute returns the saga view, or saga.ErrSnapshotNotFound
func (uc *GetOrderSaga) Execute(ctx context.Context, query *GetOrderSagaQuery) (*OrderSagaView, error) {
	sagaID, err := models.NewID(query.SagaID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga ID")
	}

	snapshot, err := uc.store.Load(ctx, sagaID)
	if err != nil {
		return nil, err
	}

	return &OrderSagaView{
		SagaID:           snapshot.SagaID.String(),
		SagaName:         snapshot.SagaName,
		Status:           snapshot.Status.String(),
		CurrentStep:      snapshot.CurrentStepName,
		ExecutedSteps:    snapshot.ExecutedSteps,
		CompensatedSteps: snapshot.CompensatedSteps,
		Errors:           snapshot.Errors,
		RetryCount:       snapshot.RetryCount,
		StartedAt:        snapshot.StartedAt,
		CompletedAt:      snapshot.CompletedAt,
	}, nil
}
