package application

import (
	"context"

	"github.com/pkg/errors"

	"github.com/orderflow/order-system/order-service/domain"
	"github.com/orderflow/order-system/shared/models"
	"github.com/orderflow/order-system/shared/saga"
)

// ResumeOrderSagaCommand requests that a suspended or interrupted placement
// saga continue from its last snapshot.
type ResumeOrderSagaCommand struct {
	SagaID string `json:"saga_id"`
}

// ResumeOrderSagaResponse reports the terminal outcome of the resumed run
type ResumeOrderSagaResponse struct {
	SagaID     string `json:"saga_id"`
	SagaStatus string `json:"saga_status"`
	Reason     string `json:"reason,omitempty"`
}

// ResumeOrderSaga use case: loads the latest snapshot of a placement saga
// and drives it to a terminal state from where it left off.
type ResumeOrderSaga struct {
	placementSaga *saga.Definition[domain.PlacementData]
	store         saga.StateStore
}

// NewResumeOrderSaga creates a new ResumeOrderSaga use case
func NewResumeOrderSaga(
	placementSaga *saga.Definition[domain.PlacementData],
	store saga.StateStore,
) *ResumeOrderSaga {
	return &ResumeOrderSaga{
		placementSaga: placementSaga,
		store:         store,
	}
}

// Execute resumes the saga. Steps completed before the snapshot are never
// re-invoked.
func (uc *ResumeOrderSaga) Execute(ctx context.Context, cmd *ResumeOrderSagaCommand) (*ResumeOrderSagaResponse, error) {
	sagaID, err := models.NewID(cmd.SagaID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid saga ID")
	}

	snapshot, err := uc.store.Load(ctx, sagaID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load saga snapshot")
	}

	result, runErr := uc.placementSaga.Resume(ctx, snapshot)
	if result == nil {
		return nil, errors.Wrap(runErr, "failed to resume placement saga")
	}

	return &ResumeOrderSagaResponse{
		SagaID:     result.SagaID.String(),
		SagaStatus: result.Status.String(),
		Reason:     result.Reason,
	}, nil
}
