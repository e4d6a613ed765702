package handlers

import (
	"context"

	"github.com/pkg/errors"

	"github.com/orderflow/order-system/order-service/application"
	"github.com/orderflow/order-system/shared/events"
)

// OrderEventHandlers dispatches inbound events to the order use cases
type OrderEventHandlers struct {
	resumeSaga *application.ResumeOrderSaga
}

// NewOrderEventHandlers creates new order event handlers
func NewOrderEventHandlers(resumeSaga *application.ResumeOrderSaga) *OrderEventHandlers {
	return &OrderEventHandlers{resumeSaga: resumeSaga}
}

// Handle implements the events.Handler interface
func (h *OrderEventHandlers) Handle(ctx context.Context, event *events.Event) error {
	switch event.Topic {
	case events.SagaResumeRequestedEvent:
		return h.HandleSagaResumeRequested(ctx, event)
	default:
		// Unknown topic, ignore
		return nil
	}
}

// SagaResumeRequestedData is the payload of a resume request event
type SagaResumeRequestedData struct {
	SagaID string `json:"saga_id"`
}

// HandleSagaResumeRequested resumes an interrupted placement saga
func (h *OrderEventHandlers) HandleSagaResumeRequested(ctx context.Context, event *events.Event) error {
	var data SagaResumeRequestedData
	if err := event.UnmarshalPayload(&data); err != nil {
		return errors.Wrap(err, "failed to unmarshal resume request")
	}

	_, err := h.resumeSaga.Execute(ctx, &application.ResumeOrderSagaCommand{SagaID: data.SagaID})
	if err != nil {
		return errors.Wrap(err, "failed to resume saga")
	}
	return nil
}
