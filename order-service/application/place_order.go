package application

import (
	"context"

	"github.com/pkg/errors"

	"github.com/orderflow/order-system/order-service/domain"
	"github.com/orderflow/order-system/shared/events"
	"github.com/orderflow/order-system/shared/models"
	"github.com/orderflow/order-system/shared/saga"
)

// PlaceOrderCommand represents the command to place an order
type PlaceOrderCommand struct {
	UserID          string           `json:"user_id"`
	Items           []PlaceOrderItem `json:"items"`
	ShippingAddress string           `json:"shipping_address"`
}

// PlaceOrderItem is one requested order line
type PlaceOrderItem struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

// PlaceOrderResponse represents the outcome of an order placement
type PlaceOrderResponse struct {
	OrderID          string   `json:"order_id"`
	SagaID           string   `json:"saga_id"`
	SagaStatus       string   `json:"saga_status"`
	Reason           string   `json:"reason,omitempty"`
	CompensatedSteps []string `json:"compensated_steps,omitempty"`
}

// PlaceOrder use case: creates the order aggregate and drives the placement
// saga to a terminal state.
type PlaceOrder struct {
	orders         domain.OrderRepository
	placementSaga  *saga.Definition[domain.PlacementData]
	eventPublisher events.Publisher
}

// NewPlaceOrder creates a new PlaceOrder use case
func NewPlaceOrder(
	orders domain.OrderRepository,
	placementSaga *saga.Definition[domain.PlacementData],
	eventPublisher events.Publisher,
) *PlaceOrder {
	return &PlaceOrder{
		orders:         orders,
		placementSaga:  placementSaga,
		eventPublisher: eventPublisher,
	}
}

// Execute places the order. The call returns once the saga reaches a
// terminal state, successful or not.
func (uc *PlaceOrder) Execute(ctx context.Context, cmd *PlaceOrderCommand) (*PlaceOrderResponse, error) {
	userID, err := models.NewID(cmd.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid user ID")
	}

	items := make([]domain.OrderItem, len(cmd.Items))
	for i, item := range cmd.Items {
		items[i] = domain.OrderItem{
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Price:    models.NewMoney(item.Price, item.Currency),
		}
	}

	order, err := domain.CreateOrder(userID, items, cmd.ShippingAddress)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create order")
	}

	if err := uc.orders.Save(ctx, order); err != nil {
		return nil, errors.Wrap(err, "failed to save order")
	}
	uc.publishEvents(ctx, order)

	if err := order.Process(); err != nil {
		return nil, errors.Wrap(err, "failed to start processing")
	}
	if err := uc.orders.Update(ctx, order); err != nil {
		return nil, errors.Wrap(err, "failed to update order")
	}
	uc.publishEvents(ctx, order)

	data := &domain.PlacementData{
		OrderID:         order.ID,
		UserID:          order.UserID,
		Items:           order.Items,
		Amount:          order.Total,
		ShippingAddress: order.ShippingAddress,
	}

	instance := uc.placementSaga.NewInstance()
	result, runErr := instance.Start(ctx, data)
	if result == nil {
		return nil, errors.Wrap(runErr, "failed to run placement saga")
	}

	uc.settleOrder(ctx, order, result, data)

	return &PlaceOrderResponse{
		OrderID:          order.ID.String(),
		SagaID:           result.SagaID.String(),
		SagaStatus:       result.Status.String(),
		Reason:           result.Reason,
		CompensatedSteps: result.CompensatedSteps,
	}, nil
}

// settleOrder moves the aggregate to its final status based on the saga
// outcome. Settlement failures are swallowed: the saga result is the source
// of truth and the aggregate can be repaired from it.
func (uc *PlaceOrder) settleOrder(ctx context.Context, order *domain.Order, result *saga.Result, data *domain.PlacementData) {
	var err error
	switch {
	case result.Succeeded():
		err = order.Complete(data.TrackingNumber)
	case result.Status == saga.StatusCancelled:
		err = order.Cancel()
	default:
		err = order.Fail(result.Reason)
	}
	if err != nil {
		return
	}

	if err := uc.orders.Update(ctx, order); err != nil {
		return
	}
	uc.publishEvents(ctx, order)
}

func (uc *PlaceOrder) publishEvents(ctx context.Context, order *domain.Order) {
	if len(order.Events()) == 0 {
		return
	}
	_ = uc.eventPublisher.Publish(ctx, order.Events()...)
	order.ClearEvents()
}
