package domain

import (
	"context"

	"github.com/orderflow/order-system/shared/models"
)

// OrderRepository persists order aggregates
type OrderRepository interface {
	Save(ctx context.Context, order *Order) error
	FindByID(ctx context.Context, id models.ID) (*Order, error)
	Update(ctx context.Context, order *Order) error
}

// InventoryService reserves and releases stock for order items
type InventoryService interface {
	Reserve(ctx context.Context, orderID models.ID, items []OrderItem) (reservationID string, err error)
	Release(ctx context.Context, reservationID string) error
}

// PaymentGateway charges and refunds users
type PaymentGateway interface {
	Charge(ctx context.Context, userID models.ID, amount models.Money) (transactionID string, err error)
	Refund(ctx context.Context, transactionID string) error
}

// ShippingProvider creates shipments for completed orders. Shipments cannot
// be recalled once created.
type ShippingProvider interface {
	Ship(ctx context.Context, orderID models.ID, address string) (trackingNumber string, err error)
}
