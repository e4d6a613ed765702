package domain

import (
	"github.com/orderflow/order-system/shared/models"
)

// PlacementData is the shared payload of the order placement saga. Steps
// mutate it in place as they make forward progress; compensations consult
// the same fields to undo their effects.
type PlacementData struct {
	OrderID         models.ID    `json:"order_id"`
	UserID          models.ID    `json:"user_id"`
	Items           []OrderItem  `json:"items"`
	Amount          models.Money `json:"amount"`
	ShippingAddress string       `json:"shipping_address"`

	// ReservationID is set by the stock reservation step
	ReservationID string `json:"reservation_id,omitempty"`

	// PaymentTransactionID is set by the payment step
	PaymentTransactionID string `json:"payment_transaction_id,omitempty"`

	// TrackingNumber is set by the shipping step
	TrackingNumber string `json:"tracking_number,omitempty"`
}
