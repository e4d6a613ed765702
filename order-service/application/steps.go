package application

import (
	"context"

	"github.com/pkg/errors"

	"github.com/orderflow/order-system/order-service/domain"
)

// Step names of the order placement saga
const (
	StepReserveStock   = "reserve_stock"
	StepProcessPayment = "process_payment"
	StepShipOrder      = "ship_order"
)

// ReserveStockStep reserves inventory for every item of the order. Its
// compensation releases the reservation.
type ReserveStockStep struct {
	inventory domain.InventoryService
}

func NewReserveStockStep(inventory domain.InventoryService) *ReserveStockStep {
	return &ReserveStockStep{inventory: inventory}
}

func (s *ReserveStockStep) Name() string        { return StepReserveStock }
func (s *ReserveStockStep) Order() int          { return 1 }
func (s *ReserveStockStep) CanCompensate() bool { return true }

func (s *ReserveStockStep) Execute(ctx context.Context, data *domain.PlacementData) error {
	reservationID, err := s.inventory.Reserve(ctx, data.OrderID, data.Items)
	if err != nil {
		return errors.Wrap(err, "failed to reserve stock")
	}
	data.ReservationID = reservationID
	return nil
}

func (s *ReserveStockStep) Compensate(ctx context.Context, data *domain.PlacementData) error {
	if data.ReservationID == "" {
		return nil
	}
	if err := s.inventory.Release(ctx, data.ReservationID); err != nil {
		return errors.Wrap(err, "failed to release reservation")
	}
	data.ReservationID = ""
	return nil
}

// ProcessPaymentStep charges the user for the order total. Its compensation
// refunds the charge.
type ProcessPaymentStep struct {
	gateway domain.PaymentGateway
}

func NewProcessPaymentStep(gateway domain.PaymentGateway) *ProcessPaymentStep {
	return &ProcessPaymentStep{gateway: gateway}
}

func (s *ProcessPaymentStep) Name() string        { return StepProcessPayment }
func (s *ProcessPaymentStep) Order() int          { return 2 }
func (s *ProcessPaymentStep) CanCompensate() bool { return true }

func (s *ProcessPaymentStep) Execute(ctx context.Context, data *domain.PlacementData) error {
	transactionID, err := s.gateway.Charge(ctx, data.UserID, data.Amount)
	if err != nil {
		return errors.Wrap(err, "failed to charge payment")
	}
	data.PaymentTransactionID = transactionID
	return nil
}

func (s *ProcessPaymentStep) Compensate(ctx context.Context, data *domain.PlacementData) error {
	if data.PaymentTransactionID == "" {
		return nil
	}
	if err := s.gateway.Refund(ctx, data.PaymentTransactionID); err != nil {
		return errors.Wrap(err, "failed to refund payment")
	}
	data.PaymentTransactionID = ""
	return nil
}

// ShipOrderStep creates the shipment. Shipments cannot be recalled, so the
// step declares itself non-compensable and the unwind skips it.
type ShipOrderStep struct {
	shipping domain.ShippingProvider
}

func NewShipOrderStep(shipping domain.ShippingProvider) *ShipOrderStep {
	return &ShipOrderStep{shipping: shipping}
}

func (s *ShipOrderStep) Name() string        { return StepShipOrder }
func (s *ShipOrderStep) Order() int          { return 3 }
func (s *ShipOrderStep) CanCompensate() bool { return false }

func (s *ShipOrderStep) Execute(ctx context.Context, data *domain.PlacementData) error {
	trackingNumber, err := s.shipping.Ship(ctx, data.OrderID, data.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "failed to create shipment")
	}
	data.TrackingNumber = trackingNumber
	return nil
}

func (s *ShipOrderStep) Compensate(ctx context.Context, data *domain.PlacementData) error {
	return nil
}
