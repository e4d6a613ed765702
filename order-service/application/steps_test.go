package application

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderflow/order-system/order-service/domain"
	"github.com/orderflow/order-system/shared/models"
)

type fakeInventory struct {
	reserveErr error
	releaseErr error
	reserved   []models.ID
	released   []string
}

func (f *fakeInventory) Reserve(_ context.Context, orderID models.ID, _ []domain.OrderItem) (string, error) {
	if f.reserveErr != nil {
		return "", f.reserveErr
	}
	f.reserved = append(f.reserved, orderID)
	return "RES-1", nil
}

func (f *fakeInventory) Release(_ context.Context, reservationID string) error {
	if f.releaseErr != nil {
		return f.releaseErr
	}
	f.released = append(f.released, reservationID)
	return nil
}

type fakeGateway struct {
	chargeErr error
	refundErr error
	charged   []models.Money
	refunded  []string
}

func (f *fakeGateway) Charge(_ context.Context, _ models.ID, amount models.Money) (string, error) {
	if f.chargeErr != nil {
		return "", f.chargeErr
	}
	f.charged = append(f.charged, amount)
	return "TXN-1", nil
}

func (f *fakeGateway) Refund(_ context.Context, transactionID string) error {
	if f.refundErr != nil {
		return f.refundErr
	}
	f.refunded = append(f.refunded, transactionID)
	return nil
}

type fakeShipping struct {
	shipErr error
	shipped []models.ID
}

func (f *fakeShipping) Ship(_ context.Context, orderID models.ID, _ string) (string, error) {
	if f.shipErr != nil {
		return "", f.shipErr
	}
	f.shipped = append(f.shipped, orderID)
	return "TRK-1", nil
}

func placementData() *domain.PlacementData {
	return &domain.PlacementData{
		OrderID:         models.GenerateUUID(),
		UserID:          models.GenerateUUID(),
		Items:           []domain.OrderItem{{SKU: "SKU-1", Quantity: 1, Price: models.NewMoney(1000, "USD")}},
		Amount:          models.NewMoney(1000, "USD"),
		ShippingAddress: "221B Baker Street",
	}
}

func TestReserveStockStep(t *testing.T) {
	inventory := &fakeInventory{}
	step := NewReserveStockStep(inventory)
	data := placementData()

	assert.Equal(t, StepReserveStock, step.Name())
	assert.True(t, step.CanCompensate())

	require.NoError(t, step.Execute(context.Background(), data))
	assert.Equal(t, "RES-1", data.ReservationID)

	require.NoError(t, step.Compensate(context.Background(), data))
	assert.Equal(t, []string{"RES-1"}, inventory.released)
	assert.Empty(t, data.ReservationID)
}

func TestReserveStockStep_CompensateWithoutReservation(t *testing.T) {
	inventory := &fakeInventory{releaseErr: errors.New("should not be called")}
	step := NewReserveStockStep(inventory)

	// Nothing reserved yet, nothing to release
	require.NoError(t, step.Compensate(context.Background(), placementData()))
}

func TestProcessPaymentStep(t *testing.T) {
	gateway := &fakeGateway{}
	step := NewProcessPaymentStep(gateway)
	data := placementData()

	assert.Equal(t, StepProcessPayment, step.Name())
	assert.True(t, step.CanCompensate())

	require.NoError(t, step.Execute(context.Background(), data))
	assert.Equal(t, "TXN-1", data.PaymentTransactionID)
	assert.Equal(t, []models.Money{data.Amount}, gateway.charged)

	require.NoError(t, step.Compensate(context.Background(), data))
	assert.Equal(t, []string{"TXN-1"}, gateway.refunded)
	assert.Empty(t, data.PaymentTransactionID)
}

func TestProcessPaymentStep_ChargeFailure(t *testing.T) {
	gateway := &fakeGateway{chargeErr: errors.New("card declined")}
	step := NewProcessPaymentStep(gateway)
	data := placementData()

	err := step.Execute(context.Background(), data)
	require.Error(t, err)
	assert.Empty(t, data.PaymentTransactionID)
}

func TestShipOrderStep(t *testing.T) {
	shipping := &fakeShipping{}
	step := NewShipOrderStep(shipping)
	data := placementData()

	assert.Equal(t, StepShipOrder, step.Name())
	// Shipments cannot be recalled
	assert.False(t, step.CanCompensate())

	require.NoError(t, step.Execute(context.Background(), data))
	assert.Equal(t, "TRK-1", data.TrackingNumber)

	require.NoError(t, step.Compensate(context.Background(), data))
	assert.Equal(t, "TRK-1", data.TrackingNumber)
}
