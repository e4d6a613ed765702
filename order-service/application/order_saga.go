package application

import (
	"time"

	"github.com/pkg/errors"

	"github.com/orderflow/order-system/order-service/domain"
	"github.com/orderflow/order-system/shared/events"
	"github.com/orderflow/order-system/shared/saga"
	"github.com/orderflow/order-system/shared/telemetry"
)

// OrderPlacementSagaName identifies the order placement saga type
const OrderPlacementSagaName = "order_placement"

// OrderSagaConfig tunes the placement saga's execution policy
type OrderSagaConfig struct {
	MaxRetries int
	RetryBase  time.Duration
	Timeout    time.Duration
}

// NewOrderPlacementSaga builds the definition of the order placement saga:
// reserve stock, charge the user, create the shipment. A failure after the
// payment step refunds and releases in reverse order; the shipment itself
// has no undo.
func NewOrderPlacementSaga(
	cfg OrderSagaConfig,
	inventory domain.InventoryService,
	gateway domain.PaymentGateway,
	shipping domain.ShippingProvider,
	store saga.StateStore,
	publisher events.Publisher,
) (*saga.Definition[domain.PlacementData], error) {
	builder := saga.NewBuilder[domain.PlacementData](OrderPlacementSagaName).
		AddStep(NewReserveStockStep(inventory)).
		AddStep(NewProcessPaymentStep(gateway)).
		AddStep(NewShipOrderStep(shipping)).
		Store(store).
		Publisher(publisher).
		Hooks(*telemetry.SagaHooks[domain.PlacementData](OrderPlacementSagaName))

	if cfg.MaxRetries > 0 {
		builder.MaxRetries(cfg.MaxRetries)
	}
	if cfg.RetryBase > 0 {
		builder.RetryBase(cfg.RetryBase)
	}
	if cfg.Timeout > 0 {
		builder.Timeout(cfg.Timeout)
	}

	def, err := builder.Build()
	if err != nil {
		return nil, errors.Wrap(err, "failed to build order placement saga")
	}
	return def, nil
}
