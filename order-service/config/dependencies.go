package config

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/orderflow/order-system/order-service/application"
	"github.com/orderflow/order-system/order-service/domain"
	"github.com/orderflow/order-system/order-service/handlers"
	"github.com/orderflow/order-system/order-service/infrastructure"
	"github.com/orderflow/order-system/shared/events"
	sharedinfra "github.com/orderflow/order-system/shared/infrastructure"
	"github.com/orderflow/order-system/shared/saga"
)

type Dependencies struct {
	// Database
	DB *sqlx.DB

	// Stores
	SagaStore       saga.StateStore
	OrderRepository *infrastructure.PostgresOrderRepository

	// Saga definition
	PlacementSaga *saga.Definition[domain.PlacementData]

	// Use Cases
	PlaceOrder *application.PlaceOrder
	GetSaga    *application.GetOrderSaga
	ResumeSaga *application.ResumeOrderSaga

	// HTTP Handlers
	OrderHandlers *handlers.OrderHandlers

	// Event Handlers
	OrderEventHandlers *handlers.OrderEventHandlers

	// Infrastructure
	EventPublisher  events.Publisher
	EventSubscriber *sharedinfra.SQSEventSubscriber
}

func BuildDependencies(ctx context.Context, config *Config) (*Dependencies, error) {
	deps := &Dependencies{}

	eventPublisher, err := sharedinfra.NewSNSEventPublisherFromEnv(ctx, config.AWS.SNSTopicArn)
	if err != nil {
		return nil, fmt.Errorf("failed to create SNS publisher: %w", err)
	}
	deps.EventPublisher = eventPublisher

	if config.Saga.UseMemoryDB {
		store, err := sharedinfra.NewMemDBSagaStore()
		if err != nil {
			return nil, fmt.Errorf("failed to create memory saga store: %w", err)
		}
		deps.SagaStore = store
	}

	db, err := sqlx.Connect("postgres", config.GetDatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	deps.DB = db

	if deps.SagaStore == nil {
		deps.SagaStore = sharedinfra.NewPostgresSagaStore(db)
	}
	deps.OrderRepository = infrastructure.NewPostgresOrderRepository(db)

	// Partner clients
	inventory := infrastructure.NewHTTPInventoryService(config.Partners.InventoryURL)
	gateway := infrastructure.NewHTTPPaymentGateway(config.Partners.PaymentURL)
	shipping := infrastructure.NewHTTPShippingProvider(config.Partners.ShippingURL)

	placementSaga, err := application.NewOrderPlacementSaga(
		application.OrderSagaConfig{
			MaxRetries: config.Saga.MaxRetries,
			RetryBase:  config.SagaRetryBase(),
			Timeout:    config.SagaTimeout(),
		},
		inventory,
		gateway,
		shipping,
		deps.SagaStore,
		deps.EventPublisher,
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to build placement saga: %w", err)
	}
	deps.PlacementSaga = placementSaga

	// Use cases
	deps.PlaceOrder = application.NewPlaceOrder(deps.OrderRepository, placementSaga, deps.EventPublisher)
	deps.GetSaga = application.NewGetOrderSaga(deps.SagaStore)
	deps.ResumeSaga = application.NewResumeOrderSaga(placementSaga, deps.SagaStore)

	// Handlers
	deps.OrderHandlers = handlers.NewOrderHandlers(deps.PlaceOrder, deps.GetSaga, deps.ResumeSaga)
	deps.OrderEventHandlers = handlers.NewOrderEventHandlers(deps.ResumeSaga)

	subscriber, err := sharedinfra.NewSQSEventSubscriberFromEnv(ctx, config.AWS.SQSQueueURL, deps.OrderEventHandlers)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create SQS subscriber: %w", err)
	}
	deps.EventSubscriber = subscriber

	return deps, nil
}

// Close closes all dependencies
func (d *Dependencies) Close() error {
	var errs []error

	if d.EventSubscriber != nil {
		if err := d.EventSubscriber.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop event subscriber: %w", err))
		}
	}

	if d.DB != nil {
		if err := d.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close database: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing dependencies: %v", errs)
	}
	return nil
}
