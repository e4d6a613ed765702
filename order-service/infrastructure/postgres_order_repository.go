package infrastructure

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/orderflow/order-system/order-service/domain"
	"github.com/orderflow/order-system/shared/models"
)

// ErrOrderNotFound is returned when no order exists for the given id
var ErrOrderNotFound = errors.New("order not found")

// PostgresOrderRepository implements domain.OrderRepository using PostgreSQL
type PostgresOrderRepository struct {
	db *sqlx.DB
}

// NewPostgresOrderRepository creates a new PostgresOrderRepository
func NewPostgresOrderRepository(db *sqlx.DB) *PostgresOrderRepository {
	return &PostgresOrderRepository{db: db}
}

// postgresOrder represents an order in the database
type postgresOrder struct {
	ID              string    `db:"id"`
	UserID          string    `db:"user_id"`
	Items           []byte    `db:"items"`
	TotalAmount     int64     `db:"total_amount"`
	TotalCurrency   string    `db:"total_currency"`
	ShippingAddress string    `db:"shipping_address"`
	Status          string    `db:"status"`
	CreatedAt       time.Time `db:"created_at"`
	UpdatedAt       time.Time `db:"updated_at"`
	Version         int       `db:"version"`
}

// Save inserts a new order
func (r *PostgresOrderRepository) Save(ctx context.Context, order *domain.Order) error {
	query := `
		INSERT INTO orders (
			id, user_id, items, total_amount, total_currency,
			shipping_address, status, created_at, updated_at, version
		) VALUES (
			:id, :user_id, :items, :total_amount, :total_currency,
			:shipping_address, :status, :created_at, :updated_at, :version
		)`

	pgOrder, err := r.toPostgres(order)
	if err != nil {
		return err
	}

	if _, err := r.db.NamedExecContext(ctx, query, pgOrder); err != nil {
		return errors.Wrap(err, "failed to insert order")
	}
	return nil
}

// Update updates an existing order with optimistic locking
func (r *PostgresOrderRepository) Update(ctx context.Context, order *domain.Order) error {
	query := `
		UPDATE orders SET
			status = :status,
			updated_at = :updated_at,
			version = :version
		WHERE id = :id AND version = :version - 1`

	pgOrder, err := r.toPostgres(order)
	if err != nil {
		return err
	}

	result, err := r.db.NamedExecContext(ctx, query, pgOrder)
	if err != nil {
		return errors.Wrap(err, "failed to update order")
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if affected == 0 {
		return errors.Errorf("concurrency conflict updating order %s", order.ID)
	}
	return nil
}

// FindByID retrieves an order by its id
func (r *PostgresOrderRepository) FindByID(ctx context.Context, id models.ID) (*domain.Order, error) {
	query := `
		SELECT id, user_id, items, total_amount, total_currency,
			   shipping_address, status, created_at, updated_at, version
		FROM orders
		WHERE id = $1`

	var pgOrder postgresOrder
	err := r.db.GetContext(ctx, &pgOrder, query, id.String())
	if err == sql.ErrNoRows {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get order")
	}

	return r.toDomain(&pgOrder)
}

func (r *PostgresOrderRepository) toPostgres(order *domain.Order) (*postgresOrder, error) {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal order items")
	}

	return &postgresOrder{
		ID:              order.ID.String(),
		UserID:          order.UserID.String(),
		Items:           items,
		TotalAmount:     order.Total.Amount,
		TotalCurrency:   order.Total.Currency,
		ShippingAddress: order.ShippingAddress,
		Status:          string(order.Status),
		CreatedAt:       order.Timestamps.CreatedAt,
		UpdatedAt:       order.Timestamps.UpdatedAt,
		Version:         order.Version.Value,
	}, nil
}

func (r *PostgresOrderRepository) toDomain(pgOrder *postgresOrder) (*domain.Order, error) {
	id, err := models.NewID(pgOrder.ID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid order ID")
	}

	userID, err := models.NewID(pgOrder.UserID)
	if err != nil {
		return nil, errors.Wrap(err, "invalid user ID")
	}

	var items []domain.OrderItem
	if err := json.Unmarshal(pgOrder.Items, &items); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal order items")
	}

	return &domain.Order{
		ID:              id,
		UserID:          userID,
		Items:           items,
		Total:           models.NewMoney(pgOrder.TotalAmount, pgOrder.TotalCurrency),
		ShippingAddress: pgOrder.ShippingAddress,
		Status:          domain.OrderStatus(pgOrder.Status),
		Timestamps: models.Timestamps{
			CreatedAt: pgOrder.CreatedAt,
			UpdatedAt: pgOrder.UpdatedAt,
		},
		Version: models.Version{Value: pgOrder.Version},
	}, nil
}
