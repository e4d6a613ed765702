package domain

import (
	"time"

	"github.com/pkg/errors"

	"github.com/orderflow/order-system/shared/events"
	"github.com/orderflow/order-system/shared/models"
)

// OrderStatus represents the status of an order
type OrderStatus string

const (
	OrderStatusCreated    OrderStatus = "created"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusCompleted  OrderStatus = "completed"
	OrderStatusFailed     OrderStatus = "failed"
	OrderStatusCancelled  OrderStatus = "cancelled"
)

// OrderItem is a single line of an order
type OrderItem struct {
	SKU      string       `json:"sku"`
	Quantity int          `json:"quantity"`
	Price    models.Money `json:"price"`
}

// Order aggregate root
type Order struct {
	ID              models.ID
	UserID          models.ID
	Items           []OrderItem
	Total           models.Money
	ShippingAddress string
	Status          OrderStatus
	Timestamps      models.Timestamps
	Version         models.Version

	events []*events.Event
}

// CreateOrder factory method
func CreateOrder(userID models.ID, items []OrderItem, shippingAddress string) (*Order, error) {
	if len(items) == 0 {
		return nil, errors.New("order must have at least one item")
	}
	if shippingAddress == "" {
		return nil, errors.New("shipping address is required")
	}

	total := models.NewMoney(0, items[0].Price.Currency)
	for _, item := range items {
		if item.Quantity <= 0 {
			return nil, errors.Errorf("invalid quantity for sku %s", item.SKU)
		}
		if !item.Price.IsPositive() {
			return nil, errors.Errorf("invalid price for sku %s", item.SKU)
		}
		line := models.NewMoney(item.Price.Amount*int64(item.Quantity), item.Price.Currency)
		var err error
		total, err = total.Add(line)
		if err != nil {
			return nil, errors.Wrap(err, "failed to total order")
		}
	}

	order := &Order{
		ID:              models.GenerateUUID(),
		UserID:          userID,
		Items:           items,
		Total:           total,
		ShippingAddress: shippingAddress,
		Status:          OrderStatusCreated,
		Timestamps:      models.NewTimestamps(),
		Version:         models.NewVersion(),
	}

	order.recordEvent(events.NewEvent(order.ID, events.OrderCreatedEvent, OrderCreatedData{
		OrderID: order.ID,
		UserID:  order.UserID,
		Items:   order.Items,
		Total:   order.Total,
	}))

	return order, nil
}

// Process marks the order as processing
func (o *Order) Process() error {
	if o.Status != OrderStatusCreated {
		return errors.New("order can only be processed from created status")
	}

	o.Status = OrderStatusProcessing
	o.Timestamps = o.Timestamps.Update()
	o.Version = o.Version.Update()

	o.recordEvent(events.NewEvent(o.ID, events.OrderProcessingEvent, OrderProcessingData{
		OrderID: o.ID,
		UserID:  o.UserID,
	}))
	return nil
}

// Complete marks the order as completed with its shipping tracking number
func (o *Order) Complete(trackingNumber string) error {
	if o.Status != OrderStatusProcessing {
		return errors.New("order can only be completed from processing status")
	}

	o.Status = OrderStatusCompleted
	o.Timestamps = o.Timestamps.Update()
	o.Version = o.Version.Update()

	o.recordEvent(events.NewEvent(o.ID, events.OrderCompletedEvent, OrderCompletedData{
		OrderID:        o.ID,
		UserID:         o.UserID,
		Total:          o.Total,
		TrackingNumber: trackingNumber,
		CompletedAt:    time.Now(),
	}))
	return nil
}

// Fail marks the order as failed
func (o *Order) Fail(reason string) error {
	if o.Status == OrderStatusCompleted {
		return errors.New("cannot fail a completed order")
	}

	o.Status = OrderStatusFailed
	o.Timestamps = o.Timestamps.Update()
	o.Version = o.Version.Update()

	o.recordEvent(events.NewEvent(o.ID, events.OrderFailedEvent, OrderFailedData{
		OrderID:  o.ID,
		UserID:   o.UserID,
		Reason:   reason,
		FailedAt: time.Now(),
	}))
	return nil
}

// Cancel marks the order as cancelled
func (o *Order) Cancel() error {
	if o.Status == OrderStatusCompleted {
		return errors.New("cannot cancel a completed order")
	}

	o.Status = OrderStatusCancelled
	o.Timestamps = o.Timestamps.Update()
	o.Version = o.Version.Update()

	o.recordEvent(events.NewEvent(o.ID, events.OrderCancelledEvent, OrderCancelledData{
		OrderID:     o.ID,
		UserID:      o.UserID,
		CancelledAt: time.Now(),
	}))
	return nil
}

// Events returns domain events
func (o *Order) Events() []*events.Event {
	return o.events
}

// ClearEvents clears domain events
func (o *Order) ClearEvents() {
	o.events = make([]*events.Event, 0)
}

func (o *Order) recordEvent(event *events.Event) {
	o.events = append(o.events, event)
}

// Event Data Structures
type OrderCreatedData struct {
	OrderID models.ID    `json:"order_id"`
	UserID  models.ID    `json:"user_id"`
	Items   []OrderItem  `json:"items"`
	Total   models.Money `json:"total"`
}

type OrderProcessingData struct {
	OrderID models.ID `json:"order_id"`
	UserID  models.ID `json:"user_id"`
}

type OrderCompletedData struct {
	OrderID        models.ID    `json:"order_id"`
	UserID         models.ID    `json:"user_id"`
	Total          models.Money `json:"total"`
	TrackingNumber string       `json:"tracking_number"`
	CompletedAt    time.Time    `json:"completed_at"`
}

type OrderFailedData struct {
	OrderID  models.ID `json:"order_id"`
	UserID   models.ID `json:"user_id"`
	Reason   string    `json:"reason"`
	FailedAt time.Time `json:"failed_at"`
}

type OrderCancelledData struct {
	OrderID     models.ID `json:"order_id"`
	UserID      models.ID `json:"user_id"`
	CancelledAt time.Time `json:"cancelled_at"`
}
