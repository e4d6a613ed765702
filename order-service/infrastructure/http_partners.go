package infrastructure

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/orderflow/order-system/order-service/domain"
	"github.com/orderflow/order-system/shared/models"
	"github.com/orderflow/order-system/shared/saga"
)

// Partner HTTP clients for the inventory, payment and shipping services.
// Responses with 5xx status are marked transient so the saga engine retries
// them; 4xx responses are permanent.

const partnerRequestTimeout = 10 * time.Second

// HTTPInventoryService implements domain.InventoryService over HTTP
type HTTPInventoryService struct {
	client  *http.Client
	baseURL string
}

// NewHTTPInventoryService creates a new inventory client
func NewHTTPInventoryService(baseURL string) *HTTPInventoryService {
	return &HTTPInventoryService{
		client:  &http.Client{Timeout: partnerRequestTimeout},
		baseURL: baseURL,
	}
}

type reserveStockRequest struct {
	OrderID string             `json:"order_id"`
	Items   []domain.OrderItem `json:"items"`
}

type reserveStockResponse struct {
	ReservationID string `json:"reservation_id"`
}

// Reserve reserves stock for the order items
func (s *HTTPInventoryService) Reserve(ctx context.Context, orderID models.ID, items []domain.OrderItem) (string, error) {
	var resp reserveStockResponse
	err := postJSON(ctx, s.client, s.baseURL+"/reservations", reserveStockRequest{
		OrderID: orderID.String(),
		Items:   items,
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "inventory reserve failed")
	}
	return resp.ReservationID, nil
}

// Release releases a previous reservation
func (s *HTTPInventoryService) Release(ctx context.Context, reservationID string) error {
	err := postJSON(ctx, s.client, s.baseURL+"/reservations/"+reservationID+"/release", struct{}{}, nil)
	if err != nil {
		return errors.Wrap(err, "inventory release failed")
	}
	return nil
}

// HTTPPaymentGateway implements domain.PaymentGateway over HTTP
type HTTPPaymentGateway struct {
	client  *http.Client
	baseURL string
}

// NewHTTPPaymentGateway creates a new payment gateway client
func NewHTTPPaymentGateway(baseURL string) *HTTPPaymentGateway {
	return &HTTPPaymentGateway{
		client:  &http.Client{Timeout: partnerRequestTimeout},
		baseURL: baseURL,
	}
}

type chargeRequest struct {
	UserID   string `json:"user_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type chargeResponse struct {
	TransactionID string `json:"transaction_id"`
}

// Charge charges the user
func (g *HTTPPaymentGateway) Charge(ctx context.Context, userID models.ID, amount models.Money) (string, error) {
	var resp chargeResponse
	err := postJSON(ctx, g.client, g.baseURL+"/charges", chargeRequest{
		UserID:   userID.String(),
		Amount:   amount.Amount,
		Currency: amount.Currency,
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "payment charge failed")
	}
	return resp.TransactionID, nil
}

// Refund refunds a previous charge
func (g *HTTPPaymentGateway) Refund(ctx context.Context, transactionID string) error {
	err := postJSON(ctx, g.client, g.baseURL+"/charges/"+transactionID+"/refund", struct{}{}, nil)
	if err != nil {
		return errors.Wrap(err, "payment refund failed")
	}
	return nil
}

// HTTPShippingProvider implements domain.ShippingProvider over HTTP
type HTTPShippingProvider struct {
	client  *http.Client
	baseURL string
}

// NewHTTPShippingProvider creates a new shipping client
func NewHTTPShippingProvider(baseURL string) *HTTPShippingProvider {
	return &HTTPShippingProvider{
		client:  &http.Client{Timeout: partnerRequestTimeout},
		baseURL: baseURL,
	}
}

type shipRequest struct {
	OrderID string `json:"order_id"`
	Address string `json:"address"`
}

type shipResponse struct {
	TrackingNumber string `json:"tracking_number"`
}

// Ship creates a shipment for the order
func (p *HTTPShippingProvider) Ship(ctx context.Context, orderID models.ID, address string) (string, error) {
	var resp shipResponse
	err := postJSON(ctx, p.client, p.baseURL+"/shipments", shipRequest{
		OrderID: orderID.String(),
		Address: address,
	}, &resp)
	if err != nil {
		return "", errors.Wrap(err, "shipment creation failed")
	}
	return resp.TrackingNumber, nil
}

func postJSON(ctx context.Context, client *http.Client, url string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// Network errors are worth a retry
		return saga.Transient(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return saga.Transient(errors.Errorf("partner returned status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		return errors.Errorf("partner returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}
	return nil
}
