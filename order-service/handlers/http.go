package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/orderflow/order-system/order-service/application"
	"github.com/orderflow/order-system/shared/saga"
)

// OrderHandlers contains order HTTP handlers
type OrderHandlers struct {
	placeOrder *application.PlaceOrder
	getSaga    *application.GetOrderSaga
	resumeSaga *application.ResumeOrderSaga
}

// NewOrderHandlers creates new order handlers
func NewOrderHandlers(
	placeOrder *application.PlaceOrder,
	getSaga *application.GetOrderSaga,
	resumeSaga *application.ResumeOrderSaga,
) *OrderHandlers {
	return &OrderHandlers{
		placeOrder: placeOrder,
		getSaga:    getSaga,
		resumeSaga: resumeSaga,
	}
}

// PlaceOrder handles order placement requests
func (h *OrderHandlers) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var cmd application.PlaceOrderCommand
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	response, err := h.placeOrder.Execute(r.Context(), &cmd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(response)
}

// GetSaga handles saga state retrieval requests
func (h *OrderHandlers) GetSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		http.Error(w, "Saga ID is required", http.StatusBadRequest)
		return
	}

	response, err := h.getSaga.Execute(r.Context(), &application.GetOrderSagaQuery{SagaID: sagaID})
	if err != nil {
		if errors.Is(err, saga.ErrSnapshotNotFound) {
			http.Error(w, "saga not found", http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// ResumeSaga handles saga resume requests
func (h *OrderHandlers) ResumeSaga(w http.ResponseWriter, r *http.Request) {
	sagaID := chi.URLParam(r, "id")
	if sagaID == "" {
		http.Error(w, "Saga ID is required", http.StatusBadRequest)
		return
	}

	response, err := h.resumeSaga.Execute(r.Context(), &application.ResumeOrderSagaCommand{SagaID: sagaID})
	if err != nil {
		if errors.Is(err, saga.ErrSnapshotNotFound) {
			http.Error(w, "saga not found", http.StatusNotFound)
			return
		}
		var stateErr *saga.InvalidStateError
		if errors.As(err, &stateErr) {
			http.Error(w, stateErr.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// RegisterRoutes registers order routes
func (h *OrderHandlers) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.PlaceOrder)
	})
	r.Route("/sagas", func(r chi.Router) {
		r.Get("/{id}", h.GetSaga)
		r.Post("/{id}/resume", h.ResumeSaga)
	})
}
