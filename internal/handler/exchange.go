package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"token_exchange/internal/domain"
	"token_exchange/internal/service"
)

// ExchangeHandler handles order placement and the caller's read endpoints.
type ExchangeHandler struct {
	svc *service.ExchangeService
}

// NewExchangeHandler creates a new ExchangeHandler.
func NewExchangeHandler(svc *service.ExchangeService) *ExchangeHandler {
	return &ExchangeHandler{svc: svc}
}

const maxOrderBodyBytes = 64 << 10

// placeOrderResponse is the JSON response for a successful POST /api/exchange/.
type placeOrderResponse struct {
	Success string `json:"success"`
	OrderID uint64 `json:"order_id"`
}

// balanceResponse is the JSON response for GET /api/balance.
type balanceResponse struct {
	OwnerID string `json:"owner_id"`
	Balance string `json:"balance"`
}

// orderListResponse is the JSON response for GET /api/orders.
type orderListResponse struct {
	Orders []domain.Order `json:"orders"`
}

// priceListResponse is the JSON response for GET /api/prices.
type priceListResponse struct {
	Prices []domain.PriceEntry `json:"prices"`
}

// PlaceOrder handles POST /api/exchange/.
func (h *ExchangeHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxOrderBodyBytes)
	token, amount, err := ParseOrderForm(r)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.svc.PlaceOrder(r.Context(), OwnerFrom(r.Context()), token, amount)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, placeOrderResponse{
		Success: "Order placed successfully",
		OrderID: res.Order.ID,
	})
}

// GetBalance handles GET /api/balance.
func (h *ExchangeHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.Balance(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, balanceResponse{
		OwnerID: b.OwnerID,
		Balance: b.Amount.String(),
	})
}

// ListOrders handles GET /api/orders.
func (h *ExchangeHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.svc.Orders(r.Context(), OwnerFrom(r.Context()))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	WriteJSON(w, http.StatusOK, orderListResponse{Orders: orders})
}

// ListPrices handles GET /api/prices.
func (h *ExchangeHandler) ListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.svc.Prices(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if prices == nil {
		prices = []domain.PriceEntry{}
	}
	WriteJSON(w, http.StatusOK, priceListResponse{Prices: prices})
}

// writeServiceError maps service errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		WriteError(w, http.StatusBadRequest, "Invalid token name")
	case errors.Is(err, domain.ErrInsufficientBalance):
		WriteError(w, http.StatusBadRequest, "Insufficient balance")
	case errors.Is(err, domain.ErrMalformedAmount):
		WriteError(w, http.StatusBadRequest, "Invalid amount")
	case errors.Is(err, domain.ErrUnauthenticated):
		WriteDetail(w, http.StatusForbidden, msgNotAuthenticated)
	default:
		slog.Error("Request failed", slog.Any("error", err))
		WriteError(w, http.StatusInternalServerError, "Internal error")
	}
}
