package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// OrderQueue is the subset of the trade queue the order endpoints use.
type OrderQueue interface {
	Pending() []domain.SaleRecord
	Enqueue(ctx context.Context, rec domain.SaleRecord) (bool, error)
}

// OrderHandler lists and accepts queued orders.
type OrderHandler struct {
	queue  OrderQueue
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(queue OrderQueue, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{queue: queue, logger: logger}
}

type listOrdersResponse struct {
	Orders []domain.SaleRecord `json:"orders"`
}

// ListOrders returns the orders waiting for the dispatcher, oldest first.
// GET /api/orders
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders := h.queue.Pending()
	if orders == nil {
		orders = []domain.SaleRecord{}
	}
	writeJSON(w, http.StatusOK, listOrdersResponse{Orders: orders})
}

type enqueueRequest struct {
	TokenSymbol string          `json:"token_symbol"`
	Quantity    int64           `json:"quantity"`
	PriceKAS    decimal.Decimal `json:"price_kas"`
	OrderID     string          `json:"order_id"`
}

// EnqueueOrder adds a manual order. Order ids go through the same duplicate
// check as emailed ones.
// POST /api/orders
func (h *OrderHandler) EnqueueOrder(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	symbol := strings.ToUpper(strings.TrimSpace(req.TokenSymbol))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "token_symbol is required")
		return
	}
	if req.Quantity <= 0 {
		writeError(w, http.StatusBadRequest, "quantity must be positive")
		return
	}
	if req.PriceKAS.IsNegative() {
		writeError(w, http.StatusBadRequest, "price_kas must not be negative")
		return
	}

	rec := domain.SaleRecord{
		TokenSymbol: symbol,
		Quantity:    req.Quantity,
		PriceKAS:    req.PriceKAS,
		OrderID:     strings.TrimSpace(req.OrderID),
		Subject:     "manual",
		Type:        domain.TransactionBuy,
		ReceivedAt:  time.Now().UTC(),
	}

	accepted, err := h.queue.Enqueue(r.Context(), rec)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "enqueue order failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to enqueue order")
		return
	}
	if !accepted {
		writeError(w, http.StatusConflict, "order_id already processed")
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}
