package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/kaspianobot/internal/domain"
)

// TradeLog reads recorded transactions, newest first.
type TradeLog interface {
	Recent(ctx context.Context, limit int) ([]domain.TransactionLogEntry, error)
}

// TradeHandler serves the transaction log.
type TradeHandler struct {
	log    TradeLog
	logger *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(log TradeLog, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{log: log, logger: logger}
}

// ListTrades returns the most recent log entries.
// GET /api/trades?limit=50
func (h *TradeHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	entries, err := h.log.Recent(r.Context(), parseLimit(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if entries == nil {
		entries = []domain.TransactionLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": entries})
}
