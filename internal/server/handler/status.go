package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/kaspianobot/internal/executor"
)

// DispatcherStatus reports the trade loop state.
type DispatcherStatus interface {
	Status() executor.Status
}

// ProcessedCounter reports how many order ids have been seen.
type ProcessedCounter interface {
	Len(ctx context.Context) (int64, error)
}

// StatusHandler serves the bot state for dashboards and scripts.
type StatusHandler struct {
	mode      string
	startedAt time.Time
	disp      DispatcherStatus // nil in monitor mode
	processed ProcessedCounter
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. disp and processed may be nil.
func NewStatusHandler(mode string, disp DispatcherStatus, processed ProcessedCounter, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		mode:      mode,
		startedAt: time.Now().UTC(),
		disp:      disp,
		processed: processed,
		logger:    logger,
	}
}

type statusResponse struct {
	Mode            string           `json:"mode"`
	UptimeSeconds   int64            `json:"uptime_seconds"`
	Dispatcher      *executor.Status `json:"dispatcher,omitempty"`
	ProcessedOrders *int64           `json:"processed_orders,omitempty"`
}

// GetStatus responds with the mode, queue length and processing flag.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Mode:          h.mode,
		UptimeSeconds: int64(time.Since(h.startedAt).Seconds()),
	}
	if h.disp != nil {
		st := h.disp.Status()
		resp.Dispatcher = &st
	}
	if h.processed != nil {
		n, err := h.processed.Len(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "processed order count failed", slog.String("error", err.Error()))
		} else {
			resp.ProcessedOrders = &n
		}
	}
	writeJSON(w, http.StatusOK, resp)
}
