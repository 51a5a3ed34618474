package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// QueueStats reports queue list lengths
type QueueStats interface {
	Counts(ctx context.Context) (map[string]int64, error)
}

// DashboardHandler serves the operator dashboard API
type DashboardHandler struct {
	queue   QueueStats
	started time.Time
	logger  *slog.Logger
}

// NewDashboardHandler creates a new dashboard handler
func NewDashboardHandler(queue QueueStats, logger *slog.Logger) *DashboardHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardHandler{queue: queue, started: time.Now(), logger: logger}
}

// Health handles GET /health
func (h *DashboardHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

// GetQueueStats handles GET /v1/queue
func (h *DashboardHandler) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	counts, err := h.queue.Counts(r.Context())
	if err != nil {
		h.logger.Error("failed to read queue counts", "error", err)
		writeError(w, http.StatusServiceUnavailable, "Queue unavailable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"wait":    counts["wait"],
		"active":  counts["active"],
		"delayed": counts["delayed"],
		"failed":  counts["failed"],
	})
}
