package http

import (
	"context"
	"net/http"
	"time"

	"github.com/parleyhq/parley/internal/api/respond"
)

// HealthPinger is implemented by the storage drivers.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}

// HealthHandler serves GET /v0/health.
type HealthHandler struct {
	store HealthPinger
}

func NewHealthHandler(store HealthPinger) *HealthHandler {
	return &HealthHandler{store: store}
}

func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.store != nil {
		if err := h.store.HealthPing(ctx); err != nil {
			respond.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	respond.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
