package api

import (
	"net/http"
	"time"
)

const serviceName = "telemetryd"

type healthResponse struct {
	Status    string    `json:"status"`
	Service   string    `json:"service"`
	Database  string    `json:"database"`
	Timestamp time.Time `json:"timestamp"`
}

// Health is the unauthenticated liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "healthy",
		Service:   serviceName,
		Database:  "connected",
		Timestamp: h.now().UTC(),
	}

	if err := h.store.Ping(r.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Health check failed")
		resp.Status = "unhealthy"
		resp.Database = "disconnected"
		respondJSON(w, http.StatusServiceUnavailable, resp)
		return
	}

	respondJSON(w, http.StatusOK, resp)
}
