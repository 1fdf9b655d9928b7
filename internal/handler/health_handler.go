package handler

import (
	"context"
	"net/http"
	"time"

	"neuralnexus/internal/storage"
)

// HealthHandler GET /healthz: состояние хранилища и circuit breaker
type HealthHandler struct {
	backend  storage.Backend
	failover *storage.Failover
}

// NewHealthHandler failover может быть nil, если резервирование выключено
func NewHealthHandler(backend storage.Backend, failover *storage.Failover) *HealthHandler {
	return &HealthHandler{backend: backend, failover: failover}
}

type healthResponse struct {
	Status   string `json:"status"`
	Backend  string `json:"backend"`
	Breaker  string `json:"breaker,omitempty"`
	Degraded bool   `json:"degraded"`
	Error    string `json:"error,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Backend: h.backend.Name()}
	if h.failover != nil {
		resp.Breaker = h.failover.State()
		resp.Degraded = h.failover.Degraded()
		if resp.Degraded {
			resp.Status = "degraded"
		}
	}

	status := http.StatusOK
	if err := h.backend.Ping(ctx); err != nil {
		resp.Error = err.Error()
		// с резервным хранилищем сервис продолжает работать
		if h.failover != nil {
			resp.Status = "degraded"
		} else {
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, status, resp)
}
