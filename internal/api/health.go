package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tablestakes/game-session/pkg/interfaces"
)

// Version is reported by /health
var Version = "dev"

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string    `json:"status"`
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version"`
	Uptime     string    `json:"uptime"`
	Connection string    `json:"connection"`
}

// HealthHandler handles health check requests
type HealthHandler struct {
	session   SessionService
	startTime time.Time
	version   string
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(svc SessionService, version string) *HealthHandler {
	return &HealthHandler{
		session:   svc,
		startTime: time.Now(),
		version:   version,
	}
}

// Health reports process liveness; it succeeds whatever the connection state
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	h.write(w, http.StatusOK, "healthy")
}

// Ready succeeds only while the gateway connection is open
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.session.ConnectionState() != interfaces.StateConnected {
		h.write(w, http.StatusServiceUnavailable, "not_ready")
		return
	}
	h.write(w, http.StatusOK, "ready")
}

func (h *HealthHandler) write(w http.ResponseWriter, code int, status string) {
	response := HealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Version:    h.version,
		Uptime:     time.Since(h.startTime).Round(time.Second).String(),
		Connection: h.session.ConnectionState().String(),
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(response)
}
