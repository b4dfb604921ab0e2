package api

import (
	"encoding/json"
	"net/http"
	"time"
)

// UpstreamStatus reports connectivity of the upstream link.
type UpstreamStatus interface {
	Connected() bool
}

// ClientCounter reports the number of connected dashboard clients.
type ClientCounter interface {
	Count() int
}

// HealthResponse is the liveness report for operational monitoring.
type HealthResponse struct {
	Status    string `json:"status"` // "healthy" or "degraded"
	Version   string `json:"version"`
	Upstream  bool   `json:"upstream"`
	Clients   int    `json:"clients"`
	Uptime    string `json:"uptime"`
	Timestamp string `json:"timestamp"`
}

// HealthHandler serves /health. Degraded means the process is up but
// the upstream link is down.
type HealthHandler struct {
	version  string
	upstream UpstreamStatus
	clients  ClientCounter
	started  time.Time
}

// NewHealthHandler creates the health endpoint.
func NewHealthHandler(version string, upstream UpstreamStatus, clients ClientCounter) *HealthHandler {
	return &HealthHandler{
		version:  version,
		upstream: upstream,
		clients:  clients,
		started:  time.Now(),
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Version:   h.version,
		Upstream:  h.upstream.Connected(),
		Clients:   h.clients.Count(),
		Uptime:    time.Since(h.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if !resp.Upstream {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
