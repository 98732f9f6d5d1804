package api

import (
	"net/http"
	"runtime"
	"time"
)

// HealthStatus is the payload of the health endpoint.
type HealthStatus struct {
	Status        string      `json:"status"`
	Version       string      `json:"version"`
	UptimeSeconds int64       `json:"uptime_seconds"`
	Ports         PortMetrics `json:"ports"`
	Goroutines    int         `json:"goroutines"`
}

// PortMetrics summarizes the engine's port registry.
type PortMetrics struct {
	Total     int `json:"total"`
	Connected int `json:"connected"`
	Flashing  int `json:"flashing"`
}

// handleHealth returns the server health status and engine stats.
//
// GET /api/system/health
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.GetStats()

	writeJSON(w, http.StatusOK, HealthStatus{
		Status:        "ok",
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.startTime).Seconds()),
		Ports: PortMetrics{
			Total:     stats.TotalPorts,
			Connected: stats.Connected,
			Flashing:  stats.Flashing,
		},
		Goroutines: runtime.NumGoroutine(),
	})
}
