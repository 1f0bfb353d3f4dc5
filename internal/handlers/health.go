package handlers

import (
	"context"
	"net/http"
	"time"
)

const version = "0.1.0"

// Check represents the status of a health check.
type Check struct {
	Status  string `json:"status"`            // "pass" or "fail"
	Latency string `json:"latency,omitempty"` // e.g., "2ms"
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string           `json:"status"` // "healthy" or "degraded"
	Version   string           `json:"version"`
	Checks    map[string]Check `json:"checks"`
	Timestamp string           `json:"timestamp"`
}

// Health reports on local storage, the backend API and the realtime
// channel. The channel is informational: being disconnected is a valid
// state for signed-out or admin sessions.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	checks := make(map[string]Check)
	allHealthy := true

	// Check local storage
	if h.kv != nil {
		start := time.Now()
		if err := h.kv.Ping(ctx); err != nil {
			checks["storage"] = Check{Status: "fail", Message: "storage unavailable"}
			allHealthy = false
		} else {
			checks["storage"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	} else {
		checks["storage"] = Check{Status: "fail", Message: "not configured"}
		allHealthy = false
	}

	// Check backend API
	if h.backend != nil {
		start := time.Now()
		if _, err := h.backend.Health(ctx); err != nil {
			checks["backend"] = Check{Status: "fail", Message: "backend unreachable"}
			allHealthy = false
		} else {
			checks["backend"] = Check{Status: "pass", Latency: time.Since(start).String()}
		}
	}

	if h.channel != nil {
		checks["channel"] = Check{Status: "pass", Message: h.channel.State().String()}
	}

	status := "healthy"
	statusCode := http.StatusOK
	if !allHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	h.JSON(w, statusCode, HealthResponse{
		Status:    status,
		Version:   version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// RootResponse represents the root endpoint response.
type RootResponse struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Root handles the root endpoint.
func (h *Handler) Root(w http.ResponseWriter, r *http.Request) {
	h.JSON(w, http.StatusOK, RootResponse{Name: "CareLink Portal", Version: version})
}
