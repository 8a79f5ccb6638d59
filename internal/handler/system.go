package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

type SystemHandler struct {
	service   string
	checks    map[string]HealthCheck
	startTime time.Time
}

func NewSystemHandler(service string, checks map[string]HealthCheck) *SystemHandler {
	return &SystemHandler{
		service:   service,
		checks:    checks,
		startTime: time.Now(),
	}
}

// Health answers as long as the process serves HTTP.
func (h *SystemHandler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        h.service,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready reports 503 when any dependency check fails.
func (h *SystemHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	deps := make(map[string]string, len(h.checks))
	ready := true
	for name, check := range h.checks {
		start := time.Now()
		if err := check(ctx); err != nil {
			deps[name] = "unavailable: " + err.Error()
			ready = false
			continue
		}
		deps[name] = "ok (" + time.Since(start).Round(time.Millisecond).String() + ")"
	}

	status, code := "ready", http.StatusOK
	if !ready {
		status, code = "not ready", http.StatusServiceUnavailable
	}
	respondJSON(w, code, map[string]interface{}{
		"status":       status,
		"service":      h.service,
		"dependencies": deps,
	})
}
