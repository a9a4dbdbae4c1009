package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// HealthHandler handles health check endpoints
type HealthHandler struct {
	checks map[string]HealthCheck
}

// NewHealthHandler creates a new HealthHandler. A nil check is reported as
// not configured.
func NewHealthHandler(checks map[string]HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// Health returns a simple health check (liveness probe)
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready returns a readiness check (readiness probe)
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		check := h.checks[name]
		if check == nil {
			components[name] = "not configured"
			continue
		}
		if err := check(ctx); err != nil {
			components[name] = "unhealthy: " + err.Error()
			allHealthy = false
		} else {
			components[name] = "healthy"
		}
	}

	resp := ReadyResponse{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	if allHealthy {
		resp.Status = "ready"
		c.JSON(http.StatusOK, resp)
	} else {
		resp.Status = "not ready"
		c.JSON(http.StatusServiceUnavailable, resp)
	}
}
