package httpx

import (
	"net/http"
	"time"

	"github.com/listpilot/listpilot/internal/core"
)

// HealthHandlers reports process health for ops tooling. The queue check is
// live; config and auth checks reflect startup configuration.
type HealthHandlers struct {
	Queue core.Queue
	// OracleConfigured is true when a remote oracle base URL is set.
	OracleConfigured bool
	// AuthConfigured is true when oracle client-credentials auth is set.
	AuthConfigured bool
}

type healthChecks struct {
	Queue  string `json:"queue"`
	Config string `json:"config"`
	Auth   string `json:"auth"`
}

type healthResponse struct {
	Status string       `json:"status"`
	Checks healthChecks `json:"checks"`
}

// Health handles GET /health. A failing queue check is unhealthy; missing
// oracle config or auth degrades but keeps serving, because the heuristic
// planner still works without them.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	checks := healthChecks{Queue: "ok", Config: "ok", Auth: "ok"}
	status := "healthy"

	ctx, cancel := contextWithTimeout(r, 2*time.Second)
	defer cancel()
	if err := h.Queue.Ping(ctx); err != nil {
		checks.Queue = "error"
		status = "unhealthy"
	}

	if !h.OracleConfigured {
		checks.Config = "missing"
		if status == "healthy" {
			status = "degraded"
		}
	}
	if !h.AuthConfigured {
		checks.Auth = "missing"
		if status == "healthy" {
			status = "degraded"
		}
	}

	code := http.StatusOK
	if status == "unhealthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, healthResponse{Status: status, Checks: checks})
}
