// Package httpx exposes the health endpoint and the read-only dashboard API.
package httpx

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/listpilot/listpilot/internal/core"
)

// RouterServices holds the dependencies the HTTP router serves from.
type RouterServices struct {
	Jobs       core.JobRepository
	Results    core.JobResultRepository
	History    core.HistoryRepository
	Heartbeats core.HeartbeatRepository
	Queue      core.Queue
	Changes    core.ChangeFeed

	OracleConfigured bool
	AuthConfigured   bool
	Logger           *slog.Logger
}

// NewRouter builds the HTTP handler tree.
func NewRouter(services RouterServices) http.Handler {
	mux := http.NewServeMux()

	health := &HealthHandlers{
		Queue:            services.Queue,
		OracleConfigured: services.OracleConfigured,
		AuthConfigured:   services.AuthConfigured,
	}
	jobs := &JobHandlers{
		Jobs:       services.Jobs,
		Results:    services.Results,
		History:    services.History,
		Heartbeats: services.Heartbeats,
		Queue:      services.Queue,
		Changes:    services.Changes,
		Logger:     services.Logger,
	}

	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("HEAD /health", health.Health)
	mux.HandleFunc("GET /api/jobs/{id}", jobs.GetJob)
	mux.HandleFunc("GET /api/jobs/{id}/watch", jobs.WatchJob)
	mux.HandleFunc("GET /api/jobs/{id}/results", jobs.ListJobResults)
	mux.HandleFunc("GET /api/jobs/{id}/history", jobs.ListJobHistory)
	mux.HandleFunc("GET /api/stats", jobs.Stats)
	mux.HandleFunc("GET /api/workers", jobs.ListWorkers)

	return mux
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}
