package httpx

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/data"
)

// JobHandlers serves the dashboard read surface: job views, per-job results
// and history, pipeline stats, and worker liveness.
type JobHandlers struct {
	Jobs       core.JobRepository
	Results    core.JobResultRepository
	History    core.HistoryRepository
	Heartbeats core.HeartbeatRepository
	Queue      core.Queue
	// Changes feeds the long-poll watch endpoint. Optional; without it
	// WatchJob answers immediately.
	Changes core.ChangeFeed
	Logger  *slog.Logger
}

// maxWatchWait caps how long one watch request may hold a connection.
const maxWatchWait = 60 * time.Second

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	view, err := h.Jobs.View(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.serverError(w, r, "load job view", err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// WatchJob handles GET /api/jobs/{id}/watch: blocks until the job changes or
// the wait window elapses, then returns the current view. Dashboards chain
// these calls instead of tight-polling GetJob.
func (h *JobHandlers) WatchJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	view, err := h.Jobs.View(r.Context(), id)
	if err != nil {
		if errors.Is(err, data.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		h.serverError(w, r, "load job view", err)
		return
	}

	// Terminal jobs never change again; answer immediately.
	if h.Changes == nil || view.Status.Terminal() {
		writeJSON(w, http.StatusOK, view)
		return
	}

	ctx, cancel := contextWithTimeout(r, watchWait(r))
	defer cancel()

	if err := h.Changes.WaitForChange(ctx, data.NotifyChannelJobs); err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		h.serverError(w, r, "wait for job change", err)
		return
	}

	// Re-read after the signal (or timeout); notifications are channel-wide,
	// so the fresh view is what tells the caller whether this job moved.
	if fresh, err := h.Jobs.View(r.Context(), id); err == nil {
		view = fresh
	}
	writeJSON(w, http.StatusOK, view)
}

func watchWait(r *http.Request) time.Duration {
	wait := 30 * time.Second
	if raw := r.URL.Query().Get("wait"); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			wait = parsed
		}
	}
	if wait > maxWatchWait {
		wait = maxWatchWait
	}
	return wait
}

// ListJobResults handles GET /api/jobs/{id}/results.
func (h *JobHandlers) ListJobResults(w http.ResponseWriter, r *http.Request) {
	results, err := h.Results.ListByJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serverError(w, r, "list job results", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

// ListJobHistory handles GET /api/jobs/{id}/history.
func (h *JobHandlers) ListJobHistory(w http.ResponseWriter, r *http.Request) {
	records, err := h.History.ListByJob(r.Context(), r.PathValue("id"))
	if err != nil {
		h.serverError(w, r, "list job history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": records})
}

// Stats handles GET /api/stats: job counts per status plus queue depth and
// DLQ depth.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Jobs.Stats(r.Context())
	if err != nil {
		h.serverError(w, r, "load job stats", err)
		return
	}
	depth, err := h.Queue.Depth(r.Context())
	if err != nil {
		h.serverError(w, r, "queue depth", err)
		return
	}
	dlq, err := h.Queue.DeadLetterCount(r.Context())
	if err != nil {
		h.serverError(w, r, "dead letter count", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":        stats,
		"queue_depth": depth,
		"dlq_depth":   dlq,
	})
}

// ListWorkers handles GET /api/workers.
func (h *JobHandlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.Heartbeats.List(r.Context())
	if err != nil {
		h.serverError(w, r, "list workers", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"workers": workers})
}

func (h *JobHandlers) serverError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if h.Logger != nil {
		h.Logger.ErrorContext(r.Context(), "request failed", "op", op, "path", r.URL.Path, "error", err)
	}
	writeError(w, http.StatusInternalServerError, "internal error")
}
