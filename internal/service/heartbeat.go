package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/data"
	"github.com/listpilot/listpilot/internal/domain/model"
)

// HeartbeatOptions configures the worker heartbeat publisher.
type HeartbeatOptions struct {
	Heartbeats core.HeartbeatRepository
	WorkerID   string
	// Interval is the heartbeat tick. Defaults to 20s. The monitor's
	// staleness threshold is a multiple of this.
	Interval     time.Duration
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// WorkerLoad receives busy/idle transitions and settled-flow counts from the
// components doing the work so liveness reporting reflects real load.
type WorkerLoad interface {
	SetBusy()
	SetIdle()
	JobProcessed()
}

// HeartbeatPublisher upserts this worker's liveness record on a fixed tick so
// the monitor can tell a slow worker from a dead one. Ticks also fire while a
// task is running; that is the point.
type HeartbeatPublisher struct {
	heartbeats core.HeartbeatRepository
	workerID   string
	interval   time.Duration
	logger     *slog.Logger
	now        data.TimeProvider

	mu            sync.Mutex
	active        int
	jobsProcessed atomic.Int64
}

var _ WorkerLoad = (*HeartbeatPublisher)(nil)

// NewHeartbeatPublisher constructs a HeartbeatPublisher.
func NewHeartbeatPublisher(opts HeartbeatOptions) (*HeartbeatPublisher, error) {
	if opts.Heartbeats == nil {
		return nil, errors.New("heartbeat publisher requires a heartbeat repository")
	}

	workerID := opts.WorkerID
	if workerID == "" {
		host, _ := os.Hostname()
		workerID = host
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &HeartbeatPublisher{
		heartbeats: opts.Heartbeats,
		workerID:   workerID,
		interval:   interval,
		logger:     resolveLogger(opts.Logger).With("component", "heartbeat", "worker_id", workerID),
		now:        tp,
	}, nil
}

// WorkerID returns the identity this publisher reports under.
func (h *HeartbeatPublisher) WorkerID() string { return h.workerID }

// SetBusy marks the worker as processing a flow. Calls nest: with overlapping
// flows the worker stays busy until every one has called SetIdle.
func (h *HeartbeatPublisher) SetBusy() {
	h.mu.Lock()
	h.active++
	h.mu.Unlock()
}

// SetIdle releases one SetBusy mark.
func (h *HeartbeatPublisher) SetIdle() {
	h.mu.Lock()
	if h.active > 0 {
		h.active--
	}
	h.mu.Unlock()
}

// JobProcessed increments the processed counter reported with each beat.
func (h *HeartbeatPublisher) JobProcessed() { h.jobsProcessed.Add(1) }

// Run publishes heartbeats until the context is canceled. The first beat goes
// out immediately so a freshly started worker is visible before its first
// full tick.
func (h *HeartbeatPublisher) Run(ctx context.Context) error {
	h.beat(ctx)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			h.beat(ctx)
		}
	}
}

func (h *HeartbeatPublisher) beat(ctx context.Context) {
	h.mu.Lock()
	status := model.WorkerStatusIdle
	if h.active > 0 {
		status = model.WorkerStatusBusy
	}
	h.mu.Unlock()

	meta, _ := json.Marshal(map[string]any{"pid": os.Getpid()})
	hb := &model.WorkerHeartbeat{
		WorkerID:      h.workerID,
		LastSeen:      h.now.Now(),
		Status:        status,
		JobsProcessed: h.jobsProcessed.Load(),
		Metadata:      meta,
	}
	if err := h.heartbeats.Upsert(ctx, hb); err != nil {
		h.logger.WarnContext(ctx, "heartbeat upsert failed", "error", err)
	}
}
