package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/data"
	"github.com/listpilot/listpilot/internal/observability/statsd"
)

// MonitorOptions configures the background monitor.
type MonitorOptions struct {
	Heartbeats core.HeartbeatRepository
	Results    core.JobResultRepository
	History    core.HistoryRepository
	Queue      core.Queue

	// HeartbeatInterval is the worker tick the staleness threshold is derived
	// from. Defaults to 20s.
	HeartbeatInterval time.Duration
	// StaleMultiplier times HeartbeatInterval is the staleness threshold.
	// Defaults to 6 (2 minutes at a 20s tick).
	StaleMultiplier int

	// StaleSchedule is the cron spec for stale-worker sweeps. Defaults to
	// every minute.
	StaleSchedule string
	// RetentionSchedule is the cron spec for retention sweeps. Defaults to
	// 03:17 daily.
	RetentionSchedule string
	// DepthSchedule is the cron spec for queue depth gauges. Defaults to
	// every 30 seconds.
	DepthSchedule string

	// ResultMaxAge bounds how long terminal job results are kept. Defaults
	// to 90 days.
	ResultMaxAge time.Duration
	// HistoryMaxAge bounds how long audit history is kept. Defaults to 180 days.
	HistoryMaxAge time.Duration
	// RetentionBatchSize bounds one retention delete batch. Defaults to 1000.
	RetentionBatchSize int

	Metrics      statsd.Sink
	Logger       *slog.Logger
	TimeProvider data.TimeProvider
}

// Monitor runs the scheduled background sweeps: stale-worker detection,
// retention reaping, and queue depth gauges.
type Monitor struct {
	heartbeats core.HeartbeatRepository
	results    core.JobResultRepository
	history    core.HistoryRepository
	queue      core.Queue

	staleThreshold    time.Duration
	staleSchedule     string
	retentionSchedule string
	depthSchedule     string
	resultMaxAge      time.Duration
	historyMaxAge     time.Duration
	retentionBatch    int

	metrics statsd.Sink
	logger  *slog.Logger
	now     data.TimeProvider
}

// NewMonitor constructs a Monitor.
func NewMonitor(opts MonitorOptions) (*Monitor, error) {
	switch {
	case opts.Heartbeats == nil:
		return nil, errors.New("monitor requires a heartbeat repository")
	case opts.Results == nil:
		return nil, errors.New("monitor requires a result repository")
	case opts.History == nil:
		return nil, errors.New("monitor requires a history repository")
	case opts.Queue == nil:
		return nil, errors.New("monitor requires a queue")
	}

	interval := opts.HeartbeatInterval
	if interval <= 0 {
		interval = 20 * time.Second
	}
	multiplier := opts.StaleMultiplier
	if multiplier <= 0 {
		multiplier = 6
	}
	staleSchedule := opts.StaleSchedule
	if staleSchedule == "" {
		staleSchedule = "* * * * *"
	}
	retentionSchedule := opts.RetentionSchedule
	if retentionSchedule == "" {
		retentionSchedule = "17 3 * * *"
	}
	depthSchedule := opts.DepthSchedule
	if depthSchedule == "" {
		depthSchedule = "*/30 * * * * *"
	}
	resultMaxAge := opts.ResultMaxAge
	if resultMaxAge <= 0 {
		resultMaxAge = 90 * 24 * time.Hour
	}
	historyMaxAge := opts.HistoryMaxAge
	if historyMaxAge <= 0 {
		historyMaxAge = 180 * 24 * time.Hour
	}
	batch := opts.RetentionBatchSize
	if batch <= 0 {
		batch = 1000
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = &data.RealTimeProvider{}
	}

	return &Monitor{
		heartbeats:        opts.Heartbeats,
		results:           opts.Results,
		history:           opts.History,
		queue:             opts.Queue,
		staleThreshold:    time.Duration(multiplier) * interval,
		staleSchedule:     staleSchedule,
		retentionSchedule: retentionSchedule,
		depthSchedule:     depthSchedule,
		resultMaxAge:      resultMaxAge,
		historyMaxAge:     historyMaxAge,
		retentionBatch:    batch,
		metrics:           opts.Metrics,
		logger:            resolveLogger(opts.Logger).With("component", "monitor"),
		now:               tp,
	}, nil
}

// Run schedules the sweeps and blocks until the context is canceled.
func (m *Monitor) Run(ctx context.Context) error {
	c := cron.New(cron.WithSeconds())

	schedules := []struct {
		spec string
		name string
		fn   func(context.Context) error
	}{
		{withSeconds(m.staleSchedule), "stale_workers", m.SweepStaleWorkers},
		{withSeconds(m.retentionSchedule), "retention", m.SweepRetention},
		{m.depthSchedule, "queue_depth", m.EmitQueueDepth},
	}
	for _, s := range schedules {
		s := s
		if _, err := c.AddFunc(s.spec, func() {
			if err := s.fn(ctx); err != nil {
				m.logger.ErrorContext(ctx, "sweep failed", "sweep", s.name, "error", err)
			}
		}); err != nil {
			return fmt.Errorf("schedule %s sweep (%q): %w", s.name, s.spec, err)
		}
	}

	c.Start()
	m.logger.InfoContext(ctx, "monitor started",
		"stale_threshold", m.staleThreshold,
		"stale_schedule", m.staleSchedule,
		"retention_schedule", m.retentionSchedule,
	)

	<-ctx.Done()
	stopCtx := c.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}

// SweepStaleWorkers flags workers whose last heartbeat is older than the
// staleness threshold. The mark is guarded by the observed last_seen so a
// worker that beat between the list and the mark is left alone.
func (m *Monitor) SweepStaleWorkers(ctx context.Context) error {
	workers, err := m.heartbeats.List(ctx)
	if err != nil {
		return fmt.Errorf("list heartbeats: %w", err)
	}

	now := m.now.Now()
	flagged := 0
	for _, w := range workers {
		if !w.Stale(now, m.staleThreshold) {
			continue
		}
		marked, err := m.heartbeats.MarkStale(ctx, w.WorkerID, w.LastSeen)
		if err != nil {
			m.logger.ErrorContext(ctx, "mark stale failed", "worker_id", w.WorkerID, "error", err)
			continue
		}
		if marked {
			flagged++
			m.logger.WarnContext(ctx, "worker presumed dead",
				"worker_id", w.WorkerID,
				"last_seen", w.LastSeen,
				"threshold", m.staleThreshold,
			)
		}
	}

	if m.metrics != nil {
		m.metrics.Gauge("monitor.workers.total", float64(len(workers)), nil)
		if flagged > 0 {
			m.metrics.Count("monitor.workers.stale", int64(flagged), nil)
		}
	}
	return nil
}

// SweepRetention deletes terminal results and history rows past their max
// age, one bounded batch per table per sweep.
func (m *Monitor) SweepRetention(ctx context.Context) error {
	resultsDeleted, err := m.results.DeleteOldTerminal(ctx, core.RetentionParams{
		MaxAge:    m.resultMaxAge,
		BatchSize: m.retentionBatch,
	})
	if err != nil {
		return fmt.Errorf("reap job results: %w", err)
	}

	historyDeleted, err := m.history.DeleteOld(ctx, core.RetentionParams{
		MaxAge:    m.historyMaxAge,
		BatchSize: m.retentionBatch,
	})
	if err != nil {
		return fmt.Errorf("reap history: %w", err)
	}

	if resultsDeleted > 0 || historyDeleted > 0 {
		m.logger.InfoContext(ctx, "retention sweep complete",
			"results_deleted", resultsDeleted,
			"history_deleted", historyDeleted,
		)
	}
	if m.metrics != nil {
		m.metrics.Count("monitor.retention.results_deleted", resultsDeleted, nil)
		m.metrics.Count("monitor.retention.history_deleted", historyDeleted, nil)
	}
	return nil
}

// EmitQueueDepth publishes queue and DLQ depth gauges.
func (m *Monitor) EmitQueueDepth(ctx context.Context) error {
	depth, err := m.queue.Depth(ctx)
	if err != nil {
		return fmt.Errorf("queue depth: %w", err)
	}
	dlq, err := m.queue.DeadLetterCount(ctx)
	if err != nil {
		return fmt.Errorf("dead letter count: %w", err)
	}

	if m.metrics != nil {
		m.metrics.Gauge("queue.depth", float64(depth), nil)
		m.metrics.Gauge("queue.dlq_depth", float64(dlq), nil)
	}
	return nil
}

// withSeconds prefixes a standard 5-field cron spec with a seconds field so
// every schedule parses under the same 6-field parser.
func withSeconds(spec string) string {
	return "0 " + spec
}
