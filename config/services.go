package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents one runnable service within the process.
type ServiceMode string

const (
	// ServiceModeSubscriber runs the queue subscriber.
	ServiceModeSubscriber ServiceMode = "subscriber"
	// ServiceModeWorker runs the submission worker (heartbeat publisher plus
	// the browser-backed task execution the subscriber's triggers fan into).
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeMonitor runs the stale-worker and retention monitor.
	ServiceModeMonitor ServiceMode = "monitor"
	// ServiceModeHTTP runs the health/stats HTTP surface.
	ServiceModeHTTP ServiceMode = "http"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeSubscriber,
		ServiceModeWorker,
		ServiceModeMonitor,
		ServiceModeHTTP,
	}
}

// ParseServices parses a comma-delimited list of service names into the
// enabled set. Unknown names are an error, not a silent skip.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		name := strings.TrimSpace(part)
		if name == "" {
			continue
		}

		mode := ServiceMode(name)
		switch mode {
		case ServiceModeSubscriber, ServiceModeWorker, ServiceModeMonitor, ServiceModeHTTP:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: subscriber, worker, monitor, http)",
				name,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}
	return services, nil
}

// SubscriberConfig contains queue subscriber tuning.
type SubscriberConfig struct {
	// BatchSize is the max deliveries claimed per poll.
	BatchSize int `env:"SUB_BATCH_SIZE" envDefault:"5"`

	// PollWait is how long one receive blocks on an empty queue.
	PollWait time.Duration `env:"SUB_POLL_WAIT" envDefault:"20s"`

	// BreakerThreshold is the consecutive trigger-failure count that trips
	// the circuit breaker.
	BreakerThreshold int `env:"SUB_BREAKER_THRESHOLD" envDefault:"5"`

	// BreakerCooldown is how long polling pauses after the breaker trips.
	BreakerCooldown time.Duration `env:"SUB_BREAKER_COOLDOWN" envDefault:"30s"`
}

// Sanitize applies guardrails to subscriber configuration.
func (c *SubscriberConfig) Sanitize() {
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.PollWait <= 0 {
		c.PollWait = 20 * time.Second
	}
	if c.BreakerThreshold <= 0 {
		c.BreakerThreshold = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// OrchestratorConfig contains job orchestration tuning.
type OrchestratorConfig struct {
	// Concurrency caps parallel directory tasks per job.
	Concurrency int `env:"ORCH_CONCURRENCY" envDefault:"4"`

	// SuccessThreshold is the fraction of a job's directories that must
	// reach submitted for the job to finalize completed. At any threshold
	// the job needs at least one success. 0 means one success is enough.
	SuccessThreshold float64 `env:"ORCH_SUCCESS_THRESHOLD" envDefault:"0"`
}

// Sanitize applies guardrails to orchestrator configuration.
func (c *OrchestratorConfig) Sanitize() {
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.SuccessThreshold < 0 {
		c.SuccessThreshold = 0
	}
	if c.SuccessThreshold > 1 {
		c.SuccessThreshold = 1
	}
}

// WorkerConfig contains per-task retry and liveness tuning.
type WorkerConfig struct {
	// WorkerID identifies this process in heartbeats and the audit trail.
	// Defaults to the hostname when empty.
	WorkerID string `env:"WORKER_ID" envDefault:""`

	// HeartbeatInterval is the liveness tick.
	HeartbeatInterval time.Duration `env:"WORKER_HEARTBEAT_INTERVAL" envDefault:"20s"`

	// RetryMaxAttempts bounds attempts per submission task.
	RetryMaxAttempts int `env:"WORKER_RETRY_MAX_ATTEMPTS" envDefault:"3"`

	// RetryBaseDelay is the first backoff delay; later delays double, capped
	// by RetryCap, with 25% jitter.
	RetryBaseDelay time.Duration `env:"WORKER_RETRY_BASE_DELAY" envDefault:"1s"`
	RetryCap       time.Duration `env:"WORKER_RETRY_CAP"        envDefault:"60s"`

	// TaskTimeout is the hard wall-clock ceiling for one task across all its
	// attempts.
	TaskTimeout time.Duration `env:"WORKER_TASK_TIMEOUT" envDefault:"10m"`
}

// Sanitize applies guardrails to worker configuration.
func (c *WorkerConfig) Sanitize() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 20 * time.Second
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.RetryCap <= 0 {
		c.RetryCap = 60 * time.Second
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 10 * time.Minute
	}
}

// MonitorConfig contains background monitor tuning.
type MonitorConfig struct {
	// StaleMultiplier times the worker heartbeat interval is the staleness
	// threshold.
	StaleMultiplier int `env:"MONITOR_STALE_MULTIPLIER" envDefault:"6"`

	// StaleSchedule is the cron spec for stale-worker sweeps.
	StaleSchedule string `env:"MONITOR_STALE_SCHEDULE" envDefault:"* * * * *"`

	// RetentionSchedule is the cron spec for retention sweeps.
	RetentionSchedule string `env:"MONITOR_RETENTION_SCHEDULE" envDefault:"17 3 * * *"`

	// ResultMaxAge bounds how long terminal job results are kept.
	ResultMaxAge time.Duration `env:"MONITOR_RESULT_MAX_AGE" envDefault:"2160h"` // 90 days

	// HistoryMaxAge bounds how long audit history is kept.
	HistoryMaxAge time.Duration `env:"MONITOR_HISTORY_MAX_AGE" envDefault:"4320h"` // 180 days

	// RetentionBatchSize bounds one retention delete batch.
	RetentionBatchSize int `env:"MONITOR_RETENTION_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to monitor configuration.
func (c *MonitorConfig) Sanitize() {
	if c.StaleMultiplier <= 0 {
		c.StaleMultiplier = 6
	}
	if c.StaleSchedule == "" {
		c.StaleSchedule = "* * * * *"
	}
	if c.RetentionSchedule == "" {
		c.RetentionSchedule = "17 3 * * *"
	}
	if c.ResultMaxAge <= 0 {
		c.ResultMaxAge = 90 * 24 * time.Hour
	}
	if c.HistoryMaxAge <= 0 {
		c.HistoryMaxAge = 180 * 24 * time.Hour
	}
	if c.RetentionBatchSize <= 0 {
		c.RetentionBatchSize = 1000
	}
}
