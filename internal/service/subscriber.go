package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/listpilot/listpilot/internal/core"
	"github.com/listpilot/listpilot/internal/domain/model"
	"github.com/listpilot/listpilot/internal/observability/statsd"
)

// StartTrigger accepts a validated queue message and kicks off its job. A nil
// return means the trigger was accepted, not that the job finished; the
// subscriber acks on acceptance and the orchestrator owns the rest.
type StartTrigger interface {
	Trigger(ctx context.Context, msg *model.SubmitMessage) error
}

// AsyncTrigger registers the job row and starts the orchestrator run in a
// background goroutine. The run detaches from the caller's context: an acked
// message must not have its flow killed by the subscriber's poll loop
// shutting down mid-job.
type AsyncTrigger struct {
	Jobs         core.JobRepository
	Orchestrator *Orchestrator
	// Load, when set, is flipped busy/idle around each flow and counted once
	// per settled flow.
	Load   WorkerLoad
	Logger *slog.Logger

	wg sync.WaitGroup
}

var _ StartTrigger = (*AsyncTrigger)(nil)

// Trigger ensures the job row exists and launches the flow.
func (t *AsyncTrigger) Trigger(ctx context.Context, msg *model.SubmitMessage) error {
	// Enqueuers normally create the row at enqueue time; this create is the
	// idempotent catch-up for the ones that do not.
	_, err := t.Jobs.Create(ctx, &model.CreateJobRequest{
		ID:          msg.JobID,
		CustomerID:  msg.CustomerID,
		PackageSize: msg.PackageSize,
		Priority:    int(msg.Priority),
		Source:      msg.Source,
	})
	if err != nil {
		return fmt.Errorf("register job %s: %w", msg.JobID, err)
	}

	runCtx := context.WithoutCancel(ctx)
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		if t.Load != nil {
			t.Load.SetBusy()
			defer func() {
				t.Load.JobProcessed()
				t.Load.SetIdle()
			}()
		}
		if err := t.Orchestrator.StartJob(runCtx, msg.JobID); err != nil {
			resolveLogger(t.Logger).Error("job flow failed", "job_id", msg.JobID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every triggered flow has finished. Used during shutdown.
func (t *AsyncTrigger) Wait() { t.wg.Wait() }

// SubscriberOptions configures the queue subscriber.
type SubscriberOptions struct {
	Queue   core.Queue
	History core.HistoryRepository
	Trigger StartTrigger

	// BatchSize is the max deliveries claimed per poll. Defaults to 5.
	BatchSize int
	// PollWait is how long one Receive blocks on an empty queue. Defaults to 20s.
	PollWait time.Duration
	// BreakerThreshold is the consecutive trigger-failure count that trips the
	// circuit breaker. Defaults to 5.
	BreakerThreshold int
	// BreakerCooldown is how long polling pauses after the breaker trips.
	// Defaults to 30s.
	BreakerCooldown time.Duration

	WorkerID string
	Metrics  statsd.Sink
	Logger   *slog.Logger
}

// Subscriber long-polls the queue and turns each valid delivery into an
// orchestrator trigger. Malformed messages are dropped with an ack; trigger
// failures leave the message unacked so the visibility timeout redelivers it,
// bounded by the queue's max receive count.
type Subscriber struct {
	queue   core.Queue
	history core.HistoryRepository
	trigger StartTrigger

	batchSize int
	pollWait  time.Duration
	breaker   *circuitBreaker

	workerID string
	metrics  statsd.Sink
	logger   *slog.Logger
}

// NewSubscriber constructs a Subscriber.
func NewSubscriber(opts SubscriberOptions) (*Subscriber, error) {
	switch {
	case opts.Queue == nil:
		return nil, errors.New("subscriber requires a queue")
	case opts.History == nil:
		return nil, errors.New("subscriber requires a history repository")
	case opts.Trigger == nil:
		return nil, errors.New("subscriber requires a start trigger")
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = 5
	}
	wait := opts.PollWait
	if wait <= 0 {
		wait = 20 * time.Second
	}
	threshold := opts.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := opts.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}

	return &Subscriber{
		queue:     opts.Queue,
		history:   opts.History,
		trigger:   opts.Trigger,
		batchSize: batch,
		pollWait:  wait,
		breaker:   &circuitBreaker{threshold: threshold, cooldown: cooldown},
		workerID:  opts.WorkerID,
		metrics:   opts.Metrics,
		logger:    resolveLogger(opts.Logger).With("component", "subscriber"),
	}, nil
}

// Run polls until the context is canceled.
func (s *Subscriber) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "subscriber started",
		"batch_size", s.batchSize, "poll_wait", s.pollWait)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if pause := s.breaker.pause(); pause > 0 {
			s.logger.WarnContext(ctx, "circuit breaker open, pausing polling", "cooldown", pause)
			s.count("subscriber.breaker_open", nil)
			if !sleepCtx(ctx, pause) {
				return ctx.Err()
			}
		}

		deliveries, err := s.queue.Receive(ctx, s.batchSize, s.pollWait)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ctx.Err()
			}
			s.logger.ErrorContext(ctx, "queue receive failed", "error", err)
			s.count("subscriber.receive_error", nil)
			if !sleepCtx(ctx, time.Second) {
				return ctx.Err()
			}
			continue
		}

		for _, d := range deliveries {
			s.handle(ctx, d)
		}
	}
}

// handle processes one delivery end to end.
func (s *Subscriber) handle(ctx context.Context, d *core.Delivery) {
	msg, err := model.ParseSubmitMessage(d.Body)
	if err != nil {
		// Malformed input never improves with retries; drop it.
		s.logger.WarnContext(ctx, "dropping invalid queue message",
			"message_id", d.MessageID, "receive_count", d.ReceiveCount, "error", err)
		s.count("subscriber.message_dropped", map[string]string{"reason": "validation"})
		s.ack(ctx, d)
		return
	}

	log := s.logger.With("job_id", msg.JobID, "message_id", d.MessageID)

	s.appendHistory(ctx, msg.JobID, model.EventQueueClaimed,
		fmt.Sprintf("receive_count=%d priority=%d", d.ReceiveCount, msg.Priority))

	if err := s.trigger.Trigger(ctx, msg); err != nil {
		// Left unacked: the visibility timeout redelivers it, and the queue's
		// max receive count bounds how often before the DLQ takes it.
		log.ErrorContext(ctx, "trigger failed, leaving message for redelivery", "error", err)
		s.count("subscriber.trigger_error", nil)
		s.breaker.failure()
		return
	}
	s.breaker.reset()

	s.appendHistory(ctx, msg.JobID, model.EventFlowTriggered, "")
	s.ack(ctx, d)
	s.count("subscriber.message_processed", nil)
	log.InfoContext(ctx, "queue message processed", "receive_count", d.ReceiveCount)
}

func (s *Subscriber) ack(ctx context.Context, d *core.Delivery) {
	if err := s.queue.Ack(ctx, d.Receipt); err != nil {
		s.logger.WarnContext(ctx, "ack failed", "message_id", d.MessageID, "error", err)
		s.count("subscriber.ack_error", nil)
	}
}

func (s *Subscriber) appendHistory(ctx context.Context, jobID string, event model.HistoryEvent, details string) {
	err := s.history.Append(ctx, model.AppendHistoryRequest{
		JobID:    jobID,
		Event:    event,
		Details:  details,
		WorkerID: s.workerID,
	})
	if err != nil {
		s.logger.WarnContext(ctx, "history append failed",
			"job_id", jobID, "event", event, "error", err)
	}
}

func (s *Subscriber) count(name string, tags map[string]string) {
	if s.metrics != nil {
		s.metrics.Count(name, 1, tags)
	}
}

// circuitBreaker trips after a run of consecutive trigger failures and holds
// polling closed for a cooldown window.
type circuitBreaker struct {
	threshold int
	cooldown  time.Duration

	mu          sync.Mutex
	consecutive int
	openUntil   time.Time
}

func (b *circuitBreaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.threshold {
		b.openUntil = time.Now().Add(b.cooldown)
		b.consecutive = 0
	}
}

func (b *circuitBreaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
}

// pause returns how long the breaker still holds polling closed, zero when
// it is closed.
func (b *circuitBreaker) pause() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	if remaining := time.Until(b.openUntil); remaining > 0 {
		return remaining
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
