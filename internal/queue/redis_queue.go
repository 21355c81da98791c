// Package queue implements the durable at-least-once message queue on Redis:
// a sorted set of message ids scored by visible-at time, a receive counter
// per message, and a dead-letter list for messages that exhaust their
// redelivery budget.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/listpilot/listpilot/internal/core"
)

// ErrReceiptExpired is returned by Ack when the claim behind a receipt has
// already timed out and the message became visible again (or was reclaimed).
var ErrReceiptExpired = errors.New("receipt expired or message reclaimed")

// Options configures the Redis queue.
type Options struct {
	Client *redis.Client
	// KeyPrefix namespaces all queue keys; defaults to "listpilot:queue".
	KeyPrefix string
	// VisibilityTimeout is how long a claimed message stays invisible before
	// it is redelivered to another consumer. Defaults to 5m.
	VisibilityTimeout time.Duration
	// MaxReceiveCount bounds redelivery: a message received more than this
	// many times is routed to the DLQ instead of being redelivered.
	// Defaults to 5.
	MaxReceiveCount int
	// PollInterval is the sleep between claim attempts while long-polling an
	// empty queue. Defaults to 500ms.
	PollInterval time.Duration
	Logger       *slog.Logger
}

// Queue is the Redis-backed durable queue. Safe for concurrent use.
type Queue struct {
	rdb               *redis.Client
	prefix            string
	visibilityTimeout time.Duration
	maxReceiveCount   int
	pollInterval      time.Duration
	logger            *slog.Logger
}

var _ core.Queue = (*Queue)(nil)

// envelope is the stored form of one message.
type envelope struct {
	ID         string          `json:"id"`
	Body       json.RawMessage `json:"body"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	// LastError and Receives are stamped by the claim script when the message
	// exhausts its redelivery budget and lands in the DLQ.
	LastError string `json:"last_error,omitempty"`
	Receives  int    `json:"receives,omitempty"`
}

// New constructs a Queue.
func New(opts Options) (*Queue, error) {
	if opts.Client == nil {
		return nil, errors.New("redis client is required")
	}

	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "listpilot:queue"
	}
	vt := opts.VisibilityTimeout
	if vt <= 0 {
		vt = 5 * time.Minute
	}
	maxReceive := opts.MaxReceiveCount
	if maxReceive <= 0 {
		maxReceive = 5
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	return &Queue{
		rdb:               opts.Client,
		prefix:            prefix,
		visibilityTimeout: vt,
		maxReceiveCount:   maxReceive,
		pollInterval:      poll,
		logger:            opts.Logger,
	}, nil
}

func (q *Queue) keyMessages() string { return q.prefix + ":messages" }
func (q *Queue) keyPending() string  { return q.prefix + ":pending" }
func (q *Queue) keyReceives() string { return q.prefix + ":receives" }
func (q *Queue) keyDLQ() string      { return q.prefix + ":dlq" }

// claimScript atomically claims up to ARGV[3] visible messages. For each
// claimed id it bumps the receive counter; messages over their redelivery
// budget are stamped with their final delivery context and moved to the DLQ
// instead of being returned. Claimed messages are rescored to now +
// visibility timeout so no other consumer sees them until the claim expires.
//
// KEYS: pending, messages, receives, dlq
// ARGV: now_ms, visible_until_ms, max, max_receive_count
// Returns a flat array of [id, body, receive_count, score] tuples.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[3])
local out = {}
for _, id in ipairs(ids) do
  local body = redis.call('HGET', KEYS[2], id)
  if not body then
    redis.call('ZREM', KEYS[1], id)
    redis.call('HDEL', KEYS[3], id)
  else
    local n = redis.call('HINCRBY', KEYS[3], id, 1)
    if n > tonumber(ARGV[4]) then
      local ok, env = pcall(cjson.decode, body)
      if ok then
        env['receives'] = n
        env['last_error'] = 'receive count exceeded ' .. ARGV[4]
        body = cjson.encode(env)
      end
      redis.call('RPUSH', KEYS[4], body)
      redis.call('ZREM', KEYS[1], id)
      redis.call('HDEL', KEYS[2], id)
      redis.call('HDEL', KEYS[3], id)
    else
      redis.call('ZADD', KEYS[1], ARGV[2], id)
      out[#out+1] = id
      out[#out+1] = body
      out[#out+1] = n
      out[#out+1] = ARGV[2]
    end
  end
end
return out
`)

// ackScript deletes a claimed message only while the claim is still live:
// the pending score must match the score stamped into the receipt. A lost
// ack after visibility expiry returns 0 and the message redelivers.
//
// KEYS: pending, messages, receives
// ARGV: id, expected_score
var ackScript = redis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if not score or score ~= ARGV[2] then
  return 0
end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)

// Enqueue appends a message and makes it immediately visible.
func (q *Queue) Enqueue(ctx context.Context, body []byte) (string, error) {
	id := uuid.NewString()
	env := envelope{ID: id, Body: body, EnqueuedAt: time.Now().UTC()}
	raw, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("marshal envelope: %w", err)
	}

	pipe := q.rdb.TxPipeline()
	pipe.HSet(ctx, q.keyMessages(), id, raw)
	pipe.ZAdd(ctx, q.keyPending(), redis.Z{Score: float64(time.Now().UnixMilli()), Member: id})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return id, nil
}

// Receive claims up to max messages, long-polling until wait elapses when
// the queue is empty. Returned deliveries stay invisible to other consumers
// until acked or their visibility timeout expires.
func (q *Queue) Receive(ctx context.Context, max int, wait time.Duration) ([]*core.Delivery, error) {
	if max <= 0 {
		max = 1
	}

	deadline := time.Now().Add(wait)
	for {
		deliveries, err := q.claim(ctx, max)
		if err != nil {
			return nil, err
		}
		if len(deliveries) > 0 || time.Now().After(deadline) {
			return deliveries, nil
		}

		timer := time.NewTimer(q.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (q *Queue) claim(ctx context.Context, max int) ([]*core.Delivery, error) {
	now := time.Now()
	visibleUntil := now.Add(q.visibilityTimeout).UnixMilli()

	res, err := claimScript.Run(ctx,
		q.rdb,
		[]string{q.keyPending(), q.keyMessages(), q.keyReceives(), q.keyDLQ()},
		now.UnixMilli(), visibleUntil, max, q.maxReceiveCount,
	).Slice()
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}

	const tupleLen = 4
	deliveries := make([]*core.Delivery, 0, len(res)/tupleLen)
	for i := 0; i+tupleLen <= len(res); i += tupleLen {
		id, _ := res[i].(string)
		rawBody, _ := res[i+1].(string)
		count := toInt(res[i+2])
		score := toInt64(res[i+3])

		var env envelope
		if err := json.Unmarshal([]byte(rawBody), &env); err != nil {
			if q.logger != nil {
				q.logger.WarnContext(ctx, "dropping undecodable queue envelope", "message_id", id, "error", err)
			}
			continue
		}

		deliveries = append(deliveries, &core.Delivery{
			MessageID:    id,
			Receipt:      id + ":" + strconv.FormatInt(score, 10),
			Body:         env.Body,
			ReceiveCount: count,
			EnqueuedAt:   env.EnqueuedAt,
		})
	}
	return deliveries, nil
}

// Ack deletes a claimed message. An expired receipt (the visibility timeout
// elapsed and the message is visible or reclaimed) returns ErrReceiptExpired.
func (q *Queue) Ack(ctx context.Context, receipt string) error {
	id, score, ok := strings.Cut(receipt, ":")
	if !ok {
		return fmt.Errorf("malformed receipt %q", receipt)
	}

	n, err := ackScript.Run(ctx, q.rdb,
		[]string{q.keyPending(), q.keyMessages(), q.keyReceives()},
		id, score,
	).Int()
	if err != nil {
		return fmt.Errorf("ack message %s: %w", id, err)
	}
	if n == 0 {
		return ErrReceiptExpired
	}
	return nil
}

// Depth returns the number of visible plus in-flight messages.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, q.keyPending()).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return n, nil
}

// DeadLetterCount returns the number of dead-lettered messages.
func (q *Queue) DeadLetterCount(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.keyDLQ()).Result()
	if err != nil {
		return 0, fmt.Errorf("dlq count: %w", err)
	}
	return n, nil
}

// PeekDeadLetters returns up to limit dead-lettered message bodies, oldest
// first, without removing them. Intended for manual triage tooling.
func (q *Queue) PeekDeadLetters(ctx context.Context, limit int64) ([]json.RawMessage, error) {
	if limit <= 0 {
		limit = 10
	}
	raws, err := q.rdb.LRange(ctx, q.keyDLQ(), 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("peek dlq: %w", err)
	}

	bodies := make([]json.RawMessage, 0, len(raws))
	for _, raw := range raws {
		var env envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		bodies = append(bodies, env.Body)
	}
	return bodies, nil
}

// Ping verifies Redis connectivity for health checks.
func (q *Queue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func toInt(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case string:
		n, _ := strconv.Atoi(t)
		return n
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case string:
		n, _ := strconv.ParseInt(t, 10, 64)
		return n
	default:
		return 0
	}
}
