package queue

import (
	"context"
	"encoding/json"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestQueue connects to the Redis named by TEST_REDIS_ADDR and builds a
// queue under a unique key prefix so parallel tests never collide. Skips when
// no Redis is reachable.
func setupTestQueue(t *testing.T, opts Options) *Queue {
	t.Helper()

	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		addr = "localhost:56379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skip("Test Redis not available:", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	opts.Client = client
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "listpilot:test:" + uuid.NewString()[:8]
	}
	q, err := New(opts)
	require.NoError(t, err)

	t.Cleanup(func() {
		keys := []string{q.keyMessages(), q.keyPending(), q.keyReceives(), q.keyDLQ()}
		_ = client.Del(context.Background(), keys...).Err()
	})
	return q
}

func TestQueueEnqueueReceiveAck(t *testing.T) {
	q := setupTestQueue(t, Options{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []byte(`{"job_id":"job-1"}`))
	require.NoError(t, err)
	require.NotEmpty(t, id)

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)

	deliveries, err := q.Receive(ctx, 5, time.Second)
	require.NoError(t, err)
	require.Len(t, deliveries, 1)

	d := deliveries[0]
	assert.Equal(t, id, d.MessageID)
	assert.JSONEq(t, `{"job_id":"job-1"}`, string(d.Body))
	assert.Equal(t, 1, d.ReceiveCount)
	assert.False(t, d.EnqueuedAt.IsZero())

	require.NoError(t, q.Ack(ctx, d.Receipt))

	depth, err = q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueueClaimedMessageIsInvisible(t *testing.T) {
	q := setupTestQueue(t, Options{VisibilityTimeout: time.Minute})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte(`{"job_id":"job-1"}`))
	require.NoError(t, err)

	first, err := q.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Still in flight: a second consumer sees nothing before the visibility
	// timeout elapses.
	second, err := q.Receive(ctx, 1, 100*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, second)

	// Depth counts in-flight messages.
	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), depth)
}

func TestQueueVisibilityTimeoutRedelivers(t *testing.T) {
	q := setupTestQueue(t, Options{VisibilityTimeout: 200 * time.Millisecond, PollInterval: 50 * time.Millisecond})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, []byte(`{"job_id":"job-1"}`))
	require.NoError(t, err)

	first, err := q.Receive(ctx, 1, time.Second)
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Never acked: after the visibility timeout the message redelivers with a
	// bumped receive count.
	redelivered, err := q.Receive(ctx, 1, 2*time.Second)
	require.NoError(t, err)
	require.Len(t, redelivered, 1)
	assert.Equal(t, id, redelivered[0].MessageID)
	assert.Equal(t, 2, redelivered[0].ReceiveCount)

	// The old receipt died with the old claim.
	assert.ErrorIs(t, q.Ack(ctx, first[0].Receipt), ErrReceiptExpired)
}

func TestQueueDeadLettersAfterMaxReceives(t *testing.T) {
	q := setupTestQueue(t, Options{
		VisibilityTimeout: 50 * time.Millisecond,
		MaxReceiveCount:   2,
		PollInterval:      25 * time.Millisecond,
	})
	ctx := context.Background()

	_, err := q.Enqueue(ctx, []byte(`{"job_id":"job-poison"}`))
	require.NoError(t, err)

	// Drain the redelivery budget without ever acking.
	for i := 0; i < 2; i++ {
		deliveries, rerr := q.Receive(ctx, 1, 2*time.Second)
		require.NoError(t, rerr)
		require.Len(t, deliveries, 1, "claim %d", i+1)
		time.Sleep(100 * time.Millisecond)
	}

	// The next claim routes it to the DLQ instead of delivering.
	deliveries, err := q.Receive(ctx, 1, 500*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, deliveries)

	dlq, err := q.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlq)

	bodies, err := q.PeekDeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, bodies, 1)
	assert.JSONEq(t, `{"job_id":"job-poison"}`, string(bodies[0]))

	// The dead-lettered envelope carries its final delivery context.
	raws, err := q.rdb.LRange(ctx, q.keyDLQ(), 0, -1).Result()
	require.NoError(t, err)
	require.Len(t, raws, 1)
	var env envelope
	require.NoError(t, json.Unmarshal([]byte(raws[0]), &env))
	assert.Equal(t, 3, env.Receives)
	assert.Contains(t, env.LastError, "receive count exceeded")

	depth, err := q.Depth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)
}

func TestQueueAckMalformedReceipt(t *testing.T) {
	q := setupTestQueue(t, Options{})
	err := q.Ack(context.Background(), "not-a-receipt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrReceiptExpired)
}

func TestQueueReceiveBatch(t *testing.T) {
	q := setupTestQueue(t, Options{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := q.Enqueue(ctx, []byte(`{"n":`+strconv.Itoa(i)+`}`))
		require.NoError(t, err)
	}

	deliveries, err := q.Receive(ctx, 2, time.Second)
	require.NoError(t, err)
	assert.Len(t, deliveries, 2, "batch claims honor max")
}

func TestNewRequiresClient(t *testing.T) {
	t.Parallel()
	_, err := New(Options{})
	require.Error(t, err)
}
