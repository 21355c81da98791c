package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/listpilot/listpilot/internal/failure"
)

func TestDelayBounds(t *testing.T) {
	t.Parallel()

	p := Default()

	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, 750 * time.Millisecond, 1250 * time.Millisecond},
		{2, 1500 * time.Millisecond, 2500 * time.Millisecond},
		{3, 3 * time.Second, 5 * time.Second},
	}

	for _, tt := range tests {
		for range 50 {
			d := p.Delay(tt.attempt)
			assert.GreaterOrEqual(t, d, tt.min, "attempt %d", tt.attempt)
			assert.LessOrEqual(t, d, tt.max, "attempt %d", tt.attempt)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	t.Parallel()

	p := Policy{BaseDelay: time.Second, Factor: 2, Cap: 60 * time.Second}
	// 2^19 seconds uncapped; must clamp to the cap.
	assert.Equal(t, 60*time.Second, p.Delay(20))
}

func TestRunRetriesTransient(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}

	calls := 0
	err := p.Run(context.Background(), func(_ context.Context, attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if calls < 3 {
			return failure.Newf(failure.KindTransientInfra, "hiccup %d", calls)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRunStopsOnNonRetryable(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}

	calls := 0
	structural := failure.Newf(failure.KindStructural, "duplicate listing")
	err := p.Run(context.Background(), func(context.Context, int) error {
		calls++
		return structural
	})
	require.ErrorIs(t, err, structural)
	assert.Equal(t, 1, calls)
}

func TestRunExhaustsAttempts(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, Factor: 2}

	calls := 0
	err := p.Run(context.Background(), func(context.Context, int) error {
		calls++
		return failure.Newf(failure.KindTransientAutomation, "page timeout")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, failure.KindTransientAutomation, failure.KindOf(err))
}

func TestRunHonorsContextDuringBackoff(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 5, BaseDelay: time.Minute, Factor: 2}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	calls := 0
	err := p.Run(ctx, func(context.Context, int) error {
		calls++
		return failure.Newf(failure.KindTransientInfra, "down")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestRunUnknownErrorsRetry(t *testing.T) {
	t.Parallel()

	p := Policy{MaxAttempts: 2, BaseDelay: time.Millisecond, Factor: 2}

	calls := 0
	err := p.Run(context.Background(), func(context.Context, int) error {
		calls++
		return errors.New("novel failure")
	})
	require.Error(t, err)
	assert.Equal(t, 2, calls)
}
