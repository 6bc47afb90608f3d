package guard_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cleargrid-labs/conductor/pkg/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunReturnsResultBeforeDeadline(t *testing.T) {
	g := guard.New(50 * time.Millisecond)

	got, err := g.Run(context.Background(), func(ctx context.Context) (any, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", got)
}

func TestRunTimesOutSlowOperation(t *testing.T) {
	g := guard.New(10 * time.Millisecond)

	_, err := g.Run(context.Background(), func(ctx context.Context) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return "late", nil
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, guard.ErrTimeout)

	var timeoutErr *guard.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 10*time.Millisecond, timeoutErr.Timeout)
}

func TestRunPropagatesOperationError(t *testing.T) {
	g := guard.New(50 * time.Millisecond)
	opErr := errors.New("boom")

	_, err := g.Run(context.Background(), func(ctx context.Context) (any, error) {
		return nil, opErr
	})

	assert.ErrorIs(t, err, opErr)
}

func TestZeroTimeoutDisablesGuard(t *testing.T) {
	g := guard.New(0)

	got, err := g.Run(context.Background(), func(ctx context.Context) (any, error) {
		time.Sleep(20 * time.Millisecond)
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestNegativeTimeoutClampedToZero(t *testing.T) {
	g := guard.New(-5 * time.Second)
	assert.Equal(t, time.Duration(0), g.Timeout())
}

func TestWithErrorFactory(t *testing.T) {
	custom := errors.New("connector deadline exceeded")
	g := guard.New(5*time.Millisecond, guard.WithErrorFactory(func(d time.Duration) error {
		return custom
	}))

	_, err := g.Run(context.Background(), func(ctx context.Context) (any, error) {
		time.Sleep(50 * time.Millisecond)
		return nil, nil
	})

	assert.ErrorIs(t, err, custom)
}

func TestRunHonorsContextCancellation(t *testing.T) {
	g := guard.New(time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, err := g.Run(ctx, func(ctx context.Context) (any, error) {
		time.Sleep(500 * time.Millisecond)
		return nil, nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestDoReturnsTypedResult(t *testing.T) {
	got, err := guard.Do(context.Background(), 50*time.Millisecond, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, got)
}

func TestDoTimesOut(t *testing.T) {
	_, err := guard.Do(context.Background(), 10*time.Millisecond, func(ctx context.Context) (string, error) {
		time.Sleep(100 * time.Millisecond)
		return "late", nil
	})
	assert.ErrorIs(t, err, guard.ErrTimeout)
}

func TestAbandonedOperationStillCompletes(t *testing.T) {
	finished := make(chan struct{})
	_, err := guard.Do(context.Background(), 10*time.Millisecond, func(ctx context.Context) (string, error) {
		time.Sleep(30 * time.Millisecond)
		close(finished)
		return "done", nil
	})
	require.ErrorIs(t, err, guard.ErrTimeout)

	select {
	case <-finished:
		// The operation ran to completion; its result was discarded.
	case <-time.After(time.Second):
		t.Fatal("abandoned operation never completed")
	}
}
