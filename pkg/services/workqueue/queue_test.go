package workqueue

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// testTask is a configurable task for queue tests.
type testTask struct {
	BaseTask
	execute func(ctx context.Context, enqueuer TaskEnqueuer) error
}

func newTestTask(name string, io bool, execute func(ctx context.Context, enqueuer TaskEnqueuer) error) *testTask {
	return &testTask{
		BaseTask: NewBaseTask(name, io),
		execute:  execute,
	}
}

func (t *testTask) Execute(ctx context.Context, enqueuer TaskEnqueuer) error {
	return t.execute(ctx, enqueuer)
}

func TestQueueRunsAllTasks(t *testing.T) {
	q := New(zap.NewNop())

	var count atomic.Int32
	for i := 0; i < 5; i++ {
		q.Enqueue(newTestTask("count", false, func(context.Context, TaskEnqueuer) error {
			count.Add(1)
			return nil
		}))
	}

	require.NoError(t, q.Wait(context.Background()))
	assert.Equal(t, int32(5), count.Load())
	assert.True(t, q.IsComplete())
	assert.False(t, q.HasFailures())
	assert.Equal(t, 5, q.CompletedCount())
}

func TestThrottledStrategyLimitsConcurrency(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewThrottledStrategy(2, 0)))

	var inFlight, peak atomic.Int32
	for i := 0; i < 8; i++ {
		q.Enqueue(newTestTask("io", true, func(context.Context, TaskEnqueuer) error {
			current := inFlight.Add(1)
			for {
				p := peak.Load()
				if current <= p || peak.CompareAndSwap(p, current) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		}))
	}

	require.NoError(t, q.Wait(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 8, q.CompletedCount())
}

func TestSerializedStrategyRunsOneAtATime(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewSerializedStrategy()))

	var inFlight, peak atomic.Int32
	for i := 0; i < 4; i++ {
		q.Enqueue(newTestTask("io", true, func(context.Context, TaskEnqueuer) error {
			current := inFlight.Add(1)
			for {
				p := peak.Load()
				if current <= p || peak.CompareAndSwap(p, current) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		}))
	}

	require.NoError(t, q.Wait(context.Background()))
	assert.Equal(t, int32(1), peak.Load())
}

func TestTaskCanEnqueueFollowUp(t *testing.T) {
	q := New(zap.NewNop())

	var followUpRan atomic.Bool
	q.Enqueue(newTestTask("parent", true, func(_ context.Context, enqueuer TaskEnqueuer) error {
		enqueuer.Enqueue(newTestTask("child", false, func(context.Context, TaskEnqueuer) error {
			followUpRan.Store(true)
			return nil
		}))
		return nil
	}))

	require.NoError(t, q.Wait(context.Background()))
	assert.True(t, followUpRan.Load())
	assert.Equal(t, 2, q.TaskCount())
}

func TestNoRetryConfigFailsImmediately(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(NoRetryConfig()))

	var attempts atomic.Int32
	q.Enqueue(newTestTask("flaky", true, func(context.Context, TaskEnqueuer) error {
		attempts.Add(1)
		// Transient by pattern, but the config forbids retries
		return errors.New("connection reset by peer")
	}))

	err := q.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
	assert.True(t, q.HasFailures())
}

func TestRetryableErrorIsRetried(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(RetryConfig{
		MaxRetries:     2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2.0,
	}))

	var attempts atomic.Int32
	q.Enqueue(newTestTask("flaky", true, func(context.Context, TaskEnqueuer) error {
		if attempts.Add(1) < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	}))

	require.NoError(t, q.Wait(context.Background()))
	assert.Equal(t, int32(3), attempts.Load())
	assert.False(t, q.HasFailures())
}

func TestNonRetryableErrorFailsWithoutRetry(t *testing.T) {
	q := New(zap.NewNop(), WithRetryConfig(DefaultRetryConfig()))

	var attempts atomic.Int32
	q.Enqueue(newTestTask("broken", true, func(context.Context, TaskEnqueuer) error {
		attempts.Add(1)
		return errors.New("permanent failure")
	}))

	err := q.Wait(context.Background())
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())
}

func TestCancelStopsPendingTasks(t *testing.T) {
	q := New(zap.NewNop(), WithStrategy(NewThrottledStrategy(1, 1)))

	started := make(chan struct{})
	var ran atomic.Int32
	q.Enqueue(newTestTask("slow", true, func(ctx context.Context, _ TaskEnqueuer) error {
		close(started)
		ran.Add(1)
		<-ctx.Done()
		return ctx.Err()
	}))
	for i := 0; i < 3; i++ {
		q.Enqueue(newTestTask("pending", true, func(context.Context, TaskEnqueuer) error {
			ran.Add(1)
			return nil
		}))
	}

	<-started
	q.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = q.Wait(ctx)

	// Only the in-flight task ever ran
	assert.Equal(t, int32(1), ran.Load())

	progress := q.Progress()
	assert.Equal(t, 4, progress.Total)
	assert.Equal(t, 4, progress.Cancelled)
	assert.Equal(t, 100, progress.Percentage())
}

func TestEnqueueAfterCancelIsIgnored(t *testing.T) {
	q := New(zap.NewNop())
	q.Cancel()

	q.Enqueue(newTestTask("late", false, func(context.Context, TaskEnqueuer) error {
		t.Error("task should not run after cancel")
		return nil
	}))

	assert.Equal(t, 0, q.TaskCount())
}

func TestWaitOnEmptyQueue(t *testing.T) {
	q := New(zap.NewNop())
	assert.NoError(t, q.Wait(context.Background()))
}

func TestWaitContextCancellation(t *testing.T) {
	q := New(zap.NewNop())

	q.Enqueue(newTestTask("hang", true, func(ctx context.Context, _ TaskEnqueuer) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := q.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
