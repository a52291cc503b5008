package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestSchedulerFiresAfterInitialDelayAndInterval(t *testing.T) {
	var fires atomic.Int64
	scheduler := NewScheduler(zap.NewNop())
	scheduler.Register(Task{
		Key:          "test-task",
		InitialDelay: 5 * time.Millisecond,
		Interval:     10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		},
	})

	scheduler.Start(context.Background())
	time.Sleep(60 * time.Millisecond)
	scheduler.Stop()

	got := fires.Load()
	assert.GreaterOrEqual(t, got, int64(2), "expected the initial firing plus at least one interval firing")

	// No firings after Stop.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, got, fires.Load())
}

func TestSchedulerStopBeforeInitialDelay(t *testing.T) {
	var fires atomic.Int64
	scheduler := NewScheduler(zap.NewNop())
	scheduler.Register(Task{
		Key:          "never-fires",
		InitialDelay: time.Hour,
		Interval:     time.Hour,
		Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		},
	})

	scheduler.Start(context.Background())
	scheduler.Stop()
	assert.Zero(t, fires.Load())
}

func TestSchedulerRunsTasksIndependently(t *testing.T) {
	var a, b atomic.Int64
	scheduler := NewScheduler(zap.NewNop())
	scheduler.Register(Task{
		Key:          "failing",
		InitialDelay: time.Millisecond,
		Interval:     5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			a.Add(1)
			return assert.AnError
		},
	})
	scheduler.Register(Task{
		Key:          "healthy",
		InitialDelay: time.Millisecond,
		Interval:     5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			b.Add(1)
			return nil
		},
	})

	scheduler.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	scheduler.Stop()

	// A failing task keeps firing and never blocks its siblings.
	assert.GreaterOrEqual(t, a.Load(), int64(2))
	assert.GreaterOrEqual(t, b.Load(), int64(2))
}

func TestSchedulerZeroIntervalStillFires(t *testing.T) {
	var fires atomic.Int64
	scheduler := NewScheduler(zap.NewNop())
	scheduler.Register(Task{
		Key:          "zero-interval",
		InitialDelay: time.Millisecond,
		Interval:     0,
		Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		},
	})

	scheduler.Start(context.Background())
	time.Sleep(20 * time.Millisecond)
	scheduler.Stop()

	// The initial firing happens and the loop falls back to the default
	// interval instead of panicking on a zero ticker.
	assert.EqualValues(t, 1, fires.Load())
}

func TestSchedulerStartIsIdempotent(t *testing.T) {
	var fires atomic.Int64
	scheduler := NewScheduler(zap.NewNop())
	scheduler.Register(Task{
		Key:          "once",
		InitialDelay: time.Millisecond,
		Interval:     time.Hour,
		Run: func(ctx context.Context) error {
			fires.Add(1)
			return nil
		},
	})

	ctx := context.Background()
	scheduler.Start(ctx)
	scheduler.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	scheduler.Stop()

	assert.EqualValues(t, 1, fires.Load())
}
