package scheduler

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

func newTestScheduler() *Scheduler {
	log := logger.New(logger.ERROR)
	log.SetOutput(io.Discard)
	return New(log)
}

func TestScheduler_RunsRegisteredTask(t *testing.T) {
	s := newTestScheduler()

	var runs atomic.Int32
	s.Register(Task{
		Name:     "counter",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	s.Start(context.Background())
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_StopWaitsForInFlightRun(t *testing.T) {
	s := newTestScheduler()

	started := make(chan struct{})
	var finished atomic.Bool
	s.Register(Task{
		Name:     "slow",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			select {
			case started <- struct{}{}:
			default:
			}
			time.Sleep(30 * time.Millisecond)
			finished.Store(true)
			return nil
		},
	})

	s.Start(context.Background())
	<-started
	s.Stop()

	assert.True(t, finished.Load(), "Stop must wait for the in-flight run")
}

func TestScheduler_SkipsOverlappingTicks(t *testing.T) {
	s := newTestScheduler()

	var concurrent atomic.Int32
	var max atomic.Int32
	s.Register(Task{
		Name:     "overlap",
		Interval: 5 * time.Millisecond,
		Run: func(ctx context.Context) error {
			current := concurrent.Add(1)
			if current > max.Load() {
				max.Store(current)
			}
			time.Sleep(25 * time.Millisecond)
			concurrent.Add(-1)
			return nil
		},
	})

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), max.Load(), "a tick must not overlap a running pass")
}

func TestScheduler_RecoversFromPanic(t *testing.T) {
	s := newTestScheduler()

	var runs atomic.Int32
	s.Register(Task{
		Name:     "panicky",
		Interval: 10 * time.Millisecond,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			panic("boom")
		},
	})

	s.Start(context.Background())
	defer s.Stop()

	// Паника одного прохода не убивает расписание
	assert.Eventually(t, func() bool {
		return runs.Load() >= 2
	}, time.Second, 5*time.Millisecond)
}

func TestScheduler_RunOnce(t *testing.T) {
	s := newTestScheduler()

	var runs atomic.Int32
	s.Register(Task{
		Name:     "manual",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	})

	require.NoError(t, s.RunOnce(context.Background(), "manual"))
	assert.Equal(t, int32(1), runs.Load())

	err := s.RunOnce(context.Background(), "missing")
	assert.Error(t, err)
}

func TestScheduler_RunOncePropagatesError(t *testing.T) {
	s := newTestScheduler()

	taskErr := errors.New("tick failed")
	s.Register(Task{
		Name:     "failing",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			return taskErr
		},
	})

	err := s.RunOnce(context.Background(), "failing")
	assert.ErrorIs(t, err, taskErr)
}
