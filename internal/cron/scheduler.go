// Package cron runs registered tasks on a fixed schedule. Tasks are injected
// rather than globally registered so tests can control timing.
package cron

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// defaultInterval backstops tasks registered with a non-positive interval,
// which time.Ticker would otherwise panic on.
const defaultInterval = time.Minute

// Task is one schedulable unit: fire Run after InitialDelay, then every
// Interval until the scheduler stops.
type Task struct {
	Key          string
	InitialDelay time.Duration
	Interval     time.Duration
	Run          func(ctx context.Context) error
}

// Scheduler owns the background task loops of the process.
type Scheduler struct {
	logger *zap.Logger

	mu      sync.Mutex
	tasks   []Task
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup
}

// NewScheduler builds an empty scheduler.
func NewScheduler(logger *zap.Logger) *Scheduler {
	return &Scheduler{logger: logger}
}

// Register adds a task; must be called before Start.
func (s *Scheduler) Register(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, task)
}

// Start launches one loop per registered task.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	for _, task := range s.tasks {
		s.wg.Add(1)
		go s.runLoop(ctx, task)
	}
}

// Stop cancels all task loops and waits for them to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runLoop(ctx context.Context, task Task) {
	defer s.wg.Done()

	timer := time.NewTimer(task.InitialDelay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.fire(ctx, task)

	interval := task.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.fire(ctx, task)
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, task Task) {
	if err := task.Run(ctx); err != nil {
		s.logger.Error("cron task failed",
			zap.String("task", task.Key),
			zap.Error(err),
		)
	}
}
