package syncer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// MinTaskInterval is the floor for periodic task intervals.
const MinTaskInterval = 15 * time.Minute

// Task is one unit of periodic background work.
type Task func(ctx context.Context) error

// Scheduler runs registered tasks periodically once the host app signals
// readiness. Task errors are logged, never surfaced: background sync has
// no caller to throw to.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]scheduledTask

	ready     chan struct{}
	readyOnce sync.Once

	backoffMin time.Duration
	backoffMax time.Duration
	logger     *slog.Logger
}

type scheduledTask struct {
	every time.Duration
	fn    Task
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		tasks:      make(map[string]scheduledTask),
		ready:      make(chan struct{}),
		backoffMin: time.Second,
		backoffMax: time.Minute,
		logger:     logger,
	}
}

// Register adds a periodic task. Registration is idempotent: registering
// a name twice is a no-op and returns false. Intervals below the minimum
// are clamped.
func (s *Scheduler) Register(name string, every time.Duration, fn Task) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[name]; exists {
		return false
	}
	if every < MinTaskInterval {
		every = MinTaskInterval
	}
	s.tasks[name] = scheduledTask{every: every, fn: fn}
	return true
}

// SetReady signals that host initialization finished. Tasks never run
// before this, so background execution cannot race app startup. Safe to
// call more than once.
func (s *Scheduler) SetReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// Run blocks until ctx is cancelled, executing every registered task on
// its interval after the ready signal. A failing task backs off
// exponentially up to a cap, then returns to its normal cadence on the
// next success.
func (s *Scheduler) Run(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ready:
	}

	s.mu.Lock()
	tasks := make(map[string]scheduledTask, len(s.tasks))
	for name, t := range s.tasks {
		tasks[name] = t
	}
	s.mu.Unlock()

	var wg sync.WaitGroup
	for name, t := range tasks {
		wg.Add(1)
		go func(name string, t scheduledTask) {
			defer wg.Done()
			s.runTask(ctx, name, t)
		}(name, t)
	}
	wg.Wait()
	return ctx.Err()
}

func (s *Scheduler) runTask(ctx context.Context, name string, t scheduledTask) {
	// Immediate first pass, then the periodic cadence.
	delay := time.Duration(0)
	backoff := s.backoffMin
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("background task stopped", "task", name)
			return
		case <-time.After(delay):
		}

		if err := t.fn(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("background task failed", "task", name, "error", err)
			delay = backoff
			backoff *= 2
			if backoff > s.backoffMax {
				backoff = s.backoffMax
			}
		} else {
			backoff = s.backoffMin
			delay = t.every
		}
	}
}
