package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Scheduler runs named periodic maintenance tasks. A task that is still
// running when its next tick arrives skips that tick.
type Scheduler struct {
	logger  *slog.Logger
	tasks   []*scheduledTask
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started atomic.Bool
}

type scheduledTask struct {
	name     string
	interval time.Duration
	run      func()
	inFlight atomic.Bool
	runs     atomic.Int64
	skips    atomic.Int64
}

// NewScheduler creates an empty scheduler.
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Add registers a task. Tasks with a non-positive interval are ignored.
// Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, run func()) {
	if interval <= 0 {
		s.logger.Warn("scheduler task disabled", "task", name)
		return
	}
	s.tasks = append(s.tasks, &scheduledTask{name: name, interval: interval, run: run})
}

// Start launches one goroutine per task. Calling Start twice is a no-op.
func (s *Scheduler) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.loop(t)
	}
	s.logger.Info("scheduler started", "tasks", len(s.tasks))
}

func (s *Scheduler) loop(t *scheduledTask) {
	defer s.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !t.inFlight.CompareAndSwap(false, true) {
				t.skips.Add(1)
				s.logger.Warn("scheduler tick skipped, previous run still active", "task", t.name)
				continue
			}
			t.run()
			t.runs.Add(1)
			t.inFlight.Store(false)
		}
	}
}

// Stop halts all task loops and waits for in-flight runs to finish.
// Calling Stop before Start, or twice, is safe.
func (s *Scheduler) Stop() {
	if !s.started.CompareAndSwap(true, false) {
		return
	}
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

// TaskStats reports one task's run bookkeeping.
type TaskStats struct {
	Name string
	Runs int64
	// Skips counts ticks dropped because the previous run had not
	// finished.
	Skips int64
}

// Stats returns per-task counters.
func (s *Scheduler) Stats() []TaskStats {
	out := make([]TaskStats, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, TaskStats{Name: t.name, Runs: t.runs.Load(), Skips: t.skips.Load()})
	}
	return out
}
