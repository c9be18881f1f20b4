// Package scheduler dispatches recurring and on-demand workflow runs in
// process. It replaces a broker-backed task queue: instead of ack/retry
// semantics, durability comes from the engine's checkpoints, and a due task
// whose thread has an incomplete checkpoint is resumed rather than started
// over.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/complyflow/orchestrator"
)

// DefaultTickInterval is how often the dispatch loop checks for due tasks.
const DefaultTickInterval = 1 * time.Second

// Task is one recurring unit of work bound to a workflow thread.
type Task struct {
	// Name uniquely identifies the task within a scheduler
	Name string

	// Interval between runs. Mutually exclusive with CronExpr.
	Interval time.Duration

	// CronExpr is a standard 5-field cron expression. Mutually exclusive
	// with Interval.
	CronExpr string

	// ThreadID binds every cycle of this task to one logical thread. When
	// empty a fresh thread ID is generated per cycle.
	ThreadID string

	// Input is passed to the engine when a cycle starts a fresh run
	Input map[string]any

	LastRunAt time.Time
	NextRunAt time.Time

	schedule cron.Schedule
	running  bool
}

// Validate checks the task definition without scheduling it.
func (t *Task) Validate() error {
	if t.Name == "" {
		return errors.New("task name is required")
	}
	if t.Interval > 0 && t.CronExpr != "" {
		return fmt.Errorf("task %q: interval and cron expression are mutually exclusive", t.Name)
	}
	if t.Interval <= 0 && t.CronExpr == "" {
		return fmt.Errorf("task %q: an interval or cron expression is required", t.Name)
	}
	if t.CronExpr != "" {
		if _, err := cron.ParseStandard(t.CronExpr); err != nil {
			return fmt.Errorf("task %q: invalid cron expression: %w", t.Name, err)
		}
	}
	return nil
}

// advance computes the next due time from the given reference time.
// LastRunAt is recorded separately, on successful completion only.
func (t *Task) advance(from time.Time) {
	if t.schedule != nil {
		t.NextRunAt = t.schedule.Next(from)
		return
	}
	t.NextRunAt = from.Add(t.Interval)
}

// Options configures a Scheduler.
type Options struct {
	Engine       *orchestrator.Engine
	TickInterval time.Duration
	Logger       *slog.Logger
}

// Scheduler runs tasks on an in-process tick loop. Dispatch decisions are
// made single-threaded inside the loop; dispatched cycles execute on
// independent goroutines.
type Scheduler struct {
	engine *orchestrator.Engine
	tick   time.Duration
	logger *slog.Logger

	mutex   sync.Mutex
	tasks   map[string]*Task
	stop    chan struct{}
	stopped chan struct{}
	started bool

	workers sync.WaitGroup
}

// New creates a scheduler. The engine is required.
func New(opts Options) (*Scheduler, error) {
	if opts.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		engine:  opts.Engine,
		tick:    opts.TickInterval,
		logger:  opts.Logger,
		tasks:   map[string]*Task{},
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}, nil
}

// Schedule registers a task. The first due time is computed from now.
func (s *Scheduler) Schedule(task *Task) error {
	if err := task.Validate(); err != nil {
		return err
	}
	if task.CronExpr != "" {
		schedule, err := cron.ParseStandard(task.CronExpr)
		if err != nil {
			return err
		}
		task.schedule = schedule
	}
	if task.NextRunAt.IsZero() {
		task.advance(time.Now())
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if _, exists := s.tasks[task.Name]; exists {
		return fmt.Errorf("task %q is already scheduled", task.Name)
	}
	s.tasks[task.Name] = task
	s.logger.Info("task scheduled",
		"task", task.Name,
		"next_run_at", task.NextRunAt)
	return nil
}

// Unschedule removes a task. A cycle already in flight finishes normally.
func (s *Scheduler) Unschedule(name string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	delete(s.tasks, name)
}

// Tasks returns a snapshot of the registered tasks.
func (s *Scheduler) Tasks() []Task {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, *task)
	}
	return out
}

// RunOnce dispatches one cycle of the named task immediately and waits for
// it. If the task's thread has an incomplete checkpoint the cycle resumes
// it. A cycle already in flight for the task is an error; a parallel run is
// never started.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (*orchestrator.WorkflowState, error) {
	s.mutex.Lock()
	task, ok := s.tasks[name]
	if !ok {
		s.mutex.Unlock()
		return nil, fmt.Errorf("unknown task %q", name)
	}
	if task.running {
		s.mutex.Unlock()
		return nil, fmt.Errorf("task %q is already running", name)
	}
	task.running = true
	threadID := s.threadFor(task)
	input := task.Input
	s.mutex.Unlock()

	state, err := s.engine.Run(ctx, threadID, input)

	s.mutex.Lock()
	task.running = false
	task.advance(time.Now())
	if err == nil {
		task.LastRunAt = time.Now()
	}
	s.mutex.Unlock()
	return state, err
}

// Status reports a thread's lifecycle phase from its latest checkpoint.
func (s *Scheduler) Status(ctx context.Context, threadID string) (orchestrator.RunStatus, error) {
	return s.engine.Status(ctx, threadID)
}

// Start launches the tick loop. It returns immediately.
func (s *Scheduler) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true
	go s.loop()
	return nil
}

// Stop halts the tick loop and drains in-flight cycles.
func (s *Scheduler) Stop() {
	s.mutex.Lock()
	if !s.started {
		s.mutex.Unlock()
		return
	}
	s.started = false
	s.mutex.Unlock()

	close(s.stop)
	<-s.stopped
	s.workers.Wait()
}

func (s *Scheduler) loop() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.dispatchDue(now)
		}
	}
}

// dispatchDue is the single-threaded dispatch decision point. Each due task
// not already in flight is advanced and handed to a worker goroutine.
func (s *Scheduler) dispatchDue(now time.Time) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	for _, task := range s.tasks {
		if task.running || now.Before(task.NextRunAt) {
			continue
		}
		task.running = true
		// A failed cycle still advances the due time so the loop does
		// not busy-retry; within-run retries belong to the engine.
		task.advance(now)

		threadID := s.threadFor(task)
		input := task.Input
		taskRef := task
		s.workers.Add(1)
		go func() {
			defer s.workers.Done()
			s.runCycle(taskRef, threadID, input)
		}()
	}
}

func (s *Scheduler) runCycle(task *Task, threadID string, input map[string]any) {
	defer func() {
		s.mutex.Lock()
		task.running = false
		s.mutex.Unlock()
	}()

	ctx := context.Background()
	logger := s.logger.With("task", task.Name, "thread_id", threadID)

	resumed, err := s.incompleteRun(ctx, threadID)
	if err != nil {
		logger.Error("checkpoint lookup failed, skipping cycle", "error", err)
		return
	}
	if resumed {
		logger.Info("resuming checkpointed run")
	} else {
		logger.Info("starting run")
	}

	if _, err := s.engine.Run(ctx, threadID, input); err != nil {
		logger.Error("cycle failed", "error", err)
		return
	}

	s.mutex.Lock()
	task.LastRunAt = time.Now()
	s.mutex.Unlock()
	logger.Info("cycle completed")
}

// incompleteRun reports whether the thread has a checkpoint for a run that
// has not reached a terminal state.
func (s *Scheduler) incompleteRun(ctx context.Context, threadID string) (bool, error) {
	store := s.engine.Store()
	exists, err := store.Exists(ctx, threadID)
	if err != nil || !exists {
		return false, err
	}
	checkpoint, err := store.LoadLatest(ctx, threadID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrNoCheckpoint) {
			return false, nil
		}
		return false, err
	}
	return !checkpoint.State.Completed, nil
}

// threadFor returns the task's bound thread, or a fresh one for unbound
// tasks.
func (s *Scheduler) threadFor(task *Task) string {
	if task.ThreadID != "" {
		return task.ThreadID
	}
	return orchestrator.NewThreadID()
}
