// Package scheduler fires the periodic maintenance tasks: provider syncs,
// library scans, image sweeps and cleanup. Intervals are anchored to the
// completion time of the previous run and persisted, so a restart resumes
// the cadence instead of resetting it.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"soulspot/internal/logger"
	"soulspot/internal/store"
)

var (
	ErrUnknownTask = errors.New("unknown task")
	ErrTaskBusy    = errors.New("task is already running")
)

// Task is a named periodic unit of work. Prereqs list tasks that must have
// completed at least once before this one fires on the clock; a manual
// RunNow ignores them.
type Task struct {
	Name    string
	Every   time.Duration
	Prereqs []string
	Handler func(ctx context.Context) error
}

// Info is the operator view of one task.
type Info struct {
	Name    string
	Every   time.Duration
	Enabled bool
	Running bool
	LastRun *time.Time
	NextRun *time.Time
	LastErr string
}

type Scheduler struct {
	db     *store.DB
	logger *logger.Logger
	now    func() time.Time

	mu      sync.Mutex
	tasks   []*Task
	byName  map[string]*Task
	running map[string]bool
	lastErr map[string]string
}

func New(db *store.DB, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Default()
	}
	return &Scheduler{
		db:      db,
		logger:  log.WithComponent("scheduler"),
		now:     time.Now,
		byName:  make(map[string]*Task),
		running: make(map[string]bool),
		lastErr: make(map[string]string),
	}
}

// Register adds a task. Registration order is the execution order within a
// tick; registering an existing name replaces its definition in place.
func (s *Scheduler) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byName[t.Name]; ok {
		*existing = t
		return
	}
	task := t
	s.tasks = append(s.tasks, &task)
	s.byName[t.Name] = &task
}

// Tick runs every task that is enabled, due and unblocked, sequentially in
// registration order. Called once per supervisor cycle.
func (s *Scheduler) Tick(ctx context.Context) {
	for _, t := range s.ordered() {
		if ctx.Err() != nil {
			return
		}
		s.maybeRun(ctx, t)
	}
}

// RunNow fires a task immediately, ignoring its schedule, enabled flag and
// prerequisites. Returns ErrTaskBusy when the task is mid-run.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	t, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.run(ctx, t)
}

// SetEnabled toggles a task. Disabled tasks are skipped by Tick but still
// honor RunNow.
func (s *Scheduler) SetEnabled(ctx context.Context, name string, enabled bool) error {
	s.mu.Lock()
	_, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, name)
	}
	return s.db.SetTaskEnabled(ctx, name, enabled, s.now())
}

// TaskStatus reports all registered tasks in registration order.
func (s *Scheduler) TaskStatus(ctx context.Context) ([]*Info, error) {
	infos := make([]*Info, 0, len(s.ordered()))
	for _, t := range s.ordered() {
		st, err := s.db.GetTaskState(ctx, t.Name)
		if err != nil {
			return nil, fmt.Errorf("read state for task %s: %w", t.Name, err)
		}

		info := &Info{Name: t.Name, Every: t.Every, Enabled: true}
		if st != nil {
			info.Enabled = st.Enabled
			info.LastRun = st.LastRun
			if st.LastRun != nil {
				next := st.LastRun.Add(t.Every)
				info.NextRun = &next
			}
		}

		s.mu.Lock()
		info.Running = s.running[t.Name]
		info.LastErr = s.lastErr[t.Name]
		s.mu.Unlock()

		infos = append(infos, info)
	}
	return infos, nil
}

func (s *Scheduler) ordered() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks := make([]*Task, len(s.tasks))
	copy(tasks, s.tasks)
	return tasks
}

func (s *Scheduler) maybeRun(ctx context.Context, t *Task) {
	st, err := s.db.GetTaskState(ctx, t.Name)
	if err != nil {
		s.logger.Error("Failed to read task state", "task", t.Name, "error", err)
		return
	}

	// A missing row means the task never ran and was never toggled.
	if st != nil && !st.Enabled {
		return
	}
	if st != nil && st.LastRun != nil && s.now().Before(st.LastRun.Add(t.Every)) {
		return
	}

	met, err := s.prereqsMet(ctx, t)
	if err != nil {
		s.logger.Error("Failed to check task prerequisites", "task", t.Name, "error", err)
		return
	}
	if !met {
		s.logger.Debug("Task waiting on prerequisites", "task", t.Name)
		return
	}

	if err := s.run(ctx, t); err != nil && !errors.Is(err, ErrTaskBusy) {
		s.logger.Error("Scheduled task failed", "task", t.Name, "error", err)
	}
}

// prereqsMet reports whether every prerequisite has completed at least once.
func (s *Scheduler) prereqsMet(ctx context.Context, t *Task) (bool, error) {
	for _, name := range t.Prereqs {
		st, err := s.db.GetTaskState(ctx, name)
		if err != nil {
			return false, err
		}
		if st == nil || st.LastRun == nil {
			return false, nil
		}
	}
	return true, nil
}

func (s *Scheduler) run(ctx context.Context, t *Task) error {
	if !s.acquire(t.Name) {
		return fmt.Errorf("%w: %s", ErrTaskBusy, t.Name)
	}
	defer s.release(t.Name)

	log := s.logger.With("task", t.Name)
	start := s.now()
	log.Info("Running task")

	if err := t.Handler(ctx); err != nil {
		s.setErr(t.Name, err.Error())
		return err
	}
	s.setErr(t.Name, "")

	// The completion time anchors the next interval.
	done := s.now()
	if err := s.db.SetTaskLastRun(ctx, t.Name, done); err != nil {
		return fmt.Errorf("persist completion for task %s: %w", t.Name, err)
	}
	log.Info("Task completed", "elapsed", done.Sub(start).String())
	return nil
}

func (s *Scheduler) acquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[name] {
		return false
	}
	s.running[name] = true
	return true
}

func (s *Scheduler) release(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, name)
}

func (s *Scheduler) setErr(name, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg == "" {
		delete(s.lastErr, name)
		return
	}
	s.lastErr[name] = msg
}
