// Package supervisor keeps the long-lived background workers alive. Each
// worker is a cycle function called on a fixed cadence; every cycle recovers
// panics, and a worker that keeps failing is put into an extended backoff
// instead of hammering its dependency.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"soulspot/internal/constants"
	"soulspot/internal/logger"
)

// Worker states as reported by Status.
const (
	StateStopped    = "stopped"
	StateStarting   = "starting"
	StateRunning    = "running"
	StateBackingOff = "backing_off"
)

// CycleFunc is one iteration of a worker. A nil return resets the failure
// streak; an error or panic counts against it.
type CycleFunc func(ctx context.Context) error

// WorkerStatus is the operator view of one worker.
type WorkerStatus struct {
	Name                string     `json:"name"`
	State               string     `json:"state"`
	LastSuccess         *time.Time `json:"last_success,omitempty"`
	ErrorCount          int        `json:"error_count"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
}

type worker struct {
	name     string
	interval time.Duration
	cycle    CycleFunc

	mu                  sync.Mutex
	state               string
	lastSuccess         *time.Time
	errorCount          int
	consecutiveFailures int
	lastError           string
}

type Supervisor struct {
	logger *logger.Logger
	now    func() time.Time

	// A worker whose failure streak reaches FailureStreak sleeps
	// Multiplier x interval (capped at MaxBackoff) before resuming.
	FailureStreak int
	Multiplier    int
	MaxBackoff    time.Duration

	mu      sync.Mutex
	workers []*worker
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

func New(log *logger.Logger) *Supervisor {
	if log == nil {
		log = logger.Default()
	}
	return &Supervisor{
		logger:        log.WithComponent("supervisor"),
		now:           time.Now,
		FailureStreak: constants.DefaultFailureStreak,
		Multiplier:    constants.DefaultBackoffMultiplier,
		MaxBackoff:    constants.DefaultMaxWorkerBackoff,
	}
}

// Register adds a named worker. Must be called before Start.
func (s *Supervisor) Register(name string, interval time.Duration, cycle CycleFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers = append(s.workers, &worker{
		name:     name,
		interval: interval,
		cycle:    cycle,
		state:    StateStopped,
	})
}

// Start launches one goroutine per registered worker. Calling Start on a
// running supervisor is a no-op.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	workers := s.workers
	ctx := s.ctx
	s.mu.Unlock()

	s.logger.Info("Starting workers", "count", len(workers))
	for _, w := range workers {
		w.setState(StateStarting)
		s.wg.Add(1)
		go s.runWorker(ctx, w)
	}
}

// Stop cancels all workers and waits for their loops to exit. An in-flight
// cycle observes the cancelled context and finishes first. Idempotent.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	s.logger.Info("Stopping workers")
	cancel()
	s.wg.Wait()
	s.logger.Info("All workers stopped")
}

// Status reports all workers in registration order.
func (s *Supervisor) Status() []*WorkerStatus {
	s.mu.Lock()
	workers := make([]*worker, len(s.workers))
	copy(workers, s.workers)
	s.mu.Unlock()

	statuses := make([]*WorkerStatus, 0, len(workers))
	for _, w := range workers {
		statuses = append(statuses, w.status())
	}
	return statuses
}

func (s *Supervisor) runWorker(ctx context.Context, w *worker) {
	defer s.wg.Done()
	defer w.setState(StateStopped)

	log := s.logger.WithWorker(w.name)
	log.Info("Worker started", "interval", w.interval.String())
	w.setState(StateRunning)

	// First cycle fires immediately; after that each iteration sleeps the
	// interval, stretched to the backoff while the failure streak is hot.
	for {
		s.runCycle(ctx, w, log)

		wait := w.interval
		if w.failures() >= s.FailureStreak {
			wait = s.backoffFor(w)
			w.setState(StateBackingOff)
			log.Warn("Worker backing off after repeated failures",
				"consecutive_failures", w.failures(),
				"backoff", wait.String(),
			)
		}

		if !sleep(ctx, wait) {
			return
		}
		w.setState(StateRunning)
	}
}

func (s *Supervisor) runCycle(ctx context.Context, w *worker, log *logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic in worker cycle", "panic", r)
			w.recordFailure(fmt.Sprintf("panic: %v", r))
		}
	}()

	if ctx.Err() != nil {
		return
	}

	if err := w.cycle(ctx); err != nil {
		// Shutdown mid-cycle is not a worker failure.
		if ctx.Err() != nil {
			return
		}
		log.Error("Worker cycle failed", "error", err)
		w.recordFailure(err.Error())
		return
	}
	w.recordSuccess(s.now())
}

func (s *Supervisor) backoffFor(w *worker) time.Duration {
	backoff := time.Duration(s.Multiplier) * w.interval
	if backoff > s.MaxBackoff {
		backoff = s.MaxBackoff
	}
	return backoff
}

// sleep waits for d or until ctx is cancelled. Returns false on cancel.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (w *worker) setState(state string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.state = state
}

func (w *worker) failures() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.consecutiveFailures
}

func (w *worker) recordSuccess(now time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSuccess = &now
	w.consecutiveFailures = 0
	w.lastError = ""
}

func (w *worker) recordFailure(msg string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errorCount++
	w.consecutiveFailures++
	w.lastError = msg
}

func (w *worker) status() *WorkerStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := &WorkerStatus{
		Name:                w.name,
		State:               w.state,
		ErrorCount:          w.errorCount,
		ConsecutiveFailures: w.consecutiveFailures,
		LastError:           w.lastError,
	}
	if w.lastSuccess != nil {
		t := *w.lastSuccess
		st.LastSuccess = &t
	}
	return st
}
