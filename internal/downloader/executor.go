package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soulspot/internal/domain"
	"soulspot/internal/logger"
	"soulspot/internal/queue"
)

// settleTimeout bounds the queue writes that record a job outcome. Outcomes
// are written on a fresh context so a shutdown cannot strand a finished job
// in the running state.
const settleTimeout = 10 * time.Second

// Executor drains the job queue. Each Cycle leases jobs one at a time and
// runs them through the dispatcher until the queue is empty.
type Executor struct {
	queue      *queue.Queue
	dispatcher *Dispatcher
	logger     *logger.Logger
	owner      string
}

func NewExecutor(q *queue.Queue, d *Dispatcher, owner string, log *logger.Logger) *Executor {
	return &Executor{
		queue:      q,
		dispatcher: d,
		logger:     log.WithWorker(owner),
		owner:      owner,
	}
}

// Cycle leases and runs jobs until none remain. A lease error is returned to
// the caller so a queue outage backs the worker off instead of spinning.
func (e *Executor) Cycle(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		job, err := e.queue.Lease(ctx, e.owner)
		if err != nil {
			return fmt.Errorf("lease job: %w", err)
		}
		if job == nil {
			return nil
		}

		e.runJob(ctx, job)
	}
}

func (e *Executor) runJob(ctx context.Context, job *domain.Job) {
	log := e.logger.WithJob(job.ID, string(job.Kind))
	log.Info("Job started", "attempt", job.Attempts)

	start := time.Now()
	err := e.dispatch(ctx, job, log)
	elapsed := time.Since(start)

	settleCtx, cancel := context.WithTimeout(context.Background(), settleTimeout)
	defer cancel()

	if err == nil {
		if cErr := e.queue.Complete(settleCtx, job.ID); cErr != nil {
			log.Error("Failed to mark job complete", "error", cErr)
			return
		}
		log.Info("Job completed", "elapsed", elapsed.String())
		return
	}

	// A handler cut short by shutdown keeps its lease. Recovery or lease
	// expiry hands the job back without burning an attempt.
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		log.Info("Job interrupted by shutdown", "elapsed", elapsed.String())
		return
	}

	retryable := !terminalError(err)
	if fErr := e.queue.Fail(settleCtx, job.ID, err, retryable); fErr != nil {
		log.Error("Failed to record job failure", "error", fErr)
		return
	}
	log.Error("Job failed", "error", err, "retryable", retryable, "elapsed", elapsed.String())
}

func (e *Executor) dispatch(ctx context.Context, job *domain.Job, log *logger.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return e.dispatcher.Dispatch(ctx, job, log)
}
