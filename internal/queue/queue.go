// Package queue implements the persistent job queue on top of the store:
// prioritized leasing, attempt accounting with backoff, cancellation and
// crash recovery. Every state change is durable before it is reported.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"soulspot/internal/constants"
	"soulspot/internal/domain"
	"soulspot/internal/logger"
	"soulspot/internal/retry"
	"soulspot/internal/store"

	"github.com/google/uuid"
)

// ErrInvalidTransition is returned when a requested change is not legal for
// the job's current status.
var ErrInvalidTransition = errors.New("invalid job transition")

type Queue struct {
	db       *store.DB
	policy   retry.Policy
	leaseTTL time.Duration
	logger   *logger.Logger
	now      func() time.Time
}

func New(db *store.DB, policy retry.Policy, leaseTTL time.Duration, log *logger.Logger) *Queue {
	if leaseTTL <= 0 {
		leaseTTL = constants.DefaultLeaseTTL
	}
	return &Queue{
		db:       db,
		policy:   policy,
		leaseTTL: leaseTTL,
		logger:   log.WithComponent("queue"),
		now:      time.Now,
	}
}

// EnqueueParams describes one job to enqueue. Payload is marshaled to JSON.
// A non-empty Fingerprint makes the enqueue idempotent against active
// duplicates: the existing job is returned instead of a new one.
type EnqueueParams struct {
	Kind        domain.JobKind
	Payload     interface{}
	Priority    int
	MaxAttempts int
	Fingerprint string
	NotBefore   *time.Time
}

func (q *Queue) Enqueue(ctx context.Context, p EnqueueParams) (*domain.Job, error) {
	if p.Fingerprint != "" {
		existing, err := q.db.GetActiveJobByFingerprint(ctx, p.Kind, p.Fingerprint)
		if err != nil {
			return nil, fmt.Errorf("check active duplicate: %w", err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	payload := "{}"
	if p.Payload != nil {
		raw, err := json.Marshal(p.Payload)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		payload = string(raw)
	}
	if p.Priority == 0 {
		p.Priority = constants.DefaultJobPriority
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = q.policy.MaxAttempts
	}

	now := q.now().UTC()
	job := &domain.Job{
		ID:          uuid.NewString(),
		Kind:        p.Kind,
		Payload:     payload,
		Fingerprint: p.Fingerprint,
		Status:      domain.JobStatusPending,
		Priority:    p.Priority,
		MaxAttempts: p.MaxAttempts,
		NotBefore:   p.NotBefore,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := q.withRetry(ctx, func() error { return q.db.InsertJob(ctx, job) })
	if store.IsUniqueViolation(err) && p.Fingerprint != "" {
		// lost the race to a concurrent enqueue of the same work
		existing, gErr := q.db.GetActiveJobByFingerprint(ctx, p.Kind, p.Fingerprint)
		if gErr == nil && existing != nil {
			return existing, nil
		}
	}
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}

	q.logger.Debug("Enqueued job", "job_id", job.ID, "kind", job.Kind, "priority", job.Priority)
	return job, nil
}

// Lease claims the next eligible job for owner, bounded by the lease TTL.
// Returns nil when the queue has nothing eligible.
func (q *Queue) Lease(ctx context.Context, owner string, kinds ...domain.JobKind) (*domain.Job, error) {
	now := q.now().UTC()
	var job *domain.Job
	err := q.withRetry(ctx, func() error {
		var lErr error
		job, lErr = q.db.LeaseNextJob(ctx, owner, now.Add(q.leaseTTL), now, kinds...)
		return lErr
	})
	if err != nil {
		return nil, fmt.Errorf("lease next job: %w", err)
	}
	return job, nil
}

// Complete marks a running job succeeded. A job cancelled mid-run keeps its
// cancelled status and the completion is dropped.
func (q *Queue) Complete(ctx context.Context, id string) error {
	err := q.withRetry(ctx, func() error { return q.db.CompleteJob(ctx, id, q.now().UTC()) })
	if errors.Is(err, store.ErrConflict) {
		return q.resolveConflict(ctx, id)
	}
	return err
}

// Fail records a failed attempt. Retryable failures within the attempt
// budget put the job back in line after a growing backoff; everything else
// is terminal.
func (q *Queue) Fail(ctx context.Context, id string, cause error, retryable bool) error {
	job, err := q.db.GetJob(ctx, id)
	if err != nil {
		return err
	}

	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	now := q.now().UTC()
	attempt := job.Attempts + 1
	if retryable && attempt < job.MaxAttempts {
		notBefore := now.Add(q.policy.Backoff(attempt))
		err = q.withRetry(ctx, func() error { return q.db.RetryJob(ctx, id, msg, notBefore, now) })
		if err == nil {
			q.logger.Info("Job scheduled for retry",
				"job_id", id, "kind", job.Kind, "attempt", attempt, "not_before", notBefore, "error", msg)
		}
	} else {
		err = q.withRetry(ctx, func() error { return q.db.FailJob(ctx, id, msg, now) })
		if err == nil {
			q.logger.Warn("Job failed permanently",
				"job_id", id, "kind", job.Kind, "attempts", attempt, "error", msg)
		}
	}
	if errors.Is(err, store.ErrConflict) {
		return q.resolveConflict(ctx, id)
	}
	return err
}

// Cancel stops a job. Pending and retrying jobs cancel immediately; running
// jobs observe the cancellation at their next checkpoint.
func (q *Queue) Cancel(ctx context.Context, id string) error {
	err := q.withRetry(ctx, func() error { return q.db.CancelJob(ctx, id, q.now().UTC()) })
	if errors.Is(err, store.ErrConflict) {
		job, gErr := q.db.GetJob(ctx, id)
		if gErr != nil {
			return gErr
		}
		return fmt.Errorf("%w: cannot cancel %s job", ErrInvalidTransition, job.Status)
	}
	return err
}

// Cancelled reports whether the job was cancelled. Handlers poll this at
// safe checkpoints during long work.
func (q *Queue) Cancelled(ctx context.Context, id string) bool {
	job, err := q.db.GetJob(ctx, id)
	return err == nil && job.Status == domain.JobStatusCancelled
}

// ReleaseExpired returns jobs with overdue leases to the queue. Called
// periodically by the sweep worker.
func (q *Queue) ReleaseExpired(ctx context.Context) (int64, error) {
	n, err := q.db.ReleaseExpiredJobLeases(ctx, q.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Warn("Released expired job leases", "count", n)
	}
	return n, nil
}

// RecoverInterrupted requeues jobs left running by a dead process. Called
// once at startup, before workers start.
func (q *Queue) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := q.db.ResetRunningJobs(ctx, q.now().UTC())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		q.logger.Info("Recovered interrupted jobs", "count", n)
	}
	return n, nil
}

func (q *Queue) Get(ctx context.Context, id string) (*domain.Job, error) {
	return q.db.GetJob(ctx, id)
}

func (q *Queue) List(ctx context.Context, status domain.JobStatus, kind domain.JobKind, limit int) ([]*domain.Job, error) {
	return q.db.ListJobs(ctx, status, kind, limit)
}

func (q *Queue) Stats(ctx context.Context) (*domain.JobStats, error) {
	return q.db.CountJobStats(ctx)
}

// resolveConflict inspects why a guarded update missed. Cancellation races
// are absorbed; anything else surfaces as an invalid transition.
func (q *Queue) resolveConflict(ctx context.Context, id string) error {
	job, err := q.db.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.Status == domain.JobStatusCancelled {
		q.logger.Debug("Dropping outcome of cancelled job", "job_id", id)
		return nil
	}
	return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, id, job.Status)
}

// withRetry absorbs storage contention on queue writes.
func (q *Queue) withRetry(ctx context.Context, op func() error) error {
	return q.policy.Do(ctx, store.IsTransient, op)
}
