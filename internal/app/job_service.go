// Package app holds the services the operator API and the job handlers are
// built on: typed job enqueues, library curation and the provider sync
// engine. Services stay thin; state lives in the store and the queue.
package app

import (
	"context"
	"encoding/json"
	"fmt"

	"soulspot/internal/catalog"
	"soulspot/internal/domain"
	"soulspot/internal/logger"
	"soulspot/internal/queue"
	"soulspot/internal/store"
)

// JobService is the operator surface over the job queue. Enqueues are
// fingerprinted so repeated requests for the same work return the job
// already in flight instead of piling up duplicates.
type JobService struct {
	Queue   *queue.Queue
	Repo    *store.DB
	Sources *catalog.Manager
	Logger  *logger.Logger
}

func NewJobService(q *queue.Queue, repo *store.DB, sources *catalog.Manager, log *logger.Logger) *JobService {
	return &JobService{Queue: q, Repo: repo, Sources: sources, Logger: log.WithComponent("jobs")}
}

func (s *JobService) EnqueueSync(ctx context.Context, source string, kind domain.EntityKind) (*domain.Job, error) {
	if source == "" {
		return nil, fmt.Errorf("source is required")
	}
	if _, err := s.Sources.Get(source); err != nil {
		return nil, err
	}
	if kind != "" && !validEntityKind(kind) {
		return nil, fmt.Errorf("unknown entity kind: %s", kind)
	}

	// An all-kinds sync shares its fingerprint with the scheduled sync task.
	fingerprint := "sync:" + source
	if kind != "" {
		fingerprint += ":" + string(kind)
	}

	job, err := s.Queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:        domain.JobKindProviderSync,
		Payload:     domain.SyncPayload{Source: source, Kind: string(kind)},
		Fingerprint: fingerprint,
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Sync job enqueued", "job_id", job.ID, "source", source, "kind", kind)
	return job, nil
}

func (s *JobService) EnqueueScan(ctx context.Context, path string) (*domain.Job, error) {
	job, err := s.Queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:        domain.JobKindScan,
		Payload:     domain.ScanPayload{Path: path},
		Fingerprint: "scan:" + path,
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Scan job enqueued", "job_id", job.ID, "path", path)
	return job, nil
}

func (s *JobService) EnqueueEnrich(ctx context.Context, entityID string) (*domain.Job, error) {
	if _, err := s.Repo.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}
	job, err := s.Queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:        domain.JobKindEnrich,
		Payload:     domain.EnrichPayload{EntityID: entityID},
		Fingerprint: "enrich:" + entityID,
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Enrich job enqueued", "job_id", job.ID, "entity_id", entityID)
	return job, nil
}

// EnqueueDownload admits a download job for an artist, album or track. The
// priority carries through to the admitted download requests; lower runs
// first.
func (s *JobService) EnqueueDownload(ctx context.Context, entityID string, priority int) (*domain.Job, error) {
	if _, err := s.Repo.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}
	job, err := s.Queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:        domain.JobKindDownload,
		Payload:     domain.DownloadPayload{EntityID: entityID, Priority: priority},
		Priority:    priority,
		Fingerprint: "download:" + entityID,
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Download job enqueued", "job_id", job.ID, "entity_id", entityID, "priority", job.Priority)
	return job, nil
}

func (s *JobService) EnqueueImageFetch(ctx context.Context, entityID string) (*domain.Job, error) {
	if _, err := s.Repo.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}
	job, err := s.Queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:        domain.JobKindImageFetch,
		Payload:     domain.ImageFetchPayload{EntityID: entityID},
		Fingerprint: "image:" + entityID,
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Image fetch job enqueued", "job_id", job.ID, "entity_id", entityID)
	return job, nil
}

func (s *JobService) EnqueueCleanup(ctx context.Context, retentionDays int) (*domain.Job, error) {
	job, err := s.Queue.Enqueue(ctx, queue.EnqueueParams{
		Kind:        domain.JobKindCleanup,
		Payload:     domain.CleanupPayload{JobRetentionDays: retentionDays},
		Fingerprint: "cleanup",
	})
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Cleanup job enqueued", "job_id", job.ID)
	return job, nil
}

func (s *JobService) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	return s.Queue.Get(ctx, id)
}

func (s *JobService) ListJobs(ctx context.Context, status domain.JobStatus, kind domain.JobKind, limit int) ([]*domain.Job, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.Queue.List(ctx, status, kind, limit)
}

func (s *JobService) CancelJob(ctx context.Context, id string) error {
	if err := s.Queue.Cancel(ctx, id); err != nil {
		return err
	}
	s.Logger.Info("Job cancelled", "job_id", id)
	return nil
}

// RetryJob reruns a failed or cancelled job as a fresh job with a fresh
// attempt budget. The original row is terminal and stays untouched; the
// shared fingerprint keeps retry idempotent while the clone is active.
func (s *JobService) RetryJob(ctx context.Context, id string) (*domain.Job, error) {
	job, err := s.Queue.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case domain.JobStatusFailed, domain.JobStatusCancelled:
	default:
		return nil, fmt.Errorf("%w: cannot retry %s job", queue.ErrInvalidTransition, job.Status)
	}

	params := queue.EnqueueParams{
		Kind:        job.Kind,
		Priority:    job.Priority,
		MaxAttempts: job.MaxAttempts,
		Fingerprint: job.Fingerprint,
	}
	if job.Payload != "" {
		params.Payload = json.RawMessage(job.Payload)
	}

	clone, err := s.Queue.Enqueue(ctx, params)
	if err != nil {
		return nil, err
	}
	s.Logger.Info("Job retried", "job_id", id, "new_job_id", clone.ID, "kind", clone.Kind)
	return clone, nil
}

func (s *JobService) JobStats(ctx context.Context) (*domain.JobStats, error) {
	return s.Queue.Stats(ctx)
}

func validEntityKind(kind domain.EntityKind) bool {
	switch kind {
	case domain.EntityKindArtist, domain.EntityKindAlbum, domain.EntityKindTrack:
		return true
	}
	return false
}
