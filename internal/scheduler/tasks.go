package scheduler

import (
	"context"
	"time"

	"soulspot/internal/config"
	"soulspot/internal/domain"
	"soulspot/internal/queue"
	"soulspot/internal/store"
)

// imageSweepBatch caps how many image_fetch jobs one sweep enqueues.
const imageSweepBatch = 50

// RegisterDefaults wires the standard task set: one catalog sync per enabled
// source, the library scan, the image sweep and the cleanup task. The sweep
// waits for every source to have synced once so it does not churn an empty
// library.
func RegisterDefaults(s *Scheduler, q *queue.Queue, db *store.DB, p config.Profile) {
	var syncNames []string
	for _, src := range p.Sources {
		if !src.Enabled {
			continue
		}
		name := "sync:" + src.Name
		syncNames = append(syncNames, name)
		s.Register(SyncTask(name, src.Name, p.Scheduler.SyncEvery.Duration, q))
	}

	s.Register(ScanTask(p.Scheduler.ScanEvery.Duration, q))
	s.Register(ImageSweepTask(p.Scheduler.ImageSweepEvery.Duration, syncNames, db, q))
	s.Register(CleanupTask(p.Scheduler.CleanupEvery.Duration, p.Queue.RetentionDays, q))
}

// SyncTask enqueues a provider_sync job for one source. The fingerprint
// keeps a single live sync job per source no matter how often the task
// fires.
func SyncTask(name, source string, every time.Duration, q *queue.Queue) Task {
	return Task{
		Name:  name,
		Every: every,
		Handler: func(ctx context.Context) error {
			_, err := q.Enqueue(ctx, queue.EnqueueParams{
				Kind:        domain.JobKindProviderSync,
				Payload:     domain.SyncPayload{Source: source},
				Fingerprint: name,
			})
			return err
		},
	}
}

// ScanTask enqueues a scan job over the configured library root.
func ScanTask(every time.Duration, q *queue.Queue) Task {
	return Task{
		Name:  "scan",
		Every: every,
		Handler: func(ctx context.Context) error {
			_, err := q.Enqueue(ctx, queue.EnqueueParams{
				Kind:        domain.JobKindScan,
				Payload:     domain.ScanPayload{},
				Fingerprint: "scan",
			})
			return err
		},
	}
}

// ImageSweepTask enqueues an image_fetch job for each entity still missing
// cover art, one batch per run.
func ImageSweepTask(every time.Duration, prereqs []string, db *store.DB, q *queue.Queue) Task {
	return Task{
		Name:    "image-sweep",
		Every:   every,
		Prereqs: prereqs,
		Handler: func(ctx context.Context) error {
			entities, err := db.ListEntitiesMissingImages(ctx, imageSweepBatch)
			if err != nil {
				return err
			}
			for _, e := range entities {
				_, err := q.Enqueue(ctx, queue.EnqueueParams{
					Kind:        domain.JobKindImageFetch,
					Payload:     domain.ImageFetchPayload{EntityID: e.ID},
					Fingerprint: "image:" + e.ID,
				})
				if err != nil {
					return err
				}
			}
			return nil
		},
	}
}

// CleanupTask enqueues the retention cleanup job.
func CleanupTask(every time.Duration, retentionDays int, q *queue.Queue) Task {
	return Task{
		Name:  "cleanup",
		Every: every,
		Handler: func(ctx context.Context) error {
			_, err := q.Enqueue(ctx, queue.EnqueueParams{
				Kind:        domain.JobKindCleanup,
				Payload:     domain.CleanupPayload{JobRetentionDays: retentionDays},
				Fingerprint: "cleanup",
			})
			return err
		},
	}
}
