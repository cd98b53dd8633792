package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"soulspot/internal/domain"
	"soulspot/internal/logger"
	"soulspot/internal/retry"
	"soulspot/internal/store"
)

func setupTestQueue(t *testing.T) (*Queue, *store.DB, *time.Time) {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "queue.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	q := New(db, retry.Policy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour},
		10*time.Minute, logger.New(logger.Config{Level: "error", Format: "text"}))
	q.now = func() time.Time { return now }
	return q, db, &now
}

func TestQueue_EnqueueDefaults(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueParams{
		Kind:    domain.JobKindScan,
		Payload: domain.ScanPayload{Path: "/music"},
	})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	if job.Status != domain.JobStatusPending {
		t.Errorf("expected pending status, got %s", job.Status)
	}
	if job.Priority != 100 {
		t.Errorf("expected default priority 100, got %d", job.Priority)
	}
	if job.MaxAttempts != 3 {
		t.Errorf("expected max attempts from policy, got %d", job.MaxAttempts)
	}
	if job.Payload != `{"path":"/music"}` {
		t.Errorf("unexpected payload: %s", job.Payload)
	}
}

func TestQueue_EnqueueFingerprintIdempotent(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	ctx := context.Background()

	first, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindProviderSync, Fingerprint: "provider_sync:hifi"})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	second, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindProviderSync, Fingerprint: "provider_sync:hifi"})
	if err != nil {
		t.Fatalf("duplicate enqueue should return existing job: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected existing job %s, got %s", first.ID, second.ID)
	}

	// once the active job finishes, the fingerprint is free again
	if _, err := q.Lease(ctx, "w1"); err != nil {
		t.Fatalf("failed to lease: %v", err)
	}
	if err := q.Complete(ctx, first.ID); err != nil {
		t.Fatalf("failed to complete: %v", err)
	}

	third, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindProviderSync, Fingerprint: "provider_sync:hifi"})
	if err != nil {
		t.Fatalf("failed to enqueue after completion: %v", err)
	}
	if third.ID == first.ID {
		t.Error("expected a fresh job after the previous one completed")
	}
}

func TestQueue_ConcurrentLeaseClaimsEachJobOnce(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	ctx := context.Background()

	const jobs = 20
	for i := 0; i < jobs; i++ {
		if _, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindEnrich}); err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}
	}

	var mu sync.Mutex
	seen := make(map[string]string)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(owner string) {
			defer wg.Done()
			for {
				job, err := q.Lease(ctx, owner)
				if err != nil {
					t.Errorf("lease failed for %s: %v", owner, err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				if prev, dup := seen[job.ID]; dup {
					t.Errorf("job %s leased by both %s and %s", job.ID, prev, owner)
				}
				seen[job.ID] = owner
				mu.Unlock()
			}
		}("worker-" + string(rune('a'+w)))
	}
	wg.Wait()

	if len(seen) != jobs {
		t.Errorf("expected %d distinct leased jobs, got %d", jobs, len(seen))
	}
}

func TestQueue_FailRetriesThenExhausts(t *testing.T) {
	q, _, now := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindDownload, MaxAttempts: 3})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}

	var lastNotBefore time.Time
	for attempt := 1; attempt <= 3; attempt++ {
		leased, err := q.Lease(ctx, "w1")
		if err != nil {
			t.Fatalf("failed to lease attempt %d: %v", attempt, err)
		}
		if leased == nil {
			t.Fatalf("expected job eligible on attempt %d", attempt)
		}

		if err := q.Fail(ctx, job.ID, errors.New("provider timeout"), true); err != nil {
			t.Fatalf("failed to record failure %d: %v", attempt, err)
		}

		got, err := q.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("failed to get job: %v", err)
		}
		if got.Attempts != attempt {
			t.Errorf("attempt %d: expected %d recorded attempts, got %d", attempt, attempt, got.Attempts)
		}

		if attempt < 3 {
			if got.Status != domain.JobStatusRetrying {
				t.Fatalf("attempt %d: expected retrying, got %s", attempt, got.Status)
			}
			if got.NotBefore == nil {
				t.Fatal("expected retry backoff to be set")
			}
			if !got.NotBefore.After(lastNotBefore) {
				t.Errorf("expected backoff to grow, got %v after %v", got.NotBefore, lastNotBefore)
			}
			lastNotBefore = *got.NotBefore

			// not eligible until the backoff passes
			if early, _ := q.Lease(ctx, "w1"); early != nil {
				t.Error("job leased before its backoff elapsed")
			}
			*now = got.NotBefore.Add(time.Second)
		} else {
			if got.Status != domain.JobStatusFailed {
				t.Errorf("expected failed after exhausting attempts, got %s", got.Status)
			}
			if got.LastError == nil || *got.LastError != "provider timeout" {
				t.Errorf("expected last error recorded, got %v", got.LastError)
			}
		}
	}
}

func TestQueue_FailNonRetryableIsTerminal(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindScan})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if _, err := q.Lease(ctx, "w1"); err != nil {
		t.Fatalf("failed to lease: %v", err)
	}

	if err := q.Fail(ctx, job.ID, errors.New("library path does not exist"), false); err != nil {
		t.Fatalf("failed to fail job: %v", err)
	}

	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.Status != domain.JobStatusFailed {
		t.Errorf("expected failed on first non-retryable error, got %s", got.Status)
	}
	if got.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", got.Attempts)
	}
}

func TestQueue_CancelRaces(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindEnrich})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if _, err := q.Lease(ctx, "w1"); err != nil {
		t.Fatalf("failed to lease: %v", err)
	}

	if q.Cancelled(ctx, job.ID) {
		t.Error("job should not report cancelled yet")
	}
	if err := q.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("failed to cancel running job: %v", err)
	}
	if !q.Cancelled(ctx, job.ID) {
		t.Error("job should report cancelled at the next checkpoint")
	}

	// the worker finishes anyway; its outcome must not resurrect the job
	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatalf("completion after cancel should be absorbed: %v", err)
	}
	got, err := q.Get(ctx, job.ID)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got.Status != domain.JobStatusCancelled {
		t.Errorf("expected cancelled to stick, got %s", got.Status)
	}

	// a failure outcome is absorbed the same way
	other, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindEnrich})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if _, err := q.Lease(ctx, "w1"); err != nil {
		t.Fatalf("failed to lease: %v", err)
	}
	if err := q.Cancel(ctx, other.ID); err != nil {
		t.Fatalf("failed to cancel: %v", err)
	}
	if err := q.Fail(ctx, other.ID, errors.New("boom"), true); err != nil {
		t.Fatalf("failure after cancel should be absorbed: %v", err)
	}
}

func TestQueue_CancelTerminalJobRejected(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindScan})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if _, err := q.Lease(ctx, "w1"); err != nil {
		t.Fatalf("failed to lease: %v", err)
	}
	if err := q.Complete(ctx, job.ID); err != nil {
		t.Fatalf("failed to complete: %v", err)
	}

	err = q.Cancel(ctx, job.ID)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition cancelling a succeeded job, got %v", err)
	}
}

func TestQueue_LeaseExpiryAndRecovery(t *testing.T) {
	q, _, now := setupTestQueue(t)
	ctx := context.Background()

	job, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindDownload})
	if err != nil {
		t.Fatalf("failed to enqueue: %v", err)
	}
	if _, err := q.Lease(ctx, "w1"); err != nil {
		t.Fatalf("failed to lease: %v", err)
	}

	// lease still valid: nothing to release
	n, err := q.ReleaseExpired(ctx)
	if err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	if n != 0 {
		t.Errorf("expected no expired leases, got %d", n)
	}

	*now = now.Add(11 * time.Minute)
	n, err = q.ReleaseExpired(ctx)
	if err != nil {
		t.Fatalf("failed to release: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 expired lease, got %d", n)
	}

	reclaimed, err := q.Lease(ctx, "w2")
	if err != nil {
		t.Fatalf("failed to re-lease: %v", err)
	}
	if reclaimed == nil || reclaimed.ID != job.ID {
		t.Fatal("expected the expired job to be leasable again")
	}
	if reclaimed.LeasedBy == nil || *reclaimed.LeasedBy != "w2" {
		t.Error("expected the new owner on the reclaimed lease")
	}
}

func TestQueue_RecoverInterrupted(t *testing.T) {
	q, _, _ := setupTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, EnqueueParams{Kind: domain.JobKindScan}); err != nil {
			t.Fatalf("failed to enqueue: %v", err)
		}
	}
	if _, err := q.Lease(ctx, "w1"); err != nil {
		t.Fatalf("failed to lease: %v", err)
	}

	// simulates a restart: whatever was running goes back to pending
	n, err := q.RecoverInterrupted(ctx)
	if err != nil {
		t.Fatalf("failed to recover: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 recovered job, got %d", n)
	}

	stats, err := q.Stats(ctx)
	if err != nil {
		t.Fatalf("failed to count stats: %v", err)
	}
	if stats.Pending != 2 {
		t.Errorf("expected 2 pending jobs after recovery, got %d", stats.Pending)
	}
}
