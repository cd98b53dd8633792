package app

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"soulspot/internal/catalog"
	"soulspot/internal/domain"
	"soulspot/internal/logger"
	"soulspot/internal/queue"
	"soulspot/internal/retry"
	"soulspot/internal/store"
)

func testLogger() *logger.Logger {
	return logger.New(logger.Config{Level: "error", Format: "text"})
}

func setupTestDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "app.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testQueue(t *testing.T, db *store.DB) *queue.Queue {
	t.Helper()
	policy := retry.Policy{MaxAttempts: 3, BaseDelay: time.Minute, MaxDelay: time.Hour}
	return queue.New(db, policy, 10*time.Minute, testLogger())
}

func newTestJobService(t *testing.T) (*JobService, *store.DB) {
	t.Helper()
	db := setupTestDB(t)
	mgr := catalog.NewManager(testLogger())
	mgr.Register(catalog.NewMockSource("hifi"))
	return NewJobService(testQueue(t, db), db, mgr, testLogger()), db
}

func makeEntity(kind domain.EntityKind, name string) *domain.LibraryEntity {
	now := time.Now().UTC()
	return &domain.LibraryEntity{
		ID:          name + "-id",
		Kind:        kind,
		Name:        name,
		NormName:    domain.NormalizeName(name),
		SortName:    domain.SortName(name),
		Source:      "hifi",
		ExternalIDs: domain.IDMap{"hifi": name + "-ext"},
		Aliases:     domain.StringSlice{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestJobService_EnqueueSync(t *testing.T) {
	svc, _ := newTestJobService(t)
	ctx := context.Background()

	job, err := svc.EnqueueSync(ctx, "hifi", domain.EntityKindArtist)
	if err != nil {
		t.Fatalf("EnqueueSync failed: %v", err)
	}
	if job.Kind != domain.JobKindProviderSync {
		t.Errorf("kind = %s, want provider_sync", job.Kind)
	}
	if job.Status != domain.JobStatusPending {
		t.Errorf("status = %s, want pending", job.Status)
	}

	// Same work again returns the job already in flight.
	again, err := svc.EnqueueSync(ctx, "hifi", domain.EntityKindArtist)
	if err != nil {
		t.Fatalf("EnqueueSync failed: %v", err)
	}
	if again.ID != job.ID {
		t.Errorf("duplicate enqueue created job %s, want %s", again.ID, job.ID)
	}

	// A different kind is different work.
	other, err := svc.EnqueueSync(ctx, "hifi", domain.EntityKindAlbum)
	if err != nil {
		t.Fatalf("EnqueueSync failed: %v", err)
	}
	if other.ID == job.ID {
		t.Error("expected a separate job for a different kind")
	}
}

func TestJobService_EnqueueSyncRejectsUnknownSource(t *testing.T) {
	svc, _ := newTestJobService(t)

	if _, err := svc.EnqueueSync(context.Background(), "nosuch", ""); err == nil {
		t.Error("expected error for unregistered source")
	}
	if _, err := svc.EnqueueSync(context.Background(), "", ""); err == nil {
		t.Error("expected error for empty source")
	}
}

func TestJobService_EnqueueDownload(t *testing.T) {
	svc, db := newTestJobService(t)
	ctx := context.Background()

	entity := makeEntity(domain.EntityKindAlbum, "Blue Train")
	if err := db.InsertEntity(ctx, entity); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}

	job, err := svc.EnqueueDownload(ctx, entity.ID, 5)
	if err != nil {
		t.Fatalf("EnqueueDownload failed: %v", err)
	}
	if job.Priority != 5 {
		t.Errorf("priority = %d, want 5", job.Priority)
	}
	var payload domain.DownloadPayload
	if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.EntityID != entity.ID || payload.Priority != 5 {
		t.Errorf("payload = %+v, want entity %s at priority 5", payload, entity.ID)
	}
}

func TestJobService_EnqueueDownloadUnknownEntity(t *testing.T) {
	svc, _ := newTestJobService(t)

	_, err := svc.EnqueueDownload(context.Background(), "ghost", 0)
	if !errors.Is(err, store.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestJobService_CancelJob(t *testing.T) {
	svc, _ := newTestJobService(t)
	ctx := context.Background()

	job, err := svc.EnqueueScan(ctx, "")
	if err != nil {
		t.Fatalf("EnqueueScan failed: %v", err)
	}
	if err := svc.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	got, err := svc.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if got.Status != domain.JobStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
}

func TestJobService_RetryClonesTerminalJob(t *testing.T) {
	svc, db := newTestJobService(t)
	ctx := context.Background()

	now := time.Now().UTC()
	failed := &domain.Job{
		ID:          "failed-job",
		Kind:        domain.JobKindEnrich,
		Payload:     `{"entity_id":"e1"}`,
		Fingerprint: "enrich:e1",
		Status:      domain.JobStatusFailed,
		Priority:    40,
		Attempts:    3,
		MaxAttempts: 3,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := db.InsertJob(ctx, failed); err != nil {
		t.Fatalf("InsertJob failed: %v", err)
	}

	clone, err := svc.RetryJob(ctx, failed.ID)
	if err != nil {
		t.Fatalf("RetryJob failed: %v", err)
	}
	if clone.ID == failed.ID {
		t.Fatal("retry must create a fresh job, not reuse the terminal row")
	}
	if clone.Status != domain.JobStatusPending || clone.Attempts != 0 {
		t.Errorf("clone = %s/%d attempts, want pending with a fresh budget", clone.Status, clone.Attempts)
	}
	if clone.Kind != failed.Kind || clone.Payload != failed.Payload || clone.Priority != failed.Priority {
		t.Errorf("clone does not carry the original work: %+v", clone)
	}

	original, err := db.GetJob(ctx, failed.ID)
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if original.Status != domain.JobStatusFailed {
		t.Errorf("original status = %s, terminal rows stay untouched", original.Status)
	}

	// While the clone is active, retrying again lands on it.
	again, err := svc.RetryJob(ctx, failed.ID)
	if err != nil {
		t.Fatalf("RetryJob failed: %v", err)
	}
	if again.ID != clone.ID {
		t.Errorf("second retry created job %s, want the active clone %s", again.ID, clone.ID)
	}
}

func TestJobService_RetryRejectsActiveJob(t *testing.T) {
	svc, _ := newTestJobService(t)
	ctx := context.Background()

	job, err := svc.EnqueueScan(ctx, "/library")
	if err != nil {
		t.Fatalf("EnqueueScan failed: %v", err)
	}
	_, err = svc.RetryJob(ctx, job.ID)
	if !errors.Is(err, queue.ErrInvalidTransition) {
		t.Errorf("error = %v, want ErrInvalidTransition", err)
	}
}

func TestJobService_ListAndStats(t *testing.T) {
	svc, _ := newTestJobService(t)
	ctx := context.Background()

	if _, err := svc.EnqueueScan(ctx, "/a"); err != nil {
		t.Fatalf("EnqueueScan failed: %v", err)
	}
	if _, err := svc.EnqueueCleanup(ctx, 0); err != nil {
		t.Fatalf("EnqueueCleanup failed: %v", err)
	}
	job, err := svc.EnqueueScan(ctx, "/b")
	if err != nil {
		t.Fatalf("EnqueueScan failed: %v", err)
	}
	if err := svc.CancelJob(ctx, job.ID); err != nil {
		t.Fatalf("CancelJob failed: %v", err)
	}

	pending, err := svc.ListJobs(ctx, domain.JobStatusPending, "", 0)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(pending) != 2 {
		t.Errorf("pending jobs = %d, want 2", len(pending))
	}
	scans, err := svc.ListJobs(ctx, "", domain.JobKindScan, 0)
	if err != nil {
		t.Fatalf("ListJobs failed: %v", err)
	}
	if len(scans) != 2 {
		t.Errorf("scan jobs = %d, want 2", len(scans))
	}

	stats, err := svc.JobStats(ctx)
	if err != nil {
		t.Fatalf("JobStats failed: %v", err)
	}
	if stats.Pending != 2 || stats.Cancelled != 1 {
		t.Errorf("stats = %+v, want 2 pending and 1 cancelled", stats)
	}
}
