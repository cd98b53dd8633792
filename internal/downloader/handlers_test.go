package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"soulspot/internal/catalog"
	"soulspot/internal/dedup"
	"soulspot/internal/domain"
	"soulspot/internal/httpclient"
	"soulspot/internal/store"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func payloadJob(t *testing.T, kind domain.JobKind, payload interface{}) *domain.Job {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &domain.Job{ID: uuid.NewString(), Kind: kind, Payload: string(raw)}
}

func countRequests(t *testing.T, db *store.DB) int {
	t.Helper()
	reqs, err := db.ListDownloadRequests(context.Background(), "", -1)
	if err != nil {
		t.Fatalf("ListDownloadRequests failed: %v", err)
	}
	return len(reqs)
}

func TestDownloadHandler_ExpandsAlbumToTracks(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	h := &DownloadHandler{DB: db}

	artist := testEntity(domain.EntityKindArtist, "Can")
	album := testEntity(domain.EntityKindAlbum, "Ege Bamyasi")
	album.ParentID = &artist.ID
	done := testEntity(domain.EntityKindTrack, "Vitamin C")
	done.ParentID = &album.ID
	done.Complete = true
	missing1 := testEntity(domain.EntityKindTrack, "Sing Swan Song")
	missing1.ParentID = &album.ID
	missing2 := testEntity(domain.EntityKindTrack, "Spoon")
	missing2.ParentID = &album.ID

	for _, e := range []*domain.LibraryEntity{artist, album, done, missing1, missing2} {
		if err := db.InsertEntity(ctx, e); err != nil {
			t.Fatalf("InsertEntity failed: %v", err)
		}
	}

	job := payloadJob(t, domain.JobKindDownload, domain.DownloadPayload{EntityID: album.ID, Priority: 10})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := countRequests(t, db); got != 2 {
		t.Fatalf("requests = %d, want 2 for the incomplete tracks", got)
	}
	req, err := db.GetLiveRequestByTrack(ctx, missing1.ID)
	if err != nil || req == nil {
		t.Fatalf("missing track has no request: %v", err)
	}
	if req.State != domain.DownloadStateAvailable || req.Priority != 10 {
		t.Errorf("request = %s/%d, want available/10", req.State, req.Priority)
	}
	if done, _ := db.GetLiveRequestByTrack(ctx, done.ID); done != nil {
		t.Error("complete track should not be admitted")
	}

	// Re-running the same admission adds nothing.
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if got := countRequests(t, db); got != 2 {
		t.Errorf("requests after rerun = %d, want still 2", got)
	}
}

func TestDownloadHandler_ExpandsArtistAcrossAlbums(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	h := &DownloadHandler{DB: db}

	artist := testEntity(domain.EntityKindArtist, "Neu!")
	if err := db.InsertEntity(ctx, artist); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	for _, albumName := range []string{"Neu!", "Neu! 2"} {
		album := testEntity(domain.EntityKindAlbum, albumName)
		album.ParentID = &artist.ID
		if err := db.InsertEntity(ctx, album); err != nil {
			t.Fatalf("InsertEntity failed: %v", err)
		}
		for _, trackName := range []string{"A", "B"} {
			track := testEntity(domain.EntityKindTrack, albumName+" "+trackName)
			track.ParentID = &album.ID
			if err := db.InsertEntity(ctx, track); err != nil {
				t.Fatalf("InsertEntity failed: %v", err)
			}
		}
	}

	job := payloadJob(t, domain.JobKindDownload, domain.DownloadPayload{EntityID: artist.ID})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if got := countRequests(t, db); got != 4 {
		t.Errorf("requests = %d, want one per track", got)
	}
}

func TestDownloadHandler_RevivesNotFoundRequest(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	h := &DownloadHandler{DB: db}

	_, _, track := seedLineage(t, db, "Broadcast", "Tender Buttons", "Black Cat")
	req := seedRequest(t, db, track.ID, 100, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	if err := db.SetRequestAvailability(ctx, req.ID, false, time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("SetRequestAvailability failed: %v", err)
	}

	job := payloadJob(t, domain.JobKindDownload, domain.DownloadPayload{EntityID: track.ID})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	got := getRequest(t, db, req.ID)
	if got.State != domain.DownloadStateAvailable {
		t.Errorf("state = %s, want revived to available", got.State)
	}
	if n := countRequests(t, db); n != 1 {
		t.Errorf("requests = %d, want the one revived row", n)
	}
}

func TestDownloadHandler_LeavesFailedRequestsAlone(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	h := &DownloadHandler{DB: db}

	_, _, track := seedLineage(t, db, "Slint", "Spiderland", "Good Morning, Captain")
	req := seedRequest(t, db, track.ID, 100, time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC))
	now := time.Date(2025, 2, 2, 0, 0, 0, 0, time.UTC)
	if err := db.MarkRequestQueued(ctx, req.ID, "ref-1", now); err != nil {
		t.Fatalf("MarkRequestQueued failed: %v", err)
	}
	if err := db.MarkRequestFailed(ctx, req.ID, "peer gone", now); err != nil {
		t.Fatalf("MarkRequestFailed failed: %v", err)
	}

	job := payloadJob(t, domain.JobKindDownload, domain.DownloadPayload{EntityID: track.ID})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if got := getRequest(t, db, req.ID); got.State != domain.DownloadStateFailed {
		t.Errorf("state = %s, failed rows only move through an explicit retry", got.State)
	}
	if n := countRequests(t, db); n != 1 {
		t.Errorf("requests = %d, want no duplicate admission", n)
	}
}

func TestDownloadHandler_MissingEntityIsTerminal(t *testing.T) {
	db := setupTestStore(t)
	h := &DownloadHandler{DB: db}

	job := payloadJob(t, domain.JobKindDownload, domain.DownloadPayload{EntityID: "ghost"})
	err := h.Handle(context.Background(), job, testLogger())
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if !terminalError(err) {
		t.Error("a missing entity should not be retried")
	}
}

func TestScanHandler_MarksLostFilesAndReadmits(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	h := &ScanHandler{DB: db}

	_, album, track := seedLineage(t, db, "Talk Talk", "Laughing Stock", "After the Flood")
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	if err := db.MarkEntityComplete(ctx, track.ID, true, now); err != nil {
		t.Fatalf("MarkEntityComplete failed: %v", err)
	}
	if _, err := db.RecomputeAlbumComplete(ctx, album.ID, now); err != nil {
		t.Fatalf("RecomputeAlbumComplete failed: %v", err)
	}

	path := filepath.Join(t.TempDir(), "after-the-flood.flac")
	content := []byte("audio-bytes")
	if err := os.WriteFile(path, content, 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	req := &domain.DownloadRequest{
		ID:        uuid.NewString(),
		TrackID:   track.ID,
		State:     domain.DownloadStateLocal,
		Priority:  100,
		FilePath:  path,
		FileSize:  int64(len(content)),
		FileHash:  "irrelevant-here",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertDownloadRequest(ctx, req); err != nil {
		t.Fatalf("InsertDownloadRequest failed: %v", err)
	}

	// Intact file: nothing changes.
	job := payloadJob(t, domain.JobKindScan, domain.ScanPayload{})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if n := countRequests(t, db); n != 1 {
		t.Fatalf("requests = %d, want 1 while the file is intact", n)
	}

	// File vanishes between scans.
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove file: %v", err)
	}
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	gotTrack, err := db.GetEntity(ctx, track.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if gotTrack.Complete {
		t.Error("track should be incomplete after its file vanished")
	}
	gotAlbum, err := db.GetEntity(ctx, album.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if gotAlbum.Complete {
		t.Error("album completeness should have been recomputed")
	}

	live, err := db.GetLiveRequestByTrack(ctx, track.ID)
	if err != nil {
		t.Fatalf("GetLiveRequestByTrack failed: %v", err)
	}
	if live == nil || live.State != domain.DownloadStateAvailable {
		t.Fatalf("live request = %+v, want a fresh available admission", live)
	}
	if old := getRequest(t, db, req.ID); old.State != domain.DownloadStateLocal {
		t.Errorf("old row state = %s, the history row stays local", old.State)
	}
}

func TestScanHandler_SizeMismatchCountsAsLost(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	h := &ScanHandler{DB: db}

	_, _, track := seedLineage(t, db, "Artist", "Album", "Track")
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	path := filepath.Join(t.TempDir(), "track.flac")
	if err := os.WriteFile(path, []byte("full-length-content"), 0644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	req := &domain.DownloadRequest{
		ID:        uuid.NewString(),
		TrackID:   track.ID,
		State:     domain.DownloadStateLocal,
		Priority:  100,
		FilePath:  path,
		FileSize:  int64(len("full-length-content")),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertDownloadRequest(ctx, req); err != nil {
		t.Fatalf("InsertDownloadRequest failed: %v", err)
	}

	// Truncate the file in place.
	if err := os.WriteFile(path, []byte("cut"), 0644); err != nil {
		t.Fatalf("truncate file: %v", err)
	}

	job := payloadJob(t, domain.JobKindScan, domain.ScanPayload{})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	live, err := db.GetLiveRequestByTrack(ctx, track.ID)
	if err != nil {
		t.Fatalf("GetLiveRequestByTrack failed: %v", err)
	}
	if live == nil {
		t.Fatal("truncated file should have been readmitted")
	}
}

func TestScanHandler_PathPrefixFilter(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	h := &ScanHandler{DB: db}

	_, _, track := seedLineage(t, db, "Artist", "Album", "Track")
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	req := &domain.DownloadRequest{
		ID:        uuid.NewString(),
		TrackID:   track.ID,
		State:     domain.DownloadStateLocal,
		Priority:  100,
		FilePath:  "/library/a/track.flac", // does not exist on disk
		FileSize:  10,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.InsertDownloadRequest(ctx, req); err != nil {
		t.Fatalf("InsertDownloadRequest failed: %v", err)
	}

	// A scan scoped elsewhere never looks at the row.
	job := payloadJob(t, domain.JobKindScan, domain.ScanPayload{Path: "/library/b"})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if live, _ := db.GetLiveRequestByTrack(ctx, track.ID); live != nil {
		t.Error("out-of-scope row should not have been touched")
	}
}

func TestCleanupHandler_PrunesOldRows(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()
	h := &CleanupHandler{DB: db}

	now := time.Now().UTC()
	old := now.Add(-8 * 24 * time.Hour)
	fresh := now.Add(-time.Hour)

	insertJob := func(id string, status domain.JobStatus, ts time.Time) {
		t.Helper()
		err := db.InsertJob(ctx, &domain.Job{
			ID: id, Kind: domain.JobKindScan, Payload: "{}", Status: status,
			Priority: 100, MaxAttempts: 3, CreatedAt: ts, UpdatedAt: ts,
		})
		if err != nil {
			t.Fatalf("InsertJob failed: %v", err)
		}
	}
	insertJob("old-done", domain.JobStatusSucceeded, old)
	insertJob("old-pending", domain.JobStatusPending, old)
	insertJob("fresh-done", domain.JobStatusSucceeded, fresh)

	cand := &domain.MergeCandidate{
		ID: uuid.NewString(), Kind: domain.EntityKindTrack, Record: "{}",
		RecordKey: "k1", Score: 0.5, Reason: "low score",
		Status: domain.CandidateStatusPending, CreatedAt: old,
	}
	if err := db.InsertMergeCandidate(ctx, cand); err != nil {
		t.Fatalf("InsertMergeCandidate failed: %v", err)
	}
	if err := db.ResolveMergeCandidate(ctx, cand.ID, domain.CandidateStatusDismissed, old); err != nil {
		t.Fatalf("ResolveMergeCandidate failed: %v", err)
	}

	if err := db.SetCache(ctx, "stale-key", []byte("x"), time.Hour, old); err != nil {
		t.Fatalf("SetCache failed: %v", err)
	}

	job := payloadJob(t, domain.JobKindCleanup, domain.CleanupPayload{JobRetentionDays: 7})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	if _, err := db.GetJob(ctx, "old-done"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("old finished job error = %v, want pruned", err)
	}
	if _, err := db.GetJob(ctx, "old-pending"); err != nil {
		t.Errorf("pending job should survive cleanup: %v", err)
	}
	if _, err := db.GetJob(ctx, "fresh-done"); err != nil {
		t.Errorf("fresh finished job should survive: %v", err)
	}
	if _, err := db.GetMergeCandidate(ctx, cand.ID); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("resolved candidate error = %v, want pruned", err)
	}
	if data, err := db.GetCache(ctx, "stale-key", now); err != nil || data != nil {
		t.Errorf("cache = %v/%v, want expired row gone", data, err)
	}
}

func TestImageFetchHandler_SavesArtwork(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()

	art := []byte{0xFF, 0xD8, 0xFF, 0xE0, 'j', 'p', 'e', 'g'}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(art)
	}))
	defer srv.Close()

	album := testEntity(domain.EntityKindAlbum, "Maggot Brain")
	album.ImageURL = srv.URL + "/maggot-brain.jpg"
	if err := db.InsertEntity(ctx, album); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}

	h := &ImageFetchHandler{DB: db, Client: httpclient.NewClient(nil, 0, 1), ImageDir: t.TempDir()}
	job := payloadJob(t, domain.JobKindImageFetch, domain.ImageFetchPayload{EntityID: album.ID})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	got, err := db.GetEntity(ctx, album.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	want := filepath.Join(h.ImageDir, album.ID+".jpg")
	if got.ImagePath != want {
		t.Errorf("image_path = %q, want %q", got.ImagePath, want)
	}
	data, err := os.ReadFile(want)
	if err != nil {
		t.Fatalf("read artwork: %v", err)
	}
	if string(data) != string(art) {
		t.Error("artwork bytes do not match the upstream response")
	}
}

func TestImageFetchHandler_MissingArtworkIsTerminal(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	album := testEntity(domain.EntityKindAlbum, "Lost Cover")
	album.ImageURL = srv.URL + "/gone.jpg"
	if err := db.InsertEntity(ctx, album); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}

	h := &ImageFetchHandler{DB: db, Client: httpclient.NewClient(nil, 0, 1), ImageDir: t.TempDir()}
	job := payloadJob(t, domain.JobKindImageFetch, domain.ImageFetchPayload{EntityID: album.ID})
	err := h.Handle(ctx, job, testLogger())
	if !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if !terminalError(err) {
		t.Error("missing artwork should not be retried")
	}
}

func TestImageFetchHandler_ExistingArtworkIsNoOp(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()

	album := testEntity(domain.EntityKindAlbum, "Already Done")
	album.ImageURL = "http://127.0.0.1:1/unreachable.jpg"
	if err := db.InsertEntity(ctx, album); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	if err := db.SetEntityImagePath(ctx, album.ID, "/artwork/done.jpg", time.Now().UTC()); err != nil {
		t.Fatalf("SetEntityImagePath failed: %v", err)
	}

	h := &ImageFetchHandler{DB: db, Client: httpclient.NewClient(nil, 0, 1), ImageDir: t.TempDir()}
	job := payloadJob(t, domain.JobKindImageFetch, domain.ImageFetchPayload{EntityID: album.ID})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Errorf("Handle should not refetch existing artwork: %v", err)
	}
}

type stubSyncer struct {
	source string
	kind   domain.EntityKind
	err    error
}

func (s *stubSyncer) SyncSource(ctx context.Context, source string, kind domain.EntityKind) error {
	s.source, s.kind = source, kind
	return s.err
}

func TestSyncHandler_DelegatesToSyncer(t *testing.T) {
	db := setupTestStore(t)
	syncer := &stubSyncer{}
	h := &SyncHandler{DB: db, Sync: syncer}

	job := payloadJob(t, domain.JobKindProviderSync, domain.SyncPayload{Source: "hifi", Kind: "artist"})
	if err := h.Handle(context.Background(), job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}
	if syncer.source != "hifi" || syncer.kind != domain.EntityKindArtist {
		t.Errorf("delegated %s/%s, want hifi/artist", syncer.source, syncer.kind)
	}
}

func TestSyncHandler_RejectsEmptySource(t *testing.T) {
	db := setupTestStore(t)
	h := &SyncHandler{DB: db, Sync: &stubSyncer{}}

	job := payloadJob(t, domain.JobKindProviderSync, domain.SyncPayload{})
	err := h.Handle(context.Background(), job, testLogger())
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("error = %v, want ErrBadPayload", err)
	}
}

func TestEnrichHandler_FoldsRecordBack(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()

	src := catalog.NewMockSource("hifi")
	mgr := catalog.NewManager(testLogger())
	mgr.Register(src)
	h := &EnrichHandler{DB: db, Sources: mgr, Dedup: dedup.New(db, 0.85, true, testLogger())}

	artist := testEntity(domain.EntityKindArtist, "Alice Coltrane")
	artist.ExternalIDs = domain.IDMap{"hifi": "artist-77"}
	if err := db.InsertEntity(ctx, artist); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}
	src.Records["artist-77"] = &domain.Record{
		Kind:       domain.EntityKindArtist,
		Source:     "hifi",
		ExternalID: "artist-77",
		Name:       "Alice Coltrane",
		MBID:       "mbid-alice",
		Genre:      "Spiritual Jazz",
	}

	job := payloadJob(t, domain.JobKindEnrich, domain.EnrichPayload{EntityID: artist.ID})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Fatalf("Handle failed: %v", err)
	}

	got, err := db.GetEntity(ctx, artist.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.MBID != "mbid-alice" || got.Genre != "Spiritual Jazz" {
		t.Errorf("entity = %q/%q, want the fetched identifiers folded in", got.MBID, got.Genre)
	}
}

func TestEnrichHandler_RecordGoneUpstreamIsAbsorbed(t *testing.T) {
	db := setupTestStore(t)
	ctx := context.Background()

	src := catalog.NewMockSource("hifi")
	mgr := catalog.NewManager(testLogger())
	mgr.Register(src)
	h := &EnrichHandler{DB: db, Sources: mgr, Dedup: dedup.New(db, 0.85, true, testLogger())}

	artist := testEntity(domain.EntityKindArtist, "Ghost Artist")
	artist.ExternalIDs = domain.IDMap{"hifi": "gone-1"}
	if err := db.InsertEntity(ctx, artist); err != nil {
		t.Fatalf("InsertEntity failed: %v", err)
	}

	job := payloadJob(t, domain.JobKindEnrich, domain.EnrichPayload{EntityID: artist.ID})
	if err := h.Handle(ctx, job, testLogger()); err != nil {
		t.Errorf("a record gone upstream should not fail the job: %v", err)
	}
}
