package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"soulspot/internal/catalog"
	"soulspot/internal/constants"
	"soulspot/internal/dedup"
	"soulspot/internal/domain"
	"soulspot/internal/httpclient"
	"soulspot/internal/logger"
	"soulspot/internal/storage"
	"soulspot/internal/store"

	"github.com/google/uuid"
)

// CatalogSyncer pulls one source's catalog into the library. Implemented by
// the app sync service.
type CatalogSyncer interface {
	SyncSource(ctx context.Context, source string, kind domain.EntityKind) error
}

// cancelled reports whether the job was cancelled by the operator. Long
// handlers poll this at safe checkpoints.
func cancelled(ctx context.Context, db *store.DB, jobID string) bool {
	job, err := db.GetJob(ctx, jobID)
	return err == nil && job.Status == domain.JobStatusCancelled
}

// SyncHandler runs a provider_sync job for one registered source.
type SyncHandler struct {
	DB   *store.DB
	Sync CatalogSyncer
}

func (h *SyncHandler) Handle(ctx context.Context, job *domain.Job, log *logger.Logger) error {
	var p domain.SyncPayload
	if err := decodePayload(job, &p); err != nil {
		return err
	}
	if p.Source == "" {
		return fmt.Errorf("%w: sync payload has no source", ErrBadPayload)
	}

	// Cancellation lands as a derived context cancel so the sync engine can
	// stop between pages; the cursor it persisted resumes the next run.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go watchCancellation(runCtx, h.DB, job.ID, cancel)

	err := h.Sync.SyncSource(runCtx, p.Source, domain.EntityKind(p.Kind))
	if errors.Is(err, context.Canceled) && cancelled(ctx, h.DB, job.ID) {
		log.Info("Sync cancelled", "source", p.Source)
		return nil
	}
	return err
}

func watchCancellation(ctx context.Context, db *store.DB, jobID string, cancel context.CancelFunc) {
	ticker := time.NewTicker(constants.DefaultPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if cancelled(ctx, db, jobID) {
				cancel()
				return
			}
		}
	}
}

// DownloadHandler admits download requests for one entity. Artists expand to
// their albums' tracks, albums to their tracks.
type DownloadHandler struct {
	DB *store.DB
}

func (h *DownloadHandler) Handle(ctx context.Context, job *domain.Job, log *logger.Logger) error {
	var p domain.DownloadPayload
	if err := decodePayload(job, &p); err != nil {
		return err
	}
	if p.EntityID == "" {
		return fmt.Errorf("%w: download payload has no entity id", ErrBadPayload)
	}

	entity, err := h.DB.GetEntity(ctx, p.EntityID)
	if err != nil {
		return fmt.Errorf("%w: entity %s", catalog.ErrNotFound, p.EntityID)
	}

	priority := p.Priority
	if priority == 0 {
		priority = constants.DefaultJobPriority
	}

	tracks, err := h.expand(ctx, entity)
	if err != nil {
		return err
	}

	admitted := 0
	for i, track := range tracks {
		if i%50 == 0 && cancelled(ctx, h.DB, job.ID) {
			log.Info("Download admission cancelled", "admitted", admitted)
			return nil
		}
		ok, err := h.admit(ctx, track, priority)
		if err != nil {
			log.Warn("Failed to admit track", "track_id", track.ID, "error", err)
			continue
		}
		if ok {
			admitted++
		}
	}

	log.Info("Download admission finished",
		"entity_id", entity.ID, "kind", entity.Kind, "tracks", len(tracks), "admitted", admitted)
	return nil
}

func (h *DownloadHandler) expand(ctx context.Context, entity *domain.LibraryEntity) ([]*domain.LibraryEntity, error) {
	switch entity.Kind {
	case domain.EntityKindTrack:
		return []*domain.LibraryEntity{entity}, nil

	case domain.EntityKindAlbum:
		return h.DB.ListEntitiesByParent(ctx, entity.ID)

	case domain.EntityKindArtist:
		albums, err := h.DB.ListEntitiesByParent(ctx, entity.ID)
		if err != nil {
			return nil, err
		}
		var tracks []*domain.LibraryEntity
		for _, album := range albums {
			ts, err := h.DB.ListEntitiesByParent(ctx, album.ID)
			if err != nil {
				return nil, err
			}
			tracks = append(tracks, ts...)
		}
		return tracks, nil

	default:
		return nil, fmt.Errorf("%w: cannot download entity kind %s", ErrBadPayload, entity.Kind)
	}
}

// admit creates or revives the track's download request. Tracks already
// local, already in flight, or parked in failed are left alone; failed rows
// only move again through an explicit operator retry.
func (h *DownloadHandler) admit(ctx context.Context, track *domain.LibraryEntity, priority int) (bool, error) {
	if track.Kind != domain.EntityKindTrack || track.Complete || track.Removed() {
		return false, nil
	}

	live, err := h.DB.GetLiveRequestByTrack(ctx, track.ID)
	if err != nil {
		return false, err
	}
	now := time.Now().UTC()
	if live != nil {
		if live.State == domain.DownloadStateNotFound {
			if err := h.DB.SetRequestAvailability(ctx, live.ID, true, now); err != nil {
				return false, err
			}
			return true, nil
		}
		return false, nil
	}

	req := &domain.DownloadRequest{
		ID:        uuid.NewString(),
		TrackID:   track.ID,
		State:     domain.DownloadStateAvailable,
		Priority:  priority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.DB.InsertDownloadRequest(ctx, req); err != nil {
		return false, err
	}
	return true, nil
}

// EnrichHandler re-fetches an entity's records from every source that knows
// it and folds them back through the deduplicator.
type EnrichHandler struct {
	DB      *store.DB
	Sources *catalog.Manager
	Dedup   *dedup.Deduper
}

func (h *EnrichHandler) Handle(ctx context.Context, job *domain.Job, log *logger.Logger) error {
	var p domain.EnrichPayload
	if err := decodePayload(job, &p); err != nil {
		return err
	}
	if p.EntityID == "" {
		return fmt.Errorf("%w: enrich payload has no entity id", ErrBadPayload)
	}

	entity, err := h.DB.GetEntity(ctx, p.EntityID)
	if err != nil {
		return fmt.Errorf("%w: entity %s", catalog.ErrNotFound, p.EntityID)
	}
	if len(entity.ExternalIDs) == 0 {
		log.Info("Entity has no provider identifiers, nothing to enrich", "entity_id", entity.ID)
		return nil
	}

	enriched := 0
	var lastErr error
	for sourceName, externalID := range entity.ExternalIDs {
		src, err := h.Sources.Get(sourceName)
		if err != nil {
			log.Warn("Source no longer registered", "source", sourceName)
			continue
		}

		rec, err := src.GetRecord(ctx, entity.Kind, externalID)
		if err != nil {
			if errors.Is(err, catalog.ErrNotFound) {
				log.Warn("Record gone upstream", "source", sourceName, "external_id", externalID)
			} else {
				log.Warn("Failed to fetch record", "source", sourceName, "error", err)
				lastErr = err
			}
			continue
		}

		if _, outcome, err := h.Dedup.Apply(ctx, *rec); err != nil {
			lastErr = err
			log.Warn("Failed to apply record", "source", sourceName, "error", err)
		} else {
			log.Info("Entity enriched", "source", sourceName, "outcome", string(outcome))
			enriched++
		}
	}

	if enriched == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// ScanHandler verifies that files recorded as local are still on disk and
// intact. A vanished or altered file flips the track back to missing and
// admits a fresh request; the old row stays as history.
type ScanHandler struct {
	DB *store.DB
}

func (h *ScanHandler) Handle(ctx context.Context, job *domain.Job, log *logger.Logger) error {
	var p domain.ScanPayload
	if err := decodePayload(job, &p); err != nil {
		return err
	}

	reqs, err := h.DB.ListDownloadRequests(ctx, domain.DownloadStateLocal, -1)
	if err != nil {
		return fmt.Errorf("list local requests: %w", err)
	}

	checked, lost := 0, 0
	for i, req := range reqs {
		if i%100 == 0 && cancelled(ctx, h.DB, job.ID) {
			log.Info("Scan cancelled", "checked", checked)
			return nil
		}
		if p.Path != "" && !strings.HasPrefix(req.FilePath, p.Path) {
			continue
		}
		checked++
		if h.intact(req) {
			continue
		}
		lost++
		if err := h.markLost(ctx, req, log); err != nil {
			log.Warn("Failed to record lost file", "request_id", req.ID, "error", err)
		}
	}

	log.Info("Scan finished", "checked", checked, "lost", lost)
	return nil
}

func (h *ScanHandler) intact(req *domain.DownloadRequest) bool {
	info, err := os.Stat(req.FilePath)
	if err != nil {
		return false
	}
	// Size comparison catches truncation without re-hashing the library
	// on every sweep.
	return req.FileSize == 0 || info.Size() == req.FileSize
}

func (h *ScanHandler) markLost(ctx context.Context, req *domain.DownloadRequest, log *logger.Logger) error {
	now := time.Now().UTC()
	log.Warn("Local file missing or altered", "track_id", req.TrackID, "path", req.FilePath)

	if err := h.DB.MarkEntityComplete(ctx, req.TrackID, false, now); err != nil {
		return err
	}
	track, err := h.DB.GetEntity(ctx, req.TrackID)
	if err == nil && track.ParentID != nil {
		if _, err := h.DB.RecomputeAlbumComplete(ctx, *track.ParentID, now); err != nil {
			log.Warn("Failed to recompute album completeness", "album_id", *track.ParentID, "error", err)
		}
	}

	live, err := h.DB.GetLiveRequestByTrack(ctx, req.TrackID)
	if err != nil || live != nil {
		return err
	}
	return h.DB.InsertDownloadRequest(ctx, &domain.DownloadRequest{
		ID:        uuid.NewString(),
		TrackID:   req.TrackID,
		State:     domain.DownloadStateAvailable,
		Priority:  req.Priority,
		CreatedAt: now,
		UpdatedAt: now,
	})
}

// CleanupHandler prunes finished jobs, resolved candidates and expired cache
// rows past the retention window.
type CleanupHandler struct {
	DB *store.DB
}

func (h *CleanupHandler) Handle(ctx context.Context, job *domain.Job, log *logger.Logger) error {
	var p domain.CleanupPayload
	if err := decodePayload(job, &p); err != nil {
		return err
	}

	retention := time.Duration(p.JobRetentionDays) * 24 * time.Hour
	if retention <= 0 {
		retention = constants.DefaultJobRetention
	}

	now := time.Now().UTC()
	cutoff := now.Add(-retention)

	jobs, err := h.DB.DeleteFinishedJobsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune jobs: %w", err)
	}
	candidates, err := h.DB.DeleteResolvedCandidatesBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune candidates: %w", err)
	}
	cache, err := h.DB.PruneCache(ctx, now)
	if err != nil {
		return fmt.Errorf("prune cache: %w", err)
	}

	log.Info("Cleanup finished", "jobs", jobs, "candidates", candidates, "cache", cache)
	return nil
}

// ImageFetchHandler downloads an entity's artwork into the image directory.
type ImageFetchHandler struct {
	DB       *store.DB
	Client   *httpclient.Client
	ImageDir string
}

func (h *ImageFetchHandler) Handle(ctx context.Context, job *domain.Job, log *logger.Logger) error {
	var p domain.ImageFetchPayload
	if err := decodePayload(job, &p); err != nil {
		return err
	}
	if p.EntityID == "" {
		return fmt.Errorf("%w: image payload has no entity id", ErrBadPayload)
	}

	entity, err := h.DB.GetEntity(ctx, p.EntityID)
	if err != nil {
		return fmt.Errorf("%w: entity %s", catalog.ErrNotFound, p.EntityID)
	}
	if entity.ImagePath != "" {
		return nil
	}
	if entity.ImageURL == "" {
		log.Info("Entity has no artwork URL", "entity_id", entity.ID)
		return nil
	}

	data, err := h.fetch(ctx, entity.ImageURL)
	if err != nil {
		return err
	}

	path := filepath.Join(h.ImageDir, entity.ID+constants.ExtJPG)
	if err := storage.WriteFile(path, data); err != nil {
		return fmt.Errorf("write artwork: %w", err)
	}
	if err := h.DB.SetEntityImagePath(ctx, entity.ID, path, time.Now().UTC()); err != nil {
		return fmt.Errorf("record artwork path: %w", err)
	}

	log.Info("Artwork saved", "entity_id", entity.ID, "path", path, "bytes", len(data))
	return nil
}

func (h *ImageFetchHandler) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: bad artwork url: %v", ErrBadPayload, err)
	}
	resp, err := h.Client.Do(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch artwork: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return nil, fmt.Errorf("%w: artwork at %s", catalog.ErrNotFound, url)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch artwork: unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read artwork: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("fetch artwork: empty response")
	}
	// Some hosts answer 200 with an HTML error page; never save that as art.
	if mime := http.DetectContentType(data); !strings.HasPrefix(mime, "image/") {
		return nil, fmt.Errorf("fetch artwork: got %s, not an image", mime)
	}
	return data, nil
}
