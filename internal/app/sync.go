package app

import (
	"context"
	"fmt"
	"time"

	"soulspot/internal/catalog"
	"soulspot/internal/constants"
	"soulspot/internal/dedup"
	"soulspot/internal/domain"
	"soulspot/internal/logger"
	"soulspot/internal/retry"
	"soulspot/internal/store"

	"github.com/google/uuid"
)

// SyncService pulls a source's catalog into the library page by page. Every
// record goes through the deduplicator; tracks that end up in the library
// without a local file are admitted as download requests. The pagination
// cursor is persisted after each page, so a cancelled or crashed sync
// resumes where it stopped.
type SyncService struct {
	Repo    *store.DB
	Sources *catalog.Manager
	Dedup   *dedup.Deduper
	Breaker *retry.Breaker
	Logger  *logger.Logger
	now     func() time.Time
}

func NewSyncService(repo *store.DB, sources *catalog.Manager, dd *dedup.Deduper, breaker *retry.Breaker, log *logger.Logger) *SyncService {
	return &SyncService{
		Repo:    repo,
		Sources: sources,
		Dedup:   dd,
		Breaker: breaker,
		Logger:  log.WithComponent("sync"),
		now:     time.Now,
	}
}

// SyncSource syncs one source. An empty kind means a full pass in
// dependency order, artists before albums before tracks, so parents exist
// when their children arrive.
func (s *SyncService) SyncSource(ctx context.Context, source string, kind domain.EntityKind) error {
	src, err := s.Sources.Get(source)
	if err != nil {
		return err
	}

	kinds := []domain.EntityKind{domain.EntityKindArtist, domain.EntityKindAlbum, domain.EntityKindTrack}
	if kind != "" {
		if !validEntityKind(kind) {
			return fmt.Errorf("unknown entity kind: %s", kind)
		}
		kinds = []domain.EntityKind{kind}
	}

	for _, k := range kinds {
		if err := s.syncKind(ctx, src, k); err != nil {
			return fmt.Errorf("sync %s %s: %w", source, k, err)
		}
	}
	return nil
}

func (s *SyncService) syncKind(ctx context.Context, src catalog.Source, kind domain.EntityKind) error {
	log := s.Logger.WithSource(src.Name())
	cursorKey := store.SyncCursorKey(src.Name(), string(kind))
	cursor, err := s.Repo.GetSetting(ctx, cursorKey)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	if cursor != "" {
		log.Info("Resuming sync from saved cursor", "kind", kind, "cursor", cursor)
	}

	var pages, applied, deferred, skipped, admitted int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var page *catalog.Page
		err := s.Breaker.Call(constants.CircuitSourcePrefix+src.Name(), func() error {
			var fErr error
			page, fErr = src.FetchEntities(ctx, kind, cursor)
			return fErr
		})
		if err != nil {
			return fmt.Errorf("fetch page: %w", err)
		}
		pages++

		for i := range page.Records {
			rec := page.Records[i]
			entity, outcome, aErr := s.Dedup.Apply(ctx, rec)
			if aErr != nil {
				skipped++
				log.Warn("Skipping record", "kind", kind, "record", rec.Name, "error", aErr)
				continue
			}
			if outcome == dedup.OutcomeDeferred {
				deferred++
				continue
			}
			applied++

			if entity.Kind == domain.EntityKindTrack && !entity.Complete && !entity.Removed() {
				ok, admErr := s.admitTrack(ctx, entity)
				if admErr != nil {
					log.Warn("Failed to admit download request", "track_id", entity.ID, "error", admErr)
					continue
				}
				if ok {
					admitted++
				}
			}
		}

		if page.NextCursor == "" {
			if err := s.Repo.DeleteSetting(ctx, cursorKey); err != nil {
				return fmt.Errorf("clear cursor: %w", err)
			}
			break
		}
		if page.NextCursor == cursor {
			return fmt.Errorf("cursor %q did not advance", cursor)
		}
		cursor = page.NextCursor
		if err := s.Repo.SetSetting(ctx, cursorKey, cursor, s.now().UTC()); err != nil {
			return fmt.Errorf("save cursor: %w", err)
		}
	}

	log.Info("Sync pass finished", "kind", kind,
		"pages", pages, "applied", applied, "deferred", deferred, "skipped", skipped, "admitted", admitted)
	return nil
}

// admitTrack creates an available download request for a track that has no
// live one. Existing requests, whatever their state, are left alone.
func (s *SyncService) admitTrack(ctx context.Context, track *domain.LibraryEntity) (bool, error) {
	existing, err := s.Repo.GetLiveRequestByTrack(ctx, track.ID)
	if err != nil {
		return false, err
	}
	if existing != nil {
		return false, nil
	}

	now := s.now().UTC()
	req := &domain.DownloadRequest{
		ID:        uuid.NewString(),
		TrackID:   track.ID,
		State:     domain.DownloadStateAvailable,
		Priority:  constants.DefaultJobPriority,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.Repo.InsertDownloadRequest(ctx, req); err != nil {
		if store.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
