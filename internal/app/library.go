package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"soulspot/internal/constants"
	"soulspot/internal/dedup"
	"soulspot/internal/domain"
	"soulspot/internal/logger"
	"soulspot/internal/store"
)

const defaultLimit = constants.DefaultListLimit

// LibraryService curates the merged library: browse and search, soft
// removal, merge-candidate resolution and the explicit failed-download
// retry.
type LibraryService struct {
	Repo   *store.DB
	Dedup  *dedup.Deduper
	Logger *logger.Logger
	now    func() time.Time
}

func NewLibraryService(repo *store.DB, dd *dedup.Deduper, log *logger.Logger) *LibraryService {
	return &LibraryService{
		Repo:   repo,
		Dedup:  dd,
		Logger: log.WithComponent("library"),
		now:    time.Now,
	}
}

func (s *LibraryService) ListEntities(ctx context.Context, kind domain.EntityKind, limit, offset int) ([]*domain.LibraryEntity, error) {
	if !validEntityKind(kind) {
		return nil, fmt.Errorf("unknown entity kind: %s", kind)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.Repo.ListEntities(ctx, kind, limit, offset)
}

func (s *LibraryService) SearchEntities(ctx context.Context, kind domain.EntityKind, query string, limit int) ([]*domain.LibraryEntity, error) {
	if !validEntityKind(kind) {
		return nil, fmt.Errorf("unknown entity kind: %s", kind)
	}
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.Repo.SearchEntities(ctx, kind, query, limit)
}

func (s *LibraryService) GetEntity(ctx context.Context, id string) (*domain.LibraryEntity, error) {
	return s.Repo.GetEntity(ctx, id)
}

// RemoveEntity soft-removes an entity and everything under it: an album
// takes its tracks, an artist takes albums and tracks. Waiting download
// requests of removed tracks are parked so the feed stops submitting them;
// in-flight transfers ride out and finish against the archived rows.
func (s *LibraryService) RemoveEntity(ctx context.Context, kind domain.EntityKind, id string) (int, error) {
	var removed int
	err := s.Repo.RunInTx(ctx, func(tx *store.DB) error {
		entity, err := tx.GetEntity(ctx, id)
		if err != nil {
			return err
		}
		if kind != "" && entity.Kind != kind {
			return fmt.Errorf("%w: %s is a %s, not a %s", store.ErrNotFound, id, entity.Kind, kind)
		}
		if entity.Removed() {
			return nil
		}
		removed, err = s.removeTree(ctx, tx, entity)
		return err
	})
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		s.Logger.Info("Removed from library", "entity_id", id, "kind", kind, "entities", removed)
	}
	return removed, nil
}

func (s *LibraryService) removeTree(ctx context.Context, tx *store.DB, entity *domain.LibraryEntity) (int, error) {
	count := 0
	children, err := tx.ListEntitiesByParent(ctx, entity.ID)
	if err != nil {
		return count, err
	}
	for _, child := range children {
		n, err := s.removeTree(ctx, tx, child)
		count += n
		if err != nil {
			return count, err
		}
	}

	now := s.now().UTC()
	if entity.Kind == domain.EntityKindTrack {
		if err := parkLiveRequest(ctx, tx, entity.ID, now); err != nil {
			return count, err
		}
	}
	if err := tx.SoftRemoveEntity(ctx, entity.ID, now); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return count, nil
		}
		return count, err
	}
	return count + 1, nil
}

// parkLiveRequest moves a removed track's waiting request out of the feed's
// reach. Requests already handed to the daemon are left to the reconciler.
func parkLiveRequest(ctx context.Context, tx *store.DB, trackID string, now time.Time) error {
	req, err := tx.GetLiveRequestByTrack(ctx, trackID)
	if err != nil || req == nil {
		return err
	}
	waiting := req.State == domain.DownloadStateAvailable ||
		(req.State == domain.DownloadStateQueued && req.ExternalRef == nil)
	if !waiting {
		return nil
	}
	return tx.SetRequestAvailability(ctx, req.ID, false, now)
}

func (s *LibraryService) ListCandidates(ctx context.Context, status domain.CandidateStatus, limit int) ([]*domain.MergeCandidate, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.Repo.ListMergeCandidates(ctx, status, limit)
}

// ConfirmCandidate applies a parked merge. entityID may override the
// candidate's suggested target; empty keeps the suggestion.
func (s *LibraryService) ConfirmCandidate(ctx context.Context, candidateID, entityID string) (*domain.LibraryEntity, error) {
	return s.Dedup.Confirm(ctx, candidateID, entityID)
}

// DismissCandidate resolves a parked match as not-a-duplicate; the record
// becomes its own entity.
func (s *LibraryService) DismissCandidate(ctx context.Context, candidateID string) (*domain.LibraryEntity, error) {
	return s.Dedup.Dismiss(ctx, candidateID)
}

func (s *LibraryService) ListDownloads(ctx context.Context, state domain.DownloadState, limit int) ([]*domain.DownloadRequest, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	return s.Repo.ListDownloadRequests(ctx, state, limit)
}

// RetryDownload is the one path a failed download request takes back into
// the pipeline. Anything not failed is rejected.
func (s *LibraryService) RetryDownload(ctx context.Context, requestID string) (*domain.DownloadRequest, error) {
	req, err := s.Repo.GetDownloadRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if err := s.Repo.RetryFailedRequest(ctx, requestID, s.now().UTC()); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return nil, fmt.Errorf("%w: request is %s, only failed requests can be retried", store.ErrConflict, req.State)
		}
		return nil, err
	}
	s.Logger.Info("Download retried", "request_id", requestID, "track_id", req.TrackID)
	return s.Repo.GetDownloadRequest(ctx, requestID)
}

func (s *LibraryService) DownloadStats(ctx context.Context) (*domain.DownloadStats, error) {
	return s.Repo.CountDownloadStats(ctx)
}

// LibraryCounts summarizes library size for the stats endpoint.
type LibraryCounts struct {
	Artists int `json:"artists"`
	Albums  int `json:"albums"`
	Tracks  int `json:"tracks"`
}

func (s *LibraryService) EntityCounts(ctx context.Context) (*LibraryCounts, error) {
	counts := &LibraryCounts{}
	var err error
	if counts.Artists, err = s.Repo.CountEntities(ctx, domain.EntityKindArtist); err != nil {
		return nil, err
	}
	if counts.Albums, err = s.Repo.CountEntities(ctx, domain.EntityKindAlbum); err != nil {
		return nil, err
	}
	if counts.Tracks, err = s.Repo.CountEntities(ctx, domain.EntityKindTrack); err != nil {
		return nil, err
	}
	return counts, nil
}
