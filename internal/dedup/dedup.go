// Package dedup folds normalized source records into the library without
// creating duplicates. Records are matched through a cascade of identifiers
// and merged field by field; uncertain matches are parked as merge
// candidates for operator review instead of being applied.
package dedup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"soulspot/internal/domain"
	"soulspot/internal/logger"
	"soulspot/internal/store"

	"github.com/google/uuid"
)

var (
	ErrInvalidRecord = errors.New("record is missing name or external id")
	ErrNotPending    = errors.New("candidate is not pending")
	ErrNoTarget      = errors.New("ambiguous candidate needs an explicit target entity")
)

// Outcome reports what Apply did with a record.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeMerged    Outcome = "merged"
	OutcomeUnchanged Outcome = "unchanged"
	OutcomeDeferred  Outcome = "deferred"
)

// nearMissBand is how far below the threshold a fuzzy score may fall and
// still produce a candidate instead of a fresh entity.
const nearMissBand = 0.15

type Deduper struct {
	db        *store.DB
	logger    *logger.Logger
	threshold float64
	fuzzy     bool
	now       func() time.Time
}

func New(db *store.DB, threshold float64, fuzzy bool, log *logger.Logger) *Deduper {
	return &Deduper{
		db:        db,
		logger:    log.WithComponent("dedup"),
		threshold: threshold,
		fuzzy:     fuzzy,
		now:       time.Now,
	}
}

// Apply folds one record into the library inside a single transaction.
// The cascade tries industry identifiers first, then provider external IDs,
// then normalized name under the same parent. First hit wins.
func (d *Deduper) Apply(ctx context.Context, rec domain.Record) (*domain.LibraryEntity, Outcome, error) {
	if rec.Name == "" || rec.ExternalID == "" {
		return nil, "", ErrInvalidRecord
	}

	var (
		entity  *domain.LibraryEntity
		outcome Outcome
	)
	err := d.db.RunInTx(ctx, func(tx *store.DB) error {
		var err error
		entity, outcome, err = d.apply(ctx, tx, &rec)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	return entity, outcome, nil
}

func (d *Deduper) apply(ctx context.Context, tx *store.DB, rec *domain.Record) (*domain.LibraryEntity, Outcome, error) {
	now := d.now().UTC()

	match, err := findByIndustryID(ctx, tx, rec)
	if err != nil {
		return nil, "", err
	}

	if match == nil {
		match, err = tx.FindEntityByExternalID(ctx, rec.Kind, rec.Source, rec.ExternalID)
		if err != nil {
			return nil, "", err
		}
	}

	if match != nil {
		return d.merge(ctx, tx, match, rec, now)
	}

	parentID, err := d.resolveParent(ctx, tx, rec)
	if err != nil {
		return nil, "", err
	}

	normName := domain.NormalizeName(rec.Name)
	hits, err := tx.FindEntitiesByNormName(ctx, rec.Kind, normName, parentID)
	if err != nil {
		return nil, "", err
	}

	if len(hits) > 1 {
		return d.deferRecord(ctx, tx, rec, nil, 0, "multiple name matches", now)
	}
	if len(hits) == 1 {
		s := score(hits[0], rec)
		if s >= d.threshold {
			return d.merge(ctx, tx, hits[0], rec, now)
		}
		return d.deferRecord(ctx, tx, rec, &hits[0].ID, s, "below match threshold", now)
	}

	if d.fuzzy {
		best, bestScore, err := d.fuzzyScan(ctx, tx, rec, parentID)
		if err != nil {
			return nil, "", err
		}
		if best != nil {
			if bestScore >= d.threshold {
				return d.merge(ctx, tx, best, rec, now)
			}
			if bestScore >= d.threshold-nearMissBand {
				d.logger.Debug("Near miss",
					"kind", rec.Kind, "record", rec.Name, "entity", best.Name, "score", bestScore)
				return d.deferRecord(ctx, tx, rec, &best.ID, bestScore, "fuzzy near miss", now)
			}
		}
	}

	entity := newEntity(rec, parentID, now)
	if err := tx.InsertEntity(ctx, entity); err != nil {
		return nil, "", fmt.Errorf("insert entity: %w", err)
	}
	d.logger.Debug("Created entity", "kind", entity.Kind, "name", entity.Name, "source", rec.Source)
	return entity, OutcomeCreated, nil
}

// merge folds the record into an existing entity. Populated fields are
// never overwritten; a second contributing provider flips the source to
// hybrid.
func (d *Deduper) merge(ctx context.Context, tx *store.DB, entity *domain.LibraryEntity, rec *domain.Record, now time.Time) (*domain.LibraryEntity, Outcome, error) {
	changed := fillEntity(entity, rec)

	if entity.ExternalIDs == nil {
		entity.ExternalIDs = domain.IDMap{}
	}
	if entity.ExternalIDs[rec.Source] != rec.ExternalID {
		entity.ExternalIDs[rec.Source] = rec.ExternalID
		changed = true
	}

	if entity.Source != rec.Source && entity.Source != domain.SourceHybrid {
		entity.Source = domain.SourceHybrid
		changed = true
	}

	// a conflicting name stays first-seen; credible variants become aliases
	if rec.Name != entity.Name && !entity.Aliases.Contains(rec.Name) && recordRank(rec) >= entityRank(entity) {
		entity.Aliases = append(entity.Aliases, rec.Name)
		changed = true
	}

	if !changed {
		return entity, OutcomeUnchanged, nil
	}

	entity.UpdatedAt = now
	if err := tx.UpdateEntity(ctx, entity); err != nil {
		return nil, "", fmt.Errorf("update entity: %w", err)
	}
	d.logger.Debug("Merged record", "kind", entity.Kind, "name", entity.Name, "source", rec.Source)
	return entity, OutcomeMerged, nil
}

// deferRecord parks the record as a pending merge candidate. Repeated syncs
// of the same record land on the same candidate.
func (d *Deduper) deferRecord(ctx context.Context, tx *store.DB, rec *domain.Record, entityID *string, s float64, reason string, now time.Time) (*domain.LibraryEntity, Outcome, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, "", fmt.Errorf("marshal record: %w", err)
	}

	candidate := &domain.MergeCandidate{
		ID:        uuid.NewString(),
		Kind:      rec.Kind,
		EntityID:  entityID,
		Record:    string(raw),
		RecordKey: recordKey(rec),
		Score:     s,
		Reason:    reason,
		Status:    domain.CandidateStatusPending,
		CreatedAt: now,
	}
	if err := tx.InsertMergeCandidate(ctx, candidate); err != nil {
		return nil, "", fmt.Errorf("insert candidate: %w", err)
	}
	d.logger.Info("Deferred record for review",
		"kind", rec.Kind, "record", rec.Name, "score", s, "reason", reason)
	return nil, OutcomeDeferred, nil
}

// fuzzyScan scores the record against same-kind entities under the same
// parent and returns the best match.
func (d *Deduper) fuzzyScan(ctx context.Context, tx *store.DB, rec *domain.Record, parentID *string) (*domain.LibraryEntity, float64, error) {
	var (
		siblings []*domain.LibraryEntity
		err      error
	)
	if parentID != nil {
		siblings, err = tx.ListEntitiesByParent(ctx, *parentID)
	} else {
		siblings, err = tx.ListEntities(ctx, rec.Kind, 0, 0)
	}
	if err != nil {
		return nil, 0, err
	}

	var best *domain.LibraryEntity
	bestScore := 0.0
	for _, sibling := range siblings {
		if sibling.Kind != rec.Kind {
			continue
		}
		if s := score(sibling, rec); s > bestScore {
			best = sibling
			bestScore = s
		}
	}
	return best, bestScore, nil
}

// resolveParent finds the entity the record hangs under: the artist for an
// album record, the album for a track record. Lookup goes through the
// source's own IDs first, then an unambiguous name match.
func (d *Deduper) resolveParent(ctx context.Context, tx *store.DB, rec *domain.Record) (*string, error) {
	var (
		parentKind domain.EntityKind
		key        string
		name       string
	)
	switch rec.Kind {
	case domain.EntityKindAlbum:
		parentKind, key, name = domain.EntityKindArtist, rec.ArtistKey, rec.ArtistName
	case domain.EntityKindTrack:
		parentKind, key, name = domain.EntityKindAlbum, rec.AlbumKey, rec.AlbumName
	default:
		return nil, nil
	}

	if key != "" {
		parent, err := tx.FindEntityByExternalID(ctx, parentKind, rec.Source, key)
		if err != nil {
			return nil, err
		}
		if parent != nil {
			return &parent.ID, nil
		}
	}

	if name != "" {
		hits, err := tx.FindEntitiesByNormName(ctx, parentKind, domain.NormalizeName(name), nil)
		if err != nil {
			return nil, err
		}
		if len(hits) == 1 {
			return &hits[0].ID, nil
		}
	}

	return nil, nil
}

func findByIndustryID(ctx context.Context, tx *store.DB, rec *domain.Record) (*domain.LibraryEntity, error) {
	switch rec.Kind {
	case domain.EntityKindTrack:
		if rec.ISRC != "" {
			match, err := tx.FindEntityByISRC(ctx, rec.ISRC)
			if err != nil {
				return nil, err
			}
			if match != nil && match.Kind == rec.Kind {
				return match, nil
			}
		}
	case domain.EntityKindAlbum:
		if rec.UPC != "" {
			match, err := tx.FindEntityByUPC(ctx, rec.UPC)
			if err != nil {
				return nil, err
			}
			if match != nil && match.Kind == rec.Kind {
				return match, nil
			}
		}
	}

	if rec.MBID != "" {
		return tx.FindEntityByMBID(ctx, rec.Kind, rec.MBID)
	}
	return nil, nil
}

func recordKey(rec *domain.Record) string {
	return fmt.Sprintf("%s:%s:%s", rec.Source, rec.Kind, rec.ExternalID)
}
