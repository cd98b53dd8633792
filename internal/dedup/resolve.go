package dedup

import (
	"context"
	"fmt"

	"soulspot/internal/domain"
	"soulspot/internal/store"
)

// Confirm resolves a pending candidate by merging its record into the
// target entity. entityID overrides the candidate's recorded target; it is
// required when the candidate was ambiguous and recorded none.
func (d *Deduper) Confirm(ctx context.Context, candidateID, entityID string) (*domain.LibraryEntity, error) {
	var entity *domain.LibraryEntity
	err := d.db.RunInTx(ctx, func(tx *store.DB) error {
		candidate, err := tx.GetMergeCandidate(ctx, candidateID)
		if err != nil {
			return err
		}
		if candidate.Status != domain.CandidateStatusPending {
			return ErrNotPending
		}

		target := entityID
		if target == "" {
			if candidate.EntityID == nil {
				return ErrNoTarget
			}
			target = *candidate.EntityID
		}

		rec, err := candidate.DecodeRecord()
		if err != nil {
			return fmt.Errorf("decode candidate record: %w", err)
		}

		existing, err := tx.GetEntity(ctx, target)
		if err != nil {
			return err
		}

		now := d.now().UTC()
		merged, _, err := d.merge(ctx, tx, existing, &rec, now)
		if err != nil {
			return err
		}
		entity = merged

		return tx.ResolveMergeCandidate(ctx, candidateID, domain.CandidateStatusConfirmed, now)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("Candidate confirmed", "candidate_id", candidateID, "entity_id", entity.ID)
	return entity, nil
}

// Dismiss resolves a pending candidate as not-a-duplicate: the record
// becomes its own library entity.
func (d *Deduper) Dismiss(ctx context.Context, candidateID string) (*domain.LibraryEntity, error) {
	var entity *domain.LibraryEntity
	err := d.db.RunInTx(ctx, func(tx *store.DB) error {
		candidate, err := tx.GetMergeCandidate(ctx, candidateID)
		if err != nil {
			return err
		}
		if candidate.Status != domain.CandidateStatusPending {
			return ErrNotPending
		}

		rec, err := candidate.DecodeRecord()
		if err != nil {
			return fmt.Errorf("decode candidate record: %w", err)
		}

		parentID, err := d.resolveParent(ctx, tx, &rec)
		if err != nil {
			return err
		}

		now := d.now().UTC()
		entity = newEntity(&rec, parentID, now)
		if err := tx.InsertEntity(ctx, entity); err != nil {
			return fmt.Errorf("insert entity: %w", err)
		}

		return tx.ResolveMergeCandidate(ctx, candidateID, domain.CandidateStatusDismissed, now)
	})
	if err != nil {
		return nil, err
	}

	d.logger.Info("Candidate dismissed", "candidate_id", candidateID, "entity_id", entity.ID)
	return entity, nil
}
