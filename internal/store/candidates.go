package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"soulspot/internal/domain"
)

const candidateColumns = `id, kind, entity_id, record, record_key, score, reason, status, created_at, resolved_at`

// InsertMergeCandidate parks an ambiguous match. Re-parking the same record
// while a pending candidate exists is a no-op.
func (db *DB) InsertMergeCandidate(ctx context.Context, c *domain.MergeCandidate) error {
	query := `INSERT OR IGNORE INTO merge_candidates (id, kind, entity_id, record, record_key, score,
			reason, status, created_at)
		VALUES (:id, :kind, :entity_id, :record, :record_key, :score, :reason, :status, :created_at)`

	_, err := db.NamedExecContext(ctx, query, c)
	return err
}

func (db *DB) GetMergeCandidate(ctx context.Context, id string) (*domain.MergeCandidate, error) {
	c := &domain.MergeCandidate{}
	err := db.GetContext(ctx, c, `SELECT `+candidateColumns+` FROM merge_candidates WHERE id = ?`, id)
	if err != nil {
		return nil, scanErr(err)
	}
	return c, nil
}

func (db *DB) ListMergeCandidates(ctx context.Context, status domain.CandidateStatus, limit int) ([]*domain.MergeCandidate, error) {
	query := `SELECT ` + candidateColumns + ` FROM merge_candidates WHERE 1=1`
	var args []interface{}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at ASC LIMIT ?`
	args = append(args, limit)

	var candidates []*domain.MergeCandidate
	err := db.SelectContext(ctx, &candidates, query, args...)
	return candidates, err
}

// GetPendingCandidateByKey finds the open candidate for a record, if any.
func (db *DB) GetPendingCandidateByKey(ctx context.Context, recordKey string) (*domain.MergeCandidate, error) {
	c := &domain.MergeCandidate{}
	err := db.GetContext(ctx, c, `
		SELECT `+candidateColumns+` FROM merge_candidates
		WHERE record_key = ? AND status = 'pending'
		LIMIT 1`, recordKey)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ResolveMergeCandidate closes a pending candidate one way or the other.
func (db *DB) ResolveMergeCandidate(ctx context.Context, id string, status domain.CandidateStatus, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE merge_candidates SET status = ?, resolved_at = ?
		WHERE id = ? AND status = 'pending'`, status, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// DeleteResolvedCandidatesBefore prunes closed candidates older than cutoff.
func (db *DB) DeleteResolvedCandidatesBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM merge_candidates
		WHERE status IN ('confirmed', 'dismissed') AND resolved_at IS NOT NULL AND resolved_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
