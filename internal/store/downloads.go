package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"soulspot/internal/domain"
)

const requestColumns = `id, track_id, state, priority, external_ref, retry_count, last_error,
	next_attempt_at, file_path, file_size, file_hash, created_at, updated_at`

func (db *DB) InsertDownloadRequest(ctx context.Context, req *domain.DownloadRequest) error {
	query := `INSERT INTO download_requests (id, track_id, state, priority, external_ref, retry_count,
			last_error, next_attempt_at, file_path, file_size, file_hash, created_at, updated_at)
		VALUES (:id, :track_id, :state, :priority, :external_ref, :retry_count,
			:last_error, :next_attempt_at, :file_path, :file_size, :file_hash, :created_at, :updated_at)`

	_, err := db.NamedExecContext(ctx, query, req)
	return err
}

func (db *DB) GetDownloadRequest(ctx context.Context, id string) (*domain.DownloadRequest, error) {
	req := &domain.DownloadRequest{}
	err := db.GetContext(ctx, req, `SELECT `+requestColumns+` FROM download_requests WHERE id = ?`, id)
	if err != nil {
		return nil, scanErr(err)
	}
	return req, nil
}

// GetLiveRequestByTrack returns the track's current non-archived request, or
// nil when the track has none (or only finished history rows).
func (db *DB) GetLiveRequestByTrack(ctx context.Context, trackID string) (*domain.DownloadRequest, error) {
	req := &domain.DownloadRequest{}
	err := db.GetContext(ctx, req, `
		SELECT `+requestColumns+` FROM download_requests
		WHERE track_id = ? AND state != 'local'
		LIMIT 1`, trackID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return req, nil
}

func (db *DB) ListDownloadRequests(ctx context.Context, state domain.DownloadState, limit int) ([]*domain.DownloadRequest, error) {
	query := `SELECT ` + requestColumns + ` FROM download_requests WHERE 1=1`
	var args []interface{}
	if state != "" {
		query += ` AND state = ?`
		args = append(args, state)
	}
	query += ` ORDER BY priority ASC, created_at ASC LIMIT ?`
	args = append(args, limit)

	var reqs []*domain.DownloadRequest
	err := db.SelectContext(ctx, &reqs, query, args...)
	return reqs, err
}

// ListSubmittableRequests returns up to limit requests the feed may hand to
// the transfer daemon: available ones past their backoff, plus retried rows
// that were put back to queued without a submission yet.
func (db *DB) ListSubmittableRequests(ctx context.Context, now time.Time, limit int) ([]*domain.DownloadRequest, error) {
	var reqs []*domain.DownloadRequest
	err := db.SelectContext(ctx, &reqs, `
		SELECT `+requestColumns+` FROM download_requests
		WHERE (state = 'available' OR (state = 'queued' AND external_ref IS NULL))
		  AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
		ORDER BY priority ASC, created_at ASC
		LIMIT ?`, now, limit)
	return reqs, err
}

// ListInFlightRequests returns every request the daemon should know about.
func (db *DB) ListInFlightRequests(ctx context.Context) ([]*domain.DownloadRequest, error) {
	var reqs []*domain.DownloadRequest
	err := db.SelectContext(ctx, &reqs, `
		SELECT `+requestColumns+` FROM download_requests
		WHERE state IN ('queued', 'downloading') AND external_ref IS NOT NULL
		ORDER BY updated_at ASC`)
	return reqs, err
}

// ListStaleDownloading returns transfers that stopped reporting progress
// before cutoff, candidates for the orphan sweep.
func (db *DB) ListStaleDownloading(ctx context.Context, cutoff time.Time) ([]*domain.DownloadRequest, error) {
	var reqs []*domain.DownloadRequest
	err := db.SelectContext(ctx, &reqs, `
		SELECT `+requestColumns+` FROM download_requests
		WHERE state = 'downloading' AND updated_at < ?`, cutoff)
	return reqs, err
}

// MarkRequestQueued records a successful submission.
func (db *DB) MarkRequestQueued(ctx context.Context, id, externalRef string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE download_requests SET state = 'queued', external_ref = ?, next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND (state = 'available' OR (state = 'queued' AND external_ref IS NULL))`,
		externalRef, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// DeferRequest keeps a failed submission in line with a pushed-back attempt
// time; the failure stays on the record.
func (db *DB) DeferRequest(ctx context.Context, id, errMsg string, nextAttempt, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE download_requests SET retry_count = retry_count + 1, last_error = ?, next_attempt_at = ?, updated_at = ?
		WHERE id = ? AND state IN ('available', 'queued')`, errMsg, nextAttempt, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// MarkRequestDownloading flips a queued request once the daemon reports
// activity; on an already-downloading row it just refreshes updated_at so
// the stale sweep sees progress.
func (db *DB) MarkRequestDownloading(ctx context.Context, id string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE download_requests SET state = 'downloading', updated_at = ?
		WHERE id = ? AND state IN ('queued', 'downloading')`, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// MarkRequestLocal archives a verified completed transfer.
func (db *DB) MarkRequestLocal(ctx context.Context, id, filePath string, fileSize int64, fileHash string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE download_requests SET state = 'local', file_path = ?, file_size = ?, file_hash = ?,
			last_error = NULL, updated_at = ?
		WHERE id = ? AND state = 'downloading'`, filePath, fileSize, fileHash, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (db *DB) MarkRequestFailed(ctx context.Context, id, errMsg string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE download_requests SET state = 'failed', last_error = ?, updated_at = ?
		WHERE id = ? AND state IN ('queued', 'downloading')`, errMsg, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// RequeueRequest puts an abandoned transfer back in line for a fresh
// submission. Used by the orphan sweep.
func (db *DB) RequeueRequest(ctx context.Context, id string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE download_requests SET state = 'available', external_ref = NULL, updated_at = ?
		WHERE id = ? AND state IN ('queued', 'downloading')`, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// RetryFailedRequest honors an explicit operator retry: the request goes
// back to queued without an external reference and the feed resubmits it.
func (db *DB) RetryFailedRequest(ctx context.Context, id string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE download_requests SET state = 'queued', external_ref = NULL, next_attempt_at = NULL, updated_at = ?
		WHERE id = ? AND state = 'failed'`, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// SetRequestAvailability moves a request between not_found and available as
// the source's listing changes.
func (db *DB) SetRequestAvailability(ctx context.Context, id string, available bool, now time.Time) error {
	var res sql.Result
	var err error
	if available {
		res, err = db.ExecContext(ctx, `
			UPDATE download_requests SET state = 'available', updated_at = ?
			WHERE id = ? AND state = 'not_found'`, now, id)
	} else {
		res, err = db.ExecContext(ctx, `
			UPDATE download_requests SET state = 'not_found', updated_at = ?
			WHERE id = ? AND (state = 'available' OR (state = 'queued' AND external_ref IS NULL))`, now, id)
	}
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (db *DB) CountDownloadStats(ctx context.Context) (*domain.DownloadStats, error) {
	stats := &domain.DownloadStats{}
	err := db.GetContext(ctx, stats, `
		SELECT
			COALESCE(SUM(CASE WHEN state = 'not_found' THEN 1 ELSE 0 END), 0) AS not_found,
			COALESCE(SUM(CASE WHEN state = 'available' THEN 1 ELSE 0 END), 0) AS available,
			COALESCE(SUM(CASE WHEN state = 'queued' THEN 1 ELSE 0 END), 0) AS queued,
			COALESCE(SUM(CASE WHEN state = 'downloading' THEN 1 ELSE 0 END), 0) AS downloading,
			COALESCE(SUM(CASE WHEN state = 'local' THEN 1 ELSE 0 END), 0) AS local,
			COALESCE(SUM(CASE WHEN state = 'failed' THEN 1 ELSE 0 END), 0) AS failed
		FROM download_requests`)
	return stats, err
}
