package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"soulspot/internal/domain"

	"github.com/jmoiron/sqlx"
)

const jobColumns = `id, kind, payload, fingerprint, status, priority, attempts, max_attempts,
	last_error, not_before, leased_by, lease_expires_at, created_at, updated_at`

func (db *DB) InsertJob(ctx context.Context, job *domain.Job) error {
	query := `INSERT INTO jobs (id, kind, payload, fingerprint, status, priority, attempts, max_attempts,
			last_error, not_before, created_at, updated_at)
		VALUES (:id, :kind, :payload, :fingerprint, :status, :priority, :attempts, :max_attempts,
			:last_error, :not_before, :created_at, :updated_at)`

	_, err := db.NamedExecContext(ctx, query, job)
	return err
}

func (db *DB) GetJob(ctx context.Context, id string) (*domain.Job, error) {
	job := &domain.Job{}
	err := db.GetContext(ctx, job, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	if err != nil {
		return nil, scanErr(err)
	}
	return job, nil
}

// LeaseNextJob atomically claims the most urgent eligible job: lowest
// priority value first, oldest first within a priority. The single UPDATE
// with a subselect means two workers can never claim the same row. Returns
// nil when nothing is eligible.
func (db *DB) LeaseNextJob(ctx context.Context, owner string, leaseUntil, now time.Time, kinds ...domain.JobKind) (*domain.Job, error) {
	query := `
		UPDATE jobs SET
			status = 'running',
			leased_by = ?,
			lease_expires_at = ?,
			updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status IN ('pending', 'retrying')
			  AND (not_before IS NULL OR not_before <= ?)`
	args := []interface{}{owner, leaseUntil, now, now}

	if len(kinds) > 0 {
		query += ` AND kind IN (?)`
		args = append(args, kinds)
	}
	query += `
			ORDER BY priority ASC, created_at ASC
			LIMIT 1
		)
		RETURNING ` + jobColumns

	query, flat, err := sqlx.In(query, args...)
	if err != nil {
		return nil, err
	}

	job := &domain.Job{}
	err = db.QueryRowxContext(ctx, query, flat...).StructScan(job)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (db *DB) CompleteJob(ctx context.Context, id string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs SET status = 'succeeded', last_error = NULL, leased_by = NULL,
			lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'running'`, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// FailJob records a terminal failure. The spent attempt is counted.
func (db *DB) FailJob(ctx context.Context, id, errMsg string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs SET status = 'failed', attempts = attempts + 1, last_error = ?,
			leased_by = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'running'`, errMsg, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// RetryJob hands the job back to the queue with a later eligibility time.
func (db *DB) RetryJob(ctx context.Context, id, errMsg string, notBefore, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs SET status = 'retrying', attempts = attempts + 1, last_error = ?,
			not_before = ?, leased_by = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status = 'running'`, errMsg, notBefore, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

func (db *DB) CancelJob(ctx context.Context, id string, now time.Time) error {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs SET status = 'cancelled', leased_by = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE id = ? AND status IN ('pending', 'retrying', 'running')`, now, id)
	if err != nil {
		return err
	}
	return oneRow(res)
}

// ReleaseExpiredJobLeases returns jobs whose worker went quiet back to the
// queue. Their next lease counts as a fresh attempt of the same budget.
func (db *DB) ReleaseExpiredJobLeases(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', leased_by = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE status = 'running' AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`, now, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// ResetRunningJobs requeues everything left running by a previous process.
// Called once at startup before any worker starts.
func (db *DB) ResetRunningJobs(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE jobs SET status = 'pending', leased_by = NULL, lease_expires_at = NULL, updated_at = ?
		WHERE status = 'running'`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) ListJobs(ctx context.Context, status domain.JobStatus, kind domain.JobKind, limit int) ([]*domain.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE 1=1`
	var args []interface{}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	if kind != "" {
		query += ` AND kind = ?`
		args = append(args, kind)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var jobs []*domain.Job
	err := db.SelectContext(ctx, &jobs, query, args...)
	return jobs, err
}

// GetActiveJobByFingerprint finds a pending, running or retrying job for the
// same logical work. Returns nil when none exists.
func (db *DB) GetActiveJobByFingerprint(ctx context.Context, kind domain.JobKind, fingerprint string) (*domain.Job, error) {
	job := &domain.Job{}
	err := db.GetContext(ctx, job, `
		SELECT `+jobColumns+` FROM jobs
		WHERE kind = ? AND fingerprint = ? AND status IN ('pending', 'running', 'retrying')
		LIMIT 1`, kind, fingerprint)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return job, nil
}

func (db *DB) CountJobStats(ctx context.Context) (*domain.JobStats, error) {
	stats := &domain.JobStats{}
	err := db.GetContext(ctx, stats, `
		SELECT
			COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0) AS pending,
			COALESCE(SUM(CASE WHEN status = 'running' THEN 1 ELSE 0 END), 0) AS running,
			COALESCE(SUM(CASE WHEN status = 'retrying' THEN 1 ELSE 0 END), 0) AS retrying,
			COALESCE(SUM(CASE WHEN status = 'succeeded' THEN 1 ELSE 0 END), 0) AS succeeded,
			COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0) AS failed,
			COALESCE(SUM(CASE WHEN status = 'cancelled' THEN 1 ELSE 0 END), 0) AS cancelled
		FROM jobs`)
	return stats, err
}

// DeleteFinishedJobsBefore prunes terminal jobs last touched before cutoff.
func (db *DB) DeleteFinishedJobsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN ('succeeded', 'failed', 'cancelled') AND updated_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func oneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
