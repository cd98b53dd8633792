package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"soulspot/internal/domain"
)

// GetTaskState returns the persisted row for a scheduled task, or nil when
// the task never ran and was never toggled.
func (db *DB) GetTaskState(ctx context.Context, name string) (*domain.TaskState, error) {
	st := &domain.TaskState{}
	err := db.GetContext(ctx, st, `
		SELECT name, last_run, enabled, updated_at FROM scheduled_task_state WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (db *DB) ListTaskStates(ctx context.Context) ([]*domain.TaskState, error) {
	var states []*domain.TaskState
	err := db.SelectContext(ctx, &states, `
		SELECT name, last_run, enabled, updated_at FROM scheduled_task_state ORDER BY name ASC`)
	return states, err
}

// SetTaskLastRun records a completed run. The completion time, not the start
// time, anchors the next interval.
func (db *DB) SetTaskLastRun(ctx context.Context, name string, completedAt time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO scheduled_task_state (name, last_run, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET last_run = excluded.last_run, updated_at = excluded.updated_at`,
		name, completedAt, completedAt)
	return err
}

func (db *DB) SetTaskEnabled(ctx context.Context, name string, enabled bool, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO scheduled_task_state (name, enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at`,
		name, enabled, now)
	return err
}
