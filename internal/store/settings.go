package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SettingSyncCursorPrefix namespaces per-source pagination cursors, stored so
// an interrupted sync resumes where it stopped.
const SettingSyncCursorPrefix = "sync_cursor:"

// SyncCursorKey builds the settings key for one source's pagination cursor.
func SyncCursorKey(source, kind string) string {
	return SettingSyncCursorPrefix + source + ":" + kind
}

// GetSetting returns the stored value, or "" when the key is absent.
func (db *DB) GetSetting(ctx context.Context, key string) (string, error) {
	var value string
	err := db.GetContext(ctx, &value, `SELECT value FROM settings WHERE key = ?`, key)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return value, err
}

func (db *DB) SetSetting(ctx context.Context, key, value string, now time.Time) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO settings (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

func (db *DB) DeleteSetting(ctx context.Context, key string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	return err
}
