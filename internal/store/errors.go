package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned when a guarded update matched no row, meaning
	// the row's state changed underneath the caller.
	ErrConflict = errors.New("conflicting state")
	// ErrBusy marks storage contention that a retry is expected to clear.
	ErrBusy = errors.New("database busy")
)

// IsTransient classifies storage errors worth retrying. The sqlite driver
// reports contention as SQLITE_BUSY / SQLITE_LOCKED in the message text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBusy) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "busy") || strings.Contains(msg, "locked")
}

// IsUniqueViolation reports whether err came from a UNIQUE index rejecting a
// write, which callers use to fall back to the row that won the race.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// scanErr maps the driver's missing-row error onto ErrNotFound.
func scanErr(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}
