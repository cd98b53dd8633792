// Package catalog talks to upstream metadata providers and yields
// normalized records for the library. Sources are registered from the
// deployment profile and consumed page by page during sync.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"soulspot/internal/domain"
)

// ErrNotFound is returned when the upstream has no record for an ID.
var ErrNotFound = errors.New("record not found")

// Page is one chunk of a source's listing. An empty NextCursor means the
// listing is exhausted.
type Page struct {
	Records    []domain.Record
	NextCursor string
}

type Source interface {
	Name() string
	// FetchEntities lists records of one kind, resuming from cursor.
	// The cursor is opaque to callers and persisted between sync runs.
	FetchEntities(ctx context.Context, kind domain.EntityKind, cursor string) (*Page, error)
	GetRecord(ctx context.Context, kind domain.EntityKind, externalID string) (*domain.Record, error)
	Search(ctx context.Context, kind domain.EntityKind, query string) ([]domain.Record, error)
}

// StatusError reports a non-2xx upstream response.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("API request failed: %s", e.Status)
}

// IsTransient classifies a source error for retry and breaker purposes.
// Server-side and transport failures are worth retrying; client errors and
// missing records are not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	return true
}
