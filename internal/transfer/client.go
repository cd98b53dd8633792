// Package transfer drives the external download daemon. The daemon owns
// the actual file transfers; this package only submits work, polls status
// and cancels. Completion side effects stay with the caller.
package transfer

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownRef is returned when the daemon no longer knows a transfer.
// Callers treat it as an orphaned handoff and requeue the request.
var ErrUnknownRef = errors.New("unknown transfer ref")

type State string

const (
	StateQueued   State = "queued"
	StateActive   State = "active"
	StateComplete State = "complete"
	StateError    State = "error"
)

// Status is a point-in-time view of one transfer.
type Status struct {
	Ref      string  `json:"ref"`
	State    State   `json:"state"`
	Progress float64 `json:"progress"`
	Path     string  `json:"path,omitempty"`
	Size     int64   `json:"size,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Query describes what to search for and fetch.
type Query struct {
	Artist   string `json:"artist"`
	Album    string `json:"album"`
	Title    string `json:"title"`
	Duration int    `json:"duration,omitempty"`
}

func (q Query) String() string {
	return fmt.Sprintf("%s - %s - %s", q.Artist, q.Album, q.Title)
}

type Client interface {
	Submit(ctx context.Context, q Query) (string, error)
	Status(ctx context.Context, ref string) (*Status, error)
	Cancel(ctx context.Context, ref string) error
	ListActive(ctx context.Context) ([]string, error)
}

// DaemonError reports a non-2xx daemon response.
type DaemonError struct {
	Code   int
	Status string
}

func (e *DaemonError) Error() string {
	return fmt.Sprintf("transfer daemon request failed: %s", e.Status)
}

// IsTransient classifies a daemon error for retry and breaker purposes.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnknownRef) || errors.Is(err, context.Canceled) {
		return false
	}
	var de *DaemonError
	if errors.As(err, &de) {
		return de.Code >= 500 || de.Code == 429
	}
	return true
}
