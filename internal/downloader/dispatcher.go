// Package downloader runs background jobs and bridges download requests to
// the external transfer daemon. The executor drains the job queue; the
// controller feeds the daemon and reconciles its progress back onto local
// request state.
package downloader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"soulspot/internal/catalog"
	"soulspot/internal/domain"
	"soulspot/internal/logger"
)

var (
	ErrUnknownJobKind = errors.New("unknown job kind")
	ErrBadPayload     = errors.New("malformed job payload")
)

type JobHandler interface {
	Handle(ctx context.Context, job *domain.Job, log *logger.Logger) error
}

type Dispatcher struct {
	handlers map[domain.JobKind]JobHandler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: make(map[domain.JobKind]JobHandler),
	}
}

func (d *Dispatcher) Register(kind domain.JobKind, handler JobHandler) {
	d.handlers[kind] = handler
}

func (d *Dispatcher) Dispatch(ctx context.Context, job *domain.Job, log *logger.Logger) error {
	handler, ok := d.handlers[job.Kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJobKind, job.Kind)
	}
	return handler.Handle(ctx, job, log)
}

func decodePayload(job *domain.Job, v interface{}) error {
	if err := json.Unmarshal([]byte(job.Payload), v); err != nil {
		return fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return nil
}

// terminalError reports handler failures another attempt cannot fix.
func terminalError(err error) bool {
	return errors.Is(err, ErrUnknownJobKind) ||
		errors.Is(err, ErrBadPayload) ||
		errors.Is(err, catalog.ErrNotFound)
}
