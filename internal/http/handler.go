// Package httpapp serves the JSON operator API. Handlers stay thin: decode,
// validate, call a service, map the error onto a status code.
package httpapp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"soulspot/internal/app"
	"soulspot/internal/catalog"
	"soulspot/internal/dedup"
	"soulspot/internal/http/dto"
	"soulspot/internal/logger"
	"soulspot/internal/queue"
	"soulspot/internal/scheduler"
	"soulspot/internal/store"
	"soulspot/internal/supervisor"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	Jobs       *app.JobService
	Library    *app.LibraryService
	Scheduler  *scheduler.Scheduler
	Supervisor *supervisor.Supervisor
	Logger     *logger.Logger
}

func NewHandler(jobs *app.JobService, library *app.LibraryService, sched *scheduler.Scheduler, sup *supervisor.Supervisor, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Default()
	}
	return &Handler{
		Jobs:       jobs,
		Library:    library,
		Scheduler:  sched,
		Supervisor: sup,
		Logger:     log.WithComponent("http"),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/jobs", h.EnqueueJob)
	r.Get("/api/jobs", h.ListJobs)
	r.Get("/api/jobs/{id}", h.GetJob)
	r.Post("/api/jobs/{id}/cancel", h.CancelJob)
	r.Post("/api/jobs/{id}/retry", h.RetryJob)

	r.Get("/api/tasks", h.ListTasks)
	r.Post("/api/tasks/{name}/run", h.RunTask)
	r.Get("/api/workers", h.ListWorkers)

	r.Get("/api/downloads", h.ListDownloads)
	r.Post("/api/downloads/{id}/retry", h.RetryDownload)

	r.Get("/api/candidates", h.ListCandidates)
	r.Post("/api/candidates/{id}/confirm", h.ConfirmCandidate)
	r.Post("/api/candidates/{id}/dismiss", h.DismissCandidate)

	r.Get("/api/library/{kind}", h.ListLibrary)
	r.Get("/api/library/{kind}/{id}", h.GetLibraryEntity)
	r.Delete("/api/library/{kind}/{id}", h.RemoveLibraryEntity)

	r.Get("/api/stats", h.Stats)
}

func (h *Handler) respond(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Logger.Error("Failed to encode response", "error", err)
	}
}

// respondError maps service errors onto statuses: missing resources to 404,
// state-machine rejections to 409, bad input to 400, the rest to 500.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, scheduler.ErrUnknownTask):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrConflict),
		errors.Is(err, queue.ErrInvalidTransition),
		errors.Is(err, dedup.ErrNotPending),
		errors.Is(err, scheduler.ErrTaskBusy):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrUnknownSource),
		errors.Is(err, dedup.ErrNoTarget),
		errors.Is(err, dedup.ErrInvalidRecord):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.Logger.Error("Request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	h.respond(w, status, dto.ErrorResponse{Error: err.Error()})
}

func (h *Handler) respondValidation(w http.ResponseWriter, errs []dto.ValidationError) {
	h.respond(w, http.StatusBadRequest, dto.ErrorResponse{
		Error:  dto.ToResponse(errs),
		Fields: dto.ToMap(errs),
	})
}

// decode unmarshals a JSON body into v. An empty body is not an error; the
// request struct's zero value stands in.
func decode(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
