package httpapp

import (
	"fmt"
	"net/http"
	"strconv"

	"soulspot/internal/constants"
	"soulspot/internal/domain"
	"soulspot/internal/http/dto"
	"soulspot/internal/scheduler"
	"soulspot/internal/store"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) EnqueueJob(w http.ResponseWriter, r *http.Request) {
	var req dto.EnqueueJobRequest
	if err := decode(r, &req); err != nil {
		h.respond(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}
	if errs := req.Validate(); len(errs) > 0 {
		h.respondValidation(w, errs)
		return
	}

	priority := constants.DefaultJobPriority
	if req.Priority != nil {
		priority = *req.Priority
	}

	ctx := r.Context()
	var job *domain.Job
	var err error
	switch domain.JobKind(req.Kind) {
	case domain.JobKindProviderSync:
		job, err = h.Jobs.EnqueueSync(ctx, req.Source, domain.EntityKind(req.EntityKind))
	case domain.JobKindScan:
		job, err = h.Jobs.EnqueueScan(ctx, req.Path)
	case domain.JobKindEnrich:
		job, err = h.Jobs.EnqueueEnrich(ctx, req.EntityID)
	case domain.JobKindDownload:
		job, err = h.Jobs.EnqueueDownload(ctx, req.EntityID, priority)
	case domain.JobKindImageFetch:
		job, err = h.Jobs.EnqueueImageFetch(ctx, req.EntityID)
	case domain.JobKindCleanup:
		days := 0
		if req.RetentionDays != nil {
			days = *req.RetentionDays
		}
		job, err = h.Jobs.EnqueueCleanup(ctx, days)
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusAccepted, dto.NewJobResponse(job))
}

func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	status := domain.JobStatus(r.URL.Query().Get("status"))
	kind := domain.JobKind(r.URL.Query().Get("kind"))
	jobs, err := h.Jobs.ListJobs(r.Context(), status, kind, queryInt(r, "limit"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewJobListResponse(jobs))
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewJobResponse(job))
}

func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Jobs.CancelJob(r.Context(), id); err != nil {
		h.respondError(w, r, err)
		return
	}
	job, err := h.Jobs.GetJob(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewJobResponse(job))
}

func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	clone, err := h.Jobs.RetryJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusAccepted, dto.NewJobResponse(clone))
}

func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	infos, err := h.Scheduler.TaskStatus(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewTaskListResponse(infos))
}

// RunTask fires a task and waits for it. Long tasks hold the request open;
// a dropped connection cancels the run at the next transaction boundary.
func (h *Handler) RunTask(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.Scheduler.RunNow(r.Context(), name); err != nil {
		h.respondError(w, r, err)
		return
	}

	infos, err := h.Scheduler.TaskStatus(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	for _, info := range infos {
		if info.Name == name {
			h.respond(w, http.StatusOK, dto.NewTaskResponse(info))
			return
		}
	}
	h.respondError(w, r, fmt.Errorf("%w: %s", scheduler.ErrUnknownTask, name))
}

func (h *Handler) ListWorkers(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, dto.NewWorkerListResponse(h.Supervisor.Status()))
}

func (h *Handler) ListDownloads(w http.ResponseWriter, r *http.Request) {
	state := domain.DownloadState(r.URL.Query().Get("state"))
	reqs, err := h.Library.ListDownloads(r.Context(), state, queryInt(r, "limit"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewDownloadListResponse(reqs))
}

func (h *Handler) RetryDownload(w http.ResponseWriter, r *http.Request) {
	req, err := h.Library.RetryDownload(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewDownloadResponse(req))
}

func (h *Handler) ListCandidates(w http.ResponseWriter, r *http.Request) {
	status := domain.CandidateStatus(r.URL.Query().Get("status"))
	candidates, err := h.Library.ListCandidates(r.Context(), status, queryInt(r, "limit"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewCandidateListResponse(candidates))
}

func (h *Handler) ConfirmCandidate(w http.ResponseWriter, r *http.Request) {
	var req dto.ResolveCandidateRequest
	if err := decode(r, &req); err != nil {
		h.respond(w, http.StatusBadRequest, dto.ErrorResponse{Error: "invalid request body"})
		return
	}
	entity, err := h.Library.ConfirmCandidate(r.Context(), chi.URLParam(r, "id"), req.EntityID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewEntityResponse(entity))
}

func (h *Handler) DismissCandidate(w http.ResponseWriter, r *http.Request) {
	entity, err := h.Library.DismissCandidate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewEntityResponse(entity))
}

func (h *Handler) ListLibrary(w http.ResponseWriter, r *http.Request) {
	kind, ok := libraryKind(r)
	if !ok {
		h.respond(w, http.StatusNotFound, dto.ErrorResponse{Error: "unknown library kind: " + chi.URLParam(r, "kind")})
		return
	}

	var entities []*domain.LibraryEntity
	var err error
	if query := r.URL.Query().Get("q"); query != "" {
		entities, err = h.Library.SearchEntities(r.Context(), kind, query, queryInt(r, "limit"))
	} else {
		entities, err = h.Library.ListEntities(r.Context(), kind, queryInt(r, "limit"), queryInt(r, "offset"))
	}
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.NewEntityListResponse(entities))
}

func (h *Handler) GetLibraryEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := libraryKind(r)
	if !ok {
		h.respond(w, http.StatusNotFound, dto.ErrorResponse{Error: "unknown library kind: " + chi.URLParam(r, "kind")})
		return
	}
	id := chi.URLParam(r, "id")
	entity, err := h.Library.GetEntity(r.Context(), id)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if entity.Kind != kind {
		h.respondError(w, r, fmt.Errorf("%w: %s is a %s, not a %s", store.ErrNotFound, id, entity.Kind, kind))
		return
	}
	h.respond(w, http.StatusOK, dto.NewEntityResponse(entity))
}

func (h *Handler) RemoveLibraryEntity(w http.ResponseWriter, r *http.Request) {
	kind, ok := libraryKind(r)
	if !ok {
		h.respond(w, http.StatusNotFound, dto.ErrorResponse{Error: "unknown library kind: " + chi.URLParam(r, "kind")})
		return
	}
	removed, err := h.Library.RemoveEntity(r.Context(), kind, chi.URLParam(r, "id"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.RemoveResponse{Removed: removed})
}

func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	jobs, err := h.Jobs.JobStats(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	downloads, err := h.Library.DownloadStats(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	library, err := h.Library.EntityCounts(ctx)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, dto.StatsResponse{Jobs: jobs, Downloads: downloads, Library: library})
}

func libraryKind(r *http.Request) (domain.EntityKind, bool) {
	kind := domain.EntityKind(chi.URLParam(r, "kind"))
	switch kind {
	case domain.EntityKindArtist, domain.EntityKindAlbum, domain.EntityKindTrack:
		return kind, true
	}
	return "", false
}

func queryInt(r *http.Request, name string) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
