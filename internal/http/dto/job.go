package dto

import (
	"encoding/json"
	"fmt"
	"time"

	"soulspot/internal/domain"
)

const timeFormat = "2006-01-02T15:04:05Z07:00"

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeFormat)
}

// EnqueueJobRequest is the body of POST /api/jobs. Kind selects the job;
// the other fields matter only for the kinds that read them.
type EnqueueJobRequest struct {
	Kind          string `json:"kind"`
	Source        string `json:"source,omitempty"`
	EntityKind    string `json:"entity_kind,omitempty"`
	Path          string `json:"path,omitempty"`
	EntityID      string `json:"entity_id,omitempty"`
	Priority      *int   `json:"priority,omitempty"`
	RetentionDays *int   `json:"retention_days,omitempty"`
}

func (r *EnqueueJobRequest) Validate() []ValidationError {
	var errs []ValidationError

	switch domain.JobKind(r.Kind) {
	case domain.JobKindProviderSync:
		if r.Source == "" {
			errs = append(errs, ValidationError{Field: "source", Message: "required for provider_sync jobs"})
		}
		errs = append(errs, validateEntityKind(r.EntityKind, true)...)
	case domain.JobKindScan:
		// Path is an optional prefix filter; empty scans the whole library.
	case domain.JobKindEnrich, domain.JobKindDownload, domain.JobKindImageFetch:
		if r.EntityID == "" {
			errs = append(errs, ValidationError{Field: "entity_id", Message: fmt.Sprintf("required for %s jobs", r.Kind)})
		}
	case domain.JobKindCleanup:
		errs = append(errs, validateRetentionDays(r.RetentionDays)...)
	case "":
		errs = append(errs, ValidationError{Field: "kind", Message: "required"})
	default:
		errs = append(errs, ValidationError{Field: "kind", Message: "must be one of scan, provider_sync, enrich, download, image_fetch, cleanup"})
	}

	errs = append(errs, validatePriority(r.Priority)...)
	return errs
}

type JobResponse struct {
	ID          string          `json:"id"`
	Kind        string          `json:"kind"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Error       string          `json:"error,omitempty"`
	NotBefore   string          `json:"not_before,omitempty"`
	CreatedAt   string          `json:"created_at"`
	UpdatedAt   string          `json:"updated_at"`
}

func NewJobResponse(j *domain.Job) JobResponse {
	resp := JobResponse{
		ID:          j.ID,
		Kind:        string(j.Kind),
		Status:      string(j.Status),
		Priority:    j.Priority,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		NotBefore:   formatTimePtr(j.NotBefore),
		CreatedAt:   j.CreatedAt.Format(timeFormat),
		UpdatedAt:   j.UpdatedAt.Format(timeFormat),
	}
	if j.Payload != "" {
		resp.Payload = json.RawMessage(j.Payload)
	}
	if j.LastError != nil {
		resp.Error = *j.LastError
	}
	return resp
}

func NewJobListResponse(jobs []*domain.Job) []JobResponse {
	resp := make([]JobResponse, 0, len(jobs))
	for _, j := range jobs {
		resp = append(resp, NewJobResponse(j))
	}
	return resp
}
