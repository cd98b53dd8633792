package dto

import (
	"testing"
	"time"

	"soulspot/internal/domain"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{Field: "kind", Message: "required"}
	if err.Error() != "kind: required" {
		t.Errorf("Error() = %q, want %q", err.Error(), "kind: required")
	}
}

func TestValidationError_ToMap(t *testing.T) {
	err := ValidationError{Field: "kind", Message: "required"}
	m := err.ToMap()
	if m["kind"] != "required" {
		t.Errorf("ToMap() = %v, want {kind: required}", m)
	}
}

func TestToMap(t *testing.T) {
	errs := []ValidationError{
		{Field: "kind", Message: "required"},
		{Field: "priority", Message: "must be between 1 and 1000"},
	}
	m := ToMap(errs)
	if len(m) != 2 {
		t.Errorf("ToMap() returned %d items, want 2", len(m))
	}
	if m["kind"] != "required" {
		t.Errorf("ToMap()[kind] = %q, want %q", m["kind"], "required")
	}
	if m["priority"] != "must be between 1 and 1000" {
		t.Errorf("ToMap()[priority] = %q, want %q", m["priority"], "must be between 1 and 1000")
	}
}

func TestToResponse(t *testing.T) {
	errs := []ValidationError{
		{Field: "kind", Message: "required"},
		{Field: "priority", Message: "invalid"},
	}
	resp := ToResponse(errs)
	expected := "kind: required; priority: invalid"
	if resp != expected {
		t.Errorf("ToResponse() = %q, want %q", resp, expected)
	}
}

func TestValidatePriority(t *testing.T) {
	tests := []struct {
		priority *int
		name     string
		wantErrs int
	}{
		{nil, "nil priority", 0},
		{intPtr(1), "valid 1", 0},
		{intPtr(100), "valid 100", 0},
		{intPtr(1000), "valid 1000", 0},
		{intPtr(0), "invalid - zero", 1},
		{intPtr(-10), "invalid - negative", 1},
		{intPtr(1001), "invalid - too high", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validatePriority(tt.priority)
			if len(errs) != tt.wantErrs {
				t.Errorf("validatePriority() returned %d errors, want %d", len(errs), tt.wantErrs)
			}
		})
	}
}

func TestValidateRetentionDays(t *testing.T) {
	tests := []struct {
		days     *int
		name     string
		wantErrs int
	}{
		{nil, "nil days", 0},
		{intPtr(1), "valid 1", 0},
		{intPtr(30), "valid 30", 0},
		{intPtr(365), "valid 365", 0},
		{intPtr(0), "invalid - zero", 1},
		{intPtr(-7), "invalid - negative", 1},
		{intPtr(366), "invalid - too long", 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateRetentionDays(tt.days)
			if len(errs) != tt.wantErrs {
				t.Errorf("validateRetentionDays() returned %d errors, want %d", len(errs), tt.wantErrs)
			}
		})
	}
}

func TestValidateEntityKind(t *testing.T) {
	tests := []struct {
		name     string
		kind     string
		optional bool
		wantErrs int
	}{
		{"empty optional", "", true, 0},
		{"empty required", "", false, 1},
		{"valid artist", "artist", false, 0},
		{"valid album", "album", false, 0},
		{"valid track", "track", true, 0},
		{"invalid - playlist", "playlist", true, 1},
		{"invalid - uppercase", "Artist", false, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := validateEntityKind(tt.kind, tt.optional)
			if len(errs) != tt.wantErrs {
				t.Errorf("validateEntityKind() returned %d errors, want %d", len(errs), tt.wantErrs)
			}
		})
	}
}

func TestEnqueueJobRequest_Validate(t *testing.T) {
	tests := []struct { //nolint:govet // test struct, fieldalignment not critical
		wantErrs int
		req      EnqueueJobRequest
		name     string
	}{
		{
			wantErrs: 1,
			req:      EnqueueJobRequest{},
			name:     "empty request",
		},
		{
			wantErrs: 0,
			req:      EnqueueJobRequest{Kind: "scan"},
			name:     "scan without path",
		},
		{
			wantErrs: 0,
			req:      EnqueueJobRequest{Kind: "provider_sync", Source: "hifi", EntityKind: "artist"},
			name:     "valid sync",
		},
		{
			wantErrs: 1,
			req:      EnqueueJobRequest{Kind: "provider_sync"},
			name:     "sync without source",
		},
		{
			wantErrs: 2,
			req:      EnqueueJobRequest{Kind: "provider_sync", EntityKind: "playlist"},
			name:     "sync without source and bad kind",
		},
		{
			wantErrs: 1,
			req:      EnqueueJobRequest{Kind: "enrich"},
			name:     "enrich without entity",
		},
		{
			wantErrs: 0,
			req:      EnqueueJobRequest{Kind: "download", EntityID: "e1"},
			name:     "valid download",
		},
		{
			wantErrs: 1,
			req:      EnqueueJobRequest{Kind: "image_fetch"},
			name:     "image fetch without entity",
		},
		{
			wantErrs: 0,
			req:      EnqueueJobRequest{Kind: "cleanup"},
			name:     "cleanup with default retention",
		},
		{
			wantErrs: 1,
			req:      EnqueueJobRequest{Kind: "cleanup", RetentionDays: intPtr(400)},
			name:     "cleanup retention too long",
		},
		{
			wantErrs: 1,
			req:      EnqueueJobRequest{Kind: "transcode"},
			name:     "unknown kind",
		},
		{
			wantErrs: 1,
			req:      EnqueueJobRequest{Kind: "scan", Priority: intPtr(0)},
			name:     "reserved priority",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := tt.req.Validate()
			if len(errs) != tt.wantErrs {
				t.Errorf("Validate() returned %d errors, want %d: %v", len(errs), tt.wantErrs, errs)
			}
		})
	}
}

func TestNewJobResponse(t *testing.T) {
	now := parseTime("2026-06-15T10:30:00Z")
	errMsg := "source unreachable"
	job := &domain.Job{
		ID:          "job_123",
		Kind:        domain.JobKindProviderSync,
		Payload:     `{"source":"hifi"}`,
		Status:      domain.JobStatusFailed,
		Priority:    100,
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   &errMsg,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	resp := NewJobResponse(job)

	if resp.ID != "job_123" {
		t.Errorf("ID = %q, want %q", resp.ID, "job_123")
	}
	if resp.Kind != "provider_sync" {
		t.Errorf("Kind = %q, want %q", resp.Kind, "provider_sync")
	}
	if resp.Status != "failed" {
		t.Errorf("Status = %q, want %q", resp.Status, "failed")
	}
	if string(resp.Payload) != `{"source":"hifi"}` {
		t.Errorf("Payload = %s, want source payload", resp.Payload)
	}
	if resp.Error != "source unreachable" {
		t.Errorf("Error = %q, want %q", resp.Error, "source unreachable")
	}
	if resp.NotBefore != "" {
		t.Errorf("NotBefore = %q, want empty string", resp.NotBefore)
	}
	if resp.CreatedAt != "2026-06-15T10:30:00Z" {
		t.Errorf("CreatedAt = %q, want RFC3339", resp.CreatedAt)
	}
}

func TestNewJobResponse_NilError(t *testing.T) {
	now := parseTime("2026-06-15T10:30:00Z")
	job := &domain.Job{
		ID:        "job_123",
		Kind:      domain.JobKindScan,
		Status:    domain.JobStatusSucceeded,
		CreatedAt: now,
		UpdatedAt: now,
	}

	resp := NewJobResponse(job)

	if resp.Error != "" {
		t.Errorf("Error = %q, want empty string", resp.Error)
	}
	if len(resp.Payload) != 0 {
		t.Errorf("Payload = %s, want empty", resp.Payload)
	}
}

func TestNewDownloadResponse(t *testing.T) {
	now := parseTime("2026-06-15T10:30:00Z")
	next := parseTime("2026-06-15T11:00:00Z")
	ref := "transfer-42"
	errMsg := "daemon timeout"
	req := &domain.DownloadRequest{
		ID:            "dl_1",
		TrackID:       "track_1",
		State:         domain.DownloadStateFailed,
		Priority:      100,
		ExternalRef:   &ref,
		RetryCount:    2,
		LastError:     &errMsg,
		NextAttemptAt: &next,
		FilePath:      "library/a/b.flac",
		FileSize:      1024,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	resp := NewDownloadResponse(req)

	if resp.ID != "dl_1" {
		t.Errorf("ID = %q, want %q", resp.ID, "dl_1")
	}
	if resp.State != "failed" {
		t.Errorf("State = %q, want %q", resp.State, "failed")
	}
	if resp.ExternalRef != "transfer-42" {
		t.Errorf("ExternalRef = %q, want %q", resp.ExternalRef, "transfer-42")
	}
	if resp.Error != "daemon timeout" {
		t.Errorf("Error = %q, want %q", resp.Error, "daemon timeout")
	}
	if resp.NextAttemptAt != "2026-06-15T11:00:00Z" {
		t.Errorf("NextAttemptAt = %q, want RFC3339", resp.NextAttemptAt)
	}
	if resp.FileSize != 1024 {
		t.Errorf("FileSize = %d, want 1024", resp.FileSize)
	}
}

func intPtr(i int) *int {
	return &i
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
