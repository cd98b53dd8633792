package dto

import "soulspot/internal/domain"

type DownloadResponse struct {
	ID            string `json:"id"`
	TrackID       string `json:"track_id"`
	State         string `json:"state"`
	Priority      int    `json:"priority"`
	ExternalRef   string `json:"external_ref,omitempty"`
	RetryCount    int    `json:"retry_count"`
	Error         string `json:"error,omitempty"`
	NextAttemptAt string `json:"next_attempt_at,omitempty"`
	FilePath      string `json:"file_path,omitempty"`
	FileSize      int64  `json:"file_size,omitempty"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

func NewDownloadResponse(req *domain.DownloadRequest) DownloadResponse {
	resp := DownloadResponse{
		ID:            req.ID,
		TrackID:       req.TrackID,
		State:         string(req.State),
		Priority:      req.Priority,
		RetryCount:    req.RetryCount,
		NextAttemptAt: formatTimePtr(req.NextAttemptAt),
		FilePath:      req.FilePath,
		FileSize:      req.FileSize,
		CreatedAt:     req.CreatedAt.Format(timeFormat),
		UpdatedAt:     req.UpdatedAt.Format(timeFormat),
	}
	if req.ExternalRef != nil {
		resp.ExternalRef = *req.ExternalRef
	}
	if req.LastError != nil {
		resp.Error = *req.LastError
	}
	return resp
}

func NewDownloadListResponse(reqs []*domain.DownloadRequest) []DownloadResponse {
	resp := make([]DownloadResponse, 0, len(reqs))
	for _, req := range reqs {
		resp = append(resp, NewDownloadResponse(req))
	}
	return resp
}
