package dto

import (
	"encoding/json"

	"soulspot/internal/domain"
)

// ResolveCandidateRequest is the optional body of a candidate confirm.
// EntityID overrides the candidate's suggested merge target.
type ResolveCandidateRequest struct {
	EntityID string `json:"entity_id"`
}

type CandidateResponse struct {
	ID         string          `json:"id"`
	Kind       string          `json:"kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	Record     json.RawMessage `json:"record"`
	Score      float64         `json:"score"`
	Reason     string          `json:"reason"`
	Status     string          `json:"status"`
	CreatedAt  string          `json:"created_at"`
	ResolvedAt string          `json:"resolved_at,omitempty"`
}

func NewCandidateResponse(c *domain.MergeCandidate) CandidateResponse {
	resp := CandidateResponse{
		ID:         c.ID,
		Kind:       string(c.Kind),
		Record:     json.RawMessage(c.Record),
		Score:      c.Score,
		Reason:     c.Reason,
		Status:     string(c.Status),
		CreatedAt:  c.CreatedAt.Format(timeFormat),
		ResolvedAt: formatTimePtr(c.ResolvedAt),
	}
	if c.EntityID != nil {
		resp.EntityID = *c.EntityID
	}
	return resp
}

func NewCandidateListResponse(candidates []*domain.MergeCandidate) []CandidateResponse {
	resp := make([]CandidateResponse, 0, len(candidates))
	for _, c := range candidates {
		resp = append(resp, NewCandidateResponse(c))
	}
	return resp
}
