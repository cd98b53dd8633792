package dto

import "soulspot/internal/domain"

type EntityResponse struct {
	ID          string            `json:"id"`
	Kind        string            `json:"kind"`
	ParentID    string            `json:"parent_id,omitempty"`
	Name        string            `json:"name"`
	SortName    string            `json:"sort_name,omitempty"`
	Source      string            `json:"source"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	MBID        string            `json:"mbid,omitempty"`
	ISRC        string            `json:"isrc,omitempty"`
	UPC         string            `json:"upc,omitempty"`
	Year        int               `json:"year,omitempty"`
	Duration    int               `json:"duration,omitempty"`
	TrackNumber int               `json:"track_number,omitempty"`
	DiscNumber  int               `json:"disc_number,omitempty"`
	Genre       string            `json:"genre,omitempty"`
	ImageURL    string            `json:"image_url,omitempty"`
	ImagePath   string            `json:"image_path,omitempty"`
	Aliases     []string          `json:"aliases,omitempty"`
	Complete    bool              `json:"complete"`
	Removed     bool              `json:"removed"`
	RemovedAt   string            `json:"removed_at,omitempty"`
	CreatedAt   string            `json:"created_at"`
	UpdatedAt   string            `json:"updated_at"`
}

func NewEntityResponse(e *domain.LibraryEntity) EntityResponse {
	resp := EntityResponse{
		ID:          e.ID,
		Kind:        string(e.Kind),
		Name:        e.Name,
		SortName:    e.SortName,
		Source:      e.Source,
		ExternalIDs: e.ExternalIDs,
		MBID:        e.MBID,
		ISRC:        e.ISRC,
		UPC:         e.UPC,
		Year:        e.Year,
		Duration:    e.Duration,
		TrackNumber: e.TrackNumber,
		DiscNumber:  e.DiscNumber,
		Genre:       e.Genre,
		ImageURL:    e.ImageURL,
		ImagePath:   e.ImagePath,
		Aliases:     e.Aliases,
		Complete:    e.Complete,
		Removed:     e.Removed(),
		RemovedAt:   formatTimePtr(e.RemovedAt),
		CreatedAt:   e.CreatedAt.Format(timeFormat),
		UpdatedAt:   e.UpdatedAt.Format(timeFormat),
	}
	if e.ParentID != nil {
		resp.ParentID = *e.ParentID
	}
	return resp
}

func NewEntityListResponse(entities []*domain.LibraryEntity) []EntityResponse {
	resp := make([]EntityResponse, 0, len(entities))
	for _, e := range entities {
		resp = append(resp, NewEntityResponse(e))
	}
	return resp
}
