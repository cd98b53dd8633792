package domain

// Job payloads. Each job kind owns one payload shape, serialized to JSON in
// the jobs table and decoded by the matching handler.

// SyncPayload drives a provider_sync job for one registered source.
type SyncPayload struct {
	Source string `json:"source"`
	Kind   string `json:"kind,omitempty"`
}

// ScanPayload drives a scan job. An empty path means the configured library
// root.
type ScanPayload struct {
	Path string `json:"path,omitempty"`
}

// EnrichPayload drives an enrich job for one library entity.
type EnrichPayload struct {
	EntityID string `json:"entity_id"`
}

// DownloadPayload drives a download job: admit download requests for one
// library entity, expanding albums and artists down to their tracks.
type DownloadPayload struct {
	EntityID string `json:"entity_id"`
	Priority int    `json:"priority,omitempty"`
}

// ImageFetchPayload drives an image_fetch job for one library entity.
type ImageFetchPayload struct {
	EntityID string `json:"entity_id"`
}

// CleanupPayload drives a cleanup job. Zero values fall back to configured
// retention defaults.
type CleanupPayload struct {
	JobRetentionDays int `json:"job_retention_days,omitempty"`
}
