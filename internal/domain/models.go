package domain

import (
	"encoding/json"
	"time"
)

type JobKind string

const (
	JobKindScan         JobKind = "scan"
	JobKindProviderSync JobKind = "provider_sync"
	JobKindEnrich       JobKind = "enrich"
	JobKindDownload     JobKind = "download"
	JobKindCleanup      JobKind = "cleanup"
	JobKindImageFetch   JobKind = "image_fetch"
)

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusRetrying  JobStatus = "retrying"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// Job is a persisted unit of background work. Payload is opaque JSON
// interpreted by the handler registered for the job's kind. Fingerprint, when
// set, keeps a second active job for the same logical work out of the queue.
type Job struct {
	ID             string     `json:"id" db:"id"`
	Kind           JobKind    `json:"kind" db:"kind"`
	Payload        string     `json:"payload,omitempty" db:"payload"`
	Fingerprint    string     `json:"-" db:"fingerprint"`
	Status         JobStatus  `json:"status" db:"status"`
	Priority       int        `json:"priority" db:"priority"`
	Attempts       int        `json:"attempts" db:"attempts"`
	MaxAttempts    int        `json:"max_attempts" db:"max_attempts"`
	LastError      *string    `json:"last_error,omitempty" db:"last_error"`
	NotBefore      *time.Time `json:"not_before,omitempty" db:"not_before"`
	LeasedBy       *string    `json:"leased_by,omitempty" db:"leased_by"`
	LeaseExpiresAt *time.Time `json:"lease_expires_at,omitempty" db:"lease_expires_at"`
	CreatedAt      time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at" db:"updated_at"`
}

type DownloadState string

const (
	DownloadStateNotFound    DownloadState = "not_found"
	DownloadStateAvailable   DownloadState = "available"
	DownloadStateQueued      DownloadState = "queued"
	DownloadStateDownloading DownloadState = "downloading"
	DownloadStateLocal       DownloadState = "local"
	DownloadStateFailed      DownloadState = "failed"
)

// DownloadRequest tracks one track's journey through the transfer daemon.
// Rows are never deleted; history stays queryable after completion.
type DownloadRequest struct {
	ID            string        `json:"id" db:"id"`
	TrackID       string        `json:"track_id" db:"track_id"`
	State         DownloadState `json:"state" db:"state"`
	Priority      int           `json:"priority" db:"priority"`
	ExternalRef   *string       `json:"external_ref,omitempty" db:"external_ref"`
	RetryCount    int           `json:"retry_count" db:"retry_count"`
	LastError     *string       `json:"last_error,omitempty" db:"last_error"`
	NextAttemptAt *time.Time    `json:"next_attempt_at,omitempty" db:"next_attempt_at"`
	FilePath      string        `json:"file_path,omitempty" db:"file_path"`
	FileSize      int64         `json:"file_size,omitempty" db:"file_size"`
	FileHash      string        `json:"file_hash,omitempty" db:"file_hash"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at" db:"updated_at"`
}

type EntityKind string

const (
	EntityKindArtist EntityKind = "artist"
	EntityKindAlbum  EntityKind = "album"
	EntityKindTrack  EntityKind = "track"
)

// SourceHybrid marks an entity that two or more providers contributed to.
const SourceHybrid = "hybrid"

// LibraryEntity is the single merged representation of an artist, album or
// track. Exactly one row exists per real-world item; provider duplicates are
// folded in by the deduplicator.
type LibraryEntity struct {
	ID          string      `json:"id" db:"id"`
	Kind        EntityKind  `json:"kind" db:"kind"`
	ParentID    *string     `json:"parent_id,omitempty" db:"parent_id"`
	Name        string      `json:"name" db:"name"`
	NormName    string      `json:"-" db:"norm_name"`
	SortName    string      `json:"sort_name,omitempty" db:"sort_name"`
	Source      string      `json:"source" db:"source"`
	ExternalIDs IDMap       `json:"external_ids,omitempty" db:"external_ids"`
	MBID        string      `json:"mbid,omitempty" db:"mbid"`
	ISRC        string      `json:"isrc,omitempty" db:"isrc"`
	UPC         string      `json:"upc,omitempty" db:"upc"`
	Year        int         `json:"year,omitempty" db:"year"`
	Duration    int         `json:"duration,omitempty" db:"duration"`
	TrackNumber int         `json:"track_number,omitempty" db:"track_number"`
	DiscNumber  int         `json:"disc_number,omitempty" db:"disc_number"`
	Genre       string      `json:"genre,omitempty" db:"genre"`
	ImageURL    string      `json:"image_url,omitempty" db:"image_url"`
	ImagePath   string      `json:"image_path,omitempty" db:"image_path"`
	Aliases     StringSlice `json:"aliases,omitempty" db:"aliases"`
	Complete    bool        `json:"complete" db:"complete"`
	RemovedAt   *time.Time  `json:"removed_at,omitempty" db:"removed_at"`
	CreatedAt   time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at" db:"updated_at"`
}

// Removed reports whether the entity was soft-removed from the library.
func (e *LibraryEntity) Removed() bool {
	return e.RemovedAt != nil
}

// Record is the normalized shape every metadata source emits. The core
// branches on Kind only; Source identifies where the record came from.
type Record struct {
	Kind        EntityKind `json:"kind"`
	Source      string     `json:"source"`
	ExternalID  string     `json:"external_id"`
	Name        string     `json:"name"`
	SortName    string     `json:"sort_name,omitempty"`
	MBID        string     `json:"mbid,omitempty"`
	ISRC        string     `json:"isrc,omitempty"`
	UPC         string     `json:"upc,omitempty"`
	Year        int        `json:"year,omitempty"`
	Duration    int        `json:"duration,omitempty"`
	TrackNumber int        `json:"track_number,omitempty"`
	DiscNumber  int        `json:"disc_number,omitempty"`
	Genre       string     `json:"genre,omitempty"`
	ImageURL    string     `json:"image_url,omitempty"`
	ArtistKey   string     `json:"artist_key,omitempty"`
	AlbumKey    string     `json:"album_key,omitempty"`
	ArtistName  string     `json:"artist_name,omitempty"`
	AlbumName   string     `json:"album_name,omitempty"`
}

// IndustryID returns the identifier that makes this record globally
// matchable, if the source supplied one.
func (r *Record) IndustryID() string {
	switch r.Kind {
	case EntityKindTrack:
		if r.ISRC != "" {
			return r.ISRC
		}
	case EntityKindAlbum:
		if r.UPC != "" {
			return r.UPC
		}
	}
	return r.MBID
}

type CandidateStatus string

const (
	CandidateStatusPending   CandidateStatus = "pending"
	CandidateStatusConfirmed CandidateStatus = "confirmed"
	CandidateStatusDismissed CandidateStatus = "dismissed"
)

// MergeCandidate parks an ambiguous match for operator review instead of
// guessing. Record holds the incoming normalized record as JSON; RecordKey
// identifies the record so repeats do not pile up duplicate candidates.
type MergeCandidate struct {
	ID         string          `json:"id" db:"id"`
	Kind       EntityKind      `json:"kind" db:"kind"`
	EntityID   *string         `json:"entity_id,omitempty" db:"entity_id"`
	Record     string          `json:"record" db:"record"`
	RecordKey  string          `json:"-" db:"record_key"`
	Score      float64         `json:"score" db:"score"`
	Reason     string          `json:"reason" db:"reason"`
	Status     CandidateStatus `json:"status" db:"status"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty" db:"resolved_at"`
}

// DecodeRecord unpacks the stored record payload.
func (c *MergeCandidate) DecodeRecord() (Record, error) {
	var rec Record
	err := json.Unmarshal([]byte(c.Record), &rec)
	return rec, err
}

// JobStats aggregates queue counts for the stats endpoint.
type JobStats struct {
	Pending   int `json:"pending" db:"pending"`
	Running   int `json:"running" db:"running"`
	Retrying  int `json:"retrying" db:"retrying"`
	Succeeded int `json:"succeeded" db:"succeeded"`
	Failed    int `json:"failed" db:"failed"`
	Cancelled int `json:"cancelled" db:"cancelled"`
}

// TaskState is the persisted runtime row of a scheduled task. LastRun is the
// completion time of the last successful run and survives restarts.
type TaskState struct {
	Name      string     `json:"name" db:"name"`
	LastRun   *time.Time `json:"last_run,omitempty" db:"last_run"`
	Enabled   bool       `json:"enabled" db:"enabled"`
	UpdatedAt time.Time  `json:"updated_at" db:"updated_at"`
}

// DownloadStats aggregates request counts per state.
type DownloadStats struct {
	NotFound    int `json:"not_found" db:"not_found"`
	Available   int `json:"available" db:"available"`
	Queued      int `json:"queued" db:"queued"`
	Downloading int `json:"downloading" db:"downloading"`
	Local       int `json:"local" db:"local"`
	Failed      int `json:"failed" db:"failed"`
}
