// Package constants contains application-wide constants to avoid magic numbers and strings.
package constants

import "time"

// Application defaults
const (
	DefaultPort           = "8080"
	DefaultDBPath         = "soulspot.db"
	DefaultLibraryDir     = "library"
	DefaultImageDir       = "artwork"
	DefaultWorkers        = 2
	DefaultListLimit      = 100
	DefaultPollInterval   = 2 * time.Second
	DefaultHTTPTimeout    = 2 * time.Minute
	ImageHTTPTimeout      = 30 * time.Second
	DefaultCacheTTL       = 12 * time.Hour
	DefaultSubdirTemplate = "{{.Artist}}/{{.Year}} - {{.Album}}/{{.Disc}}-{{.Track}} {{.Title}}"
)

// Queue defaults
const (
	DefaultJobPriority  = 100
	DefaultMaxAttempts  = 3
	DefaultRetryBase    = 1 * time.Second
	DefaultRetryMax     = 5 * time.Minute
	DefaultLeaseTTL     = 10 * time.Minute
	DefaultJobRetention = 7 * 24 * time.Hour
)

// Download controller defaults
const (
	DefaultFeedBatch         = 5
	DefaultFeedInterval      = 15 * time.Second
	DefaultSyncInterval      = 10 * time.Second
	DefaultStaleDownload     = 30 * time.Minute
	DefaultSubmitRate        = 1.0
	DefaultSubmitBurst       = 5
	DefaultBreakerTrips      = 3
	DefaultBreakerCooldown   = 60 * time.Second
	DefaultSubmitBackoffBase = 30 * time.Second
	DefaultSubmitBackoffMax  = 30 * time.Minute
)

// Scheduler defaults
const (
	DefaultSchedulerTick   = 30 * time.Second
	DefaultSyncEvery       = 6 * time.Hour
	DefaultScanEvery       = 12 * time.Hour
	DefaultImageSweepEvery = 1 * time.Hour
	DefaultCleanupEvery    = 24 * time.Hour
)

// Supervisor defaults
const (
	DefaultFailureStreak     = 5
	DefaultBackoffMultiplier = 10
	DefaultMaxWorkerBackoff  = 5 * time.Minute
)

// Circuit names for external dependencies
const (
	CircuitTransfer     = "transfer"
	CircuitSourcePrefix = "source:"
)

// Dedup defaults
const DefaultMatchThreshold = 0.85

// MIME Types
const MimeTypeJPEG = "image/jpeg"

// File Extensions
const (
	ExtFLAC = ".flac"
	ExtMP3  = ".mp3"
	ExtJPG  = ".jpg"
)

// File Permissions
const (
	DirPermissions  = 0755
	FilePermissions = 0644
)

// Characters to sanitize from filesystem paths
const InvalidPathChars = "<>:\"/\\|?*"
