package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"soulspot/internal/constants"

	"github.com/BurntSushi/toml"
)

// Profile is the deployment profile: catalog sources, transfer daemon
// settings and the tuning knobs for queue, downloader and deduplication.
type Profile struct {
	Queue      QueueProfile      `toml:"queue"`
	Scheduler  SchedulerProfile  `toml:"scheduler"`
	Downloader DownloaderProfile `toml:"downloader"`
	Dedup      DedupProfile      `toml:"dedup"`
	Transfer   TransferProfile   `toml:"transfer"`
	Sources    []SourceProfile   `toml:"sources"`
}

type QueueProfile struct {
	PollInterval  duration `toml:"poll_interval"`
	LeaseTTL      duration `toml:"lease_ttl"`
	MaxAttempts   int      `toml:"max_attempts"`
	RetentionDays int      `toml:"retention_days"`
}

type SchedulerProfile struct {
	Tick            duration `toml:"tick"`
	SyncEvery       duration `toml:"sync_every"`
	ScanEvery       duration `toml:"scan_every"`
	ImageSweepEvery duration `toml:"image_sweep_every"`
	CleanupEvery    duration `toml:"cleanup_every"`
}

type DownloaderProfile struct {
	FeedBatch       int      `toml:"feed_batch"`
	FeedInterval    duration `toml:"feed_interval"`
	SyncInterval    duration `toml:"sync_interval"`
	StaleAfter      duration `toml:"stale_after"`
	SubmitRate      float64  `toml:"submit_rate"`
	SubmitBurst     int      `toml:"submit_burst"`
	BreakerTrips    int      `toml:"breaker_trips"`
	BreakerCooldown duration `toml:"breaker_cooldown"`
	SubdirTemplate  string   `toml:"subdir_template"`
}

type DedupProfile struct {
	MatchThreshold float64 `toml:"match_threshold"`
}

type TransferProfile struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

// SourceProfile describes one upstream metadata catalog.
type SourceProfile struct {
	Name     string   `toml:"name"`
	URL      string   `toml:"url"`
	Quality  string   `toml:"quality"`
	Rate     float64  `toml:"rate"`
	CacheTTL duration `toml:"cache_ttl"`
	Enabled  bool     `toml:"enabled"`
}

// DefaultProfile returns the profile used when no TOML file is present.
func DefaultProfile() Profile {
	return Profile{
		Queue: QueueProfile{
			PollInterval:  duration{constants.DefaultPollInterval},
			LeaseTTL:      duration{constants.DefaultLeaseTTL},
			MaxAttempts:   constants.DefaultMaxAttempts,
			RetentionDays: int(constants.DefaultJobRetention.Hours() / 24),
		},
		Scheduler: SchedulerProfile{
			Tick:            duration{constants.DefaultSchedulerTick},
			SyncEvery:       duration{constants.DefaultSyncEvery},
			ScanEvery:       duration{constants.DefaultScanEvery},
			ImageSweepEvery: duration{constants.DefaultImageSweepEvery},
			CleanupEvery:    duration{constants.DefaultCleanupEvery},
		},
		Downloader: DownloaderProfile{
			FeedBatch:       constants.DefaultFeedBatch,
			FeedInterval:    duration{constants.DefaultFeedInterval},
			SyncInterval:    duration{constants.DefaultSyncInterval},
			StaleAfter:      duration{constants.DefaultStaleDownload},
			SubmitRate:      constants.DefaultSubmitRate,
			SubmitBurst:     constants.DefaultSubmitBurst,
			BreakerTrips:    constants.DefaultBreakerTrips,
			BreakerCooldown: duration{constants.DefaultBreakerCooldown},
			SubdirTemplate:  constants.DefaultSubdirTemplate,
		},
		Dedup: DedupProfile{
			MatchThreshold: constants.DefaultMatchThreshold,
		},
		Transfer: TransferProfile{
			URL: "http://localhost:5030",
		},
	}
}

// LoadProfile parses the TOML file at path into dst, over whatever defaults
// dst already carries.
func LoadProfile(path string, dst *Profile) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read profile %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse profile %s: %w", path, err)
	}
	return nil
}

func (p *Profile) validate() []string {
	var errors []string

	if p.Queue.MaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("queue.max_attempts must be at least 1, got: %d", p.Queue.MaxAttempts))
	}
	if p.Queue.LeaseTTL.Duration <= 0 {
		errors = append(errors, "queue.lease_ttl must be positive")
	}
	if p.Scheduler.Tick.Duration <= 0 {
		errors = append(errors, "scheduler.tick must be positive")
	}
	if p.Downloader.FeedBatch < 1 {
		errors = append(errors, fmt.Sprintf("downloader.feed_batch must be at least 1, got: %d", p.Downloader.FeedBatch))
	}
	if p.Downloader.SubmitRate <= 0 {
		errors = append(errors, fmt.Sprintf("downloader.submit_rate must be positive, got: %g", p.Downloader.SubmitRate))
	}
	if p.Dedup.MatchThreshold <= 0 || p.Dedup.MatchThreshold > 1 {
		errors = append(errors, fmt.Sprintf("dedup.match_threshold must be in (0, 1], got: %g", p.Dedup.MatchThreshold))
	}

	if p.Transfer.URL == "" {
		errors = append(errors, "transfer.url cannot be empty")
	} else if _, err := url.Parse(p.Transfer.URL); err != nil {
		errors = append(errors, fmt.Sprintf("transfer.url is not a valid URL: %s", p.Transfer.URL))
	}

	names := make(map[string]bool)
	for _, s := range p.Sources {
		if s.Name == "" {
			errors = append(errors, "sources entries must be named")
			continue
		}
		if names[s.Name] {
			errors = append(errors, fmt.Sprintf("duplicate source name: %s", s.Name))
		}
		names[s.Name] = true
		if s.URL == "" {
			errors = append(errors, fmt.Sprintf("source %s: url cannot be empty", s.Name))
		} else if _, err := url.Parse(s.URL); err != nil {
			errors = append(errors, fmt.Sprintf("source %s: url is not valid: %s", s.Name, s.URL))
		}
		if s.Rate < 0 {
			errors = append(errors, fmt.Sprintf("source %s: rate cannot be negative", s.Name))
		}
	}

	return errors
}

// duration lets TOML carry values like "15s" or "6h".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}
