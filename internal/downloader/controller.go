package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"soulspot/internal/config"
	"soulspot/internal/constants"
	"soulspot/internal/domain"
	"soulspot/internal/logger"
	"soulspot/internal/queue"
	"soulspot/internal/retry"
	"soulspot/internal/storage"
	"soulspot/internal/store"
	"soulspot/internal/tagging"
	"soulspot/internal/transfer"

	"golang.org/x/time/rate"
)

// Controller owns the download request lifecycle against the transfer
// daemon. The feed cycle hands waiting requests over; the reconcile cycle
// folds the daemon's view back onto local state. Request rows change state
// only here once a transfer is in flight.
type Controller struct {
	db      *store.DB
	client  transfer.Client
	queue   *queue.Queue
	breaker *retry.Breaker
	limiter *rate.Limiter
	backoff retry.Policy
	logger  *logger.Logger
	now     func() time.Time

	feedBatch  int
	staleAfter time.Duration
	libraryDir string
	template   string
}

func NewController(db *store.DB, client transfer.Client, q *queue.Queue, breaker *retry.Breaker,
	p config.DownloaderProfile, libraryDir string, log *logger.Logger) *Controller {

	c := &Controller{
		db:      db,
		client:  client,
		queue:   q,
		breaker: breaker,
		backoff: retry.Policy{
			BaseDelay: constants.DefaultSubmitBackoffBase,
			MaxDelay:  constants.DefaultSubmitBackoffMax,
		},
		logger:     log.WithComponent("download-controller"),
		now:        time.Now,
		feedBatch:  p.FeedBatch,
		staleAfter: p.StaleAfter.Duration,
		libraryDir: libraryDir,
		template:   p.SubdirTemplate,
	}
	if c.feedBatch < 1 {
		c.feedBatch = constants.DefaultFeedBatch
	}
	if c.staleAfter <= 0 {
		c.staleAfter = constants.DefaultStaleDownload
	}
	if c.template == "" {
		c.template = constants.DefaultSubdirTemplate
	}

	submitRate := p.SubmitRate
	if submitRate <= 0 {
		submitRate = constants.DefaultSubmitRate
	}
	burst := p.SubmitBurst
	if burst < 1 {
		burst = constants.DefaultSubmitBurst
	}
	c.limiter = rate.NewLimiter(rate.Limit(submitRate), burst)

	return c
}

// FeedCycle hands up to the batch size of waiting requests to the daemon.
// The batch bound is the backpressure: however deep the local queue gets,
// the daemon sees at most this many new submissions per cycle.
func (c *Controller) FeedCycle(ctx context.Context) error {
	now := c.now().UTC()
	reqs, err := c.db.ListSubmittableRequests(ctx, now, c.feedBatch)
	if err != nil {
		return fmt.Errorf("list submittable requests: %w", err)
	}

	for _, req := range reqs {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil
		}
		if err := c.submit(ctx, req, now); errors.Is(err, retry.ErrOpen) {
			c.logger.Warn("Transfer circuit open, feed paused")
			break
		}
	}
	return nil
}

func (c *Controller) submit(ctx context.Context, req *domain.DownloadRequest, now time.Time) error {
	log := c.logger.With("request_id", req.ID, "track_id", req.TrackID)

	q, err := c.queryForTrack(ctx, req.TrackID)
	if err != nil {
		log.Warn("Deferring unsubmittable request", "error", err)
		c.pushBack(ctx, req, err.Error(), now)
		return nil
	}

	var ref string
	err = c.breaker.Call(constants.CircuitTransfer, func() error {
		var sErr error
		ref, sErr = c.client.Submit(ctx, q)
		if sErr != nil && !transfer.IsTransient(sErr) {
			// a clean refusal, not daemon sickness
			return retry.Exclude(sErr)
		}
		return sErr
	})
	if err == nil {
		if mErr := c.db.MarkRequestQueued(ctx, req.ID, ref, now); mErr != nil {
			log.Error("Failed to record submission", "ref", ref, "error", mErr)
			return nil
		}
		log.Info("Submitted download", "ref", ref, "query", q.String())
		return nil
	}

	if errors.Is(err, retry.ErrOpen) {
		c.pushBack(ctx, req, err.Error(), now)
		return err
	}

	var de *transfer.DaemonError
	if errors.As(err, &de) && de.Code == http.StatusNotFound {
		// the daemon's source does not list this track at all
		log.Info("Track not listed upstream", "query", q.String())
		if sErr := c.db.SetRequestAvailability(ctx, req.ID, false, now); sErr != nil {
			c.pushBack(ctx, req, err.Error(), now)
		}
		return err
	}

	log.Warn("Submission failed", "error", err)
	c.pushBack(ctx, req, err.Error(), now)
	return err
}

// pushBack keeps a request in line with its next attempt pushed out on the
// submission backoff.
func (c *Controller) pushBack(ctx context.Context, req *domain.DownloadRequest, reason string, now time.Time) {
	next := now.Add(c.backoff.Backoff(req.RetryCount + 1))
	if err := c.db.DeferRequest(ctx, req.ID, reason, next, now); err != nil {
		c.logger.Error("Failed to defer request", "request_id", req.ID, "error", err)
	}
}

// ReconcileCycle maps the daemon's queue onto local request state: active
// transfers refresh progress, completed ones are finalized into the library,
// failed ones carry the daemon's reason, and transfers the daemon forgot are
// put back in line. Unclaimed daemon transfers are cancelled so the two
// queues cannot drift apart.
func (c *Controller) ReconcileCycle(ctx context.Context) error {
	now := c.now().UTC()

	var refs []string
	err := c.breaker.Call(constants.CircuitTransfer, func() error {
		var lErr error
		refs, lErr = c.client.ListActive(ctx)
		return lErr
	})
	if errors.Is(err, retry.ErrOpen) {
		c.logger.Warn("Transfer circuit open, skipping reconcile")
		return nil
	}
	if err != nil {
		c.logger.Warn("Failed to list active transfers, skipping reconcile", "error", err)
		return nil
	}

	inflight, err := c.db.ListInFlightRequests(ctx)
	if err != nil {
		return fmt.Errorf("list in-flight requests: %w", err)
	}

	claimed := make(map[string]bool, len(inflight))
	for _, req := range inflight {
		if req.ExternalRef != nil {
			claimed[*req.ExternalRef] = true
		}
	}
	for _, ref := range refs {
		if claimed[ref] {
			continue
		}
		c.logger.Warn("Cancelling unclaimed transfer", "ref", ref)
		if cErr := c.client.Cancel(ctx, ref); cErr != nil && !errors.Is(cErr, transfer.ErrUnknownRef) {
			c.logger.Warn("Failed to cancel unclaimed transfer", "ref", ref, "error", cErr)
		}
	}

	for _, req := range inflight {
		if ctx.Err() != nil {
			return nil
		}
		c.reconcile(ctx, req, now)
	}

	return c.sweepStale(ctx, now)
}

func (c *Controller) reconcile(ctx context.Context, req *domain.DownloadRequest, now time.Time) {
	ref := *req.ExternalRef
	log := c.logger.With("request_id", req.ID, "track_id", req.TrackID, "ref", ref)

	st, err := c.client.Status(ctx, ref)
	if errors.Is(err, transfer.ErrUnknownRef) {
		log.Warn("Transfer unknown to daemon, requeueing")
		if rErr := c.db.RequeueRequest(ctx, req.ID, now); rErr != nil {
			log.Error("Failed to requeue orphaned request", "error", rErr)
		}
		return
	}
	if err != nil {
		log.Warn("Failed to poll transfer status", "error", err)
		return
	}

	switch st.State {
	case transfer.StateQueued:
		// still waiting its turn on the daemon

	case transfer.StateActive:
		if mErr := c.db.MarkRequestDownloading(ctx, req.ID, now); mErr != nil {
			log.Error("Failed to mark request downloading", "error", mErr)
		}

	case transfer.StateComplete:
		c.finalize(ctx, req, st, now)

	case transfer.StateError:
		reason := st.Error
		if reason == "" {
			reason = "transfer failed"
		}
		log.Warn("Transfer failed", "reason", reason)
		if mErr := c.db.MarkRequestFailed(ctx, req.ID, reason, now); mErr != nil {
			log.Error("Failed to mark request failed", "error", mErr)
		}
	}
}

// finalize moves a completed transfer into the library: verify the file,
// place it by the layout template, tag it, then record the local row and
// roll completeness up to the album.
func (c *Controller) finalize(ctx context.Context, req *domain.DownloadRequest, st *transfer.Status, now time.Time) {
	log := c.logger.With("request_id", req.ID, "track_id", req.TrackID)

	// Step through downloading so the observed state chain stays legal even
	// when the daemon finished between two polls.
	if err := c.db.MarkRequestDownloading(ctx, req.ID, now); err != nil {
		log.Error("Failed to mark request downloading", "error", err)
		return
	}

	info, err := os.Stat(st.Path)
	if st.Path == "" || err != nil || info.Size() == 0 {
		log.Warn("Completed transfer missing on disk", "path", st.Path)
		c.fail(ctx, req.ID, "completed transfer missing on disk", now)
		return
	}

	track, album, artist, err := c.lineage(ctx, req.TrackID)
	if err != nil {
		c.fail(ctx, req.ID, err.Error(), now)
		return
	}

	dest, err := c.destinationFor(track, album, artist, filepath.Ext(st.Path))
	if err != nil {
		c.fail(ctx, req.ID, fmt.Sprintf("build library path: %v", err), now)
		return
	}
	if err := storage.EnsureDir(filepath.Dir(dest)); err != nil {
		c.fail(ctx, req.ID, fmt.Sprintf("create library dir: %v", err), now)
		return
	}
	if err := storage.MoveFile(st.Path, dest); err != nil {
		c.fail(ctx, req.ID, fmt.Sprintf("move into library: %v", err), now)
		return
	}

	c.tagFile(dest, track, album, artist)

	// Hash after tagging; the tags are part of the file we verify later.
	hash, err := storage.HashFile(dest)
	if err != nil {
		log.Warn("Failed to hash file", "path", dest, "error", err)
	}
	size := info.Size()
	if fi, sErr := os.Stat(dest); sErr == nil {
		size = fi.Size()
	}

	if err := c.db.MarkRequestLocal(ctx, req.ID, dest, size, hash, now); err != nil {
		log.Error("Failed to mark request local", "error", err)
		return
	}
	if err := c.db.MarkEntityComplete(ctx, track.ID, true, now); err != nil {
		log.Error("Failed to mark track complete", "error", err)
	}
	if album != nil {
		if _, err := c.db.RecomputeAlbumComplete(ctx, album.ID, now); err != nil {
			log.Error("Failed to recompute album completeness", "album_id", album.ID, "error", err)
		}
		if album.ImagePath == "" && album.ImageURL != "" {
			_, err := c.queue.Enqueue(ctx, queue.EnqueueParams{
				Kind:        domain.JobKindImageFetch,
				Payload:     domain.ImageFetchPayload{EntityID: album.ID},
				Fingerprint: "image:" + album.ID,
			})
			if err != nil {
				log.Warn("Failed to enqueue artwork fetch", "album_id", album.ID, "error", err)
			}
		}
	}

	log.Info("Download finalized", "path", dest, "size", size)
}

func (c *Controller) fail(ctx context.Context, id, reason string, now time.Time) {
	if err := c.db.MarkRequestFailed(ctx, id, reason, now); err != nil {
		c.logger.Error("Failed to mark request failed", "request_id", id, "error", err)
	}
}

// sweepStale requeues transfers that stopped reporting progress before the
// stale threshold. The daemon is told to drop its side when it still
// remembers the ref.
func (c *Controller) sweepStale(ctx context.Context, now time.Time) error {
	stale, err := c.db.ListStaleDownloading(ctx, now.Add(-c.staleAfter))
	if err != nil {
		return fmt.Errorf("list stale downloads: %w", err)
	}
	for _, req := range stale {
		c.logger.Warn("Requeueing stale download", "request_id", req.ID, "track_id", req.TrackID)
		if err := c.db.RequeueRequest(ctx, req.ID, now); err != nil {
			c.logger.Error("Failed to requeue stale download", "request_id", req.ID, "error", err)
			continue
		}
		if req.ExternalRef != nil {
			if cErr := c.client.Cancel(ctx, *req.ExternalRef); cErr != nil && !errors.Is(cErr, transfer.ErrUnknownRef) {
				c.logger.Warn("Failed to cancel stale transfer", "ref", *req.ExternalRef, "error", cErr)
			}
		}
	}
	return nil
}

// lineage loads a track with its album and artist. The track must exist;
// album and artist are best effort.
func (c *Controller) lineage(ctx context.Context, trackID string) (track, album, artist *domain.LibraryEntity, err error) {
	track, err = c.db.GetEntity(ctx, trackID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("track entity missing: %s", trackID)
	}
	if track.ParentID != nil {
		if a, aErr := c.db.GetEntity(ctx, *track.ParentID); aErr == nil {
			album = a
			if album.ParentID != nil {
				if ar, arErr := c.db.GetEntity(ctx, *album.ParentID); arErr == nil {
					artist = ar
				}
			}
		}
	}
	return track, album, artist, nil
}

func (c *Controller) queryForTrack(ctx context.Context, trackID string) (transfer.Query, error) {
	track, album, artist, err := c.lineage(ctx, trackID)
	if err != nil {
		return transfer.Query{}, err
	}
	q := transfer.Query{Title: track.Name, Duration: track.Duration}
	if album != nil {
		q.Album = album.Name
	}
	if artist != nil {
		q.Artist = artist.Name
	}
	return q, nil
}

func (c *Controller) destinationFor(track, album, artist *domain.LibraryEntity, ext string) (string, error) {
	artistName := ""
	if artist != nil {
		artistName = artist.Name
	}
	albumName := ""
	year := track.Year
	if album != nil {
		albumName = album.Name
		if album.Year != 0 {
			year = album.Year
		}
	}
	data := storage.PathDataFor(artistName, year, albumName, track.DiscNumber, track.TrackNumber, track.Name)
	return storage.BuildFullPath(c.libraryDir, c.template, data, ext)
}

func (c *Controller) tagFile(path string, track, album, artist *domain.LibraryEntity) {
	var cover []byte
	if album != nil && album.ImagePath != "" {
		if data, err := os.ReadFile(album.ImagePath); err == nil {
			cover = data
		}
	}
	if err := tagging.Apply(path, track, artist, album, cover); err != nil {
		if errors.Is(err, tagging.ErrUnsupportedFormat) {
			c.logger.Debug("Tagging skipped, unsupported format", "path", path)
			return
		}
		c.logger.Warn("Failed to tag file", "path", path, "error", err)
	}
}
