package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"soulspot/internal/app"
	"soulspot/internal/catalog"
	"soulspot/internal/config"
	"soulspot/internal/constants"
	"soulspot/internal/dedup"
	"soulspot/internal/downloader"
	"soulspot/internal/domain"
	httpapp "soulspot/internal/http"
	"soulspot/internal/httpclient"
	"soulspot/internal/logger"
	"soulspot/internal/queue"
	"soulspot/internal/retry"
	"soulspot/internal/scheduler"
	"soulspot/internal/store"
	"soulspot/internal/supervisor"
	"soulspot/internal/transfer"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func serveCmd() *cobra.Command {
	var command = &cobra.Command{
		Use:   "serve",
		Short: "Start the API server and background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}

	return command
}

func serve() error {
	// Load .env before the environment is read.
	godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}
	p := cfg.Profile

	appLogger := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})

	// Initialize DB
	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Initialize job queue
	q := queue.New(db, retry.Policy{
		MaxAttempts: p.Queue.MaxAttempts,
		BaseDelay:   constants.DefaultRetryBase,
		MaxDelay:    constants.DefaultRetryMax,
	}, p.Queue.LeaseTTL.Duration, appLogger)

	// Jobs orphaned by the previous process go back up for grabs.
	if n, err := q.RecoverInterrupted(context.Background()); err != nil {
		return fmt.Errorf("recover interrupted jobs: %w", err)
	} else if n > 0 {
		appLogger.Info("Recovered interrupted jobs", "count", n)
	}

	// Register catalog sources
	sources := catalog.NewManager(appLogger)
	cache := catalog.NewStoreCache(db)
	for _, sp := range p.Sources {
		if !sp.Enabled {
			continue
		}
		var src catalog.Source = catalog.NewRESTSource(sp.Name, sp.URL, sp.Rate)
		if sp.CacheTTL.Duration > 0 {
			src = catalog.NewCachedSource(src, cache, sp.CacheTTL.Duration)
		}
		sources.Register(src)
	}

	// Initialize services
	dd := dedup.New(db, p.Dedup.MatchThreshold, true, appLogger)
	catalogBreaker := retry.NewBreaker(p.Downloader.BreakerTrips, p.Downloader.BreakerCooldown.Duration)
	transferBreaker := retry.NewBreaker(p.Downloader.BreakerTrips, p.Downloader.BreakerCooldown.Duration)

	syncService := app.NewSyncService(db, sources, dd, catalogBreaker, appLogger)
	jobService := app.NewJobService(q, db, sources, appLogger)
	libraryService := app.NewLibraryService(db, dd, appLogger)

	// Initialize download bridge
	client := transfer.NewHTTPClient(p.Transfer.URL, p.Transfer.APIKey)
	controller := downloader.NewController(db, client, q, transferBreaker, p.Downloader, cfg.LibraryDir, appLogger)

	// Register job handlers
	dispatcher := downloader.NewDispatcher()
	dispatcher.Register(domain.JobKindProviderSync, &downloader.SyncHandler{DB: db, Sync: syncService})
	dispatcher.Register(domain.JobKindScan, &downloader.ScanHandler{DB: db})
	dispatcher.Register(domain.JobKindEnrich, &downloader.EnrichHandler{DB: db, Sources: sources, Dedup: dd})
	dispatcher.Register(domain.JobKindDownload, &downloader.DownloadHandler{DB: db})
	dispatcher.Register(domain.JobKindImageFetch, &downloader.ImageFetchHandler{
		DB:       db,
		Client:   httpclient.NewClient(&http.Client{Timeout: constants.ImageHTTPTimeout}, 0, 1),
		ImageDir: cfg.ImageDir,
	})
	dispatcher.Register(domain.JobKindCleanup, &downloader.CleanupHandler{DB: db})

	// Initialize scheduler
	sched := scheduler.New(db, appLogger)
	scheduler.RegisterDefaults(sched, q, db, p)

	// Initialize workers
	sup := supervisor.New(appLogger)
	sup.Register("scheduler", p.Scheduler.Tick.Duration, func(ctx context.Context) error {
		sched.Tick(ctx)
		return nil
	})
	for i := 1; i <= cfg.Workers; i++ {
		name := fmt.Sprintf("executor-%d", i)
		exec := downloader.NewExecutor(q, dispatcher, name, appLogger)
		sup.Register(name, p.Queue.PollInterval.Duration, exec.Cycle)
	}
	sup.Register("download-feed", p.Downloader.FeedInterval.Duration, controller.FeedCycle)
	sup.Register("download-sync", p.Downloader.SyncInterval.Duration, controller.ReconcileCycle)
	sup.Register("retry-sweep", p.Queue.LeaseTTL.Duration/2, func(ctx context.Context) error {
		_, err := q.ReleaseExpired(ctx)
		return err
	})

	sup.Start()
	defer sup.Stop()

	// Initialize router
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	h := httpapp.NewHandler(jobService, libraryService, sched, sup, appLogger)
	h.RegisterRoutes(r)

	// Start server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		appLogger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
