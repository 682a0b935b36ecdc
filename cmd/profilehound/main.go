// Package main wires together the scraper service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/profilehound/profilehound/internal/api"
	"github.com/profilehound/profilehound/internal/cache"
	"github.com/profilehound/profilehound/internal/clock/system"
	"github.com/profilehound/profilehound/internal/config"
	"github.com/profilehound/profilehound/internal/export"
	"github.com/profilehound/profilehound/internal/github"
	"github.com/profilehound/profilehound/internal/id/uuid"
	"github.com/profilehound/profilehound/internal/jobs"
	"github.com/profilehound/profilehound/internal/logging"
	"github.com/profilehound/profilehound/internal/metrics"
	"github.com/profilehound/profilehound/internal/progress"
	"github.com/profilehound/profilehound/internal/progress/sinks"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	responseCache := cache.New[any](cfg.Cache.MaxEntries, cfg.CacheTTL(), cache.Hooks{
		OnHit:      metrics.ObserveCacheHit,
		OnMiss:     metrics.ObserveCacheMiss,
		OnEviction: metrics.ObserveCacheEviction,
	})

	ghClient := github.New(github.Config{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.BaseURL,
		UserAgent:         cfg.GitHub.UserAgent,
		Timeout:           time.Duration(cfg.GitHub.TimeoutSeconds) * time.Second,
		RequestDelay:      cfg.RequestDelay(),
		ReadmeConcurrency: cfg.GitHub.ReadmeConcurrency,
		DefaultMaxRepos:   cfg.GitHub.DefaultMaxRepos,
	}, logger.Named("github"))

	exportSvc, err := export.NewService(cfg.Export.OutputDir, logger.Named("export"))
	if err != nil {
		logger.Fatal("export service init failed", zap.Error(err))
	}

	promSink, err := sinks.NewPrometheusSink(nil)
	if err != nil {
		logger.Fatal("progress metrics init failed", zap.Error(err))
	}
	// The store sink resolves the manager lazily; events only flow once the
	// manager below is running.
	var manager *jobs.Manager
	storeSink := sinks.NewStoreSink(sinks.ProgressSetterFunc(func(jobID string, percent int) {
		manager.SetProgress(jobID, percent)
	}))
	hub := progress.NewHub(
		progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		storeSink,
		promSink,
	)

	store := jobs.NewStore()
	manager = jobs.New(
		store,
		ghClient,
		exportSvc,
		uuid.New(),
		system.New(),
		hub,
		jobs.Config{
			Workers:    cfg.Jobs.MaxConcurrent,
			QueueDepth: cfg.Jobs.QueueDepth,
			JobTimeout: cfg.JobTimeout(),
		},
		logger.Named("jobs"),
	)
	coordinator := export.NewCoordinator(manager, exportSvc, logger.Named("export"))

	scheduler := cron.New(cron.WithChain(cron.Recover(cron.DefaultLogger)))
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %dm", cfg.Jobs.CleanupIntervalMinutes), func() {
		manager.Cleanup(cfg.JobRetention())
	}); err != nil {
		logger.Fatal("schedule job cleanup failed", zap.Error(err))
	}
	if _, err := scheduler.AddFunc(fmt.Sprintf("@every %dm", cfg.Cache.SweepIntervalMinutes), func() {
		if removed := responseCache.Sweep(); removed > 0 {
			logger.Info("cache sweep removed entries", zap.Int("removed", removed))
		}
	}); err != nil {
		logger.Fatal("schedule cache sweep failed", zap.Error(err))
	}
	scheduler.Start()

	apiServer := api.NewServer(
		ghClient,
		manager,
		coordinator,
		responseCache,
		exportSvc.OutputDir(),
		cfg,
		logger.Named("api"),
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("job manager started", zap.Int("workers", cfg.Jobs.MaxConcurrent))
		manager.Run(ctx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-scheduler.Stop().Done()
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
