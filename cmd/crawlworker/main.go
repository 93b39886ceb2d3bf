// Package main wires together the crawl worker service.
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

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/awaisasif1-byte/internal-link-optimizer/internal/api"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/clock/system"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/config"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/crawler"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/extract"
	collyfetcher "github.com/awaisasif1-byte/internal-link-optimizer/internal/fetcher/colly"
	headlessfetcher "github.com/awaisasif1-byte/internal-link-optimizer/internal/fetcher/headless"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/frontier"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/hash/sha256"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/headless/detector"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/id/uuid"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/logging"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/progress"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/progress/sinks"
	pubsubpublisher "github.com/awaisasif1-byte/internal-link-optimizer/internal/publisher/pubsub"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/reaper"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/session"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/storage/gcs"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/storage/local"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/storage/memory"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/storage/postgres"
	"github.com/awaisasif1-byte/internal-link-optimizer/internal/worker"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()

	store, closeStore, err := buildFrontierStore(ctx, cfg, clock, logger)
	if err != nil {
		logger.Fatal("frontier store init failed", zap.Error(err))
	}
	defer closeStore()

	blobStore, err := buildBlobStore(ctx, cfg)
	if err != nil {
		logger.Fatal("blob store init failed", zap.Error(err))
	}

	var publisher crawler.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub client init failed", zap.Error(err))
		}
		psPublisher := pubsubpublisher.New(client)
		defer psPublisher.Close()
		publisher = psPublisher
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	promSink, err := sinks.NewPrometheusSink(registry)
	if err != nil {
		logger.Fatal("prometheus sink init failed", zap.Error(err))
	}
	hub := progress.NewHub(
		progress.HubConfig{Clock: clock, Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("events")),
		promSink,
	)

	probeFetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.FetchTimeout(),
	})
	var headless crawler.Fetcher = headlessfetcher.NewNoop()
	if cfg.Headless.Enabled {
		chromeFetcher, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			defer chromeFetcher.Close()
			headless = chromeFetcher
		}
	}

	enqueuer := frontier.NewEnqueuer(store, idGen, logger.Named("enqueuer"))
	claimer := frontier.NewClaimer(store, cfg.Crawler.StoreRetries, cfg.StoreBackoff(), logger.Named("claimer"))
	executor := worker.NewExecutor(
		store,
		blobStore,
		hasher,
		clock,
		probeFetcher,
		headless,
		detector.NewHeuristic(cfg.Headless.PromotionThresh),
		extract.New(),
		enqueuer,
		hub,
		worker.Config{
			Concurrency: cfg.Crawler.Concurrency,
			ContentType: cfg.Storage.ContentType,
			BlobPrefix:  cfg.Storage.Prefix,
			UserAgent:   cfg.Crawler.UserAgent,
			Headless:    cfg.Headless.Enabled,
		},
		logger.Named("worker"),
	)
	controller := session.NewController(
		store,
		claimer,
		executor,
		publisher,
		clock,
		hub,
		session.ControllerConfig{
			ClaimBatchSize:  cfg.Crawler.ClaimBatchSize,
			PollInterval:    cfg.PollInterval(),
			SettleChecks:    cfg.Crawler.SettleChecks,
			SettleInterval:  cfg.SettleInterval(),
			CompletionTopic: cfg.PubSub.TopicName,
		},
		logger.Named("controller"),
	)
	manager := session.NewManager(store, controller, cfg.PollInterval(), logger.Named("manager"))
	reap := reaper.New(store, clock, hub, reaper.Config{
		StaleAfter:  cfg.StaleAfter(),
		MaxAttempts: cfg.Reaper.MaxAttempts,
		Interval:    cfg.ReaperInterval(),
	}, logger.Named("reaper"))

	metricsHandler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
	apiServer := api.NewServer(store, manager, idGen, clock, cfg, metricsHandler, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("session manager started")
		manager.Run(ctx)
	}()
	go func() {
		logger.Info("reaper started")
		reap.Run(ctx)
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
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// buildFrontierStore prefers Postgres when a DSN is configured and falls back
// to the in-memory store for local development.
func buildFrontierStore(ctx context.Context, cfg config.Config, clock crawler.Clock, logger *zap.Logger) (crawler.FrontierStore, func(), error) {
	if cfg.DB.DSN == "" {
		logger.Warn("db.dsn not set, using in-memory frontier store")
		return memory.NewFrontierStore(clock), func() {}, nil
	}
	store, err := postgres.NewFrontierStore(ctx, postgres.FrontierStoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	}, clock)
	if err != nil {
		return nil, nil, err
	}
	return store, store.Close, nil
}

func buildBlobStore(ctx context.Context, cfg config.Config) (crawler.BlobStore, error) {
	switch cfg.Storage.Provider {
	case "gcs":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init: %w", err)
		}
		return gcs.New(client, gcs.Config{Bucket: cfg.Storage.GCSBucket})
	case "local":
		return local.New(local.Config{BaseDir: cfg.Storage.LocalDir})
	case "memory":
		return memory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}
