// Package main wires together the documentation extractor service.
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

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/doc-extractor/internal/api"
	"github.com/JakeFAU/doc-extractor/internal/clock"
	"github.com/JakeFAU/doc-extractor/internal/config"
	"github.com/JakeFAU/doc-extractor/internal/crawler"
	"github.com/JakeFAU/doc-extractor/internal/dispatcher"
	collyfetcher "github.com/JakeFAU/doc-extractor/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/doc-extractor/internal/fetcher/headless"
	"github.com/JakeFAU/doc-extractor/internal/hash/sha256"
	"github.com/JakeFAU/doc-extractor/internal/headless/detector"
	"github.com/JakeFAU/doc-extractor/internal/id/uuid"
	"github.com/JakeFAU/doc-extractor/internal/logging"
	"github.com/JakeFAU/doc-extractor/internal/metrics"
	"github.com/JakeFAU/doc-extractor/internal/policy/ratelimit"
	"github.com/JakeFAU/doc-extractor/internal/policy/scope"
	"github.com/JakeFAU/doc-extractor/internal/progress"
	progresssinks "github.com/JakeFAU/doc-extractor/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/doc-extractor/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/doc-extractor/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/doc-extractor/internal/queue/memory"
	"github.com/JakeFAU/doc-extractor/internal/registry"
	"github.com/JakeFAU/doc-extractor/internal/sink"
	"github.com/JakeFAU/doc-extractor/internal/sink/httpsink"
	"github.com/JakeFAU/doc-extractor/internal/sink/kafkasink"
	"github.com/JakeFAU/doc-extractor/internal/sink/neo4jsink"
	"github.com/JakeFAU/doc-extractor/internal/status"
	gcsstorage "github.com/JakeFAU/doc-extractor/internal/storage/gcs"
	localstorage "github.com/JakeFAU/doc-extractor/internal/storage/local"
	memoryStorage "github.com/JakeFAU/doc-extractor/internal/storage/memory"
	pgstore "github.com/JakeFAU/doc-extractor/internal/storage/postgres"
	redisstore "github.com/JakeFAU/doc-extractor/internal/storage/redis"
	"github.com/JakeFAU/doc-extractor/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Config{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
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

	if err := run(cfg, logger); err != nil {
		logger.Error("service exited", zap.Error(err))
		os.Exit(1)
	}
}

// closer releases a dependency during shutdown.
type closer func(ctx context.Context) error

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()
	var closers []closer
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod(cfg))
		defer cancel()
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](shutdownCtx); err != nil {
				logger.Warn("shutdown step failed", zap.Error(err))
			}
		}
	}()

	graphSink, closeSink, err := buildSink(ctx, cfg, logger.Named("sink"))
	if err != nil {
		return err
	}
	closers = append(closers, closeSink)

	archive, closeArchive, err := buildArchive(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closeArchive)

	publisher, closePublisher, err := buildPublisher(ctx, cfg)
	if err != nil {
		return err
	}
	closers = append(closers, closePublisher)

	var (
		snapshots registry.SnapshotStore
		checks    []api.ReadyCheck
	)
	if cfg.Registry.RedisAddr != "" {
		store := redisstore.New(cfg.Registry.RedisAddr, cfg.Registry.RedisPrefix, cfg.Registry.SnapshotTTL)
		if err := store.Ping(ctx); err != nil {
			logger.Warn("redis snapshot store unreachable at startup", zap.Error(err))
		}
		snapshots = store
		checks = append(checks, store.Ping)
		closers = append(closers, func(context.Context) error { return store.Close() })
	}
	if cfg.Registry.PostgresDSN != "" {
		store, err := pgstore.New(ctx, pgstore.Config{DSN: cfg.Registry.PostgresDSN, Table: cfg.Registry.PostgresTable})
		if err != nil {
			return fmt.Errorf("postgres snapshot store: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			logger.Warn("postgres schema setup failed", zap.Error(err))
		}
		snapshots = store
		checks = append(checks, store.Ping)
		closers = append(closers, func(context.Context) error {
			store.Close()
			return nil
		})
	}

	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("progress prometheus sink: %w", err)
	}
	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		progresssinks.NewLogSink(logger.Named("progress")),
		promSink,
	)
	closers = append(closers, hub.Close)

	queue := queueMemory.NewQueue(cfg.Crawler.QueueDepth)
	dispatch := dispatcher.New(queue, cfg.Crawler.MaxActiveJobs, logger.Named("dispatcher"))
	clk := clock.NewSystem()
	reg := registry.New(uuid.NewGenerator(), clk, dispatch, snapshots, registry.Config{
		KeepQuery:       cfg.Crawler.KeepQuery,
		ExpectedURLs:    cfg.Crawler.ExpectedURLs,
		Retention:       cfg.Registry.Retention,
		JanitorInterval: cfg.Registry.JanitorInterval,
	}, logger.Named("registry"))

	var (
		headless crawler.Fetcher = headlessfetcher.NewNoop()
		detect   crawler.HeadlessDetector
	)
	if cfg.Headless.Enabled {
		browser, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			WaitSelector:      cfg.Headless.WaitSelector,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = browser
			detect = detector.NewHeuristic(cfg.Headless.PromotionThresh)
			closers = append(closers, func(context.Context) error {
				browser.Close()
				return nil
			})
		}
	}

	w := worker.New(worker.Deps{
		Registry: reg,
		Probe: collyfetcher.New(collyfetcher.Config{
			UserAgent: cfg.Crawler.UserAgent,
			Timeout:   cfg.FetchTimeout(),
		}),
		Headless: headless,
		Detector: detect,
		Limiter: ratelimit.New(ratelimit.Config{
			DefaultRPS:   cfg.Crawler.DomainRPS,
			DefaultBurst: cfg.Crawler.DomainBurst,
		}),
		Scope:     scope.New(cfg.Crawler.AllowedHosts),
		Sink:      graphSink,
		Archive:   archive,
		Hasher:    sha256.New(),
		Publisher: publisher,
		Progress:  hub,
		Clock:     clk,
	}, worker.Config{
		Concurrency:           cfg.Crawler.Concurrency,
		PerJobConcurrency:     cfg.Crawler.PerJobConcurrency,
		FetchTimeout:          cfg.FetchTimeout(),
		FetchAttempts:         cfg.Crawler.FetchAttempts,
		FatalErrorRatio:       cfg.Crawler.FatalErrorRatio,
		FatalErrorMinAttempts: cfg.Crawler.FatalErrorMinAttempts,
		HeadlessAlways:        cfg.Headless.Always,
		ArchivePrefix:         cfg.Archive.Prefix,
		ContentType:           cfg.Archive.ContentType,
		Topic:                 cfg.Publisher.Topic,
	}, logger.Named("worker"))

	apiServer := api.NewServer(reg, status.NewReporter(reg), cfg, logger.Named("api"), checks...)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	workCtx, stopWork := context.WithCancel(context.Background())
	defer stopWork()
	dispatched := make(chan struct{})
	go func() {
		defer close(dispatched)
		logger.Info("dispatcher started", zap.Int("max_active_jobs", cfg.Crawler.MaxActiveJobs))
		dispatch.Run(workCtx, w)
	}()
	go reg.RunJanitor(workCtx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracePeriod(cfg))
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	stopWork()
	select {
	case <-dispatched:
	case <-shutdownCtx.Done():
		logger.Warn("running extractions did not stop before the grace period ended")
	}
	logger.Info("shutdown complete")

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func gracePeriod(cfg config.Config) time.Duration {
	if cfg.Server.ShutdownGraceSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(cfg.Server.ShutdownGraceSeconds) * time.Second
}

func noopCloser(context.Context) error { return nil }

// buildSink returns the graph sink wrapped with retries and an async buffer.
func buildSink(ctx context.Context, cfg config.Config, logger *zap.Logger) (crawler.Sink, closer, error) {
	timeout := time.Duration(cfg.Sink.TimeoutSeconds) * time.Second
	var (
		base      crawler.Sink
		closeBase = noopCloser
	)
	switch cfg.Sink.Kind {
	case config.SinkNone:
		return sink.Noop{}, noopCloser, nil
	case config.SinkMemory:
		base = sink.NewMemory()
	case config.SinkHTTP:
		s, err := httpsink.New(httpsink.Config{BaseURL: cfg.Sink.BaseURL, Timeout: timeout}, nil)
		if err != nil {
			return nil, nil, fmt.Errorf("http sink: %w", err)
		}
		base = s
	case config.SinkNeo4j:
		s, err := neo4jsink.New(ctx, neo4jsink.Config{
			URI:      cfg.Sink.Neo4jURI,
			User:     cfg.Sink.Neo4jUser,
			Password: cfg.Sink.Neo4jPassword,
			Database: cfg.Sink.Neo4jDatabase,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("neo4j sink: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			logger.Warn("neo4j schema setup failed", zap.Error(err))
		}
		base = s
		closeBase = s.Close
	case config.SinkKafka:
		s, err := kafkasink.New(cfg.Sink.KafkaBrokers, cfg.Sink.KafkaTopic)
		if err != nil {
			return nil, nil, fmt.Errorf("kafka sink: %w", err)
		}
		base = s
		closeBase = func(context.Context) error { return s.Close() }
	default:
		return nil, nil, fmt.Errorf("unknown sink kind %q", cfg.Sink.Kind)
	}

	policy := crawler.NewExponentialRetryPolicy(
		cfg.Sink.MaxAttempts,
		time.Duration(cfg.Sink.BackoffInitialMs)*time.Millisecond,
		time.Duration(cfg.Sink.BackoffMaxMs)*time.Millisecond,
	)
	async := sink.NewAsync(sink.NewRetrying(base, policy, logger), sink.AsyncConfig{
		Buffer:  cfg.Sink.Buffer,
		Workers: cfg.Sink.Workers,
		Timeout: timeout * time.Duration(max(cfg.Sink.MaxAttempts, 1)),
	}, logger)
	logger.Info("graph sink ready", zap.String("kind", cfg.Sink.Kind))
	return async, func(ctx context.Context) error {
		drainErr := async.Close(ctx)
		return errors.Join(drainErr, closeBase(ctx))
	}, nil
}

// buildArchive returns the page archive, or nil when archiving is off.
func buildArchive(ctx context.Context, cfg config.Config) (crawler.BlobStore, closer, error) {
	switch cfg.Archive.Kind {
	case config.ArchiveNone:
		return nil, noopCloser, nil
	case config.ArchiveMemory:
		return memoryStorage.NewBlobStore(), noopCloser, nil
	case config.ArchiveLocal:
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, nil, fmt.Errorf("local archive: %w", err)
		}
		return store, noopCloser, nil
	case config.ArchiveGCS:
		store, err := gcsstorage.Dial(ctx, gcsstorage.Config{Bucket: cfg.Archive.GCSBucket})
		if err != nil {
			return nil, nil, fmt.Errorf("gcs archive: %w", err)
		}
		return store, func(context.Context) error { return store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown archive kind %q", cfg.Archive.Kind)
	}
}

// buildPublisher returns the completion notifier, or nil when disabled.
func buildPublisher(ctx context.Context, cfg config.Config) (crawler.Publisher, closer, error) {
	switch cfg.Publisher.Kind {
	case config.PublisherNone:
		return nil, noopCloser, nil
	case config.PublisherMemory:
		return memorypublisher.New(), noopCloser, nil
	case config.PublisherPubSub:
		p, err := pubsubpublisher.New(ctx, cfg.Publisher.ProjectID)
		if err != nil {
			return nil, nil, fmt.Errorf("pubsub publisher: %w", err)
		}
		return p, func(context.Context) error { return p.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown publisher kind %q", cfg.Publisher.Kind)
	}
}
