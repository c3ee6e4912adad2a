// Command streamflow runs the whole pipeline in one process: the ingestion
// edge, the stream processor, the alert engine, the storage consumer, the
// dashboard query surface, and the periodic workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/jailtonjunior94/streamflow/internal/alerting"
	"github.com/jailtonjunior94/streamflow/internal/analytics"
	"github.com/jailtonjunior94/streamflow/internal/config"
	"github.com/jailtonjunior94/streamflow/internal/dashboard"
	"github.com/jailtonjunior94/streamflow/internal/fabric"
	"github.com/jailtonjunior94/streamflow/internal/httpclient"
	"github.com/jailtonjunior94/streamflow/internal/httpserver"
	"github.com/jailtonjunior94/streamflow/internal/ingest"
	"github.com/jailtonjunior94/streamflow/internal/observability"
	"github.com/jailtonjunior94/streamflow/internal/storage"
	"github.com/jailtonjunior94/streamflow/internal/stream"
	"github.com/jailtonjunior94/streamflow/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	o11y := observability.New(cfg.ServiceName,
		observability.WithLogger(observability.NewSlogLogger(
			observability.LogLevel(cfg.LogLevel),
			observability.LogFormat(cfg.LogFormat),
			cfg.ServiceName,
		)),
	)
	logger := o11y.Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var interrupted atomic.Bool
	go func() {
		sig := <-sigCh
		logger.Info(context.Background(), "signal received, shutting down",
			observability.String("signal", sig.String()),
		)
		if sig == os.Interrupt {
			interrupted.Store(true)
		}
		cancel()
	}()

	if err := runPipeline(ctx, cfg, o11y); err != nil {
		logger.Error(context.Background(), "pipeline terminated", observability.Error(err))
		return 1
	}

	if interrupted.Load() {
		// Conventional exit code for SIGINT-driven stops.
		return 130
	}
	return 0
}

func runPipeline(ctx context.Context, cfg config.Config, o11y observability.Observability) error {
	logger := o11y.Logger()

	// Storage first: a migration failure is fatal before anything consumes.
	db, err := storage.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer shutdownWithTimeout(db.Shutdown)

	if err := storage.Migrate(db.DB()); err != nil {
		return err
	}

	eventsRepo := storage.NewEventsRepository(db)
	alertsRepo := storage.NewAlertsRepository(db)

	// Broker client plus the full topology; declaration failure is fatal.
	client, err := fabric.New(o11y,
		fabric.WithURL(cfg.RabbitMQURL),
		fabric.WithServiceName(cfg.ServiceName),
		fabric.WithPrefetchCount(cfg.PrefetchCount),
		fabric.WithMaxRetries(cfg.MaxRetries),
	)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer shutdownWithTimeout(client.Shutdown)

	if err := fabric.DeclareTopology(ctx, client); err != nil {
		return err
	}

	publisher := fabric.NewPublisher(client)
	defer publisher.Close()

	// Analytics read side; the cache is optional.
	cache, err := analytics.NewCache(cfg.RedisURL, o11y)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() { _ = cache.Close() }()
	analyticsService := analytics.NewService(db, cache)

	// Stream processor.
	processor, err := stream.NewProcessor(o11y, publisher)
	if err != nil {
		return fmt.Errorf("build processor: %w", err)
	}
	streamService := stream.NewService(client, processor, o11y)

	// Alert engine with its notification channels.
	channels := []alerting.Channel{
		alerting.NewEmailChannel(alerting.EmailConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			To:       cfg.SMTPTo,
		}),
		alerting.NewSlackChannel(cfg.SlackToken, cfg.SlackChannel),
		alerting.NewWebhookChannel(cfg.WebhookURL, httpclient.New()),
	}
	engine, err := alerting.NewEngine(alertsRepo, channels, o11y,
		alerting.WithNotifyTimeout(cfg.NotificationTimeout),
	)
	if err != nil {
		return fmt.Errorf("build alert engine: %w", err)
	}
	alertingService := alerting.NewService(client, engine, o11y)

	// Storage consumer.
	storageService := storage.NewService(client, eventsRepo, o11y)

	// Ingestion edge.
	ingestService := ingest.NewService(publisher, o11y,
		ingest.WithQueueSize(cfg.PublishQueueSize),
	)
	defer shutdownWithTimeout(ingestService.Shutdown)

	// Periodic jobs: hourly retention sweep, per-minute escalation scan.
	retention := storage.NewRetention(eventsRepo, storage.RetentionPolicy{
		DefaultDays: cfg.DefaultRetentionDays,
		PerType:     cfg.RetentionPolicies,
	}, o11y)

	jobs := worker.New(o11y)
	if err := jobs.RegisterJobs(
		worker.NewFuncJob("retention_sweep", "0 * * * *", func(ctx context.Context) error {
			_, err := retention.Sweep(ctx)
			return err
		}),
		worker.NewFuncJob("escalation_scan", "* * * * *", func(ctx context.Context) error {
			engine.ScanEscalations(ctx)
			return nil
		}),
	); err != nil {
		return err
	}

	// HTTP surfaces.
	ingestServer, err := httpserver.New(o11y,
		httpserver.WithPort(cfg.HTTPPort),
		httpserver.WithServiceInfo(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment),
		httpserver.WithCORS(corsOrigins(cfg)),
		httpserver.WithHealthCheck("database", db.Ping),
		httpserver.WithHealthCheck("broker", client.Ping),
	)
	if err != nil {
		return fmt.Errorf("build ingestion server: %w", err)
	}
	ingestServer.RegisterRouters(
		ingest.NewHandler(ingestService, eventsRepo),
		ingest.NewWSHandler(ingestService, o11y),
	)

	dashboardServer, err := httpserver.New(o11y,
		httpserver.WithPort(cfg.DashboardPort),
		httpserver.WithServiceInfo(cfg.ServiceName, cfg.ServiceVersion, cfg.Environment),
		httpserver.WithCORS(corsOrigins(cfg)),
		httpserver.WithMetrics(),
		httpserver.WithHealthCheck("database", db.Ping),
		httpserver.WithHealthCheck("broker", client.Ping),
	)
	if err != nil {
		return fmt.Errorf("build dashboard server: %w", err)
	}
	dashboardServer.RegisterRouters(
		dashboard.NewHandler(db, eventsRepo, alertsRepo, analyticsService, engine),
	)

	logger.Info(ctx, "streamflow starting",
		observability.String("version", cfg.ServiceVersion),
		observability.String("environment", cfg.Environment),
		observability.String("http_port", cfg.HTTPPort),
		observability.String("dashboard_port", cfg.DashboardPort),
	)

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return streamService.Run(ctx) })
	group.Go(func() error { return alertingService.Run(ctx) })
	group.Go(func() error { return storageService.Run(ctx) })
	group.Go(func() error { return jobs.Start(ctx) })
	group.Go(func() error { return ingestServer.Start(ctx) })
	group.Go(func() error { return dashboardServer.Start(ctx) })

	err = group.Wait()

	shutdownWithTimeout(ingestServer.Shutdown)
	shutdownWithTimeout(dashboardServer.Shutdown)

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info(context.Background(), "streamflow stopped")
	return nil
}

func corsOrigins(cfg config.Config) string {
	if cfg.CORSOrigins == "" {
		return "*"
	}
	return cfg.CORSOrigins
}

func shutdownWithTimeout(shutdown func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = shutdown(ctx)
}
