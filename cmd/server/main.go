package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"

	"msglog/internal/messagelog/archiver"
	"msglog/internal/messagelog/cleaner"
	"msglog/internal/messagelog/diagnostics"
	"msglog/internal/messagelog/handler"
	"msglog/internal/messagelog/manager"
	"msglog/internal/messagelog/metrics"
	"msglog/internal/messagelog/models"
	"msglog/internal/messagelog/ports"
	"msglog/internal/messagelog/queue"
	"msglog/internal/messagelog/scheduler"
	"msglog/internal/messagelog/store"
	"msglog/internal/messagelog/timestamper"
	"msglog/internal/platform/config"
	"msglog/internal/platform/httpserver"
	"msglog/internal/platform/kafka"
	"msglog/internal/platform/logger"
	httpmetrics "msglog/internal/platform/metrics"
	"msglog/internal/platform/postgres"
	"msglog/internal/platform/redis"
	"msglog/pkg/platform/digest"
)

const shutdownGrace = 10 * time.Second

// main wires the message log workers under one supervisor and serves the
// diagnostics API until SIGINT or SIGTERM.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("message log stopped with error", "error", err)
		os.Exit(1)
	}
	log.Info("message log stopped")
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	alg, err := digest.Parse(cfg.MessageLog.HashAlgorithm)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var checks []handler.Option

	repo, db, err := openRepository(ctx, cfg.Postgres, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		checks = append(checks, handler.WithHealthCheck("postgres", db.PingContext))
	}

	pending, rdb, err := openPendingStore(ctx, cfg.Redis, log)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		checks = append(checks, handler.WithHealthCheck("redis", rdb.Health))
	}

	conf := config.NewStatic(cfg.MessageLog)
	tracker := diagnostics.NewTracker(
		diagnostics.WithLogger(log),
		diagnostics.WithMetrics(m),
	)
	tracker.Init(conf.TSAURLs(), time.Now())

	client := timestamper.NewClient(
		timestamper.NewSignerProvider(cfg.Signer.URL, nil),
		conf,
		timestamper.WithTimeout(cfg.MessageLog.TimestampTimeout),
		timestamper.WithObserver(tracker),
		timestamper.WithAlgorithm(alg),
		timestamper.WithTracer(otel.Tracer("msglog/timestamper")),
		timestamper.WithLogger(log),
	)

	q := queue.New(pending, repo, client,
		queue.WithMaxBatchSize(cfg.MessageLog.MaxBatchSize),
		queue.WithLogger(log),
		queue.WithMetrics(m),
	)

	mgr := manager.New(repo, conf, client, q, tracker, manager.Config{
		TimestampImmediately:    cfg.MessageLog.TimestampImmediately,
		AcceptableFailurePeriod: cfg.MessageLog.AcceptableTimestampFailurePeriod,
		HashAlgorithm:           alg,
		BodyLogging:             cfg.MessageLog.BodyLogging,
		BodyLoggingOverrides:    memberIDs(cfg.MessageLog.BodyLoggingOverrides),
	},
		manager.WithLogger(log),
		manager.WithMetrics(m),
	)
	q.SetPoster(mgr)

	if err := q.Recover(ctx); err != nil {
		log.WarnContext(ctx, "could not re-enqueue unstamped records", "error", err)
	}

	archiveOpts := []archiver.Option{
		archiver.WithTempDir(cfg.MessageLog.TempFilesPath),
		archiver.WithAlgorithm(alg),
		archiver.WithMaxRecords(cfg.MessageLog.ArchiveMaxRecords),
		archiver.WithTransactionSize(cfg.MessageLog.ArchiveTransactionSize),
		archiver.WithLogger(log),
		archiver.WithMetrics(m),
	}
	if len(cfg.Kafka.Brokers) > 0 {
		producer, err := kafka.NewProducer(ctx, kafka.Config{Brokers: cfg.Kafka.Brokers, ClientID: "msglog"})
		if err != nil {
			return err
		}
		defer producer.Close()
		archiveOpts = append(archiveOpts, archiver.WithNotifier(archiver.NewKafkaNotifier(producer, cfg.Kafka.ArchiveTopic)))
		checks = append(checks, handler.WithHealthCheck("kafka", producer.Health))
	}
	arch := archiver.New(repo, cfg.MessageLog.ArchivePath, archiveOpts...)

	clean, err := cleaner.New(repo,
		cleaner.WithKeepRecordsFor(cfg.MessageLog.KeepRecordsFor),
		cleaner.WithUnitRetention(arch, cfg.MessageLog.ArchiveRetention),
		cleaner.WithLogger(log),
		cleaner.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	drainSignals := make(chan struct{}, 1)
	archiveSignals := make(chan struct{}, 1)
	cleanSignals := make(chan struct{}, 1)

	job := scheduler.NewTimestamperJob(conf, drainSignals,
		scheduler.WithInitialDelay(cfg.MessageLog.TimestamperInitialDelay),
		scheduler.WithJobLogger(log),
	)
	archiveTrigger := scheduler.NewCronTrigger("archive",
		scheduler.ParseOrDefault(cfg.MessageLog.ArchiveInterval, scheduler.DefaultArchiveInterval, log),
		archiveSignals,
		scheduler.WithTriggerLogger(log),
	)
	cleanTrigger := scheduler.NewCronTrigger("clean",
		scheduler.ParseOrDefault(cfg.MessageLog.CleanInterval, scheduler.DefaultCleanInterval, log),
		cleanSignals,
		scheduler.WithTriggerLogger(log),
	)

	h := handler.New(mgr, arch, reg, append(checks,
		handler.WithLogger(log),
		handler.WithMetrics(httpmetrics.New(reg)),
	)...)
	srv := httpserver.New(cfg.Server.Addr, h.Router())

	sup := manager.NewSupervisor(manager.WithSupervisorLogger(log))
	sup.Add("post-worker", mgr.RunPostWorker)
	sup.Add("task-queue", func(ctx context.Context) error { return q.Run(ctx, drainSignals) })
	sup.Add("timestamper-job", job.Run)
	sup.Add("archive-trigger", archiveTrigger.Run)
	sup.Add("archiver", func(ctx context.Context) error { return arch.Run(ctx, archiveSignals) })
	sup.Add("clean-trigger", cleanTrigger.Run)
	sup.Add("cleaner", func(ctx context.Context) error { return clean.Run(ctx, cleanSignals) })
	sup.Add("http", func(ctx context.Context) error { return httpserver.Serve(ctx, srv, shutdownGrace) })

	log.InfoContext(ctx, "starting message log",
		"addr", cfg.Server.Addr,
		"tsa_urls", conf.TSAURLs(),
		"timestamp_immediately", cfg.MessageLog.TimestampImmediately,
		"archive_path", cfg.MessageLog.ArchivePath,
	)
	return sup.Run(ctx)
}

func openRepository(ctx context.Context, cfg config.Postgres, log *slog.Logger) (ports.Repository, *sql.DB, error) {
	db, err := postgres.Open(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if db == nil {
		log.WarnContext(ctx, "no database configured, records are kept in memory")
		return store.NewInMemoryRepository(), nil, nil
	}
	repo := store.NewPostgres(db)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return repo, db, nil
}

func openPendingStore(ctx context.Context, cfg config.Redis, log *slog.Logger) (queue.PendingStore, *redis.Client, error) {
	client, err := redis.New(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if client == nil {
		log.WarnContext(ctx, "no redis configured, pending queue is kept in memory")
		return queue.NewMemoryStore(), nil, nil
	}
	return queue.NewRedisStore(client.Client), client, nil
}

func memberIDs(ids []string) []models.MemberID {
	out := make([]models.MemberID, len(ids))
	for i, id := range ids {
		out[i] = models.MemberID(id)
	}
	return out
}
