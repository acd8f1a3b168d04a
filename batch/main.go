package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/DeafMist/posts-pipeline/internal/config"
	"github.com/DeafMist/posts-pipeline/internal/elasticsearch"
	"github.com/DeafMist/posts-pipeline/internal/events"
	"github.com/DeafMist/posts-pipeline/internal/logger"
	"github.com/DeafMist/posts-pipeline/internal/pipeline"
	"github.com/DeafMist/posts-pipeline/internal/processing"
	"github.com/DeafMist/posts-pipeline/internal/report"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.New("batch")
	cfg, err := config.LoadBatch()
	if err != nil {
		log.Error("load config", slog.Any("err", err))
		return 1
	}

	log, closeLog, err := logger.NewWithFile("batch", cfg.LogFile)
	if err != nil {
		logger.New("batch").Error("open log file", slog.Any("err", err))
		return 1
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	publisher := newPublisher(cfg)
	defer func() {
		if err := publisher.Close(); err != nil {
			log.Warn("close event publisher", slog.Any("err", err))
		}
	}()

	runID := uuid.NewString()
	log.Info("batch started",
		slog.String("run_id", runID),
		slog.String("posts", cfg.PostsPath),
		slog.String("index", cfg.ElasticsearchIndex),
		slog.Bool("events", cfg.EventsEnabled()),
	)

	if err := runPipelines(ctx, log, cfg, publisher, runID, func() (*elasticsearch.Client, error) {
		return elasticsearch.New(cfg.ElasticsearchAddr, cfg.ElasticsearchIndex, log)
	}); err != nil {
		log.Error("batch failed", slog.String("run_id", runID), slog.Any("err", err))
		return 1
	}

	log.Info("batch finished", slog.String("run_id", runID))
	return 0
}

func newPublisher(cfg *config.Batch) events.Publisher {
	if !cfg.EventsEnabled() {
		return events.Nop{}
	}
	return events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
}

// newIngester keeps posts above the fixed view-count threshold.
func newIngester(log *slog.Logger, store pipeline.Loader, publisher events.Publisher, runID string) *pipeline.Ingester {
	return &pipeline.Ingester{
		Store:     store,
		Events:    publisher,
		Log:       log.With(slog.String("step", "ingest")),
		Threshold: processing.DefaultViewCountThreshold,
		RunID:     runID,
	}
}

// runPipelines loads the export and then renders the reports. Each step gets
// its own store connection; reporting is skipped when ingestion fails.
func runPipelines(
	ctx context.Context,
	log *slog.Logger,
	cfg *config.Batch,
	publisher events.Publisher,
	runID string,
	connect func() (*elasticsearch.Client, error),
) error {
	loadConn, err := connect()
	if err != nil {
		return err
	}

	ingester := newIngester(log, loadConn, publisher, runID)
	if _, err := ingester.Run(ctx, cfg.PostsPath); err != nil {
		return err
	}

	queryConn, err := connect()
	if err != nil {
		return err
	}

	reporter := &pipeline.Reporter{
		Store:            queryConn,
		Writer:           report.NewRenderer(log),
		Events:           publisher,
		Log:              log.With(slog.String("step", "report")),
		Keywords:         cfg.Keywords,
		AboveAveragePath: cfg.AboveAveragePath(),
		KeywordsPath:     cfg.KeywordsPath(),
		RunID:            runID,
	}
	return reporter.Run(ctx)
}
