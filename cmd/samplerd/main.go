package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/lmittmann/tint"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tracklab/framesampler/internal/appearance"
	"github.com/tracklab/framesampler/internal/config"
	"github.com/tracklab/framesampler/internal/dataset"
	"github.com/tracklab/framesampler/internal/metrics"
	"github.com/tracklab/framesampler/internal/queue"
	"github.com/tracklab/framesampler/internal/recorder"
	"github.com/tracklab/framesampler/internal/sampler"
	"github.com/tracklab/framesampler/internal/storage"
	"github.com/tracklab/framesampler/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Configure logger
	logger := slog.New(
		tint.NewHandler(os.Stderr, &tint.Options{
			Level:      parseLevel(cfg.LogLevel),
			TimeFormat: "15:04:05",
		}),
	)

	logger.Info("starting samplerd")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Sequence metadata
	ds, err := dataset.Load(cfg.SequenceFile)
	if err != nil {
		logger.Error("failed to load sequences", "err", err)
		os.Exit(1)
	}
	logger.Info("sequences loaded", "count", ds.NumSequences(), "file", cfg.SequenceFile)

	// Sampling strategy and picker
	mode, err := sampler.ParseMode(cfg.SamplerMode)
	if err != nil {
		logger.Error("invalid sampler mode", "err", err)
		os.Exit(1)
	}
	strategy, err := sampler.NewStrategy(mode, cfg.NumTemplates, cfg.NumSearch, cfg.MaxGap, cfg.MaxRetries)
	if err != nil {
		logger.Error("invalid sampler settings", "err", err)
		os.Exit(1)
	}
	picker, err := dataset.NewPicker(ds, strategy, cfg.PosProb, cfg.SequenceRetries)
	if err != nil {
		logger.Error("invalid picker settings", "err", err)
		os.Exit(1)
	}

	// Database
	if err := storage.InitSchema(ctx, cfg.DatabaseURL); err != nil {
		logger.Error("failed to init schema", "err", err)
		os.Exit(1)
	}
	store, err := storage.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to postgres", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	// Recorder and appearance features
	rec, err := recorder.New(cfg.RecorderDir, cfg.RecorderBatchSize)
	if err != nil {
		logger.Error("failed to init recorder", "err", err)
		os.Exit(1)
	}
	features := appearance.NewService(nil, cfg.WorkerCount)
	defer features.Close()

	// RabbitMQ publisher connection
	rmqConn, err := amqp.Dial(cfg.AMQPURL)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", "err", err)
		os.Exit(1)
	}
	defer rmqConn.Close()

	pub, err := queue.NewPublisher(rmqConn, cfg.Exchange)
	if err != nil {
		logger.Error("failed to create publisher", "err", err)
		os.Exit(1)
	}
	resultPub, err := queue.NewResultPublisher(pub, cfg.ResultQueue)
	if err != nil {
		logger.Error("failed to create result publisher", "err", err)
		os.Exit(1)
	}
	dlqPub := queue.NewDLQPublisher(pub, cfg.DLQ)

	// Worker
	w := worker.New(
		ds, strategy, picker, features,
		store, resultPub, dlqPub,
		rec, recorder.EpochGate(cfg.RecorderEpochs),
		logger,
		worker.Config{DrawWorkers: cfg.WorkerCount},
	)

	// Metrics server
	metricsSrv := metrics.StartServer(cfg.MetricsPort, logger)

	// Consumer
	consumer, err := queue.NewConsumer(cfg, w.Handle, logger)
	if err != nil {
		logger.Error("failed to create consumer", "err", err)
		os.Exit(1)
	}

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	logger.Info("samplerd started, consuming requests", "queue", cfg.RequestQueue)

	if err := consumer.Start(ctx); err != nil {
		logger.Error("consumer error", "err", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Shutdown(shutdownCtx)

	consumer.Close()
	if err := rec.Flush(); err != nil {
		logger.Warn("failed to flush recorder on shutdown", "err", err)
	}
	logger.Info("samplerd stopped")
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
