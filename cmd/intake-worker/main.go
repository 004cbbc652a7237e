package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"

	"github.com/relayhq/intake-engine/cmd/mainconfig"
	"github.com/relayhq/intake-engine/internal/app/bootstrap"
	appconfig "github.com/relayhq/intake-engine/internal/config"
	"github.com/relayhq/intake-engine/internal/events"
	"github.com/relayhq/intake-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting intake worker", "env", cfg.Env, "workers", cfg.WorkerCount)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.UseMemoryQueue {
		// A memory queue is process-local: events published by the API server
		// can never reach this process. The API server consumes them itself
		// in that mode.
		logger.Error("USE_MEMORY_QUEUE is set; the API server consumes events in-process, a separate worker would sit idle")
		os.Exit(1)
	}

	deps := bootstrap.Deps{}
	if !cfg.UseMemoryQueue || cfg.NotifyFromEmail != "" || cfg.BedrockModelID != "" {
		awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		if !cfg.UseMemoryQueue && cfg.EventQueueURL != "" {
			deps.Queue = events.NewSQSQueue(sqs.NewFromConfig(awsCfg), cfg.EventQueueURL)
		}
		if cfg.NotifyFromEmail != "" {
			deps.SES = sesv2.NewFromConfig(awsCfg)
		}
		if cfg.BedrockModelID != "" {
			deps.Bedrock = bedrockruntime.NewFromConfig(awsCfg)
		}
	}

	rt, err := bootstrap.NewRuntime(ctx, cfg, deps, logger)
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	consumer := events.NewConsumer(
		rt.Queue,
		rt.Pipeline,
		rt.Conversations,
		rt.Windows,
		logger,
		events.WithWorkers(cfg.WorkerCount),
		events.WithDeduper(rt.Processed),
	)

	// The sweeper shares the worker process: retries, stale rescues and
	// window boosts ride the same deploy unit as triage.
	go rt.Sweeper.Run(ctx)

	<-ctx.Done()
	logger.Info("shutting down intake worker...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := consumer.Shutdown(shutdownCtx); err != nil {
		logger.Error("intake worker shutdown timed out", "error", err)
		os.Exit(1)
	}
	logger.Info("intake worker stopped")
}
