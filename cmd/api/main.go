package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relayhq/intake-engine/cmd/mainconfig"
	"github.com/relayhq/intake-engine/internal/api/router"
	"github.com/relayhq/intake-engine/internal/app/bootstrap"
	appconfig "github.com/relayhq/intake-engine/internal/config"
	"github.com/relayhq/intake-engine/internal/events"
	"github.com/relayhq/intake-engine/internal/http/handlers"
	"github.com/relayhq/intake-engine/internal/operators"
	"github.com/relayhq/intake-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting intake-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	// The BAM refresh loop keeps the dashboard snapshot warm and pushes it
	// to live websocket subscribers.
	go rt.BAM.Run(ctx)

	adminIntake := handlers.NewAdminIntakeHandler(rt.Entries, rt.Matcher, rt.Conversations, rt.Pipeline, logger)
	adminIntake.SetReleaser(rt.Sweeper)
	adminIntake.SetSlotFreer(rt.Operators)

	// The in-memory queue lives inside this process, so webhook events would
	// never reach a separate worker. Consume them here instead.
	var consumer *events.Consumer
	if cfg.UseMemoryQueue {
		consumer = events.NewConsumer(rt.Queue, rt.Pipeline, rt.Conversations, rt.Windows, logger,
			events.WithWorkers(cfg.WorkerCount), events.WithDeduper(rt.Processed))
		go rt.Sweeper.Run(ctx)
	}

	routerCfg := &router.Config{
		Logger:             logger,
		Operators:          operators.NewHandler(rt.Operators, logger),
		Webhook:            handlers.NewChannelWebhookHandler(rt.Publisher, logger),
		AdminIntake:        adminIntake,
		AdminRules:         handlers.NewAdminRulesHandler(rt.Rules, logger),
		BAM:                rt.BAM,
		MetricsHandler:     promhttp.Handler(),
		AdminAuthSecret:    cfg.AdminJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
	}
	r := router.New(routerCfg)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	if consumer != nil {
		if err := consumer.Shutdown(shutdownCtx); err != nil {
			logger.Error("consumer shutdown failed", "error", err)
		}
	}

	logger.Info("server stopped")
}
