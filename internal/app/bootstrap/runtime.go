// Package bootstrap wires the intake engine's components from configuration.
// Both binaries (API and worker) build the same runtime so triage, matching
// and notifications behave identically regardless of which process drives
// them.
package bootstrap

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/relayhq/intake-engine/internal/bam"
	appconfig "github.com/relayhq/intake-engine/internal/config"
	"github.com/relayhq/intake-engine/internal/contacts"
	"github.com/relayhq/intake-engine/internal/conversations"
	"github.com/relayhq/intake-engine/internal/distribution"
	"github.com/relayhq/intake-engine/internal/events"
	"github.com/relayhq/intake-engine/internal/notify"
	"github.com/relayhq/intake-engine/internal/observability/metrics"
	"github.com/relayhq/intake-engine/internal/operators"
	"github.com/relayhq/intake-engine/internal/routing"
	"github.com/relayhq/intake-engine/internal/sweeper"
	"github.com/relayhq/intake-engine/internal/triage"
	"github.com/relayhq/intake-engine/internal/waitqueue"
	"github.com/relayhq/intake-engine/internal/window"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// Deps carries the external clients the runtime builds on. Nil entries
// degrade gracefully: no SES means stub email, no Bedrock means default
// classification, no queue means an in-process memory queue.
type Deps struct {
	Queue   events.Queue
	SES     *sesv2.Client
	Bedrock *bedrockruntime.Client
}

// Runtime is the wired intake engine.
type Runtime struct {
	Cfg     *appconfig.Config
	Logger  *logging.Logger
	Pool    *pgxpool.Pool
	SQLDB   *sql.DB
	Redis   *redis.Client
	Metrics *metrics.IntakeMetrics

	Conversations *conversations.Store
	Contacts      *contacts.Store
	Operators     *operators.Registry
	Entries       *waitqueue.Store
	Rules         *routing.Store
	Windows       *window.Tracker
	Queue         events.Queue
	Publisher     *events.Publisher
	Processed     *events.ProcessedStore
	Notifier      *notify.Service
	Matcher       *distribution.Matcher
	Pipeline      *triage.Pipeline
	Sweeper       *sweeper.Sweeper
	BAM           *bam.Handler
}

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		return nil
	}
	return client
}

// NewRuntime connects to Postgres and wires every component from cfg.
func NewRuntime(ctx context.Context, cfg *appconfig.Config, deps Deps, logger *logging.Logger) (*Runtime, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("bootstrap: DATABASE_URL is required")
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	sqlDB, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: open sql db: %w", err)
	}

	rdb := BuildRedisClient(ctx, cfg, logger, true)
	im := metrics.NewIntakeMetrics(prometheus.DefaultRegisterer)

	convStore := conversations.NewStore(pool)
	contactStore := contacts.NewStore(pool)
	entryStore := waitqueue.NewStore(pool)
	ruleStore := routing.NewStore(pool)

	presence := operators.NewPresence(rdb, cfg.PresenceTTL, logger)
	registry := operators.NewRegistry(operators.NewStore(pool), presence, logger)

	windowStore := window.NewStore(pool)
	tracker := window.NewTracker(windowStore, rdb, cfg.MessagingWindow, im, logger)

	queue := deps.Queue
	if queue == nil {
		logger.Warn("no event queue configured, using in-process memory queue")
		queue = events.NewMemoryQueue(256)
	}
	publisher := events.NewPublisher(queue, logger)
	processed := events.NewProcessedStore(pool)

	var email notify.EmailSender
	if deps.SES != nil && cfg.NotifyFromEmail != "" {
		email = notify.NewSESSender(deps.SES, notify.SESConfig{
			FromEmail: cfg.NotifyFromEmail,
			FromName:  cfg.NotifyFromName,
		}, logger)
	} else {
		email = notify.NewStubEmailSender(logger)
	}
	notifier := notify.NewService(email, registry, publisher, logger)

	assigner := distribution.NewAssigner(pool)
	matcher := distribution.NewMatcher(entryStore, registry, assigner, logger,
		distribution.WithRetryBudget(cfg.MatchMaxRetries),
		distribution.WithWalletOverage(cfg.WalletAllowsOverflow),
		distribution.WithSLAThreshold(cfg.SLAThreshold),
		distribution.WithNotifier(notifier),
		distribution.WithMetrics(im),
	)

	var converse triage.BedrockConverseAPI
	if deps.Bedrock != nil {
		converse = deps.Bedrock
	}
	classifier := triage.NewBedrockClassifier(converse, cfg.BedrockModelID, cfg.ClassifyTimeout, cfg.ClassifyMaxRetry, logger)
	evaluator := routing.NewEvaluator(ruleStore, logger)

	triageCfg := triage.Config{
		MaxAttempts:         cfg.TriageMaxAttempts,
		BackoffBase:         cfg.TriageBackoffBase,
		BackoffCap:          cfg.TriageBackoffCap,
		IdentifierScanLimit: cfg.IdentifierScanLimit,
		FallbackPriority:    cfg.FallbackPriority,
	}
	if cfg.DefaultQueueID != "" {
		id, err := uuid.Parse(cfg.DefaultQueueID)
		if err != nil {
			pool.Close()
			_ = sqlDB.Close()
			return nil, fmt.Errorf("bootstrap: invalid DEFAULT_QUEUE_ID: %w", err)
		}
		triageCfg.DefaultQueueID = id
	}
	pipeline := triage.NewPipeline(convStore, contactStore, classifier, evaluator, matcher, entryStore, triageCfg, logger)
	pipeline.SetPrompter(notifier)
	pipeline.SetMetrics(im)

	sw := sweeper.New(convStore, pipeline, entryStore, matcher, tracker, logger).
		WithInterval(cfg.SweepInterval).
		WithStaleAfter(cfg.QueueStaleAfter).
		WithClosingWindow(cfg.WindowClosingThreshold, 0).
		WithMetrics(im)

	aggregator := bam.NewAggregator(sqlDB, logger).
		WithSLAThreshold(cfg.SLAThreshold).
		WithSentimentWindow(time.Duration(cfg.SentimentWindowDays) * 24 * time.Hour)
	bamHandler := bam.NewHandler(aggregator, logger).
		WithRefreshInterval(cfg.BAMRefreshInterval).
		WithMetrics(im)

	return &Runtime{
		Cfg:           cfg,
		Logger:        logger,
		Pool:          pool,
		SQLDB:         sqlDB,
		Redis:         rdb,
		Metrics:       im,
		Conversations: convStore,
		Contacts:      contactStore,
		Operators:     registry,
		Entries:       entryStore,
		Rules:         ruleStore,
		Windows:       tracker,
		Queue:         queue,
		Publisher:     publisher,
		Processed:     processed,
		Notifier:      notifier,
		Matcher:       matcher,
		Pipeline:      pipeline,
		Sweeper:       sw,
		BAM:           bamHandler,
	}, nil
}

// Close releases the runtime's connections.
func (r *Runtime) Close() {
	if r.Pool != nil {
		r.Pool.Close()
	}
	if r.SQLDB != nil {
		_ = r.SQLDB.Close()
	}
	if r.Redis != nil {
		_ = r.Redis.Close()
	}
}
