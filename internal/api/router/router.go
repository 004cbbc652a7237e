package router

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/relayhq/intake-engine/internal/bam"
	"github.com/relayhq/intake-engine/internal/http/handlers"
	httpmiddleware "github.com/relayhq/intake-engine/internal/http/middleware"
	"github.com/relayhq/intake-engine/internal/operators"
	"github.com/relayhq/intake-engine/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger *logging.Logger

	Operators   *operators.Handler
	Webhook     *handlers.ChannelWebhookHandler
	AdminIntake *handlers.AdminIntakeHandler
	AdminRules  *handlers.AdminRulesHandler
	BAM         *bam.Handler

	MetricsHandler http.Handler

	AdminAuthSecret    string
	CORSAllowedOrigins []string
	WebhookRatePerSec  float64
	WebhookBurst       int
}

// New creates the chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, webhook ingest, metrics, BAM feed.
	r.Group(func(public chi.Router) {
		public.Get("/healthz", handleHealth)
		if cfg.Webhook != nil {
			rate := cfg.WebhookRatePerSec
			burst := cfg.WebhookBurst
			if rate <= 0 {
				rate = 50
			}
			if burst <= 0 {
				burst = 100
			}
			public.With(httpmiddleware.RateLimit(rate, burst)).
				Post("/webhooks/messages", cfg.Webhook.HandleMessage)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.BAM != nil {
			public.Get("/bam/snapshot", cfg.BAM.HandleSnapshot)
			public.Get("/bam/live", cfg.BAM.HandleLive)
		}
	})

	// Operator presence and availability.
	if cfg.Operators != nil {
		r.Route("/operators/{operatorID}", func(op chi.Router) {
			op.Get("/", cfg.Operators.Get)
			op.Put("/status", cfg.Operators.SetStatus)
			op.Post("/heartbeat", cfg.Operators.Heartbeat)
		})
	}

	// Supervisor endpoints, JWT-protected.
	if cfg.AdminAuthSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			if cfg.AdminIntake != nil {
				admin.Get("/queue", cfg.AdminIntake.ListQueue)
				admin.Post("/assignments", cfg.AdminIntake.AssignManually)
				admin.Post("/operators/{operatorID}/release", cfg.AdminIntake.ReleaseOperator)
				admin.Route("/conversations/{conversationID}", func(conv chi.Router) {
					conv.Get("/", cfg.AdminIntake.GetConversation)
					conv.Post("/close", cfg.AdminIntake.CloseConversation)
					conv.Post("/retry", cfg.AdminIntake.RetryConversation)
				})
			}
			if cfg.AdminRules != nil {
				admin.Get("/rules", cfg.AdminRules.ListRules)
				admin.Post("/rules", cfg.AdminRules.CreateRule)
				admin.Patch("/rules/{ruleID}", cfg.AdminRules.SetRuleActive)
			}
		})
	}

	return r
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
