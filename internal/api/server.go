package api

import (
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/scribe/backend/internal/api/handlers"
	"github.com/scribe/backend/internal/api/middleware"
	"github.com/scribe/backend/internal/api/websocket"
	"github.com/scribe/backend/internal/modules/assistant"
	"github.com/scribe/backend/internal/modules/subscription"
	"github.com/scribe/backend/internal/modules/uploads"
	"github.com/scribe/backend/internal/shared/config"
	"github.com/scribe/backend/internal/shared/database"
	"github.com/scribe/backend/internal/shared/metrics"
	"go.uber.org/zap"
)

// ServerConfig holds dependencies for the API server
type ServerConfig struct {
	Config          *config.Config
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	DB              *database.Postgres // optional, readiness only
	Redis           *database.Redis    // optional, rate limiting and readiness
	WSHub           *websocket.Hub
	Uploads         *uploads.Module
	Transcriptions  handlers.TranscriptionStatus // optional
	Assistant       *assistant.Service
	SubscriptionSvc *subscription.Service
	// Auth overrides the Clerk middleware built from Config
	Auth *middleware.AuthMiddleware
}

// Server represents the API server
type Server struct {
	config          *config.Config
	logger          *zap.Logger
	metrics         *metrics.Metrics
	db              *database.Postgres
	redis           *database.Redis
	wsHub           *websocket.Hub
	uploads         *uploads.Module
	transcriptions  handlers.TranscriptionStatus
	assistant       *assistant.Service
	subscriptionSvc *subscription.Service
	auth            *middleware.AuthMiddleware
}

// NewServer creates a new API server
func NewServer(cfg ServerConfig) *Server {
	return &Server{
		config:          cfg.Config,
		logger:          cfg.Logger,
		metrics:         cfg.Metrics,
		db:              cfg.DB,
		redis:           cfg.Redis,
		wsHub:           cfg.WSHub,
		uploads:         cfg.Uploads,
		transcriptions:  cfg.Transcriptions,
		assistant:       cfg.Assistant,
		subscriptionSvc: cfg.SubscriptionSvc,
		auth:            cfg.Auth,
	}
}

// Router returns the configured HTTP router
func (s *Server) Router() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.SecurityHeaders)
	if s.metrics != nil {
		r.Use(middleware.MetricsMiddleware(s.metrics))
	}

	// With AllowedOrigins=["*"] and AllowCredentials=true, go-chi/cors reflects the
	// request's Origin header back instead of sending a literal "*".
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS", "HEAD"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", middleware.UserIDHeader},
		ExposedHeaders:   []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rateLimiter := middleware.NewRateLimiter(s.redisClient(), s.logger)
	r.Use(rateLimiter.Limit(middleware.GlobalRateLimit))

	auth := s.auth
	if auth == nil {
		auth = middleware.NewClerkAuthMiddleware(s.config.ClerkSecretKey, s.logger)
	}

	deps := map[string]handlers.Pinger{}
	if s.db != nil {
		deps["postgres"] = s.db
	}
	if s.redis != nil {
		deps["redis"] = s.redis
	}
	healthHandler := handlers.NewHealthHandler(deps)
	uploadHandler := handlers.NewUploadHandler(s.uploads, s.transcriptions, s.logger)
	aiHandler := handlers.NewAIHandler(s.assistant, s.logger)
	stripeHandler := handlers.NewStripeHandler(s.subscriptionSvc, handlers.StripeConfig{
		SecretKey:     s.config.StripeSecretKey,
		WebhookSecret: s.config.StripeWebhookSecret,
		ProPriceID:    s.config.StripeProPriceID,
		SuccessURL:    s.config.StripeSuccessURL,
		CancelURL:     s.config.StripeCancelURL,
	}, s.logger)
	subscriptionHandler := handlers.NewSubscriptionHandler(s.subscriptionSvc, stripeHandler, s.logger)

	if s.metrics != nil {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", healthHandler.Health)
		r.Get("/ready", healthHandler.Ready)

		// Stripe webhook (no auth - verified by signature, rate limited)
		r.With(rateLimiter.Limit(middleware.WebhookRateLimit)).
			Post("/webhooks/stripe", stripeHandler.HandleWebhook)

		r.Group(func(r chi.Router) {
			r.Use(auth.Handler)
			r.Use(middleware.NoCache)

			r.Route("/uploads", func(r chi.Router) {
				r.With(rateLimiter.Limit(middleware.UploadRateLimit)).Post("/", uploadHandler.Upload)
				r.Get("/", uploadHandler.List)
				r.Get("/{type}/{id}", uploadHandler.Get)
				r.Get("/{type}/{id}/transcription", uploadHandler.Transcription)
			})

			r.Route("/ai", func(r chi.Router) {
				r.Post("/upload", aiHandler.UploadText)
				r.With(rateLimiter.Limit(middleware.AskRateLimit)).Post("/ask", aiHandler.Ask)
				r.Get("/texts/{textID}", aiHandler.GetText)
			})

			r.Route("/subscription", func(r chi.Router) {
				r.Get("/me", subscriptionHandler.GetMe)
				r.Post("/checkout", subscriptionHandler.CreateCheckout)
				r.Post("/portal", subscriptionHandler.CreatePortal)
			})

			if s.wsHub != nil {
				statusStream := handlers.NewStatusStream(s.wsHub, s.logger)
				r.Get("/ws", statusStream.Serve)
			}
		})
	})

	return r
}

func (s *Server) redisClient() *redis.Client {
	if s.redis == nil {
		return nil
	}
	return s.redis.Client
}
