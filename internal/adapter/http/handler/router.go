package handler

import (
	"sbtc-gateway/internal/adapter/http/middleware"
	redisStore "sbtc-gateway/internal/adapter/storage/redis"
	"sbtc-gateway/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	IngestSvc      ports.IngestService
	EndpointSvc    ports.EndpointService
	EventRepo      ports.WebhookEventRepository
	IntentRepo     ports.PaymentIntentRepository
	TokenSvc       ports.TokenService
	ChainhookToken string
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(2 << 20)) // chainhook batches can be large

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Chainhook intake (shared-bearer-token auth, never rate limited) ---
	chainhookHandler := NewChainhookHandler(deps.IngestSvc)
	v1.POST("/chainhook", middleware.BearerAuth(deps.ChainhookToken, deps.Logger), chainhookHandler.ProcessBatch)

	// --- JWT-authenticated routes (dashboard) ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	webhookHandler := NewWebhookHandler(deps.EndpointSvc, deps.EventRepo)
	paymentHandler := NewPaymentHandler(deps.IntentRepo)

	endpoints := v1.Group("/webhook-endpoints", jwtAuth)
	{
		endpoints.POST("", rl("endpoint_write"), webhookHandler.CreateEndpoint)
		endpoints.GET("", rl("dashboard"), webhookHandler.ListEndpoints)
		endpoints.POST("/:id/deactivate", rl("endpoint_write"), webhookHandler.DeactivateEndpoint)
		endpoints.POST("/:id/test", rl("endpoint_test"), webhookHandler.SendTestEvent)
	}

	events := v1.Group("/webhook-events", jwtAuth)
	{
		events.GET("", rl("dashboard"), webhookHandler.ListEvents)
	}

	intents := v1.Group("/payment-intents", jwtAuth)
	{
		intents.GET("/:id", rl("dashboard"), paymentHandler.GetIntent)
	}

	return r
}
