package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2"

	"tminus/core/domain"
	"tminus/core/port/in"
	"tminus/core/port/out"
	"tminus/infra/middleware"
	"tminus/pkg/metrics"
)

// RouterDeps bundles everything the HTTP surface needs to wire its routes.
type RouterDeps struct {
	DB        *sqlx.DB
	Redis     *redis.Client
	JWTSecret string

	Accounts     in.AccountService
	Graph        in.GraphService
	Scheduler    in.SchedulerService
	AccountRepo  domain.AccountRepository
	SyncQueue    out.SyncQueue
	OAuthConfigs map[domain.AccountProvider]*oauth2.Config
}

// NewRouter assembles the fiber.App and registers every handler group.
// Webhook endpoints are registered before the JWT middleware so that
// unauthenticated provider callbacks reach their handlers; everything
// under /api/v1 requires a valid bearer token.
func NewRouter(deps RouterDeps) *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(),
	})

	app.Use(recover.New())
	app.Use(metricsMiddleware())
	app.Use(middleware.RequestID())
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityHeaders())
	app.Use(middleware.ValidateContentType())
	app.Use(middleware.MaxBodySize(5 << 20))
	app.Use(cors.New())

	middleware.InitAuditLogger(deps.Redis)
	middleware.InitTokenBlacklist(deps.Redis)
	app.Use(middleware.AuditMiddleware())

	rateLimiter := middleware.NewAdvancedRateLimiter(middleware.DefaultRateLimitConfig())
	app.Use(rateLimiter.Handler())

	health := NewHealthHandler(deps.DB, deps.Redis)
	health.Register(app)

	webhooks := NewWebhookHandler(deps.AccountRepo, deps.SyncQueue, deps.Redis)
	webhooks.Register(app)

	api := app.Group("/api/v1", middleware.JWTAuth(deps.JWTSecret), middleware.ETag())

	webhooks.RegisterManagement(api)

	NewAccountHandler(deps.Accounts, deps.OAuthConfigs, deps.Redis).Register(api)
	NewCalendarHandler(deps.Graph).Register(api)
	NewSchedulerHandler(deps.Scheduler, deps.Graph).Register(api)
	NewGovernanceHandler(deps.Graph).Register(api)
	NewRelationshipHandler(deps.Graph).Register(api)

	return app
}

// metricsMiddleware records request count and latency by route template
// (fiber's matched path, not the raw URL) so a /accounts/:id hit doesn't
// blow up the metric's cardinality with one series per account ID.
func metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		route := c.Route().Path
		status := strconv.Itoa(c.Response().StatusCode())
		metrics.APIRequestsTotal.WithLabelValues(route, status).Inc()
		metrics.APIRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())

		return err
	}
}
