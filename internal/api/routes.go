package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/voyagehq/crm-ai-go/internal/api/handlers"
	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/config"
	"github.com/voyagehq/crm-ai-go/internal/database"
	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/nlquery"
	"github.com/voyagehq/crm-ai-go/internal/services"
)

// SetupRoutes configures all HTTP routes: health probes, the tenant-scoped
// analytics API under /api/v1, and the key-guarded admin surface. Handlers
// are wired here from the repositories and engine services so main stays a
// construction site and this file stays the route map.
//
// A nil db or redis client registers the routes anyway; the affected
// handlers report the dependency as unavailable instead of panicking.
func SetupRoutes(
	router *gin.Engine,
	db *database.PostgresDB,
	redisClient *database.RedisClient,
	analysisCache cache.AnalysisCache,
	forecastService *services.ForecastService,
	churnService *services.ChurnService,
	segmentationService *services.SegmentationService,
	recommendationService *services.RecommendationService,
	scheduler *services.DigestScheduler,
	cleanupService *services.CleanupService,
	notificationService *services.NotificationService,
	resources *services.ResourceOptimizer,
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	logger *logrus.Logger,
	version string,
) {
	adminMiddleware := middleware.NewAdminMiddleware()

	var dbPinger, redisPinger handlers.HealthPinger
	if db != nil {
		dbPinger = db
	}
	if redisClient != nil {
		redisPinger = redisClient
	}

	botConfigured := cfg != nil && cfg.Telegram.BotToken != ""
	healthHandler := handlers.NewHealthHandler(dbPinger, redisPinger, scheduler, resources, botConfigured, version)

	// Probes sit outside /api/v1 so load balancers reach them without auth
	// or an otelgin span per request.
	healthGroup := router.Group("/")
	healthGroup.Use(middleware.HealthCheckTelemetryMiddleware())
	{
		healthGroup.GET("/health", gin.WrapF(healthHandler.HealthCheck))
		healthGroup.HEAD("/health", gin.WrapF(healthHandler.HealthCheck))
		healthGroup.GET("/ready", gin.WrapF(healthHandler.ReadinessCheck))
		healthGroup.GET("/live", gin.WrapF(healthHandler.LivenessCheck))
	}

	var (
		revenueSource  handlers.RevenueSource
		revenueRefresh handlers.RevenueRefresher
		activitySource handlers.ActivitySource
		profileSource  handlers.ProfileSource
		contextSource  handlers.ContextSource
		userStore      handlers.UserStore
		chatUsers      handlers.ChatUserSource
		queryRunner    handlers.QueryRunner
	)
	if db != nil && db.Pool != nil {
		// Request-path queries run through the traced pool so they appear
		// as child spans of the otelgin request span.
		pool := database.NewTracedDB(db.Pool)
		revenueRepo := database.NewRevenueRepository(pool)
		customerRepo := database.NewCustomerRepository(pool)
		userRepo := database.NewUserRepository(pool)

		revenueSource = revenueRepo
		revenueRefresh = revenueRepo
		activitySource = customerRepo
		profileSource = customerRepo
		contextSource = customerRepo
		userStore = userRepo
		chatUsers = userRepo
		queryRunner = database.NewQueryExecutor(pool, logger)
	}

	var redisCmd redis.Cmdable
	if redisClient != nil && redisClient.Client != nil {
		redisCmd = redisClient.Client
	}

	var sender handlers.TelegramSender
	if notificationService != nil {
		if b := notificationService.Bot(); b != nil {
			sender = b
		}
	}

	tokenTTL := 24 * time.Hour
	bcryptCost := 0
	webhookSecret := ""
	serviceName := "crm-ai"
	cleanupCfg := services.DefaultCleanupConfig()
	if cfg != nil {
		if cfg.Security.JWTExpiry != "" {
			if d, err := time.ParseDuration(cfg.Security.JWTExpiry); err == nil {
				tokenTTL = d
			}
		}
		bcryptCost = cfg.Security.BcryptCost
		webhookSecret = cfg.Telegram.WebhookSecret
		if cfg.Telemetry.ServiceName != "" {
			serviceName = cfg.Telemetry.ServiceName
		}
		cleanupCfg = services.CleanupConfig{
			QueryAuditRetentionHours: cfg.Cleanup.QueryAuditRetentionHours,
			CleanupIntervalMinutes:   cfg.Cleanup.CleanupIntervalMinutes,
		}
	}

	parser := nlquery.NewParser()
	builder := nlquery.NewBuilder()

	forecastHandler := handlers.NewForecastHandler(forecastService, revenueSource, analysisCache, logger)
	churnHandler := handlers.NewChurnHandler(churnService, activitySource, logger)
	segmentHandler := handlers.NewSegmentHandler(segmentationService, profileSource, analysisCache, logger)
	recommendationHandler := handlers.NewRecommendationHandler(recommendationService, contextSource, profileSource, analysisCache, logger)
	queryHandler := handlers.NewQueryHandler(parser, builder, queryRunner, logger)
	telegramHandler := handlers.NewTelegramHandler(chatUsers, sender, parser, builder, queryRunner, webhookSecret, logger)
	userHandler := handlers.NewUserHandler(userStore, authMiddleware, tokenTTL, bcryptCost, logger)
	adminHandler := handlers.NewAdminHandler(analysisCache, redisCmd, scheduler, cleanupService, cleanupCfg, notificationService, revenueRefresh, logger)

	v1 := router.Group("/api/v1")
	v1.Use(otelgin.Middleware(serviceName))
	{
		// Account endpoints. Register and login issue the tenant tokens the
		// rest of the API requires.
		users := v1.Group("/users")
		{
			users.POST("/register", userHandler.Register)
			users.POST("/login", userHandler.Login)
			users.GET("/profile", authMiddleware.RequireTenant(), userHandler.Profile)
			users.POST("/telegram", authMiddleware.RequireTenant(), userHandler.LinkTelegram)
		}

		// Telegram webhook. Unauthenticated, the handler checks the shared
		// webhook secret instead.
		telegram := v1.Group("/telegram")
		{
			telegram.POST("/webhook", telegramHandler.HandleWebhook)
		}

		// Analytics endpoints, all tenant-scoped.
		forecast := v1.Group("/forecast")
		forecast.Use(authMiddleware.RequireTenant())
		{
			forecast.POST("/revenue", forecastHandler.ForecastRevenue)
			forecast.GET("/seasonality", forecastHandler.GetSeasonality)
			forecast.GET("/trend", forecastHandler.GetTrend)
		}

		churn := v1.Group("/churn")
		churn.Use(authMiddleware.RequireTenant())
		{
			churn.POST("/score", churnHandler.ScoreCustomer)
			churn.POST("/batch", churnHandler.ScoreBatch)
			churn.POST("/insights", churnHandler.GetInsights)
		}

		segments := v1.Group("/segments")
		segments.Use(authMiddleware.RequireTenant())
		{
			segments.POST("/build", segmentHandler.BuildSegments)
		}

		recommendations := v1.Group("/recommendations")
		recommendations.Use(authMiddleware.RequireTenant())
		{
			recommendations.POST("/products", recommendationHandler.RecommendProducts)
			recommendations.POST("/campaigns", recommendationHandler.RecommendCampaigns)
		}

		v1.POST("/query", authMiddleware.RequireTenant(), queryHandler.RunQuery)

		// Operational endpoints, guarded by the admin API key.
		admin := v1.Group("/admin")
		admin.Use(adminMiddleware.RequireAdminAuth())
		{
			adminCache := admin.Group("/cache")
			{
				adminCache.GET("/stats", adminHandler.CacheStats)
				adminCache.POST("/invalidate/:tenantId", adminHandler.InvalidateTenantCache)
			}

			digests := admin.Group("/digests")
			{
				digests.POST("/run/:tenantId", adminHandler.RunDigest)
				digests.GET("/workers", adminHandler.DigestWorkers)
				digests.POST("/workers/:tenantId/restart", adminHandler.RestartDigestWorker)
			}

			admin.POST("/revenue/refresh/:tenantId", adminHandler.RefreshRevenue)

			notifications := admin.Group("/notifications")
			{
				notifications.GET("/breaker", adminHandler.BreakerStatus)
				notifications.POST("/breaker/reset", adminHandler.ResetBreaker)
			}

			admin.POST("/cleanup/run", adminHandler.RunCleanup)
		}
	}
}
