package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/api"
	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/config"
	"github.com/voyagehq/crm-ai-go/internal/database"
	"github.com/voyagehq/crm-ai-go/internal/logging"
	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/services"
	"github.com/voyagehq/crm-ai-go/internal/telemetry"
)

// version is stamped at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Application failed: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Local development reads settings from .env; deployed instances get
	// their environment from the platform.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	serviceName := cfg.Telemetry.ServiceName
	stdLogger := logging.NewStandardOTLPLogger(logging.OTLPConfig{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		LogLevel:       cfg.LogLevel,
	})
	stdLogger.WithService(serviceName).Info("Configuration loaded",
		"environment", cfg.Environment,
		"version", version,
	)

	if err := telemetry.InitTelemetry(telemetry.TelemetryConfig{
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		ServiceName:    serviceName,
		ServiceVersion: version,
		Environment:    cfg.Environment,
		SampleRate:     cfg.Telemetry.SampleRate,
	}); err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		if err := telemetry.Shutdown(); err != nil {
			stdLogger.WithError(err).Error("Failed to shutdown telemetry")
		}
	}()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}

	db, err := database.NewPostgresConnection(&cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	cacheTTL := 15 * time.Minute
	if cfg.Analytics.CacheTTL != "" {
		parsed, err := time.ParseDuration(cfg.Analytics.CacheTTL)
		if err != nil {
			return fmt.Errorf("invalid analytics cache_ttl %q: %w", cfg.Analytics.CacheTTL, err)
		}
		cacheTTL = parsed
	}

	// Redis is optional. Without it every instance keeps its own in-memory
	// analysis cache, which is fine for a single node.
	var analysisCache cache.AnalysisCache
	redisClient, err := database.NewRedisConnection(cfg.Redis)
	if err != nil {
		logger.WithError(err).Warn("Redis unavailable, using in-memory analysis cache")
		redisClient = nil
		analysisCache = cache.NewMemoryAnalysisCache(cacheTTL, logger)
	} else {
		defer redisClient.Close()
		analysisCache = cache.NewRedisAnalysisCache(redisClient.Client, cacheTTL, logger)
	}
	defer func() {
		analysisCache.LogStats()
		if err := analysisCache.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close analysis cache")
		}
	}()

	resources := services.NewResourceOptimizer(services.ResourceOptimizerConfig{
		MinWorkers:      cfg.Analytics.Workers.MinWorkers,
		MaxWorkers:      cfg.Analytics.Workers.MaxWorkers,
		CPUThreshold:    cfg.Analytics.Workers.CPUThreshold,
		MemoryThreshold: cfg.Analytics.Workers.MemoryThreshold,
	}, logger)

	forecastService := services.NewForecastService(services.ForecastConfig{
		Alpha:           cfg.Analytics.Forecast.Alpha,
		Beta:            cfg.Analytics.Forecast.Beta,
		Gamma:           cfg.Analytics.Forecast.Gamma,
		Period:          cfg.Analytics.Forecast.Period,
		ConfidenceLevel: cfg.Analytics.Forecast.ConfidenceLevel,
	}, logger)

	churnService := services.NewChurnService(services.ChurnConfig{
		Weights:           cfg.Analytics.Churn.Weights,
		LogisticSteepness: cfg.Analytics.Churn.LogisticSteepness,
		RecencyHorizon:    cfg.Analytics.Churn.RecencyHorizonDays,
		MonetaryFloor:     cfg.Analytics.Churn.MonetaryFloor,
		MonetarySpan:      cfg.Analytics.Churn.MonetarySpan,
	}, resources, logger)

	segmentationService := services.NewSegmentationService(services.SegmentationConfig{
		SegmentCount:   cfg.Analytics.Segmentation.SegmentCount,
		MinSegmentSize: cfg.Analytics.Segmentation.MinSegmentSize,
		MaxIterations:  cfg.Analytics.Segmentation.MaxIterations,
		Tolerance:      cfg.Analytics.Segmentation.Tolerance,
		Seed:           cfg.Analytics.Segmentation.Seed,
	}, logger)

	recommendationService := services.NewRecommendationService(services.RecommendationConfig{
		MinConfidence:    cfg.Analytics.Recommendation.MinConfidence,
		MaxResults:       cfg.Analytics.Recommendation.MaxResults,
		RecentWindowDays: cfg.Analytics.Recommendation.RecentWindowDays,
	}, logger)

	// Repositories go through the traced pool so digest and cleanup
	// queries show up as client spans alongside the HTTP ones.
	tracedPool := database.NewTracedDB(db.Pool)
	userRepo := database.NewUserRepository(tracedPool)
	customerRepo := database.NewCustomerRepository(tracedPool)
	revenueRepo := database.NewRevenueRepository(tracedPool)
	queryExecutor := database.NewQueryExecutor(tracedPool, logger)

	notificationService := services.NewNotificationService(userRepo, cfg.Telegram.BotToken, logger)

	scheduler := services.NewDigestScheduler(
		userRepo,
		customerRepo,
		revenueRepo,
		churnService,
		forecastService,
		notificationService,
		services.DigestConfig{
			IntervalHours:   cfg.Digest.IntervalHours,
			MaxErrors:       cfg.Digest.MaxErrors,
			ChurnBatchLimit: cfg.Digest.ChurnBatchLimit,
			ForecastDays:    cfg.Digest.ForecastDays,
			ForecastHorizon: cfg.Digest.ForecastHorizon,
		},
		logger,
	)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start digest scheduler: %w", err)
	}
	defer scheduler.Stop()

	cleanupService := services.NewCleanupService(queryExecutor, analysisCache, logger)
	cleanupService.Start(services.CleanupConfig{
		QueryAuditRetentionHours: cfg.Cleanup.QueryAuditRetentionHours,
		CleanupIntervalMinutes:   cfg.Cleanup.CleanupIntervalMinutes,
	})
	defer cleanupService.Stop()

	warmer := services.NewCacheWarmingService(userRepo, revenueRepo, forecastService, analysisCache, logger)
	go func() {
		warmCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if err := warmer.WarmCache(warmCtx); err != nil {
			logger.WithError(err).Warn("Cache warming failed")
		}
	}()

	authMiddleware := middleware.NewAuthMiddleware(cfg.Security.JWTSecret)

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())

	api.SetupRoutes(
		router,
		db,
		redisClient,
		analysisCache,
		forecastService,
		churnService,
		segmentationService,
		recommendationService,
		scheduler,
		cleanupService,
		notificationService,
		resources,
		cfg,
		authMiddleware,
		logger,
		version,
	)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       15 * time.Second,
	}

	stdLogger.LogStartup(serviceName, version, cfg.Server.Port)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stdLogger.LogShutdown(serviceName, "signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server exited gracefully")
	return nil
}
