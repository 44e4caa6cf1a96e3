package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/cache"
)

// Default analysis window shared by the digest scheduler, the cache warmer
// and the forecast endpoints. Warming only pays off when the warmer and the
// handlers agree on the cache key, so both sides build it from these values.
const (
	DefaultForecastWindowDays  = 90
	DefaultForecastHorizonDays = 30
)

// ForecastCacheParams identifies one forecast computation in the analysis
// cache. Handlers and the warmer must construct it identically for the same
// logical request or the warmed entry is never hit.
type ForecastCacheParams struct {
	Days        int `json:"days"`
	HorizonDays int `json:"horizon_days"`
}

// SeasonalityCacheParams identifies one seasonality analysis in the analysis
// cache, keyed by the revenue history window it was computed over.
type SeasonalityCacheParams struct {
	Days int `json:"days"`
}

// CacheWarmingService pre-computes the default revenue forecast for every
// tenant at startup so the first dashboard load after a deploy hits the
// analysis cache instead of paying the full Holt-Winters fit.
type CacheWarmingService struct {
	tenants  digestTenantSource
	revenue  digestRevenueSource
	forecast *ForecastService
	cache    cache.AnalysisCache
	logger   *logrus.Logger
}

// NewCacheWarmingService creates a new cache warming service.
//
// Parameters:
//   - tenants: source of tenant identifiers to warm
//   - revenue: daily revenue history source
//   - forecast: forecasting engine used to pre-compute results
//   - analysisCache: cache the warmed results are written into
//   - logger: logger instance for structured logging
//
// Returns:
//   - *CacheWarmingService: configured warming service
func NewCacheWarmingService(tenants digestTenantSource, revenue digestRevenueSource, forecast *ForecastService, analysisCache cache.AnalysisCache, logger *logrus.Logger) *CacheWarmingService {
	return &CacheWarmingService{
		tenants:  tenants,
		revenue:  revenue,
		forecast: forecast,
		cache:    analysisCache,
		logger:   logger,
	}
}

// WarmCache pre-computes the default forecast and seasonality analysis for
// every tenant and stores them in the analysis cache. Per-tenant failures are
// logged and skipped so one tenant with bad data cannot block the rest.
func (cws *CacheWarmingService) WarmCache(ctx context.Context) error {
	start := time.Now()
	cws.logger.Info("Starting analysis cache warming")

	if cws.cache == nil {
		return fmt.Errorf("analysis cache is nil")
	}

	tenantIDs, err := cws.tenants.TenantIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tenants for cache warming: %w", err)
	}

	warmed := 0
	for _, tenantID := range tenantIDs {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := cws.warmTenantForecast(ctx, tenantID); err != nil {
			cws.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Failed to warm forecast cache")
			continue
		}
		warmed++
	}

	cws.logger.WithFields(logrus.Fields{
		"tenants":  len(tenantIDs),
		"warmed":   warmed,
		"duration": time.Since(start),
	}).Info("Analysis cache warming completed")
	return nil
}

// warmTenantForecast computes the default-window forecast for one tenant and
// caches both the forecast and its seasonality analysis.
func (cws *CacheWarmingService) warmTenantForecast(ctx context.Context, tenantID string) error {
	points, err := cws.revenue.DailyRevenueSince(ctx, tenantID, DefaultForecastWindowDays)
	if err != nil {
		return fmt.Errorf("failed to load revenue history: %w", err)
	}
	if len(points) == 0 {
		cws.logger.WithField("tenant_id", tenantID).Debug("No revenue history, skipping forecast warmup")
		return nil
	}

	result, err := cws.forecast.Forecast(ctx, points, DefaultForecastHorizonDays)
	if err != nil {
		// Tenants with short histories are routine, not warming failures.
		cws.logger.WithError(err).WithField("tenant_id", tenantID).Debug("Skipping forecast warmup")
		return nil
	}

	params := ForecastCacheParams{Days: DefaultForecastWindowDays, HorizonDays: DefaultForecastHorizonDays}
	cws.cache.Set(ctx, cache.KindForecast, tenantID, params, result)

	if result.Seasonality != nil {
		seasonParams := SeasonalityCacheParams{Days: DefaultForecastWindowDays}
		cws.cache.Set(ctx, cache.KindSeasonality, tenantID, seasonParams, result.Seasonality)
	}

	cws.logger.WithFields(logrus.Fields{
		"tenant_id":    tenantID,
		"points":       len(points),
		"horizon_days": DefaultForecastHorizonDays,
	}).Debug("Forecast cache warmed")
	return nil
}
