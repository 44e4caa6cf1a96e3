package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/services"
)

// RevenueSource provides the revenue history the forecast endpoints run on.
type RevenueSource interface {
	DailyRevenue(ctx context.Context, tenantID string, from, to time.Time) ([]models.RevenuePoint, error)
	DailyRevenueSince(ctx context.Context, tenantID string, days int) ([]models.RevenuePoint, error)
}

// ForecastHandler serves the revenue forecasting endpoints.
type ForecastHandler struct {
	forecast *services.ForecastService
	revenue  RevenueSource
	cache    cache.AnalysisCache
	logger   *logrus.Logger
}

// forecastRangeParams keys cached forecasts computed over an explicit date
// range. The default-window path uses services.ForecastCacheParams so warmed
// entries are shared with the warmer.
type forecastRangeParams struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	HorizonDays int    `json:"horizon_days"`
}

// SeasonalityResponse wraps a seasonality analysis for API responses.
type SeasonalityResponse struct {
	TenantID    string                      `json:"tenant_id"`
	Days        int                         `json:"days"`
	Seasonality *models.SeasonalityAnalysis `json:"seasonality"`
	Cached      bool                        `json:"cached"`
}

// TrendResponse wraps a trend summary for API responses.
type TrendResponse struct {
	TenantID string               `json:"tenant_id"`
	Days     int                  `json:"days"`
	Trend    *models.TrendSummary `json:"trend"`
}

// NewForecastHandler creates a new forecast handler.
func NewForecastHandler(forecast *services.ForecastService, revenue RevenueSource, analysisCache cache.AnalysisCache, logger *logrus.Logger) *ForecastHandler {
	return &ForecastHandler{
		forecast: forecast,
		revenue:  revenue,
		cache:    analysisCache,
		logger:   logger,
	}
}

// ForecastRevenue runs a Holt-Winters revenue forecast. The history comes
// either inline in the request or from the tenant's stored revenue, by
// explicit date range or the default trailing window.
func (h *ForecastHandler) ForecastRevenue(c *gin.Context) {
	var req models.ForecastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tenantID := middleware.TenantID(c)
	ctx := c.Request.Context()

	points := req.Points
	var cacheParams interface{}
	if len(points) == 0 {
		var err error
		points, cacheParams, err = h.loadHistory(ctx, tenantID, &req)
		if err != nil {
			middleware.RecordError(c, err, "revenue history load failed")
			h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to load revenue history")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load revenue history"})
			return
		}
	}

	var result models.ForecastResult
	cached := cacheParams != nil && h.cache.Get(ctx, cache.KindForecast, tenantID, cacheParams, &result)
	if !cached {
		computed, err := h.forecast.Forecast(ctx, points, req.HorizonDays)
		if err != nil {
			respondEngineError(c, h.logger, err, "Forecast failed")
			return
		}
		result = *computed
		if cacheParams != nil {
			h.cache.Set(ctx, cache.KindForecast, tenantID, cacheParams, computed)
		}
	}

	// The trend rides on the raw history, not the fitted model, so it is
	// recomputed even on cache hits. It is advisory: failures drop it.
	trend, err := h.forecast.TrendSummary(points, 0)
	if err != nil {
		trend = nil
	}

	middleware.AddSpanAttribute(c, "forecast.horizon_days", req.HorizonDays)
	middleware.AddSpanAttribute(c, "forecast.cached", cached)

	c.JSON(http.StatusOK, models.ForecastResponse{
		TenantID: tenantID,
		Forecast: &result,
		Trend:    trend,
		Cached:   cached,
	})
}

// loadHistory resolves the revenue series for a repo-backed forecast request
// and returns the cache params identifying it.
func (h *ForecastHandler) loadHistory(ctx context.Context, tenantID string, req *models.ForecastRequest) ([]models.RevenuePoint, interface{}, error) {
	if req.StartDate != nil && req.EndDate != nil {
		points, err := h.revenue.DailyRevenue(ctx, tenantID, *req.StartDate, *req.EndDate)
		if err != nil {
			return nil, nil, err
		}
		params := forecastRangeParams{
			Start:       req.StartDate.Format("2006-01-02"),
			End:         req.EndDate.Format("2006-01-02"),
			HorizonDays: req.HorizonDays,
		}
		return points, params, nil
	}

	points, err := h.revenue.DailyRevenueSince(ctx, tenantID, services.DefaultForecastWindowDays)
	if err != nil {
		return nil, nil, err
	}
	params := services.ForecastCacheParams{
		Days:        services.DefaultForecastWindowDays,
		HorizonDays: req.HorizonDays,
	}
	return points, params, nil
}

// GetSeasonality reports which calendar cycles the tenant's revenue follows.
func (h *ForecastHandler) GetSeasonality(c *gin.Context) {
	days := services.DefaultForecastWindowDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	tenantID := middleware.TenantID(c)
	ctx := c.Request.Context()
	params := services.SeasonalityCacheParams{Days: days}

	var analysis models.SeasonalityAnalysis
	if h.cache.Get(ctx, cache.KindSeasonality, tenantID, params, &analysis) {
		c.JSON(http.StatusOK, SeasonalityResponse{TenantID: tenantID, Days: days, Seasonality: &analysis, Cached: true})
		return
	}

	points, err := h.revenue.DailyRevenueSince(ctx, tenantID, days)
	if err != nil {
		middleware.RecordError(c, err, "revenue history load failed")
		h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to load revenue history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load revenue history"})
		return
	}

	result := h.forecast.DetectSeasonality(points)
	h.cache.Set(ctx, cache.KindSeasonality, tenantID, params, result)

	c.JSON(http.StatusOK, SeasonalityResponse{TenantID: tenantID, Days: days, Seasonality: result, Cached: false})
}

// GetTrend returns the SMA/EMA-smoothed revenue trend over a trailing window.
func (h *ForecastHandler) GetTrend(c *gin.Context) {
	days := services.DefaultForecastWindowDays
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = parsed
	}

	period := 0
	if raw := c.Query("period"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "period must be a positive integer"})
			return
		}
		period = parsed
	}

	tenantID := middleware.TenantID(c)
	points, err := h.revenue.DailyRevenueSince(c.Request.Context(), tenantID, days)
	if err != nil {
		middleware.RecordError(c, err, "revenue history load failed")
		h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to load revenue history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load revenue history"})
		return
	}

	trend, err := h.forecast.TrendSummary(points, period)
	if err != nil {
		respondEngineError(c, h.logger, err, "Trend analysis failed")
		return
	}

	c.JSON(http.StatusOK, TrendResponse{TenantID: tenantID, Days: days, Trend: trend})
}
