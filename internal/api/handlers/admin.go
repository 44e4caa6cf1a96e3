package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/services"
)

// RevenueRefresher rebuilds the daily revenue rollup rows for a tenant.
type RevenueRefresher interface {
	RefreshDailyRevenue(ctx context.Context, tenantID string, from, to time.Time) (int64, error)
}

// AdminHandler serves the key-guarded operational endpoints: cache control,
// digest workers, revenue rollups, the notification breaker and audit
// cleanup. None of these run under a tenant token.
type AdminHandler struct {
	cache      cache.AnalysisCache
	redis      redis.Cmdable
	scheduler  *services.DigestScheduler
	cleanup    *services.CleanupService
	cleanupCfg services.CleanupConfig
	notifier   *services.NotificationService
	revenue    RevenueRefresher
	logger     *logrus.Logger
}

// NewAdminHandler creates a new admin handler. Redis, scheduler, cleanup and
// notifier may be nil when the deployment runs without them; the routes then
// answer 503.
func NewAdminHandler(
	analysisCache cache.AnalysisCache,
	redisClient redis.Cmdable,
	scheduler *services.DigestScheduler,
	cleanup *services.CleanupService,
	cleanupCfg services.CleanupConfig,
	notifier *services.NotificationService,
	revenue RevenueRefresher,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		cache:      analysisCache,
		redis:      redisClient,
		scheduler:  scheduler,
		cleanup:    cleanup,
		cleanupCfg: cleanupCfg,
		notifier:   notifier,
		revenue:    revenue,
		logger:     logger,
	}
}

// CacheStats reports analysis cache counters plus Redis server stats when
// Redis backs the cache.
func (h *AdminHandler) CacheStats(c *gin.Context) {
	resp := gin.H{"analysis": h.cache.GetStats()}
	if h.redis != nil {
		resp["redis"] = h.redisStats(c.Request.Context())
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) redisStats(ctx context.Context) gin.H {
	stats := gin.H{}

	if info, err := h.redis.Info(ctx, "memory", "clients").Result(); err == nil {
		parsed := parseRedisInfo(info)
		for _, key := range []string{"used_memory_human", "used_memory_peak_human", "connected_clients"} {
			if value, ok := parsed[key]; ok {
				stats[key] = value
			}
		}
	} else {
		stats["info_error"] = err.Error()
	}

	if size, err := h.redis.DBSize(ctx).Result(); err == nil {
		stats["keys"] = size
	}

	return stats
}

// parseRedisInfo splits an INFO response into key/value pairs, skipping the
// section headers.
func parseRedisInfo(info string) map[string]string {
	out := make(map[string]string)
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if idx := strings.Index(line, ":"); idx > 0 {
			out[line[:idx]] = line[idx+1:]
		}
	}
	return out
}

// InvalidateTenantCache drops every cached analysis result for one tenant.
// Run it after backfills so refreshed rows are not served stale analytics.
func (h *AdminHandler) InvalidateTenantCache(c *gin.Context) {
	tenantID := c.Param("tenantId")

	removed, err := h.cache.InvalidateTenant(c.Request.Context(), tenantID)
	if err != nil {
		middleware.RecordError(c, err, "cache invalidation failed")
		h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to invalidate tenant cache")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to invalidate cache"})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"removed":   removed,
	}).Info("Invalidated tenant analysis cache")

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":       tenantID,
		"entries_removed": removed,
	})
}

// RunDigest triggers one digest delivery for a tenant outside its schedule.
func (h *AdminHandler) RunDigest(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Digest scheduler not running"})
		return
	}

	tenantID := c.Param("tenantId")
	if err := h.scheduler.RunDigest(c.Request.Context(), tenantID); err != nil {
		middleware.RecordError(c, err, "manual digest run failed")
		h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Manual digest run failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Digest run failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":   "Digest sent",
		"tenant_id": tenantID,
	})
}

// DigestWorkers lists the per-tenant digest workers and their error counts.
func (h *AdminHandler) DigestWorkers(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Digest scheduler not running"})
		return
	}

	workers := h.scheduler.WorkerStatus()
	c.JSON(http.StatusOK, gin.H{
		"workers": workers,
		"count":   len(workers),
	})
}

// RestartDigestWorker revives a worker parked after repeated errors.
func (h *AdminHandler) RestartDigestWorker(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Digest scheduler not running"})
		return
	}

	tenantID := c.Param("tenantId")
	if err := h.scheduler.RestartWorker(tenantID); err != nil {
		switch {
		case errors.Is(err, services.ErrNoDigestWorker):
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		case errors.Is(err, services.ErrWorkerAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		default:
			middleware.RecordError(c, err, "digest worker restart failed")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to restart worker"})
		}
		return
	}

	h.logger.WithField("tenant_id", tenantID).Info("Digest worker restarted")
	c.JSON(http.StatusOK, gin.H{
		"message":   "Worker restarted",
		"tenant_id": tenantID,
	})
}

type refreshRevenueRequest struct {
	Start string `json:"start" binding:"required"`
	End   string `json:"end" binding:"required"`
}

// RefreshRevenue rebuilds a tenant's daily revenue rollups over a date range
// and drops the tenant's cached analytics so the next requests recompute
// against the fresh rows.
func (h *AdminHandler) RefreshRevenue(c *gin.Context) {
	tenantID := c.Param("tenantId")

	var req refreshRevenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start and end dates are required"})
		return
	}

	from, err := time.Parse("2006-01-02", req.Start)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start must be a YYYY-MM-DD date"})
		return
	}
	to, err := time.Parse("2006-01-02", req.End)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be a YYYY-MM-DD date"})
		return
	}
	if !to.After(from) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "end must be after start"})
		return
	}

	written, err := h.revenue.RefreshDailyRevenue(c.Request.Context(), tenantID, from, to)
	if err != nil {
		middleware.RecordError(c, err, "revenue rollup refresh failed")
		h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to refresh revenue rollups")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to refresh revenue rollups"})
		return
	}

	invalidated := int64(0)
	if h.cache != nil {
		invalidated, err = h.cache.InvalidateTenant(c.Request.Context(), tenantID)
		if err != nil {
			h.logger.WithError(err).WithField("tenant_id", tenantID).Warn("Rollups refreshed but cache invalidation failed")
		}
	}

	h.logger.WithFields(logrus.Fields{
		"tenant_id":    tenantID,
		"rows_written": written,
		"invalidated":  invalidated,
	}).Info("Refreshed revenue rollups")

	c.JSON(http.StatusOK, gin.H{
		"tenant_id":     tenantID,
		"rows_written":  written,
		"cache_dropped": invalidated,
	})
}

// BreakerStatus reports the Telegram delivery circuit breaker.
func (h *AdminHandler) BreakerStatus(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Notifications not configured"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state": h.notifier.BreakerState().String(),
		"stats": h.notifier.BreakerStats(),
	})
}

// ResetBreaker force-closes the Telegram delivery breaker after an outage.
func (h *AdminHandler) ResetBreaker(c *gin.Context) {
	if h.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Notifications not configured"})
		return
	}

	h.notifier.ResetBreaker()
	h.logger.Info("Notification circuit breaker reset")
	c.JSON(http.StatusOK, gin.H{"message": "Circuit breaker reset"})
}

// RunCleanup triggers one audit-prune and cache-sweep pass immediately.
func (h *AdminHandler) RunCleanup(c *gin.Context) {
	if h.cleanup == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Cleanup service not configured"})
		return
	}

	if err := h.cleanup.RunCleanup(h.cleanupCfg); err != nil {
		middleware.RecordError(c, err, "manual cleanup failed")
		h.logger.WithError(err).Error("Manual cleanup failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Cleanup failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Cleanup completed"})
}
