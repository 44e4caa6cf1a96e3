package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/services"
)

type fakeDigestTenants struct {
	ids []string
}

func (f *fakeDigestTenants) TenantIDs(_ context.Context) ([]string, error) {
	return f.ids, nil
}

type fakeDigestNotifier struct {
	churnDigests    int
	forecastDigests int
}

func (f *fakeDigestNotifier) NotifyChurnDigest(_ context.Context, _ string, _ *models.ChurnInsights, _ []models.ChurnScore) error {
	f.churnDigests++
	return nil
}

func (f *fakeDigestNotifier) NotifyForecastDigest(_ context.Context, _ string, _ *models.ForecastResult) error {
	f.forecastDigests++
	return nil
}

type fakeAuditPruner struct {
	removed int64
	err     error
}

func (f *fakeAuditPruner) PruneAuditBefore(_ context.Context, _ time.Time) (int64, error) {
	return f.removed, f.err
}

type fakeRevenueRefresher struct {
	written    int64
	err        error
	lastTenant string
	lastFrom   time.Time
	lastTo     time.Time
}

func (f *fakeRevenueRefresher) RefreshDailyRevenue(_ context.Context, tenantID string, from, to time.Time) (int64, error) {
	f.lastTenant = tenantID
	f.lastFrom = from
	f.lastTo = to
	if f.err != nil {
		return 0, f.err
	}
	return f.written, nil
}

// failingCache errors on invalidation so the handler's error path is
// reachable without a broken Redis. The embedded interface covers the
// methods these tests never call.
type failingCache struct {
	cache.AnalysisCache
}

func (f *failingCache) InvalidateTenant(_ context.Context, _ string) (int64, error) {
	return 0, assert.AnError
}

func newTestScheduler(t *testing.T, tenants *fakeDigestTenants, notifier *fakeDigestNotifier) *services.DigestScheduler {
	t.Helper()
	logger := quietLogger()
	churn := services.NewChurnService(services.DefaultChurnConfig(), nil, logger)
	forecast := services.NewForecastService(services.DefaultForecastConfig(), logger)
	activities := &fakeActivitySource{cohort: []models.CustomerActivity{
		engagedActivity("cust-1"),
		engagedActivity("cust-2"),
	}}
	revenue := &fakeRevenueSource{points: revenueHistory(60)}
	return services.NewDigestScheduler(tenants, activities, revenue, churn, forecast, notifier, services.DigestConfig{}, logger)
}

func newTestAdminHandler(analysisCache cache.AnalysisCache, redisClient redis.Cmdable, scheduler *services.DigestScheduler) *AdminHandler {
	cleanup := services.NewCleanupService(&fakeAuditPruner{}, analysisCache, quietLogger())
	notifier := services.NewNotificationService(nil, "", quietLogger())
	return NewAdminHandler(analysisCache, redisClient, scheduler, cleanup, services.DefaultCleanupConfig(), notifier, &fakeRevenueRefresher{}, quietLogger())
}

func TestAdminHandler_CacheStats(t *testing.T) {
	analysisCache := cache.NewMemoryAnalysisCache(time.Minute, quietLogger())
	analysisCache.Set(context.Background(), cache.KindForecast, "tenant-1", gin.H{"days": 90}, gin.H{"v": 1})

	h := newTestAdminHandler(analysisCache, nil, nil)

	c, w := tenantContext(t, http.MethodGet, "/api/v1/admin/cache/stats", nil)
	h.CacheStats(c)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp, "analysis")
	assert.NotContains(t, resp, "redis")

	var stats cache.AnalysisCacheStats
	require.NoError(t, json.Unmarshal(resp["analysis"], &stats))
	assert.Equal(t, int64(1), stats.Sets)
}

func TestAdminHandler_CacheStats_WithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "probe", "1", 0).Err())

	analysisCache := cache.NewMemoryAnalysisCache(time.Minute, quietLogger())
	h := newTestAdminHandler(analysisCache, client, nil)

	c, w := tenantContext(t, http.MethodGet, "/api/v1/admin/cache/stats", nil)
	h.CacheStats(c)

	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp, "redis")
	assert.EqualValues(t, 1, resp["redis"]["keys"])
}

func TestAdminHandler_InvalidateTenantCache(t *testing.T) {
	analysisCache := cache.NewMemoryAnalysisCache(time.Minute, quietLogger())
	ctx := context.Background()
	analysisCache.Set(ctx, cache.KindForecast, "tenant-1", gin.H{"days": 90}, gin.H{"v": 1})
	analysisCache.Set(ctx, cache.KindForecast, "tenant-2", gin.H{"days": 90}, gin.H{"v": 2})

	h := newTestAdminHandler(analysisCache, nil, nil)

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/cache/invalidate/tenant-1", nil)
	c.Params = gin.Params{{Key: "tenantId", Value: "tenant-1"}}
	h.InvalidateTenantCache(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"entries_removed":1`)

	// The other tenant's entry survives.
	var out gin.H
	assert.False(t, analysisCache.Get(ctx, cache.KindForecast, "tenant-1", gin.H{"days": 90}, &out))
	assert.True(t, analysisCache.Get(ctx, cache.KindForecast, "tenant-2", gin.H{"days": 90}, &out))
}

func TestAdminHandler_InvalidateTenantCache_Error(t *testing.T) {
	h := newTestAdminHandler(&failingCache{}, nil, nil)

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/cache/invalidate/tenant-1", nil)
	c.Params = gin.Params{{Key: "tenantId", Value: "tenant-1"}}
	h.InvalidateTenantCache(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminHandler_RunDigest_NoScheduler(t *testing.T) {
	h := newTestAdminHandler(cache.NewMemoryAnalysisCache(time.Minute, quietLogger()), nil, nil)

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/digests/run/tenant-1", nil)
	c.Params = gin.Params{{Key: "tenantId", Value: "tenant-1"}}
	h.RunDigest(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminHandler_RunDigest(t *testing.T) {
	notifier := &fakeDigestNotifier{}
	scheduler := newTestScheduler(t, &fakeDigestTenants{}, notifier)
	h := newTestAdminHandler(cache.NewMemoryAnalysisCache(time.Minute, quietLogger()), nil, scheduler)

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/digests/run/tenant-1", nil)
	c.Params = gin.Params{{Key: "tenantId", Value: "tenant-1"}}
	h.RunDigest(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, notifier.churnDigests)
	assert.Equal(t, 1, notifier.forecastDigests)
}

func TestAdminHandler_DigestWorkers(t *testing.T) {
	scheduler := newTestScheduler(t, &fakeDigestTenants{ids: []string{"tenant-1"}}, &fakeDigestNotifier{})
	require.NoError(t, scheduler.Start())
	defer scheduler.Stop()

	h := newTestAdminHandler(cache.NewMemoryAnalysisCache(time.Minute, quietLogger()), nil, scheduler)

	c, w := tenantContext(t, http.MethodGet, "/api/v1/admin/digests/workers", nil)
	h.DigestWorkers(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
	assert.Contains(t, w.Body.String(), "tenant-1")
}

func TestAdminHandler_RestartDigestWorker_NotFound(t *testing.T) {
	scheduler := newTestScheduler(t, &fakeDigestTenants{}, &fakeDigestNotifier{})
	h := newTestAdminHandler(cache.NewMemoryAnalysisCache(time.Minute, quietLogger()), nil, scheduler)

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/digests/workers/tenant-x/restart", nil)
	c.Params = gin.Params{{Key: "tenantId", Value: "tenant-x"}}
	h.RestartDigestWorker(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminHandler_RestartDigestWorker_AlreadyRunning(t *testing.T) {
	scheduler := newTestScheduler(t, &fakeDigestTenants{ids: []string{"tenant-1"}}, &fakeDigestNotifier{})
	require.NoError(t, scheduler.Start())
	defer scheduler.Stop()

	h := newTestAdminHandler(cache.NewMemoryAnalysisCache(time.Minute, quietLogger()), nil, scheduler)

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/digests/workers/tenant-1/restart", nil)
	c.Params = gin.Params{{Key: "tenantId", Value: "tenant-1"}}
	h.RestartDigestWorker(c)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestAdminHandler_RefreshRevenue(t *testing.T) {
	analysisCache := cache.NewMemoryAnalysisCache(time.Minute, quietLogger())
	ctx := context.Background()
	analysisCache.Set(ctx, cache.KindForecast, "tenant-1", gin.H{"days": 90}, gin.H{"v": 1})

	refresher := &fakeRevenueRefresher{written: 42}
	cleanup := services.NewCleanupService(&fakeAuditPruner{}, analysisCache, quietLogger())
	h := NewAdminHandler(analysisCache, nil, nil, cleanup, services.DefaultCleanupConfig(), nil, refresher, quietLogger())

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/revenue/refresh/tenant-1", gin.H{
		"start": "2025-01-01",
		"end":   "2025-02-01",
	})
	c.Params = gin.Params{{Key: "tenantId", Value: "tenant-1"}}
	h.RefreshRevenue(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"rows_written":42`)
	assert.Contains(t, w.Body.String(), `"cache_dropped":1`)
	assert.Equal(t, "tenant-1", refresher.lastTenant)
	assert.Equal(t, "2025-01-01", refresher.lastFrom.Format("2006-01-02"))

	// Stale analytics for the tenant are gone.
	var out gin.H
	assert.False(t, analysisCache.Get(ctx, cache.KindForecast, "tenant-1", gin.H{"days": 90}, &out))
}

func TestAdminHandler_RefreshRevenue_BadRange(t *testing.T) {
	h := newTestAdminHandler(cache.NewMemoryAnalysisCache(time.Minute, quietLogger()), nil, nil)

	for name, body := range map[string]interface{}{
		"missing dates":    gin.H{},
		"malformed start":  gin.H{"start": "January 1st", "end": "2025-02-01"},
		"end before start": gin.H{"start": "2025-02-01", "end": "2025-01-01"},
		"end equals start": gin.H{"start": "2025-01-01", "end": "2025-01-01"},
	} {
		t.Run(name, func(t *testing.T) {
			c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/revenue/refresh/tenant-1", body)
			c.Params = gin.Params{{Key: "tenantId", Value: "tenant-1"}}
			h.RefreshRevenue(c)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestAdminHandler_RefreshRevenue_Error(t *testing.T) {
	analysisCache := cache.NewMemoryAnalysisCache(time.Minute, quietLogger())
	cleanup := services.NewCleanupService(&fakeAuditPruner{}, analysisCache, quietLogger())
	h := NewAdminHandler(analysisCache, nil, nil, cleanup, services.DefaultCleanupConfig(), nil, &fakeRevenueRefresher{err: assert.AnError}, quietLogger())

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/revenue/refresh/tenant-1", gin.H{
		"start": "2025-01-01",
		"end":   "2025-02-01",
	})
	c.Params = gin.Params{{Key: "tenantId", Value: "tenant-1"}}
	h.RefreshRevenue(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestAdminHandler_BreakerStatus(t *testing.T) {
	h := newTestAdminHandler(cache.NewMemoryAnalysisCache(time.Minute, quietLogger()), nil, nil)

	c, w := tenantContext(t, http.MethodGet, "/api/v1/admin/notifications/breaker", nil)
	h.BreakerStatus(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"state":"closed"`)
	assert.Contains(t, w.Body.String(), "total_calls")
}

func TestAdminHandler_BreakerStatus_NotConfigured(t *testing.T) {
	analysisCache := cache.NewMemoryAnalysisCache(time.Minute, quietLogger())
	h := NewAdminHandler(analysisCache, nil, nil, nil, services.DefaultCleanupConfig(), nil, &fakeRevenueRefresher{}, quietLogger())

	c, w := tenantContext(t, http.MethodGet, "/api/v1/admin/notifications/breaker", nil)
	h.BreakerStatus(c)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestAdminHandler_ResetBreaker(t *testing.T) {
	h := newTestAdminHandler(cache.NewMemoryAnalysisCache(time.Minute, quietLogger()), nil, nil)

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/notifications/breaker/reset", nil)
	h.ResetBreaker(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "reset")
}

func TestAdminHandler_RunCleanup(t *testing.T) {
	h := newTestAdminHandler(cache.NewMemoryAnalysisCache(time.Minute, quietLogger()), nil, nil)

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/cleanup/run", nil)
	h.RunCleanup(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Cleanup completed")
}

func TestAdminHandler_RunCleanup_Error(t *testing.T) {
	analysisCache := cache.NewMemoryAnalysisCache(time.Minute, quietLogger())
	cleanup := services.NewCleanupService(&fakeAuditPruner{err: assert.AnError}, analysisCache, quietLogger())
	h := NewAdminHandler(analysisCache, nil, nil, cleanup, services.DefaultCleanupConfig(), nil, &fakeRevenueRefresher{}, quietLogger())

	c, w := tenantContext(t, http.MethodPost, "/api/v1/admin/cleanup/run", nil)
	h.RunCleanup(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
