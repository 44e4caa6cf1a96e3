package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/models"
)

func newTestWarmer(tenants *fakeTenantSource, revenue *fakeRevenueSource, store cache.AnalysisCache) *CacheWarmingService {
	logger := logrus.New()
	forecast := NewForecastService(ForecastConfig{}, logger)
	return NewCacheWarmingService(tenants, revenue, forecast, store, logger)
}

func TestNewCacheWarmingService(t *testing.T) {
	logger := logrus.New()
	store := cache.NewMemoryAnalysisCache(time.Hour, logger)
	service := newTestWarmer(&fakeTenantSource{}, &fakeRevenueSource{}, store)

	assert.NotNil(t, service)
	assert.NotNil(t, service.cache)
}

func TestCacheWarmingService_WarmCache(t *testing.T) {
	logger := logrus.New()
	store := cache.NewMemoryAnalysisCache(time.Hour, logger)
	service := newTestWarmer(
		&fakeTenantSource{tenants: []string{"tenant-a", "tenant-b"}},
		&fakeRevenueSource{points: digestRevenueHistory(60)},
		store,
	)

	err := service.WarmCache(context.Background())
	require.NoError(t, err)

	params := ForecastCacheParams{Days: DefaultForecastWindowDays, HorizonDays: DefaultForecastHorizonDays}
	for _, tenantID := range []string{"tenant-a", "tenant-b"} {
		var forecast models.ForecastResult
		require.True(t, store.Get(context.Background(), cache.KindForecast, tenantID, params, &forecast),
			"expected warmed forecast for %s", tenantID)
		assert.Len(t, forecast.Points, DefaultForecastHorizonDays)

		var seasonality models.SeasonalityAnalysis
		assert.True(t, store.Get(context.Background(), cache.KindSeasonality, tenantID, SeasonalityCacheParams{Days: DefaultForecastWindowDays}, &seasonality))
	}
}

func TestCacheWarmingService_WarmCache_KeyMismatchMisses(t *testing.T) {
	logger := logrus.New()
	store := cache.NewMemoryAnalysisCache(time.Hour, logger)
	service := newTestWarmer(
		&fakeTenantSource{tenants: []string{"tenant-a"}},
		&fakeRevenueSource{points: digestRevenueHistory(60)},
		store,
	)

	require.NoError(t, service.WarmCache(context.Background()))

	// A different horizon is a different cache entry.
	var forecast models.ForecastResult
	assert.False(t, store.Get(context.Background(), cache.KindForecast, "tenant-a",
		ForecastCacheParams{Days: DefaultForecastWindowDays, HorizonDays: 7}, &forecast))
}

func TestCacheWarmingService_WarmCache_TenantListError(t *testing.T) {
	logger := logrus.New()
	store := cache.NewMemoryAnalysisCache(time.Hour, logger)
	service := newTestWarmer(
		&fakeTenantSource{err: errors.New("connection refused")},
		&fakeRevenueSource{points: digestRevenueHistory(60)},
		store,
	)

	err := service.WarmCache(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list tenants")
}

func TestCacheWarmingService_WarmCache_RevenueErrorSkipsTenant(t *testing.T) {
	logger := logrus.New()
	store := cache.NewMemoryAnalysisCache(time.Hour, logger)
	service := newTestWarmer(
		&fakeTenantSource{tenants: []string{"tenant-a"}},
		&fakeRevenueSource{err: errors.New("query timeout")},
		store,
	)

	err := service.WarmCache(context.Background())
	require.NoError(t, err)

	var forecast models.ForecastResult
	params := ForecastCacheParams{Days: DefaultForecastWindowDays, HorizonDays: DefaultForecastHorizonDays}
	assert.False(t, store.Get(context.Background(), cache.KindForecast, "tenant-a", params, &forecast))
}

func TestCacheWarmingService_WarmCache_ShortHistory(t *testing.T) {
	logger := logrus.New()
	store := cache.NewMemoryAnalysisCache(time.Hour, logger)
	service := newTestWarmer(
		&fakeTenantSource{tenants: []string{"tenant-a"}},
		&fakeRevenueSource{points: digestRevenueHistory(5)},
		store,
	)

	// Too little history to fit a model; the tenant is skipped quietly.
	err := service.WarmCache(context.Background())
	require.NoError(t, err)

	var forecast models.ForecastResult
	params := ForecastCacheParams{Days: DefaultForecastWindowDays, HorizonDays: DefaultForecastHorizonDays}
	assert.False(t, store.Get(context.Background(), cache.KindForecast, "tenant-a", params, &forecast))
}

func TestCacheWarmingService_WarmCache_NoTenants(t *testing.T) {
	logger := logrus.New()
	store := cache.NewMemoryAnalysisCache(time.Hour, logger)
	service := newTestWarmer(&fakeTenantSource{}, &fakeRevenueSource{}, store)

	assert.NoError(t, service.WarmCache(context.Background()))
}

func TestCacheWarmingService_WarmCache_NilCache(t *testing.T) {
	logger := logrus.New()
	forecast := NewForecastService(ForecastConfig{}, logger)
	service := NewCacheWarmingService(&fakeTenantSource{tenants: []string{"tenant-a"}}, &fakeRevenueSource{}, forecast, nil, logger)

	err := service.WarmCache(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "analysis cache is nil")
}
