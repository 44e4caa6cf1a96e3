package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a test Redis instance using miniredis
func setupTestRedis(t *testing.T) (*redis.Client, func()) {
	s, err := miniredis.Run()
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{
		Addr: s.Addr(),
	})

	cleanup := func() {
		client.Close()
		s.Close()
	}

	return client, cleanup
}

type forecastParams struct {
	HorizonDays int    `json:"horizon_days"`
	Window      string `json:"window"`
}

type forecastResult struct {
	Total      float64 `json:"total"`
	Confidence string  `json:"confidence"`
}

func TestNewRedisAnalysisCache(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	ttl := 5 * time.Minute
	c := NewRedisAnalysisCache(client, ttl, logrus.New())

	assert.NotNil(t, c)
	assert.Equal(t, ttl, c.ttl)
	assert.NotNil(t, c.logger)
}

func TestRedisAnalysisCache_SetGet(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewRedisAnalysisCache(client, 5*time.Minute, logrus.New())
	ctx := context.Background()

	params := forecastParams{HorizonDays: 30, Window: "90d"}
	stored := forecastResult{Total: 48250.75, Confidence: "high"}
	c.Set(ctx, KindForecast, "tenant-1", params, stored)

	var loaded forecastResult
	found := c.Get(ctx, KindForecast, "tenant-1", params, &loaded)

	assert.True(t, found)
	assert.Equal(t, stored, loaded)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestRedisAnalysisCache_Get_Miss(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewRedisAnalysisCache(client, 5*time.Minute, logrus.New())

	var loaded forecastResult
	found := c.Get(context.Background(), KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, &loaded)

	assert.False(t, found)

	stats := c.GetStats()
	assert.Equal(t, int64(0), stats.Hits)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisAnalysisCache_DistinctParams_DistinctKeys(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewRedisAnalysisCache(client, 5*time.Minute, logrus.New())
	ctx := context.Background()

	c.Set(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, forecastResult{Total: 100})
	c.Set(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 60}, forecastResult{Total: 200})

	var thirty, sixty forecastResult
	require.True(t, c.Get(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, &thirty))
	require.True(t, c.Get(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 60}, &sixty))

	assert.Equal(t, float64(100), thirty.Total)
	assert.Equal(t, float64(200), sixty.Total)
}

func TestRedisAnalysisCache_TenantIsolation(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewRedisAnalysisCache(client, 5*time.Minute, logrus.New())
	ctx := context.Background()

	params := forecastParams{HorizonDays: 30}
	c.Set(ctx, KindForecast, "tenant-1", params, forecastResult{Total: 100})

	var loaded forecastResult
	found := c.Get(ctx, KindForecast, "tenant-2", params, &loaded)

	assert.False(t, found, "one tenant's cached result must not be visible to another")
}

func TestRedisAnalysisCache_Get_InvalidJSON(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewRedisAnalysisCache(client, 5*time.Minute, logrus.New())
	ctx := context.Background()

	params := forecastParams{HorizonDays: 30}
	key, err := cacheKey(KindForecast, "tenant-1", params)
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, key, "not json", 5*time.Minute).Err())

	var loaded forecastResult
	found := c.Get(ctx, KindForecast, "tenant-1", params, &loaded)

	assert.False(t, found)

	// The undecodable entry is dropped so it cannot poison later reads.
	exists, err := client.Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(0), exists)
}

func TestRedisAnalysisCache_Get_ExpiredEntry(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewRedisAnalysisCache(client, 5*time.Minute, logrus.New())
	ctx := context.Background()

	// An entry whose embedded expiry already passed even though the Redis
	// key is still live, as happens after the TTL is shortened in config.
	params := forecastParams{HorizonDays: 30}
	key, err := cacheKey(KindForecast, "tenant-1", params)
	require.NoError(t, err)

	payload, err := json.Marshal(forecastResult{Total: 100})
	require.NoError(t, err)
	entry := AnalysisCacheEntry{
		Payload:   payload,
		CachedAt:  time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	data, err := json.Marshal(entry)
	require.NoError(t, err)
	require.NoError(t, client.Set(ctx, key, data, 5*time.Minute).Err())

	var loaded forecastResult
	found := c.Get(ctx, KindForecast, "tenant-1", params, &loaded)

	assert.False(t, found, "expired analytics must not be served")

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestRedisAnalysisCache_InvalidateTenant(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewRedisAnalysisCache(client, 5*time.Minute, logrus.New())
	ctx := context.Background()

	c.Set(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, forecastResult{Total: 100})
	c.Set(ctx, KindSegmentation, "tenant-1", forecastParams{HorizonDays: 60}, forecastResult{Total: 200})
	c.Set(ctx, KindForecast, "tenant-2", forecastParams{HorizonDays: 30}, forecastResult{Total: 300})

	removed, err := c.InvalidateTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var loaded forecastResult
	assert.False(t, c.Get(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, &loaded))
	assert.False(t, c.Get(ctx, KindSegmentation, "tenant-1", forecastParams{HorizonDays: 60}, &loaded))
	assert.True(t, c.Get(ctx, KindForecast, "tenant-2", forecastParams{HorizonDays: 30}, &loaded),
		"other tenants keep their cached results")
}

func TestRedisAnalysisCache_InvalidateTenant_Empty(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewRedisAnalysisCache(client, 5*time.Minute, logrus.New())

	removed, err := c.InvalidateTenant(context.Background(), "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), removed)
}

func TestRedisAnalysisCache_LogStats(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	c := NewRedisAnalysisCache(client, 5*time.Minute, logrus.New())
	ctx := context.Background()

	// LogStats must not panic on an empty cache or after traffic.
	c.LogStats()
	c.Set(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, forecastResult{Total: 100})
	var loaded forecastResult
	c.Get(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, &loaded)
	c.LogStats()
}

func TestMemoryAnalysisCache_SetGet(t *testing.T) {
	c := NewMemoryAnalysisCache(5*time.Minute, logrus.New())
	ctx := context.Background()

	params := forecastParams{HorizonDays: 30, Window: "90d"}
	stored := forecastResult{Total: 48250.75, Confidence: "high"}
	c.Set(ctx, KindForecast, "tenant-1", params, stored)

	var loaded forecastResult
	found := c.Get(ctx, KindForecast, "tenant-1", params, &loaded)

	assert.True(t, found)
	assert.Equal(t, stored, loaded)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(1), stats.Sets)
}

func TestMemoryAnalysisCache_Get_Miss(t *testing.T) {
	c := NewMemoryAnalysisCache(5*time.Minute, logrus.New())

	var loaded forecastResult
	found := c.Get(context.Background(), KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, &loaded)

	assert.False(t, found)
	assert.Equal(t, int64(1), c.GetStats().Misses)
}

func TestMemoryAnalysisCache_Get_Expired(t *testing.T) {
	c := NewMemoryAnalysisCache(-time.Minute, logrus.New())
	ctx := context.Background()

	params := forecastParams{HorizonDays: 30}
	c.Set(ctx, KindForecast, "tenant-1", params, forecastResult{Total: 100})

	var loaded forecastResult
	found := c.Get(ctx, KindForecast, "tenant-1", params, &loaded)

	assert.False(t, found)

	stats := c.GetStats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, int64(1), stats.Misses)
}

func TestMemoryAnalysisCache_InvalidateTenant(t *testing.T) {
	c := NewMemoryAnalysisCache(5*time.Minute, logrus.New())
	ctx := context.Background()

	c.Set(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, forecastResult{Total: 100})
	c.Set(ctx, KindCampaigns, "tenant-1", forecastParams{HorizonDays: 60}, forecastResult{Total: 200})
	c.Set(ctx, KindForecast, "tenant-2", forecastParams{HorizonDays: 30}, forecastResult{Total: 300})

	removed, err := c.InvalidateTenant(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	var loaded forecastResult
	assert.False(t, c.Get(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, &loaded))
	assert.True(t, c.Get(ctx, KindForecast, "tenant-2", forecastParams{HorizonDays: 30}, &loaded))
}

func TestMemoryAnalysisCache_CleanupExpired(t *testing.T) {
	c := NewMemoryAnalysisCache(-time.Minute, logrus.New())
	ctx := context.Background()

	c.Set(ctx, KindForecast, "tenant-1", forecastParams{HorizonDays: 30}, forecastResult{Total: 100})
	c.Set(ctx, KindForecast, "tenant-2", forecastParams{HorizonDays: 30}, forecastResult{Total: 200})

	removed := c.CleanupExpired()

	assert.Equal(t, 2, removed)
	stats := c.GetStats()
	assert.Equal(t, int64(2), stats.Evictions)
	assert.False(t, stats.LastCleanup.IsZero())
}

func TestMemoryAnalysisCache_Close(t *testing.T) {
	c := NewMemoryAnalysisCache(5*time.Minute, logrus.New())
	ctx := context.Background()

	params := forecastParams{HorizonDays: 30}
	c.Set(ctx, KindForecast, "tenant-1", params, forecastResult{Total: 100})
	require.NoError(t, c.Close())

	var loaded forecastResult
	assert.False(t, c.Get(ctx, KindForecast, "tenant-1", params, &loaded))
}

func TestAnalysisCache_ThreadSafety(t *testing.T) {
	client, cleanup := setupTestRedis(t)
	defer cleanup()

	impls := map[string]AnalysisCache{
		"redis":  NewRedisAnalysisCache(client, 5*time.Minute, logrus.New()),
		"memory": NewMemoryAnalysisCache(5*time.Minute, logrus.New()),
	}

	for name, c := range impls {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			done := make(chan bool)
			for i := 0; i < 10; i++ {
				go func() {
					for j := 0; j < 50; j++ {
						params := forecastParams{HorizonDays: 30}
						c.Set(ctx, KindForecast, "tenant-1", params, forecastResult{Total: 100})
						var loaded forecastResult
						c.Get(ctx, KindForecast, "tenant-1", params, &loaded)
						c.Get(ctx, KindForecast, "tenant-other", params, &loaded)
						c.GetStats()
					}
					done <- true
				}()
			}
			for i := 0; i < 10; i++ {
				<-done
			}

			stats := c.GetStats()
			assert.True(t, stats.Sets > 0)
			assert.True(t, stats.Hits > 0)
			assert.True(t, stats.Misses > 0)
		})
	}
}
