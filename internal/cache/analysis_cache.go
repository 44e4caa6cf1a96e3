package cache

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Result kinds namespace cached analytics per engine.
const (
	KindForecast        = "forecast"
	KindSeasonality     = "seasonality"
	KindSegmentation    = "segments"
	KindRecommendations = "recommendations"
	KindCampaigns       = "campaigns"
)

const keyPrefix = "analysis:"

// AnalysisCacheEntry wraps a cached engine result with its bookkeeping times.
type AnalysisCacheEntry struct {
	Payload   json.RawMessage `json:"payload"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// AnalysisCacheStats tracks cache performance counters.
type AnalysisCacheStats struct {
	Hits        int64     `json:"hits"`
	Misses      int64     `json:"misses"`
	Sets        int64     `json:"sets"`
	Evictions   int64     `json:"evictions"`
	LastCleanup time.Time `json:"last_cleanup,omitempty"`
}

// AnalysisCache stores computed engine results keyed by tenant and the exact
// request parameters, so repeated identical requests skip recomputation.
type AnalysisCache interface {
	// Get loads a cached result into dest. It returns false on a miss, an
	// expired entry, or any decoding problem.
	Get(ctx context.Context, kind, tenantID string, params interface{}, dest interface{}) bool
	// Set stores a computed result. Failures are logged, never returned: a
	// broken cache must not fail the request that produced the result.
	Set(ctx context.Context, kind, tenantID string, params interface{}, value interface{})
	// InvalidateTenant drops every cached result for one tenant and returns
	// the number of entries removed. Called after data backfills so stale
	// analytics are not served against refreshed rows.
	InvalidateTenant(ctx context.Context, tenantID string) (int64, error)
	// GetStats returns current counters.
	GetStats() AnalysisCacheStats
	// LogStats logs current counters with the hit rate.
	LogStats()
	// Close releases any resources held by the cache.
	Close() error
}

// cacheKey derives the storage key. Params are hashed over their JSON
// encoding so any field change produces a distinct key. Tenant comes before
// kind so one SCAN pattern covers a whole tenant for invalidation.
func cacheKey(kind, tenantID string, params interface{}) (string, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return "", fmt.Errorf("failed to encode cache params: %w", err)
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%s%s:%s:%x", keyPrefix, tenantID, kind, sum[:8]), nil
}

func logCacheStats(logger *logrus.Logger, backend string, stats AnalysisCacheStats) {
	total := stats.Hits + stats.Misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	logger.WithFields(logrus.Fields{
		"backend":   backend,
		"hits":      stats.Hits,
		"misses":    stats.Misses,
		"sets":      stats.Sets,
		"evictions": stats.Evictions,
		"hit_rate":  fmt.Sprintf("%.2f%%", hitRate),
	}).Info("Analysis cache stats")
}

// RedisAnalysisCache implements AnalysisCache on Redis. Entries carry their
// own expiry timestamp in addition to the Redis TTL so a shortened TTL takes
// effect for entries written under the old configuration.
type RedisAnalysisCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *logrus.Logger
	stats  AnalysisCacheStats
	mu     sync.RWMutex
}

// NewRedisAnalysisCache creates a Redis-backed analysis cache.
//
// Parameters:
//   client: The Redis client interface.
//   ttl: How long cached results stay valid.
//   logger: Destination for cache diagnostics. A default logger is used when nil.
//
// Returns:
//   *RedisAnalysisCache: A pointer to the initialized cache.
func NewRedisAnalysisCache(client redis.Cmdable, ttl time.Duration, logger *logrus.Logger) *RedisAnalysisCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &RedisAnalysisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

// Get loads the cached result for (kind, tenant, params) into dest.
func (c *RedisAnalysisCache) Get(ctx context.Context, kind, tenantID string, params interface{}, dest interface{}) bool {
	key, err := cacheKey(kind, tenantID, params)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to derive cache key")
		return false
	}

	data, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		c.recordMiss()
		return false
	}
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		c.recordMiss()
		return false
	}

	var entry AnalysisCacheEntry
	if err := json.Unmarshal([]byte(data), &entry); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Discarding undecodable cache entry")
		c.client.Del(ctx, key)
		c.recordMiss()
		return false
	}

	// The Redis TTL normally evicts first; this covers entries written with
	// a longer TTL before a configuration change.
	if time.Now().After(entry.ExpiresAt) {
		c.client.Del(ctx, key)
		c.mu.Lock()
		c.stats.Evictions++
		c.stats.Misses++
		c.mu.Unlock()
		return false
	}

	if err := json.Unmarshal(entry.Payload, dest); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cached payload does not match destination type")
		c.recordMiss()
		return false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return true
}

// Set stores a computed result under (kind, tenant, params).
func (c *RedisAnalysisCache) Set(ctx context.Context, kind, tenantID string, params interface{}, value interface{}) {
	key, err := cacheKey(kind, tenantID, params)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to derive cache key")
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to encode cache payload")
		return
	}

	now := time.Now()
	entry := AnalysisCacheEntry{
		Payload:   payload,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to encode cache entry")
		return
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
		return
	}

	c.mu.Lock()
	c.stats.Sets++
	c.mu.Unlock()
}

// InvalidateTenant drops every cached result for the tenant.
func (c *RedisAnalysisCache) InvalidateTenant(ctx context.Context, tenantID string) (int64, error) {
	pattern := keyPrefix + tenantID + ":*"

	var keys []string
	iter := c.client.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return 0, fmt.Errorf("failed to scan cache keys: %w", err)
	}

	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := c.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to invalidate tenant cache: %w", err)
	}

	c.mu.Lock()
	c.stats.Evictions += removed
	c.mu.Unlock()

	c.logger.WithFields(logrus.Fields{
		"tenant_id": tenantID,
		"removed":   removed,
	}).Info("Invalidated tenant analysis cache")
	return removed, nil
}

// GetStats returns current cache counters.
func (c *RedisAnalysisCache) GetStats() AnalysisCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// LogStats logs current counters with the hit rate.
func (c *RedisAnalysisCache) LogStats() {
	logCacheStats(c.logger, "redis", c.GetStats())
}

// Close is a no-op; the Redis client is owned by the caller.
func (c *RedisAnalysisCache) Close() error {
	return nil
}

func (c *RedisAnalysisCache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

// MemoryAnalysisCache is the in-process fallback used when no Redis
// connection is configured. Entries expire lazily on read and through
// CleanupExpired sweeps from the maintenance loop.
type MemoryAnalysisCache struct {
	entries map[string]*AnalysisCacheEntry
	ttl     time.Duration
	logger  *logrus.Logger
	stats   AnalysisCacheStats
	mu      sync.RWMutex
}

// NewMemoryAnalysisCache creates an in-memory analysis cache.
func NewMemoryAnalysisCache(ttl time.Duration, logger *logrus.Logger) *MemoryAnalysisCache {
	if logger == nil {
		logger = logrus.New()
	}
	return &MemoryAnalysisCache{
		entries: make(map[string]*AnalysisCacheEntry),
		ttl:     ttl,
		logger:  logger,
	}
}

// Get loads the cached result for (kind, tenant, params) into dest.
func (c *MemoryAnalysisCache) Get(ctx context.Context, kind, tenantID string, params interface{}, dest interface{}) bool {
	key, err := cacheKey(kind, tenantID, params)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to derive cache key")
		return false
	}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		c.recordMiss()
		return false
	}

	if time.Now().After(entry.ExpiresAt) {
		c.mu.Lock()
		// Re-check under the write lock; a concurrent Set may have refreshed it.
		if cur, ok := c.entries[key]; ok && time.Now().After(cur.ExpiresAt) {
			delete(c.entries, key)
			c.stats.Evictions++
		}
		c.stats.Misses++
		c.mu.Unlock()
		return false
	}

	if err := json.Unmarshal(entry.Payload, dest); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cached payload does not match destination type")
		c.recordMiss()
		return false
	}

	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	return true
}

// Set stores a computed result under (kind, tenant, params). The value is
// kept as JSON so Get returns a copy, never a shared mutable reference.
func (c *MemoryAnalysisCache) Set(ctx context.Context, kind, tenantID string, params interface{}, value interface{}) {
	key, err := cacheKey(kind, tenantID, params)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to derive cache key")
		return
	}

	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Failed to encode cache payload")
		return
	}

	now := time.Now()
	c.mu.Lock()
	c.entries[key] = &AnalysisCacheEntry{
		Payload:   payload,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.stats.Sets++
	c.mu.Unlock()
}

// InvalidateTenant drops every cached result for the tenant.
func (c *MemoryAnalysisCache) InvalidateTenant(ctx context.Context, tenantID string) (int64, error) {
	prefix := keyPrefix + tenantID + ":"

	c.mu.Lock()
	defer c.mu.Unlock()

	var removed int64
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.stats.Evictions += removed
	return removed, nil
}

func (c *MemoryAnalysisCache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
}

// CleanupExpired removes entries past their expiry and returns how many were
// dropped. Without it, keys that are written once and never read again would
// accumulate for the life of the process.
func (c *MemoryAnalysisCache) CleanupExpired() int {
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	if removed > 0 {
		c.stats.Evictions += int64(removed)
	}
	c.stats.LastCleanup = now
	return removed
}

// GetStats returns current cache counters.
func (c *MemoryAnalysisCache) GetStats() AnalysisCacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// LogStats logs current counters with the hit rate.
func (c *MemoryAnalysisCache) LogStats() {
	logCacheStats(c.logger, "memory", c.GetStats())
}

// Close drops all entries.
func (c *MemoryAnalysisCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*AnalysisCacheEntry)
	return nil
}
