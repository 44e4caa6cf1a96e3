package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/cache"
)

// auditPruner is the slice of the query executor the cleanup loop needs.
type auditPruner interface {
	PruneAuditBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// CleanupService prunes the query audit trail and sweeps expired analysis
// cache entries on an interval.
type CleanupService struct {
	pruner        auditPruner
	analysisCache cache.AnalysisCache
	logger        *logrus.Logger
	ctx           context.Context
	cancel        context.CancelFunc
}

// CleanupConfig defines retention and scheduling for the cleanup service.
type CleanupConfig struct {
	QueryAuditRetentionHours int `json:"query_audit_retention_hours"`
	CleanupIntervalMinutes   int `json:"cleanup_interval_minutes"`
}

// DefaultCleanupConfig keeps thirty days of query audit and runs hourly.
func DefaultCleanupConfig() CleanupConfig {
	return CleanupConfig{
		QueryAuditRetentionHours: 720,
		CleanupIntervalMinutes:   60,
	}
}

// NewCleanupService creates a cleanup service. The analysis cache may be
// nil when caching is disabled.
func NewCleanupService(pruner auditPruner, analysisCache cache.AnalysisCache, logger *logrus.Logger) *CleanupService {
	ctx, cancel := context.WithCancel(context.Background())
	return &CleanupService{
		pruner:        pruner,
		analysisCache: analysisCache,
		logger:        logger,
		ctx:           ctx,
		cancel:        cancel,
	}
}

// Start begins periodic cleanup. An initial pass runs immediately.
func (c *CleanupService) Start(config CleanupConfig) {
	defaults := DefaultCleanupConfig()
	if config.QueryAuditRetentionHours <= 0 {
		config.QueryAuditRetentionHours = defaults.QueryAuditRetentionHours
	}
	if config.CleanupIntervalMinutes <= 0 {
		config.CleanupIntervalMinutes = defaults.CleanupIntervalMinutes
	}

	c.logger.WithFields(logrus.Fields{
		"audit_retention_hours": config.QueryAuditRetentionHours,
		"interval_minutes":      config.CleanupIntervalMinutes,
	}).Info("Starting cleanup service")

	go func() {
		if err := c.runCleanup(config); err != nil {
			c.logger.WithError(err).Error("Initial cleanup failed")
		}
	}()

	ticker := time.NewTicker(time.Duration(config.CleanupIntervalMinutes) * time.Minute)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-c.ctx.Done():
				return
			case <-ticker.C:
				if err := c.runCleanup(config); err != nil {
					c.logger.WithError(err).Error("Cleanup failed")
				}
			}
		}
	}()
}

// Stop stops the cleanup service.
func (c *CleanupService) Stop() {
	c.logger.Info("Stopping cleanup service")
	c.cancel()
}

// RunCleanup performs a manual cleanup pass.
func (c *CleanupService) RunCleanup(config CleanupConfig) error {
	return c.runCleanup(config)
}

func (c *CleanupService) runCleanup(config CleanupConfig) error {
	if err := c.pruneQueryAudit(config.QueryAuditRetentionHours); err != nil {
		return fmt.Errorf("failed to prune query audit: %w", err)
	}

	c.sweepAnalysisCache()
	return nil
}

// pruneQueryAudit removes audit rows older than the retention window. A
// non-positive retention falls back to the default instead of deleting
// the whole table.
func (c *CleanupService) pruneQueryAudit(retentionHours int) error {
	if retentionHours <= 0 {
		retentionHours = DefaultCleanupConfig().QueryAuditRetentionHours
	}
	cutoff := time.Now().UTC().Add(-time.Duration(retentionHours) * time.Hour)

	removed, err := c.pruner.PruneAuditBefore(c.ctx, cutoff)
	if err != nil {
		return err
	}

	if removed > 0 {
		c.logger.WithFields(logrus.Fields{
			"removed":         removed,
			"retention_hours": retentionHours,
		}).Info("Pruned query audit records")
	}

	return nil
}

// sweepAnalysisCache evicts expired in-memory cache entries and logs cache
// counters. The Redis cache expires server-side, so only the in-memory
// fallback needs an active sweep.
func (c *CleanupService) sweepAnalysisCache() {
	if c.analysisCache == nil {
		return
	}

	if mem, ok := c.analysisCache.(*cache.MemoryAnalysisCache); ok {
		if evicted := mem.CleanupExpired(); evicted > 0 {
			c.logger.WithField("evicted", evicted).Debug("Evicted expired analysis cache entries")
		}
	}

	c.analysisCache.LogStats()
}
