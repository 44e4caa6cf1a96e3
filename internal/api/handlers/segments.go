package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/services"
)

// ProfileSource provides the stored customer feature rows segmentation
// falls back to when the request carries no inline profiles.
type ProfileSource interface {
	Profiles(ctx context.Context, tenantID string, limit int) ([]models.CustomerProfile, error)
}

// SegmentHandler serves the customer segmentation endpoint.
type SegmentHandler struct {
	segmentation *services.SegmentationService
	customers    ProfileSource
	cache        cache.AnalysisCache
	logger       *logrus.Logger
}

// segmentationCacheParams keys cached segmentation runs over the stored
// customer base. Inline-profile runs are never cached.
type segmentationCacheParams struct {
	Limit          int   `json:"limit"`
	SegmentCount   int   `json:"segment_count"`
	MinSegmentSize int   `json:"min_segment_size"`
	Seed           int64 `json:"seed"`
}

// SegmentationResponse wraps a segmentation run for API responses.
type SegmentationResponse struct {
	TenantID string                     `json:"tenant_id"`
	Result   *models.SegmentationResult `json:"result"`
	Cached   bool                       `json:"cached"`
}

// NewSegmentHandler creates a new segmentation handler.
func NewSegmentHandler(segmentation *services.SegmentationService, customers ProfileSource, analysisCache cache.AnalysisCache, logger *logrus.Logger) *SegmentHandler {
	return &SegmentHandler{
		segmentation: segmentation,
		customers:    customers,
		cache:        analysisCache,
		logger:       logger,
	}
}

// BuildSegments runs RFM and K-means segmentation over the tenant's
// customer base, or over inline profiles when the request carries them.
func (h *SegmentHandler) BuildSegments(c *gin.Context) {
	var req models.SegmentationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tenantID := middleware.TenantID(c)
	ctx := c.Request.Context()
	cfg := services.SegmentationConfig{
		SegmentCount:   req.SegmentCount,
		MinSegmentSize: req.MinSegmentSize,
		Seed:           req.Seed,
	}

	profiles := req.Profiles
	var cacheParams interface{}
	if len(profiles) == 0 {
		params := segmentationCacheParams{
			Limit:          req.Limit,
			SegmentCount:   req.SegmentCount,
			MinSegmentSize: req.MinSegmentSize,
			Seed:           req.Seed,
		}
		var cachedResult models.SegmentationResult
		if h.cache.Get(ctx, cache.KindSegmentation, tenantID, params, &cachedResult) {
			middleware.AddSpanAttribute(c, "segmentation.cached", true)
			c.JSON(http.StatusOK, SegmentationResponse{TenantID: tenantID, Result: &cachedResult, Cached: true})
			return
		}
		cacheParams = params

		loaded, err := h.customers.Profiles(ctx, tenantID, req.Limit)
		if err != nil {
			middleware.RecordError(c, err, "customer profile load failed")
			h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to load customer profiles")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load customer profiles"})
			return
		}
		profiles = loaded
	}

	result, err := h.segmentation.Analyze(ctx, profiles, cfg)
	if err != nil {
		respondEngineError(c, h.logger, err, "Segmentation failed")
		return
	}
	if cacheParams != nil {
		h.cache.Set(ctx, cache.KindSegmentation, tenantID, cacheParams, result)
	}

	middleware.AddSpanAttribute(c, "segmentation.segments", len(result.Segments))
	c.JSON(http.StatusOK, SegmentationResponse{TenantID: tenantID, Result: result, Cached: false})
}
