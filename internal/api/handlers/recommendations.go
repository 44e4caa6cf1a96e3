package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/middleware"
	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/services"
)

// ContextSource provides the stored recommendation context for a customer.
type ContextSource interface {
	Context(ctx context.Context, tenantID, customerID string) (*models.CustomerContext, error)
}

// RecommendationHandler serves the product and campaign recommendation
// endpoints.
type RecommendationHandler struct {
	recommendations *services.RecommendationService
	contexts        ContextSource
	profiles        ProfileSource
	cache           cache.AnalysisCache
	logger          *logrus.Logger
}

// productRecsCacheParams keys cached product recommendations for a stored
// customer. The catalog is part of the key: a changed catalog is a
// different request.
type productRecsCacheParams struct {
	CustomerID string                       `json:"customer_id"`
	Catalog    []models.TravelProduct       `json:"catalog"`
	Options    models.RecommendationOptions `json:"options"`
}

// campaignRecsCacheParams keys cached campaign rankings over the stored
// customer base.
type campaignRecsCacheParams struct {
	Limit     int               `json:"limit"`
	Campaigns []models.Campaign `json:"campaigns"`
}

// ProductRecommendationsResponse wraps ranked products for API responses.
type ProductRecommendationsResponse struct {
	TenantID        string                         `json:"tenant_id"`
	CustomerID      string                         `json:"customer_id"`
	Recommendations []models.ProductRecommendation `json:"recommendations"`
	Cached          bool                           `json:"cached"`
}

// CampaignRecommendationsResponse wraps ranked campaigns plus the segment
// breakdown of the cohort they were scored against.
type CampaignRecommendationsResponse struct {
	TenantID        string                          `json:"tenant_id"`
	Recommendations []models.CampaignRecommendation `json:"recommendations"`
	Segments        []models.SegmentInsight         `json:"segments"`
	CustomersUsed   int                             `json:"customers_used"`
	Cached          bool                            `json:"cached"`
}

// NewRecommendationHandler creates a new recommendation handler.
func NewRecommendationHandler(recommendations *services.RecommendationService, contexts ContextSource, profiles ProfileSource, analysisCache cache.AnalysisCache, logger *logrus.Logger) *RecommendationHandler {
	return &RecommendationHandler{
		recommendations: recommendations,
		contexts:        contexts,
		profiles:        profiles,
		cache:           analysisCache,
		logger:          logger,
	}
}

// RecommendProducts ranks catalog products for one customer from an inline
// context or, given a customer_id, from the stored context.
func (h *RecommendationHandler) RecommendProducts(c *gin.Context) {
	var req models.RecommendProductsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if req.Customer == nil && req.CustomerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Either customer or customer_id is required"})
		return
	}

	tenantID := middleware.TenantID(c)
	ctx := c.Request.Context()

	customer := req.Customer
	var cacheParams interface{}
	if customer == nil {
		params := productRecsCacheParams{
			CustomerID: req.CustomerID,
			Catalog:    req.Catalog,
			Options:    req.Options,
		}
		var cachedRecs []models.ProductRecommendation
		if h.cache.Get(ctx, cache.KindRecommendations, tenantID, params, &cachedRecs) {
			c.JSON(http.StatusOK, ProductRecommendationsResponse{
				TenantID:        tenantID,
				CustomerID:      req.CustomerID,
				Recommendations: cachedRecs,
				Cached:          true,
			})
			return
		}
		cacheParams = params

		loaded, err := h.contexts.Context(ctx, tenantID, req.CustomerID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Customer not found"})
				return
			}
			middleware.RecordError(c, err, "customer context load failed")
			h.logger.WithError(err).WithFields(logrus.Fields{
				"tenant_id":   tenantID,
				"customer_id": req.CustomerID,
			}).Error("Failed to load customer context")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load customer context"})
			return
		}
		customer = loaded
	}
	if customer.TenantID == "" {
		customer.TenantID = tenantID
	}

	recs, err := h.recommendations.RecommendProducts(ctx, customer, req.Catalog, req.Options)
	if err != nil {
		respondEngineError(c, h.logger, err, "Product recommendation failed")
		return
	}
	if cacheParams != nil {
		h.cache.Set(ctx, cache.KindRecommendations, tenantID, cacheParams, recs)
	}

	middleware.AddSpanAttribute(c, "recommendations.count", len(recs))
	c.JSON(http.StatusOK, ProductRecommendationsResponse{
		TenantID:        tenantID,
		CustomerID:      customer.CustomerID,
		Recommendations: recs,
		Cached:          false,
	})
}

// RecommendCampaigns ranks candidate campaigns against a cohort, inline or
// loaded from the stored customer base.
func (h *RecommendationHandler) RecommendCampaigns(c *gin.Context) {
	var req models.RecommendCampaignsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	tenantID := middleware.TenantID(c)
	ctx := c.Request.Context()

	profiles := req.Profiles
	var cacheParams interface{}
	if len(profiles) == 0 {
		params := campaignRecsCacheParams{Limit: req.Limit, Campaigns: req.Campaigns}
		var cachedResp CampaignRecommendationsResponse
		if h.cache.Get(ctx, cache.KindCampaigns, tenantID, params, &cachedResp) {
			cachedResp.Cached = true
			c.JSON(http.StatusOK, cachedResp)
			return
		}
		cacheParams = params

		loaded, err := h.profiles.Profiles(ctx, tenantID, req.Limit)
		if err != nil {
			middleware.RecordError(c, err, "customer profile load failed")
			h.logger.WithError(err).WithField("tenant_id", tenantID).Error("Failed to load customer profiles")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load customer profiles"})
			return
		}
		profiles = loaded
	}

	recs, err := h.recommendations.RecommendCampaigns(ctx, profiles, req.Campaigns)
	if err != nil {
		respondEngineError(c, h.logger, err, "Campaign recommendation failed")
		return
	}

	resp := CampaignRecommendationsResponse{
		TenantID:        tenantID,
		Recommendations: recs,
		Segments:        h.recommendations.AnalyzeCustomerSegments(profiles),
		CustomersUsed:   len(profiles),
	}
	if cacheParams != nil {
		h.cache.Set(ctx, cache.KindCampaigns, tenantID, cacheParams, resp)
	}

	middleware.AddSpanAttribute(c, "campaigns.ranked", len(recs))
	c.JSON(http.StatusOK, resp)
}
