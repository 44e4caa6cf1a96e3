package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/services"
)

// fakeContextSource serves a canned recommendation context.
type fakeContextSource struct {
	context *models.CustomerContext
	err     error
	calls   int
}

func (f *fakeContextSource) Context(_ context.Context, _, _ string) (*models.CustomerContext, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.context, nil
}

func beachLover(customerID string) *models.CustomerContext {
	return &models.CustomerContext{
		CustomerID:            customerID,
		BudgetPerTrip:         decimal.NewFromInt(2500),
		PreferredDestinations: []string{"Spain"},
		PreferredThemes:       []string{"beach"},
		LoyaltyTier:           "gold",
		EngagementScore:       0.7,
		EmailOpenRate:         0.8,
		EmailClickRate:        0.3,
		LastBookingDays:       40,
		AvgBookingValue:       decimal.NewFromInt(1800),
		AccountAgeDays:        900,
		TotalSpend:            decimal.NewFromInt(14000),
		BookingFrequencyDays:  60,
	}
}

func beachCatalog() []models.TravelProduct {
	return []models.TravelProduct{
		{
			ID:             "prod-beach",
			Name:           "Costa Brava Beach Week",
			Type:           "package",
			Destination:    "Spain",
			Price:          decimal.NewFromInt(1800),
			Themes:         []string{"beach"},
			DurationDays:   7,
			BaseConversion: 0.08,
		},
		{
			ID:             "prod-ski",
			Name:           "Alpine Ski Escape",
			Type:           "package",
			Destination:    "Austria",
			Price:          decimal.NewFromInt(2200),
			Themes:         []string{"ski"},
			DurationDays:   5,
			BaseConversion: 0.04,
		},
	}
}

func newTestRecommendationHandler(contexts ContextSource, profiles ProfileSource, store cache.AnalysisCache) *RecommendationHandler {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	recs := services.NewRecommendationService(services.RecommendationConfig{}, logger)
	return NewRecommendationHandler(recs, contexts, profiles, store, logger)
}

func TestRecommendationHandler_RecommendProducts_Inline(t *testing.T) {
	handler := newTestRecommendationHandler(&fakeContextSource{}, &fakeProfileSource{}, cache.NewMemoryAnalysisCache(time.Minute, nil))

	req := models.RecommendProductsRequest{
		Customer: beachLover("cust-1"),
		Catalog:  beachCatalog(),
	}
	c, w := tenantContext(t, "POST", "/api/v1/recommendations/products", req)
	handler.RecommendProducts(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp ProductRecommendationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tenant-1", resp.TenantID)
	assert.Equal(t, "cust-1", resp.CustomerID)
	assert.False(t, resp.Cached)
	require.NotEmpty(t, resp.Recommendations)
	assert.Equal(t, "prod-beach", resp.Recommendations[0].Product.ID)
}

func TestRecommendationHandler_RecommendProducts_StoredContext(t *testing.T) {
	source := &fakeContextSource{context: beachLover("cust-9")}
	store := cache.NewMemoryAnalysisCache(time.Minute, nil)
	handler := newTestRecommendationHandler(source, &fakeProfileSource{}, store)

	req := models.RecommendProductsRequest{CustomerID: "cust-9", Catalog: beachCatalog()}
	c, w := tenantContext(t, "POST", "/api/v1/recommendations/products", req)
	handler.RecommendProducts(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 1, source.calls)

	// Identical request is a cache hit, so the context is not reloaded.
	c2, w2 := tenantContext(t, "POST", "/api/v1/recommendations/products", req)
	handler.RecommendProducts(c2)

	require.Equal(t, http.StatusOK, w2.Code)
	var second ProductRecommendationsResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, 1, source.calls)
}

func TestRecommendationHandler_RecommendProducts_MissingInput(t *testing.T) {
	handler := newTestRecommendationHandler(&fakeContextSource{}, &fakeProfileSource{}, cache.NewMemoryAnalysisCache(time.Minute, nil))

	c, w := tenantContext(t, "POST", "/api/v1/recommendations/products", models.RecommendProductsRequest{Catalog: beachCatalog()})
	handler.RecommendProducts(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "customer or customer_id")
}

func TestRecommendationHandler_RecommendProducts_NoCatalog(t *testing.T) {
	handler := newTestRecommendationHandler(&fakeContextSource{}, &fakeProfileSource{}, cache.NewMemoryAnalysisCache(time.Minute, nil))

	c, w := tenantContext(t, "POST", "/api/v1/recommendations/products", map[string]interface{}{"customer_id": "cust-1"})
	handler.RecommendProducts(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecommendationHandler_RecommendProducts_NotFound(t *testing.T) {
	source := &fakeContextSource{err: fmt.Errorf("failed to load customer context: %w", pgx.ErrNoRows)}
	handler := newTestRecommendationHandler(source, &fakeProfileSource{}, cache.NewMemoryAnalysisCache(time.Minute, nil))

	req := models.RecommendProductsRequest{CustomerID: "cust-gone", Catalog: beachCatalog()}
	c, w := tenantContext(t, "POST", "/api/v1/recommendations/products", req)
	handler.RecommendProducts(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRecommendationHandler_RecommendCampaigns_Inline(t *testing.T) {
	handler := newTestRecommendationHandler(&fakeContextSource{}, &fakeProfileSource{}, cache.NewMemoryAnalysisCache(time.Minute, nil))

	req := models.RecommendCampaignsRequest{
		Profiles: mixedCohort(20),
		Campaigns: []models.Campaign{
			{ID: "camp-1", Name: "Summer Beach Push", Type: "seasonal", TargetSegment: "vip", Channel: "email"},
			{ID: "camp-2", Name: "Win-back SMS", Type: "winback", TargetSegment: "dormant", Channel: "sms"},
		},
	}
	c, w := tenantContext(t, "POST", "/api/v1/recommendations/campaigns", req)
	handler.RecommendCampaigns(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp CampaignRecommendationsResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tenant-1", resp.TenantID)
	assert.Len(t, resp.Recommendations, 2)
	assert.NotEmpty(t, resp.Segments)
	assert.Equal(t, 20, resp.CustomersUsed)
	assert.False(t, resp.Cached)

	// Ordered by score, best first.
	if len(resp.Recommendations) == 2 {
		assert.GreaterOrEqual(t, resp.Recommendations[0].Score, resp.Recommendations[1].Score)
	}
}

func TestRecommendationHandler_RecommendCampaigns_StoredCohort(t *testing.T) {
	source := &fakeProfileSource{profiles: mixedCohort(16)}
	store := cache.NewMemoryAnalysisCache(time.Minute, nil)
	handler := newTestRecommendationHandler(&fakeContextSource{}, source, store)

	req := models.RecommendCampaignsRequest{
		Limit:     200,
		Campaigns: []models.Campaign{{ID: "camp-1", Name: "Newsletter Reboot", Type: "engagement", TargetSegment: "at_risk", Channel: "email"}},
	}
	c, w := tenantContext(t, "POST", "/api/v1/recommendations/campaigns", req)
	handler.RecommendCampaigns(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 200, source.lastLimit)
	assert.Equal(t, 1, source.calls)

	c2, w2 := tenantContext(t, "POST", "/api/v1/recommendations/campaigns", req)
	handler.RecommendCampaigns(c2)

	require.Equal(t, http.StatusOK, w2.Code)
	var second CampaignRecommendationsResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, 1, source.calls)
	assert.Equal(t, 16, second.CustomersUsed)
}

func TestRecommendationHandler_RecommendCampaigns_MissingCampaigns(t *testing.T) {
	handler := newTestRecommendationHandler(&fakeContextSource{}, &fakeProfileSource{}, cache.NewMemoryAnalysisCache(time.Minute, nil))

	c, w := tenantContext(t, "POST", "/api/v1/recommendations/campaigns", map[string]interface{}{"limit": 10})
	handler.RecommendCampaigns(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRecommendationHandler_RecommendCampaigns_RepoError(t *testing.T) {
	source := &fakeProfileSource{err: fmt.Errorf("connection refused")}
	handler := newTestRecommendationHandler(&fakeContextSource{}, source, cache.NewMemoryAnalysisCache(time.Minute, nil))

	req := models.RecommendCampaignsRequest{
		Campaigns: []models.Campaign{{ID: "camp-1", Name: "Anything", Type: "seasonal", TargetSegment: "vip", Channel: "email"}},
	}
	c, w := tenantContext(t, "POST", "/api/v1/recommendations/campaigns", req)
	handler.RecommendCampaigns(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
