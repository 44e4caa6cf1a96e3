package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagehq/crm-ai-go/internal/cache"
	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/services"
)

// fakeProfileSource serves a canned customer cohort.
type fakeProfileSource struct {
	profiles  []models.CustomerProfile
	err       error
	lastLimit int
	calls     int
}

func (f *fakeProfileSource) Profiles(_ context.Context, _ string, limit int) ([]models.CustomerProfile, error) {
	f.calls++
	f.lastLimit = limit
	return f.profiles, f.err
}

// mixedCohort builds half frequent high spenders, half dormant one-timers.
func mixedCohort(size int) []models.CustomerProfile {
	profiles := make([]models.CustomerProfile, 0, size)
	for i := 0; i < size; i++ {
		p := models.CustomerProfile{
			CustomerID:       fmt.Sprintf("cust-%d", i),
			TenantID:         "tenant-1",
			Age:              30 + i%20,
			Country:          "Germany",
			LoyaltyTier:      "bronze",
			PreferredChannel: "email",
			AccountAgeDays:   800,
		}
		if i%2 == 0 {
			p.RecencyDays = 5 + i%10
			p.Frequency = 10
			p.BookingsLastYear = 8
			p.MonetaryTotal = decimal.NewFromInt(12000)
			p.AvgBookingValue = decimal.NewFromInt(1500)
			p.EmailEngagement = 0.85
			p.WebsiteEngagement = 0.7
			p.LoyaltyTier = "gold"
		} else {
			p.RecencyDays = 250 + i
			p.Frequency = 1
			p.MonetaryTotal = decimal.NewFromInt(500)
			p.AvgBookingValue = decimal.NewFromInt(500)
			p.EmailEngagement = 0.05
			p.WebsiteEngagement = 0.05
		}
		profiles = append(profiles, p)
	}
	return profiles
}

func newTestSegmentHandler(customers ProfileSource, store cache.AnalysisCache) *SegmentHandler {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	segmentation := services.NewSegmentationService(services.SegmentationConfig{}, logger)
	return NewSegmentHandler(segmentation, customers, store, logger)
}

func TestSegmentHandler_BuildSegments_Inline(t *testing.T) {
	store := cache.NewMemoryAnalysisCache(time.Minute, nil)
	handler := newTestSegmentHandler(&fakeProfileSource{}, store)

	req := models.SegmentationRequest{
		Profiles:       mixedCohort(24),
		SegmentCount:   2,
		MinSegmentSize: 3,
		Seed:           42,
	}
	c, w := tenantContext(t, "POST", "/api/v1/segments/build", req)
	handler.BuildSegments(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp SegmentationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "tenant-1", resp.TenantID)
	assert.False(t, resp.Cached)
	require.NotNil(t, resp.Result)
	assert.NotEmpty(t, resp.Result.Segments)
	assert.Equal(t, 24, resp.Result.CustomersUsed)
}

func TestSegmentHandler_BuildSegments_StoredCohort(t *testing.T) {
	source := &fakeProfileSource{profiles: mixedCohort(30)}
	store := cache.NewMemoryAnalysisCache(time.Minute, nil)
	handler := newTestSegmentHandler(source, store)

	req := models.SegmentationRequest{Limit: 100, SegmentCount: 2, MinSegmentSize: 3, Seed: 42}
	c, w := tenantContext(t, "POST", "/api/v1/segments/build", req)
	handler.BuildSegments(c)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, 100, source.lastLimit)
	assert.Equal(t, 1, source.calls)

	// Re-running the same request must come out of the cache.
	c2, w2 := tenantContext(t, "POST", "/api/v1/segments/build", req)
	handler.BuildSegments(c2)

	require.Equal(t, http.StatusOK, w2.Code)
	var second SegmentationResponse
	require.NoError(t, json.Unmarshal(w2.Body.Bytes(), &second))
	assert.True(t, second.Cached)
	assert.Equal(t, 1, source.calls)
}

func TestSegmentHandler_BuildSegments_ParamsChangeMissesCache(t *testing.T) {
	source := &fakeProfileSource{profiles: mixedCohort(30)}
	store := cache.NewMemoryAnalysisCache(time.Minute, nil)
	handler := newTestSegmentHandler(source, store)

	c, w := tenantContext(t, "POST", "/api/v1/segments/build", models.SegmentationRequest{SegmentCount: 2, MinSegmentSize: 3, Seed: 42})
	handler.BuildSegments(c)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	c2, w2 := tenantContext(t, "POST", "/api/v1/segments/build", models.SegmentationRequest{SegmentCount: 3, MinSegmentSize: 3, Seed: 42})
	handler.BuildSegments(c2)
	require.Equal(t, http.StatusOK, w2.Code, w2.Body.String())
	assert.Equal(t, 2, source.calls)
}

func TestSegmentHandler_BuildSegments_InsufficientProfiles(t *testing.T) {
	handler := newTestSegmentHandler(&fakeProfileSource{}, cache.NewMemoryAnalysisCache(time.Minute, nil))

	req := models.SegmentationRequest{
		Profiles:       mixedCohort(4),
		SegmentCount:   5,
		MinSegmentSize: 10,
	}
	c, w := tenantContext(t, "POST", "/api/v1/segments/build", req)
	handler.BuildSegments(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Contains(t, resp["error"], "insufficient data")
}

func TestSegmentHandler_BuildSegments_RepoError(t *testing.T) {
	source := &fakeProfileSource{err: fmt.Errorf("connection refused")}
	handler := newTestSegmentHandler(source, cache.NewMemoryAnalysisCache(time.Minute, nil))

	c, w := tenantContext(t, "POST", "/api/v1/segments/build", models.SegmentationRequest{})
	handler.BuildSegments(c)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
