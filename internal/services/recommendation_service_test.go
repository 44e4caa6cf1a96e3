package services

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voyagehq/crm-ai-go/internal/models"
)

var recommendationTestNow = time.Date(2025, time.July, 15, 12, 0, 0, 0, time.UTC)

func createTestRecommendationService() *RecommendationService {
	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	svc := NewRecommendationService(DefaultRecommendationConfig(), logger)
	svc.now = func() time.Time { return recommendationTestNow }
	return svc
}

func spainLoverContext() *models.CustomerContext {
	return &models.CustomerContext{
		CustomerID:            "cust-spain",
		TenantID:              "tenant-1",
		BudgetPerTrip:         decimal.NewFromInt(3500),
		PreferredDestinations: []string{"Spain"},
		PreferredThemes:       []string{"beach", "culture"},
		RecentInteractions: []models.ProductInteraction{
			{ProductID: "prod-spain", Kind: "inquiry", Timestamp: recommendationTestNow.AddDate(0, 0, -2)},
		},
		LoyaltyTier:           "gold",
		EngagementScore:       0.7,
		EmailOpenRate:         0.8,
		EmailClickRate:        0.3,
		LastBookingDays:       20,
		AvgBookingValue:       decimal.NewFromInt(1200),
		TravelMonthPreference: []time.Month{time.July, time.August},
		AccountAgeDays:        1000,
		TotalSpend:            decimal.NewFromInt(8000),
		BookingFrequencyDays:  90,
	}
}

func spainBeachProduct() models.TravelProduct {
	return models.TravelProduct{
		ID:             "prod-spain",
		Name:           "Costa Brava Beach Week",
		Type:           "package",
		Destination:    "Spain",
		Price:          decimal.NewFromInt(2400),
		Themes:         []string{"beach"},
		SeasonalMonths: []time.Month{time.July},
		DurationDays:   7,
		BaseConversion: 0.1,
	}
}

func TestRecommendProducts_EmptyCatalog(t *testing.T) {
	svc := createTestRecommendationService()

	recs, err := svc.RecommendProducts(context.Background(), spainLoverContext(), nil, models.RecommendationOptions{})
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestRecommendProducts_MissingCustomer(t *testing.T) {
	svc := createTestRecommendationService()

	_, err := svc.RecommendProducts(context.Background(), nil, []models.TravelProduct{spainBeachProduct()}, models.RecommendationOptions{})
	require.Error(t, err)

	_, err = svc.RecommendProducts(context.Background(), &models.CustomerContext{}, []models.TravelProduct{spainBeachProduct()}, models.RecommendationOptions{})
	require.Error(t, err)
}

func TestRecommendProducts_StrongMatchScoresUrgent(t *testing.T) {
	svc := createTestRecommendationService()

	recs, err := svc.RecommendProducts(context.Background(), spainLoverContext(), []models.TravelProduct{spainBeachProduct()}, models.RecommendationOptions{})
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	assert.InDelta(t, 0.853, rec.Confidence, 0.005)
	assert.Equal(t, "urgent", rec.Priority)
	assert.Contains(t, rec.Reasons, "fits preferred destinations and travel themes")
	assert.LessOrEqual(t, len(rec.Reasons), 3)

	// Conversion clamps at 30%, so revenue tops out at 30% of price
	assert.InDelta(t, 720.0, rec.ExpectedRevenue, 0.01)

	for name, score := range rec.SubScores {
		assert.GreaterOrEqual(t, score, 0.0, "sub-score %s", name)
		assert.LessOrEqual(t, score, 1.0, "sub-score %s", name)
	}
}

func TestRecommendProducts_ValueStepFunction(t *testing.T) {
	svc := createTestRecommendationService()
	customer := spainLoverContext()
	customer.BudgetPerTrip = decimal.NewFromInt(1000)

	cases := []struct {
		price    int64
		expected float64
	}{
		{700, 1.0},  // within 80% of budget
		{1100, 0.8}, // slight stretch
		{1400, 0.4}, // significant stretch
		{2500, 0.1}, // out of reach
	}
	for _, tc := range cases {
		product := spainBeachProduct()
		product.Price = decimal.NewFromInt(tc.price)
		assert.Equal(t, tc.expected, svc.valueScore(customer, &product), "price %d", tc.price)
	}
}

func TestRecommendProducts_ExclusionOptions(t *testing.T) {
	svc := createTestRecommendationService()
	product := spainBeachProduct()

	// Recent interaction window
	customer := spainLoverContext()
	recs, err := svc.RecommendProducts(context.Background(), customer, []models.TravelProduct{product}, models.RecommendationOptions{
		ExcludeRecent: true,
	})
	require.NoError(t, err)
	assert.Empty(t, recs, "recently viewed product should be excluded")

	// Already booked
	customer = spainLoverContext()
	customer.RecentInteractions = nil
	customer.PastProductIDs = []string{product.ID}
	recs, err = svc.RecommendProducts(context.Background(), customer, []models.TravelProduct{product}, models.RecommendationOptions{
		ExcludeBooked: true,
	})
	require.NoError(t, err)
	assert.Empty(t, recs, "booked product should be excluded")

	// Interaction older than the window passes
	customer = spainLoverContext()
	customer.RecentInteractions = []models.ProductInteraction{
		{ProductID: product.ID, Kind: "view", Timestamp: recommendationTestNow.AddDate(0, 0, -45)},
	}
	recs, err = svc.RecommendProducts(context.Background(), customer, []models.TravelProduct{product}, models.RecommendationOptions{
		ExcludeRecent: true,
	})
	require.NoError(t, err)
	assert.Len(t, recs, 1)
}

func TestRecommendProducts_MinConfidenceAndCap(t *testing.T) {
	svc := createTestRecommendationService()
	customer := spainLoverContext()

	catalog := []models.TravelProduct{spainBeachProduct()}
	for i := 0; i < 5; i++ {
		catalog = append(catalog, models.TravelProduct{
			ID:          fmt.Sprintf("prod-misc-%d", i),
			Name:        "City Break",
			Type:        "city",
			Destination: "Norway",
			Price:       decimal.NewFromInt(900),
		})
	}

	recs, err := svc.RecommendProducts(context.Background(), customer, catalog, models.RecommendationOptions{
		MinConfidence: 0.99,
	})
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = svc.RecommendProducts(context.Background(), customer, catalog, models.RecommendationOptions{
		MinConfidence: 0.05,
		MaxResults:    2,
	})
	require.NoError(t, err)
	assert.Len(t, recs, 2)
	assert.Equal(t, "prod-spain", recs[0].Product.ID, "strongest match first")
}

func TestRecommendProducts_PrioritySorting(t *testing.T) {
	svc := createTestRecommendationService()

	recs, err := svc.RecommendProducts(context.Background(), spainLoverContext(), []models.TravelProduct{
		{
			ID: "prod-cheap", Name: "Hostel Deal", Type: "budget",
			Destination: "Spain", Price: decimal.NewFromInt(300),
			Themes: []string{"beach"}, SeasonalMonths: []time.Month{time.July},
			BaseConversion: 0.1,
		},
		spainBeachProduct(),
	}, models.RecommendationOptions{MinConfidence: 0.05})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// Same confidence tier but only the expensive one can be urgent
	assert.Equal(t, "urgent", recs[0].Priority)
	assert.Equal(t, "prod-spain", recs[0].Product.ID)
}

func TestCrossSellAndUpSellPotential(t *testing.T) {
	svc := createTestRecommendationService()

	customer := spainLoverContext()
	customer.PastProductIDs = []string{"prod-hotel-spain"}

	hotel := models.TravelProduct{
		ID: "prod-hotel-spain", Type: "hotel", Destination: "Spain",
		Price: decimal.NewFromInt(800),
	}
	tour := models.TravelProduct{
		ID: "prod-tour-spain", Type: "tour", Destination: "Spain",
		Price: decimal.NewFromInt(500),
	}
	catalog := []models.TravelProduct{hotel, tour}

	cross := svc.crossSellPotential(customer, &tour, catalog)
	assert.InDelta(t, 0.825, cross, 0.001, "same destination, different type")

	sameType := models.TravelProduct{ID: "prod-hotel-2", Type: "hotel", Destination: "Spain"}
	assert.Zero(t, svc.crossSellPotential(customer, &sameType, catalog))

	// Up-sell wants same-type products at 1.2-1.5x the usual spend
	upscale := models.TravelProduct{ID: "prod-up", Type: "hotel", Price: decimal.NewFromInt(1600)}
	assert.InDelta(t, 0.825, svc.upSellPotential(customer, &upscale), 0.001)

	tooPricey := models.TravelProduct{ID: "prod-lux", Type: "hotel", Price: decimal.NewFromInt(5000)}
	assert.Zero(t, svc.upSellPotential(customer, &tooPricey))
}

func TestRecommendCampaigns_ScoringAndOrder(t *testing.T) {
	svc := createTestRecommendationService()

	profiles := mixedCohort()
	campaigns := []models.Campaign{
		{
			ID: "camp-winback", Name: "Winter Winback", Type: "winback",
			TargetSegment: "at_risk", Channel: "sms",
			SeasonalMonths: []time.Month{time.January},
		},
		{
			ID: "camp-loyalty", Name: "Summer Loyalty", Type: "loyalty",
			TargetSegment: "vip", Channel: "email",
			SeasonalMonths: []time.Month{time.July},
		},
	}

	recs, err := svc.RecommendCampaigns(context.Background(), profiles, campaigns)
	require.NoError(t, err)
	require.Len(t, recs, 2)

	// The in-season email campaign against a full-fit segment wins
	assert.Equal(t, "camp-loyalty", recs[0].Campaign.ID)
	assert.Equal(t, "in season now", recs[0].Timing)
	assert.Equal(t, "high", recs[0].Priority)
	assert.InDelta(t, 0.79, recs[0].Score, 0.01)

	assert.Equal(t, "camp-winback", recs[1].Campaign.ID)
	assert.Greater(t, recs[1].ExpectedOpenRate, recs[0].ExpectedOpenRate, "sms read rate outpaces email opens")

	for _, rec := range recs {
		assert.GreaterOrEqual(t, rec.ExpectedOpenRate, 0.0)
		assert.LessOrEqual(t, rec.ExpectedOpenRate, 1.0)
		assert.GreaterOrEqual(t, rec.ExpectedResponse, 0.0)
		assert.LessOrEqual(t, rec.ExpectedResponse, 1.0)
		assert.GreaterOrEqual(t, rec.ExpectedConversion, 0.0)
		assert.LessOrEqual(t, rec.ExpectedConversion, 1.0)
		assert.NotEmpty(t, rec.Rationale)
	}
}

func TestRecommendCampaigns_EmptyInputs(t *testing.T) {
	svc := createTestRecommendationService()

	recs, err := svc.RecommendCampaigns(context.Background(), nil, []models.Campaign{{ID: "c1"}})
	require.NoError(t, err)
	assert.Empty(t, recs)

	recs, err = svc.RecommendCampaigns(context.Background(), mixedCohort(), nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestAnalyzeCustomerSegments_FixedRules(t *testing.T) {
	svc := createTestRecommendationService()

	profiles := []models.CustomerProfile{
		{CustomerID: "vip", MonetaryTotal: decimal.NewFromInt(12000), RecencyDays: 400},
		{CustomerID: "frequent", MonetaryTotal: decimal.NewFromInt(5000), BookingsLastYear: 7},
		{CustomerID: "risk", MonetaryTotal: decimal.NewFromInt(1000), RecencyDays: 200, AccountAgeDays: 800},
		{CustomerID: "newbie", MonetaryTotal: decimal.NewFromInt(500), RecencyDays: 30, AccountAgeDays: 45},
		{CustomerID: "std", MonetaryTotal: decimal.NewFromInt(2000), RecencyDays: 60, AccountAgeDays: 400},
	}

	insights := svc.AnalyzeCustomerSegments(profiles)
	require.Len(t, insights, 5)

	// Output follows the rule order, first match wins per customer
	expected := []string{"vip", "frequent", "at_risk", "new", "standard"}
	for i, insight := range insights {
		assert.Equal(t, expected[i], insight.Segment)
		assert.Equal(t, 1, insight.CustomerCount)
		assert.Equal(t, 0.2, insight.Share)
		assert.NotEmpty(t, insight.Description)
	}

	// The vip rule shadows the at_risk rule for high spenders
	assert.Equal(t, "vip", assignSimpleSegment(&profiles[0]))
}

func TestRecommendProducts_FuzzedBounds(t *testing.T) {
	svc := createTestRecommendationService()
	rng := newTestRand(2025)

	destinations := []string{"Spain", "Italy", "Greece", "Norway"}
	themes := []string{"beach", "culture", "adventure", "wellness"}
	tiers := []string{"bronze", "silver", "gold", "platinum", ""}

	for i := 0; i < 100; i++ {
		customer := &models.CustomerContext{
			CustomerID:            fmt.Sprintf("fuzz-%d", i),
			TenantID:              "tenant-1",
			BudgetPerTrip:         decimal.NewFromFloat(rng.Float64() * 6000),
			PreferredDestinations: []string{destinations[rng.Intn(len(destinations))]},
			PreferredThemes:       []string{themes[rng.Intn(len(themes))]},
			LoyaltyTier:           tiers[rng.Intn(len(tiers))],
			EngagementScore:       rng.Float64(),
			EmailOpenRate:         rng.Float64(),
			EmailClickRate:        rng.Float64() * 0.5,
			LastBookingDays:       rng.Intn(400),
			AvgBookingValue:       decimal.NewFromFloat(rng.Float64() * 3000),
			AccountAgeDays:        rng.Intn(3000),
		}
		product := models.TravelProduct{
			ID:             fmt.Sprintf("prod-fuzz-%d", i),
			Type:           "package",
			Destination:    destinations[rng.Intn(len(destinations))],
			Price:          decimal.NewFromFloat(rng.Float64() * 8000),
			Themes:         []string{themes[rng.Intn(len(themes))]},
			BaseConversion: rng.Float64() * 0.3,
		}

		recs, err := svc.RecommendProducts(context.Background(), customer, []models.TravelProduct{product}, models.RecommendationOptions{
			MinConfidence: 0.001,
		})
		require.NoError(t, err)
		require.Len(t, recs, 1)

		rec := recs[0]
		assert.GreaterOrEqual(t, rec.Confidence, 0.0)
		assert.LessOrEqual(t, rec.Confidence, 1.0)
		assert.GreaterOrEqual(t, rec.CrossSell, 0.0)
		assert.LessOrEqual(t, rec.CrossSell, 1.0)
		assert.GreaterOrEqual(t, rec.UpSell, 0.0)
		assert.LessOrEqual(t, rec.UpSell, 1.0)
		assert.GreaterOrEqual(t, rec.ExpectedRevenue, 0.0)
		for name, score := range rec.SubScores {
			assert.GreaterOrEqual(t, score, 0.0, "sub-score %s", name)
			assert.LessOrEqual(t, score, 1.0, "sub-score %s", name)
		}
	}
}
