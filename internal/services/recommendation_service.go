package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/utils"
)

// RecommendationConfig holds scoring weights and filtering defaults
type RecommendationConfig struct {
	Weights          map[string]float64 `json:"weights"`
	MinConfidence    float64            `json:"min_confidence"`
	MaxResults       int                `json:"max_results"`
	RecentWindowDays int                `json:"recent_window_days"`
}

// DefaultRecommendationConfig returns the standard sub-score weighting
func DefaultRecommendationConfig() RecommendationConfig {
	return RecommendationConfig{
		Weights: map[string]float64{
			"behavioral": 0.25,
			"content":    0.20,
			"temporal":   0.15,
			"value":      0.15,
			"engagement": 0.10,
			"conversion": 0.10,
			"loyalty":    0.05,
		},
		MinConfidence:    0.3,
		MaxResults:       10,
		RecentWindowDays: 30,
	}
}

// Loyalty tier ladder used across product and campaign scoring
var loyaltyTierScores = map[string]float64{
	"bronze":   0.25,
	"silver":   0.50,
	"gold":     0.75,
	"platinum": 1.00,
}

// Channel base rates: open/read rate and click/response rate
var channelBaseRates = map[string][2]float64{
	"email":    {0.22, 0.03},
	"sms":      {0.85, 0.15},
	"push":     {0.15, 0.02},
	"whatsapp": {0.70, 0.20},
}

// Interaction kinds ordered by purchase intent
var interactionKindWeights = map[string]float64{
	"view":    0.2,
	"click":   0.4,
	"save":    0.6,
	"inquiry": 0.8,
	"booking": 1.0,
}

// RecommendationService scores travel products and campaigns against
// customer context
type RecommendationService struct {
	config RecommendationConfig
	logger *logrus.Logger
	now    func() time.Time
}

// NewRecommendationService creates a recommendation service with defaults
// applied for zero-valued config fields.
func NewRecommendationService(cfg RecommendationConfig, logger *logrus.Logger) *RecommendationService {
	defaults := DefaultRecommendationConfig()
	if len(cfg.Weights) == 0 {
		cfg.Weights = defaults.Weights
	}
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = defaults.MinConfidence
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaults.MaxResults
	}
	if cfg.RecentWindowDays <= 0 {
		cfg.RecentWindowDays = defaults.RecentWindowDays
	}
	return &RecommendationService{
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
}

// RecommendProducts scores the catalog for one customer and returns the
// filtered, priority-sorted suggestions. An empty catalog yields an empty
// result rather than an error.
func (rs *RecommendationService) RecommendProducts(ctx context.Context, customer *models.CustomerContext, catalog []models.TravelProduct, opts models.RecommendationOptions) ([]models.ProductRecommendation, error) {
	if customer == nil {
		return nil, utils.NewValidationError("customer context is required")
	}
	if customer.CustomerID == "" {
		return nil, utils.NewValidationError("customer_id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("product recommendation cancelled: %w", err)
	}
	if len(catalog) == 0 {
		return []models.ProductRecommendation{}, nil
	}

	minConfidence := opts.MinConfidence
	if minConfidence <= 0 {
		minConfidence = rs.config.MinConfidence
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = rs.config.MaxResults
	}

	pastByID := make(map[string]bool, len(customer.PastProductIDs))
	for _, id := range customer.PastProductIDs {
		pastByID[id] = true
	}
	recentCutoff := rs.now().AddDate(0, 0, -rs.config.RecentWindowDays)

	var recommendations []models.ProductRecommendation
	for i := range catalog {
		product := &catalog[i]

		if opts.ExcludeBooked && pastByID[product.ID] {
			continue
		}
		if opts.ExcludeRecent && rs.interactedSince(customer, product.ID, recentCutoff) {
			continue
		}

		subScores := map[string]float64{
			"behavioral": rs.behavioralScore(customer, product),
			"content":    rs.contentScore(customer, product),
			"temporal":   rs.temporalScore(customer, product),
			"value":      rs.valueScore(customer, product),
			"engagement": rs.engagementScore(customer),
			"conversion": rs.conversionScore(product),
			"loyalty":    loyaltyScore(customer.LoyaltyTier),
		}

		confidence := 0.0
		for name, weight := range rs.config.Weights {
			confidence += weight * subScores[name]
		}
		if confidence < minConfidence {
			continue
		}

		price := product.Price.InexactFloat64()
		conversionRate := rs.estimateConversionRate(customer, confidence, subScores["engagement"])

		recommendations = append(recommendations, models.ProductRecommendation{
			Product:         *product,
			Confidence:      roundTo(confidence, 3),
			Priority:        productPriority(confidence, price),
			Reasons:         rs.buildReasons(subScores),
			ExpectedRevenue: roundTo(price*conversionRate, 2),
			SubScores:       subScores,
			CrossSell:       rs.crossSellPotential(customer, product, catalog),
			UpSell:          rs.upSellPotential(customer, product),
		})
	}

	sort.SliceStable(recommendations, func(i, j int) bool {
		pi, pj := priorityRank(recommendations[i].Priority), priorityRank(recommendations[j].Priority)
		if pi != pj {
			return pi > pj
		}
		return recommendations[i].Confidence > recommendations[j].Confidence
	})
	if len(recommendations) > maxResults {
		recommendations = recommendations[:maxResults]
	}

	rs.logger.WithFields(logrus.Fields{
		"customer_id": customer.CustomerID,
		"catalog":     len(catalog),
		"returned":    len(recommendations),
	}).Debug("Product recommendations generated")
	return recommendations, nil
}

func (rs *RecommendationService) interactedSince(customer *models.CustomerContext, productID string, cutoff time.Time) bool {
	for _, interaction := range customer.RecentInteractions {
		if interaction.ProductID == productID && interaction.Timestamp.After(cutoff) {
			return true
		}
	}
	return false
}

// behavioralScore rewards interactions on this product or closely related
// ones, decayed over 90 days by recency and weighted by intent strength.
func (rs *RecommendationService) behavioralScore(customer *models.CustomerContext, product *models.TravelProduct) float64 {
	if len(customer.RecentInteractions) == 0 {
		return 0.1
	}

	now := rs.now()
	best := 0.0
	for _, interaction := range customer.RecentInteractions {
		kindWeight, ok := interactionKindWeights[interaction.Kind]
		if !ok {
			kindWeight = 0.2
		}
		ageDays := now.Sub(interaction.Timestamp).Hours() / 24
		decay := math.Max(0, 1-ageDays/90)

		relevance := 0.0
		switch {
		case interaction.ProductID == product.ID:
			relevance = 1.0
		case rs.sharesDestination(customer, interaction.ProductID, product):
			relevance = 0.7
		}
		if score := kindWeight * decay * relevance; score > best {
			best = score
		}
	}
	return clamp(best, 0, 1)
}

// sharesDestination reports whether the interacted product points at the
// same destination preference this product serves. Without a catalog
// lookup for the historic id we fall back to the customer's stated
// preferences.
func (rs *RecommendationService) sharesDestination(customer *models.CustomerContext, _ string, product *models.TravelProduct) bool {
	for _, dest := range customer.PreferredDestinations {
		if strings.EqualFold(dest, product.Destination) {
			return true
		}
	}
	return false
}

// contentScore blends theme overlap with destination preference
func (rs *RecommendationService) contentScore(customer *models.CustomerContext, product *models.TravelProduct) float64 {
	themeOverlap := 0.0
	if len(product.Themes) > 0 {
		matched := 0
		for _, theme := range product.Themes {
			if containsFold(customer.PreferredThemes, theme) || containsFold(customer.TravelStyles, theme) {
				matched++
			}
		}
		themeOverlap = float64(matched) / float64(len(product.Themes))
	}

	destinationMatch := 0.0
	if containsFold(customer.PreferredDestinations, product.Destination) {
		destinationMatch = 1.0
	}
	return clamp(themeOverlap*0.6+destinationMatch*0.4, 0, 1)
}

// temporalScore measures seasonal overlap with the customer's preferred
// travel months. No stated preference scores neutral.
func (rs *RecommendationService) temporalScore(customer *models.CustomerContext, product *models.TravelProduct) float64 {
	if len(customer.TravelMonthPreference) == 0 || len(product.SeasonalMonths) == 0 {
		return 0.5
	}
	preferred := make(map[time.Month]bool, len(customer.TravelMonthPreference))
	for _, m := range customer.TravelMonthPreference {
		preferred[m] = true
	}
	matched := 0
	for _, m := range product.SeasonalMonths {
		if preferred[m] {
			matched++
		}
	}
	return clamp(float64(matched)/float64(len(product.SeasonalMonths)), 0, 1)
}

// valueScore is a step function of price against the customer's budget.
// Budget falls back to 1.2x the average booking value when not stated.
func (rs *RecommendationService) valueScore(customer *models.CustomerContext, product *models.TravelProduct) float64 {
	budget := customer.BudgetPerTrip.InexactFloat64()
	if budget <= 0 {
		budget = customer.AvgBookingValue.InexactFloat64() * 1.2
	}
	if budget <= 0 {
		return 0.5
	}

	price := product.Price.InexactFloat64()
	switch {
	case price <= budget*0.8:
		return 1.0
	case price <= budget*1.2:
		return 0.8
	case price <= budget*1.5:
		return 0.4
	default:
		return 0.1
	}
}

func (rs *RecommendationService) engagementScore(customer *models.CustomerContext) float64 {
	openScore := clamp(customer.EmailOpenRate, 0, 1)
	clickScore := clamp(customer.EmailClickRate*2, 0, 1)
	activityScore := clamp(customer.EngagementScore, 0, 1)
	return (openScore + clickScore + activityScore) / 3
}

func (rs *RecommendationService) conversionScore(product *models.TravelProduct) float64 {
	return clamp(product.BaseConversion*5, 0, 1)
}

func loyaltyScore(tier string) float64 {
	if score, ok := loyaltyTierScores[strings.ToLower(tier)]; ok {
		return score
	}
	return 0.25
}

// estimateConversionRate turns confidence into a bounded conversion
// estimate using loyalty, engagement, and booking recency multipliers.
func (rs *RecommendationService) estimateConversionRate(customer *models.CustomerContext, confidence, engagement float64) float64 {
	loyaltyFactor := 1 + loyaltyScore(customer.LoyaltyTier)*0.5
	engagementFactor := 0.5 + engagement

	recencyFactor := 0.6
	switch {
	case customer.LastBookingDays <= 30:
		recencyFactor = 1.2
	case customer.LastBookingDays <= 90:
		recencyFactor = 1.0
	case customer.LastBookingDays <= 180:
		recencyFactor = 0.8
	}

	return clamp(confidence*loyaltyFactor*engagementFactor*recencyFactor, 0.01, 0.30)
}

func productPriority(confidence, price float64) string {
	switch {
	case confidence >= 0.8 && price >= 2000:
		return "urgent"
	case confidence >= 0.6:
		return "high"
	case confidence >= 0.4:
		return "medium"
	default:
		return "low"
	}
}

func priorityRank(priority string) int {
	switch priority {
	case "urgent":
		return 3
	case "high":
		return 2
	case "medium":
		return 1
	default:
		return 0
	}
}

var subScoreReasons = map[string]string{
	"behavioral": "matches recent browsing and interaction history",
	"content":    "fits preferred destinations and travel themes",
	"temporal":   "aligns with preferred travel months",
	"value":      "priced within the customer's budget",
	"engagement": "customer is actively engaging with communications",
	"conversion": "historically strong conversion for this product",
	"loyalty":    "long-standing loyalty relationship",
}

// buildReasons phrases the strongest weighted sub-scores, up to three
func (rs *RecommendationService) buildReasons(subScores map[string]float64) []string {
	type contribution struct {
		name   string
		weight float64
	}
	contributions := make([]contribution, 0, len(subScores))
	for name, score := range subScores {
		if score < 0.5 {
			continue
		}
		contributions = append(contributions, contribution{name, rs.config.Weights[name] * score})
	}
	sort.Slice(contributions, func(i, j int) bool {
		if contributions[i].weight != contributions[j].weight {
			return contributions[i].weight > contributions[j].weight
		}
		return contributions[i].name < contributions[j].name
	})
	if len(contributions) > 3 {
		contributions = contributions[:3]
	}

	reasons := make([]string, 0, len(contributions))
	for _, c := range contributions {
		reasons = append(reasons, subScoreReasons[c.name])
	}
	return reasons
}

// crossSellPotential flags products in a destination the customer has
// already booked but of a different product type.
func (rs *RecommendationService) crossSellPotential(customer *models.CustomerContext, product *models.TravelProduct, catalog []models.TravelProduct) float64 {
	byID := make(map[string]*models.TravelProduct, len(catalog))
	for i := range catalog {
		byID[catalog[i].ID] = &catalog[i]
	}

	for _, pastID := range customer.PastProductIDs {
		past, ok := byID[pastID]
		if !ok {
			continue
		}
		if strings.EqualFold(past.Destination, product.Destination) && !strings.EqualFold(past.Type, product.Type) {
			return clamp(0.6+loyaltyScore(customer.LoyaltyTier)*0.3, 0, 1)
		}
	}
	return 0
}

// upSellPotential flags same-type products priced 1.2-1.5x above the
// customer's usual booking value.
func (rs *RecommendationService) upSellPotential(customer *models.CustomerContext, product *models.TravelProduct) float64 {
	avgValue := customer.AvgBookingValue.InexactFloat64()
	if avgValue <= 0 || len(customer.PastProductIDs) == 0 {
		return 0
	}
	price := product.Price.InexactFloat64()
	if price >= avgValue*1.2 && price <= avgValue*1.5 {
		return clamp(0.6+loyaltyScore(customer.LoyaltyTier)*0.3, 0, 1)
	}
	return 0
}

// RecommendCampaigns scores the candidate campaigns against the cohort
// and returns them ordered by fit. Empty inputs short-circuit to an empty
// result.
func (rs *RecommendationService) RecommendCampaigns(ctx context.Context, profiles []models.CustomerProfile, campaigns []models.Campaign) ([]models.CampaignRecommendation, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("campaign recommendation cancelled: %w", err)
	}
	if len(profiles) == 0 || len(campaigns) == 0 {
		return []models.CampaignRecommendation{}, nil
	}

	var emailSum, websiteSum float64
	for _, p := range profiles {
		emailSum += p.EmailEngagement
		websiteSum += p.WebsiteEngagement
	}
	cohort := float64(len(profiles))
	avgEmail := emailSum / cohort
	avgWebsite := websiteSum / cohort

	segmentShares := make(map[string]float64)
	for _, insight := range rs.AnalyzeCustomerSegments(profiles) {
		segmentShares[insight.Segment] = insight.Share
	}

	referenceMonth := rs.now().Month()
	recommendations := make([]models.CampaignRecommendation, 0, len(campaigns))
	for _, campaign := range campaigns {
		engagementFit := rs.channelEngagementFit(campaign.Channel, avgEmail, avgWebsite)
		segmentFit := segmentFitScore(segmentShares, campaign.TargetSegment)
		timing, timingLabel := seasonalTiming(campaign.SeasonalMonths, referenceMonth)

		score := roundTo(engagementFit*0.4+segmentFit*0.4+timing*0.2, 3)

		rates, ok := channelBaseRates[strings.ToLower(campaign.Channel)]
		if !ok {
			rates = channelBaseRates["email"]
		}
		openRate := clamp(rates[0]*(0.5+engagementFit), 0, 1)
		responseRate := clamp(rates[1]*(0.5+engagementFit), 0, 1)

		priority := "low"
		switch {
		case score >= 0.7:
			priority = "high"
		case score >= 0.5:
			priority = "medium"
		}

		recommendations = append(recommendations, models.CampaignRecommendation{
			Campaign:           campaign,
			Score:              score,
			Channel:            campaign.Channel,
			Timing:             timingLabel,
			ExpectedOpenRate:   roundTo(openRate, 3),
			ExpectedResponse:   roundTo(responseRate, 3),
			ExpectedConversion: roundTo(clamp(responseRate*score, 0.005, 0.30), 3),
			Priority:           priority,
			Rationale: fmt.Sprintf("%s campaign via %s targets the %s segment (%.0f%% of cohort)",
				campaign.Type, campaign.Channel, campaign.TargetSegment, segmentShares[campaign.TargetSegment]*100),
		})
	}

	sort.SliceStable(recommendations, func(i, j int) bool {
		return recommendations[i].Score > recommendations[j].Score
	})

	rs.logger.WithFields(logrus.Fields{
		"cohort":    len(profiles),
		"campaigns": len(campaigns),
	}).Debug("Campaign recommendations generated")
	return recommendations, nil
}

func (rs *RecommendationService) channelEngagementFit(channel string, avgEmail, avgWebsite float64) float64 {
	switch strings.ToLower(channel) {
	case "email":
		return clamp(avgEmail, 0, 1)
	case "push":
		return clamp(avgWebsite, 0, 1)
	default:
		return clamp((avgEmail+avgWebsite)/2, 0, 1)
	}
}

// segmentFitScore scales the targeted segment's cohort share; a campaign
// aimed at half the cohort is already a full fit
func segmentFitScore(shares map[string]float64, target string) float64 {
	if target == "" || strings.EqualFold(target, "all") {
		return 0.5
	}
	share, ok := shares[strings.ToLower(target)]
	if !ok {
		return 0.3
	}
	return clamp(share*2, 0, 1)
}

// seasonalTiming scores circular month distance to the nearest campaign
// season
func seasonalTiming(months []time.Month, reference time.Month) (float64, string) {
	if len(months) == 0 {
		return 0.5, "anytime"
	}

	minDistance := 12
	nearest := months[0]
	for _, m := range months {
		distance := int(math.Abs(float64(m - reference)))
		if distance > 6 {
			distance = 12 - distance
		}
		if distance < minDistance {
			minDistance = distance
			nearest = m
		}
	}

	score := 0.2
	switch minDistance {
	case 0:
		score = 1.0
	case 1:
		score = 0.8
	case 2:
		score = 0.6
	case 3:
		score = 0.4
	}

	label := fmt.Sprintf("peak season %s", nearest)
	if minDistance == 0 {
		label = "in season now"
	}
	return score, label
}

// AnalyzeCustomerSegments splits the cohort with five fixed rules, first
// match wins. This is the quick campaign-targeting split, independent of
// the statistical segmentation engine.
func (rs *RecommendationService) AnalyzeCustomerSegments(profiles []models.CustomerProfile) []models.SegmentInsight {
	if len(profiles) == 0 {
		return []models.SegmentInsight{}
	}

	counts := map[string]int{}
	for _, p := range profiles {
		counts[assignSimpleSegment(&p)]++
	}

	descriptions := map[string]string{
		"vip":      "High-spend customers warranting premium treatment",
		"frequent": "Frequent travelers booking six or more trips a year",
		"at_risk":  "No booking in over six months",
		"new":      "Joined within the last 90 days",
		"standard": "Established customers with moderate activity",
	}

	total := float64(len(profiles))
	insights := make([]models.SegmentInsight, 0, len(counts))
	for _, name := range []string{"vip", "frequent", "at_risk", "new", "standard"} {
		count := counts[name]
		if count == 0 {
			continue
		}
		insights = append(insights, models.SegmentInsight{
			Segment:       name,
			CustomerCount: count,
			Share:         roundTo(float64(count)/total, 3),
			Description:   descriptions[name],
		})
	}
	return insights
}

func containsFold(haystack []string, needle string) bool {
	for _, s := range haystack {
		if strings.EqualFold(s, needle) {
			return true
		}
	}
	return false
}

func assignSimpleSegment(p *models.CustomerProfile) string {
	switch {
	case p.MonetaryTotal.InexactFloat64() >= 10000 || p.AvgBookingValue.InexactFloat64() >= 3000:
		return "vip"
	case p.BookingsLastYear >= 6:
		return "frequent"
	case p.RecencyDays > 180:
		return "at_risk"
	case p.AccountAgeDays < 90:
		return "new"
	default:
		return "standard"
	}
}
