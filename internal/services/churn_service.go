package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/utils"

	"github.com/sirupsen/logrus"
)

// ChurnConfig holds scoring weights and normalization bounds
type ChurnConfig struct {
	Weights           map[string]float64 `json:"weights"`
	LogisticSteepness float64            `json:"logistic_steepness"`
	RecencyHorizon    float64            `json:"recency_horizon_days"`
	MonetaryFloor     float64            `json:"monetary_floor"`
	MonetarySpan      float64            `json:"monetary_span"`
}

// DefaultChurnConfig returns the standard category weighting
func DefaultChurnConfig() ChurnConfig {
	return ChurnConfig{
		Weights: map[string]float64{
			"recency":      0.25,
			"frequency":    0.20,
			"monetary":     0.20,
			"engagement":   0.15,
			"satisfaction": 0.10,
			"loyalty":      0.10,
		},
		LogisticSteepness: 5.0,
		RecencyHorizon:    90.0,
		MonetaryFloor:     1000.0,
		MonetarySpan:      9000.0,
	}
}

// Risk tier bounds on churn probability
const (
	churnTierLowMax    = 0.25
	churnTierMediumMax = 0.50
	churnTierHighMax   = 0.75
)

const maxRiskFactors = 5
const maxRecommendations = 4

// ChurnService scores customer churn risk from behavioral activity
type ChurnService struct {
	config    ChurnConfig
	optimizer *ResourceOptimizer
	logger    *logrus.Logger
}

// NewChurnService creates a churn scoring service. A nil optimizer
// falls back to a fixed worker count for batch runs.
func NewChurnService(cfg ChurnConfig, optimizer *ResourceOptimizer, logger *logrus.Logger) *ChurnService {
	defaults := DefaultChurnConfig()
	if len(cfg.Weights) == 0 {
		cfg.Weights = defaults.Weights
	}
	if cfg.LogisticSteepness <= 0 {
		cfg.LogisticSteepness = defaults.LogisticSteepness
	}
	if cfg.RecencyHorizon <= 0 {
		cfg.RecencyHorizon = defaults.RecencyHorizon
	}
	if cfg.MonetaryFloor <= 0 {
		cfg.MonetaryFloor = defaults.MonetaryFloor
	}
	if cfg.MonetarySpan <= 0 {
		cfg.MonetarySpan = defaults.MonetarySpan
	}
	return &ChurnService{
		config:    cfg,
		optimizer: optimizer,
		logger:    logger,
	}
}

// Score computes the churn risk profile for one customer.
func (cs *ChurnService) Score(ctx context.Context, activity *models.CustomerActivity) (*models.ChurnScore, error) {
	if activity == nil {
		return nil, utils.NewValidationError("customer activity is required")
	}
	if activity.CustomerID == "" {
		return nil, utils.NewValidationError("customer_id is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("churn scoring cancelled: %w", err)
	}

	scores := map[string]float64{
		"recency":      cs.calculateRecencyScore(activity),
		"frequency":    cs.calculateFrequencyScore(activity),
		"monetary":     cs.calculateMonetaryScore(activity),
		"engagement":   cs.calculateEngagementScore(activity),
		"satisfaction": cs.calculateSatisfactionScore(activity),
		"loyalty":      cs.calculateLoyaltyScore(activity),
	}

	health := 0.0
	for category, weight := range cs.config.Weights {
		health += weight * scores[category]
	}

	churnRaw := 1 - health
	probability := roundTo(1/(1+math.Exp(-cs.config.LogisticSteepness*(churnRaw-0.5))), 3)
	retention := roundTo(1-probability, 3)

	confidence := cs.calculateConfidence(activity, scores)
	tier := cs.determineRiskTier(probability)
	factors := cs.identifyRiskFactors(activity, scores)
	recommendations := cs.buildRecommendations(tier, factors)
	ltv := cs.estimateLifetimeValue(activity, retention)
	daysToChurn := cs.estimateDaysToChurn(probability, scores["engagement"])

	cs.logger.WithFields(logrus.Fields{
		"customer_id": activity.CustomerID,
		"probability": probability,
		"tier":        tier,
	}).Debug("Churn score computed")

	return &models.ChurnScore{
		CustomerID:          activity.CustomerID,
		TenantID:            activity.TenantID,
		Probability:         probability,
		RiskTier:            tier,
		Confidence:          confidence,
		CategoryScores:      scores,
		RiskFactors:         factors,
		Recommendations:     recommendations,
		LifetimeValue:       ltv,
		EstimatedDaysToLoss: daysToChurn,
		RetentionScore:      retention,
		ScoredAt:            time.Now(),
	}, nil
}

// calculateRecencyScore averages two linear decays: bookings over the
// configured horizon, logins over 30 days
func (cs *ChurnService) calculateRecencyScore(activity *models.CustomerActivity) float64 {
	bookingScore := math.Max(0, 1-float64(activity.DaysSinceLastBooking)/cs.config.RecencyHorizon)
	loginScore := math.Max(0, 1-float64(activity.DaysSinceLastLogin)/30)
	return (bookingScore + loginScore) / 2
}

// calculateFrequencyScore treats monthly bookers as fully engaged. A
// customer with no known cadence scores zero.
func (cs *ChurnService) calculateFrequencyScore(activity *models.CustomerActivity) float64 {
	if activity.BookingFrequencyDays <= 0 {
		return 0
	}
	bookingsPerYear := 365 / activity.BookingFrequencyDays
	return clamp(bookingsPerYear/12, 0, 1)
}

// calculateMonetaryScore normalizes lifetime spend between the floor and span
func (cs *ChurnService) calculateMonetaryScore(activity *models.CustomerActivity) float64 {
	spend := activity.TotalSpend.InexactFloat64()
	return clamp((spend-cs.config.MonetaryFloor)/cs.config.MonetarySpan, 0, 1)
}

// calculateEngagementScore blends email and website activity
func (cs *ChurnService) calculateEngagementScore(activity *models.CustomerActivity) float64 {
	openScore := clamp(activity.EmailOpenRate, 0, 1)
	clickScore := clamp(activity.EmailClickRate*2, 0, 1)
	visitScore := clamp(activity.WebsiteVisitsMonthly/20, 0, 1)
	return (openScore + clickScore + visitScore) / 3
}

// calculateSatisfactionScore uses the survey score when present, otherwise
// infers from support friction and payment behavior
func (cs *ChurnService) calculateSatisfactionScore(activity *models.CustomerActivity) float64 {
	if activity.SatisfactionScore != nil {
		return clamp(*activity.SatisfactionScore, 0, 1)
	}
	ticketPenalty := clamp(float64(activity.SupportTickets)/5, 0, 1) * 0.5
	delayPenalty := clamp(float64(activity.PaymentDelays)/3, 0, 1) * 0.5
	return clamp(1-ticketPenalty-delayPenalty, 0, 1)
}

// calculateLoyaltyScore rewards tenure and referrals
func (cs *ChurnService) calculateLoyaltyScore(activity *models.CustomerActivity) float64 {
	tenureScore := clamp(float64(activity.AccountAgeDays)/1095, 0, 1)
	referralScore := clamp(float64(activity.ReferralCount)/5, 0, 1)
	return tenureScore*0.7 + referralScore*0.3
}

// calculateConfidence combines input completeness with score coherence
func (cs *ChurnService) calculateConfidence(activity *models.CustomerActivity, scores map[string]float64) float64 {
	present := 0
	if activity.DaysSinceLastBooking >= 0 {
		present++
	}
	if activity.BookingFrequencyDays > 0 {
		present++
	}
	if activity.TotalSpend.IsPositive() {
		present++
	}
	if activity.EmailOpenRate > 0 || activity.EmailClickRate > 0 || activity.WebsiteVisitsMonthly > 0 {
		present++
	}
	if activity.SatisfactionScore != nil || activity.SupportTickets > 0 || activity.PaymentDelays > 0 || activity.RefundRequests > 0 {
		present++
	}
	if activity.AccountAgeDays > 0 {
		present++
	}
	completeness := float64(present) / 6

	values := make([]float64, 0, len(scores))
	for _, v := range scores {
		values = append(values, v)
	}
	mean := meanOf(values)
	variance := 0.0
	for _, v := range values {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(values))

	return math.Sqrt(completeness * (1 - variance))
}

// determineRiskTier maps probability to a named tier
func (cs *ChurnService) determineRiskTier(probability float64) string {
	switch {
	case probability < churnTierLowMax:
		return "low"
	case probability < churnTierMediumMax:
		return "medium"
	case probability < churnTierHighMax:
		return "high"
	default:
		return "critical"
	}
}

// identifyRiskFactors runs the ordered factor checks and keeps the first five
func (cs *ChurnService) identifyRiskFactors(activity *models.CustomerActivity, scores map[string]float64) []string {
	var factors []string

	checks := []struct {
		triggered bool
		label     string
	}{
		{activity.DaysSinceLastBooking > 120, "no recent bookings"},
		{scores["frequency"] < 0.3, "low booking frequency"},
		{activity.EmailOpenRate < 0.15, "low email engagement"},
		{activity.DaysSinceLastLogin > 30, "no recent logins"},
		{activity.SupportTickets > 3, "multiple support tickets"},
		{activity.RefundRequests > 0, "refund requests"},
		{activity.PaymentDelays > 1, "payment delays"},
		{activity.WebsiteVisitsMonthly < 2, "low website activity"},
		{activity.NewsletterOptOut, "newsletter opt-out"},
		{activity.ProfileCompleteness < 0.5, "incomplete profile"},
	}

	for _, check := range checks {
		if len(factors) >= maxRiskFactors {
			break
		}
		if check.triggered {
			factors = append(factors, check.label)
		}
	}
	return factors
}

// buildRecommendations combines the tier baseline with factor-triggered
// actions, de-duplicated and capped
func (cs *ChurnService) buildRecommendations(tier string, factors []string) []string {
	base := map[string][]string{
		"low": {
			"maintain regular touchpoints",
			"invite to referral program",
		},
		"medium": {
			"send personalized travel inspiration",
			"offer loyalty points on next booking",
		},
		"high": {
			"launch win-back email sequence",
			"offer time-limited rebooking discount",
		},
		"critical": {
			"schedule personal account manager call",
			"offer substantial win-back incentive",
		},
	}

	triggered := map[string]string{
		"no recent bookings":       "send reactivation campaign with tailored destinations",
		"low email engagement":     "refresh email content and adjust send frequency",
		"no recent logins":         "trigger app re-engagement push with saved trips",
		"multiple support tickets": "escalate open issues to senior support",
		"refund requests":          "follow up on refund experience personally",
		"payment delays":           "offer flexible payment plans",
		"newsletter opt-out":       "re-permission via preference center with reduced cadence",
		"incomplete profile":       "prompt profile completion with loyalty points",
	}

	seen := make(map[string]bool)
	var recommendations []string
	add := func(rec string) {
		if len(recommendations) >= maxRecommendations || seen[rec] {
			return
		}
		seen[rec] = true
		recommendations = append(recommendations, rec)
	}

	for _, rec := range base[tier] {
		add(rec)
	}
	for _, factor := range factors {
		if rec, ok := triggered[factor]; ok {
			add(rec)
		}
	}
	return recommendations
}

// estimateLifetimeValue projects remaining value from booking cadence and
// retention probability
func (cs *ChurnService) estimateLifetimeValue(activity *models.CustomerActivity, retention float64) float64 {
	if activity.BookingFrequencyDays <= 0 {
		return 0
	}
	bookingsPerYear := 365 / activity.BookingFrequencyDays
	expectedYears := math.Min(3, retention*3)
	return roundTo(activity.AvgBookingValue.InexactFloat64()*bookingsPerYear*expectedYears*retention, 2)
}

// estimateDaysToChurn projects when a likely churner goes quiet. Customers
// below the risk threshold get no estimate.
func (cs *ChurnService) estimateDaysToChurn(probability, engagementScore float64) *int {
	if probability < 0.3 {
		return nil
	}
	engagementDecline := 1 - engagementScore
	days := int(math.Round(90 * (1 - probability) * (1 - engagementDecline)))
	if days < 7 {
		days = 7
	}
	return &days
}

// ScoreBatch scores a cohort on a bounded worker pool and applies the
// filtering and ordering options.
func (cs *ChurnService) ScoreBatch(ctx context.Context, activities []*models.CustomerActivity, opts models.ChurnBatchOptions) ([]*models.ChurnScore, error) {
	if len(activities) == 0 {
		return nil, utils.NewValidationError("at least one customer activity is required")
	}

	workers := 4
	if cs.optimizer != nil {
		workers = cs.optimizer.OptimalWorkers(len(activities))
	}
	if workers > len(activities) {
		workers = len(activities)
	}

	cs.logger.WithFields(logrus.Fields{
		"customers": len(activities),
		"workers":   workers,
	}).Info("Starting batch churn scoring")

	results := make([]*models.ChurnScore, len(activities))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				score, err := cs.Score(ctx, activities[idx])
				if err != nil {
					cs.logger.WithFields(logrus.Fields{
						"customer_id": activities[idx].CustomerID,
					}).WithError(err).Warn("Skipping customer in batch scoring")
					continue
				}
				results[idx] = score
			}
		}()
	}

	for idx := range activities {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return nil, fmt.Errorf("batch scoring cancelled: %w", ctx.Err())
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	scored := make([]*models.ChurnScore, 0, len(results))
	for _, score := range results {
		if score == nil {
			continue
		}
		if score.Confidence < opts.MinConfidence {
			continue
		}
		scored = append(scored, score)
	}

	if opts.PrioritizeHighValue {
		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Probability*scored[i].LifetimeValue > scored[j].Probability*scored[j].LifetimeValue
		})
	} else {
		sort.SliceStable(scored, func(i, j int) bool {
			return scored[i].Probability > scored[j].Probability
		})
	}

	if opts.MaxResults > 0 && len(scored) > opts.MaxResults {
		scored = scored[:opts.MaxResults]
	}
	return scored, nil
}

// Insights aggregates a scored cohort into portfolio-level findings.
func (cs *ChurnService) Insights(scores []*models.ChurnScore) (*models.ChurnInsights, error) {
	if len(scores) == 0 {
		return nil, utils.NewValidationError("at least one churn score is required")
	}

	var probabilitySum, ltvSum float64
	highRisk := 0
	factorCounts := make(map[string]int)

	for _, score := range scores {
		probabilitySum += score.Probability
		ltvSum += score.LifetimeValue
		if score.RiskTier == "high" || score.RiskTier == "critical" {
			highRisk++
		}
		for _, factor := range score.RiskFactors {
			factorCounts[factor]++
		}
	}

	avgProbability := probabilitySum / float64(len(scores))
	avgLTV := ltvSum / float64(len(scores))

	// Portfolio trend against the 25% churn baseline
	trend := "stable"
	switch {
	case avgProbability < 0.20:
		trend = "improving"
	case avgProbability > 0.30:
		trend = "declining"
	}

	topFactors := make([]models.RiskFactorFrequency, 0, len(factorCounts))
	for factor, count := range factorCounts {
		topFactors = append(topFactors, models.RiskFactorFrequency{Factor: factor, Count: count})
	}
	sort.Slice(topFactors, func(i, j int) bool {
		if topFactors[i].Count != topFactors[j].Count {
			return topFactors[i].Count > topFactors[j].Count
		}
		return topFactors[i].Factor < topFactors[j].Factor
	})
	if len(topFactors) > 5 {
		topFactors = topFactors[:5]
	}

	opportunities := []struct {
		name    string
		matches func(*models.ChurnScore) bool
	}{
		{"high_value_at_risk", func(s *models.ChurnScore) bool {
			return s.Probability >= 0.5 && s.LifetimeValue >= avgLTV
		}},
		{"engagement_issue", func(s *models.ChurnScore) bool {
			return s.CategoryScores["engagement"] < 0.3 && s.Probability >= 0.3
		}},
		{"dormant", func(s *models.ChurnScore) bool {
			return s.CategoryScores["recency"] == 0
		}},
	}

	var retentionSegments []models.RetentionSegment
	for _, opp := range opportunities {
		count := 0
		segmentLTV := 0.0
		for _, score := range scores {
			if opp.matches(score) {
				count++
				segmentLTV += score.LifetimeValue
			}
		}
		if count == 0 {
			continue
		}
		retentionSegments = append(retentionSegments, models.RetentionSegment{
			Name:          opp.name,
			CustomerCount: count,
			AvgLTV:        roundTo(segmentLTV/float64(count), 2),
		})
	}

	return &models.ChurnInsights{
		CustomersScored:   len(scores),
		HighRiskCount:     highRisk,
		AvgProbability:    avgProbability,
		Trend:             trend,
		TopRiskFactors:    topFactors,
		RetentionSegments: retentionSegments,
	}, nil
}
