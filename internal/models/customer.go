package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerActivity represents the behavioral snapshot used for churn scoring
type CustomerActivity struct {
	CustomerID           string          `json:"customer_id" db:"customer_id"`
	TenantID             string          `json:"tenant_id" db:"tenant_id"`
	DaysSinceLastBooking int             `json:"days_since_last_booking" db:"days_since_last_booking"`
	BookingFrequencyDays float64         `json:"booking_frequency_days" db:"booking_frequency_days"`
	DaysSinceLastLogin   int             `json:"days_since_last_login" db:"days_since_last_login"`
	TotalSpend           decimal.Decimal `json:"total_spend" db:"total_spend"`
	AvgBookingValue      decimal.Decimal `json:"avg_booking_value" db:"avg_booking_value"`
	EmailOpenRate        float64         `json:"email_open_rate" db:"email_open_rate"`
	EmailClickRate       float64         `json:"email_click_rate" db:"email_click_rate"`
	WebsiteVisitsMonthly float64         `json:"website_visits_monthly" db:"website_visits_monthly"`
	SupportTickets       int             `json:"support_tickets" db:"support_tickets"`
	RefundRequests       int             `json:"refund_requests" db:"refund_requests"`
	PaymentDelays        int             `json:"payment_delays" db:"payment_delays"`
	NewsletterOptOut     bool            `json:"newsletter_opt_out" db:"newsletter_opt_out"`
	ProfileCompleteness  float64         `json:"profile_completeness" db:"profile_completeness"`
	AccountAgeDays       int             `json:"account_age_days" db:"account_age_days"`
	SatisfactionScore    *float64        `json:"satisfaction_score,omitempty" db:"satisfaction_score"`
	ReferralCount        int             `json:"referral_count" db:"referral_count"`
}

// ChurnScore represents the scored churn risk for one customer
type ChurnScore struct {
	CustomerID          string             `json:"customer_id"`
	TenantID            string             `json:"tenant_id"`
	Probability         float64            `json:"churn_probability"`
	RiskTier            string             `json:"risk_tier"`
	Confidence          float64            `json:"confidence"`
	CategoryScores      map[string]float64 `json:"category_scores"`
	RiskFactors         []string           `json:"risk_factors"`
	Recommendations     []string           `json:"recommendations"`
	LifetimeValue       float64            `json:"lifetime_value"`
	EstimatedDaysToLoss *int               `json:"estimated_days_to_churn,omitempty"`
	RetentionScore      float64            `json:"retention_score"`
	ScoredAt            time.Time          `json:"scored_at"`
}

// ChurnBatchOptions controls filtering and ordering of batch scoring output
type ChurnBatchOptions struct {
	MinConfidence       float64 `json:"min_confidence"`
	PrioritizeHighValue bool    `json:"prioritize_high_value"`
	MaxResults          int     `json:"max_results"`
}

// RiskFactorFrequency counts how often one risk factor appears in a cohort
type RiskFactorFrequency struct {
	Factor string `json:"factor"`
	Count  int    `json:"count"`
}

// RetentionSegment groups scored customers by retention urgency
type RetentionSegment struct {
	Name          string  `json:"name"`
	CustomerCount int     `json:"customer_count"`
	AvgLTV        float64 `json:"avg_ltv"`
}

// ChurnInsights aggregates churn risk across a scored cohort
type ChurnInsights struct {
	CustomersScored   int                   `json:"customers_scored"`
	HighRiskCount     int                   `json:"high_risk_count"`
	AvgProbability    float64               `json:"avg_probability"`
	Trend             string                `json:"trend"`
	TopRiskFactors    []RiskFactorFrequency `json:"top_risk_factors"`
	RetentionSegments []RetentionSegment    `json:"retention_segments"`
}

// ChurnScoreRequest represents a single customer scoring request. Either an
// inline activity snapshot or a customer id to load one from the warehouse.
type ChurnScoreRequest struct {
	Activity   *CustomerActivity `json:"activity,omitempty"`
	CustomerID string            `json:"customer_id,omitempty"`
}

// ChurnBatchRequest represents a batch scoring request. An empty activities
// slice scores the stored cohort instead, capped at Limit.
type ChurnBatchRequest struct {
	Activities []CustomerActivity `json:"activities"`
	Limit      int                `json:"limit"`
	Options    ChurnBatchOptions  `json:"options"`
}

// ChurnInsightsRequest represents an insights aggregation request
type ChurnInsightsRequest struct {
	Scores []ChurnScore `json:"scores" binding:"required"`
}
