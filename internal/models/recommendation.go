package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TravelProduct represents a bookable product in the catalog
type TravelProduct struct {
	ID               string          `json:"id" db:"id"`
	Name             string          `json:"name" db:"name"`
	Type             string          `json:"type" db:"type"`
	Destination      string          `json:"destination" db:"destination"`
	Price            decimal.Decimal `json:"price" db:"price"`
	Themes           []string        `json:"themes" db:"themes"`
	SeasonalMonths   []time.Month    `json:"seasonal_months" db:"seasonal_months"`
	TypicalPartySize float64         `json:"typical_party_size" db:"typical_party_size"`
	DurationDays     int             `json:"duration_days" db:"duration_days"`
	BaseConversion   float64         `json:"base_conversion" db:"base_conversion"`
}

// ProductInteraction represents one recorded customer touch on a product
type ProductInteraction struct {
	ProductID string    `json:"product_id" db:"product_id"`
	Kind      string    `json:"kind" db:"kind"`
	Timestamp time.Time `json:"timestamp" db:"occurred_at"`
}

// CustomerContext represents everything known about a customer for
// recommendation scoring
type CustomerContext struct {
	CustomerID            string               `json:"customer_id" db:"customer_id"`
	TenantID              string               `json:"tenant_id" db:"tenant_id"`
	BudgetPerTrip         decimal.Decimal      `json:"budget_per_trip" db:"budget_per_trip"`
	PreferredDestinations []string             `json:"preferred_destinations"`
	PreferredThemes       []string             `json:"preferred_themes"`
	TravelStyles          []string             `json:"travel_styles"`
	PastProductIDs        []string             `json:"past_product_ids"`
	RecentInteractions    []ProductInteraction `json:"recent_interactions"`
	LoyaltyTier           string               `json:"loyalty_tier"`
	EngagementScore       float64              `json:"engagement_score"`
	EmailOpenRate         float64              `json:"email_open_rate"`
	EmailClickRate        float64              `json:"email_click_rate"`
	LastBookingDays       int                  `json:"last_booking_days"`
	AvgBookingValue       decimal.Decimal      `json:"avg_booking_value"`
	TravelMonthPreference []time.Month         `json:"travel_month_preference"`
	AccountAgeDays        int                  `json:"account_age_days"`
	TotalSpend            decimal.Decimal      `json:"total_spend"`
	BookingFrequencyDays  float64              `json:"booking_frequency_days"`
}

// Campaign represents one candidate marketing campaign supplied by the
// caller
type Campaign struct {
	ID             string       `json:"id" db:"id"`
	Name           string       `json:"name" db:"name"`
	Type           string       `json:"type" db:"type"`
	TargetSegment  string       `json:"target_segment" db:"target_segment"`
	Channel        string       `json:"channel" db:"channel"`
	SeasonalMonths []time.Month `json:"seasonal_months" db:"seasonal_months"`
	Description    string       `json:"description" db:"description"`
}

// ProductRecommendation represents one scored product suggestion
type ProductRecommendation struct {
	Product         TravelProduct      `json:"product"`
	Confidence      float64            `json:"confidence"`
	Priority        string             `json:"priority"`
	Reasons         []string           `json:"reasons"`
	ExpectedRevenue float64            `json:"expected_revenue"`
	SubScores       map[string]float64 `json:"sub_scores"`
	CrossSell       float64            `json:"cross_sell_potential"`
	UpSell          float64            `json:"up_sell_potential"`
}

// CampaignRecommendation represents one scored campaign suggestion
type CampaignRecommendation struct {
	Campaign           Campaign `json:"campaign"`
	Score              float64  `json:"score"`
	Channel            string   `json:"channel"`
	Timing             string   `json:"timing"`
	ExpectedOpenRate   float64  `json:"expected_open_rate"`
	ExpectedResponse   float64  `json:"expected_response_rate"`
	ExpectedConversion float64  `json:"expected_conversion_rate"`
	Priority           string   `json:"priority"`
	Rationale          string   `json:"rationale"`
}

// SegmentInsight is one bucket of the simple rule-based customer split
// used for campaign targeting. It is intentionally independent of the
// statistical segmentation engine.
type SegmentInsight struct {
	Segment       string  `json:"segment"`
	CustomerCount int     `json:"customer_count"`
	Share         float64 `json:"share"`
	Description   string  `json:"description"`
}

// RecommendationOptions controls filtering of recommendation output
type RecommendationOptions struct {
	MinConfidence float64 `json:"min_confidence"`
	MaxResults    int     `json:"max_results"`
	ExcludeRecent bool    `json:"exclude_recent_interactions"`
	ExcludeBooked bool    `json:"exclude_booked"`
}

// RecommendProductsRequest represents a product recommendation request.
// Either an inline customer context or a customer id to load one from the
// warehouse; the catalog always travels with the request.
type RecommendProductsRequest struct {
	Customer   *CustomerContext      `json:"customer,omitempty"`
	CustomerID string                `json:"customer_id,omitempty"`
	Catalog    []TravelProduct       `json:"catalog" binding:"required"`
	Options    RecommendationOptions `json:"options"`
}

// RecommendCampaignsRequest represents a campaign recommendation request.
// An empty profiles slice targets the stored customer base, capped at Limit.
type RecommendCampaignsRequest struct {
	Profiles  []CustomerProfile `json:"profiles"`
	Limit     int               `json:"limit"`
	Campaigns []Campaign        `json:"campaigns" binding:"required"`
}
