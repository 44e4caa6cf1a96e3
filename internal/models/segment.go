package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CustomerProfile is the full feature record used for segmentation. It
// spans demographics, booking behavior, financials, loyalty, travel
// preferences, engagement, and satisfaction signals.
type CustomerProfile struct {
	CustomerID string `json:"customer_id" db:"customer_id"`
	TenantID   string `json:"tenant_id" db:"tenant_id"`

	// Demographic
	Age      int    `json:"age" db:"age"`
	Country  string `json:"country" db:"country"`
	City     string `json:"city" db:"city"`
	Language string `json:"language" db:"language"`

	// Behavioral
	RecencyDays          int     `json:"recency_days" db:"recency_days"`
	Frequency            int     `json:"frequency" db:"frequency"`
	DaysSinceLastLogin   int     `json:"days_since_last_login" db:"days_since_last_login"`
	WebsiteVisitsMonthly float64 `json:"website_visits_monthly" db:"website_visits_monthly"`
	BookingsLastYear     int     `json:"bookings_last_year" db:"bookings_last_year"`
	CancellationRate     float64 `json:"cancellation_rate" db:"cancellation_rate"`
	BookingLeadTimeDays  float64 `json:"booking_lead_time_days" db:"booking_lead_time_days"`
	TripDurationDays     float64 `json:"trip_duration_days" db:"trip_duration_days"`
	PartySize            float64 `json:"party_size" db:"party_size"`
	SeasonalSpread       float64 `json:"seasonal_spread" db:"seasonal_spread"`

	// Financial
	MonetaryTotal      decimal.Decimal `json:"monetary_total" db:"monetary_total"`
	AvgBookingValue    decimal.Decimal `json:"avg_booking_value" db:"avg_booking_value"`
	MaxBookingValue    decimal.Decimal `json:"max_booking_value" db:"max_booking_value"`
	OutstandingBalance decimal.Decimal `json:"outstanding_balance" db:"outstanding_balance"`
	RefundCount        int             `json:"refund_count" db:"refund_count"`

	// Loyalty
	LoyaltyTier   string  `json:"loyalty_tier" db:"loyalty_tier"`
	LoyaltyYears  float64 `json:"loyalty_years" db:"loyalty_years"`
	LoyaltyPoints int     `json:"loyalty_points" db:"loyalty_points"`
	ReferralCount int     `json:"referral_count" db:"referral_count"`

	// Travel preferences
	PreferredDestinations []string `json:"preferred_destinations" db:"preferred_destinations"`
	PreferredPackageTypes []string `json:"preferred_package_types" db:"preferred_package_types"`
	TravelStyles          []string `json:"travel_styles" db:"travel_styles"`
	PreferredMonths       []string `json:"preferred_months" db:"preferred_months"`

	// Engagement
	EmailEngagement      float64 `json:"email_engagement" db:"email_engagement"`
	EmailClickRate       float64 `json:"email_click_rate" db:"email_click_rate"`
	WebsiteEngagement    float64 `json:"website_engagement" db:"website_engagement"`
	SupportInteractions  int     `json:"support_interactions" db:"support_interactions"`
	PreferredChannel     string  `json:"preferred_channel" db:"preferred_channel"`
	NewsletterSubscribed bool    `json:"newsletter_subscribed" db:"newsletter_subscribed"`

	// Satisfaction
	AvgReviewRating float64 `json:"avg_review_rating" db:"avg_review_rating"`
	ReviewCount     int     `json:"review_count" db:"review_count"`

	// Lifecycle
	AccountAgeDays int `json:"account_age_days" db:"account_age_days"`
}

// RFMScore holds the recency/frequency/monetary sub-scores for one customer
type RFMScore struct {
	CustomerID string `json:"customer_id"`
	Recency    int    `json:"recency"`
	Frequency  int    `json:"frequency"`
	Monetary   int    `json:"monetary"`
	Bucket     string `json:"bucket"`
}

// SegmentCharacteristics summarizes who the segment's members are
type SegmentCharacteristics struct {
	AgeRange            string         `json:"age_range"`
	TopDestinations     []string       `json:"top_destinations"`
	TopPackageTypes     []string       `json:"top_package_types"`
	DominantTravelStyle string         `json:"dominant_travel_style"`
	DominantChannel     string         `json:"dominant_channel"`
	LoyaltyTiers        map[string]int `json:"loyalty_tier_distribution"`
}

// SegmentMetrics holds the segment's performance readout
type SegmentMetrics struct {
	LifetimeValue        float64 `json:"lifetime_value"`
	AcquisitionCost      float64 `json:"acquisition_cost"`
	RetentionRate        float64 `json:"retention_rate"`
	SatisfactionScore    float64 `json:"satisfaction_score"`
	NPS                  float64 `json:"nps"`
	CampaignResponseRate float64 `json:"campaign_response_rate"`
}

// Segment represents one discovered customer segment
type Segment struct {
	ID               string                 `json:"id"`
	Name             string                 `json:"name"`
	Method           string                 `json:"method"`
	CustomerIDs      []string               `json:"customer_ids"`
	CustomerCount    int                    `json:"customer_count"`
	TotalValue       float64                `json:"total_value"`
	AvgCustomerValue float64                `json:"avg_customer_value"`
	GrowthRate       float64                `json:"growth_rate"`
	ChurnRisk        float64                `json:"churn_risk"`
	EngagementLevel  string                 `json:"engagement_level"`
	Profitability    float64                `json:"profitability"`
	Characteristics  SegmentCharacteristics `json:"characteristics"`
	Insights         []string               `json:"insights"`
	Metrics          SegmentMetrics         `json:"performance_metrics"`
}

// SegmentationQuality reports clustering quality estimates. The values
// are fixed estimates rather than statistics computed from the actual
// clustering; replacing them with real silhouette math changes the output
// contract, so they stay until downstream consumers are migrated.
type SegmentationQuality struct {
	SilhouetteScore  float64 `json:"silhouette_score"`
	DaviesBouldin    float64 `json:"davies_bouldin_index"`
	CalinskiHarabasz float64 `json:"calinski_harabasz_index"`
	Stability        float64 `json:"stability"`
	Confidence       float64 `json:"confidence"`
}

// SegmentationResult represents a full segmentation run
type SegmentationResult struct {
	Segments        []Segment           `json:"segments"`
	Quality         SegmentationQuality `json:"quality"`
	CrossInsights   []string            `json:"cross_segment_insights"`
	Recommendations []string            `json:"strategic_recommendations"`
	CustomersUsed   int                 `json:"customers_used"`
	GeneratedAt     time.Time           `json:"generated_at"`
}

// SegmentationRequest represents a segmentation run request. An empty
// profiles slice segments the stored customer base instead, capped at Limit.
type SegmentationRequest struct {
	Profiles       []CustomerProfile `json:"profiles"`
	Limit          int               `json:"limit"`
	SegmentCount   int               `json:"segment_count"`
	MinSegmentSize int               `json:"min_segment_size"`
	Seed           int64             `json:"seed"`
}
