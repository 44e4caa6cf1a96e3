package database

import (
	"context"
	"fmt"
	"time"

	"github.com/voyagehq/crm-ai-go/internal/models"
)

// defaultCohortLimit caps cohort reads when the caller does not set a limit
const defaultCohortLimit = 1000

// CustomerRepository reads the denormalized customer views that feed the
// churn, segmentation and recommendation engines. The views are refreshed
// by the booking pipeline; this repository never writes them.
type CustomerRepository struct {
	pool DatabasePool
}

// NewCustomerRepository creates a new customer repository.
//
// Parameters:
//
//	pool: The database connection pool.
//
// Returns:
//
//	*CustomerRepository: The initialized repository.
func NewCustomerRepository(pool DatabasePool) *CustomerRepository {
	return &CustomerRepository{
		pool: pool,
	}
}

// ActivitySnapshot loads the churn feature row for one customer.
//
// Parameters:
//
//	ctx: Context.
//	tenantID: Tenant scope.
//	customerID: Customer to load.
//
// Returns:
//
//	*models.CustomerActivity: The behavioral snapshot. The error wraps
//	pgx.ErrNoRows when the customer has no snapshot.
//	error: Error if retrieval fails.
func (r *CustomerRepository) ActivitySnapshot(ctx context.Context, tenantID, customerID string) (*models.CustomerActivity, error) {
	query := `
		SELECT customer_id, tenant_id, days_since_last_booking, booking_frequency_days,
			days_since_last_login, total_spend, avg_booking_value, email_open_rate,
			email_click_rate, website_visits_monthly, support_tickets, refund_requests,
			payment_delays, newsletter_opt_out, profile_completeness, account_age_days,
			satisfaction_score, referral_count
		FROM customer_activity
		WHERE tenant_id = $1 AND customer_id = $2
	`

	var activity models.CustomerActivity
	err := r.pool.QueryRow(ctx, query, tenantID, customerID).Scan(
		&activity.CustomerID,
		&activity.TenantID,
		&activity.DaysSinceLastBooking,
		&activity.BookingFrequencyDays,
		&activity.DaysSinceLastLogin,
		&activity.TotalSpend,
		&activity.AvgBookingValue,
		&activity.EmailOpenRate,
		&activity.EmailClickRate,
		&activity.WebsiteVisitsMonthly,
		&activity.SupportTickets,
		&activity.RefundRequests,
		&activity.PaymentDelays,
		&activity.NewsletterOptOut,
		&activity.ProfileCompleteness,
		&activity.AccountAgeDays,
		&activity.SatisfactionScore,
		&activity.ReferralCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity snapshot: %w", err)
	}

	return &activity, nil
}

// ActivitySnapshots loads the churn feature rows for a tenant cohort,
// highest spenders first so a capped batch still covers the customers
// whose loss costs the most.
//
// Parameters:
//
//	ctx: Context.
//	tenantID: Tenant scope.
//	limit: Maximum rows; non-positive means the default cohort cap.
//
// Returns:
//
//	[]models.CustomerActivity: Behavioral snapshots.
//	error: Error if retrieval fails.
func (r *CustomerRepository) ActivitySnapshots(ctx context.Context, tenantID string, limit int) ([]models.CustomerActivity, error) {
	if limit <= 0 {
		limit = defaultCohortLimit
	}

	query := `
		SELECT customer_id, tenant_id, days_since_last_booking, booking_frequency_days,
			days_since_last_login, total_spend, avg_booking_value, email_open_rate,
			email_click_rate, website_visits_monthly, support_tickets, refund_requests,
			payment_delays, newsletter_opt_out, profile_completeness, account_age_days,
			satisfaction_score, referral_count
		FROM customer_activity
		WHERE tenant_id = $1
		ORDER BY total_spend DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load activity snapshots: %w", err)
	}
	defer rows.Close()

	var activities []models.CustomerActivity
	for rows.Next() {
		var activity models.CustomerActivity
		err := rows.Scan(
			&activity.CustomerID,
			&activity.TenantID,
			&activity.DaysSinceLastBooking,
			&activity.BookingFrequencyDays,
			&activity.DaysSinceLastLogin,
			&activity.TotalSpend,
			&activity.AvgBookingValue,
			&activity.EmailOpenRate,
			&activity.EmailClickRate,
			&activity.WebsiteVisitsMonthly,
			&activity.SupportTickets,
			&activity.RefundRequests,
			&activity.PaymentDelays,
			&activity.NewsletterOptOut,
			&activity.ProfileCompleteness,
			&activity.AccountAgeDays,
			&activity.SatisfactionScore,
			&activity.ReferralCount,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan activity snapshot: %w", err)
		}
		activities = append(activities, activity)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating activity snapshots: %w", err)
	}

	return activities, nil
}

// Profiles loads the segmentation feature rows for a tenant cohort.
//
// Parameters:
//
//	ctx: Context.
//	tenantID: Tenant scope.
//	limit: Maximum rows; non-positive means the default cohort cap.
//
// Returns:
//
//	[]models.CustomerProfile: Full feature records, highest value first.
//	error: Error if retrieval fails.
func (r *CustomerRepository) Profiles(ctx context.Context, tenantID string, limit int) ([]models.CustomerProfile, error) {
	if limit <= 0 {
		limit = defaultCohortLimit
	}

	query := `
		SELECT customer_id, tenant_id, age, country, city, language,
			recency_days, frequency, days_since_last_login, website_visits_monthly,
			bookings_last_year, cancellation_rate, booking_lead_time_days,
			trip_duration_days, party_size, seasonal_spread,
			monetary_total, avg_booking_value, max_booking_value, outstanding_balance,
			refund_count, loyalty_tier, loyalty_years, loyalty_points, referral_count,
			preferred_destinations, preferred_package_types, travel_styles, preferred_months,
			email_engagement, email_click_rate, website_engagement, support_interactions,
			preferred_channel, newsletter_subscribed, avg_review_rating, review_count,
			account_age_days
		FROM customer_features
		WHERE tenant_id = $1
		ORDER BY monetary_total DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer profiles: %w", err)
	}
	defer rows.Close()

	var profiles []models.CustomerProfile
	for rows.Next() {
		var profile models.CustomerProfile
		err := rows.Scan(
			&profile.CustomerID,
			&profile.TenantID,
			&profile.Age,
			&profile.Country,
			&profile.City,
			&profile.Language,
			&profile.RecencyDays,
			&profile.Frequency,
			&profile.DaysSinceLastLogin,
			&profile.WebsiteVisitsMonthly,
			&profile.BookingsLastYear,
			&profile.CancellationRate,
			&profile.BookingLeadTimeDays,
			&profile.TripDurationDays,
			&profile.PartySize,
			&profile.SeasonalSpread,
			&profile.MonetaryTotal,
			&profile.AvgBookingValue,
			&profile.MaxBookingValue,
			&profile.OutstandingBalance,
			&profile.RefundCount,
			&profile.LoyaltyTier,
			&profile.LoyaltyYears,
			&profile.LoyaltyPoints,
			&profile.ReferralCount,
			&profile.PreferredDestinations,
			&profile.PreferredPackageTypes,
			&profile.TravelStyles,
			&profile.PreferredMonths,
			&profile.EmailEngagement,
			&profile.EmailClickRate,
			&profile.WebsiteEngagement,
			&profile.SupportInteractions,
			&profile.PreferredChannel,
			&profile.NewsletterSubscribed,
			&profile.AvgReviewRating,
			&profile.ReviewCount,
			&profile.AccountAgeDays,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan customer profile: %w", err)
		}
		profiles = append(profiles, profile)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating customer profiles: %w", err)
	}

	return profiles, nil
}

// Context loads the recommendation context for one customer, including the
// recent product interactions used for cross-sell filtering.
//
// Parameters:
//
//	ctx: Context.
//	tenantID: Tenant scope.
//	customerID: Customer to load.
//
// Returns:
//
//	*models.CustomerContext: Scoring context. The error wraps
//	pgx.ErrNoRows when the customer is unknown.
//	error: Error if retrieval fails.
func (r *CustomerRepository) Context(ctx context.Context, tenantID, customerID string) (*models.CustomerContext, error) {
	query := `
		SELECT customer_id, tenant_id, budget_per_trip, preferred_destinations,
			preferred_themes, travel_styles, past_product_ids, loyalty_tier,
			engagement_score, email_open_rate, email_click_rate, last_booking_days,
			avg_booking_value, travel_months, account_age_days, total_spend,
			booking_frequency_days
		FROM customer_context
		WHERE tenant_id = $1 AND customer_id = $2
	`

	var cc models.CustomerContext
	var travelMonths []int
	err := r.pool.QueryRow(ctx, query, tenantID, customerID).Scan(
		&cc.CustomerID,
		&cc.TenantID,
		&cc.BudgetPerTrip,
		&cc.PreferredDestinations,
		&cc.PreferredThemes,
		&cc.TravelStyles,
		&cc.PastProductIDs,
		&cc.LoyaltyTier,
		&cc.EngagementScore,
		&cc.EmailOpenRate,
		&cc.EmailClickRate,
		&cc.LastBookingDays,
		&cc.AvgBookingValue,
		&travelMonths,
		&cc.AccountAgeDays,
		&cc.TotalSpend,
		&cc.BookingFrequencyDays,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load customer context: %w", err)
	}

	for _, month := range travelMonths {
		cc.TravelMonthPreference = append(cc.TravelMonthPreference, time.Month(month))
	}

	interactions, err := r.recentInteractions(ctx, tenantID, customerID)
	if err != nil {
		return nil, err
	}
	cc.RecentInteractions = interactions

	return &cc, nil
}

// recentInteractions returns the newest product touches for one customer,
// capped at 50 so pathological clickstreams cannot blow up scoring.
func (r *CustomerRepository) recentInteractions(ctx context.Context, tenantID, customerID string) ([]models.ProductInteraction, error) {
	query := `
		SELECT product_id, kind, occurred_at
		FROM product_interactions
		WHERE tenant_id = $1 AND customer_id = $2
		ORDER BY occurred_at DESC
		LIMIT 50
	`

	rows, err := r.pool.Query(ctx, query, tenantID, customerID)
	if err != nil {
		return nil, fmt.Errorf("failed to load product interactions: %w", err)
	}
	defer rows.Close()

	var interactions []models.ProductInteraction
	for rows.Next() {
		var interaction models.ProductInteraction
		err := rows.Scan(
			&interaction.ProductID,
			&interaction.Kind,
			&interaction.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product interaction: %w", err)
		}
		interactions = append(interactions, interaction)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating product interactions: %w", err)
	}

	return interactions, nil
}
