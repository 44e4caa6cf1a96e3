package nlquery

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/utils"
	"github.com/voyagehq/crm-ai-go/pkg/sqlsafe"
)

// Phrases that ask about departure dates rather than booking dates.
// When one appears, booking timeframes filter on travel_date.
var travelPhrasePattern = regexp.MustCompile(`abreise|abflug|reisedatum|travel date|departure|departing`)

// sqlBuild accumulates positional parameters and WHERE conditions for a
// single statement.
type sqlBuild struct {
	args       []any
	argCounter int
	conditions []string
}

func (b *sqlBuild) nextArg(value any) string {
	b.argCounter++
	b.args = append(b.args, value)
	return fmt.Sprintf("$%d", b.argCounter)
}

func (b *sqlBuild) where(condition string) {
	b.conditions = append(b.conditions, condition)
}

func (b *sqlBuild) whereClause() string {
	return strings.Join(b.conditions, " AND ")
}

// Builder turns a parsed query into parameterized, tenant-scoped SQL
type Builder struct{}

// NewBuilder creates a SQL builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// BuildSQL emits one SELECT statement for the parsed query. The tenant
// predicate is always the first condition and every user-derived value
// travels as a positional parameter. The generated statement is screened
// before it is returned.
func (bd *Builder) BuildSQL(parsed *models.ParsedQuery, tenantID string) (*models.GeneratedSQL, error) {
	if parsed == nil {
		return nil, utils.NewValidationError("parsed query is required")
	}
	if tenantID == "" {
		return nil, utils.NewValidationError("tenant id is required")
	}

	build := &sqlBuild{}
	build.where("tenant_id = " + build.nextArg(tenantID))

	var sql string
	switch parsed.Type {
	case models.QueryTypeLeads:
		sql = buildLeadsSQL(parsed, build)
	case models.QueryTypeBookings:
		sql = buildBookingsSQL(parsed, build)
	case models.QueryTypeRevenue:
		sql = buildRevenueSQL(parsed, build)
	case models.QueryTypeContacts:
		sql = buildContactsSQL(parsed, build)
	case models.QueryTypeAnalytics:
		sql = buildAnalyticsSQL(parsed, build)
	default:
		return nil, utils.NewUnsupportedQueryTypeError(parsed.Raw)
	}

	if err := sqlsafe.Validate(sql); err != nil {
		return nil, err
	}

	return &models.GeneratedSQL{
		SQL:         sql,
		Params:      build.args,
		Explanation: explain(parsed),
	}, nil
}

func buildLeadsSQL(parsed *models.ParsedQuery, build *sqlBuild) string {
	entities := parsed.Entities
	if entities.Country != "" {
		build.where("country = " + build.nextArg(entities.Country))
	}
	if entities.LeadStatus != nil {
		build.where(fmt.Sprintf("lead_score BETWEEN %s AND %s",
			build.nextArg(entities.LeadStatus.ScoreMin),
			build.nextArg(entities.LeadStatus.ScoreMax)))
	}
	if entities.Budget != nil {
		build.where("budget >= " + build.nextArg(*entities.Budget))
	}
	appendTimeframe(build, parsed.Timeframe, "created_at")

	if wantsCount(parsed) {
		return "SELECT COUNT(*) FROM leads WHERE " + build.whereClause()
	}
	return "SELECT id, name, email, country, lead_score, budget, status, created_at FROM leads WHERE " +
		build.whereClause() + " ORDER BY created_at DESC LIMIT 50"
}

func buildBookingsSQL(parsed *models.ParsedQuery, build *sqlBuild) string {
	entities := parsed.Entities
	if entities.Country != "" {
		build.where("destination_country = " + build.nextArg(entities.Country))
	}
	if entities.Budget != nil {
		build.where("total_amount >= " + build.nextArg(*entities.Budget))
	}
	if entities.BookingStatus != "" {
		build.where("status = " + build.nextArg(entities.BookingStatus))
	}
	appendTimeframe(build, parsed.Timeframe, bookingTimeColumn(parsed))

	clause := build.whereClause()
	switch parsed.Aggregation {
	case models.AggregationSum:
		return "SELECT COALESCE(SUM(total_amount), 0) FROM bookings WHERE " + clause
	case models.AggregationAvg:
		return "SELECT COALESCE(AVG(total_amount), 0) FROM bookings WHERE " + clause
	case models.AggregationMax:
		return "SELECT COALESCE(MAX(total_amount), 0) FROM bookings WHERE " + clause
	case models.AggregationMin:
		return "SELECT COALESCE(MIN(total_amount), 0) FROM bookings WHERE " + clause
	}
	if wantsCount(parsed) {
		return "SELECT COUNT(*) FROM bookings WHERE " + clause
	}
	return "SELECT id, contact_name, destination_country, travel_date, total_amount, status, created_at FROM bookings WHERE " +
		clause + " ORDER BY created_at DESC LIMIT 50"
}

func buildRevenueSQL(parsed *models.ParsedQuery, build *sqlBuild) string {
	appendTimeframe(build, parsed.Timeframe, "day")
	clause := build.whereClause()

	if parsed.Intent == models.IntentTrend {
		return "SELECT day, amount FROM revenue_daily WHERE " + clause + " ORDER BY day DESC LIMIT 50"
	}
	if wantsCount(parsed) {
		return "SELECT COUNT(*) FROM revenue_daily WHERE " + clause
	}
	switch parsed.Aggregation {
	case models.AggregationAvg:
		return "SELECT COALESCE(AVG(amount), 0) FROM revenue_daily WHERE " + clause
	case models.AggregationMax:
		return "SELECT COALESCE(MAX(amount), 0) FROM revenue_daily WHERE " + clause
	case models.AggregationMin:
		return "SELECT COALESCE(MIN(amount), 0) FROM revenue_daily WHERE " + clause
	}
	return "SELECT COALESCE(SUM(amount), 0) FROM revenue_daily WHERE " + clause
}

func buildContactsSQL(parsed *models.ParsedQuery, build *sqlBuild) string {
	if parsed.Entities.Country != "" {
		build.where("country = " + build.nextArg(parsed.Entities.Country))
	}
	appendTimeframe(build, parsed.Timeframe, "created_at")

	if wantsCount(parsed) {
		return "SELECT COUNT(*) FROM contacts WHERE " + build.whereClause()
	}
	return "SELECT id, name, email, country, created_at FROM contacts WHERE " +
		build.whereClause() + " ORDER BY created_at DESC LIMIT 50"
}

// buildAnalyticsSQL reports the booking pipeline grouped by status
func buildAnalyticsSQL(parsed *models.ParsedQuery, build *sqlBuild) string {
	if parsed.Entities.Country != "" {
		build.where("destination_country = " + build.nextArg(parsed.Entities.Country))
	}
	appendTimeframe(build, parsed.Timeframe, bookingTimeColumn(parsed))

	return "SELECT status, COUNT(*) AS count FROM bookings WHERE " + build.whereClause() +
		" GROUP BY status ORDER BY count DESC"
}

func appendTimeframe(build *sqlBuild, timeframe *models.Timeframe, column string) {
	if timeframe == nil {
		return
	}
	build.where(column + " >= " + build.nextArg(timeframe.Start))
	build.where(column + " < " + build.nextArg(timeframe.End))
}

func bookingTimeColumn(parsed *models.ParsedQuery) string {
	if travelPhrasePattern.MatchString(parsed.Normalized) {
		return "travel_date"
	}
	return "created_at"
}

// wantsCount reports whether the COUNT(*) template applies. The count
// aggregation alone is not enough: it is the default for most types, and
// a plain "zeige leads" still lists rows.
func wantsCount(parsed *models.ParsedQuery) bool {
	return parsed.Intent == models.IntentCount
}

func explain(parsed *models.ParsedQuery) string {
	var action string
	switch {
	case parsed.Type == models.QueryTypeAnalytics:
		action = "Groups bookings by status"
	case parsed.Type == models.QueryTypeRevenue && parsed.Intent == models.IntentTrend:
		action = "Lists daily revenue"
	case parsed.Type == models.QueryTypeRevenue:
		action = aggregationVerb(parsed.Aggregation) + " daily revenue"
	case wantsCount(parsed):
		action = "Counts " + string(parsed.Type)
	default:
		action = "Lists the most recent " + string(parsed.Type)
	}

	parts := []string{action, "for the tenant"}
	entities := parsed.Entities
	if entities.Country != "" && parsed.Type != models.QueryTypeRevenue {
		parts = append(parts, "in "+entities.Country)
	}
	if entities.LeadStatus != nil && parsed.Type == models.QueryTypeLeads {
		parts = append(parts, "with "+entities.LeadStatus.Status+" scores")
	}
	if entities.Budget != nil && (parsed.Type == models.QueryTypeLeads || parsed.Type == models.QueryTypeBookings) {
		parts = append(parts, fmt.Sprintf("with budget from %.0f", *entities.Budget))
	}
	if entities.BookingStatus != "" && parsed.Type == models.QueryTypeBookings {
		parts = append(parts, "with status "+entities.BookingStatus)
	}
	if parsed.Timeframe != nil {
		parts = append(parts, "within "+strings.ReplaceAll(parsed.Timeframe.Label, "_", " "))
	}
	return strings.Join(parts, " ") + "."
}

func aggregationVerb(aggregation models.Aggregation) string {
	switch aggregation {
	case models.AggregationAvg:
		return "Averages"
	case models.AggregationMax:
		return "Takes the maximum of"
	case models.AggregationMin:
		return "Takes the minimum of"
	default:
		return "Sums"
	}
}
