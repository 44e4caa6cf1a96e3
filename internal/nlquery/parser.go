// Package nlquery turns natural-language CRM questions (German or
// English) into parameterized SQL. The pipeline is pure and total:
// Parse always returns a result, falling back to the unknown query type,
// and BuildSQL either emits tenant-scoped SQL or a typed error.
package nlquery

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/voyagehq/crm-ai-go/internal/models"
)

// typePattern binds one query type to its trigger patterns. Patterns are
// evaluated in priority order and the first match wins.
type typePattern struct {
	queryType models.QueryType
	patterns  []*regexp.Regexp
	priority  int
}

// countryAlias maps a recognized name to the stored country code
type countryAlias struct {
	alias string
	code  string
}

// Dictionary order matters only for aliases sharing a prefix; containment
// matching returns the first hit.
var countryAliases = []countryAlias{
	{"deutschland", "DE"}, {"germany", "DE"},
	{"spanien", "ES"}, {"spain", "ES"},
	{"frankreich", "FR"}, {"france", "FR"},
	{"italien", "IT"}, {"italy", "IT"},
	{"österreich", "AT"}, {"oesterreich", "AT"}, {"austria", "AT"},
	{"schweiz", "CH"}, {"switzerland", "CH"},
	{"griechenland", "GR"}, {"greece", "GR"},
	{"türkei", "TR"}, {"tuerkei", "TR"}, {"turkey", "TR"},
	{"portugal", "PT"},
	{"kroatien", "HR"}, {"croatia", "HR"},
	{"usa", "US"},
	{"thailand", "TH"},
}

var leadStatusRanges = []struct {
	aliases []string
	status  string
	min     int
	max     int
}{
	{[]string{"hot", "heiß", "heiss"}, "hot", 70, 100},
	{[]string{"warm"}, "warm", 40, 69},
	{[]string{"cold", "kalt"}, "cold", 0, 39},
}

var bookingStatusAliases = []struct {
	aliases []string
	status  string
}{
	{[]string{"confirmed", "bestätigt", "bestaetigt"}, "confirmed"},
	{[]string{"pending", "ausstehend"}, "pending"},
	{[]string{"cancelled", "canceled", "storniert"}, "cancelled"},
}

// timeframePattern resolves a relative phrase against a reference time.
// Checked in order, first match wins.
type timeframePattern struct {
	label   string
	pattern *regexp.Regexp
	resolve func(now time.Time, matches []string) (time.Time, time.Time)
}

var numberPattern = regexp.MustCompile(`\d+(?:[.,]\d{3})*(?:[.,]\d{1,2})?`)

var aggregationKeywords = []struct {
	aggregation models.Aggregation
	pattern     *regexp.Regexp
}{
	{models.AggregationCount, regexp.MustCompile(`wie viele|anzahl|how many|\bcount\b`)},
	{models.AggregationSum, regexp.MustCompile(`summe|gesamt|\btotal\b|\bsum\b`)},
	{models.AggregationAvg, regexp.MustCompile(`durchschnitt|average|\bavg\b`)},
	{models.AggregationMax, regexp.MustCompile(`höchste|hoechste|maximum|\bmax\b|highest`)},
	{models.AggregationMin, regexp.MustCompile(`niedrigste|minimum|\bmin\b|lowest`)},
}

var intentKeywords = []struct {
	intent  models.QueryIntent
	pattern *regexp.Regexp
}{
	{models.IntentCount, regexp.MustCompile(`wie viele|anzahl|how many|\bcount\b`)},
	{models.IntentCompare, regexp.MustCompile(`vergleich|compare|versus|\bvs\b`)},
	{models.IntentTrend, regexp.MustCompile(`\btrend\b|entwicklung|verlauf|over time`)},
	{models.IntentAggregate, regexp.MustCompile(`summe|gesamt|\btotal\b|\bsum\b|durchschnitt|average|\bavg\b`)},
	{models.IntentList, regexp.MustCompile(`zeige|\bshow\b|\blist\b|liste`)},
}

var defaultIntents = map[models.QueryType]models.QueryIntent{
	models.QueryTypeLeads:     models.IntentList,
	models.QueryTypeBookings:  models.IntentList,
	models.QueryTypeRevenue:   models.IntentAggregate,
	models.QueryTypeContacts:  models.IntentList,
	models.QueryTypeAnalytics: models.IntentTrend,
	models.QueryTypeUnknown:   models.IntentList,
}

var defaultAggregations = map[models.QueryType]models.Aggregation{
	models.QueryTypeLeads:     models.AggregationCount,
	models.QueryTypeBookings:  models.AggregationCount,
	models.QueryTypeRevenue:   models.AggregationSum,
	models.QueryTypeContacts:  models.AggregationCount,
	models.QueryTypeAnalytics: models.AggregationCount,
	models.QueryTypeUnknown:   models.AggregationNone,
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// Parser classifies CRM questions and extracts their typed filters
type Parser struct {
	patterns   []typePattern
	timeframes []timeframePattern
	now        func() time.Time
}

// NewParser compiles the bilingual pattern tables. The clock defaults to
// time.Now and is only replaced in tests.
func NewParser() *Parser {
	patterns := []typePattern{
		{
			queryType: models.QueryTypeRevenue,
			priority:  90,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`umsatz|umsätze|revenue|einnahmen|\bsales\b`),
			},
		},
		{
			queryType: models.QueryTypeLeads,
			priority:  85,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`\bleads?\b|interessent`),
			},
		},
		{
			queryType: models.QueryTypeBookings,
			priority:  80,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`buchung|\bbookings?\b|\breisen?\b|\btrips?\b`),
			},
		},
		{
			queryType: models.QueryTypeContacts,
			priority:  70,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`kontakt|\bcontacts?\b|\bkunden?\b|\bcustomers?\b`),
			},
		},
		{
			queryType: models.QueryTypeAnalytics,
			priority:  60,
			patterns: []*regexp.Regexp{
				regexp.MustCompile(`analyse|analytics|statistik|statistics|\breports?\b|\bbericht`),
			},
		},
	}

	timeframes := []timeframePattern{
		{
			label:   "today",
			pattern: regexp.MustCompile(`\btoday\b|\bheute\b`),
			resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
				start := startOfDay(now)
				return start, start.AddDate(0, 0, 1)
			},
		},
		{
			label:   "yesterday",
			pattern: regexp.MustCompile(`\byesterday\b|\bgestern\b`),
			resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
				start := startOfDay(now).AddDate(0, 0, -1)
				return start, start.AddDate(0, 0, 1)
			},
		},
		{
			label:   "last_week",
			pattern: regexp.MustCompile(`last week|letzte woche|letzter woche`),
			resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
				weekStart := startOfWeek(now)
				return weekStart.AddDate(0, 0, -7), weekStart
			},
		},
		{
			label:   "last_month",
			pattern: regexp.MustCompile(`last month|letzten monat|letzter monat`),
			resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
				monthStart := startOfMonth(now)
				return monthStart.AddDate(0, -1, 0), monthStart
			},
		},
		{
			label:   "this_month",
			pattern: regexp.MustCompile(`this month|diesen monat|dieser monat|diesem monat`),
			resolve: func(now time.Time, _ []string) (time.Time, time.Time) {
				monthStart := startOfMonth(now)
				return monthStart, monthStart.AddDate(0, 1, 0)
			},
		},
		{
			label:   "last_n_days",
			pattern: regexp.MustCompile(`last (\d+) days|letzten? (\d+) tagen?`),
			resolve: func(now time.Time, matches []string) (time.Time, time.Time) {
				days := 7
				for _, group := range matches[1:] {
					if group == "" {
						continue
					}
					if n, err := strconv.Atoi(group); err == nil {
						days = n
					}
					break
				}
				end := startOfDay(now).AddDate(0, 0, 1)
				return end.AddDate(0, 0, -days-1), end
			},
		},
	}

	return &Parser{patterns: patterns, timeframes: timeframes, now: time.Now}
}

// Parse interprets one natural-language question. It never fails: text
// that matches nothing comes back as the unknown type with empty filters.
func (p *Parser) Parse(text string) *models.ParsedQuery {
	normalized := normalize(text)

	queryType := p.classify(normalized)
	entities := p.extractEntities(normalized)
	timeframe := p.extractTimeframe(normalized)
	aggregation, aggregationMatched := p.extractAggregation(normalized, queryType)
	intent := p.extractIntent(normalized, queryType)

	return &models.ParsedQuery{
		Raw:         text,
		Normalized:  normalized,
		Type:        queryType,
		Entities:    entities,
		Timeframe:   timeframe,
		Aggregation: aggregation,
		Intent:      intent,
		Confidence:  p.confidence(queryType, entities, timeframe, aggregationMatched),
	}
}

func normalize(text string) string {
	trimmed := strings.TrimSpace(strings.ToLower(text))
	return whitespacePattern.ReplaceAllString(trimmed, " ")
}

func (p *Parser) classify(normalized string) models.QueryType {
	best := models.QueryTypeUnknown
	bestPriority := -1
	for _, candidate := range p.patterns {
		if candidate.priority <= bestPriority {
			continue
		}
		for _, pattern := range candidate.patterns {
			if pattern.MatchString(normalized) {
				best = candidate.queryType
				bestPriority = candidate.priority
				break
			}
		}
	}
	return best
}

func (p *Parser) extractEntities(normalized string) models.QueryEntities {
	entities := models.QueryEntities{}

	for _, country := range countryAliases {
		if strings.Contains(normalized, country.alias) {
			entities.Country = country.code
			break
		}
	}

	for _, rangeDef := range leadStatusRanges {
		for _, alias := range rangeDef.aliases {
			if strings.Contains(normalized, alias) {
				entities.LeadStatus = &models.LeadStatusRange{
					Status:   rangeDef.status,
					ScoreMin: rangeDef.min,
					ScoreMax: rangeDef.max,
				}
				break
			}
		}
		if entities.LeadStatus != nil {
			break
		}
	}

	if match := numberPattern.FindString(normalized); match != "" {
		if value, ok := parseLocalizedNumber(match); ok {
			entities.Budget = &value
		}
	}

	for _, statusDef := range bookingStatusAliases {
		for _, alias := range statusDef.aliases {
			if strings.Contains(normalized, alias) {
				entities.BookingStatus = statusDef.status
				break
			}
		}
		if entities.BookingStatus != "" {
			break
		}
	}

	return entities
}

// parseLocalizedNumber reads "1500", "1.500", "1,500", and "1500,50"
// style amounts. A separator followed by exactly three digits counts as a
// thousands mark.
func parseLocalizedNumber(raw string) (float64, bool) {
	cleaned := strings.NewReplacer("€", "", " ", "").Replace(raw)

	lastSep := strings.LastIndexAny(cleaned, ".,")
	if lastSep >= 0 {
		decimals := len(cleaned) - lastSep - 1
		var intPart, fracPart string
		if decimals == 3 {
			intPart = cleaned
			fracPart = ""
		} else {
			intPart = cleaned[:lastSep]
			fracPart = cleaned[lastSep+1:]
		}
		intPart = strings.NewReplacer(".", "", ",", "").Replace(intPart)
		cleaned = intPart
		if fracPart != "" {
			cleaned = intPart + "." + fracPart
		}
	}

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, false
	}
	return value, true
}

func (p *Parser) extractTimeframe(normalized string) *models.Timeframe {
	now := p.now()
	for _, candidate := range p.timeframes {
		matches := candidate.pattern.FindStringSubmatch(normalized)
		if matches == nil {
			continue
		}
		start, end := candidate.resolve(now, matches)
		return &models.Timeframe{Label: candidate.label, Start: start, End: end}
	}
	return nil
}

func (p *Parser) extractAggregation(normalized string, queryType models.QueryType) (models.Aggregation, bool) {
	for _, keyword := range aggregationKeywords {
		if keyword.pattern.MatchString(normalized) {
			return keyword.aggregation, true
		}
	}
	return defaultAggregations[queryType], false
}

func (p *Parser) extractIntent(normalized string, queryType models.QueryType) models.QueryIntent {
	for _, keyword := range intentKeywords {
		if keyword.pattern.MatchString(normalized) {
			return keyword.intent
		}
	}
	return defaultIntents[queryType]
}

// confidence is a completeness proxy, not a calibrated probability
func (p *Parser) confidence(queryType models.QueryType, entities models.QueryEntities, timeframe *models.Timeframe, aggregationMatched bool) float64 {
	confidence := 0.3
	if queryType != models.QueryTypeUnknown {
		confidence += 0.4
	}

	entityCount := 0
	if entities.Country != "" {
		entityCount++
	}
	if entities.LeadStatus != nil {
		entityCount++
	}
	if entities.Budget != nil {
		entityCount++
	}
	if entities.BookingStatus != "" {
		entityCount++
	}
	if entityCount > 3 {
		entityCount = 3
	}
	confidence += 0.1 * float64(entityCount)

	if timeframe != nil {
		confidence += 0.05
	}
	if aggregationMatched {
		confidence += 0.05
	}

	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// startOfWeek truncates to Monday 00:00
func startOfWeek(t time.Time) time.Time {
	day := startOfDay(t)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

func startOfMonth(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location())
}
