package models

import "time"

// QueryType classifies a natural-language CRM question
type QueryType string

const (
	QueryTypeLeads     QueryType = "leads"
	QueryTypeBookings  QueryType = "bookings"
	QueryTypeRevenue   QueryType = "revenue"
	QueryTypeContacts  QueryType = "contacts"
	QueryTypeAnalytics QueryType = "analytics"
	QueryTypeUnknown   QueryType = "unknown"
)

// Aggregation names the aggregate function a query asks for
type Aggregation string

const (
	AggregationCount Aggregation = "count"
	AggregationSum   Aggregation = "sum"
	AggregationAvg   Aggregation = "avg"
	AggregationMax   Aggregation = "max"
	AggregationMin   Aggregation = "min"
	AggregationNone  Aggregation = "none"
)

// QueryIntent names what the user wants done with the matching rows
type QueryIntent string

const (
	IntentList      QueryIntent = "list"
	IntentCount     QueryIntent = "count"
	IntentAggregate QueryIntent = "aggregate"
	IntentCompare   QueryIntent = "compare"
	IntentTrend     QueryIntent = "trend"
)

// LeadStatusRange maps a lead temperature to its score interval
type LeadStatusRange struct {
	Status   string `json:"status"`
	ScoreMin int    `json:"score_min"`
	ScoreMax int    `json:"score_max"`
}

// QueryEntities holds typed values extracted from the query text
type QueryEntities struct {
	Country       string           `json:"country,omitempty"`
	LeadStatus    *LeadStatusRange `json:"lead_status,omitempty"`
	Budget        *float64         `json:"budget,omitempty"`
	BookingStatus string           `json:"booking_status,omitempty"`
}

// Timeframe represents a resolved half-open date range [Start, End)
type Timeframe struct {
	Label string    `json:"label"`
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParsedQuery represents the structured interpretation of a question
type ParsedQuery struct {
	Raw         string        `json:"raw"`
	Normalized  string        `json:"normalized"`
	Type        QueryType     `json:"type"`
	Entities    QueryEntities `json:"entities"`
	Timeframe   *Timeframe    `json:"timeframe,omitempty"`
	Aggregation Aggregation   `json:"aggregation"`
	Intent      QueryIntent   `json:"intent"`
	Confidence  float64       `json:"confidence"`
}

// GeneratedSQL represents a parameterized statement built from a parse
type GeneratedSQL struct {
	SQL         string `json:"sql"`
	Params      []any  `json:"params"`
	Explanation string `json:"explanation"`
}

// QueryRequest represents a natural-language query API request
type QueryRequest struct {
	Query   string `json:"query" binding:"required"`
	Execute bool   `json:"execute"`
}

// QueryResponse represents the full pipeline output for one question
type QueryResponse struct {
	Parsed    *ParsedQuery     `json:"parsed"`
	Generated *GeneratedSQL    `json:"generated"`
	Rows      []map[string]any `json:"rows,omitempty"`
	RowCount  int              `json:"row_count"`
	Executed  bool             `json:"executed"`
}
