package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// RevenuePoint represents revenue recognized on a single date
type RevenuePoint struct {
	TenantID string          `json:"tenant_id,omitempty" db:"tenant_id"`
	Date     time.Time       `json:"date" db:"booking_date"`
	Amount   decimal.Decimal `json:"amount" db:"amount"`
}

// ForecastPoint represents one forecasted day with confidence bounds
type ForecastPoint struct {
	Date      time.Time `json:"date"`
	Predicted float64   `json:"predicted"`
	Lower     float64   `json:"lower_bound"`
	Upper     float64   `json:"upper_bound"`
}

// AccuracyMetrics holds backtest error measures for a fitted model
type AccuracyMetrics struct {
	MAPE     float64 `json:"mape"`
	RMSE     float64 `json:"rmse"`
	MAE      float64 `json:"mae"`
	RSquared float64 `json:"r_squared"`
}

// SeasonalCycle describes one periodic revenue cycle candidate
type SeasonalCycle struct {
	Name        string  `json:"name"`
	Present     bool    `json:"present"`
	Strength    float64 `json:"strength"`
	PeakBuckets []int   `json:"peak_buckets"`
}

// SeasonalityAnalysis summarizes detected periodic structure in revenue
type SeasonalityAnalysis struct {
	Cycles        []SeasonalCycle `json:"cycles"`
	DominantCycle string          `json:"dominant_cycle"`
	HasSeasonal   bool            `json:"has_seasonality"`
}

// ModelParameters echoes the smoothing configuration used for a forecast
type ModelParameters struct {
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	Gamma           float64 `json:"gamma"`
	Period          int     `json:"period"`
	ConfidenceLevel float64 `json:"confidence_level"`
}

// ForecastResult represents a complete revenue forecast with quality measures
type ForecastResult struct {
	Points      []ForecastPoint      `json:"points"`
	Metrics     AccuracyMetrics      `json:"metrics"`
	Accuracy    string               `json:"accuracy"`
	Confidence  float64              `json:"confidence"`
	Parameters  ModelParameters      `json:"parameters"`
	Seasonality *SeasonalityAnalysis `json:"seasonality,omitempty"`
	GeneratedAt time.Time            `json:"generated_at"`
}

// TrendSummary describes smoothed direction of the recent revenue series
type TrendSummary struct {
	SMA           []float64 `json:"sma"`
	EMA           []float64 `json:"ema"`
	Direction     string    `json:"direction"`
	ChangePercent float64   `json:"change_percent"`
	Period        int       `json:"period"`
}

// ForecastRequest represents a revenue forecast request
type ForecastRequest struct {
	Points      []RevenuePoint `json:"points"`
	HorizonDays int            `json:"horizon_days" binding:"required,min=1,max=365"`
	StartDate   *time.Time     `json:"start_date,omitempty"`
	EndDate     *time.Time     `json:"end_date,omitempty"`
}

// ForecastResponse wraps a forecast result for API responses
type ForecastResponse struct {
	TenantID string          `json:"tenant_id"`
	Forecast *ForecastResult `json:"forecast"`
	Trend    *TrendSummary   `json:"trend,omitempty"`
	Cached   bool            `json:"cached"`
}
