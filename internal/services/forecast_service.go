package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/voyagehq/crm-ai-go/internal/models"
	"github.com/voyagehq/crm-ai-go/internal/utils"

	"github.com/cinar/indicator/v2/helper"
	"github.com/cinar/indicator/v2/trend"
	"github.com/sirupsen/logrus"
)

// ForecastConfig holds Holt-Winters smoothing parameters
type ForecastConfig struct {
	Alpha           float64 `json:"alpha"`
	Beta            float64 `json:"beta"`
	Gamma           float64 `json:"gamma"`
	Period          int     `json:"period"`
	ConfidenceLevel float64 `json:"confidence_level"`
}

// DefaultForecastConfig returns the standard weekly-seasonality configuration
func DefaultForecastConfig() ForecastConfig {
	return ForecastConfig{
		Alpha:           0.3,
		Beta:            0.1,
		Gamma:           0.1,
		Period:          7,
		ConfidenceLevel: 0.95,
	}
}

// minForecastPoints is the smallest daily series the model accepts
const minForecastPoints = 14

// maxBacktestWindow caps how many trailing points feed the accuracy metrics
const maxBacktestWindow = 30

// ForecastService produces revenue forecasts using triple exponential smoothing
type ForecastService struct {
	config ForecastConfig
	logger *logrus.Logger
}

// NewForecastService creates a new forecast service. Zero-value config
// fields fall back to the defaults.
func NewForecastService(cfg ForecastConfig, logger *logrus.Logger) *ForecastService {
	defaults := DefaultForecastConfig()
	if cfg.Alpha <= 0 || cfg.Alpha >= 1 {
		cfg.Alpha = defaults.Alpha
	}
	if cfg.Beta <= 0 || cfg.Beta >= 1 {
		cfg.Beta = defaults.Beta
	}
	if cfg.Gamma <= 0 || cfg.Gamma >= 1 {
		cfg.Gamma = defaults.Gamma
	}
	if cfg.Period <= 1 {
		cfg.Period = defaults.Period
	}
	if cfg.ConfidenceLevel <= 0 || cfg.ConfidenceLevel >= 1 {
		cfg.ConfidenceLevel = defaults.ConfidenceLevel
	}
	return &ForecastService{
		config: cfg,
		logger: logger,
	}
}

// holtWintersState carries the fitted model components
type holtWintersState struct {
	level     float64
	trend     float64
	seasonal  []float64
	fitted    []float64
	actuals   []float64
	residuals []float64
	n         int
}

// Forecast fits the model to daily revenue and projects horizonDays forward.
//
// Parameters:
//   - ctx: Request context.
//   - points: Raw revenue points; aggregated to calendar days internally.
//   - horizonDays: Number of future days to predict.
//
// Returns:
//   - A ForecastResult with predictions, confidence bounds and backtest
//     metrics, or an InsufficientDataError when fewer than 14 daily points
//     are available.
func (fs *ForecastService) Forecast(ctx context.Context, points []models.RevenuePoint, horizonDays int) (*models.ForecastResult, error) {
	if horizonDays <= 0 {
		return nil, utils.NewValidationErrorf("forecast horizon must be positive, got %d", horizonDays)
	}

	dates, series := fs.aggregateDaily(points)
	need := minForecastPoints
	if 2*fs.config.Period > need {
		need = 2 * fs.config.Period
	}
	if len(series) < need {
		return nil, utils.NewInsufficientDataError("daily revenue points", need, len(series))
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("forecast cancelled: %w", err)
	}

	fs.logger.WithFields(logrus.Fields{
		"raw_points":   len(points),
		"daily_points": len(series),
		"horizon_days": horizonDays,
	}).Info("Starting revenue forecast")

	state := fs.fitHoltWinters(series)

	residualStdDev := calculateStandardDeviation(state.residuals, meanOf(state.residuals))
	zScore := fs.zScoreForLevel(fs.config.ConfidenceLevel)

	lastDate := dates[len(dates)-1]
	forecastPoints := make([]models.ForecastPoint, 0, horizonDays)
	for h := 0; h < horizonDays; h++ {
		seasonalIdx := (state.n + h) % fs.config.Period
		predicted := (state.level + float64(h+1)*state.trend) * state.seasonal[seasonalIdx]
		if predicted < 0 {
			predicted = 0
		}

		margin := zScore * residualStdDev * math.Sqrt(float64(h+1))
		lower := predicted - margin
		if lower < 0 {
			lower = 0
		}

		forecastPoints = append(forecastPoints, models.ForecastPoint{
			Date:      lastDate.AddDate(0, 0, h+1),
			Predicted: predicted,
			Lower:     lower,
			Upper:     predicted + margin,
		})
	}

	metrics := fs.backtestMetrics(state)
	accuracy := accuracyLabel(metrics.MAPE)
	confidence := clamp((100-metrics.MAPE)/100, 0, 1)

	fs.logger.WithFields(logrus.Fields{
		"mape":     metrics.MAPE,
		"rmse":     metrics.RMSE,
		"accuracy": accuracy,
	}).Debug("Forecast backtest complete")

	seasonality := fs.DetectSeasonality(points)

	return &models.ForecastResult{
		Points:     forecastPoints,
		Metrics:    metrics,
		Accuracy:   accuracy,
		Confidence: confidence,
		Parameters: models.ModelParameters{
			Alpha:           fs.config.Alpha,
			Beta:            fs.config.Beta,
			Gamma:           fs.config.Gamma,
			Period:          fs.config.Period,
			ConfidenceLevel: fs.config.ConfidenceLevel,
		},
		Seasonality: seasonality,
		GeneratedAt: time.Now(),
	}, nil
}

// aggregateDaily sums revenue by calendar day, sorts ascending and
// zero-fills gaps so the series is contiguous.
func (fs *ForecastService) aggregateDaily(points []models.RevenuePoint) ([]time.Time, []float64) {
	if len(points) == 0 {
		return nil, nil
	}

	byDay := make(map[time.Time]float64)
	for _, p := range points {
		day := truncateToDay(p.Date)
		byDay[day] += p.Amount.InexactFloat64()
	}

	days := make([]time.Time, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })

	first, last := days[0], days[len(days)-1]
	var dates []time.Time
	var series []float64
	for day := first; !day.After(last); day = day.AddDate(0, 0, 1) {
		dates = append(dates, day)
		series = append(series, byDay[day])
	}
	return dates, series
}

// fitHoltWinters runs the additive-trend, multiplicative-seasonality
// recursion over the daily series.
func (fs *ForecastService) fitHoltWinters(series []float64) *holtWintersState {
	p := fs.config.Period
	n := len(series)

	firstMean := meanOf(series[:p])
	secondMean := meanOf(series[p : 2*p])
	if firstMean == 0 {
		firstMean = 1e-9
	}

	level := firstMean
	trendComp := (secondMean - firstMean) / float64(p)

	seasonal := make([]float64, p)
	seasonalSum := 0.0
	for i := 0; i < p; i++ {
		seasonal[i] = series[i] / firstMean
		seasonalSum += seasonal[i]
	}
	// Normalize indices so they sum to the period length
	if seasonalSum != 0 {
		for i := range seasonal {
			seasonal[i] *= float64(p) / seasonalSum
		}
	}

	state := &holtWintersState{seasonal: seasonal, n: n}
	for t := p; t < n; t++ {
		idx := t % p

		fitted := (level + trendComp) * seasonal[idx]
		state.fitted = append(state.fitted, fitted)
		state.actuals = append(state.actuals, series[t])
		state.residuals = append(state.residuals, series[t]-fitted)

		prevLevel := level
		seasonalFactor := seasonal[idx]
		if seasonalFactor == 0 {
			seasonalFactor = 1e-9
		}
		level = fs.config.Alpha*(series[t]/seasonalFactor) + (1-fs.config.Alpha)*(level+trendComp)
		trendComp = fs.config.Beta*(level-prevLevel) + (1-fs.config.Beta)*trendComp
		levelFactor := level
		if levelFactor == 0 {
			levelFactor = 1e-9
		}
		seasonal[idx] = fs.config.Gamma*(series[t]/levelFactor) + (1-fs.config.Gamma)*seasonal[idx]
	}

	state.level = level
	state.trend = trendComp
	return state
}

// backtestMetrics scores the fit over the trailing window of one-step
// predictions.
func (fs *ForecastService) backtestMetrics(state *holtWintersState) models.AccuracyMetrics {
	window := len(state.actuals)
	if window > maxBacktestWindow {
		window = maxBacktestWindow
	}
	if window == 0 {
		return models.AccuracyMetrics{MAPE: 100}
	}

	actuals := state.actuals[len(state.actuals)-window:]
	fitted := state.fitted[len(state.fitted)-window:]

	var absErrSum, sqErrSum, pctErrSum float64
	pctCount := 0
	for i := range actuals {
		err := actuals[i] - fitted[i]
		absErrSum += math.Abs(err)
		sqErrSum += err * err
		if actuals[i] != 0 {
			pctErrSum += math.Abs(err / actuals[i])
			pctCount++
		}
	}

	mape := 100.0
	if pctCount > 0 {
		mape = 100 * pctErrSum / float64(pctCount)
	}

	actualMean := meanOf(actuals)
	var ssTot float64
	for _, a := range actuals {
		ssTot += (a - actualMean) * (a - actualMean)
	}
	rSquared := 0.0
	if ssTot > 0 {
		rSquared = 1 - sqErrSum/ssTot
	}

	return models.AccuracyMetrics{
		MAPE:     mape,
		RMSE:     math.Sqrt(sqErrSum / float64(window)),
		MAE:      absErrSum / float64(window),
		RSquared: rSquared,
	}
}

// seasonalCycleSpec maps a cycle name to its bucketing function
type seasonalCycleSpec struct {
	name    string
	buckets int
	bucket  func(t time.Time) int
}

// DetectSeasonality buckets revenue by calendar cycle and reports which
// cycles show a pronounced pattern. The within-day cycle is reported but
// never selected as dominant.
func (fs *ForecastService) DetectSeasonality(points []models.RevenuePoint) *models.SeasonalityAnalysis {
	if len(points) == 0 {
		return &models.SeasonalityAnalysis{}
	}

	specs := []seasonalCycleSpec{
		{name: "daily", buckets: 24, bucket: func(t time.Time) int { return t.Hour() }},
		{name: "weekly", buckets: 7, bucket: func(t time.Time) int { return int(t.Weekday()) }},
		{name: "monthly", buckets: 31, bucket: func(t time.Time) int { return t.Day() - 1 }},
		{name: "yearly", buckets: 12, bucket: func(t time.Time) int { return int(t.Month()) - 1 }},
	}

	analysis := &models.SeasonalityAnalysis{}
	dominantStrength := -1.0

	for _, spec := range specs {
		cycle := fs.analyzeCycle(points, spec)
		analysis.Cycles = append(analysis.Cycles, cycle)
		if cycle.Present {
			analysis.HasSeasonal = true
			if spec.name != "daily" && cycle.Strength > dominantStrength {
				dominantStrength = cycle.Strength
				analysis.DominantCycle = spec.name
			}
		}
	}

	return analysis
}

// analyzeCycle computes bucket means, presence and strength for one cycle
func (fs *ForecastService) analyzeCycle(points []models.RevenuePoint, spec seasonalCycleSpec) models.SeasonalCycle {
	sums := make([]float64, spec.buckets)
	counts := make([]int, spec.buckets)
	for _, p := range points {
		idx := spec.bucket(p.Date)
		if idx < 0 || idx >= spec.buckets {
			continue
		}
		sums[idx] += p.Amount.InexactFloat64()
		counts[idx]++
	}

	type bucketMean struct {
		idx  int
		mean float64
	}
	var means []bucketMean
	for i := 0; i < spec.buckets; i++ {
		if counts[i] > 0 {
			means = append(means, bucketMean{idx: i, mean: sums[i] / float64(counts[i])})
		}
	}
	if len(means) < 2 {
		return models.SeasonalCycle{Name: spec.name}
	}

	minMean, maxMean := means[0].mean, means[0].mean
	var values []float64
	for _, m := range means {
		if m.mean < minMean {
			minMean = m.mean
		}
		if m.mean > maxMean {
			maxMean = m.mean
		}
		values = append(values, m.mean)
	}

	present := minMean > 0 && maxMean/minMean >= 1.5

	mean := meanOf(values)
	strength := 0.0
	if mean != 0 {
		strength = calculateStandardDeviation(values, mean) / mean
	}

	sort.Slice(means, func(i, j int) bool { return means[i].mean > means[j].mean })
	peakCount := 3
	if len(means) < peakCount {
		peakCount = len(means)
	}
	peaks := make([]int, 0, peakCount)
	for _, m := range means[:peakCount] {
		peaks = append(peaks, m.idx)
	}

	return models.SeasonalCycle{
		Name:        spec.name,
		Present:     present,
		Strength:    strength,
		PeakBuckets: peaks,
	}
}

// TrendSummary smooths the daily revenue series with SMA and EMA and
// labels its direction.
func (fs *ForecastService) TrendSummary(points []models.RevenuePoint, period int) (*models.TrendSummary, error) {
	if period <= 0 {
		period = fs.config.Period
	}

	_, series := fs.aggregateDaily(points)
	if len(series) < period {
		return nil, utils.NewInsufficientDataError("daily revenue points", period, len(series))
	}

	smaIndicator := trend.NewSmaWithPeriod[float64](period)
	sma := helper.ChanToSlice(smaIndicator.Compute(helper.SliceToChan(series)))

	emaIndicator := trend.NewEmaWithPeriod[float64](period)
	ema := helper.ChanToSlice(emaIndicator.Compute(helper.SliceToChan(series)))

	direction := "stable"
	changePercent := 0.0
	if len(sma) >= 2 && sma[0] != 0 {
		changePercent = (sma[len(sma)-1] - sma[0]) / sma[0] * 100
		switch {
		case changePercent > 1:
			direction = "improving"
		case changePercent < -1:
			direction = "declining"
		}
	}

	return &models.TrendSummary{
		SMA:           sma,
		EMA:           ema,
		Direction:     direction,
		ChangePercent: changePercent,
		Period:        period,
	}, nil
}

// zScoreForLevel maps a confidence level to its normal quantile
func (fs *ForecastService) zScoreForLevel(level float64) float64 {
	switch {
	case level >= 0.99:
		return 2.576
	case level >= 0.95:
		return 1.96
	case level >= 0.90:
		return 1.645
	default:
		return 1.96
	}
}

// accuracyLabel grades the backtest MAPE
func accuracyLabel(mape float64) string {
	switch {
	case mape < 10:
		return "high"
	case mape < 25:
		return "medium"
	default:
		return "low"
	}
}

func truncateToDay(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

func meanOf(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// calculateStandardDeviation computes the population standard deviation
// of a window around a precomputed mean.
func calculateStandardDeviation(window []float64, mean float64) float64 {
	if len(window) == 0 {
		return 0
	}
	sum := 0.0
	for _, value := range window {
		diff := value - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(len(window)))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func roundTo(v float64, places int) float64 {
	factor := math.Pow(10, float64(places))
	return math.Round(v*factor) / factor
}
