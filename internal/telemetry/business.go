package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// BusinessTracer provides utilities for tracing analytics operations.
// It allows detailed tracking of domain-specific activities like revenue
// forecasting, churn scoring, and natural-language query execution.
type BusinessTracer struct {
	tracer trace.Tracer
}

// NewBusinessTracer creates a new instance of BusinessTracer.
//
// Returns:
//   - A pointer to an initialized BusinessTracer.
func NewBusinessTracer() *BusinessTracer {
	return &BusinessTracer{tracer: GetBusinessTracer()}
}

// TraceForecast starts a span for tracing a revenue forecast run.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - tenantID: The tenant whose revenue is being forecast.
//   - horizonDays: The number of days being projected.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceForecast(ctx context.Context, tenantID string, horizonDays int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "revenue_forecast",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.Int("horizon_days", horizonDays),
		),
	)
}

// RecordForecastMetrics adds the outcome of a forecast run to an existing span.
//
// Parameters:
//   - span: The span to update.
//   - metrics: The forecast run metrics to record.
func (bt *BusinessTracer) RecordForecastMetrics(span trace.Span, metrics ForecastMetrics) {
	span.SetAttributes(
		attribute.Int("history_days", metrics.HistoryDays),
		attribute.Int("forecast_points", metrics.ForecastPoints),
		attribute.Bool("seasonal", metrics.Seasonal),
		attribute.Float64("mape", metrics.MAPE),
		attribute.Int64("processing_time_ms", metrics.ProcessingTime.Milliseconds()),
	)
}

// TraceChurnScoring starts a span for tracing a churn scoring batch.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - tenantID: The tenant being scored.
//   - customerCount: The number of customers in the batch.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceChurnScoring(ctx context.Context, tenantID string, customerCount int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "churn_scoring",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.Int("customer_count", customerCount),
		),
	)
}

// RecordChurnMetrics records churn scoring statistics onto a span.
//
// Parameters:
//   - span: The span to update.
//   - metrics: The scoring metrics to record.
func (bt *BusinessTracer) RecordChurnMetrics(span trace.Span, metrics ChurnMetrics) {
	span.SetAttributes(
		attribute.Int("scored_count", metrics.ScoredCount),
		attribute.Int("critical_count", metrics.CriticalCount),
		attribute.Int("high_count", metrics.HighCount),
		attribute.Float64("average_probability", metrics.AverageProbability),
		attribute.Int64("processing_time_ms", metrics.ProcessingTime.Milliseconds()),
	)
}

// TraceSegmentation starts a span for tracing a customer segmentation run.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - tenantID: The tenant being segmented.
//   - clusterCount: The requested number of clusters.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceSegmentation(ctx context.Context, tenantID string, clusterCount int) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "customer_segmentation",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.Int("cluster_count", clusterCount),
		),
	)
}

// RecordSegmentationMetrics records clustering statistics onto a span.
//
// Parameters:
//   - span: The span to update.
//   - metrics: The segmentation metrics to record.
func (bt *BusinessTracer) RecordSegmentationMetrics(span trace.Span, metrics SegmentationMetrics) {
	span.SetAttributes(
		attribute.Int("customer_count", metrics.CustomerCount),
		attribute.Int("iterations", metrics.Iterations),
		attribute.Bool("converged", metrics.Converged),
		attribute.Int64("processing_time_ms", metrics.ProcessingTime.Milliseconds()),
	)
}

// TraceRecommendation starts a span for tracing recommendation generation.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - tenantID: The tenant the customer belongs to.
//   - customerID: The customer recommendations are generated for.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceRecommendation(ctx context.Context, tenantID string, customerID string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "recommendation",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("customer_id", customerID),
		),
	)
}

// RecordRecommendationMetrics records recommendation outcomes onto a span.
//
// Parameters:
//   - span: The span to update.
//   - metrics: The recommendation metrics to record.
func (bt *BusinessTracer) RecordRecommendationMetrics(span trace.Span, metrics RecommendationMetrics) {
	span.SetAttributes(
		attribute.Int("candidate_count", metrics.CandidateCount),
		attribute.Int("returned_count", metrics.ReturnedCount),
		attribute.Float64("top_score", metrics.TopScore),
		attribute.Int64("processing_time_ms", metrics.ProcessingTime.Milliseconds()),
	)
}

// TraceQueryPipeline starts a span for tracing a natural-language query.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - tenantID: The tenant issuing the query.
//   - queryType: The classified query type, if already known.
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceQueryPipeline(ctx context.Context, tenantID string, queryType string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "nl_query",
		trace.WithAttributes(
			attribute.String("tenant_id", tenantID),
			attribute.String("query_type", queryType),
		),
	)
}

// RecordQueryMetrics records query pipeline outcomes onto a span.
//
// Parameters:
//   - span: The span to update.
//   - metrics: The query metrics to record.
func (bt *BusinessTracer) RecordQueryMetrics(span trace.Span, metrics QueryMetrics) {
	span.SetAttributes(
		attribute.Float64("confidence", metrics.Confidence),
		attribute.Int("row_count", metrics.RowCount),
		attribute.Bool("cached", metrics.Cached),
		attribute.Int64("processing_time_ms", metrics.ProcessingTime.Milliseconds()),
	)
}

// TraceNotification starts a span for tracing notification delivery.
//
// Parameters:
//   - ctx: The context to attach the span to.
//   - notificationType: The type of notification being sent.
//   - channel: The delivery channel (e.g., "telegram", "email").
//
// Returns:
//   - A context containing the new span.
//   - The created span.
func (bt *BusinessTracer) TraceNotification(ctx context.Context, notificationType string, channel string) (context.Context, trace.Span) {
	return bt.tracer.Start(ctx, "notification",
		trace.WithAttributes(
			attribute.String("notification_type", notificationType),
			attribute.String("channel", channel),
		),
	)
}

// RecordNotificationResult records the outcome of a notification attempt onto a span.
//
// Parameters:
//   - span: The span to update.
//   - success: Whether the notification was sent successfully.
//   - recipientCount: The number of recipients.
//   - err: Any error that occurred during sending.
func (bt *BusinessTracer) RecordNotificationResult(span trace.Span, success bool, recipientCount int, err error) {
	span.SetAttributes(
		attribute.Bool("success", success),
		attribute.Int("recipient_count", recipientCount),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
}

// ForecastMetrics defines the structure for tracking forecast run statistics in telemetry.
type ForecastMetrics struct {
	HistoryDays    int
	ForecastPoints int
	Seasonal       bool
	MAPE           float64
	ProcessingTime time.Duration
}

// ChurnMetrics defines the structure for tracking churn scoring statistics in telemetry.
type ChurnMetrics struct {
	ScoredCount        int
	CriticalCount      int
	HighCount          int
	AverageProbability float64
	ProcessingTime     time.Duration
}

// SegmentationMetrics defines the structure for tracking segmentation runs in telemetry.
type SegmentationMetrics struct {
	CustomerCount  int
	Iterations     int
	Converged      bool
	ProcessingTime time.Duration
}

// RecommendationMetrics defines the structure for tracking recommendation outcomes in telemetry.
type RecommendationMetrics struct {
	CandidateCount int
	ReturnedCount  int
	TopScore       float64
	ProcessingTime time.Duration
}

// QueryMetrics defines the structure for tracking natural-language query outcomes in telemetry.
type QueryMetrics struct {
	Confidence     float64
	RowCount       int
	Cached         bool
	ProcessingTime time.Duration
}
