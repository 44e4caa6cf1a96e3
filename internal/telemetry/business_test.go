package telemetry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// newRecordingBusinessTracer installs a span recorder as the global
// provider so tests can inspect what the tracer emits.
func newRecordingBusinessTracer(t *testing.T) (*BusinessTracer, *tracetest.SpanRecorder) {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return NewBusinessTracer(), recorder
}

func spanAttrs(span sdktrace.ReadOnlySpan) map[attribute.Key]attribute.Value {
	out := make(map[attribute.Key]attribute.Value, len(span.Attributes()))
	for _, kv := range span.Attributes() {
		out[kv.Key] = kv.Value
	}
	return out
}

func endedSpan(t *testing.T, recorder *tracetest.SpanRecorder) sdktrace.ReadOnlySpan {
	t.Helper()
	spans := recorder.Ended()
	require.Len(t, spans, 1)
	return spans[0]
}

func TestNewBusinessTracer(t *testing.T) {
	bt := NewBusinessTracer()
	require.NotNil(t, bt)
	require.NotNil(t, bt.tracer)
}

func TestBusinessTracer_TraceForecast(t *testing.T) {
	bt, recorder := newRecordingBusinessTracer(t)

	ctx, span := bt.TraceForecast(context.Background(), "tenant-1", 30)
	require.NotNil(t, ctx)
	require.NotNil(t, span)

	bt.RecordForecastMetrics(span, ForecastMetrics{
		HistoryDays:    365,
		ForecastPoints: 30,
		Seasonal:       true,
		MAPE:           4.2,
		ProcessingTime: 120 * time.Millisecond,
	})
	span.End()

	ended := endedSpan(t, recorder)
	assert.Equal(t, "revenue_forecast", ended.Name())

	attrs := spanAttrs(ended)
	assert.Equal(t, "tenant-1", attrs["tenant_id"].AsString())
	assert.Equal(t, int64(30), attrs["horizon_days"].AsInt64())
	assert.Equal(t, int64(365), attrs["history_days"].AsInt64())
	assert.True(t, attrs["seasonal"].AsBool())
	assert.Equal(t, 4.2, attrs["mape"].AsFloat64())
	assert.Equal(t, int64(120), attrs["processing_time_ms"].AsInt64())
}

func TestBusinessTracer_TraceChurnScoring(t *testing.T) {
	bt, recorder := newRecordingBusinessTracer(t)

	_, span := bt.TraceChurnScoring(context.Background(), "tenant-1", 250)
	bt.RecordChurnMetrics(span, ChurnMetrics{
		ScoredCount:        250,
		CriticalCount:      12,
		HighCount:          34,
		AverageProbability: 0.31,
		ProcessingTime:     80 * time.Millisecond,
	})
	span.End()

	ended := endedSpan(t, recorder)
	assert.Equal(t, "churn_scoring", ended.Name())

	attrs := spanAttrs(ended)
	assert.Equal(t, int64(250), attrs["customer_count"].AsInt64())
	assert.Equal(t, int64(12), attrs["critical_count"].AsInt64())
	assert.Equal(t, int64(34), attrs["high_count"].AsInt64())
	assert.Equal(t, 0.31, attrs["average_probability"].AsFloat64())
}

func TestBusinessTracer_TraceSegmentation(t *testing.T) {
	bt, recorder := newRecordingBusinessTracer(t)

	_, span := bt.TraceSegmentation(context.Background(), "tenant-1", 4)
	bt.RecordSegmentationMetrics(span, SegmentationMetrics{
		CustomerCount:  500,
		Iterations:     17,
		Converged:      true,
		ProcessingTime: 200 * time.Millisecond,
	})
	span.End()

	ended := endedSpan(t, recorder)
	assert.Equal(t, "customer_segmentation", ended.Name())

	attrs := spanAttrs(ended)
	assert.Equal(t, int64(4), attrs["cluster_count"].AsInt64())
	assert.Equal(t, int64(17), attrs["iterations"].AsInt64())
	assert.True(t, attrs["converged"].AsBool())
}

func TestBusinessTracer_TraceRecommendation(t *testing.T) {
	bt, recorder := newRecordingBusinessTracer(t)

	_, span := bt.TraceRecommendation(context.Background(), "tenant-1", "cust-9")
	bt.RecordRecommendationMetrics(span, RecommendationMetrics{
		CandidateCount: 40,
		ReturnedCount:  5,
		TopScore:       0.87,
		ProcessingTime: 15 * time.Millisecond,
	})
	span.End()

	ended := endedSpan(t, recorder)
	assert.Equal(t, "recommendation", ended.Name())

	attrs := spanAttrs(ended)
	assert.Equal(t, "cust-9", attrs["customer_id"].AsString())
	assert.Equal(t, int64(40), attrs["candidate_count"].AsInt64())
	assert.Equal(t, int64(5), attrs["returned_count"].AsInt64())
	assert.Equal(t, 0.87, attrs["top_score"].AsFloat64())
}

func TestBusinessTracer_TraceQueryPipeline(t *testing.T) {
	bt, recorder := newRecordingBusinessTracer(t)

	_, span := bt.TraceQueryPipeline(context.Background(), "tenant-1", "leads")
	bt.RecordQueryMetrics(span, QueryMetrics{
		Confidence:     0.85,
		RowCount:       48,
		Cached:         false,
		ProcessingTime: 32 * time.Millisecond,
	})
	span.End()

	ended := endedSpan(t, recorder)
	assert.Equal(t, "nl_query", ended.Name())

	attrs := spanAttrs(ended)
	assert.Equal(t, "leads", attrs["query_type"].AsString())
	assert.Equal(t, 0.85, attrs["confidence"].AsFloat64())
	assert.Equal(t, int64(48), attrs["row_count"].AsInt64())
	assert.False(t, attrs["cached"].AsBool())
}

func TestBusinessTracer_TraceNotification(t *testing.T) {
	bt, recorder := newRecordingBusinessTracer(t)

	_, span := bt.TraceNotification(context.Background(), "churn_digest", "telegram")
	bt.RecordNotificationResult(span, true, 3, nil)
	span.End()

	ended := endedSpan(t, recorder)
	assert.Equal(t, "notification", ended.Name())
	assert.Equal(t, codes.Ok, ended.Status().Code)

	attrs := spanAttrs(ended)
	assert.Equal(t, "churn_digest", attrs["notification_type"].AsString())
	assert.Equal(t, "telegram", attrs["channel"].AsString())
	assert.True(t, attrs["success"].AsBool())
	assert.Equal(t, int64(3), attrs["recipient_count"].AsInt64())
}

func TestBusinessTracer_RecordNotificationResultError(t *testing.T) {
	bt, recorder := newRecordingBusinessTracer(t)

	_, span := bt.TraceNotification(context.Background(), "forecast_digest", "telegram")
	bt.RecordNotificationResult(span, false, 0, errors.New("chat not found"))
	span.End()

	ended := endedSpan(t, recorder)
	assert.Equal(t, codes.Error, ended.Status().Code)
	assert.Equal(t, "chat not found", ended.Status().Description)
	require.NotEmpty(t, ended.Events())
	assert.Equal(t, "exception", ended.Events()[0].Name)
}

func TestBusinessTracer_ContextCancellation(t *testing.T) {
	bt, recorder := newRecordingBusinessTracer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// Starting a span on a cancelled context must not panic.
	_, span := bt.TraceForecast(ctx, "tenant-1", 7)
	require.NotNil(t, span)
	span.End()

	assert.Len(t, recorder.Ended(), 1)
}
