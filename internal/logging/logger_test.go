package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	otellog "go.opentelemetry.io/otel/log"
)

// captureLogger returns a StandardLogger writing JSON into buf.
func captureLogger(buf *bytes.Buffer) *StandardLogger {
	logger := slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	std := &StandardLogger{}
	std.SetLogger(&slogLogger{logger: logger})
	return std
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]interface{} {
	t.Helper()
	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestStandardLogger_ContextMethods(t *testing.T) {
	tests := []struct {
		name     string
		log      func(l *StandardLogger)
		wantKey  string
		wantVal  string
	}{
		{
			name:    "service",
			log:     func(l *StandardLogger) { l.WithService("crm-ai").Info("msg") },
			wantKey: "service",
			wantVal: "crm-ai",
		},
		{
			name:    "component",
			log:     func(l *StandardLogger) { l.WithComponent("forecast").Info("msg") },
			wantKey: "component",
			wantVal: "forecast",
		},
		{
			name:    "operation",
			log:     func(l *StandardLogger) { l.WithOperation("score").Info("msg") },
			wantKey: "operation",
			wantVal: "score",
		},
		{
			name:    "request id",
			log:     func(l *StandardLogger) { l.WithRequestID("req-42").Info("msg") },
			wantKey: "request_id",
			wantVal: "req-42",
		},
		{
			name:    "tenant id",
			log:     func(l *StandardLogger) { l.WithTenantID("tenant-1").Info("msg") },
			wantKey: "tenant_id",
			wantVal: "tenant-1",
		},
		{
			name:    "customer id",
			log:     func(l *StandardLogger) { l.WithCustomerID("cust-7").Info("msg") },
			wantKey: "customer_id",
			wantVal: "cust-7",
		},
		{
			name:    "error",
			log:     func(l *StandardLogger) { l.WithError(errors.New("boom")).Error("msg") },
			wantKey: "error",
			wantVal: "boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			tt.log(captureLogger(&buf))
			entry := decodeLine(t, &buf)
			assert.Equal(t, tt.wantVal, entry[tt.wantKey])
		})
	}
}

func TestStandardLogger_LogStartupAndShutdown(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	logger.LogStartup("crm-ai", "1.2.0", 8080)
	entry := decodeLine(t, &buf)
	assert.Equal(t, "startup", entry["event"])
	assert.Equal(t, "crm-ai", entry["service"])
	assert.Equal(t, "1.2.0", entry["version"])
	assert.Equal(t, float64(8080), entry["port"])

	buf.Reset()
	logger.LogShutdown("crm-ai", "signal: interrupt")
	entry = decodeLine(t, &buf)
	assert.Equal(t, "shutdown", entry["event"])
	assert.Equal(t, "signal: interrupt", entry["reason"])
}

func TestStandardLogger_LogEngineRun(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	logger.LogEngineRun("churn", map[string]interface{}{
		"customers": 250,
		"tier":      "critical",
	})

	entry := decodeLine(t, &buf)
	assert.Equal(t, "engine_run", entry["event"])
	assert.Equal(t, "churn", entry["engine"])
	details, ok := entry["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, float64(250), details["customers"])
}

func TestStandardLogger_LogCacheOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	logger.LogCacheOperation("get", "forecast:tenant-1:a1b2", true, 3)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "cache", entry["event"])
	assert.Equal(t, "get", entry["operation"])
	assert.Equal(t, "forecast:tenant-1:a1b2", entry["key"])
	assert.Equal(t, true, entry["hit"])
	assert.Equal(t, float64(3), entry["duration_ms"])
}

func TestStandardLogger_LogDatabaseOperation(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	logger.LogDatabaseOperation("select", "bookings", 12, 48)

	entry := decodeLine(t, &buf)
	assert.Equal(t, "database", entry["event"])
	assert.Equal(t, "bookings", entry["table"])
	assert.Equal(t, float64(48), entry["rows_affected"])
}

func TestStandardLogger_LogAPIRequest(t *testing.T) {
	var buf bytes.Buffer
	logger := captureLogger(&buf)

	logger.LogAPIRequest("POST", "/api/v1/query", 200, 87, "tenant-1")

	entry := decodeLine(t, &buf)
	assert.Equal(t, "api", entry["event"])
	assert.Equal(t, "POST", entry["method"])
	assert.Equal(t, "/api/v1/query", entry["path"])
	assert.Equal(t, float64(200), entry["status"])
	assert.Equal(t, "tenant-1", entry["tenant_id"])
}

func TestNewStandardLogger_RespectsLevel(t *testing.T) {
	logger := NewStandardLogger("error", "test")
	require.NotNil(t, logger)
	assert.False(t, logger.Logger().Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, logger.Logger().Enabled(context.Background(), slog.LevelError))
}

func TestNewStandardOTLPLogger_DisabledFallsBack(t *testing.T) {
	logger := NewStandardOTLPLogger(OTLPConfig{
		Enabled:     false,
		ServiceName: "crm-ai",
		LogLevel:    "info",
	})
	require.NotNil(t, logger)
	require.NotNil(t, logger.Logger())

	// Must not panic without an exporter behind it.
	logger.LogStartup("crm-ai", "dev", 8080)
	logger.WithTenantID("tenant-1").Info("msg")
}

func TestGetSlogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"DEBUG", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, getSlogLevel(tt.input), "level %q", tt.input)
	}
}

func TestParseLogrusLevel(t *testing.T) {
	tests := []struct {
		input string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"warn", logrus.WarnLevel},
		{"warning", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"info", logrus.InfoLevel},
		{"nonsense", logrus.InfoLevel},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLogrusLevel(tt.input), "level %q", tt.input)
	}
}

// recordingOTelLogger captures emitted OTLP records.
type recordingOTelLogger struct {
	otellog.Logger
	records []otellog.Record
}

func (r *recordingOTelLogger) Emit(_ context.Context, record otellog.Record) {
	r.records = append(r.records, record)
}

func (r *recordingOTelLogger) Enabled(context.Context, otellog.EnabledParameters) bool {
	return true
}

func TestOTLPHandler_EmitsRecord(t *testing.T) {
	recorder := &recordingOTelLogger{}
	handler := NewOTLPHandler(recorder)

	record := slog.NewRecord(time.Now(), slog.LevelWarn, "cache degraded", 0)
	record.AddAttrs(slog.String("tenant_id", "tenant-1"))

	require.NoError(t, handler.Handle(context.Background(), record))
	require.Len(t, recorder.records, 1)

	emitted := recorder.records[0]
	assert.Equal(t, "cache degraded", emitted.Body().AsString())
	assert.Equal(t, otellog.SeverityWarn, emitted.Severity())

	found := false
	emitted.WalkAttributes(func(kv otellog.KeyValue) bool {
		if kv.Key == "tenant_id" && kv.Value.AsString() == "tenant-1" {
			found = true
		}
		return true
	})
	assert.True(t, found, "tenant_id attribute should survive the bridge")
}

func TestConvertSlogLevelToSeverity(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  otellog.Severity
	}{
		{slog.LevelDebug, otellog.SeverityDebug},
		{slog.LevelInfo, otellog.SeverityInfo},
		{slog.LevelWarn, otellog.SeverityWarn},
		{slog.LevelError, otellog.SeverityError},
		{slog.Level(42), otellog.SeverityInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, convertSlogLevelToSeverity(tt.level))
	}
}
