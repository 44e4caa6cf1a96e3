package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Service information
	ServiceName    = "crm-ai"
	ServiceVersion = "1.0.0"
)

var (
	globalProvider *Provider
	globalLogger   *slog.Logger
)

// TelemetryConfig holds configuration for tracing
type TelemetryConfig struct {
	Enabled        bool
	OTLPEndpoint   string
	ServiceName    string
	ServiceVersion string
	Environment    string
	SampleRate     float64
	BatchTimeout   time.Duration
	MaxExportBatch int
	MaxQueueSize   int
	LogLevel       string
}

// DefaultConfig returns default telemetry configuration
func DefaultConfig() *TelemetryConfig {
	return &TelemetryConfig{
		Enabled:        true,
		OTLPEndpoint:   "http://localhost:4318",
		ServiceName:    ServiceName,
		ServiceVersion: ServiceVersion,
		Environment:    "development",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		MaxExportBatch: 512,
		MaxQueueSize:   2048,
		LogLevel:       "info",
	}
}

// Provider holds the telemetry provider
type Provider struct {
	Shutdown func(context.Context) error
	logger   *slog.Logger
}

// normalizeOTLPEndpoint splits a base OTLP URL into the pieces the HTTP
// exporter wants. The scheme decides transport security; the traces path
// is appended when the URL does not already end in it.
func normalizeOTLPEndpoint(raw string) (hostport string, urlPath string, insecure bool, resolved string, err error) {
	parsed, err := url.Parse(raw)
	if err != nil || parsed.Host == "" {
		return "", "", false, "", fmt.Errorf("endpoint must be a base URL like http://host:4318, got %q", raw)
	}

	switch parsed.Scheme {
	case "http":
		insecure = true
	case "https":
		insecure = false
	default:
		return "", "", false, "", fmt.Errorf("endpoint scheme must be http or https, got %q", parsed.Scheme)
	}

	urlPath = strings.TrimSuffix(parsed.Path, "/")
	if !strings.HasSuffix(urlPath, "/v1/traces") {
		urlPath += "/v1/traces"
	}

	return parsed.Host, urlPath, insecure, parsed.Scheme + "://" + parsed.Host + urlPath, nil
}

// InitTelemetryWithProvider builds a tracer provider and installs it
// globally. With an empty endpoint spans are pretty-printed to stdout,
// which is what local development wants; otherwise they are shipped over
// OTLP/HTTP.
func InitTelemetryWithProvider(ctx context.Context, config *TelemetryConfig, logger *slog.Logger) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if !config.Enabled {
		return &Provider{
			Shutdown: func(context.Context) error { return nil },
			logger:   logger,
		}, nil
	}

	serviceName := config.ServiceName
	if serviceName == "" {
		serviceName = ServiceName
	}
	serviceVersion := config.ServiceVersion
	if serviceVersion == "" {
		serviceVersion = ServiceVersion
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create telemetry resource: %w", err)
	}

	var exporter sdktrace.SpanExporter
	if config.OTLPEndpoint == "" {
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("failed to create stdout exporter: %w", err)
		}
	} else {
		hostport, urlPath, insecure, _, normErr := normalizeOTLPEndpoint(config.OTLPEndpoint)
		if normErr != nil {
			return nil, fmt.Errorf("invalid OTLPEndpoint: %w", normErr)
		}
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(hostport),
			otlptracehttp.WithURLPath(urlPath),
		}
		if insecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		exporter, err = otlptracehttp.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
		}
	}

	sampleRate := config.SampleRate
	if sampleRate <= 0 {
		sampleRate = 1.0
	}

	batchOpts := []sdktrace.BatchSpanProcessorOption{}
	if config.BatchTimeout > 0 {
		batchOpts = append(batchOpts, sdktrace.WithBatchTimeout(config.BatchTimeout))
	}
	if config.MaxExportBatch > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxExportBatchSize(config.MaxExportBatch))
	}
	if config.MaxQueueSize > 0 {
		batchOpts = append(batchOpts, sdktrace.WithMaxQueueSize(config.MaxQueueSize))
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter, batchOpts...),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(sampleRate))),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	provider := &Provider{Shutdown: tp.Shutdown, logger: logger}
	globalProvider = provider
	globalLogger = logger
	return provider, nil
}

// InitTelemetry initializes the global tracer provider
func InitTelemetry(config TelemetryConfig) error {
	if !config.Enabled {
		return nil
	}
	_, err := InitTelemetryWithProvider(context.Background(), &config, slog.Default())
	return err
}

// Shutdown shuts down the global telemetry provider
func Shutdown() error {
	if globalProvider == nil || globalProvider.Shutdown == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := globalProvider.Shutdown(ctx)
	globalProvider = nil
	return err
}

// Logger returns the global slog.Logger instance for application logging
func Logger() *slog.Logger {
	if globalLogger != nil {
		return globalLogger
	}
	return slog.Default()
}

// GetLogger returns the logger installed by telemetry init, or nil when
// telemetry has not been initialized
func GetLogger() *slog.Logger {
	return globalLogger
}

// GetTracer returns a named tracer from the global provider
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

// GetHTTPTracer returns the tracer for inbound HTTP handling
func GetHTTPTracer() trace.Tracer {
	return GetTracer("crm-ai/http")
}

// GetDatabaseTracer returns the tracer for repository operations
func GetDatabaseTracer() trace.Tracer {
	return GetTracer("crm-ai/database")
}

// GetBusinessTracer returns the tracer for analytics operations
func GetBusinessTracer() trace.Tracer {
	return GetTracer("crm-ai/business")
}

// GetCacheTracer returns the tracer for cache operations
func GetCacheTracer() trace.Tracer {
	return GetTracer("crm-ai/cache")
}

// GetExternalTracer returns the tracer for outbound calls such as
// Telegram delivery
func GetExternalTracer() trace.Tracer {
	return GetTracer("crm-ai/external")
}

// GetEngineTracer returns the tracer for analytics engine runs
func GetEngineTracer() trace.Tracer {
	return GetTracer("crm-ai/engine")
}

// StartSpan starts a span on the given tracer
func StartSpan(ctx context.Context, tracer trace.Tracer, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, opts...)
}

// SetSpanAttributes sets attributes on a span
func SetSpanAttributes(span trace.Span, attrs ...attribute.KeyValue) {
	span.SetAttributes(attrs...)
}

// RecordError records an error on a span
func RecordError(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
	}
}

// SetSpanStatus sets the status of a span
func SetSpanStatus(span trace.Span, code codes.Code, message string) {
	span.SetStatus(code, message)
}

// StringAttribute creates a string attribute
func StringAttribute(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// StringSliceAttribute creates a string slice attribute
func StringSliceAttribute(key string, value []string) attribute.KeyValue {
	return attribute.StringSlice(key, value)
}

// Int64Attribute creates an int64 attribute
func Int64Attribute(key string, value int64) attribute.KeyValue {
	return attribute.Int64(key, value)
}

// Float64Attribute creates a float64 attribute
func Float64Attribute(key string, value float64) attribute.KeyValue {
	return attribute.Float64(key, value)
}

// BoolAttribute creates a bool attribute
func BoolAttribute(key string, value bool) attribute.KeyValue {
	return attribute.Bool(key, value)
}
