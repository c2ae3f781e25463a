// Package telemetry wires OpenTelemetry tracing and metrics for the service.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/aqms/aqms"

type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// OTLPEndpoint is a gRPC collector address. Empty disables export.
	OTLPEndpoint    string
	SampleRate      float64
	MetricsInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "aqms-server"
	}
	if c.SampleRate <= 0 || c.SampleRate > 1 {
		c.SampleRate = 1
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 30 * time.Second
	}
}

// Setup installs global trace and meter providers exporting over OTLP gRPC.
// Without an endpoint the global no-op providers stay in place.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	cfg.applyDefaults()
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	traceExporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create trace exporter: %w", err)
	}
	tracerProvider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRate))),
	)
	otel.SetTracerProvider(tracerProvider)

	metricExporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		_ = tracerProvider.Shutdown(ctx)
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	meterProvider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter, sdkmetric.WithInterval(cfg.MetricsInterval))),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(meterProvider)

	return func(ctx context.Context) error {
		return errors.Join(tracerProvider.Shutdown(ctx), meterProvider.Shutdown(ctx))
	}, nil
}

// Metrics holds the domain counters. A nil *Metrics records nothing.
type Metrics struct {
	bookings        metric.Int64Counter
	queueCalls      metric.Int64Counter
	slotsGenerated  metric.Int64Counter
	noShowsSwept    metric.Int64Counter
	requestDuration metric.Float64Histogram
}

// NewMetrics registers the counters on the global meter provider.
func NewMetrics() (*Metrics, error) {
	return NewMetricsWith(otel.Meter(instrumentationName))
}

func NewMetricsWith(meter metric.Meter) (*Metrics, error) {
	var m Metrics
	var err error
	if m.bookings, err = meter.Int64Counter("aqms.slot.bookings",
		metric.WithDescription("Slot booking attempts by result")); err != nil {
		return nil, err
	}
	if m.queueCalls, err = meter.Int64Counter("aqms.queue.calls",
		metric.WithDescription("Call-next attempts by result")); err != nil {
		return nil, err
	}
	if m.slotsGenerated, err = meter.Int64Counter("aqms.slot.generated",
		metric.WithDescription("Slots materialized by generation runs")); err != nil {
		return nil, err
	}
	if m.noShowsSwept, err = meter.Int64Counter("aqms.slot.noshow_swept",
		metric.WithDescription("Booked slots marked no-show by the sweep")); err != nil {
		return nil, err
	}
	if m.requestDuration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("HTTP request duration"), metric.WithUnit("ms")); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Metrics) Booking(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.bookings.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) QueueCall(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.queueCalls.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (m *Metrics) SlotsGenerated(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.slotsGenerated.Add(ctx, int64(n))
}

func (m *Metrics) NoShowsSwept(ctx context.Context, n int) {
	if m == nil || n == 0 {
		return
	}
	m.noShowsSwept.Add(ctx, int64(n))
}

// StartSpan starts an internal span on the global tracer.
func StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return otel.Tracer(instrumentationName).Start(ctx, name, trace.WithAttributes(attrs...))
}

// EndSpan records err on span, if any, and ends it.
func EndSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// Middleware opens a server span per request, continuing any incoming trace
// context, and records request latency.
func Middleware(m *Metrics) echo.MiddlewareFunc {
	tracer := otel.Tracer(instrumentationName)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			ctx, span := tracer.Start(ctx, req.Method+" "+c.Path(), trace.WithSpanKind(trace.SpanKindServer))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			attrs := []attribute.KeyValue{
				attribute.String("http.method", req.Method),
				attribute.String("http.route", c.Path()),
				attribute.Int("http.status_code", status),
			}
			span.SetAttributes(attrs...)
			if status >= 500 {
				span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
			}
			if m != nil {
				m.requestDuration.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attrs...))
			}
			return err
		}
	}
}
