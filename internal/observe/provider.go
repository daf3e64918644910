package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
)

// GuildIDKey is the resource attribute naming the Discord guild a scryer
// instance records in. One bot serves one guild, so it identifies the
// instance on a shared dashboard.
const GuildIDKey = attribute.Key("discord.guild.id")

// ProviderConfig configures the OpenTelemetry SDK providers.
type ProviderConfig struct {
	// ServiceName is the service name reported in telemetry. Default: "scryer".
	ServiceName string

	// ServiceVersion is the build version reported in telemetry.
	ServiceVersion string

	// GuildID is the configured Discord guild. Empty omits the attribute.
	GuildID string

	// Reader replaces the Prometheus exporter as the metric reader. Tests set
	// a ManualReader here.
	Reader sdkmetric.Reader

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded for log correlation but not exported.
	TraceExporter sdktrace.SpanExporter
}

// httpBuckets cover the health and metrics endpoints, which answer in
// milliseconds. The SDK default boundaries assume a millisecond unit.
var httpBuckets = []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

// views shapes scryer's instruments for export. Counters keep only their
// documented attributes so a stray attribute cannot blow up the series count.
func views() []sdkmetric.View {
	return []sdkmetric.View{
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "scryer.http.request.duration"},
			sdkmetric.Stream{
				Aggregation:     sdkmetric.AggregationExplicitBucketHistogram{Boundaries: httpBuckets},
				AttributeFilter: attribute.NewAllowKeysFilter("method", "path"),
			},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "scryer.provider.*"},
			sdkmetric.Stream{AttributeFilter: attribute.NewAllowKeysFilter("provider", "kind", "status")},
		),
		sdkmetric.NewView(
			sdkmetric.Instrument{Name: "scryer.recording.*"},
			sdkmetric.Stream{AttributeFilter: attribute.NewAllowKeysFilter("status")},
		),
	}
}

// newResource describes this scryer instance.
func newResource(cfg ProviderConfig) (*resource.Resource, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "scryer"
	}
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	}
	if cfg.GuildID != "" {
		attrs = append(attrs, GuildIDKey.String(cfg.GuildID))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

func newMeterProvider(res *resource.Resource, reader sdkmetric.Reader) *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
		sdkmetric.WithView(views()...),
	)
}

// InitProvider installs the global meter and tracer providers. Metrics go to
// a Prometheus exporter served on /metrics unless cfg.Reader is set.
//
// The returned function flushes and closes both providers.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	res, err := newResource(cfg)
	if err != nil {
		return nil, err
	}

	reader := cfg.Reader
	if reader == nil {
		if reader, err = promexporter.New(); err != nil {
			return nil, err
		}
	}
	mp := newMeterProvider(res, reader)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
