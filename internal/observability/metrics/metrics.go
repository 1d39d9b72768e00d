package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeDuplicate = "duplicate"
	OutcomeInvalid   = "invalid"
	OutcomeRejected  = "rejected"
)

// Metrics exposes the billing mirror's domain instruments.
type Metrics struct {
	webhooksReceived metric.Int64Counter
	eventsProcessed  metric.Int64Counter
	remoteCalls      metric.Int64Counter
	remoteLatency    metric.Float64Histogram
	reconciliations  metric.Int64Counter
	notifications    metric.Int64Counter
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)
	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "billmirror"
	}
	meter := provider.Meter(name)

	webhooksReceived, err := meter.Int64Counter("billmirror_webhooks_received_total")
	if err != nil {
		return nil, err
	}
	eventsProcessed, err := meter.Int64Counter("billmirror_events_processed_total")
	if err != nil {
		return nil, err
	}
	remoteCalls, err := meter.Int64Counter("billmirror_remote_calls_total")
	if err != nil {
		return nil, err
	}
	remoteLatency, err := meter.Float64Histogram("billmirror_remote_call_duration_ms")
	if err != nil {
		return nil, err
	}
	reconciliations, err := meter.Int64Counter("billmirror_reconciliations_total")
	if err != nil {
		return nil, err
	}
	notifications, err := meter.Int64Counter("billmirror_notifications_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		webhooksReceived: webhooksReceived,
		eventsProcessed:  eventsProcessed,
		remoteCalls:      remoteCalls,
		remoteLatency:    remoteLatency,
		reconciliations:  reconciliations,
		notifications:    notifications,
	}, nil
}

func (m *Metrics) RecordWebhook(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.webhooksReceived.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("outcome", outcome),
	)...))
}

// RecordEvent counts dispatched events by kind family, never by full kind.
func (m *Metrics) RecordEvent(ctx context.Context, family, outcome string) {
	if m == nil {
		return
	}
	m.eventsProcessed.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("event_family", strings.TrimSpace(family)),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordRemoteCall(ctx context.Context, operation string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	attrs := metric.WithAttributes(FilterAttributes(
		attribute.String("operation", operation),
		attribute.String("outcome", outcome),
	)...)
	m.remoteCalls.Add(ctx, 1, attrs)
	m.remoteLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
}

func (m *Metrics) RecordReconciliation(ctx context.Context, routine string, err error) {
	if m == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.reconciliations.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("routine", routine),
		attribute.String("outcome", outcome),
	)...))
}

func (m *Metrics) RecordNotification(ctx context.Context, name string) {
	if m == nil {
		return
	}
	m.notifications.Add(ctx, 1, metric.WithAttributes(FilterAttributes(
		attribute.String("notification", name),
	)...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"endpoint":     {},
	"status_code":  {},
	"event_family": {},
	"operation":    {},
	"routine":      {},
	"outcome":      {},
	"notification": {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
