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

// Metrics exposes application-level instruments.
type Metrics struct {
	paymentCallbacks metric.Int64Counter
	ledgerEvents     metric.Int64Counter
	fulfillments     metric.Int64Counter
	expiredPayments  metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "paysettle"
	}
	meter := provider.Meter(name)

	paymentCallbacks, err := meter.Int64Counter("paysettle_payment_callbacks_total")
	if err != nil {
		return nil, err
	}
	ledgerEvents, err := meter.Int64Counter("paysettle_payment_events_total")
	if err != nil {
		return nil, err
	}
	fulfillments, err := meter.Int64Counter("paysettle_fulfillment_total")
	if err != nil {
		return nil, err
	}
	expiredPayments, err := meter.Int64Counter("paysettle_expired_payments_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		paymentCallbacks: paymentCallbacks,
		ledgerEvents:     ledgerEvents,
		fulfillments:     fulfillments,
		expiredPayments:  expiredPayments,
	}, nil
}

// RecordCallback counts inbound gateway callbacks by outcome.
func (m *Metrics) RecordCallback(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.paymentCallbacks.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments audit event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("event_type", strings.TrimSpace(eventType)))
	m.ledgerEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordFulfillment counts dispatcher outcomes.
func (m *Metrics) RecordFulfillment(ctx context.Context, mode, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("mode", strings.TrimSpace(mode)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.fulfillments.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordExpired adds the number of payments moved to expired by a sweep.
func (m *Metrics) RecordExpired(ctx context.Context, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.expiredPayments.Add(ctx, int64(count))
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
	"event_type":   {},
	"payable_type": {},
	"mode":         {},
	"reason":       {},
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
