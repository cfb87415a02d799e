package metrics

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("event_type", "status_transition"),
		attribute.String("payment_reference", "PAY-123"),
		attribute.String("mode", "attachments"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "payment_reference" {
			t.Fatalf("expected payment_reference to be dropped")
		}
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	ctx := context.Background()
	m.RecordCallback(ctx, "acknowledged")
	m.RecordPaymentEvent(ctx, "status_transition")
	m.RecordFulfillment(ctx, "attachments", "delivered")
	m.RecordExpired(ctx, 3)
}

func TestNewWithNoopProvider(t *testing.T) {
	m, err := New(Config{}, noop.NewMeterProvider())
	if err != nil {
		t.Fatalf("new metrics: %v", err)
	}
	m.RecordCallback(context.Background(), "acknowledged")
}
