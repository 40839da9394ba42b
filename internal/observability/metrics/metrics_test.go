package metrics

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("endpoint", "/api/v1/reconciliation/upload"),
		attribute.String("client_ip", "10.0.0.8"),
		attribute.String("reason", "too_large"),
	)
	if len(attrs) != 2 {
		t.Fatalf("expected 2 attributes, got %d", len(attrs))
	}
	for _, attr := range attrs {
		if attr.Key == "client_ip" {
			t.Fatal("client_ip must not reach the exporter")
		}
	}
}

func TestFilterAttributesDropsEmptyValues(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("reason", "  "),
		attribute.String("endpoint", ""),
		attribute.String("disposition", "skipped"),
	)
	if len(attrs) != 1 {
		t.Fatalf("expected 1 attribute, got %d", len(attrs))
	}
	if attrs[0].Key != "disposition" {
		t.Fatalf("expected disposition to survive, got %q", attrs[0].Key)
	}
}
