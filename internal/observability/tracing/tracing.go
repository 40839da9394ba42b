package tracing

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

const maxRecordedErrorLen = 256

// ExtractContext restores remote trace state from carrier headers.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	return propagator().Extract(ctx, carrier)
}

// InjectContext writes the current trace state into carrier headers.
func InjectContext(ctx context.Context, carrier propagation.TextMapCarrier) {
	propagator().Inject(ctx, carrier)
}

func propagator() propagation.TextMapPropagator {
	if p := otel.GetTextMapPropagator(); p != nil {
		return p
	}
	return propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{})
}

// SafeAttributes drops attributes with empty values before they reach a span.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if attr.Value.Type() == attribute.STRING && strings.TrimSpace(attr.Value.AsString()) == "" {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error safe to record on a span: the message is trimmed
// and truncated so raw payload fragments do not leak into traces.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		return nil
	}
	if len(msg) > maxRecordedErrorLen {
		msg = msg[:maxRecordedErrorLen]
	}
	return errors.New(msg)
}

type propagatingTransport struct {
	base http.RoundTripper
}

func (t *propagatingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	InjectContext(clone.Context(), propagation.HeaderCarrier(clone.Header))
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}

// WrapHTTPClient returns a client that propagates trace headers on outbound requests.
func WrapHTTPClient(client *http.Client) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	wrapped := *client
	wrapped.Transport = &propagatingTransport{base: client.Transport}
	return &wrapped
}
