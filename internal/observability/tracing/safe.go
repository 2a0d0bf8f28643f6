package tracing

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
)

var allowedSpanKeys = map[attribute.Key]struct{}{
	"http.method":             {},
	"http.route":              {},
	"http.status_code":        {},
	"http.server_duration_ms": {},
	"http.url.host":           {},
	"request_id":              {},
	"tenant_id":               {},
	"actor_type":              {},
	"event_id":                {},
	"event.duplicate":         {},
	"job_id":                  {},
	"channel":                 {},
	"provider":                {},
}

// SafeAttributes drops attributes that could leak credentials or payloads.
func SafeAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	out := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedSpanKeys[attr.Key]; !ok {
			continue
		}
		out = append(out, attr)
	}
	return out
}

// SafeError returns an error whose message is stripped of anything that
// looks like a credential.
func SafeError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	for _, marker := range []string{"fin_", "Bearer ", "secret=", "x-agent-secret"} {
		if idx := strings.Index(msg, marker); idx >= 0 {
			msg = msg[:idx] + "[redacted]"
		}
	}
	return errors.New(msg)
}

// ExtractContext reads incoming trace headers into ctx.
func ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return otel.GetTextMapPropagator().Extract(ctx, carrier)
}
