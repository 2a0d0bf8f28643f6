package tracing

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
)

// WrapHTTPClient returns a copy of client whose requests open client spans
// and carry trace headers. Use it only for calls to our own infrastructure.
func WrapHTTPClient(client *http.Client) *http.Client {
	return wrap(client)
}

// WrapExternalHTTPClient is WrapHTTPClient without header propagation.
// Push services and other third parties never see our trace context.
func WrapExternalHTTPClient(client *http.Client) *http.Client {
	return wrap(client, otelhttp.WithPropagators(propagation.NewCompositeTextMapPropagator()))
}

func wrap(client *http.Client, opts ...otelhttp.Option) *http.Client {
	if client == nil {
		client = &http.Client{}
	}
	base := client.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	opts = append([]otelhttp.Option{
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return "HTTP " + r.Method
		}),
	}, opts...)

	wrapped := *client
	wrapped.Transport = otelhttp.NewTransport(base, opts...)
	return &wrapped
}
