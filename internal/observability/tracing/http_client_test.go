package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	prevProvider := otel.GetTracerProvider()
	prevPropagator := otel.GetTextMapPropagator()
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevProvider)
		otel.SetTextMapPropagator(prevPropagator)
		_ = provider.Shutdown(context.Background())
	})
	return recorder
}

func sendTraced(t *testing.T, client *http.Client) string {
	t.Helper()
	headers := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Get("traceparent")
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(srv.Close)

	ctx, span := otel.Tracer("test").Start(context.Background(), "parent")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/push/abc", nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return <-headers
}

func TestWrapHTTPClientPropagatesTraceContext(t *testing.T) {
	recorder := installTestTracer(t)

	header := sendTraced(t, WrapHTTPClient(&http.Client{}))

	require.NotEmpty(t, header)
	require.NotEmpty(t, recorder.Ended())
	require.Equal(t, "HTTP POST", recorder.Ended()[0].Name())
}

func TestWrapExternalHTTPClientOmitsTraceContext(t *testing.T) {
	recorder := installTestTracer(t)

	header := sendTraced(t, WrapExternalHTTPClient(nil))

	require.Empty(t, header)
	require.NotEmpty(t, recorder.Ended(), "client span is still recorded locally")
}

func TestWrapHTTPClientKeepsClientSettings(t *testing.T) {
	base := &http.Client{Timeout: 42}
	wrapped := WrapExternalHTTPClient(base)

	require.NotSame(t, base, wrapped)
	require.Equal(t, base.Timeout, wrapped.Timeout)
	require.Nil(t, base.Transport)
}
