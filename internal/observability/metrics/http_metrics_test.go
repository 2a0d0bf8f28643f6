package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestGinMiddlewareRecordsRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newHTTPMetrics(prometheus.NewRegistry(), Config{ServiceName: "pushrelay", Environment: "test"})

	r := gin.New()
	r.Use(GinMiddleware(m))
	r.POST("/webhooks/:agentId", func(c *gin.Context) {
		c.Status(http.StatusAccepted)
	})

	for _, path := range []string{"/webhooks/a", "/webhooks/b", "/nope"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, path, nil))
	}

	if got := testutil.ToFloat64(m.requests.WithLabelValues("/webhooks/:agentId", http.MethodPost, "2xx")); got != 2 {
		t.Fatalf("expected 2 templated requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requests.WithLabelValues("unmatched", http.MethodPost, "4xx")); got != 1 {
		t.Fatalf("expected 1 unmatched request, got %v", got)
	}
	if got := testutil.ToFloat64(m.inFlight); got != 0 {
		t.Fatalf("expected no in-flight requests, got %v", got)
	}
}

func TestStatusClass(t *testing.T) {
	if statusClass(410) != "4xx" || statusClass(0) != "unknown" {
		t.Fatalf("unexpected status classes")
	}
}
