package observability

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/serialgw/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestRequestLoggerQuietPaths(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	logger := zerolog.New(&buf).Level(zerolog.InfoLevel)

	r := gin.New()
	r.Use(RequestLogger(logger, "/metrics"))
	r.GET("/metrics", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/status", func(c *gin.Context) { c.Status(http.StatusOK) })

	for _, path := range []string{"/metrics", "/status", "/missing"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}
	out := buf.String()
	if strings.Contains(out, `"path":"/metrics"`) {
		t.Fatalf("quiet path logged at info: %s", out)
	}
	if !strings.Contains(out, `"path":"/status"`) || !strings.Contains(out, `"path":"unmatched"`) {
		t.Fatalf("expected status and unmatched lines: %s", out)
	}
}

func TestRequestMetricsMiddlewareCountsRoute(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestMetricsMiddleware("mw-test"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))
	got := testutil.ToFloat64(httpRequests.WithLabelValues("mw-test", "GET", "/health", "204"))
	if got != 1 {
		t.Fatalf("request counter got=%v", got)
	}
}
