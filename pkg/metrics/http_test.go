package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHTTPMetricsLabelsByRoute(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewHTTPMetrics(reg)

	m.ObserveRequest("/api/v1/applications/{applicationId}", "GET", 200, 30*time.Millisecond)
	m.ObserveRequest("/api/v1/applications/{applicationId}", "GET", 200, 10*time.Millisecond)
	m.ObserveRequest("", "GET", 404, time.Millisecond)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if got, err := fetchCounterValue(mfs, "visamarket_http_requests_total", "route", "/api/v1/applications/{applicationId}"); err != nil || got != 2 {
		t.Fatalf("expected 2 requests for the route, got %f err=%v", got, err)
	}
	if got, err := fetchCounterValue(mfs, "visamarket_http_requests_total", "route", "unmatched"); err != nil || got != 1 {
		t.Fatalf("expected unmatched bucket, got %f err=%v", got, err)
	}
	if sum, err := fetchHistogramSum(mfs, "visamarket_http_request_duration_seconds", "method", "GET"); err != nil || sum <= 0 {
		t.Fatalf("expected latency samples, got %f err=%v", sum, err)
	}

	var nilMetrics *HTTPMetrics
	nilMetrics.ObserveRequest("/x", "GET", 200, time.Second)
}
