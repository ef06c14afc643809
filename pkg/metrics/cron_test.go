package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsTracksRunsAndProcessedItems(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	m.now = func() time.Time { return time.Unix(1_760_000_000, 0) }
	job := "quote-expiry"

	m.ObserveDuration(job, 250*time.Millisecond)
	m.IncSuccess(job)
	m.IncFailure(job)
	m.AddProcessed(job, "expired", 3)
	m.AddProcessed(job, "expired", 0)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	runs := findMetricFamily(mfs, "visamarket_cron_job_runs_total")
	if runs == nil || len(runs.GetMetric()) != 2 {
		t.Fatalf("expected success and failure series, got %v", runs)
	}
	if got, err := fetchCounterValue(mfs, "visamarket_cron_items_processed_total", "result", "expired"); err != nil {
		t.Fatalf("fetch processed: %v", err)
	} else if got != 3 {
		t.Fatalf("expected processed=3, got %f", got)
	}
	if got, err := fetchHistogramSum(mfs, "visamarket_cron_job_duration_seconds", "job", job); err != nil {
		t.Fatalf("fetch duration: %v", err)
	} else if got != 0.25 {
		t.Fatalf("expected duration sum 0.25, got %f", got)
	}
	last := findMetricFamily(mfs, "visamarket_cron_job_last_success_timestamp_seconds")
	if last == nil || last.GetMetric()[0].GetGauge().GetValue() != 1_760_000_000 {
		t.Fatalf("expected last success timestamp, got %v", last)
	}
}

func TestNilCronJobMetricsIsSafe(t *testing.T) {
	var m *CronJobMetrics = NewCronJobMetrics(nil)
	m.ObserveDuration("job", time.Second)
	m.IncSuccess("job")
	m.IncFailure("job")
	m.AddProcessed("job", "assigned", 1)
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetCounter().GetValue(), nil
		}
	}
	return 0, fmt.Errorf("metric %q missing label %s=%s", name, label, value)
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if matchesLabel(metric.GetLabel(), label, value) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing label %s=%s", name, label, value)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func matchesLabel(labels []*dto.LabelPair, name, value string) bool {
	for _, label := range labels {
		if label.GetName() == name && label.GetValue() == value {
			return true
		}
	}
	return false
}
