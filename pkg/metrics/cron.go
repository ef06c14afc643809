package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CronJobMetrics tracks the sweep jobs: run outcomes, how long each run took, when
// it last succeeded and how many applications or quotes it touched.
type CronJobMetrics struct {
	runs        *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
	processed   *prometheus.CounterVec
	now         func() time.Time
}

// NewCronJobMetrics registers on reg. A nil registerer yields a no-op recorder.
func NewCronJobMetrics(reg prometheus.Registerer) *CronJobMetrics {
	if reg == nil {
		return nil
	}
	m := &CronJobMetrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visamarket_cron_job_runs_total",
			Help: "Cron job runs by outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visamarket_cron_job_duration_seconds",
			Help:    "Duration of cron job runs.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"job"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "visamarket_cron_job_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run.",
		}, []string{"job"}),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visamarket_cron_items_processed_total",
			Help: "Applications or quotes changed by sweep jobs.",
		}, []string{"job", "result"}),
		now: time.Now,
	}
	reg.MustRegister(m.runs, m.duration, m.lastSuccess, m.processed)
	return m
}

func (c *CronJobMetrics) ObserveDuration(job string, duration time.Duration) {
	if c == nil {
		return
	}
	c.duration.WithLabelValues(jobLabel(job)).Observe(duration.Seconds())
}

func (c *CronJobMetrics) IncSuccess(job string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(jobLabel(job), "success").Inc()
	c.lastSuccess.WithLabelValues(jobLabel(job)).Set(float64(c.now().Unix()))
}

func (c *CronJobMetrics) IncFailure(job string) {
	if c == nil {
		return
	}
	c.runs.WithLabelValues(jobLabel(job), "failure").Inc()
}

// AddProcessed counts n items a job moved, e.g. result "expired" or "assigned".
func (c *CronJobMetrics) AddProcessed(job, result string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.processed.WithLabelValues(jobLabel(job), result).Add(float64(n))
}

func jobLabel(job string) string {
	if job == "" {
		return "unknown"
	}
	return job
}
