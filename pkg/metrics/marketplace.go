package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MarketplaceMetrics tracks assignment and bidding outcomes.
type MarketplaceMetrics struct {
	submissions       *prometheus.CounterVec
	quotesAccepted    *prometheus.CounterVec
	acceptConflicts   prometheus.Counter
	providerLatency   *prometheus.HistogramVec
	providerFallbacks prometheus.Counter
	commissionClamped prometheus.Counter
}

// NewMarketplaceMetrics registers marketplace metrics on the provided registerer.
// A nil registerer yields a no-op collector.
func NewMarketplaceMetrics(reg prometheus.Registerer) *MarketplaceMetrics {
	if reg == nil {
		return &MarketplaceMetrics{}
	}
	m := &MarketplaceMetrics{
		submissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visamarket_application_submissions_total",
			Help: "Submitted applications by assignment model and resulting status.",
		}, []string{"model", "status"}),
		quotesAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visamarket_quotes_accepted_total",
			Help: "Accepted quotes by source.",
		}, []string{"source"}),
		acceptConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visamarket_quote_accept_conflicts_total",
			Help: "Quote acceptances rejected because another acceptance won.",
		}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visamarket_external_quote_seconds",
			Help:    "Latency of external quote provider calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"outcome"}),
		providerFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visamarket_external_quote_fallbacks_total",
			Help: "Hybrid submissions that fell back to agency bidding.",
		}),
		commissionClamped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visamarket_commission_clamped_total",
			Help: "Fixed commissions clamped to the quoted price.",
		}),
	}
	reg.MustRegister(m.submissions, m.quotesAccepted, m.acceptConflicts, m.providerLatency, m.providerFallbacks, m.commissionClamped)
	return m
}

// IncSubmission counts a submitted application.
func (m *MarketplaceMetrics) IncSubmission(model, status string) {
	if m == nil || m.submissions == nil {
		return
	}
	m.submissions.WithLabelValues(jobLabel(model), jobLabel(status)).Inc()
}

// IncQuoteAccepted counts an accepted quote.
func (m *MarketplaceMetrics) IncQuoteAccepted(source string) {
	if m == nil || m.quotesAccepted == nil {
		return
	}
	m.quotesAccepted.WithLabelValues(jobLabel(source)).Inc()
}

// IncAcceptConflict counts an acceptance that lost the race.
func (m *MarketplaceMetrics) IncAcceptConflict() {
	if m == nil || m.acceptConflicts == nil {
		return
	}
	m.acceptConflicts.Inc()
}

// ObserveProvider records an external provider call.
func (m *MarketplaceMetrics) ObserveProvider(outcome string, duration time.Duration) {
	if m == nil || m.providerLatency == nil {
		return
	}
	m.providerLatency.WithLabelValues(jobLabel(outcome)).Observe(duration.Seconds())
}

// IncProviderFallback counts a hybrid fallback to agency bidding.
func (m *MarketplaceMetrics) IncProviderFallback() {
	if m == nil || m.providerFallbacks == nil {
		return
	}
	m.providerFallbacks.Inc()
}

// IncCommissionClamped counts a fixed commission capped at the quoted price.
func (m *MarketplaceMetrics) IncCommissionClamped() {
	if m == nil || m.commissionClamped == nil {
		return
	}
	m.commissionClamped.Inc()
}
