// Package metrics exposes the gateway's Prometheus collectors. It is
// ambient instrumentation: nothing in dispatcher or router depends on
// it being read, and the /metrics endpoint is wired the same way the
// teacher exposes promhttp.Handler() from main.go.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts every dispatch attempt by outcome, labeled the
	// way the teacher's channel success-rate tracking is labeled (by
	// provider and model slug) rather than by raw HTTP status.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plexus",
		Name:      "requests_total",
		Help:      "Total number of dispatched requests by provider, model and outcome.",
	}, []string{"provider", "model", "outcome"})

	// RequestDuration tracks end-to-end dispatch latency in seconds.
	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "plexus",
		Name:      "request_duration_seconds",
		Help:      "Dispatch latency from request acceptance to final byte written.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider", "model", "streamed"})

	// TimeToFirstByte tracks streaming TTFT in seconds, nil for unary calls.
	TimeToFirstByte = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "plexus",
		Name:      "stream_ttft_seconds",
		Help:      "Time to first streamed token, measured from dispatch start.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2, 5, 10},
	}, []string{"provider", "model"})

	// TokensTotal counts tokens by provider/model/kind (input, output,
	// cache_read, cache_creation, reasoning), mirroring usage.Record's
	// per-category fields so the same numbers can be cross-checked
	// against the usage store.
	TokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plexus",
		Name:      "tokens_total",
		Help:      "Tokens processed by provider, model and token kind.",
	}, []string{"provider", "model", "kind"})

	// CostUSDTotal accumulates estimated spend by provider/model.
	CostUSDTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "plexus",
		Name:      "cost_usd_total",
		Help:      "Estimated cost in USD by provider and model.",
	}, []string{"provider", "model"})

	// CooldownActive reports whether a provider/account key is currently
	// in cooldown. Nothing in this module sets it, so it exports no series.
	CooldownActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "plexus",
		Name:      "cooldown_active",
		Help:      "1 if the given cooldown key is currently in cooldown, 0 otherwise.",
	}, []string{"key", "reason"})
)

// ObserveOutcome records a finished dispatch attempt's counters. Called
// from dispatcher.recordSuccess/recordFailure so the Prometheus view and
// the usage store are always updated from the same call sites.
func ObserveOutcome(provider, model, outcome string, streamed bool, durationSeconds float64, ttftSeconds *float64) {
	RequestsTotal.WithLabelValues(provider, model, outcome).Inc()
	RequestDuration.WithLabelValues(provider, model, boolLabel(streamed)).Observe(durationSeconds)
	if ttftSeconds != nil {
		TimeToFirstByte.WithLabelValues(provider, model).Observe(*ttftSeconds)
	}
}

// ObserveUsage records token and cost counters for a finished request.
func ObserveUsage(provider, model string, input, output, cacheRead, cacheCreation, reasoning int, costUSD float64) {
	TokensTotal.WithLabelValues(provider, model, "input").Add(float64(input))
	TokensTotal.WithLabelValues(provider, model, "output").Add(float64(output))
	TokensTotal.WithLabelValues(provider, model, "cache_read").Add(float64(cacheRead))
	TokensTotal.WithLabelValues(provider, model, "cache_creation").Add(float64(cacheCreation))
	TokensTotal.WithLabelValues(provider, model, "reasoning").Add(float64(reasoning))
	CostUSDTotal.WithLabelValues(provider, model).Add(costUSD)
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
