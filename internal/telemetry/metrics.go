package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	PriceEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledge_price_events_total",
			Help: "Total number of price change events received",
		},
		[]string{"source", "result"}, // result: applied, duplicate, invalid
	)

	// Matcher metrics
	FulfillAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pledge_fulfill_attempts_total",
			Help: "Total number of per-pledge fulfillment attempts",
		},
		[]string{"outcome"}, // fulfilled, skipped, failed
	)

	EligiblePledges = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pledge_eligible_per_event",
			Help:    "Eligible pledges selected per price change event",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	AdapterCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pledge_adapter_call_duration_seconds",
			Help:    "Latency of payment capture and discount issue calls",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"adapter", "result"}, // adapter: payment, discount; result: ok, failed
	)

	ExpiredPledgesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pledge_expired_total",
			Help: "Pledges moved to expired by the sweep job",
		},
	)
)
