// Package metrics holds the prometheus collectors for the feed and inbox read models.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProfileLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journeys_profile_lookups_total",
			Help: "Profile lookups issued against the store, by result",
		},
		[]string{"result"},
	)

	ProfileCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journeys_profile_cache_hits_total",
			Help: "Profile resolutions served from cache, by tier",
		},
		[]string{"tier"},
	)

	PageFetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "journeys_page_fetch_duration_seconds",
			Help:    "Feed page fetch duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"tab", "kind"},
	)

	DeleteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "journeys_delete_failures_total",
			Help: "Optimistic deletes rejected by the store",
		},
	)

	ReconcilePasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "journeys_inbox_reconcile_passes_total",
			Help: "Inbox reconciliation passes, by outcome (emitted, discarded)",
		},
		[]string{"outcome"},
	)

	InboxStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "journeys_inbox_streams_active",
			Help: "Number of live inbox subscriptions",
		},
	)
)
