package poller

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rexml_poll_cycles_total",
		Help: "The total number of poll cycles started",
	})

	configuredFeeds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rexml_feeds",
		Help: "The number of feeds loaded in the last poll cycle",
	})

	feedFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rexml_feed_failures_total",
		Help: "Failed feed cycles by kind of error",
	}, []string{"feed", "kind"})

	itemsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rexml_items_ingested_total",
		Help: "Items inserted for the first time",
	}, []string{"feed"})

	crossings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rexml_crossings_total",
		Help: "Items that crossed their feed's upvote threshold",
	}, []string{"feed"})

	itemsExpired = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rexml_items_expired_total",
		Help: "Items that aged out of their window without crossing",
	}, []string{"feed"})

	sinkErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rexml_sink_errors_total",
		Help: "Crossing events the sink failed to deliver",
	})

	fetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rexml_fetch_duration_seconds",
		Help:    "Duration of feed fetches",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // Start at 50ms, double each bucket, 10 buckets
	}, []string{"feed"})
)
