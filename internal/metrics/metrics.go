package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbound calls to the listing source.
	ListingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checks_listing_requests_total",
			Help: "Total listing-source HTTP requests by venue and status class.",
		},
		[]string{"venue", "status"}, // status = 2xx | 4xx | 429 | 5xx | transport
	)

	ListingRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checks_listing_request_duration_seconds",
			Help:    "Duration of listing-source HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms → ~40s
		},
		[]string{"venue"},
	)

	// Catalog refreshes by outcome.
	RefreshTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checks_catalog_refresh_total",
			Help: "Catalog refresh attempts by result.",
		},
		[]string{"result"}, // ok | error | empty
	)

	RefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "checks_catalog_refresh_duration_seconds",
			Help:    "Wall time of a full catalog refresh.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)

	// Catalog lookups by how they were served.
	LookupsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checks_catalog_lookups_total",
			Help: "Catalog lookups by outcome.",
		},
		[]string{"outcome"}, // hit | stale | refresh | fallback | error
	)

	SnapshotItems = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "checks_snapshot_items",
			Help: "Items in the current snapshot by class.",
		},
		[]string{"class"},
	)

	LastRefreshTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checks_snapshot_captured_timestamp",
			Help: "Unix seconds at which the current snapshot was captured.",
		},
	)

	OptimalCost = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "checks_optimal_cost",
			Help: "Total cost of the last computed optimal combination (0 when unsatisfiable).",
		},
	)

	// Broker publications by sink and result.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checks_events_published_total",
			Help: "Events forwarded to external brokers.",
		},
		[]string{"sink", "topic", "result"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checks_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)
)

// ObserveDuration records the time since start on a histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case prometheus.Histogram:
		metric.Observe(duration)
	default:
	}
}

// StatusClass buckets an HTTP status for the requests counter.
func StatusClass(status int) string {
	switch {
	case status == 429:
		return "429"
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 200:
		return "2xx"
	default:
		return "transport"
	}
}

func IncListingRequest(venue string, status int) {
	ListingRequestsTotal.WithLabelValues(venue, StatusClass(status)).Inc()
}

func IncRefresh(result string) {
	RefreshTotal.WithLabelValues(result).Inc()
}

func IncLookup(outcome string) {
	LookupsTotal.WithLabelValues(outcome).Inc()
}

func IncEvent(sink, topic, result string) {
	EventsPublished.WithLabelValues(sink, topic, result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// SetSnapshot publishes per-class sizes and the capture time of a new snapshot.
func SetSnapshot(counts map[string]int, capturedAt time.Time) {
	SnapshotItems.Reset()
	for class, n := range counts {
		SnapshotItems.WithLabelValues(class).Set(float64(n))
	}
	LastRefreshTimestamp.Set(float64(capturedAt.Unix()))
}
