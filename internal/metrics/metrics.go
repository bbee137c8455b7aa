// Package metrics exposes Prometheus counters for the ingest pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trekkr_ingest_requests_total",
		Help: "Ingest requests by mode (single, batch) and outcome",
	}, []string{"mode", "outcome"})
	IngestDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "trekkr_ingest_duration_ms",
		Help:    "Ingest processing duration in milliseconds",
		Buckets: []float64{1, 5, 10, 20, 50, 100, 200, 500, 1000, 2500},
	}, []string{"mode"})
	BatchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "trekkr_ingest_batch_size",
		Help:    "Number of locations per batch request",
		Buckets: []float64{1, 5, 10, 25, 50, 75, 100},
	})
	BatchSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trekkr_ingest_batch_skipped_total",
		Help: "Batch items skipped during validation, by reason",
	}, []string{"reason"})
	CellsDiscoveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trekkr_cells_discovered_total",
		Help: "Cells visited by a user for the first time, by resolution",
	}, []string{"res"})
	PlacesDiscoveredTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trekkr_places_discovered_total",
		Help: "Countries and regions discovered by users",
	}, []string{"kind"})
	AchievementsUnlockedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trekkr_achievements_unlocked_total",
		Help: "Achievements unlocked, by code",
	}, []string{"code"})
	GeocodeLookupsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trekkr_geocode_lookups_total",
		Help: "Reverse geocode lookups by result (matched, unmatched, error)",
	}, []string{"result"})
	RateLimitedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trekkr_rate_limited_total",
		Help: "Requests rejected by the rate limiter, by route",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(IngestRequestsTotal)
	prometheus.MustRegister(IngestDurationMs)
	prometheus.MustRegister(BatchSize)
	prometheus.MustRegister(BatchSkippedTotal)
	prometheus.MustRegister(CellsDiscoveredTotal)
	prometheus.MustRegister(PlacesDiscoveredTotal)
	prometheus.MustRegister(AchievementsUnlockedTotal)
	prometheus.MustRegister(GeocodeLookupsTotal)
	prometheus.MustRegister(RateLimitedTotal)
}

// Handler serves every registered metric; mounted at /metrics.
func Handler() http.Handler { return promhttp.Handler() }
