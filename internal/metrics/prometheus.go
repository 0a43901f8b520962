// Package metrics provides Prometheus exporters for the reward engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Claim outcomes.
const (
	ClaimGranted        = "granted"
	ClaimNothingToClaim = "nothing_to_claim"
	ClaimInvalidReward  = "invalid_reward"
	ClaimError          = "error"
)

// Prometheus metrics for the gem progression engine.
var (
	// Counters.
	PointsAwardedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gem_points_awarded_total",
			Help: "Total points credited to users",
		},
		[]string{"source"},
	)

	ClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gem_claims_total",
			Help: "Total claim attempts by reward and outcome",
		},
		[]string{"reward", "outcome"},
	)

	ManualGrantsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gem_manual_grants_total",
			Help: "Total rewards granted outside the claim protocol",
		},
		[]string{"reward", "source"},
	)

	IngestionFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gem_ingestion_failures_total",
			Help: "Total activity events whose accounting failed",
		},
		[]string{"hook"},
	)

	CatalogInsertsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gem_catalog_inserts_total",
			Help: "Total reward definitions inserted by catalog bootstrap",
		},
	)

	CatalogCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gem_catalog_cache_requests_total",
			Help: "Catalog cache lookups by result",
		},
		[]string{"result"},
	)

	// End-of-day batch metrics.
	EndOfDayRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gem_end_of_day_runs_total",
			Help: "Total end-of-day batch executions",
		},
		[]string{"status"},
	)

	EndOfDayUsersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gem_end_of_day_users_total",
			Help: "Users processed by the end-of-day batch by outcome",
		},
		[]string{"outcome"},
	)

	EndOfDayLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gem_end_of_day_last_run_timestamp",
			Help: "Unix timestamp of last end-of-day batch run",
		},
	)

	EndOfDayDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gem_end_of_day_duration_seconds",
			Help:    "Time taken to execute the end-of-day batch",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		},
	)

	// Histograms.
	ClaimablesPerRequest = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gem_claimables_per_request",
			Help:    "Number of claimable milestones returned per request",
			Buckets: prometheus.LinearBuckets(0, 1, 10),
		},
	)

	ClaimDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gem_claim_duration_seconds",
			Help:    "Time taken by the claim transaction",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~2s
		},
	)
)

// RecordPointsAwarded records points credited from a source.
func RecordPointsAwarded(source string, points int) {
	if points <= 0 {
		return
	}
	PointsAwardedTotal.WithLabelValues(source).Add(float64(points))
}

// RecordClaim records a claim attempt and its duration.
func RecordClaim(reward, outcome string, duration time.Duration) {
	ClaimsTotal.WithLabelValues(reward, outcome).Inc()
	ClaimDurationSeconds.Observe(duration.Seconds())
}

// RecordManualGrant records a reward granted outside the claim protocol.
func RecordManualGrant(reward, source string) {
	ManualGrantsTotal.WithLabelValues(reward, source).Inc()
}

// RecordIngestionFailure records a failed activity hook.
func RecordIngestionFailure(hook string) {
	IngestionFailuresTotal.WithLabelValues(hook).Inc()
}

// RecordCatalogInserts records definitions inserted by bootstrap.
func RecordCatalogInserts(count int64) {
	if count <= 0 {
		return
	}
	CatalogInsertsTotal.Add(float64(count))
}

// RecordCatalogCache records a catalog cache lookup result (hit, miss, error).
func RecordCatalogCache(result string) {
	CatalogCacheRequestsTotal.WithLabelValues(result).Inc()
}

// RecordEndOfDayRun records an end-of-day batch execution.
func RecordEndOfDayRun(status string, duration time.Duration) {
	EndOfDayRunsTotal.WithLabelValues(status).Inc()
	EndOfDayDurationSeconds.Observe(duration.Seconds())
	EndOfDayLastRunTimestamp.SetToCurrentTime()
}

// RecordEndOfDayUser records the outcome for one user of the end-of-day batch.
func RecordEndOfDayUser(outcome string) {
	EndOfDayUsersTotal.WithLabelValues(outcome).Inc()
}

// ObserveClaimables records how many claimables a request returned.
func ObserveClaimables(count int) {
	ClaimablesPerRequest.Observe(float64(count))
}
