package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cspr_cloud_request_duration_seconds",
			Help:    "Duration of CSPR.cloud API requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	APIRequestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cspr_cloud_request_errors_total",
			Help: "The total number of failed CSPR.cloud API requests",
		},
		[]string{"endpoint"},
	)

	PagesFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_validator_pages_fetched_total",
			Help: "The total number of validator list pages fetched",
		},
	)

	ValidatorsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_validators_fetched_total",
			Help: "The total number of validator records fetched and enriched",
		},
	)

	EnrichmentFallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_enrichment_fallbacks_total",
			Help: "Per-validator lookups that failed and were replaced by a default",
		},
		[]string{"check"},
	)

	CorrectionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scout_corrections_applied_total",
			Help: "The total number of record corrections applied",
		},
		[]string{"field"},
	)

	DelegationCandidates = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scout_delegation_candidates",
			Help: "Number of validators that passed the eligibility filter in the last run",
		},
	)

	LastProcessedEra = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scout_last_processed_era",
			Help: "The era the last run processed",
		},
	)

	SnapshotsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scout_snapshots_stored_total",
			Help: "The total number of run snapshots stored in database",
		},
	)
)

// RecordAPIRequest observes one API call. A status of 0 means the request
// never got a response.
func RecordAPIRequest(endpoint string, status int, duration float64) {
	APIRequestDuration.WithLabelValues(endpoint, strconv.Itoa(status)).Observe(duration)
	if status < 200 || status > 299 {
		APIRequestErrors.WithLabelValues(endpoint).Inc()
	}
}

func RecordEnrichmentFallback(check string) {
	EnrichmentFallbacks.WithLabelValues(check).Inc()
}

func RecordCorrection(field string) {
	CorrectionsApplied.WithLabelValues(field).Inc()
}

func UpdateRunResult(eraID int64, candidates int) {
	LastProcessedEra.Set(float64(eraID))
	DelegationCandidates.Set(float64(candidates))
}

// WriteTextfile dumps the default registry in the text exposition format so
// the node exporter textfile collector can pick up a batch run.
func WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, prometheus.DefaultGatherer)
}
