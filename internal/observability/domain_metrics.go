package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	retrievalSimilarity = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intentql_retrieval_best_similarity",
			Help:    "Cosine similarity of the best retrieved template per query.",
			Buckets: []float64{0.0, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)
	fallbackTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intentql_fallback_total",
			Help: "Total number of queries answered with suggestions instead of rows.",
		},
	)
	missingBindTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intentql_missing_bind_total",
			Help: "Total number of queries rejected for missing bind parameters.",
		},
	)
	rowsStreamedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intentql_rows_streamed_total",
			Help: "Total number of result rows streamed to clients.",
		},
	)
	indexRebuildSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "intentql_index_rebuild_duration_seconds",
			Help:    "Retrieval index rebuild duration.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60},
		},
	)
	indexedTemplates = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "intentql_indexed_templates",
			Help: "Number of templates in the active retrieval index.",
		},
	)
	narrationFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "intentql_narration_failures_total",
			Help: "Total number of narration attempts downgraded to an informational trailer.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retrievalSimilarity,
		fallbackTotal,
		missingBindTotal,
		rowsStreamedTotal,
		indexRebuildSeconds,
		indexedTemplates,
		narrationFailuresTotal,
	)
}

func ObserveRetrievalSimilarity(similarity float64) {
	retrievalSimilarity.Observe(similarity)
}

func IncrementFallback() {
	fallbackTotal.Inc()
}

func IncrementMissingBind() {
	missingBindTotal.Inc()
}

func AddRowsStreamed(count int64) {
	rowsStreamedTotal.Add(float64(count))
}

func ObserveIndexRebuild(duration time.Duration, templates int) {
	indexRebuildSeconds.Observe(duration.Seconds())
	indexedTemplates.Set(float64(templates))
}

func IncrementNarrationFailure() {
	narrationFailuresTotal.Inc()
}
