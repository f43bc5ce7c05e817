package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Embedding and generation provider metrics.
var (
	ExternalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_requests_total",
			Help:      "Total number of embedding and generation provider calls",
		},
		[]string{"capability", "provider", "status"},
	)

	ExternalRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_request_duration_seconds",
			Help:      "Embedding and generation provider call duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"capability", "provider"},
	)

	EmbeddedTextsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedded_texts_total",
			Help:      "Total number of texts sent to the embedding provider",
		},
		[]string{"provider"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	IngestedFilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingested_files_total",
			Help:      "Files seen by ingestion, by outcome",
		},
		[]string{"result"}, // "created" / "skipped"
	)

	NotesCreatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notes_created_total",
			Help:      "Total number of notes written to both stores",
		},
	)
)

const (
	CapabilityEmbedding  = "embedding"
	CapabilityGeneration = "generation"

	StatusOK      = "ok"
	StatusError   = "error"
	StatusTimeout = "timeout"
)

var registerOnce sync.Once

// Register registers the provider and ingestion collectors with the default registry.
// Safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(ExternalRequestsTotal)
		prometheus.MustRegister(ExternalRequestDuration)
		prometheus.MustRegister(EmbeddedTextsTotal)
		prometheus.MustRegister(EmbeddingCacheTotal)
		prometheus.MustRegister(IngestedFilesTotal)
		prometheus.MustRegister(NotesCreatedTotal)
	})
}
