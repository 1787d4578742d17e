// Package metrics exposes Prometheus collectors for pipeline stages and
// external calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "newstoss"

var (
	// StageItems counts items handled per pipeline stage by outcome.
	StageItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_items_total",
			Help:      "Items handled by pipeline stage and outcome",
		},
		[]string{"stage", "outcome"},
	)

	// StageDuration measures a full stage run.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stage runs in seconds",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage"},
	)

	// ExternalCalls counts LLM and embedding requests by provider and status.
	ExternalCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "external_calls_total",
			Help:      "Outbound LLM and embedding calls",
		},
		[]string{"kind", "provider", "status"},
	)

	// ExternalDuration measures outbound call latency.
	ExternalDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "external_call_duration_seconds",
			Help:      "Latency of outbound LLM and embedding calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"kind", "provider"},
	)

	// Fallbacks counts degraded results returned after retries ran out.
	Fallbacks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallbacks_total",
			Help:      "Degraded results used after an external call failed",
		},
		[]string{"operation"},
	)
)

func RecordStage(stage string, started time.Time, processed, failed int) {
	StageDuration.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	StageItems.WithLabelValues(stage, "processed").Add(float64(processed))
	StageItems.WithLabelValues(stage, "failed").Add(float64(failed))
}

func RecordExternal(kind, provider string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	ExternalCalls.WithLabelValues(kind, provider, status).Inc()
	ExternalDuration.WithLabelValues(kind, provider).Observe(time.Since(started).Seconds())
}

func RecordFallback(operation string) {
	Fallbacks.WithLabelValues(operation).Inc()
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}
