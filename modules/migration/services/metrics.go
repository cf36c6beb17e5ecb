package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	outcomesTotal        *prometheus.CounterVec
	reservationsLost     *prometheus.CounterVec
	mutateLatency        *prometheus.HistogramVec
	checkpointSavesTotal *prometheus.CounterVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		outcomesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cutover",
			Name:      "record_outcomes_total",
			Help:      "Terminal per-record outcomes by entity type and status.",
		}, []string{"entity_type", "status"}),
		reservationsLost: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cutover",
			Name:      "reservations_lost_total",
			Help:      "Create attempts that lost the lineage reservation race.",
		}, []string{"entity_type"}),
		mutateLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cutover",
			Name:      "mutate_latency_seconds",
			Help:      "Latency distribution for write-boundary mutations.",
			Buckets: []float64{
				0.005, 0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"entity_type", "action"}),
		checkpointSavesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cutover",
			Name:      "checkpoint_saves_total",
			Help:      "Durable checkpoint writes.",
		}, []string{"entity_type"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
