package reactive

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	graphEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "konut_graph_events_total",
		Help: "Input events applied to dashboard graphs",
	})

	recomputeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "konut_graph_recompute_total",
		Help: "Derived signal recomputations by signal and outcome",
	}, []string{"signal", "result"})

	recomputeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "konut_graph_recompute_duration_seconds",
		Help:    "Time spent in derived signal compute functions",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"signal"})
)
