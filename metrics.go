package bundata

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// queriesTotal counts engine queries by collection, action and outcome.
	queriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundata_queries_total",
			Help: "Total number of compiled queries by outcome",
		},
		[]string{"collection", "action", "status"},
	)
	// compileDuration measures the compile stage only, not execution.
	compileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bundata_compile_duration_seconds",
			Help:    "Time spent compiling a request into SQL",
			Buckets: prometheus.DefBuckets,
		},
	)
)
