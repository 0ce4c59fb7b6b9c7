package permissions

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// reloadsTotal counts snapshot rebuilds by outcome.
	reloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bundata_permission_reloads_total",
			Help: "Total number of permission snapshot reloads",
		},
		[]string{"status"},
	)
	// snapshotRecords is the record count of the live snapshot.
	snapshotRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "bundata_permission_snapshot_records",
			Help: "Number of permission records in the current snapshot",
		},
	)
)
