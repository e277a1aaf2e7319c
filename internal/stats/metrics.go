package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	computeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moments_local_reduce_duration_seconds",
		Help:    "Time spent in the local moment reduction by strategy",
		Buckets: prometheus.DefBuckets,
	}, []string{"strategy"})

	rowsProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moments_rows_processed_total",
		Help: "Total number of matrix rows reduced locally",
	})

	distributedMerges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "moments_distributed_merges_total",
		Help: "Total number of cross-rank merges completed",
	})
)
