package comm

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	collectiveCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "moments_collective_calls_total",
		Help: "Total number of collective calls issued by in-process ranks",
	}, []string{"kind"})

	collectiveWait = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "moments_collective_wait_seconds",
		Help:    "Time a rank waited for its peers to join a collective",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})
)
