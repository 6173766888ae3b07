package gateway

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	queryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rowwatch_gateway_query_duration_seconds",
		Help:    "Time taken by a store gateway operation, session open included",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	decodeErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rowwatch_gateway_decode_errors_total",
		Help: "The total number of fields that fell back after a decode failure",
	}, []string{"field"})
)

func observeQuery(op string, start time.Time) {
	queryDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
