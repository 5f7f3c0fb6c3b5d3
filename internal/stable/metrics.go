package stable

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/samber/mo"
)

var (
	// StoreOps counts map operations by map, operation and result.
	StoreOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stableposts_store_ops_total",
		Help: "Total number of durable map operations",
	}, []string{"map", "op", "result"})

	// StoreOpLatency records map operation latency including backend I/O.
	StoreOpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stableposts_store_op_latency_seconds",
		Help:    "Durable map operation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"map", "op"})

	// StoreBytes is the logical size (keys plus encoded values) of each map.
	StoreBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stableposts_store_bytes",
		Help: "Bytes held by the durable map",
	}, []string{"map"})

	// StoreEntries is the number of live entries in each map.
	StoreEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "stableposts_store_entries",
		Help: "Live entries in the durable map",
	}, []string{"map"})
)

// trackOp returns a func that records latency and the op result when called.
func trackOp(mapName, op string) func(result string) {
	start := time.Now()
	return func(result string) {
		StoreOpLatency.WithLabelValues(mapName, op).Observe(time.Since(start).Seconds())
		StoreOps.WithLabelValues(mapName, op, result).Inc()
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrResourceExhausted):
		return "exhausted"
	default:
		return "error"
	}
}

func presenceOf[V any](opt mo.Option[V], err error) string {
	if err != nil {
		return resultOf(err)
	}
	if opt.IsPresent() {
		return "hit"
	}
	return "miss"
}
