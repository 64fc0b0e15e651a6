package telescope

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	observationsTotal *prometheus.CounterVec
	requestLatency    *prometheus.HistogramVec
)

func newCollectors() (*prometheus.CounterVec, *prometheus.HistogramVec) {
	obs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracet_observations_total",
			Help: "Number of dispatch attempts by observatory and terminal status",
		},
		[]string{"observatory", "status"},
	)
	lat := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracet_telescope_request_seconds",
			Help:    "Latency of observatory API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"observatory"},
	)
	return obs, lat
}

func init() {
	observationsTotal, requestLatency = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers telescope metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(observationsTotal, requestLatency)
}

// ResetMetrics reinitializes the collectors for testing purposes and
// registers them on reg if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	observationsTotal, requestLatency = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
