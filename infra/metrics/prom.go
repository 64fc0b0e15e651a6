package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/tracet/core/metrics"
)

// PromSink records pipeline activity in Prometheus metrics.
type PromSink struct {
	decisions    *prometheus.CounterVec
	observations *prometheus.CounterVec
	notices      *prometheus.CounterVec
	heartbeatLag prometheus.Gauge
}

// NewPromSink registers pipeline metrics on the default Prometheus registerer.
// The Prometheus server should be started separately using cfg.PrometheusPort.
func NewPromSink(cfg coremetrics.Config) (coremetrics.MetricsSink, error) {
	s, err := NewPromSinkWithRegistry(cfg, prometheus.DefaultRegisterer)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(_ coremetrics.Config, reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracet_decisions_total",
		Help: "Total number of decisions taken",
	}, []string{"trigger", "source", "conclusion"})
	observations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracet_trigger_observations_total",
		Help: "Dispatch attempts per trigger and outcome",
	}, []string{"trigger", "status", "test"})
	notices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "tracet_notices_total",
		Help: "Notices received per stream",
	}, []string{"stream", "test"})
	lag := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "tracet_heartbeat_lag_seconds",
		Help: "Delay between the last heartbeat and its receipt",
	})

	var err error
	if decisions, err = register(reg, decisions); err != nil {
		return nil, err
	}
	if observations, err = register(reg, observations); err != nil {
		return nil, err
	}
	if notices, err = register(reg, notices); err != nil {
		return nil, err
	}
	if lag, err = register(reg, lag); err != nil {
		return nil, err
	}
	return &PromSink{decisions: decisions, observations: observations, notices: notices, heartbeatLag: lag}, nil
}

// register adds c to reg, reusing an identical collector already registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordDecision counts the decision by trigger, source and conclusion.
func (s *PromSink) RecordDecision(rec coremetrics.DecisionRecord) error {
	s.decisions.WithLabelValues(rec.TriggerID, string(rec.Source), rec.Conclusion.String()).Inc()
	return nil
}

// RecordObservation counts dispatch outcomes per trigger.
func (s *PromSink) RecordObservation(rec coremetrics.ObservationRecord) error {
	s.observations.WithLabelValues(rec.TriggerID, string(rec.Status), strconv.FormatBool(rec.IsTest)).Inc()
	return nil
}

// RecordNotice counts received notices.
func (s *PromSink) RecordNotice(rec coremetrics.NoticeRecord) error {
	s.notices.WithLabelValues(rec.Stream, strconv.FormatBool(rec.IsTest)).Inc()
	return nil
}

// RecordHeartbeatLag sets the heartbeat lag gauge.
func (s *PromSink) RecordHeartbeatLag(lag time.Duration) error {
	s.heartbeatLag.Set(lag.Seconds())
	return nil
}
