// Package heartbeat tracks the liveness of the upstream alert broker.
package heartbeat

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/araddon/dateparse"

	"github.com/kilianp07/tracet/core/logger"
	"github.com/kilianp07/tracet/core/metrics"
)

// Status is the liveness of the stream.
type Status string

const (
	StatusOK      Status = "ok"
	StatusDelayed Status = "delayed"
	StatusFailed  Status = "failed"
)

const (
	okWithin      = 5 * time.Second
	delayedWithin = 60 * time.Second
)

// Classify maps the age of the last heartbeat to a status.
func Classify(lag time.Duration) Status {
	switch {
	case lag < okWithin:
		return StatusOK
	case lag < delayedWithin:
		return StatusDelayed
	}
	return StatusFailed
}

// Parse extracts alert_datetime from a heartbeat message.
func Parse(payload []byte) (time.Time, error) {
	var msg struct {
		AlertDatetime string `json:"alert_datetime"`
	}
	if err := json.Unmarshal(payload, &msg); err != nil {
		return time.Time{}, fmt.Errorf("decode heartbeat: %w", err)
	}
	if msg.AlertDatetime == "" {
		return time.Time{}, fmt.Errorf("heartbeat has no alert_datetime")
	}
	t, err := dateparse.ParseIn(msg.AlertDatetime, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse alert_datetime: %w", err)
	}
	return t.UTC(), nil
}

// Report is a snapshot of the monitor.
type Report struct {
	Status   Status        `json:"status"`
	LastSeen *time.Time    `json:"last_seen,omitempty"`
	Lag      time.Duration `json:"lag_ns"`
}

// Monitor remembers the latest heartbeat.
type Monitor struct {
	mu       sync.RWMutex
	lastSeen time.Time
	now      func() time.Time
	logger   logger.Logger
	metrics  metrics.MetricsSink
}

// NewMonitor creates a Monitor. sink may be nil.
func NewMonitor(sink metrics.MetricsSink, log logger.Logger) *Monitor {
	if sink == nil {
		sink = metrics.NopSink{}
	}
	return &Monitor{now: time.Now, logger: log, metrics: sink}
}

// SetClock replaces the monitor's time source.
func (m *Monitor) SetClock(now func() time.Time) {
	if now != nil {
		m.now = now
	}
}

// Handle processes a raw heartbeat message.
func (m *Monitor) Handle(payload []byte) error {
	t, err := Parse(payload)
	if err != nil {
		if m.logger != nil {
			m.logger.Errorf("an error occurred processing heartbeat: %v", err)
		}
		return err
	}
	m.Record(t)
	return nil
}

// Record stores the time of a heartbeat. Older heartbeats are ignored.
func (m *Monitor) Record(at time.Time) {
	m.mu.Lock()
	if at.After(m.lastSeen) {
		m.lastSeen = at
	}
	m.mu.Unlock()
	if rec, ok := m.metrics.(metrics.HeartbeatRecorder); ok {
		if err := rec.RecordHeartbeatLag(m.now().Sub(at)); err != nil && m.logger != nil {
			m.logger.Errorf("heartbeat metrics error: %v", err)
		}
	}
}

// Report returns the current liveness. A monitor that never saw a heartbeat
// reports failure.
func (m *Monitor) Report() Report {
	m.mu.RLock()
	last := m.lastSeen
	m.mu.RUnlock()
	if last.IsZero() {
		return Report{Status: StatusFailed}
	}
	lag := m.now().Sub(last)
	return Report{Status: Classify(lag), LastSeen: &last, Lag: lag}
}
