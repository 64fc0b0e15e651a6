package metrics

import (
	"time"

	"github.com/kilianp07/tracet/core/model"
)

// DecisionRecord describes a saved decision.
type DecisionRecord struct {
	TriggerID  string
	EventID    string
	Source     model.Source
	Conclusion model.Vote
	Time       time.Time
}

// MetricsSink records pipeline activity for observability purposes.
type MetricsSink interface {
	RecordDecision(rec DecisionRecord) error
}

// ObservationRecord describes a finished dispatch attempt.
type ObservationRecord struct {
	TriggerID   string
	Observatory model.Observatory
	Status      model.Status
	Priority    int
	IsTest      bool
	Time        time.Time
}

// ObservationRecorder records dispatch outcomes.
type ObservationRecorder interface {
	RecordObservation(rec ObservationRecord) error
}

// NoticeRecord describes a received notice.
type NoticeRecord struct {
	Stream string
	IsTest bool
	Time   time.Time
}

// NoticeRecorder records incoming notices.
type NoticeRecorder interface {
	RecordNotice(rec NoticeRecord) error
}

// HeartbeatRecorder records the delay of the upstream heartbeat.
type HeartbeatRecorder interface {
	RecordHeartbeatLag(lag time.Duration) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordDecision(DecisionRecord) error       { return nil }
func (NopSink) RecordObservation(ObservationRecord) error { return nil }
func (NopSink) RecordNotice(NoticeRecord) error           { return nil }
func (NopSink) RecordHeartbeatLag(time.Duration) error    { return nil }
