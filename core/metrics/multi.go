package metrics

import "time"

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordDecision forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordDecision(rec DecisionRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordDecision(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordObservation forwards observation records when supported by the sink.
func (m *MultiSink) RecordObservation(rec ObservationRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(ObservationRecorder); ok {
			if err := r.RecordObservation(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordNotice forwards notice records when supported by the sink.
func (m *MultiSink) RecordNotice(rec NoticeRecord) error {
	for _, s := range m.Sinks {
		if r, ok := s.(NoticeRecorder); ok {
			if err := r.RecordNotice(rec); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordHeartbeatLag forwards the heartbeat lag when supported by the sink.
func (m *MultiSink) RecordHeartbeatLag(lag time.Duration) error {
	for _, s := range m.Sinks {
		if r, ok := s.(HeartbeatRecorder); ok {
			if err := r.RecordHeartbeatLag(lag); err != nil {
				return err
			}
		}
	}
	return nil
}
