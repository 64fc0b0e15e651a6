package heartbeat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tracet/core/metrics"
	"github.com/kilianp07/tracet/infra/logger"
)

type lagSink struct {
	metrics.NopSink
	lags []time.Duration
}

func (s *lagSink) RecordHeartbeatLag(lag time.Duration) error {
	s.lags = append(s.lags, lag)
	return nil
}

func TestClassify(t *testing.T) {
	assert.Equal(t, StatusOK, Classify(0))
	assert.Equal(t, StatusOK, Classify(4999*time.Millisecond))
	assert.Equal(t, StatusDelayed, Classify(5*time.Second))
	assert.Equal(t, StatusDelayed, Classify(59*time.Second))
	assert.Equal(t, StatusFailed, Classify(time.Minute))
}

func TestParse(t *testing.T) {
	ts, err := Parse([]byte(`{"alert_datetime": "2024-03-04T05:06:07.5Z", "alert_type": "heartbeat"}`))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 3, 4, 5, 6, 7, 5e8, time.UTC), ts)

	_, err = Parse([]byte(`{}`))
	assert.Error(t, err)
	_, err = Parse([]byte(`not json`))
	assert.Error(t, err)
}

func TestMonitorReport(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 10, 0, time.UTC)
	m := NewMonitor(nil, logger.NopLogger{})
	m.SetClock(func() time.Time { return now })
	assert.Equal(t, StatusFailed, m.Report().Status)

	require.NoError(t, m.Handle([]byte(`{"alert_datetime": "2024-03-04T05:06:07Z"}`)))
	r := m.Report()
	assert.Equal(t, StatusOK, r.Status)
	assert.Equal(t, 3*time.Second, r.Lag)

	m.Record(now.Add(-time.Hour))
	assert.Equal(t, StatusOK, m.Report().Status)

	now = now.Add(30 * time.Second)
	assert.Equal(t, StatusDelayed, m.Report().Status)

	assert.Error(t, m.Handle([]byte(`{"alert_datetime": "soon"}`)))
}

func TestMonitorRecordsLag(t *testing.T) {
	now := time.Date(2024, 3, 4, 5, 6, 10, 0, time.UTC)
	sink := &lagSink{}
	m := NewMonitor(sink, logger.NopLogger{})
	m.SetClock(func() time.Time { return now })
	m.Record(now.Add(-2 * time.Second))
	assert.Equal(t, []time.Duration{2 * time.Second}, sink.lags)
}
