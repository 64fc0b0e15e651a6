package metrics

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/tracet/core/metrics"
	"github.com/kilianp07/tracet/infra/logger"
)

// InfluxSink writes pipeline events to an InfluxDB instance using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a new sink configured for the given InfluxDB endpoint.
func NewInfluxSink(url, token, org, bucket string) *InfluxSink {
	base := strings.TrimSuffix(url, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(org, bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback tries to ping the InfluxDB instance and
// returns a NopSink if the health check fails.
func NewInfluxSinkWithFallback(url, token, org, bucket string) coremetrics.MetricsSink {
	sink := NewInfluxSink(url, token, org, bucket)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

func (s *InfluxSink) write(p *write.Point) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordDecision writes a decision point.
func (s *InfluxSink) RecordDecision(rec coremetrics.DecisionRecord) error {
	p := write.NewPointWithMeasurement("decision").
		AddTag("trigger_id", rec.TriggerID).
		AddTag("source", string(rec.Source)).
		AddTag("conclusion", rec.Conclusion.String()).
		AddField("event_id", rec.EventID).
		AddField("vote", int(rec.Conclusion)).
		SetTime(rec.Time)
	return s.write(p)
}

// RecordObservation writes a dispatch outcome.
func (s *InfluxSink) RecordObservation(rec coremetrics.ObservationRecord) error {
	p := write.NewPointWithMeasurement("observation").
		AddTag("trigger_id", rec.TriggerID).
		AddTag("observatory", string(rec.Observatory)).
		AddTag("status", string(rec.Status)).
		AddTag("test", strconv.FormatBool(rec.IsTest)).
		AddField("priority", rec.Priority).
		SetTime(rec.Time)
	return s.write(p)
}

// RecordNotice writes a received notice.
func (s *InfluxSink) RecordNotice(rec coremetrics.NoticeRecord) error {
	p := write.NewPointWithMeasurement("notice").
		AddTag("stream", rec.Stream).
		AddTag("test", strconv.FormatBool(rec.IsTest)).
		AddField("count", 1).
		SetTime(rec.Time)
	return s.write(p)
}

// RecordHeartbeatLag writes the delay of the latest heartbeat.
func (s *InfluxSink) RecordHeartbeatLag(lag time.Duration) error {
	p := write.NewPointWithMeasurement("heartbeat").
		AddField("lag_ms", lag.Milliseconds()).
		SetTime(time.Now())
	return s.write(p)
}
