package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/tracet/core/metrics"
	"github.com/kilianp07/tracet/core/model"
)

type lineServer struct {
	*httptest.Server
	mu     sync.Mutex
	bodies []string
}

func newLineServer(t *testing.T) *lineServer {
	t.Helper()
	s := &lineServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.bodies = append(s.bodies, strings.TrimSpace(string(b)))
		s.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(s.Close)
	return s
}

func line(p *write.Point) string {
	return strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
}

func TestInfluxSink_RecordDecision(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	now := time.Now()
	rec := coremetrics.DecisionRecord{TriggerID: "grb", EventID: "ev1", Source: model.SourceNotice, Conclusion: model.Pass, Time: now}
	if err := sink.RecordDecision(rec); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("decision").
		AddTag("trigger_id", "grb").
		AddTag("source", "notice").
		AddTag("conclusion", "Pass").
		AddField("event_id", "ev1").
		AddField("vote", 1).
		SetTime(now)
	if len(srv.bodies) != 1 || srv.bodies[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", srv.bodies)
	}
}

func TestInfluxSink_RecordObservation(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(srv.URL+"/api/v2/write", "token", "org", "bucket")
	now := time.Now()
	rec := coremetrics.ObservationRecord{
		TriggerID: "grb", Observatory: model.MWA, Status: model.StatusClash, Priority: 4, IsTest: true, Time: now,
	}
	if err := sink.RecordObservation(rec); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("observation").
		AddTag("trigger_id", "grb").
		AddTag("observatory", "MWA").
		AddTag("status", "clash").
		AddTag("test", "true").
		AddField("priority", 4).
		SetTime(now)
	if len(srv.bodies) != 1 || srv.bodies[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", srv.bodies)
	}
}

func TestInfluxSink_RecordNotice(t *testing.T) {
	srv := newLineServer(t)
	sink := NewInfluxSink(srv.URL, "token", "org", "bucket")
	now := time.Now()
	if err := sink.RecordNotice(coremetrics.NoticeRecord{Stream: "swift", Time: now}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("notice").
		AddTag("stream", "swift").
		AddTag("test", "false").
		AddField("count", 1).
		SetTime(now)
	if len(srv.bodies) != 1 || srv.bodies[0] != line(p) {
		t.Errorf("unexpected bodies: %#v", srv.bodies)
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(srv.URL+"/api/v2/write", "tok", "org", "bucket")
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatalf("health endpoint not called")
	}
}
