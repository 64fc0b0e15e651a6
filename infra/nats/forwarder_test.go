package nats

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/tracet/core/events"
	"github.com/kilianp07/tracet/core/model"
	"github.com/kilianp07/tracet/internal/eventbus"
)

type message struct {
	subject string
	data    []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, message{subject, data})
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.msgs)
}

func TestForwardDecision(t *testing.T) {
	pub := &fakePublisher{}
	f := newForwarder(pub, "tracet")
	ev := events.DecisionEvent{
		TriggerID:  "grb",
		GroupID:    "1234",
		Decision:   model.Decision{ID: "d1", EventID: "e1", Source: model.SourceNotice},
		Conclusion: model.Pass,
	}
	require.NoError(t, f.Forward(ev))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "tracet.decisions", pub.msgs[0].subject)

	var got map[string]any
	require.NoError(t, json.Unmarshal(pub.msgs[0].data, &got))
	assert.Equal(t, "grb", got["trigger_id"])
	assert.Equal(t, "pass", got["conclusion"])
}

func TestForwardObservation(t *testing.T) {
	pub := &fakePublisher{}
	f := newForwarder(pub, "alerts")
	ev := events.ObservationEvent{Observation: model.Observation{ID: "o1", TriggerID: "grb", Observatory: model.MWA, Status: model.StatusClash}}
	require.NoError(t, f.Forward(ev))
	require.Len(t, pub.msgs, 1)
	assert.Equal(t, "alerts.observations", pub.msgs[0].subject)
	assert.Contains(t, string(pub.msgs[0].data), `"status":"clash"`)
}

func TestForwardIgnoresOtherEvents(t *testing.T) {
	pub := &fakePublisher{}
	f := newForwarder(pub, "tracet")
	require.NoError(t, f.Forward(events.NoticeEvent{Notice: &model.Notice{ID: "n1"}}))
	assert.Empty(t, pub.msgs)
}

func TestForwardPublishError(t *testing.T) {
	f := newForwarder(&fakePublisher{err: errors.New("nats: connection closed")}, "tracet")
	err := f.Forward(events.ObservationEvent{})
	assert.ErrorContains(t, err, "publish tracet.observations")
}

func TestRunForwardsUntilCancelled(t *testing.T) {
	pub := &fakePublisher{}
	f := newForwarder(pub, "tracet")
	bus := eventbus.New()
	defer bus.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		f.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(events.DecisionEvent{TriggerID: "grb"})
		return pub.count() > 0
	}, time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder did not stop")
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, "tracet", c.Prefix)
	assert.Equal(t, DefaultBuffer, c.Buffer)
}

func TestRunSkipsNoticeTopic(t *testing.T) {
	pub := &fakePublisher{}
	f := newForwarder(pub, "tracet")
	bus := eventbus.New(eventbus.WithBuffer(1))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		f.Run(ctx, bus)
		close(done)
	}()

	require.Eventually(t, func() bool {
		bus.Publish(events.NoticeEvent{Notice: &model.Notice{ID: "n1"}})
		bus.Publish(events.ObservationEvent{Observation: model.Observation{ID: "o1"}})
		return pub.count() > 0
	}, time.Second, 10*time.Millisecond)

	bus.Close()
	<-done
	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, m := range pub.msgs {
		assert.Equal(t, "tracet.observations", m.subject)
	}
}
