// Package nats forwards decision and observation events to a NATS server so
// that downstream tools can follow the engine without polling the store.
package nats

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/kilianp07/tracet/core/events"
	coremon "github.com/kilianp07/tracet/core/monitoring"
	"github.com/kilianp07/tracet/infra/logger"
	"github.com/kilianp07/tracet/internal/eventbus"
)

// Config holds the NATS connection settings. An empty URL disables forwarding.
type Config struct {
	URL    string `json:"url"`
	Prefix string `json:"prefix"`
	// Buffer is the event bus buffer per subscriber. Resyncs publish bursts
	// of decisions, so the forwarder needs more room than in-process readers.
	Buffer int `json:"buffer"`
}

// DefaultBuffer is the bus buffer used when forwarding is enabled.
const DefaultBuffer = 256

// SetDefaults applies the default subject prefix and buffer.
func (c *Config) SetDefaults() {
	if c.Prefix == "" {
		c.Prefix = "tracet"
	}
	if c.Buffer == 0 {
		c.Buffer = DefaultBuffer
	}
}

// forwarded lists the bus topics republished on NATS.
var forwarded = []string{events.TopicDecisions, events.TopicObservations}

type publisher interface {
	Publish(subject string, data []byte) error
}

// Forwarder republishes bus events as JSON on <prefix>.decisions and
// <prefix>.observations.
type Forwarder struct {
	pub    publisher
	conn   *nats.Conn
	prefix string
	logger logger.Logger
}

// Connect dials the NATS server and returns a forwarder using it.
func Connect(cfg Config) (*Forwarder, error) {
	cfg.SetDefaults()
	conn, err := nats.Connect(cfg.URL, nats.Name("tracet"), nats.MaxReconnects(-1))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	f := newForwarder(conn, cfg.Prefix)
	f.conn = conn
	return f, nil
}

func newForwarder(pub publisher, prefix string) *Forwarder {
	return &Forwarder{pub: pub, prefix: prefix, logger: logger.New("nats_forwarder")}
}

// Subject returns the subject an event is forwarded on, or false when the
// event is not forwarded.
func (f *Forwarder) Subject(e eventbus.Event) (string, bool) {
	topic := e.Topic()
	for _, t := range forwarded {
		if t == topic {
			return f.prefix + "." + topic, true
		}
	}
	return "", false
}

// Forward publishes a single event. Events of other types are ignored.
func (f *Forwarder) Forward(e eventbus.Event) error {
	subject, ok := f.Subject(e)
	if !ok {
		return nil
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s: %w", subject, err)
	}
	if err := f.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Run forwards bus events until ctx is done or the bus is closed.
func (f *Forwarder) Run(ctx context.Context, bus eventbus.EventBus) {
	ch := bus.Subscribe(forwarded...)
	defer func() {
		bus.Unsubscribe(ch)
		if n := bus.Dropped(); n > 0 {
			f.logger.Warnf("event bus dropped %d deliveries", n)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := f.Forward(e); err != nil {
				f.logger.Errorf("forward error: %v", err)
				coremon.CaptureModule(err, "nats", coremon.TagTopic, e.Topic())
			}
		}
	}
}

// Close drains the connection.
func (f *Forwarder) Close() {
	if f.conn != nil {
		_ = f.conn.Drain()
		f.conn.Close()
	}
}
