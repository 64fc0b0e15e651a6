package mqtt

import (
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/kilianp07/tracet/core/model"
	coremon "github.com/kilianp07/tracet/core/monitoring"
	"github.com/kilianp07/tracet/infra/logger"
)

// HeartbeatHandler receives the raw payload of heartbeat messages.
type HeartbeatHandler func(payload []byte) error

// Listener turns broker messages into notices. Notices are delivered in
// arrival order on a single channel so that they are evaluated one at a time.
type Listener struct {
	cli       pahoClient
	cfg       Config
	notices   chan *model.Notice
	heartbeat HeartbeatHandler
	logger    logger.Logger
	now       func() time.Time

	closeOnce sync.Once
	done      chan struct{}
}

// NewListener connects to the broker and subscribes to every stream topic
// and to the heartbeat topic. Subscriptions are renewed on reconnect.
func NewListener(cfg Config, heartbeat HeartbeatHandler) (*Listener, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := NewClientOptions(cfg)
	if err != nil {
		return nil, err
	}
	log := logger.New("mqtt_listener")
	l := &Listener{
		cfg:       cfg,
		notices:   make(chan *model.Notice, cfg.BufferSize),
		heartbeat: heartbeat,
		logger:    log,
		now:       time.Now,
		done:      make(chan struct{}),
	}
	opts.OnConnect = func(c paho.Client) {
		log.Infof("MQTT connected")
		l.subscribe(c)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		log.Errorf("connection lost: %v", err)
	}
	opts.OnReconnecting = func(_ paho.Client, _ *paho.ClientOptions) {
		log.Warnf("reconnecting to MQTT broker")
	}
	c := newMQTTClient(opts)
	l.cli = c
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}
	return l, nil
}

type subscriber interface {
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
}

func (l *Listener) subscribe(c subscriber) {
	for _, topic := range l.cfg.subscriptions() {
		handler := l.onNotice
		if topic == l.cfg.HeartbeatTopic {
			handler = l.onHeartbeat
		}
		if token := c.Subscribe(topic, l.cfg.QoS, handler); token.Wait() && token.Error() != nil {
			l.logger.Errorf("subscribe %s error: %v", topic, token.Error())
			coremon.CaptureModule(token.Error(), "mqtt", coremon.TagTopic, topic)
		}
	}
}

// Notices returns the channel of received notices.
func (l *Listener) Notices() <-chan *model.Notice { return l.notices }

func (l *Listener) onNotice(_ paho.Client, msg paho.Message) {
	stream, ok := l.cfg.Topics[msg.Topic()]
	if !ok {
		l.logger.Warnf("message on unmapped topic %s", msg.Topic())
		return
	}
	payload := append([]byte(nil), msg.Payload()...)
	n := &model.Notice{Stream: stream, Created: l.now().UTC(), Payload: payload}
	select {
	case l.notices <- n:
	case <-l.done:
	}
}

func (l *Listener) onHeartbeat(_ paho.Client, msg paho.Message) {
	if l.heartbeat == nil {
		return
	}
	if err := l.heartbeat(msg.Payload()); err != nil {
		l.logger.Warnf("heartbeat error: %v", err)
	}
}

// Close disconnects from the broker and releases blocked deliveries.
func (l *Listener) Close() {
	l.closeOnce.Do(func() {
		if l.cli != nil && l.cli.IsConnected() {
			l.cli.Disconnect(250)
		}
		close(l.done)
	})
}
