// Package mqttingest accepts helmet telemetry from an MQTT broker.
//
// Messages carry the same loosely typed body as the HTTP sensor endpoint. When
// the body has no identifier, the second topic level is used, so firmware can
// publish to helmets/<workerId>/telemetry without repeating the id.
package mqttingest

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ssd-technologies/hardhat/internal/config"
	"github.com/ssd-technologies/hardhat/internal/metrics"
	"github.com/ssd-technologies/hardhat/internal/state"
	"github.com/ssd-technologies/hardhat/internal/telemetry"
)

const connectTimeout = 10 * time.Second

// ErrBadTopic is returned for a topic with no usable worker segment.
var ErrBadTopic = errors.New("topic has no worker segment")

// Ingester merges a helmet payload.
type Ingester interface {
	IngestHelmet(p telemetry.Payload) (state.WorkerRecord, error)
}

// Subscriber feeds broker messages into an Ingester.
type Subscriber struct {
	cfg     config.MQTTConfig
	ing     Ingester
	aliases telemetry.Aliases
	client  mqtt.Client
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Subscriber.
type Option func(*Subscriber)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Subscriber) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Subscriber) { s.metrics = m }
}

// New creates a Subscriber. Call Connect to start receiving.
func New(cfg config.MQTTConfig, ing Ingester, opts ...Option) *Subscriber {
	s := &Subscriber{
		cfg:     cfg,
		ing:     ing,
		aliases: telemetry.DefaultAliases,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials the broker. The topic subscription is renewed on every
// (re)connect.
func (s *Subscriber) Connect() error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(s.cfg.Broker)
	opts.SetClientID(s.cfg.ClientID)
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
	}
	if s.cfg.Password != "" {
		opts.SetPassword(s.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		if err := s.subscribe(c); err != nil {
			s.logger.Error("mqtt subscribe failed", zap.Error(err))
			return
		}
		s.logger.Info("mqtt subscribed", zap.String("broker", s.cfg.Broker), zap.String("topic", s.cfg.Topic))
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		s.logger.Warn("mqtt connection lost", zap.Error(err))
	})

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("connect to mqtt broker %s: timed out", s.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("connect to mqtt broker %s: %w", s.cfg.Broker, err)
	}
	return nil
}

// subscribe registers the topic handler on c. A subscription that is not
// acknowledged within connectTimeout counts as failed.
func (s *Subscriber) subscribe(c mqtt.Client) error {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
	if !token.WaitTimeout(connectTimeout) {
		return fmt.Errorf("subscribe %s: timed out", s.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", s.cfg.Topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (s *Subscriber) Close() {
	if s.client == nil {
		return
	}
	s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
	s.client.Disconnect(250)
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	if err := s.Handle(msg.Topic(), msg.Payload()); err != nil {
		s.logger.Warn("mqtt message dropped", zap.String("topic", msg.Topic()), zap.Error(err))
	}
}

// Handle ingests one message body received on topic.
func (s *Subscriber) Handle(topic string, body []byte) error {
	var p telemetry.Payload
	if err := json.Unmarshal(body, &p); err != nil {
		s.metrics.IncRejected("bad_json")
		return fmt.Errorf("decode payload: %w", err)
	}
	if p == nil {
		p = telemetry.Payload{}
	}
	if _, ok := s.aliases.ResolveWorkerID(p); !ok {
		id, err := workerFromTopic(topic)
		if err != nil {
			s.metrics.IncRejected("missing_worker_id")
			return err
		}
		p["workerId"] = id
	}
	if _, err := s.ing.IngestHelmet(p); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	return nil
}

func workerFromTopic(topic string) (string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 {
		return "", ErrBadTopic
	}
	id := parts[1]
	if id == "" || id == "+" || id == "#" {
		return "", ErrBadTopic
	}
	return id, nil
}
