package sink

import (
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/ghalamif/AegisAgent/internal/domain"
	"github.com/ghalamif/AegisAgent/internal/ports"
)

// MQTTConfig configures the MQTT archive sink.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	TopicPrefix string        `yaml:"topic_prefix"`
	QoS         byte          `yaml:"qos"`
	Retain      bool          `yaml:"retain"`
	Timeout     time.Duration `yaml:"timeout"`
}

func (c *MQTTConfig) applyDefaults() {
	if c.ClientID == "" {
		c.ClientID = "aegis-agent-" + uuid.NewString()[:8]
	}
	if c.TopicPrefix == "" {
		c.TopicPrefix = "aegis"
	}
	c.TopicPrefix = strings.TrimSuffix(c.TopicPrefix, "/")
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
}

// Publisher is the part of mqtt.Client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes every observation as a JSON message on
// <prefix>/<device uuid>/<data item id>.
type MQTTSink struct {
	cfg    MQTTConfig
	client Publisher
	obs    ports.Observability
}

var _ ports.Sink = (*MQTTSink)(nil)

func NewMQTTSink(client Publisher, cfg MQTTConfig, obs ports.Observability) *MQTTSink {
	cfg.applyDefaults()
	if obs == nil {
		obs = ports.Discard
	}
	return &MQTTSink{cfg: cfg, client: client, obs: obs}
}

// DialMQTT connects to the broker and returns a sink over the connection.
func DialMQTT(cfg MQTTConfig, obs ports.Observability) (*MQTTSink, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("sink.DialMQTT: broker is required")
	}
	cfg.applyDefaults()
	if obs == nil {
		obs = ports.Discard
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.Timeout)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		obs.LogInfo("mqtt_sink_connected", ports.F("broker", cfg.Broker), ports.F("client_id", cfg.ClientID))
	})
	opts.SetConnectionLostHandler(func(c mqtt.Client, err error) {
		obs.LogWarn("mqtt_sink_connection_lost", err, ports.F("broker", cfg.Broker))
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("sink.DialMQTT: connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("sink.DialMQTT: connect failed: %w", err)
	}
	return NewMQTTSink(client, cfg, obs), nil
}

func (m *MQTTSink) Name() string { return "mqtt" }

// Topic returns the topic an observation is published on.
func (m *MQTTSink) Topic(obs *domain.Observation) string {
	device := obs.DeviceUUID
	if device == "" {
		device = "_"
	}
	return m.cfg.TopicPrefix + "/" + device + "/" + obs.DataItemID
}

func (m *MQTTSink) WriteBatch(batch []*domain.Observation) error {
	tokens := make([]mqtt.Token, 0, len(batch))
	for _, obs := range batch {
		payload, err := json.Marshal(obs)
		if err != nil {
			return fmt.Errorf("sink.WriteBatch: marshal failed: %w", err)
		}
		tokens = append(tokens, m.client.Publish(m.Topic(obs), m.cfg.QoS, m.cfg.Retain, payload))
	}
	for i, token := range tokens {
		if !token.WaitTimeout(m.cfg.Timeout) {
			return fmt.Errorf("sink.WriteBatch: publish of sequence %d timed out", batch[i].Sequence)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("sink.WriteBatch: publish failed: %w", err)
		}
	}
	return nil
}

// Close disconnects the underlying client when the sink owns one.
func (m *MQTTSink) Close() {
	if c, ok := m.client.(mqtt.Client); ok {
		c.Disconnect(uint(m.cfg.Timeout / time.Millisecond))
	}
}
