package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/MRamiBalles/vaultsim/server/internal/events"
	"github.com/MRamiBalles/vaultsim/server/internal/platform/config"
)

// Publisher is the part of an MQTT client the sink needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
}

// MQTTClient wraps a paho client.
type MQTTClient struct {
	client mqtt.Client
}

// NewMQTTClient connects to the configured broker.
func NewMQTTClient(cfg config.MQTTConfig) (*MQTTClient, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return &MQTTClient{client: client}, nil
}

// Publish sends one message and waits for the broker acknowledgement.
func (c *MQTTClient) Publish(topic string, qos byte, retained bool, payload []byte) error {
	token := c.client.Publish(topic, qos, retained, payload)
	token.Wait()
	if token.Error() != nil {
		return fmt.Errorf("failed to publish to topic %s: %w", topic, token.Error())
	}
	return nil
}

// Disconnect closes the connection, waiting up to 250ms for in-flight work.
func (c *MQTTClient) Disconnect() {
	c.client.Disconnect(250)
}

// MQTTSink publishes each event to {prefix}/{vault_id}/events.
type MQTTSink struct {
	pub    Publisher
	prefix string
	qos    byte
}

// NewMQTTSink creates a sink over any Publisher.
func NewMQTTSink(pub Publisher, prefix string, qos byte) *MQTTSink {
	return &MQTTSink{pub: pub, prefix: prefix, qos: qos}
}

func (s *MQTTSink) Name() string { return "mqtt" }

// Topic is where events of a vault are published.
func (s *MQTTSink) Topic(vaultID string) string {
	return fmt.Sprintf("%s/%s/events", s.prefix, vaultID)
}

func (s *MQTTSink) Publish(ctx context.Context, evts []events.VaultEvent) error {
	for _, e := range evts {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal event %s: %w", e.ID, err)
		}
		if err := s.pub.Publish(s.Topic(e.VaultID), s.qos, false, data); err != nil {
			return err
		}
	}
	return nil
}
