package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/smukkama/plant-monitor/pkg/config"
)

// MQTTMessage is the JSON payload published for an alert.
type MQTTMessage struct {
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	SentAt  time.Time `json:"sent_at"`
}

// MQTTSender publishes alerts to a broker. The recipient passed to Send is
// the topic.
type MQTTSender struct {
	client mqtt.Client
}

// NewMQTTSender connects to the broker configured in cfg.
func NewMQTTSender(cfg config.MQTTConfig, timeout time.Duration) (*MQTTSender, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker %s: %w", cfg.BrokerURL, err)
	}

	return &MQTTSender{client: c}, nil
}

// Send publishes subject and body as JSON on topic with QoS 1.
func (m *MQTTSender) Send(ctx context.Context, topic, subject, body string) error {
	payload, err := json.Marshal(MQTTMessage{Subject: subject, Body: body, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal mqtt message: %w", err)
	}

	token := m.client.Publish(topic, 1, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("failed to publish to %s: %w", topic, ctx.Err())
	}
}

// Close disconnects from the broker.
func (m *MQTTSender) Close() error {
	m.client.Disconnect(250)
	return nil
}
