// Package bus wraps the MQTT telemetry channel (spec §6: topic
// "logger", QoS 1) shared by every publishing worker and the
// collector's subscription. It carries the same fixed-delay reconnect
// posture as internal/broker, adapted to paho.mqtt.golang's
// connection-lost callback model instead of an explicit retry loop
// around a blocking dial.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/frvec/pipeline/internal/domain"
	"github.com/frvec/pipeline/internal/logger"
)

const Topic = "logger"

// Config bundles the MQTT broker parameters.
type Config struct {
	BrokerURL  string
	ClientID   string
	RetryDelay time.Duration
}

// Bus is a thin client shared by publishers (Publish) and the
// collector (Subscribe).
type Bus struct {
	client mqtt.Client
	log    *logger.Logger
}

// Connect dials the MQTT broker, retrying with a fixed delay on
// failure, matching spec §5's reconnection posture.
func Connect(cfg Config, log *logger.Logger) (*Bus, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(cfg.RetryDelay).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn("mqtt connection lost: %v", err)
		})

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.BrokerURL, err)
	}

	return &Bus{client: client, log: log}, nil
}

// Publish marshals event to JSON and publishes it at QoS 1 to the
// logger topic, per spec §6.
func (b *Bus) Publish(event domain.TelemetryEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal telemetry event: %w", err)
	}

	token := b.client.Publish(Topic, 1, false, body)
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt publish timed out")
	}
	return token.Error()
}

// Subscribe registers handler on the logger topic at QoS 1, used by
// the telemetry collector.
func (b *Bus) Subscribe(handler func(payload []byte)) error {
	token := b.client.Subscribe(Topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Payload())
	})
	token.Wait()
	return token.Error()
}

// Close disconnects the MQTT client.
func (b *Bus) Close() {
	b.client.Disconnect(250)
}
