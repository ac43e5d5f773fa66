package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"
)

// Publisher is the part of an MQTT client the mirror needs.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTMirror republishes channel events as retained MQTT messages so devices that
// talk MQTT instead of websockets can follow a channel too.
type MQTTMirror struct {
	Layer
	client  Publisher
	prefix  string
	timeout time.Duration
}

func NewMQTTMirror(layer Layer, client Publisher, prefix string) *MQTTMirror {
	return &MQTTMirror{Layer: layer, client: client, prefix: strings.TrimSuffix(prefix, "/"), timeout: 5 * time.Second}
}

// Topic maps "schedule.3" to "<prefix>/schedule/3".
func (m *MQTTMirror) Topic(channel string) string {
	return m.prefix + "/" + strings.ReplaceAll(channel, ".", "/")
}

func (m *MQTTMirror) SendToChannel(ctx context.Context, channel string, e Event) error {
	if err := m.Layer.SendToChannel(ctx, channel, e); err != nil {
		return err
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	topic := m.Topic(channel)
	token := m.client.Publish(topic, 1, true, payload)
	if !token.WaitTimeout(m.timeout) {
		log.Warn().Str("topic", topic).Msg("mqtt publish timed out")
		return nil
	}
	if err := token.Error(); err != nil {
		log.Error().Err(err).Str("topic", topic).Msg("mqtt publish failed")
	}
	return nil
}

// NewMQTTClient connects to broker and logs connection changes.
func NewMQTTClient(broker, clientID string) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.OnConnect = func(mqtt.Client) {
		log.Info().Str("broker", broker).Msg("connected to MQTT broker")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", broker).Msg("MQTT connection lost")
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}
