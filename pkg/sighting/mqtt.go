package sighting

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

// Subscriber is the slice of the MQTT client a MQTTSource needs.
type Subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Unsubscribe(topics ...string) mqtt.Token
}

// MQTTSource turns JSON batches published on a topic into sighting batches.
type MQTTSource struct {
	*emitter
	client  Subscriber
	topic   string
	qos     byte
	timeout time.Duration

	mu      sync.Mutex
	started bool
}

// NewMQTTSource creates a source subscribed to topic once started.
func NewMQTTSource(client Subscriber, topic string, qos byte, buffer int, logger zerolog.Logger) *MQTTSource {
	return &MQTTSource{
		emitter: newEmitter(buffer, logger),
		client:  client,
		topic:   topic,
		qos:     qos,
		timeout: 5 * time.Second,
	}
}

// Start implements Source.
func (m *MQTTSource) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("mqtt sighting source is already running")
	}
	m.reopen()

	token := m.client.Subscribe(m.topic, m.qos, m.handleMessage)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("timed out subscribing to %s", m.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", m.topic, err)
	}

	m.started = true
	m.logger.Info().Str("topic", m.topic).Int("qos", int(m.qos)).Msg("Subscribed to sighting topic")
	return nil
}

func (m *MQTTSource) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	sightings, skipped, err := DecodeBatch(msg.Payload())
	if err != nil {
		m.logger.Warn().Err(err).Str("topic", msg.Topic()).Msg("Discarding malformed sighting message")
		return
	}
	if skipped > 0 {
		m.logger.Debug().Int("skipped", skipped).Msg("Skipped sightings without identity")
	}
	m.emit(sightings)
}

// Close implements Source.
func (m *MQTTSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	if m.started {
		token := m.client.Unsubscribe(m.topic)
		if token.WaitTimeout(m.timeout) {
			err = token.Error()
		}
		m.started = false
	}
	m.close()
	return err
}
