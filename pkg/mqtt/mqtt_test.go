package mqtt

import (
	"os"
	"path/filepath"
	"testing"

	mqttLib "github.com/eclipse/paho.mqtt.golang"
	"github.com/rootCircle/Beaconify/internal/mocks"
	"github.com/rootCircle/Beaconify/pkg/file"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// TestMqttService_ClientOptions tests broker and credential handling.
func TestMqttService_ClientOptions(t *testing.T) {
	s := NewMqttService(file.NewFileService(), zerolog.Nop())

	_, err := s.clientOptions(Options{})
	assert.EqualError(t, err, "MQTT broker address is required")

	opts, err := s.clientOptions(Options{Broker: "tcp://localhost:1883", ClientID: "locator", Username: "u", Password: "p"})
	require.NoError(t, err)
	assert.Equal(t, "locator", opts.ClientID)
	assert.Equal(t, "u", opts.Username)
	assert.Nil(t, opts.TLSConfig)
}

// TestMqttService_ClientOptions_BadCertificate tests CA certificate failures.
func TestMqttService_ClientOptions_BadCertificate(t *testing.T) {
	s := NewMqttService(file.NewFileService(), zerolog.Nop())
	dir := t.TempDir()

	_, err := s.clientOptions(Options{Broker: "ssl://localhost:8883", CACertificate: filepath.Join(dir, "missing.pem")})
	assert.ErrorContains(t, err, "failed to read CA certificate")

	garbage := filepath.Join(dir, "garbage.pem")
	require.NoError(t, os.WriteFile(garbage, []byte("not a certificate"), 0o644))
	_, err = s.clientOptions(Options{Broker: "ssl://localhost:8883", CACertificate: garbage})
	assert.EqualError(t, err, "failed to append CA certificate")
}

// TestMqttService_SubscriptionTracking tests that subscriptions are remembered for reconnects.
func TestMqttService_SubscriptionTracking(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", "scans/#", byte(1), mock.Anything).Return(mocks.CompletedToken(nil))
	client.On("Unsubscribe", []string{"scans/#"}).Return(mocks.CompletedToken(nil))

	s := NewMqttServiceWithClient(client, zerolog.Nop())
	handler := func(mqttLib.Client, mqttLib.Message) {}

	require.NoError(t, s.Subscribe("scans/#", 1, handler).Error())
	assert.Len(t, s.subscriptions, 1)

	require.NoError(t, s.Unsubscribe("scans/#").Error())
	assert.Empty(t, s.subscriptions)
	client.AssertExpectations(t)
}

// TestMqttService_Publish tests delegation to the client.
func TestMqttService_Publish(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "locator/location", byte(0), true, []byte("{}")).Return(mocks.CompletedToken(nil))
	client.On("Disconnect", uint(250)).Return()

	s := NewMqttServiceWithClient(client, zerolog.Nop())
	assert.NoError(t, s.Publish("locator/location", 0, true, []byte("{}")).Error())
	s.Disconnect(250)
	client.AssertExpectations(t)
}
