package sighting

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rootCircle/Beaconify/internal/mocks"
	"github.com/rootCircle/Beaconify/pkg/beacon"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tarm/serial"
)

var idA = beacon.Identity{UUID: "f7826da6-4fa2-4e98-8024-bc5b71e0893e", Major: "1", Minor: "7"}

func receive(t *testing.T, ch <-chan []beacon.Sighting) []beacon.Sighting {
	t.Helper()
	select {
	case batch, ok := <-ch:
		require.True(t, ok, "channel closed")
		return batch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for batch")
		return nil
	}
}

// TestParseLine tests the scanner line format.
func TestParseLine(t *testing.T) {
	s, err := ParseLine(" f7826da6-4fa2-4e98-8024-bc5b71e0893e, 1 ,7,-67,2.45\r")
	require.NoError(t, err)
	assert.Equal(t, beacon.Sighting{Identity: idA, RSSI: -67, Distance: 2.45}, s)

	for _, bad := range []string{"", "a,b,c", "a,1,1,strong,1.0", "a,1,1,-60,far", ",1,1,-60,1.0"} {
		_, err := ParseLine(bad)
		assert.Error(t, err, "line %q", bad)
	}
}

// TestDecodeBatch tests both accepted JSON shapes.
func TestDecodeBatch(t *testing.T) {
	object := []byte(`{"scanner_id":"hall-1","sightings":[
		{"uuid":"f7826da6-4fa2-4e98-8024-bc5b71e0893e","major":"1","minor":"7","rssi":-67,"distance":2.45},
		{"uuid":"","major":"1","minor":"8","rssi":-70,"distance":3}]}`)
	sightings, skipped, err := DecodeBatch(object)
	require.NoError(t, err)
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []beacon.Sighting{{Identity: idA, RSSI: -67, Distance: 2.45}}, sightings)

	array := []byte(` [{"uuid":"f7826da6-4fa2-4e98-8024-bc5b71e0893e","major":"1","minor":"7","rssi":-60,"distance":1}]`)
	sightings, skipped, err = DecodeBatch(array)
	require.NoError(t, err)
	assert.Zero(t, skipped)
	require.Len(t, sightings, 1)
	assert.Equal(t, -60, sightings[0].RSSI)

	_, _, err = DecodeBatch([]byte(`{"sightings":`))
	assert.ErrorContains(t, err, "failed to decode sighting batch")
}

// TestChannelSource tests pushing, dropping and closing.
func TestChannelSource(t *testing.T) {
	src := NewChannelSource(1, zerolog.Nop())
	require.NoError(t, src.Start())

	require.NoError(t, src.Push(context.Background(), []beacon.Sighting{{Identity: idA}}))
	assert.False(t, src.TryPush(nil), "buffer is full")
	assert.Equal(t, uint64(1), src.Dropped())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, src.Push(ctx, nil), context.DeadlineExceeded)

	assert.Len(t, receive(t, src.Batches()), 1)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	_, ok := <-src.Batches()
	assert.False(t, ok)
	assert.ErrorIs(t, src.Push(context.Background(), nil), ErrClosed)
	assert.False(t, src.TryPush(nil))
}

// TestChannelSource_Restart tests that a closed source delivers again after Start.
func TestChannelSource_Restart(t *testing.T) {
	src := NewChannelSource(1, zerolog.Nop())
	require.NoError(t, src.Start())
	first := src.Batches()
	require.NoError(t, src.Close())

	require.NoError(t, src.Start())
	second := src.Batches()
	assert.NotEqual(t, first, second)

	require.NoError(t, src.Push(context.Background(), []beacon.Sighting{{Identity: idA}}))
	assert.Len(t, receive(t, second), 1)

	// starting an open source keeps its channel
	require.NoError(t, src.Start())
	assert.Equal(t, second, src.Batches())
}

// TestMQTTSource tests that published batches reach the channel.
func TestMQTTSource(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	var handler mqtt.MessageHandler
	client.On("Subscribe", "beacons/scans", byte(1), mock.Anything).
		Run(func(args mock.Arguments) { handler = args.Get(2).(mqtt.MessageHandler) }).
		Return(mocks.CompletedToken(nil))
	client.On("Unsubscribe", []string{"beacons/scans"}).Return(mocks.CompletedToken(nil))

	src := NewMQTTSource(client, "beacons/scans", 1, 4, zerolog.Nop())
	require.NoError(t, src.Start())
	assert.Error(t, src.Start())
	require.NotNil(t, handler)

	handler(nil, mocks.NewMockMessage("beacons/scans", []byte("not json")))
	handler(nil, mocks.NewMockMessage("beacons/scans",
		[]byte(`[{"uuid":"f7826da6-4fa2-4e98-8024-bc5b71e0893e","major":"1","minor":"7","rssi":-58,"distance":0.8}]`)))

	batch := receive(t, src.Batches())
	assert.Equal(t, []beacon.Sighting{{Identity: idA, RSSI: -58, Distance: 0.8}}, batch)

	require.NoError(t, src.Close())
	_, ok := <-src.Batches()
	assert.False(t, ok)

	// a restarted source subscribes again and delivers on a fresh channel
	require.NoError(t, src.Start())
	handler(nil, mocks.NewMockMessage("beacons/scans",
		[]byte(`[{"uuid":"f7826da6-4fa2-4e98-8024-bc5b71e0893e","major":"1","minor":"7","rssi":-61,"distance":1.2}]`)))
	batch = receive(t, src.Batches())
	assert.Equal(t, -61, batch[0].RSSI)
	require.NoError(t, src.Close())

	client.AssertNumberOfCalls(t, "Subscribe", 2)
	client.AssertExpectations(t)
}

// TestMQTTSource_SubscribeFailure tests that a failed subscription is reported.
func TestMQTTSource_SubscribeFailure(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Subscribe", "beacons/scans", byte(0), mock.Anything).Return(mocks.CompletedToken(errors.New("not authorized")))

	src := NewMQTTSource(client, "beacons/scans", 0, 0, zerolog.Nop())
	assert.ErrorContains(t, src.Start(), "not authorized")
	assert.NoError(t, src.Close())
}

// TestSerialSource tests line batching per scan period.
func TestSerialSource(t *testing.T) {
	reader, writer := io.Pipe()
	src := NewSerialSource(SerialConfig{Port: "/dev/ttyACM0", BaudRate: 115200, ScanPeriod: 20 * time.Millisecond}, zerolog.Nop())
	var opened *serial.Config
	src.open = func(c *serial.Config) (io.ReadCloser, error) {
		opened = c
		return reader, nil
	}

	require.NoError(t, src.Start())
	assert.Error(t, src.Start())
	assert.Equal(t, "/dev/ttyACM0", opened.Name)
	assert.Equal(t, 115200, opened.Baud)

	go func() {
		_, _ = io.WriteString(writer, "garbage\nf7826da6-4fa2-4e98-8024-bc5b71e0893e,1,7,-61,1.5\n")
	}()

	var got []beacon.Sighting
	deadline := time.After(2 * time.Second)
	for len(got) == 0 {
		select {
		case batch := <-src.Batches():
			got = append(got, batch...)
		case <-deadline:
			t.Fatal("no sighting batch emitted")
		}
	}
	assert.Equal(t, []beacon.Sighting{{Identity: idA, RSSI: -61, Distance: 1.5}}, got)

	// empty periods still produce batches
	assert.Empty(t, receive(t, src.Batches()))

	require.NoError(t, src.Close())
	for range src.Batches() {
	}
}

// TestSerialSource_OpenFailure tests that an unavailable port fails Start.
func TestSerialSource_OpenFailure(t *testing.T) {
	src := NewSerialSource(SerialConfig{Port: "/dev/missing"}, zerolog.Nop())
	src.open = func(*serial.Config) (io.ReadCloser, error) {
		return nil, errors.New("no such device")
	}
	assert.EqualError(t, src.Start(), "no such device")
	assert.NoError(t, src.Close())
}
