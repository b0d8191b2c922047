package deviceclient

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDevice(t *testing.T, client *fakeMQTTClient) *Device {
	t.Helper()
	_, pemBytes := newTestKey(t)
	d, err := NewDevice(Config{
		BrokerURL:     "tcp://localhost:1883",
		ProjectID:     "proj1",
		RegistryID:    "android",
		DeviceID:      "dev1",
		PrivateKeyPEM: pemBytes,
		QoS:           1,
	}, &fakeFactory{client: client}, zerolog.Nop())
	require.NoError(t, err)
	return d
}

func TestNewDevice_Validation(t *testing.T) {
	_, err := NewDevice(Config{}, nil, zerolog.Nop())
	require.Error(t, err)
	for _, want := range []string{"project id", "registry id", "device id", "private key"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDevice_ConnectOptionsAndSubscriptions(t *testing.T) {
	client := &fakeMQTTClient{}
	d := newTestDevice(t, client)

	require.NoError(t, d.Connect(context.Background()))

	assert.Equal(t, "projects/proj1/locations/us-central1/registries/android/devices/dev1", client.opts.ClientID)
	assert.Equal(t, "unused", client.opts.Username)
	assert.NotEmpty(t, client.opts.Password)
	require.Len(t, client.opts.Servers, 1)
	assert.Equal(t, "localhost:1883", client.opts.Servers[0].Host)

	assert.Contains(t, client.subscriptions, "/devices/dev1/config")
	assert.Contains(t, client.subscriptions, "/devices/dev1/commands/#")
}

func TestDevice_ConnectFailure(t *testing.T) {
	client := &fakeMQTTClient{ConnectErr: errors.New("not authorized")}
	d := newTestDevice(t, client)

	err := d.Connect(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not authorized")

	assert.Error(t, d.PublishState(context.Background(), map[string]any{"battery": 80}))
}

func TestDevice_PublishStateAndLogs(t *testing.T) {
	client := &fakeMQTTClient{}
	d := newTestDevice(t, client)
	ctx := context.Background()
	require.NoError(t, d.Connect(ctx))

	require.NoError(t, d.PublishState(ctx, map[string]any{"battery": 80}))
	require.NoError(t, d.PublishLogs(ctx, []string{"boot", "ready"}, nil))

	require.Len(t, client.published, 2)
	assert.Equal(t, "/devices/dev1/state", client.published[0].Topic)
	assert.JSONEq(t, `{"battery":80}`, string(client.published[0].Payload))
	assert.Equal(t, byte(1), client.published[0].QoS)

	assert.Equal(t, "/devices/dev1/events/logs", client.published[1].Topic)
	var batch types.LogBatch
	require.NoError(t, json.Unmarshal(client.published[1].Payload, &batch))
	assert.Equal(t, []string{"boot", "ready"}, batch.Data)
	assert.Empty(t, batch.Tags)
}

func TestDevice_PublishError(t *testing.T) {
	client := &fakeMQTTClient{PublishErr: errors.New("broker gone")}
	d := newTestDevice(t, client)
	require.NoError(t, d.Connect(context.Background()))

	err := d.PublishState(context.Background(), map[string]any{"a": 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "/devices/dev1/state")
}

func TestDevice_ReceivesConfigAndCommands(t *testing.T) {
	client := &fakeMQTTClient{}
	d := newTestDevice(t, client)
	require.NoError(t, d.Connect(context.Background()))

	client.deliver("/devices/dev1/config", "/devices/dev1/config", []byte(`{"loggingEnabled":false,"loggingLevel":2}`))
	client.deliver("/devices/dev1/commands/#", "/devices/dev1/commands", []byte(`{"reset":true}`))

	select {
	case cfg := <-d.Configs():
		assert.JSONEq(t, `{"loggingEnabled":false,"loggingLevel":2}`, string(cfg))
	case <-time.After(time.Second):
		t.Fatal("config not delivered")
	}
	select {
	case cmd := <-d.Commands():
		assert.Equal(t, "/devices/dev1/commands", cmd.Topic)
		assert.JSONEq(t, `{"reset":true}`, string(cmd.Payload))
	case <-time.After(time.Second):
		t.Fatal("command not delivered")
	}
}

func TestDevice_Disconnect(t *testing.T) {
	client := &fakeMQTTClient{}
	d := newTestDevice(t, client)
	require.NoError(t, d.Connect(context.Background()))

	d.Disconnect()
	d.Disconnect()
	assert.Equal(t, 1, client.disconnects)
	assert.False(t, client.IsConnected())
}
