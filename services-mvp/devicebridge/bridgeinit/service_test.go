package bridgeinit

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// channelConsumer is a MessageConsumer fed by the test.
type channelConsumer struct {
	msgs     chan types.ConsumedMessage
	done     chan struct{}
	stopOnce sync.Once
}

func newChannelConsumer() *channelConsumer {
	return &channelConsumer{msgs: make(chan types.ConsumedMessage, 10), done: make(chan struct{})}
}

func (c *channelConsumer) Messages() <-chan types.ConsumedMessage { return c.msgs }
func (c *channelConsumer) Start(context.Context) error            { return nil }
func (c *channelConsumer) Done() <-chan struct{}                  { return c.done }
func (c *channelConsumer) Stop() error {
	c.stopOnce.Do(func() {
		close(c.msgs)
		close(c.done)
	})
	return nil
}

func TestDeviceStatePipeline_SavesAndAcks(t *testing.T) {
	states := newMemoryStateStore()
	manager := newTestManager(t, newFakeDeviceService(), states)
	consumer := newChannelConsumer()

	pipeline, err := NewDeviceStatePipeline(newTestConfig(), consumer, manager, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, pipeline.Start())

	var acks atomic.Int32
	consumer.msgs <- types.ConsumedMessage{
		ID:         "m1",
		Payload:    []byte(`{"battery":80}`),
		Attributes: map[string]string{"deviceId": "dev1"},
		Ack:        func() { acks.Add(1) },
	}
	// Malformed: no attributes. Still acked.
	consumer.msgs <- types.ConsumedMessage{
		ID:      "m2",
		Payload: []byte(`{"battery":10}`),
		Ack:     func() { acks.Add(1) },
	}

	select {
	case id := <-states.saved:
		assert.Equal(t, "dev1", id)
	case <-time.After(5 * time.Second):
		t.Fatal("state was not saved")
	}
	assert.Eventually(t, func() bool { return acks.Load() == 2 }, 5*time.Second, 10*time.Millisecond)

	pipeline.Stop()

	state, err := states.GetState(context.Background(), "dev1")
	require.NoError(t, err)
	assert.Equal(t, float64(80), state["battery"])
	assert.Len(t, states.states, 1)
}

type recordingPipeline struct {
	name     string
	startErr error
	log      *[]string
}

func (p *recordingPipeline) Name() string { return p.name }
func (p *recordingPipeline) Start() error {
	*p.log = append(*p.log, "start "+p.name)
	return p.startErr
}
func (p *recordingPipeline) Stop() { *p.log = append(*p.log, "stop "+p.name) }

type recordingCloser struct {
	name string
	log  *[]string
}

func (c *recordingCloser) Close() error {
	*c.log = append(*c.log, "close "+c.name)
	return nil
}

func TestBridgeService_StartStopOrder(t *testing.T) {
	var log []string
	svc := NewBridgeService(nil,
		[]Pipeline{&recordingPipeline{name: "a", log: &log}, &recordingPipeline{name: "b", log: &log}},
		[]io.Closer{&recordingCloser{name: "x", log: &log}, &recordingCloser{name: "y", log: &log}},
		zerolog.Nop())

	require.NoError(t, svc.Start())
	svc.Stop()
	svc.Stop()

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a", "close y", "close x"}, log)
}

func TestBridgeService_StartFailureStopsStarted(t *testing.T) {
	var log []string
	svc := NewBridgeService(nil,
		[]Pipeline{&recordingPipeline{name: "a", log: &log}, &recordingPipeline{name: "b", startErr: errors.New("boom"), log: &log}},
		nil, zerolog.Nop())

	err := svc.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "start pipeline b")
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)
}

func TestNewManagerConfig(t *testing.T) {
	cfg := newTestConfig()
	cfg.Auth.Tokens = []string{"t1", "t2"}
	cfg.Registry.ID = "sensors"
	cfg.DeviceConfig.LoggingEnabled = true

	mc := NewManagerConfig(cfg, "")
	assert.Equal(t, []string{"t1", "t2"}, mc.Tokens)
	assert.Equal(t, "sensors", mc.RegistryID)
	assert.True(t, mc.DefaultConfig.LoggingEnabled)
	assert.Equal(t, "dev", mc.Version)

	assert.Equal(t, "1.0.0", NewManagerConfig(cfg, "1.0.0").Version)
}

func TestBuildBridgeService_InvalidConfig(t *testing.T) {
	_, err := BuildBridgeService(context.Background(), &Config{}, "dev", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "project_id is required")
}
