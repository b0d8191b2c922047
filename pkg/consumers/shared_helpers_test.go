package consumers_test

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
)

// testEvent is a small payload used across the pipeline tests.
type testEvent struct {
	DeviceID string `json:"deviceId"`
	Value    int    `json:"value"`
}

// MockMessageConsumer is a channel backed MessageConsumer.
type MockMessageConsumer struct {
	mu         sync.Mutex
	messagesCh chan types.ConsumedMessage
	doneCh     chan struct{}
	stopped    bool
	startErr   error
}

// NewMockMessageConsumer creates an instance of the mock consumer.
func NewMockMessageConsumer(bufferSize int) *MockMessageConsumer {
	return &MockMessageConsumer{
		messagesCh: make(chan types.ConsumedMessage, bufferSize),
		doneCh:     make(chan struct{}),
	}
}

func (m *MockMessageConsumer) Messages() <-chan types.ConsumedMessage { return m.messagesCh }
func (m *MockMessageConsumer) Start(ctx context.Context) error        { return m.startErr }
func (m *MockMessageConsumer) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		close(m.messagesCh)
		close(m.doneCh)
		m.stopped = true
	}
	return nil
}
func (m *MockMessageConsumer) Done() <-chan struct{} { return m.doneCh }
func (m *MockMessageConsumer) Push(msg types.ConsumedMessage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.stopped {
		m.messagesCh <- msg
	}
}

// settleRecorder counts Acks and Nacks for one message.
type settleRecorder struct {
	acks  atomic.Int32
	nacks atomic.Int32
}

func (r *settleRecorder) message(id string, payload []byte) types.ConsumedMessage {
	return types.ConsumedMessage{
		ID:      id,
		Payload: payload,
		Ack:     func() { r.acks.Add(1) },
		Nack:    func() { r.nacks.Add(1) },
	}
}
