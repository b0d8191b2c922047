package deviceclient

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/require"
)

func newTestKey(t *testing.T) (*rsa.PrivateKey, []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pemBytes := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	return key, pemBytes
}

// doneToken is an already completed mqtt.Token.
type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	Topic   string
	QoS     byte
	Payload []byte
}

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m *fakeMessage) Duplicate() bool   { return false }
func (m *fakeMessage) Qos() byte         { return 1 }
func (m *fakeMessage) Retained() bool    { return false }
func (m *fakeMessage) Topic() string     { return m.topic }
func (m *fakeMessage) MessageID() uint16 { return 1 }
func (m *fakeMessage) Payload() []byte   { return m.payload }
func (m *fakeMessage) Ack()              {}

// fakeMQTTClient records traffic and lets tests push inbound messages.
type fakeMQTTClient struct {
	mu            sync.Mutex
	opts          *mqtt.ClientOptions
	connected     bool
	ConnectErr    error
	PublishErr    error
	published     []published
	subscriptions map[string]mqtt.MessageHandler
	disconnects   int
}

func (c *fakeMQTTClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeMQTTClient) Connect() mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = c.ConnectErr == nil
	return &doneToken{err: c.ConnectErr}
}

func (c *fakeMQTTClient) Disconnect(uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.disconnects++
}

func (c *fakeMQTTClient) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.PublishErr == nil {
		c.published = append(c.published, published{Topic: topic, QoS: qos, Payload: payload.([]byte)})
	}
	return &doneToken{err: c.PublishErr}
}

func (c *fakeMQTTClient) Subscribe(topic string, _ byte, callback mqtt.MessageHandler) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscriptions == nil {
		c.subscriptions = make(map[string]mqtt.MessageHandler)
	}
	c.subscriptions[topic] = callback
	return &doneToken{}
}

func (c *fakeMQTTClient) deliver(subscription, topic string, payload []byte) {
	c.mu.Lock()
	handler := c.subscriptions[subscription]
	c.mu.Unlock()
	handler(nil, &fakeMessage{topic: topic, payload: payload})
}

type fakeFactory struct {
	client *fakeMQTTClient
}

func (f *fakeFactory) NewClient(opts *mqtt.ClientOptions) MQTTClient {
	f.client.opts = opts
	return f.client
}
