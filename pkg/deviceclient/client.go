package deviceclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/illmade-knight/iot-device-bridge/pkg/registry"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultBrokerURL is the Cloud IoT MQTT bridge.
const DefaultBrokerURL = "ssl://mqtt.googleapis.com:8883"

// mqttUsername is ignored by the bridge but must be present.
const mqttUsername = "unused"

// MQTTClient is the subset of paho's mqtt.Client a Device uses.
type MQTTClient interface {
	IsConnected() bool
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// MQTTClientFactory creates MQTT clients from options.
type MQTTClientFactory interface {
	NewClient(opts *mqtt.ClientOptions) MQTTClient
}

// PahoMQTTClientFactory creates real paho clients.
type PahoMQTTClientFactory struct{}

func (f *PahoMQTTClientFactory) NewClient(opts *mqtt.ClientOptions) MQTTClient {
	return mqtt.NewClient(opts)
}

// Config describes one simulated device.
type Config struct {
	BrokerURL      string
	ProjectID      string
	RegistryID     string
	DeviceID       string
	PrivateKeyPEM  []byte
	TokenTTL       time.Duration
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	QoS            byte
}

// Command is a command received from the registry.
type Command struct {
	Topic   string
	Payload []byte
}

// Device is an MQTT client acting as a registered device: it publishes state
// and log events and receives config updates and commands.
type Device struct {
	cfg      Config
	factory  MQTTClientFactory
	client   MQTTClient
	logger   zerolog.Logger
	now      func() time.Time
	configs  chan []byte
	commands chan Command
	mu       sync.Mutex
}

// NewDevice validates cfg and applies defaults. A nil factory uses paho.
func NewDevice(cfg Config, factory MQTTClientFactory, logger zerolog.Logger) (*Device, error) {
	var errs []error
	if cfg.ProjectID == "" {
		errs = append(errs, errors.New("project id is required"))
	}
	if cfg.RegistryID == "" {
		errs = append(errs, errors.New("registry id is required"))
	}
	if cfg.DeviceID == "" {
		errs = append(errs, errors.New("device id is required"))
	}
	if len(cfg.PrivateKeyPEM) == 0 {
		errs = append(errs, errors.New("private key is required"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if cfg.BrokerURL == "" {
		cfg.BrokerURL = DefaultBrokerURL
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	if cfg.QoS > 1 {
		cfg.QoS = 1
	}
	if factory == nil {
		factory = &PahoMQTTClientFactory{}
	}
	return &Device{
		cfg:      cfg,
		factory:  factory,
		logger:   logger.With().Str("component", "DeviceClient").Str("device_id", cfg.DeviceID).Logger(),
		now:      time.Now,
		configs:  make(chan []byte, 10),
		commands: make(chan Command, 10),
	}, nil
}

// ClientID is the MQTT client id the bridge expects: the full device path.
func (d *Device) ClientID() string {
	return registry.DevicePath(d.cfg.ProjectID, d.cfg.RegistryID, d.cfg.DeviceID)
}

// Configs delivers config payloads pushed to the device.
func (d *Device) Configs() <-chan []byte { return d.configs }

// Commands delivers commands sent to the device.
func (d *Device) Commands() <-chan Command { return d.commands }

func (d *Device) clientOptions() (*mqtt.ClientOptions, error) {
	token, err := CreateJWT(d.cfg.ProjectID, d.cfg.PrivateKeyPEM, d.now(), d.cfg.TokenTTL)
	if err != nil {
		return nil, err
	}
	opts := mqtt.NewClientOptions()
	opts.AddBroker(d.cfg.BrokerURL)
	opts.SetClientID(d.ClientID())
	opts.SetUsername(mqttUsername)
	opts.SetPassword(token)
	opts.SetProtocolVersion(4)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(false)
	opts.SetConnectTimeout(d.cfg.ConnectTimeout)
	opts.SetKeepAlive(d.cfg.KeepAlive)
	opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		d.logger.Warn().Err(err).Msg("MQTT connection lost")
	})
	return opts, nil
}

// Connect signs a fresh JWT, connects and subscribes to the config and
// command topics.
func (d *Device) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.client != nil && d.client.IsConnected() {
		return nil
	}
	opts, err := d.clientOptions()
	if err != nil {
		return err
	}
	client := d.factory.NewClient(opts)
	if err := waitToken(ctx, client.Connect(), d.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("mqtt connect %s: %w", d.cfg.BrokerURL, err)
	}
	d.client = client
	d.logger.Info().Str("broker", d.cfg.BrokerURL).Msg("Device connected")

	if err := waitToken(ctx, client.Subscribe(ConfigTopic(d.cfg.DeviceID), 1, d.onConfig), d.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe config: %w", err)
	}
	if err := waitToken(ctx, client.Subscribe(CommandsTopic(d.cfg.DeviceID), 0, d.onCommand), d.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("subscribe commands: %w", err)
	}
	return nil
}

func (d *Device) onConfig(_ mqtt.Client, msg mqtt.Message) {
	payload := append([]byte(nil), msg.Payload()...)
	select {
	case d.configs <- payload:
	default:
		d.logger.Warn().Msg("Config channel full, dropping config")
	}
}

func (d *Device) onCommand(_ mqtt.Client, msg mqtt.Message) {
	cmd := Command{Topic: msg.Topic(), Payload: append([]byte(nil), msg.Payload()...)}
	select {
	case d.commands <- cmd:
	default:
		d.logger.Warn().Str("topic", cmd.Topic).Msg("Command channel full, dropping command")
	}
}

// PublishState publishes state as JSON on the device state topic.
func (d *Device) PublishState(ctx context.Context, state any) error {
	return d.publishJSON(ctx, StateTopic(d.cfg.DeviceID), state)
}

// PublishLogs publishes a log batch on the logs events topic.
func (d *Device) PublishLogs(ctx context.Context, lines []string, tags []map[string]any) error {
	if tags == nil {
		tags = []map[string]any{}
	}
	return d.publishJSON(ctx, EventsTopic(d.cfg.DeviceID, "logs"), types.LogBatch{Data: lines, Tags: tags})
}

func (d *Device) publishJSON(ctx context.Context, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload for %s: %w", topic, err)
	}
	d.mu.Lock()
	client := d.client
	d.mu.Unlock()
	if client == nil || !client.IsConnected() {
		return errors.New("device is not connected")
	}
	if err := waitToken(ctx, client.Publish(topic, d.cfg.QoS, false, payload), d.cfg.ConnectTimeout); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	d.logger.Debug().Str("topic", topic).Int("bytes", len(payload)).Msg("Published")
	return nil
}

// Disconnect closes the connection, allowing 250ms for in-flight work.
func (d *Device) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.client != nil {
		d.client.Disconnect(250)
		d.client = nil
		d.logger.Info().Msg("Device disconnected")
	}
}

func waitToken(ctx context.Context, token mqtt.Token, timeout time.Duration) error {
	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(timeout):
		return errors.New("timed out waiting for broker")
	}
	return token.Error()
}
