package devicemanager

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"cloud.google.com/go/iot/apiv1/iotpb"
	"github.com/illmade-knight/iot-device-bridge/pkg/logsink"
	"github.com/illmade-knight/iot-device-bridge/pkg/registry"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultRegistryID is the registry devices are created in unless configured otherwise.
const DefaultRegistryID = "android"

// DefaultAPIToken is the bearer token accepted when none are configured.
const DefaultAPIToken = "1234"

// RegistryClient is the device registry as the manager uses it.
// *registry.Client satisfies it.
type RegistryClient interface {
	ProjectID() string
	InitializeClient(ctx context.Context) (registry.DeviceService, error)
	GetDevice(ctx context.Context, deviceID, registryID string) (*iotpb.Device, error)
	CreateRsaDevice(ctx context.Context, deviceID, registryID, rsaCertificate string) (*iotpb.Device, error)
	SendDeviceConfig(ctx context.Context, deviceID, registryID string, data any) (*iotpb.DeviceConfig, error)
	SendDeviceCommand(ctx context.Context, deviceID, registryID string, data any) error
	DeleteDevice(ctx context.Context, deviceID, registryID string) error
}

// StateStore keeps the last reported state of each device.
type StateStore interface {
	SaveState(ctx context.Context, deviceID string, state json.RawMessage) error
	GetState(ctx context.Context, deviceID string) (map[string]any, error)
}

// LogSink receives device log lines.
type LogSink interface {
	Write(ctx context.Context, lines []string, labels map[string]string) error
}

// Config holds the manager's deployment settings.
type Config struct {
	// Tokens are the accepted values of the Authorization header.
	Tokens []string
	// RegistryID is the registry devices are created in.
	RegistryID string
	// DefaultConfig is pushed to every newly registered device.
	DefaultConfig types.DeviceConfig
	// Version is reported by FnVersion.
	Version string
	// MaxBodyBytes bounds request bodies; zero means 1MiB.
	MaxBodyBytes int64
}

// DefaultConfig returns the settings the bridge runs with when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Tokens:        []string{DefaultAPIToken},
		RegistryID:    DefaultRegistryID,
		DefaultConfig: types.DefaultDeviceConfig(),
		Version:       "dev",
		MaxBodyBytes:  1 << 20,
	}
}

// Manager validates device requests and events and orchestrates the registry,
// the state store and the log sink.
type Manager struct {
	cfg      Config
	tokens   map[string]struct{}
	registry RegistryClient
	states   StateStore
	sink     LogSink
	logger   zerolog.Logger
}

// New creates a Manager. states and sink may be nil when the corresponding
// event handler is not deployed; the handler then reports every event as failed.
func New(cfg Config, registryClient RegistryClient, states StateStore, sink LogSink, logger zerolog.Logger) (*Manager, error) {
	if registryClient == nil {
		return nil, errors.New("registry client cannot be nil")
	}
	if cfg.RegistryID == "" {
		cfg.RegistryID = DefaultRegistryID
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	tokens := make(map[string]struct{}, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		if t != "" {
			tokens[t] = struct{}{}
		}
	}
	if len(tokens) == 0 {
		return nil, errors.New("at least one API access token is required")
	}
	return &Manager{
		cfg:      cfg,
		tokens:   tokens,
		registry: registryClient,
		states:   states,
		sink:     sink,
		logger:   logger.With().Str("component", "DeviceManager").Str("registry_id", cfg.RegistryID).Logger(),
	}, nil
}

// RegistryID is the registry the manager works against.
func (m *Manager) RegistryID() string {
	return m.cfg.RegistryID
}

// HasValidToken reports whether the request's Authorization header is an accepted token.
func (m *Manager) HasValidToken(r *http.Request) bool {
	return m.validToken(r.Header.Get("Authorization"))
}

func (m *Manager) validToken(token string) bool {
	_, ok := m.tokens[token]
	return ok
}

// RegisterDevice creates a device with the given RSA certificate and pushes
// the default config to it. The certificate and id come from body.
// The config is only sent once the device exists.
func (m *Manager) RegisterDevice(ctx context.Context, authHeader string, body []byte) (*types.RegistrationResponse, error) {
	if !m.validToken(authHeader) {
		return nil, ErrInvalidToken
	}

	var req types.RegistrationRequest
	if len(body) > 0 {
		if err := json.Unmarshal(body, &req); err != nil {
			m.logger.Warn().Err(err).Msg("Registration body is not valid JSON")
		}
	}
	var missing []string
	if strings.TrimSpace(req.DeviceID) == "" {
		missing = append(missing, "deviceId")
	}
	if strings.TrimSpace(req.RSACertificate) == "" {
		missing = append(missing, "rsaCertificate")
	}
	if len(missing) > 0 {
		return nil, &types.ValidationError{Fields: missing}
	}

	logger := m.logger.With().Str("device_id", req.DeviceID).Logger()

	if _, err := m.registry.InitializeClient(ctx); err != nil {
		return nil, err
	}
	if _, err := m.registry.CreateRsaDevice(ctx, req.DeviceID, m.cfg.RegistryID, req.RSACertificate); err != nil {
		logger.Warn().Err(err).Msg("Device creation failed")
		return nil, err
	}
	if _, err := m.registry.SendDeviceConfig(ctx, req.DeviceID, m.cfg.RegistryID, m.cfg.DefaultConfig); err != nil {
		logger.Warn().Err(err).Msg("Device created but default config push failed")
		return nil, err
	}

	logger.Info().Msg("Device registered")
	return &types.RegistrationResponse{
		ProjectID:  m.registry.ProjectID(),
		RegistryID: m.cfg.RegistryID,
	}, nil
}

// SendCommandToIotDevice sends data as a command to the device. It never
// fails: on error it sets data["confirmed"] to false and returns the error
// text, otherwise it returns "".
func (m *Manager) SendCommandToIotDevice(ctx context.Context, deviceID string, data map[string]any) string {
	err := m.sendCommand(ctx, deviceID, data)
	if err == nil {
		return ""
	}
	m.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Command not delivered")
	if data != nil {
		data["confirmed"] = false
	}
	return err.Error()
}

func (m *Manager) sendCommand(ctx context.Context, deviceID string, data any) error {
	if _, err := m.registry.InitializeClient(ctx); err != nil {
		return err
	}
	return m.registry.SendDeviceCommand(ctx, deviceID, m.cfg.RegistryID, data)
}

// ResetIotDevice tells the device to reset and then deletes it from the
// registry. The device is kept if the reset command cannot be delivered.
// A failed delete after a delivered command is reported but not undone.
func (m *Manager) ResetIotDevice(ctx context.Context, deviceID string) error {
	logger := m.logger.With().Str("device_id", deviceID).Logger()
	logger.Info().Msg("Resetting device")

	if err := m.sendCommand(ctx, deviceID, map[string]any{"reset": true}); err != nil {
		logger.Warn().Err(err).Msg("Reset command failed, device not deleted")
		return err
	}
	if err := m.registry.DeleteDevice(ctx, deviceID, m.cfg.RegistryID); err != nil {
		logger.Error().Err(err).Msg("Reset command delivered but device delete failed")
		return err
	}
	logger.Info().Msg("Device reset and deleted")
	return nil
}

// DeviceRecord is a device's registry record joined with its last stored state.
type DeviceRecord struct {
	Device *iotpb.Device
	State  map[string]any
}

// GetDevice reads a device's registry record and, when a state store is
// configured, its last reported state.
func (m *Manager) GetDevice(ctx context.Context, deviceID string) (*DeviceRecord, error) {
	device, err := m.registry.GetDevice(ctx, deviceID, m.cfg.RegistryID)
	if err != nil {
		return nil, err
	}
	record := &DeviceRecord{Device: device}
	if m.states != nil {
		state, err := m.states.GetState(ctx, deviceID)
		if err != nil {
			m.logger.Debug().Err(err).Str("device_id", deviceID).Msg("No stored state for device")
		} else {
			record.State = state
		}
	}
	return record, nil
}

// OnDeviceState stores the state carried by a device state event. It returns
// false, without writing, when the event has no JSON data (null counts as
// none), no attributes or
// no deviceId, and false when the write fails.
func (m *Manager) OnDeviceState(ctx context.Context, event *types.DeviceEvent) bool {
	if err := validateStateEvent(event); err != nil {
		m.logger.Warn().Err(err).Msg("Invalid device state payload")
		return false
	}
	if m.states == nil {
		m.logger.Error().Msg("No state store configured, dropping device state")
		return false
	}
	deviceID := event.DeviceID()
	if err := m.states.SaveState(ctx, deviceID, event.JSON); err != nil {
		m.logger.Warn().Err(err).Str("device_id", deviceID).Msg("Failed to save device state")
		return false
	}
	m.logger.Info().Str("device_id", deviceID).Msg("Device state saved")
	return true
}

func validateStateEvent(event *types.DeviceEvent) error {
	switch {
	case !event.HasJSON():
		return &types.MalformedMessageError{Reason: "missing json data"}
	case event.Attributes == nil:
		return &types.MalformedMessageError{Reason: "missing attributes"}
	case event.DeviceID() == "":
		return &types.MalformedMessageError{Reason: "missing deviceId attribute"}
	}
	return nil
}

// OnDeviceLogs forwards the log lines of a device logs event to the log sink,
// tagged with the device id. It returns true once the lines are written.
func (m *Manager) OnDeviceLogs(ctx context.Context, event *types.DeviceEvent) bool {
	lines, tags, err := logsFromEvent(event)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Invalid data for device logs")
		return false
	}
	if err := m.WriteLogs(ctx, lines, tags); err != nil {
		m.logger.Warn().Err(err).Str("device_id", event.DeviceID()).Msg("Failed to write device logs")
		return false
	}
	m.logger.Info().Str("device_id", event.DeviceID()).Int("count", len(lines)).Msg("Device logs written")
	return true
}

// logsFromEvent extracts the log lines and tags of an event, with the
// deviceId tag appended last.
func logsFromEvent(event *types.DeviceEvent) ([]string, []map[string]any, error) {
	if !event.HasJSON() || event.Attributes == nil {
		return nil, nil, &types.MalformedMessageError{Reason: "missing json data or attributes"}
	}
	deviceID := event.DeviceID()
	if deviceID == "" {
		return nil, nil, &types.MalformedMessageError{Reason: "missing deviceId attribute"}
	}
	batch, err := types.DecodeLogBatch(event.JSON)
	if err != nil {
		return nil, nil, err
	}
	if batch.Data == nil {
		return nil, nil, &types.MalformedMessageError{Reason: "missing log data"}
	}
	tags := make([]map[string]any, 0, len(batch.Tags)+1)
	tags = append(tags, batch.Tags...)
	tags = append(tags, map[string]any{types.DeviceIDAttribute: deviceID})
	return batch.Data, tags, nil
}

// WriteLogs submits lines to the log sink as one batch. The tags are merged
// into a single label set, later keys overwriting earlier ones.
func (m *Manager) WriteLogs(ctx context.Context, lines []string, tags []map[string]any) error {
	if m.sink == nil {
		return errors.New("no log sink configured")
	}
	if err := m.sink.Write(ctx, lines, logsink.MergeTags(tags)); err != nil {
		return &types.BackendError{Op: "write logs", Err: err}
	}
	return nil
}

// Version is the build version the manager reports.
func (m *Manager) Version() string {
	return m.cfg.Version
}
