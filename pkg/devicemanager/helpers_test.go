package devicemanager_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"cloud.google.com/go/iot/apiv1/iotpb"
	"github.com/illmade-knight/iot-device-bridge/pkg/devicemanager"
	"github.com/illmade-knight/iot-device-bridge/pkg/registry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testProjectID = "proj1"

// fakeRegistry records the order of registry calls; the Err fields make a
// call fail.
type fakeRegistry struct {
	mu sync.Mutex

	calls    []string
	commands []any
	configs  []any

	InitErr    error
	GetErr     error
	CreateErr  error
	ConfigErr  error
	CommandErr error
	DeleteErr  error
}

func (f *fakeRegistry) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeRegistry) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeRegistry) ProjectID() string { return testProjectID }

func (f *fakeRegistry) InitializeClient(ctx context.Context) (registry.DeviceService, error) {
	f.record("init")
	return nil, f.InitErr
}

func (f *fakeRegistry) GetDevice(ctx context.Context, deviceID, registryID string) (*iotpb.Device, error) {
	f.record("get")
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	return &iotpb.Device{Id: deviceID, Name: registry.DevicePath(testProjectID, registryID, deviceID)}, nil
}

func (f *fakeRegistry) CreateRsaDevice(ctx context.Context, deviceID, registryID, rsaCertificate string) (*iotpb.Device, error) {
	f.record("create")
	if f.CreateErr != nil {
		return nil, f.CreateErr
	}
	return &iotpb.Device{Id: deviceID}, nil
}

func (f *fakeRegistry) SendDeviceConfig(ctx context.Context, deviceID, registryID string, data any) (*iotpb.DeviceConfig, error) {
	f.record("config")
	f.mu.Lock()
	f.configs = append(f.configs, data)
	f.mu.Unlock()
	if f.ConfigErr != nil {
		return nil, f.ConfigErr
	}
	return &iotpb.DeviceConfig{Version: 1}, nil
}

func (f *fakeRegistry) SendDeviceCommand(ctx context.Context, deviceID, registryID string, data any) error {
	f.record("command")
	f.mu.Lock()
	f.commands = append(f.commands, data)
	f.mu.Unlock()
	return f.CommandErr
}

func (f *fakeRegistry) DeleteDevice(ctx context.Context, deviceID, registryID string) error {
	f.record("delete")
	return f.DeleteErr
}

type mockStateStore struct{ mock.Mock }

func (m *mockStateStore) SaveState(ctx context.Context, deviceID string, state json.RawMessage) error {
	args := m.Called(ctx, deviceID, state)
	return args.Error(0)
}

func (m *mockStateStore) GetState(ctx context.Context, deviceID string) (map[string]any, error) {
	args := m.Called(ctx, deviceID)
	state, _ := args.Get(0).(map[string]any)
	return state, args.Error(1)
}

type mockLogSink struct{ mock.Mock }

func (m *mockLogSink) Write(ctx context.Context, lines []string, labels map[string]string) error {
	args := m.Called(ctx, lines, labels)
	return args.Error(0)
}

func newTestManager(t *testing.T, reg devicemanager.RegistryClient, states devicemanager.StateStore, sink devicemanager.LogSink) *devicemanager.Manager {
	t.Helper()
	cfg := devicemanager.DefaultConfig()
	cfg.Version = "1.2.3"
	m, err := devicemanager.New(cfg, reg, states, sink, zerolog.Nop())
	require.NoError(t, err)
	return m
}
