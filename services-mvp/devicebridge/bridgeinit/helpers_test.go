package bridgeinit

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"cloud.google.com/go/iot/apiv1/iotpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/illmade-knight/iot-device-bridge/pkg/devicemanager"
	"github.com/illmade-knight/iot-device-bridge/pkg/registry"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const testServiceAccount = `{"type":"service_account","project_id":"proj1"}`

// fakeDeviceService is an in-memory registry.
type fakeDeviceService struct {
	mu       sync.Mutex
	devices  map[string]*iotpb.Device
	configs  map[string][]byte
	commands map[string][][]byte
}

func newFakeDeviceService() *fakeDeviceService {
	return &fakeDeviceService{
		devices:  make(map[string]*iotpb.Device),
		configs:  make(map[string][]byte),
		commands: make(map[string][][]byte),
	}
}

func (f *fakeDeviceService) GetDevice(_ context.Context, req *iotpb.GetDeviceRequest, _ ...gax.CallOption) (*iotpb.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.devices[req.GetName()]
	if !ok {
		return nil, status.Error(codes.NotFound, "device not found")
	}
	return d, nil
}

func (f *fakeDeviceService) CreateDevice(_ context.Context, req *iotpb.CreateDeviceRequest, _ ...gax.CallOption) (*iotpb.Device, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name := req.GetParent() + "/devices/" + req.GetDevice().GetId()
	if _, ok := f.devices[name]; ok {
		return nil, status.Error(codes.AlreadyExists, "device exists")
	}
	d := &iotpb.Device{Id: req.GetDevice().GetId(), Name: name, Credentials: req.GetDevice().GetCredentials()}
	f.devices[name] = d
	return d, nil
}

func (f *fakeDeviceService) ModifyCloudToDeviceConfig(_ context.Context, req *iotpb.ModifyCloudToDeviceConfigRequest, _ ...gax.CallOption) (*iotpb.DeviceConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[req.GetName()]; !ok {
		return nil, status.Error(codes.NotFound, "device not found")
	}
	f.configs[req.GetName()] = req.GetBinaryData()
	return &iotpb.DeviceConfig{Version: 1, BinaryData: req.GetBinaryData()}, nil
}

func (f *fakeDeviceService) SendCommandToDevice(_ context.Context, req *iotpb.SendCommandToDeviceRequest, _ ...gax.CallOption) (*iotpb.SendCommandToDeviceResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[req.GetName()]; !ok {
		return nil, status.Error(codes.FailedPrecondition, "device is not connected")
	}
	f.commands[req.GetName()] = append(f.commands[req.GetName()], req.GetBinaryData())
	return &iotpb.SendCommandToDeviceResponse{}, nil
}

func (f *fakeDeviceService) DeleteDevice(_ context.Context, req *iotpb.DeleteDeviceRequest, _ ...gax.CallOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.devices[req.GetName()]; !ok {
		return status.Error(codes.NotFound, "device not found")
	}
	delete(f.devices, req.GetName())
	return nil
}

type emptyIterator struct{}

func (emptyIterator) Next() (*iotpb.Device, error) { return nil, iterator.Done }

func (f *fakeDeviceService) ListDevices(context.Context, *iotpb.ListDevicesRequest, ...gax.CallOption) registry.DeviceIterator {
	return emptyIterator{}
}

func (f *fakeDeviceService) Close() error { return nil }

func (f *fakeDeviceService) config(deviceID string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.configs[registry.DevicePath("proj1", "android", deviceID)]
}

func (f *fakeDeviceService) commandCount(deviceID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.commands[registry.DevicePath("proj1", "android", deviceID)])
}

// memoryStateStore keeps states in a map.
type memoryStateStore struct {
	mu     sync.Mutex
	states map[string]json.RawMessage
	saved  chan string
}

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{states: make(map[string]json.RawMessage), saved: make(chan string, 10)}
}

func (s *memoryStateStore) SaveState(_ context.Context, deviceID string, state json.RawMessage) error {
	s.mu.Lock()
	s.states[deviceID] = state
	s.mu.Unlock()
	s.saved <- deviceID
	return nil
}

func (s *memoryStateStore) GetState(_ context.Context, deviceID string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, ok := s.states[deviceID]
	if !ok {
		return nil, &types.BackendError{Op: "get state", StatusCode: 404}
	}
	var m map[string]any
	err := json.Unmarshal(raw, &m)
	return m, err
}

func newTestConfig() *Config {
	cfg := &Config{HTTPPort: ":0", ProjectID: "proj1"}
	cfg.Registry.ID = "android"
	cfg.Auth.Tokens = []string{"1234"}
	cfg.DeviceConfig = types.DefaultDeviceConfig()
	cfg.PubSub.NumWorkers = 2
	return cfg
}

func newTestManager(t *testing.T, svc *fakeDeviceService, states devicemanager.StateStore) *devicemanager.Manager {
	t.Helper()
	client, err := registry.NewClient([]byte(testServiceAccount), zerolog.Nop(),
		registry.WithServiceFactory(func(context.Context, []byte) (registry.DeviceService, error) {
			return svc, nil
		}))
	require.NoError(t, err)
	manager, err := devicemanager.New(NewManagerConfig(newTestConfig(), "9.9.9"), client, states, nil, zerolog.Nop())
	require.NoError(t, err)
	return manager
}
