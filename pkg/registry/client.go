package registry

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"cloud.google.com/go/iot/apiv1/iotpb"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// serviceAccount is the part of a service account key file the client reads.
type serviceAccount struct {
	ProjectID string `json:"project_id"`
}

// Option customises a Client.
type Option func(*Client)

// WithServiceFactory replaces the factory used by InitializeClient.
func WithServiceFactory(factory ServiceFactory) Option {
	return func(c *Client) {
		c.factory = factory
	}
}

// Client is a typed façade over the Cloud IoT registry for one service account.
// The underlying DeviceService is created lazily, once, and shared by all
// callers. A failed initialization leaves the client unset so a later call
// can try again.
type Client struct {
	serviceAccountJSON []byte
	projectID          string
	factory            ServiceFactory
	logger             zerolog.Logger

	mu      sync.Mutex
	service DeviceService
}

// NewClient creates a registry client. It does not contact the registry.
func NewClient(serviceAccountJSON []byte, logger zerolog.Logger, opts ...Option) (*Client, error) {
	var sa serviceAccount
	if err := json.Unmarshal(serviceAccountJSON, &sa); err != nil {
		return nil, &types.AuthError{Reason: "service account is not valid JSON", Err: err}
	}
	if sa.ProjectID == "" {
		return nil, &types.AuthError{Reason: "service account has no project_id"}
	}

	c := &Client{
		serviceAccountJSON: serviceAccountJSON,
		projectID:          sa.ProjectID,
		factory:            NewGoogleDeviceService,
		logger:             logger.With().Str("component", "RegistryClient").Str("project_id", sa.ProjectID).Logger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ProjectID is the project the service account belongs to.
func (c *Client) ProjectID() string {
	return c.projectID
}

// InitializeClient returns the shared DeviceService, creating it on first use.
func (c *Client) InitializeClient(ctx context.Context) (DeviceService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.service != nil {
		return c.service, nil
	}

	service, err := c.factory(ctx, c.serviceAccountJSON)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to initialize registry client")
		return nil, &types.AuthError{Reason: "registry client initialization failed", Err: err}
	}
	c.service = service
	c.logger.Info().Msg("Registry client initialized successfully")
	return c.service, nil
}

// GetDevice fetches a device's registry record.
func (c *Client) GetDevice(ctx context.Context, deviceID, registryID string) (*iotpb.Device, error) {
	service, err := c.InitializeClient(ctx)
	if err != nil {
		return nil, err
	}

	name := DevicePath(c.projectID, registryID, deviceID)
	device, err := service.GetDevice(ctx, &iotpb.GetDeviceRequest{Name: name})
	if err != nil {
		c.logger.Warn().Err(err).Str("device_id", deviceID).Str("registry_id", registryID).Msg("Could not find device")
		return nil, backendError("get device", err)
	}
	c.logger.Info().Str("device_id", deviceID).Str("registry_id", registryID).Msg("Device found")
	return device, nil
}

// CreateRsaDevice creates a device with a single RSA X.509 PEM credential.
func (c *Client) CreateRsaDevice(ctx context.Context, deviceID, registryID, rsaCertificate string) (*iotpb.Device, error) {
	service, err := c.InitializeClient(ctx)
	if err != nil {
		return nil, err
	}

	req := &iotpb.CreateDeviceRequest{
		Parent: RegistryPath(c.projectID, registryID),
		Device: &iotpb.Device{
			Id: deviceID,
			Credentials: []*iotpb.DeviceCredential{
				{
					Credential: &iotpb.DeviceCredential_PublicKey{
						PublicKey: &iotpb.PublicKeyCredential{
							Format: iotpb.PublicKeyFormat_RSA_X509_PEM,
							Key:    rsaCertificate,
						},
					},
				},
			},
		},
	}
	device, err := service.CreateDevice(ctx, req)
	if err != nil {
		c.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to create device")
		return nil, backendError("create device", err)
	}
	c.logger.Info().Str("device_id", deviceID).Str("registry_id", registryID).Msg("Device created")
	return device, nil
}

// SendDeviceConfig pushes data to the device as its new config.
func (c *Client) SendDeviceConfig(ctx context.Context, deviceID, registryID string, data any) (*iotpb.DeviceConfig, error) {
	service, err := c.InitializeClient(ctx)
	if err != nil {
		return nil, err
	}
	payload, err := EncodePayload(data)
	if err != nil {
		return nil, err
	}

	cfg, err := service.ModifyCloudToDeviceConfig(ctx, &iotpb.ModifyCloudToDeviceConfigRequest{
		Name:       DevicePath(c.projectID, registryID, deviceID),
		BinaryData: payload,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to send device config")
		return nil, backendError("send device config", err)
	}
	c.logger.Debug().Str("device_id", deviceID).Int64("version", cfg.GetVersion()).Msg("Device config sent")
	return cfg, nil
}

// SendDeviceCommand pushes data to the device as a command.
func (c *Client) SendDeviceCommand(ctx context.Context, deviceID, registryID string, data any) error {
	service, err := c.InitializeClient(ctx)
	if err != nil {
		return err
	}
	payload, err := EncodePayload(data)
	if err != nil {
		return err
	}

	_, err = service.SendCommandToDevice(ctx, &iotpb.SendCommandToDeviceRequest{
		Name:       DevicePath(c.projectID, registryID, deviceID),
		BinaryData: payload,
	})
	if err != nil {
		c.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to send device command")
		return backendError("send device command", err)
	}
	c.logger.Debug().Str("device_id", deviceID).Msg("Device command sent")
	return nil
}

// DeleteDevice removes a device from the registry.
func (c *Client) DeleteDevice(ctx context.Context, deviceID, registryID string) error {
	service, err := c.InitializeClient(ctx)
	if err != nil {
		return err
	}
	err = service.DeleteDevice(ctx, &iotpb.DeleteDeviceRequest{Name: DevicePath(c.projectID, registryID, deviceID)})
	if err != nil {
		c.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to delete device")
		return backendError("delete device", err)
	}
	c.logger.Info().Str("device_id", deviceID).Str("registry_id", registryID).Msg("Device deleted")
	return nil
}

// ListDevices returns every device in a registry.
func (c *Client) ListDevices(ctx context.Context, registryID string) ([]*iotpb.Device, error) {
	service, err := c.InitializeClient(ctx)
	if err != nil {
		return nil, err
	}

	it := service.ListDevices(ctx, &iotpb.ListDevicesRequest{Parent: RegistryPath(c.projectID, registryID)})
	var devices []*iotpb.Device
	for {
		device, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, backendError("list devices", err)
		}
		devices = append(devices, device)
	}
	return devices, nil
}

// Close releases the underlying connection if one was opened.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.service == nil {
		return nil
	}
	err := c.service.Close()
	c.service = nil
	return err
}

func backendError(op string, err error) error {
	return &types.BackendError{Op: op, StatusCode: httpStatus(err), Err: err}
}

// httpStatus maps a gRPC status to the HTTP status the registry's REST
// surface would have answered with. Unknown errors map to 0.
func httpStatus(err error) int {
	st, ok := status.FromError(err)
	if !ok {
		return 0
	}
	switch st.Code() {
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists, codes.Aborted:
		return http.StatusConflict
	case codes.ResourceExhausted:
		return http.StatusTooManyRequests
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Internal, codes.DataLoss, codes.Unknown:
		return http.StatusInternalServerError
	default:
		return 0
	}
}
