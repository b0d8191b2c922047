package registry

import (
	"context"
	"fmt"

	iot "cloud.google.com/go/iot/apiv1"
	"cloud.google.com/go/iot/apiv1/iotpb"
	"github.com/googleapis/gax-go/v2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

// CloudPlatformScope is the OAuth scope requested for the registry client.
const CloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// DeviceIterator walks a device listing. Next returns iterator.Done when
// the listing is exhausted.
type DeviceIterator interface {
	Next() (*iotpb.Device, error)
}

// DeviceService is the subset of the Cloud IoT device manager used by the
// bridge. The production implementation wraps iot.DeviceManagerClient.
type DeviceService interface {
	GetDevice(ctx context.Context, req *iotpb.GetDeviceRequest, opts ...gax.CallOption) (*iotpb.Device, error)
	CreateDevice(ctx context.Context, req *iotpb.CreateDeviceRequest, opts ...gax.CallOption) (*iotpb.Device, error)
	ModifyCloudToDeviceConfig(ctx context.Context, req *iotpb.ModifyCloudToDeviceConfigRequest, opts ...gax.CallOption) (*iotpb.DeviceConfig, error)
	SendCommandToDevice(ctx context.Context, req *iotpb.SendCommandToDeviceRequest, opts ...gax.CallOption) (*iotpb.SendCommandToDeviceResponse, error)
	DeleteDevice(ctx context.Context, req *iotpb.DeleteDeviceRequest, opts ...gax.CallOption) error
	ListDevices(ctx context.Context, req *iotpb.ListDevicesRequest, opts ...gax.CallOption) DeviceIterator
	Close() error
}

// ServiceFactory builds an authenticated DeviceService from service account JSON.
type ServiceFactory func(ctx context.Context, serviceAccountJSON []byte) (DeviceService, error)

// googleDeviceService adapts the generated client to DeviceService.
type googleDeviceService struct {
	*iot.DeviceManagerClient
}

func (s *googleDeviceService) ListDevices(ctx context.Context, req *iotpb.ListDevicesRequest, opts ...gax.CallOption) DeviceIterator {
	return s.DeviceManagerClient.ListDevices(ctx, req, opts...)
}

var _ DeviceService = &googleDeviceService{}

// NewGoogleDeviceService exchanges the service account for cloud-platform
// scoped credentials and dials the Cloud IoT device manager.
func NewGoogleDeviceService(ctx context.Context, serviceAccountJSON []byte) (DeviceService, error) {
	creds, err := google.CredentialsFromJSON(ctx, serviceAccountJSON, CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("google.CredentialsFromJSON: %w", err)
	}
	client, err := iot.NewDeviceManagerClient(ctx, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("iot.NewDeviceManagerClient: %w", err)
	}
	return &googleDeviceService{DeviceManagerClient: client}, nil
}
