package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"gopkg.in/yaml.v3"
)

// DeviceManifest lists devices to register in bulk.
type DeviceManifest struct {
	Devices []ManifestDevice `yaml:"devices"`
}

// ManifestDevice is one device. The certificate is given inline or as a path
// relative to the manifest.
type ManifestDevice struct {
	DeviceID           string `yaml:"deviceId"`
	RSACertificate     string `yaml:"rsaCertificate,omitempty"`
	RSACertificateFile string `yaml:"rsaCertificateFile,omitempty"`
}

// LoadDeviceManifest reads a manifest and resolves certificate files into
// registration requests.
func LoadDeviceManifest(path string) ([]types.RegistrationRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var manifest DeviceManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}

	var errs []error
	requests := make([]types.RegistrationRequest, 0, len(manifest.Devices))
	for i, d := range manifest.Devices {
		if d.DeviceID == "" {
			errs = append(errs, fmt.Errorf("devices[%d]: deviceId is required", i))
			continue
		}
		cert := d.RSACertificate
		if cert == "" && d.RSACertificateFile != "" {
			certPath := d.RSACertificateFile
			if !filepath.IsAbs(certPath) {
				certPath = filepath.Join(filepath.Dir(path), certPath)
			}
			raw, err := os.ReadFile(certPath)
			if err != nil {
				errs = append(errs, fmt.Errorf("devices[%d] %s: %w", i, d.DeviceID, err))
				continue
			}
			cert = string(raw)
		}
		if strings.TrimSpace(cert) == "" {
			errs = append(errs, fmt.Errorf("devices[%d] %s: no certificate", i, d.DeviceID))
			continue
		}
		requests = append(requests, types.RegistrationRequest{DeviceID: d.DeviceID, RSACertificate: cert})
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return requests, nil
}

// parseTags turns key=value pairs into log tags, one map per pair.
func parseTags(pairs []string) ([]map[string]any, error) {
	tags := make([]map[string]any, 0, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("tag %q is not key=value", pair)
		}
		tags = append(tags, map[string]any{key: value})
	}
	return tags, nil
}
