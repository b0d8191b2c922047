package registry

import "fmt"

// Region is the Cloud IoT location every registry lives in. It is a
// deployment constant and cannot be chosen per call.
const Region = "us-central1"

// RegistryPath returns the resource name of a registry.
func RegistryPath(projectID, registryID string) string {
	return fmt.Sprintf("projects/%s/locations/%s/registries/%s", projectID, Region, registryID)
}

// DevicePath returns the resource name of a device. Every device operation
// addresses the registry through this path.
func DevicePath(projectID, registryID, deviceID string) string {
	return fmt.Sprintf("%s/devices/%s", RegistryPath(projectID, registryID), deviceID)
}
