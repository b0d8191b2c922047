package deviceclient

import "fmt"

// Topics on the Cloud IoT MQTT bridge, relative to one device.

// StateTopic is where a device reports its current state.
func StateTopic(deviceID string) string {
	return fmt.Sprintf("/devices/%s/state", deviceID)
}

// EventsTopic is the telemetry topic for a subfolder, e.g. "logs".
func EventsTopic(deviceID, subfolder string) string {
	if subfolder == "" {
		return fmt.Sprintf("/devices/%s/events", deviceID)
	}
	return fmt.Sprintf("/devices/%s/events/%s", deviceID, subfolder)
}

// ConfigTopic delivers the device's config, retained by the bridge.
func ConfigTopic(deviceID string) string {
	return fmt.Sprintf("/devices/%s/config", deviceID)
}

// CommandsTopic matches every command subfolder.
func CommandsTopic(deviceID string) string {
	return fmt.Sprintf("/devices/%s/commands/#", deviceID)
}
