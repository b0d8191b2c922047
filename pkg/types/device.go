package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// DeviceConfig is the desired state pushed to a device after registration.
type DeviceConfig struct {
	LoggingEnabled bool `json:"loggingEnabled" mapstructure:"logging_enabled" yaml:"loggingEnabled"`
	LoggingLevel   int  `json:"loggingLevel" mapstructure:"logging_level" yaml:"loggingLevel"`
}

// DefaultDeviceConfig is applied to every newly registered device.
func DefaultDeviceConfig() DeviceConfig {
	return DeviceConfig{LoggingEnabled: false, LoggingLevel: 2}
}

// DeviceIDAttribute is the message attribute naming the publishing device.
const DeviceIDAttribute = "deviceId"

// DeviceEvent is an inbound event bus message addressed by device.
// JSON holds the parsed message data and is nil when the data was absent,
// was JSON null or was not valid JSON. Attributes is nil when the message carried none.
type DeviceEvent struct {
	MessageID   string            `json:"messageId,omitempty"`
	JSON        json.RawMessage   `json:"json,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime time.Time         `json:"publishTime"`
}

// DeviceID returns the deviceId attribute, or "" when it is absent.
func (e *DeviceEvent) DeviceID() string {
	if e == nil || e.Attributes == nil {
		return ""
	}
	return e.Attributes[DeviceIDAttribute]
}

// HasJSON reports whether the event carries data other than JSON null.
func (e *DeviceEvent) HasJSON() bool {
	return e != nil && len(e.JSON) > 0 && !isNullJSON(e.JSON)
}

func isNullJSON(raw []byte) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// DecodeDeviceEvent converts a consumed message into a DeviceEvent.
// It never fails: data that is not JSON, or is null, leaves the JSON field nil so that
// validation further down can report the message as malformed.
func DecodeDeviceEvent(msg ConsumedMessage) *DeviceEvent {
	event := &DeviceEvent{
		MessageID:   msg.ID,
		PublishTime: msg.PublishTime,
	}
	if len(msg.Payload) > 0 && json.Valid(msg.Payload) && !isNullJSON(msg.Payload) {
		event.JSON = json.RawMessage(msg.Payload)
	}
	if len(msg.Attributes) > 0 {
		event.Attributes = msg.Attributes
	}
	return event
}

// LogBatch is the data carried by a device logs event.
type LogBatch struct {
	Data []string         `json:"data"`
	Tags []map[string]any `json:"tags"`
}

// DecodeLogBatch reads a LogBatch out of an event's JSON data.
func DecodeLogBatch(raw json.RawMessage) (*LogBatch, error) {
	if len(raw) == 0 {
		return nil, &MalformedMessageError{Reason: "missing json data"}
	}
	var batch LogBatch
	if err := json.Unmarshal(raw, &batch); err != nil {
		return nil, &MalformedMessageError{Reason: fmt.Sprintf("log batch is not an object: %v", err)}
	}
	return &batch, nil
}

// RegistrationRequest is the body accepted by device registration.
type RegistrationRequest struct {
	DeviceID       string `json:"deviceId" yaml:"deviceId"`
	RSACertificate string `json:"rsaCertificate" yaml:"rsaCertificate"`
}

// RegistrationResponse is returned after a device has been registered.
type RegistrationResponse struct {
	ProjectID  string `json:"projectId"`
	RegistryID string `json:"registryId"`
}
