package bqstore

import (
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
)

// StateRecord is one reported device state, kept as history.
type StateRecord struct {
	MessageID   string    `bigquery:"message_id"`
	DeviceID    string    `bigquery:"device_id"`
	State       string    `bigquery:"state"`
	PublishTime time.Time `bigquery:"publish_time"`
	ArchivedAt  time.Time `bigquery:"archived_at"`
}

// StatePartitionField day-partitions the history table.
const StatePartitionField = "publish_time"

// DecodeStateRecord turns a device state message into a history row.
// The state is stored as the JSON text the device reported.
func DecodeStateRecord(msg types.ConsumedMessage) (*StateRecord, error) {
	event := types.DecodeDeviceEvent(msg)
	deviceID := event.DeviceID()
	if deviceID == "" {
		return nil, &types.MalformedMessageError{Reason: "missing deviceId attribute"}
	}
	if event.JSON == nil {
		return nil, &types.MalformedMessageError{Reason: "missing json data"}
	}
	published := event.PublishTime
	if published.IsZero() {
		published = time.Now().UTC()
	}
	return &StateRecord{
		MessageID:   event.MessageID,
		DeviceID:    deviceID,
		State:       string(event.JSON),
		PublishTime: published,
		ArchivedAt:  time.Now().UTC(),
	}, nil
}
