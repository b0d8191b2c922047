package icestore

import (
	"path"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
)

// LogArchiveRecord is one device logs event as stored in the archive.
type LogArchiveRecord struct {
	MessageID   string           `json:"message_id"`
	DeviceID    string           `json:"device_id"`
	Lines       []string         `json:"lines"`
	Tags        []map[string]any `json:"tags,omitempty"`
	PublishTime time.Time        `json:"publish_time"`
	ArchivedAt  time.Time        `json:"archived_at"`
}

// GetBatchKey groups records by device and publish day, e.g. "player-1/2025/06/15".
func (r LogArchiveRecord) GetBatchKey() string {
	ts := r.PublishTime
	if ts.IsZero() {
		ts = r.ArchivedAt
	}
	return path.Join(r.DeviceID, ts.UTC().Format("2006/01/02"))
}

// DecodeLogArchiveRecord turns a device logs message into an archive record.
// Messages without a deviceId attribute or a log batch are malformed.
func DecodeLogArchiveRecord(msg types.ConsumedMessage) (*LogArchiveRecord, error) {
	event := types.DecodeDeviceEvent(msg)
	deviceID := event.DeviceID()
	if deviceID == "" {
		return nil, &types.MalformedMessageError{Reason: "missing deviceId attribute"}
	}
	batch, err := types.DecodeLogBatch(event.JSON)
	if err != nil {
		return nil, err
	}
	if len(batch.Data) == 0 {
		return nil, nil
	}
	return &LogArchiveRecord{
		MessageID:   event.MessageID,
		DeviceID:    deviceID,
		Lines:       batch.Data,
		Tags:        batch.Tags,
		PublishTime: event.PublishTime,
		ArchivedAt:  time.Now().UTC(),
	}, nil
}
