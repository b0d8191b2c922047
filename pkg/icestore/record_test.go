package icestore

import (
	"testing"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogArchiveRecord_GetBatchKey(t *testing.T) {
	published := time.Date(2025, 6, 15, 23, 30, 0, 0, time.UTC)
	rec := LogArchiveRecord{DeviceID: "player-1", PublishTime: published}
	assert.Equal(t, "player-1/2025/06/15", rec.GetBatchKey())

	rec = LogArchiveRecord{DeviceID: "player-1", ArchivedAt: time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)}
	assert.Equal(t, "player-1/2025/01/02", rec.GetBatchKey())
}

func TestDecodeLogArchiveRecord(t *testing.T) {
	published := time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

	t.Run("valid logs event", func(t *testing.T) {
		rec, err := DecodeLogArchiveRecord(types.ConsumedMessage{
			ID:          "m1",
			Payload:     []byte(`{"data":["boot","ready"],"tags":[{"level":"info"}]}`),
			Attributes:  map[string]string{"deviceId": "player-1"},
			PublishTime: published,
		})
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, "m1", rec.MessageID)
		assert.Equal(t, "player-1", rec.DeviceID)
		assert.Equal(t, []string{"boot", "ready"}, rec.Lines)
		assert.Equal(t, published, rec.PublishTime)
		assert.False(t, rec.ArchivedAt.IsZero())
	})

	t.Run("missing device attribute", func(t *testing.T) {
		_, err := DecodeLogArchiveRecord(types.ConsumedMessage{Payload: []byte(`{"data":["x"]}`)})
		var malformed *types.MalformedMessageError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("data is not json", func(t *testing.T) {
		_, err := DecodeLogArchiveRecord(types.ConsumedMessage{Payload: []byte(`oops`), Attributes: map[string]string{"deviceId": "p"}})
		var malformed *types.MalformedMessageError
		assert.ErrorAs(t, err, &malformed)
	})

	t.Run("no lines is skipped", func(t *testing.T) {
		rec, err := DecodeLogArchiveRecord(types.ConsumedMessage{Payload: []byte(`{"data":[]}`), Attributes: map[string]string{"deviceId": "p"}})
		assert.NoError(t, err)
		assert.Nil(t, rec)
	})
}
