package consumers_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/consumers"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestHandlerProcessor_AcksWhateverTheHandlerReturns(t *testing.T) {
	testCases := []struct {
		name   string
		result bool
	}{
		{name: "handled", result: true},
		{name: "rejected", result: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			processor := consumers.NewHandlerProcessor[testEvent](func(ctx context.Context, e *testEvent) bool {
				return tc.result
			}, 1, 0, zerolog.Nop())
			processor.Start()

			rec := &settleRecorder{}
			processor.Input() <- &types.BatchedMessage[testEvent]{
				OriginalMessage: rec.message("m1", nil),
				Payload:         &testEvent{DeviceID: "dev-1"},
			}
			processor.Stop()

			assert.EqualValues(t, 1, rec.acks.Load())
			assert.Zero(t, rec.nacks.Load())
		})
	}
}

func TestHandlerProcessor_AppliesTimeout(t *testing.T) {
	var deadlineSet bool
	processor := consumers.NewHandlerProcessor[testEvent](func(ctx context.Context, e *testEvent) bool {
		_, deadlineSet = ctx.Deadline()
		return true
	}, 1, 50*time.Millisecond, zerolog.Nop())
	processor.Start()

	rec := &settleRecorder{}
	processor.Input() <- &types.BatchedMessage[testEvent]{OriginalMessage: rec.message("m1", nil), Payload: &testEvent{}}
	processor.Stop()

	assert.True(t, deadlineSet)
}

func TestHandlerProcessor_StopIsIdempotent(t *testing.T) {
	processor := consumers.NewHandlerProcessor[testEvent](func(ctx context.Context, e *testEvent) bool { return true }, 3, 0, zerolog.Nop())
	processor.Start()
	processor.Stop()
	assert.NotPanics(t, processor.Stop)
}
