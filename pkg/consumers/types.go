package consumers

import (
	"context"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
)

// ====================================================================================
// Core interfaces for the consume, decode, process pipeline shared by every
// event bus subscription the bridge listens to.
// ====================================================================================

// MessageProcessor receives decoded messages and is responsible for settling
// them. HandlerProcessor handles one message at a time; batching.Batcher
// accumulates them for archive sinks.
type MessageProcessor[T any] interface {
	// Input returns a write-only channel for sending decoded messages to the processor.
	Input() chan<- *types.BatchedMessage[T]
	// Start begins the processor's operations.
	Start()
	// Stop shuts the processor down, handling anything still buffered.
	Stop()
}

// MessageConsumer is a source of raw messages, e.g. a Pub/Sub subscription.
type MessageConsumer interface {
	// Messages returns a read-only channel from which raw messages can be consumed.
	Messages() <-chan types.ConsumedMessage
	// Start initiates the consumption of messages.
	Start(ctx context.Context) error
	// Stop ceases message consumption.
	Stop() error
	// Done returns a channel that is closed when the consumer has fully stopped.
	Done() <-chan struct{}
}

// PayloadDecoder turns a consumed message into a value of type T.
// A nil value with a nil error means the message carries nothing to process.
type PayloadDecoder[T any] func(msg types.ConsumedMessage) (*T, error)
