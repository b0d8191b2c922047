package types

import "time"

// ConsumedMessage is a message pulled from the event bus. It carries the raw
// payload, the publisher attributes and the functions used to settle it.
type ConsumedMessage struct {
	// ID is the broker assigned message id.
	ID string
	// Payload is the raw message data.
	Payload []byte
	// Attributes are the key/value pairs published alongside the data.
	// Cloud IoT sets deviceId, deviceRegistryId, projectId and subFolder here.
	Attributes map[string]string
	// PublishTime is when the broker accepted the message.
	PublishTime time.Time
	// Ack settles the message so it is not delivered again.
	Ack func()
	// Nack asks the broker to redeliver the message.
	Nack func()
}

// BatchedMessage pairs a consumed message with its decoded payload so the
// message can be settled once the payload has been handled.
type BatchedMessage[T any] struct {
	OriginalMessage ConsumedMessage
	Payload         *T
}
