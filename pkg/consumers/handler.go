package consumers

import (
	"context"
	"sync"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
)

// HandlerFunc handles one decoded message. The result is logged only;
// the message is Acked whatever it returns.
type HandlerFunc[T any] func(ctx context.Context, payload *T) bool

// HandlerProcessor is a MessageProcessor that calls a handler for every
// message and then Acks it. Event handlers never ask for redelivery, so a
// message that failed validation or whose write failed is not retried.
type HandlerProcessor[T any] struct {
	handler     HandlerFunc[T]
	concurrency int
	timeout     time.Duration
	logger      zerolog.Logger
	inputChan   chan *types.BatchedMessage[T]
	wg          sync.WaitGroup
	stopOnce    sync.Once
}

// NewHandlerProcessor creates a HandlerProcessor running concurrency handler
// goroutines. timeout bounds each handler call; zero means no bound.
func NewHandlerProcessor[T any](handler HandlerFunc[T], concurrency int, timeout time.Duration, logger zerolog.Logger) *HandlerProcessor[T] {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &HandlerProcessor[T]{
		handler:     handler,
		concurrency: concurrency,
		timeout:     timeout,
		logger:      logger.With().Str("component", "HandlerProcessor").Logger(),
		inputChan:   make(chan *types.BatchedMessage[T], concurrency),
	}
}

// Input returns the channel messages are sent on.
func (p *HandlerProcessor[T]) Input() chan<- *types.BatchedMessage[T] {
	return p.inputChan
}

// Start launches the handler goroutines.
func (p *HandlerProcessor[T]) Start() {
	for i := 0; i < p.concurrency; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

// Stop closes the input and waits for buffered messages to be handled.
func (p *HandlerProcessor[T]) Stop() {
	p.stopOnce.Do(func() {
		close(p.inputChan)
		p.wg.Wait()
		p.logger.Info().Msg("HandlerProcessor stopped.")
	})
}

func (p *HandlerProcessor[T]) run() {
	defer p.wg.Done()
	for msg := range p.inputChan {
		p.handle(msg)
	}
}

func (p *HandlerProcessor[T]) handle(msg *types.BatchedMessage[T]) {
	ctx := context.Background()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ok := p.handler(ctx, msg.Payload)
	p.logger.Debug().Str("msg_id", msg.OriginalMessage.ID).Bool("handled", ok).Msg("Message handled, Acking.")
	settle(msg.OriginalMessage.Ack)
}
