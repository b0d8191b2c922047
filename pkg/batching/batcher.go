package batching

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
)

// Flusher writes a batch of items to a sink such as a BigQuery table or a
// storage bucket.
type Flusher[T any] interface {
	// Flush saves all items or returns an error; a failed batch is redelivered
	// whole, including any items the sink had already written.
	Flush(ctx context.Context, items []*T) error
	Close() error
}

// Config holds configuration for a Batcher.
type Config struct {
	BatchSize    int
	FlushTimeout time.Duration
	// FlushDeadline bounds a single Flush call.
	FlushDeadline time.Duration
}

// DefaultConfig returns the settings used when none are configured.
func DefaultConfig() Config {
	return Config{BatchSize: 50, FlushTimeout: 10 * time.Second, FlushDeadline: 2 * time.Minute}
}

// Batcher collects decoded messages and flushes them when the batch is full or
// the flush timeout passes. Messages are Acked after a successful flush and
// Nacked after a failed one, so delivery to the sink is at least once. It
// satisfies consumers.MessageProcessor.
type Batcher[T any] struct {
	config    Config
	flusher   Flusher[T]
	logger    zerolog.Logger
	inputChan chan *types.BatchedMessage[T]
	wg        sync.WaitGroup
	stopOnce  sync.Once
}

// NewBatcher creates a Batcher that flushes to flusher.
func NewBatcher[T any](cfg Config, flusher Flusher[T], logger zerolog.Logger) (*Batcher[T], error) {
	if flusher == nil {
		return nil, errors.New("flusher cannot be nil")
	}
	defaults := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = defaults.FlushTimeout
	}
	if cfg.FlushDeadline <= 0 {
		cfg.FlushDeadline = defaults.FlushDeadline
	}
	return &Batcher[T]{
		config:    cfg,
		flusher:   flusher,
		logger:    logger.With().Str("component", "Batcher").Logger(),
		inputChan: make(chan *types.BatchedMessage[T], cfg.BatchSize*2),
	}, nil
}

// Start begins the batching worker.
func (b *Batcher[T]) Start() {
	b.logger.Info().
		Int("batch_size", b.config.BatchSize).
		Dur("flush_timeout", b.config.FlushTimeout).
		Msg("Starting Batcher worker...")
	b.wg.Add(1)
	go b.worker()
}

// Stop closes the input, flushes what is pending and closes the flusher.
func (b *Batcher[T]) Stop() {
	b.stopOnce.Do(func() {
		b.logger.Info().Msg("Stopping Batcher...")
		close(b.inputChan)
		b.wg.Wait()
		if err := b.flusher.Close(); err != nil {
			b.logger.Error().Err(err).Msg("Error closing flusher")
		}
		b.logger.Info().Msg("Batcher stopped.")
	})
}

// Input returns the channel messages are sent on.
func (b *Batcher[T]) Input() chan<- *types.BatchedMessage[T] {
	return b.inputChan
}

func (b *Batcher[T]) worker() {
	defer b.wg.Done()
	batch := make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
	ticker := time.NewTicker(b.config.FlushTimeout)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-b.inputChan:
			if !ok {
				b.logger.Info().Int("pending", len(batch)).Msg("Input channel closed. Flushing final batch...")
				b.flush(batch)
				return
			}
			batch = append(batch, msg)
			if len(batch) >= b.config.BatchSize {
				b.logger.Debug().Int("current_batch_size", len(batch)).Msg("Batch size reached. Flushing batch.")
				b.flush(batch)
				batch = make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				b.logger.Debug().Int("current_batch_size", len(batch)).Msg("Flush timeout reached. Flushing batch.")
				b.flush(batch)
				batch = make([]*types.BatchedMessage[T], 0, b.config.BatchSize)
			}
		}
	}
}

func (b *Batcher[T]) flush(batch []*types.BatchedMessage[T]) {
	if len(batch) == 0 {
		return
	}

	payloads := make([]*T, len(batch))
	for i, msg := range batch {
		payloads[i] = msg.Payload
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.config.FlushDeadline)
	defer cancel()

	if err := b.flusher.Flush(ctx, payloads); err != nil {
		b.logger.Error().Err(err).Int("batch_size", len(batch)).Msg("Failed to flush batch, Nacking messages.")
		for _, msg := range batch {
			if msg.OriginalMessage.Nack != nil {
				msg.OriginalMessage.Nack()
			}
		}
		return
	}

	b.logger.Info().Int("batch_size", len(batch)).Msg("Successfully flushed batch, Acking messages.")
	for _, msg := range batch {
		if msg.OriginalMessage.Ack != nil {
			msg.OriginalMessage.Ack()
		}
	}
}
