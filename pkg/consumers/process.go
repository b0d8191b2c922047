package consumers

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
)

// DefaultNumWorkers is used when a service is created with no worker count.
const DefaultNumWorkers = 5

// ProcessingService runs one subscription: it pulls from a consumer, decodes
// with a pool of workers and hands the results to a processor.
//
// Messages that fail to decode are Acked, not Nacked. A message that cannot be
// decoded now will not decode on redelivery either.
type ProcessingService[T any] struct {
	name         string
	numWorkers   int
	consumer     MessageConsumer
	processor    MessageProcessor[T]
	decoder      PayloadDecoder[T]
	logger       zerolog.Logger
	wg           sync.WaitGroup
	shutdownCtx  context.Context
	shutdownFunc context.CancelFunc
}

// NewProcessingService creates a ProcessingService. name identifies the
// pipeline in logs, e.g. "device-state".
func NewProcessingService[T any](
	name string,
	numWorkers int,
	consumer MessageConsumer,
	processor MessageProcessor[T],
	decoder PayloadDecoder[T],
	logger zerolog.Logger,
) (*ProcessingService[T], error) {
	var errs []error
	if consumer == nil {
		errs = append(errs, errors.New("MessageConsumer cannot be nil"))
	}
	if processor == nil {
		errs = append(errs, errors.New("MessageProcessor cannot be nil"))
	}
	if decoder == nil {
		errs = append(errs, errors.New("PayloadDecoder cannot be nil"))
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	if numWorkers <= 0 {
		logger.Warn().Int("provided_workers", numWorkers).Int("default_workers", DefaultNumWorkers).
			Msg("Worker count was zero or negative, applying default value.")
		numWorkers = DefaultNumWorkers
	}

	shutdownCtx, shutdownFunc := context.WithCancel(context.Background())

	return &ProcessingService[T]{
		name:         name,
		numWorkers:   numWorkers,
		consumer:     consumer,
		processor:    processor,
		decoder:      decoder,
		logger:       logger.With().Str("service", "ProcessingService").Str("pipeline", name).Logger(),
		shutdownCtx:  shutdownCtx,
		shutdownFunc: shutdownFunc,
	}, nil
}

// Name identifies the pipeline.
func (s *ProcessingService[T]) Name() string {
	return s.name
}

// Start starts the processor, then the consumer, then the worker pool.
func (s *ProcessingService[T]) Start() error {
	s.logger.Info().Msg("Starting ProcessingService...")

	s.processor.Start()

	if err := s.consumer.Start(s.shutdownCtx); err != nil {
		s.processor.Stop()
		return fmt.Errorf("failed to start message consumer for %s: %w", s.name, err)
	}
	s.logger.Info().Msg("Message consumer started.")

	s.logger.Info().Int("worker_count", s.numWorkers).Msg("Starting processing workers...")
	for i := 0; i < s.numWorkers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	s.logger.Info().Msg("ProcessingService started successfully.")
	return nil
}

func (s *ProcessingService[T]) worker(workerID int) {
	defer s.wg.Done()
	s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker started.")

	for {
		select {
		case <-s.shutdownCtx.Done():
			s.logger.Debug().Int("worker_id", workerID).Msg("Processing worker shutting down.")
			return
		case msg, ok := <-s.consumer.Messages():
			if !ok {
				s.logger.Debug().Int("worker_id", workerID).Msg("Consumer channel closed, worker exiting.")
				return
			}
			s.processConsumedMessage(msg, workerID)
		}
	}
}

func (s *ProcessingService[T]) processConsumedMessage(msg types.ConsumedMessage, workerID int) {
	s.logger.Debug().Int("worker_id", workerID).Str("msg_id", msg.ID).Msg("Processing message")

	decoded, err := s.decoder(msg)
	if err != nil {
		s.logger.Warn().Err(err).Str("msg_id", msg.ID).Msg("Failed to decode message, Acking to prevent redelivery.")
		settle(msg.Ack)
		return
	}
	if decoded == nil {
		s.logger.Warn().Str("msg_id", msg.ID).Msg("Decoder returned nil payload, Acking and skipping.")
		settle(msg.Ack)
		return
	}

	batched := &types.BatchedMessage[T]{
		OriginalMessage: msg,
		Payload:         decoded,
	}

	select {
	case s.processor.Input() <- batched:
		s.logger.Debug().Str("msg_id", msg.ID).Msg("Payload sent to processor.")
	case <-s.shutdownCtx.Done():
		s.logger.Warn().Str("msg_id", msg.ID).Msg("Shutdown in progress, Nacking message.")
		settle(msg.Nack)
	}
}

// Stop shuts the pipeline down in order.
func (s *ProcessingService[T]) Stop() {
	s.logger.Info().Msg("Stopping ProcessingService...")

	// 1. Signal workers and the consumer.
	s.shutdownFunc()

	// 2. Stop the consumer and wait for it; this closes Messages().
	if err := s.consumer.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Error stopping message consumer")
	}
	<-s.consumer.Done()
	s.logger.Info().Msg("Message consumer stopped.")

	// 3. Wait for the workers.
	s.wg.Wait()
	s.logger.Info().Msg("All processing workers completed.")

	// 4. Stop the processor, letting it handle anything buffered.
	s.processor.Stop()

	s.logger.Info().Msg("ProcessingService stopped gracefully.")
}

// settle calls an Ack or Nack function if one is set.
func settle(fn func()) {
	if fn != nil {
		fn()
	}
}
