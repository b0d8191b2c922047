package bqstore

import (
	"github.com/illmade-knight/iot-device-bridge/pkg/batching"
	"github.com/illmade-knight/iot-device-bridge/pkg/consumers"
	"github.com/rs/zerolog"
)

// NewStateHistoryService assembles the state history pipeline: a consumer
// feeding a batcher that streams rows into BigQuery.
func NewStateHistoryService(
	numWorkers int,
	consumer consumers.MessageConsumer,
	inserter *BigQueryInserter[StateRecord],
	batchCfg batching.Config,
	logger zerolog.Logger,
) (*consumers.ProcessingService[StateRecord], error) {
	batcher, err := batching.NewBatcher[StateRecord](batchCfg, inserter, logger)
	if err != nil {
		return nil, err
	}
	return consumers.NewProcessingService[StateRecord]("state-history", numWorkers, consumer, batcher, DecodeStateRecord, logger)
}
