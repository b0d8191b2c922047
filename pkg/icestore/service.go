package icestore

import (
	"github.com/illmade-knight/iot-device-bridge/pkg/batching"
	"github.com/illmade-knight/iot-device-bridge/pkg/consumers"
	"github.com/rs/zerolog"
)

// NewLogArchiveService assembles the device logs archive pipeline: a consumer
// feeding a batcher that uploads to Cloud Storage.
func NewLogArchiveService(
	numWorkers int,
	consumer consumers.MessageConsumer,
	uploader *GCSBatchUploader[LogArchiveRecord],
	batchCfg batching.Config,
	logger zerolog.Logger,
) (*consumers.ProcessingService[LogArchiveRecord], error) {
	batcher, err := batching.NewBatcher[LogArchiveRecord](batchCfg, uploader, logger)
	if err != nil {
		return nil, err
	}
	return consumers.NewProcessingService[LogArchiveRecord]("log-archive", numWorkers, consumer, batcher, DecodeLogArchiveRecord, logger)
}
