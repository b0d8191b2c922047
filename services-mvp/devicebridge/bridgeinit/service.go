package bridgeinit

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"cloud.google.com/go/storage"
	"github.com/illmade-knight/iot-device-bridge/pkg/batching"
	"github.com/illmade-knight/iot-device-bridge/pkg/bqstore"
	"github.com/illmade-knight/iot-device-bridge/pkg/consumers"
	"github.com/illmade-knight/iot-device-bridge/pkg/devicemanager"
	"github.com/illmade-knight/iot-device-bridge/pkg/icestore"
	"github.com/illmade-knight/iot-device-bridge/pkg/logsink"
	"github.com/illmade-knight/iot-device-bridge/pkg/registry"
	"github.com/illmade-knight/iot-device-bridge/pkg/statestore"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// Pipeline is one running subscription.
type Pipeline interface {
	Name() string
	Start() error
	Stop()
}

// BridgeService owns the device manager, the event pipelines and the clients
// behind them.
type BridgeService struct {
	manager   *devicemanager.Manager
	pipelines []Pipeline
	closers   []io.Closer
	logger    zerolog.Logger
	started   []Pipeline
	stopOnce  sync.Once
}

// NewBridgeService groups already built components. closers are closed, in
// reverse order, after the pipelines stop.
func NewBridgeService(manager *devicemanager.Manager, pipelines []Pipeline, closers []io.Closer, logger zerolog.Logger) *BridgeService {
	return &BridgeService{
		manager:   manager,
		pipelines: pipelines,
		closers:   closers,
		logger:    logger.With().Str("component", "BridgeService").Logger(),
	}
}

// Manager is the device manager the HTTP API serves.
func (s *BridgeService) Manager() *devicemanager.Manager {
	return s.manager
}

// Start starts every pipeline. If one fails the ones already started are stopped.
func (s *BridgeService) Start() error {
	for _, p := range s.pipelines {
		if err := p.Start(); err != nil {
			s.stopStarted()
			return fmt.Errorf("start pipeline %s: %w", p.Name(), err)
		}
		s.started = append(s.started, p)
		s.logger.Info().Str("pipeline", p.Name()).Msg("Pipeline started.")
	}
	return nil
}

// Stop stops the pipelines and then closes the clients.
func (s *BridgeService) Stop() {
	s.stopOnce.Do(func() {
		s.stopStarted()
		for i := len(s.closers) - 1; i >= 0; i-- {
			if err := s.closers[i].Close(); err != nil {
				s.logger.Error().Err(err).Msg("Error closing client")
			}
		}
		s.logger.Info().Msg("BridgeService stopped.")
	})
}

func (s *BridgeService) stopStarted() {
	for i := len(s.started) - 1; i >= 0; i-- {
		s.started[i].Stop()
		s.logger.Info().Str("pipeline", s.started[i].Name()).Msg("Pipeline stopped.")
	}
	s.started = nil
}

// decodeDeviceEvent adapts types.DecodeDeviceEvent to a PayloadDecoder.
func decodeDeviceEvent(msg types.ConsumedMessage) (*types.DeviceEvent, error) {
	return types.DecodeDeviceEvent(msg), nil
}

// NewDeviceStatePipeline routes state events to the manager.
func NewDeviceStatePipeline(cfg *Config, consumer consumers.MessageConsumer, manager *devicemanager.Manager, logger zerolog.Logger) (*consumers.ProcessingService[types.DeviceEvent], error) {
	processor := consumers.NewHandlerProcessor[types.DeviceEvent](manager.OnDeviceState, cfg.PubSub.NumWorkers, cfg.PubSub.HandlerTimeout, logger)
	return consumers.NewProcessingService[types.DeviceEvent]("device-state", cfg.PubSub.NumWorkers, consumer, processor, decodeDeviceEvent, logger)
}

// NewDeviceLogsPipeline routes log events to the manager.
func NewDeviceLogsPipeline(cfg *Config, consumer consumers.MessageConsumer, manager *devicemanager.Manager, logger zerolog.Logger) (*consumers.ProcessingService[types.DeviceEvent], error) {
	processor := consumers.NewHandlerProcessor[types.DeviceEvent](manager.OnDeviceLogs, cfg.PubSub.NumWorkers, cfg.PubSub.HandlerTimeout, logger)
	return consumers.NewProcessingService[types.DeviceEvent]("device-logs", cfg.PubSub.NumWorkers, consumer, processor, decodeDeviceEvent, logger)
}

// NewManagerConfig derives the manager settings from the bridge config.
func NewManagerConfig(cfg *Config, version string) devicemanager.Config {
	mc := devicemanager.DefaultConfig()
	mc.Tokens = cfg.Auth.Tokens
	mc.RegistryID = cfg.Registry.ID
	mc.DefaultConfig = cfg.DeviceConfig
	if version != "" {
		mc.Version = version
	}
	return mc
}

// NewRegistryClient reads the service account key and creates a registry client.
func NewRegistryClient(cfg *Config, logger zerolog.Logger) (*registry.Client, error) {
	serviceAccountJSON, err := os.ReadFile(cfg.Registry.ServiceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	return registry.NewClient(serviceAccountJSON, logger)
}

// BuildBridgeService connects every client the configuration asks for and
// assembles the service. On error anything already opened is closed.
func BuildBridgeService(ctx context.Context, cfg *Config, version string, logger zerolog.Logger) (svc *BridgeService, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var closers []io.Closer
	defer func() {
		if err != nil {
			for i := len(closers) - 1; i >= 0; i-- {
				_ = closers[i].Close()
			}
		}
	}()

	registryClient, err := NewRegistryClient(cfg, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, registryClient)

	states, err := statestore.NewFirestoreStateStore(ctx, &statestore.FirestoreStateStoreConfig{
		ProjectID:       cfg.ProjectID,
		CollectionName:  cfg.Firestore.Collection,
		CredentialsFile: cfg.Firestore.CredentialsFile,
	}, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, states)

	sink, err := logsink.NewCloudLoggingSink(ctx, &logsink.CloudLoggingSinkConfig{
		ProjectID:       cfg.ProjectID,
		LogName:         cfg.Logging.LogName,
		CredentialsFile: cfg.Logging.CredentialsFile,
	}, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, sink)

	manager, err := devicemanager.New(NewManagerConfig(cfg, version), registryClient, states, sink, logger)
	if err != nil {
		return nil, err
	}

	var pipelines []Pipeline
	newConsumer := func(subscriptionID string) (*consumers.GooglePubSubConsumer, error) {
		return consumers.NewGooglePubSubConsumer(ctx, &consumers.GooglePubSubConsumerConfig{
			ProjectID:              cfg.ProjectID,
			SubscriptionID:         subscriptionID,
			CredentialsFile:        cfg.PubSub.CredentialsFile,
			MaxOutstandingMessages: 100,
			NumGoroutines:          cfg.PubSub.NumWorkers,
		}, logger)
	}

	stateConsumer, err := newConsumer(cfg.PubSub.StateSubscriptionID)
	if err != nil {
		return nil, err
	}
	statePipeline, err := NewDeviceStatePipeline(cfg, stateConsumer, manager, logger)
	if err != nil {
		_ = stateConsumer.Stop()
		return nil, err
	}
	pipelines = append(pipelines, statePipeline)

	logsConsumer, err := newConsumer(cfg.PubSub.LogsSubscriptionID)
	if err != nil {
		_ = stateConsumer.Stop()
		return nil, err
	}
	logsPipeline, err := NewDeviceLogsPipeline(cfg, logsConsumer, manager, logger)
	if err != nil {
		_ = stateConsumer.Stop()
		_ = logsConsumer.Stop()
		return nil, err
	}
	pipelines = append(pipelines, logsPipeline)

	if cfg.StateHistory.Enabled {
		p, closer, err := buildStateHistory(ctx, cfg, newConsumer, logger)
		if err != nil {
			stopConsumers(stateConsumer, logsConsumer)
			return nil, err
		}
		pipelines = append(pipelines, p)
		closers = append(closers, closer)
	}
	if cfg.LogArchive.Enabled {
		p, closer, err := buildLogArchive(ctx, cfg, newConsumer, logger)
		if err != nil {
			stopConsumers(stateConsumer, logsConsumer)
			return nil, err
		}
		pipelines = append(pipelines, p)
		closers = append(closers, closer)
	}

	return NewBridgeService(manager, pipelines, closers, logger), nil
}

func stopConsumers(cs ...*consumers.GooglePubSubConsumer) {
	for _, c := range cs {
		_ = c.Stop()
	}
}

type consumerFactory func(subscriptionID string) (*consumers.GooglePubSubConsumer, error)

func buildStateHistory(ctx context.Context, cfg *Config, newConsumer consumerFactory, logger zerolog.Logger) (Pipeline, io.Closer, error) {
	bqCfg := &bqstore.BigQueryInserterConfig{
		ProjectID:       cfg.ProjectID,
		DatasetID:       cfg.StateHistory.DatasetID,
		TableID:         cfg.StateHistory.TableID,
		CredentialsFile: cfg.StateHistory.CredentialsFile,
	}
	client, err := bqstore.NewProductionBigQueryClient(ctx, bqCfg, logger)
	if err != nil {
		return nil, nil, err
	}
	inserter, err := bqstore.NewBigQueryInserter[bqstore.StateRecord](ctx, client, bqCfg, bqstore.StatePartitionField, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	consumer, err := newConsumer(cfg.StateHistory.SubscriptionID)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	batchCfg := batching.DefaultConfig()
	batchCfg.BatchSize = cfg.StateHistory.BatchSize
	batchCfg.FlushTimeout = cfg.StateHistory.FlushTimeout
	service, err := bqstore.NewStateHistoryService(cfg.PubSub.NumWorkers, consumer, inserter, batchCfg, logger)
	if err != nil {
		_ = consumer.Stop()
		client.Close()
		return nil, nil, err
	}
	return service, client, nil
}

func buildLogArchive(ctx context.Context, cfg *Config, newConsumer consumerFactory, logger zerolog.Logger) (Pipeline, io.Closer, error) {
	var opts []option.ClientOption
	if cfg.PubSub.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.PubSub.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("storage.NewClient: %w", err)
	}
	uploader, err := icestore.NewGCSBatchUploader[icestore.LogArchiveRecord](icestore.NewGCSClientAdapter(client), icestore.GCSBatchUploaderConfig{
		BucketName:   cfg.LogArchive.BucketName,
		ObjectPrefix: cfg.LogArchive.ObjectPrefix,
	}, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	consumer, err := newConsumer(cfg.LogArchive.SubscriptionID)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	batchCfg := batching.DefaultConfig()
	batchCfg.BatchSize = cfg.LogArchive.BatchSize
	batchCfg.FlushTimeout = cfg.LogArchive.FlushTimeout
	service, err := icestore.NewLogArchiveService(cfg.PubSub.NumWorkers, consumer, uploader, batchCfg, logger)
	if err != nil {
		_ = consumer.Stop()
		client.Close()
		return nil, nil, err
	}
	return service, client, nil
}
