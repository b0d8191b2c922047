package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// DefaultCollection is the collection device state documents live in,
// giving each device the document path states/{deviceId}.
const DefaultCollection = "states"

// ErrStateNotFound is returned when a device has never reported state.
var ErrStateNotFound = errors.New("device state not found")

// FirestoreStateStoreConfig holds configuration for the Firestore state store.
type FirestoreStateStoreConfig struct {
	ProjectID       string
	CollectionName  string
	CredentialsFile string // Optional, for specific service account
}

// LoadFirestoreStateStoreConfigFromEnv loads state store configuration from the environment.
func LoadFirestoreStateStoreConfigFromEnv() (*FirestoreStateStoreConfig, error) {
	cfg := &FirestoreStateStoreConfig{
		ProjectID:       os.Getenv("GCP_PROJECT_ID"),
		CollectionName:  os.Getenv("FIRESTORE_COLLECTION_STATES"),
		CredentialsFile: os.Getenv("GCP_FIRESTORE_CREDENTIALS_FILE"),
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Firestore")
	}
	if cfg.CollectionName == "" {
		cfg.CollectionName = DefaultCollection
	}
	return cfg, nil
}

// FirestoreStateStore keeps the last reported state of every device.
type FirestoreStateStore struct {
	client         *firestore.Client
	collectionName string
	logger         zerolog.Logger
}

// NewFirestoreStateStore creates a state store backed by Firestore.
// For the emulator set FIRESTORE_EMULATOR_HOST; the client library detects it.
func NewFirestoreStateStore(ctx context.Context, cfg *FirestoreStateStoreConfig, logger zerolog.Logger) (*FirestoreStateStore, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
		logger.Info().Str("credentials_file", cfg.CredentialsFile).Msg("Using specified credentials file for Firestore")
	} else if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		logger.Info().Msg("Using Application Default Credentials (ADC) for Firestore")
	}

	client, err := firestore.NewClient(ctx, cfg.ProjectID, opts...)
	if err != nil {
		logger.Error().Err(err).Str("project_id", cfg.ProjectID).Msg("Failed to create Firestore client")
		return nil, fmt.Errorf("firestore.NewClient: %w", err)
	}
	return NewFirestoreStateStoreWithClient(client, cfg.CollectionName, logger), nil
}

// NewFirestoreStateStoreWithClient wraps an existing Firestore client.
func NewFirestoreStateStoreWithClient(client *firestore.Client, collectionName string, logger zerolog.Logger) *FirestoreStateStore {
	if collectionName == "" {
		collectionName = DefaultCollection
	}
	logger.Info().Str("collection", collectionName).Msg("FirestoreStateStore initialized successfully")
	return &FirestoreStateStore{
		client:         client,
		collectionName: collectionName,
		logger:         logger.With().Str("component", "FirestoreStateStore").Logger(),
	}
}

// SaveState replaces the stored state of a device with the given JSON.
func (s *FirestoreStateStore) SaveState(ctx context.Context, deviceID string, state json.RawMessage) error {
	doc, err := StateDocument(state)
	if err != nil {
		return err
	}
	if _, err := s.client.Collection(s.collectionName).Doc(deviceID).Set(ctx, doc); err != nil {
		s.logger.Error().Err(err).Str("device_id", deviceID).Msg("Failed to save device state")
		return fmt.Errorf("firestore Set for %s: %w", deviceID, err)
	}
	s.logger.Debug().Str("device_id", deviceID).Msg("Device state saved")
	return nil
}

// GetState returns the stored state of a device.
func (s *FirestoreStateStore) GetState(ctx context.Context, deviceID string) (map[string]any, error) {
	snap, err := s.client.Collection(s.collectionName).Doc(deviceID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, ErrStateNotFound
		}
		return nil, fmt.Errorf("firestore Get for %s: %w", deviceID, err)
	}
	return snap.Data(), nil
}

// Close closes the Firestore client.
func (s *FirestoreStateStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// StateDocument converts a JSON state into a Firestore document. Objects are
// stored as they are; any other JSON value is stored under "value".
func StateDocument(state json.RawMessage) (map[string]any, error) {
	var decoded any
	if err := json.Unmarshal(state, &decoded); err != nil {
		return nil, fmt.Errorf("decode device state: %w", err)
	}
	if doc, ok := decoded.(map[string]any); ok {
		return doc, nil
	}
	return map[string]any{"value": decoded}, nil
}
