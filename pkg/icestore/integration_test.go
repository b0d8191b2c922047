//go:build integration

package icestore_test

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/iot-device-bridge/pkg/batching"
	"github.com/illmade-knight/iot-device-bridge/pkg/consumers"
	"github.com/illmade-knight/iot-device-bridge/pkg/icestore"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const (
	testProjectID      = "icestore-test-project"
	testTopicID        = "device-logs"
	testSubscriptionID = "device-logs-archive"
	testBucketName     = "device-logs-archive"
)

func TestLogArchiveService_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	pubsubCleanup := setupPubSubEmulator(t, ctx)
	defer pubsubCleanup()
	gcsCleanup := setupGCSEmulator(t, ctx)
	defer gcsCleanup()

	testLogger := log.With().Str("service", "icestore-integration-test").Logger()

	consumer, err := consumers.NewGooglePubSubConsumer(ctx, &consumers.GooglePubSubConsumerConfig{
		ProjectID:              testProjectID,
		SubscriptionID:         testSubscriptionID,
		MaxOutstandingMessages: 10,
		NumGoroutines:          2,
	}, testLogger)
	require.NoError(t, err)

	gcsClient, err := storage.NewClient(ctx, option.WithoutAuthentication(), option.WithEndpoint(os.Getenv("STORAGE_EMULATOR_HOST")))
	require.NoError(t, err)
	defer gcsClient.Close()
	require.NoError(t, gcsClient.Bucket(testBucketName).Create(ctx, testProjectID, nil))

	uploader, err := icestore.NewGCSBatchUploader[icestore.LogArchiveRecord](icestore.NewGCSClientAdapter(gcsClient), icestore.GCSBatchUploaderConfig{
		BucketName:   testBucketName,
		ObjectPrefix: "logs",
	}, testLogger)
	require.NoError(t, err)

	service, err := icestore.NewLogArchiveService(2, consumer, uploader, batching.Config{BatchSize: 10, FlushTimeout: 2 * time.Second}, testLogger)
	require.NoError(t, err)
	require.NoError(t, service.Start())

	publisherClient, err := pubsub.NewClient(ctx, testProjectID)
	require.NoError(t, err)
	defer publisherClient.Close()
	topic := publisherClient.Topic(testTopicID)
	defer topic.Stop()

	events := []struct {
		device string
		lines  []string
	}{
		{device: "player-1", lines: []string{"boot"}},
		{device: "player-2", lines: []string{"boot", "ready"}},
		{device: "player-1", lines: []string{"ready"}},
	}
	for _, e := range events {
		data, err := json.Marshal(map[string]any{"data": e.lines})
		require.NoError(t, err)
		_, err = topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: map[string]string{"deviceId": e.device}}).Get(ctx)
		require.NoError(t, err)
	}

	time.Sleep(5 * time.Second)
	service.Stop()

	objects, err := listGCSObjects(ctx, gcsClient.Bucket(testBucketName))
	require.NoError(t, err)

	counts := map[string]int{}
	for name, content := range objects {
		records, err := decompressAndScan(content)
		require.NoError(t, err)
		switch {
		case strings.HasPrefix(name, "logs/player-1/"):
			counts["player-1"] += len(records)
		case strings.HasPrefix(name, "logs/player-2/"):
			counts["player-2"] += len(records)
		default:
			t.Errorf("unexpected object %s", name)
		}
	}
	assert.Equal(t, 2, counts["player-1"])
	assert.Equal(t, 1, counts["player-2"])
}

func setupPubSubEmulator(t *testing.T, ctx context.Context) func() {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators",
		ExposedPorts: []string{"8085/tcp"},
		Cmd:          []string{"gcloud", "beta", "emulators", "pubsub", "start", fmt.Sprintf("--project=%s", testProjectID), "--host-port=0.0.0.0:8085"},
		WaitingFor:   wait.ForLog("INFO: Server started, listening on"),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)
	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "8085/tcp")
	require.NoError(t, err)
	t.Setenv("PUBSUB_EMULATOR_HOST", fmt.Sprintf("%s:%s", host, port.Port()))

	adminClient, err := pubsub.NewClient(ctx, testProjectID)
	require.NoError(t, err)
	defer adminClient.Close()
	topic, err := adminClient.CreateTopic(ctx, testTopicID)
	require.NoError(t, err)
	_, err = adminClient.CreateSubscription(ctx, testSubscriptionID, pubsub.SubscriptionConfig{Topic: topic})
	require.NoError(t, err)
	return func() { require.NoError(t, container.Terminate(ctx)) }
}

func setupGCSEmulator(t *testing.T, ctx context.Context) func() {
	t.Helper()
	req := testcontainers.ContainerRequest{
		Image:        "fsouza/fake-gcs-server:latest",
		ExposedPorts: []string{"4443/tcp"},
		Cmd:          []string{"-scheme", "http"},
		WaitingFor:   wait.ForHTTP("/storage/v1/b").WithPort("4443/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{ContainerRequest: req, Started: true})
	require.NoError(t, err)

	endpoint, err := container.Endpoint(ctx, "http")
	require.NoError(t, err)
	t.Setenv("STORAGE_EMULATOR_HOST", endpoint+"/storage/v1/")

	return func() { require.NoError(t, container.Terminate(ctx)) }
}

func listGCSObjects(ctx context.Context, bucket *storage.BucketHandle) (map[string][]byte, error) {
	objects := make(map[string][]byte)
	it := bucket.Objects(ctx, nil)
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list objects: %w", err)
		}
		// ReadCompressed keeps the raw gzip bytes even though ContentEncoding is set.
		rc, err := bucket.Object(attrs.Name).ReadCompressed(true).NewReader(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to open object %s: %w", attrs.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read object %s: %w", attrs.Name, err)
		}
		objects[attrs.Name] = content
	}
	return objects, nil
}

func decompressAndScan(data []byte) ([]icestore.LogArchiveRecord, error) {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gz.Close()
	var records []icestore.LogArchiveRecord
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		var rec icestore.LogArchiveRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, scanner.Err()
}
