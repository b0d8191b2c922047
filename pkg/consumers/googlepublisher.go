package consumers

import (
	"context"
	"errors"
	"fmt"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// GooglePubSubPublisherConfig holds configuration for the Pub/Sub publisher.
type GooglePubSubPublisherConfig struct {
	ProjectID       string
	TopicID         string
	CredentialsFile string // Optional
}

// GooglePubSubPublisher publishes device events to a Pub/Sub topic in the
// same shape Cloud IoT uses: JSON data plus device attributes.
type GooglePubSubPublisher struct {
	client *pubsub.Client
	topic  *pubsub.Topic
	logger zerolog.Logger
}

// NewGooglePubSubPublisher creates a publisher. The topic must already exist.
func NewGooglePubSubPublisher(ctx context.Context, cfg *GooglePubSubPublisherConfig, logger zerolog.Logger) (*GooglePubSubPublisher, error) {
	logger = logger.With().Str("component", "GooglePubSubPublisher").Str("topic_id", cfg.TopicID).Logger()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, pubsubClientOptions(cfg.CredentialsFile, logger)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient: %w", err)
	}

	topic := client.Topic(cfg.TopicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("topic.Exists: %w", err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("pubsub topic %s does not exist in project %s", cfg.TopicID, cfg.ProjectID)
	}

	logger.Info().Str("project_id", cfg.ProjectID).Msg("GooglePubSubPublisher initialized successfully")
	return &GooglePubSubPublisher{client: client, topic: topic, logger: logger}, nil
}

// Publish sends data with the given attributes and waits for the server id.
func (p *GooglePubSubPublisher) Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("cannot publish empty message")
	}
	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attributes})
	msgID, err := result.Get(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("Failed to publish message to Pub/Sub")
		return "", fmt.Errorf("pubsub publish Get: %w", err)
	}
	p.logger.Debug().Str("message_id", msgID).Msg("Message published successfully to Pub/Sub")
	return msgID, nil
}

// Stop flushes pending messages and closes the client.
func (p *GooglePubSubPublisher) Stop() {
	p.topic.Stop()
	if err := p.client.Close(); err != nil {
		p.logger.Error().Err(err).Msg("Error closing Pub/Sub client")
	}
}
