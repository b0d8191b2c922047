package servicemanager

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubSubManager creates and deletes the bridge's topics and subscriptions.
type PubSubManager struct {
	client *pubsub.Client
	logger zerolog.Logger
}

// NewPubSubManager creates a PubSubManager around an existing client.
func NewPubSubManager(client *pubsub.Client, logger zerolog.Logger) *PubSubManager {
	return &PubSubManager{
		client: client,
		logger: logger.With().Str("component", "PubSubManager").Logger(),
	}
}

// Setup creates missing topics and subscriptions and updates existing ones.
// Running it twice leaves the same resources.
func (m *PubSubManager) Setup(ctx context.Context, spec *ResourcesSpec) error {
	if err := m.setupTopics(ctx, spec.PubSubTopics); err != nil {
		return err
	}
	return m.setupSubscriptions(ctx, spec.PubSubSubscriptions)
}

func (m *PubSubManager) setupTopics(ctx context.Context, topics []PubSubTopic) error {
	m.logger.Info().Int("count", len(topics)).Msg("Setting up Pub/Sub topics...")
	for _, topicCfg := range topics {
		topic := m.client.Topic(topicCfg.Name)
		exists, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check existence of topic '%s': %w", topicCfg.Name, err)
		}
		if exists {
			if len(topicCfg.Labels) > 0 {
				if _, err := topic.Update(ctx, pubsub.TopicConfigToUpdate{Labels: topicCfg.Labels}); err != nil {
					m.logger.Warn().Err(err).Str("topic_id", topicCfg.Name).Msg("Failed to update topic labels")
				}
			}
			m.logger.Info().Str("topic_id", topicCfg.Name).Msg("Topic already exists")
			continue
		}
		if _, err := m.client.CreateTopicWithConfig(ctx, topicCfg.Name, &pubsub.TopicConfig{Labels: topicCfg.Labels}); err != nil {
			return fmt.Errorf("failed to create topic '%s': %w", topicCfg.Name, err)
		}
		m.logger.Info().Str("topic_id", topicCfg.Name).Msg("Topic created")
	}
	return nil
}

// subscriptionConfig converts a subscription entry, ignoring durations that do not parse.
func (m *PubSubManager) subscriptionConfig(subCfg PubSubSubscription) pubsub.SubscriptionConfig {
	cfg := pubsub.SubscriptionConfig{
		Topic:  m.client.Topic(subCfg.Topic),
		Labels: subCfg.Labels,
	}
	if subCfg.AckDeadlineSeconds > 0 {
		cfg.AckDeadline = time.Duration(subCfg.AckDeadlineSeconds) * time.Second
	}
	if subCfg.MessageRetention != "" {
		if d, err := time.ParseDuration(subCfg.MessageRetention); err != nil {
			m.logger.Warn().Err(err).Str("subscription_id", subCfg.Name).Msg("Invalid message retention, using Pub/Sub default")
		} else {
			cfg.RetentionDuration = d
		}
	}
	if subCfg.RetryPolicy != nil {
		minBackoff, errMin := time.ParseDuration(subCfg.RetryPolicy.MinimumBackoff)
		maxBackoff, errMax := time.ParseDuration(subCfg.RetryPolicy.MaximumBackoff)
		if errMin == nil && errMax == nil {
			cfg.RetryPolicy = &pubsub.RetryPolicy{MinimumBackoff: minBackoff, MaximumBackoff: maxBackoff}
		} else {
			m.logger.Warn().Str("subscription_id", subCfg.Name).Msg("Invalid retry policy durations, using Pub/Sub default")
		}
	}
	return cfg
}

func (m *PubSubManager) setupSubscriptions(ctx context.Context, subs []PubSubSubscription) error {
	m.logger.Info().Int("count", len(subs)).Msg("Setting up Pub/Sub subscriptions...")
	for _, subCfg := range subs {
		cfg := m.subscriptionConfig(subCfg)
		sub := m.client.Subscription(subCfg.Name)
		exists, err := sub.Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check existence of subscription '%s': %w", subCfg.Name, err)
		}
		if exists {
			_, err := sub.Update(ctx, pubsub.SubscriptionConfigToUpdate{
				AckDeadline:       cfg.AckDeadline,
				Labels:            cfg.Labels,
				RetryPolicy:       cfg.RetryPolicy,
				RetentionDuration: cfg.RetentionDuration,
			})
			if err != nil {
				m.logger.Warn().Err(err).Str("subscription_id", subCfg.Name).Msg("Failed to update existing subscription")
			}
			m.logger.Info().Str("subscription_id", subCfg.Name).Msg("Subscription already exists")
			continue
		}
		if _, err := m.client.CreateSubscription(ctx, subCfg.Name, cfg); err != nil {
			return fmt.Errorf("failed to create subscription '%s' for topic '%s': %w", subCfg.Name, subCfg.Topic, err)
		}
		m.logger.Info().Str("subscription_id", subCfg.Name).Str("topic_id", subCfg.Topic).Msg("Subscription created")
	}
	return nil
}

// Teardown deletes the subscriptions and then the topics. Missing resources
// are skipped.
func (m *PubSubManager) Teardown(ctx context.Context, spec *ResourcesSpec) error {
	for _, subCfg := range spec.PubSubSubscriptions {
		sub := m.client.Subscription(subCfg.Name)
		exists, err := sub.Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check existence of subscription '%s': %w", subCfg.Name, err)
		}
		if !exists {
			continue
		}
		if err := sub.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete subscription '%s': %w", subCfg.Name, err)
		}
		m.logger.Info().Str("subscription_id", subCfg.Name).Msg("Subscription deleted")
	}
	for _, topicCfg := range spec.PubSubTopics {
		topic := m.client.Topic(topicCfg.Name)
		exists, err := topic.Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check existence of topic '%s': %w", topicCfg.Name, err)
		}
		if !exists {
			continue
		}
		if err := topic.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete topic '%s': %w", topicCfg.Name, err)
		}
		m.logger.Info().Str("topic_id", topicCfg.Name).Msg("Topic deleted")
	}
	return nil
}
