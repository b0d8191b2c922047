package consumers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"
)

// GooglePubSubConsumerConfig holds configuration for a Pub/Sub consumer.
type GooglePubSubConsumerConfig struct {
	ProjectID       string
	SubscriptionID  string
	CredentialsFile string // Optional
	// MaxOutstandingMessages caps unacknowledged messages held by the client library.
	MaxOutstandingMessages int
	// NumGoroutines is the number of goroutines the client library receives with.
	NumGoroutines int
}

// LoadGooglePubSubConsumerConfigFromEnv loads consumer configuration from the
// environment. subscriptionEnvVar names the variable holding the subscription id.
func LoadGooglePubSubConsumerConfigFromEnv(subscriptionEnvVar string) (*GooglePubSubConsumerConfig, error) {
	cfg := &GooglePubSubConsumerConfig{
		ProjectID:              os.Getenv("GCP_PROJECT_ID"),
		SubscriptionID:         os.Getenv(subscriptionEnvVar),
		CredentialsFile:        os.Getenv("GCP_PUBSUB_CREDENTIALS_FILE"),
		MaxOutstandingMessages: 100,
		NumGoroutines:          5,
	}
	if cfg.ProjectID == "" {
		return nil, errors.New("GCP_PROJECT_ID environment variable not set for Pub/Sub consumer")
	}
	if cfg.SubscriptionID == "" {
		return nil, fmt.Errorf("%s environment variable not set for Pub/Sub consumer", subscriptionEnvVar)
	}
	return cfg, nil
}

// pubsubClientOptions picks emulator, credentials file or ADC options.
func pubsubClientOptions(credentialsFile string, logger zerolog.Logger) []option.ClientOption {
	if emulatorHost := os.Getenv("PUBSUB_EMULATOR_HOST"); emulatorHost != "" {
		logger.Info().Str("emulator_host", emulatorHost).Msg("Using Pub/Sub emulator with endpoint and no auth.")
		return []option.ClientOption{option.WithEndpoint(emulatorHost), option.WithoutAuthentication()}
	}
	if credentialsFile != "" {
		logger.Info().Str("credentials_file", credentialsFile).Msg("Using specified credentials file for Pub/Sub")
		return []option.ClientOption{option.WithCredentialsFile(credentialsFile)}
	}
	logger.Info().Msg("Using Application Default Credentials (ADC) for Pub/Sub")
	return nil
}

// GooglePubSubConsumer implements MessageConsumer for a Pub/Sub subscription.
type GooglePubSubConsumer struct {
	client             *pubsub.Client
	subscription       *pubsub.Subscription
	config             *GooglePubSubConsumerConfig
	logger             zerolog.Logger
	outputChan         chan types.ConsumedMessage
	stopOnce           sync.Once
	cancelSubscription context.CancelFunc
	doneChan           chan struct{}
}

// NewGooglePubSubConsumer creates a consumer. The subscription must already exist.
func NewGooglePubSubConsumer(ctx context.Context, cfg *GooglePubSubConsumerConfig, logger zerolog.Logger) (*GooglePubSubConsumer, error) {
	logger = logger.With().Str("component", "GooglePubSubConsumer").Str("subscription_id", cfg.SubscriptionID).Logger()

	client, err := pubsub.NewClient(ctx, cfg.ProjectID, pubsubClientOptions(cfg.CredentialsFile, logger)...)
	if err != nil {
		return nil, fmt.Errorf("pubsub.NewClient for subscription %s: %w", cfg.SubscriptionID, err)
	}

	sub := client.Subscription(cfg.SubscriptionID)
	if cfg.MaxOutstandingMessages > 0 {
		sub.ReceiveSettings.MaxOutstandingMessages = cfg.MaxOutstandingMessages
	}
	if cfg.NumGoroutines > 0 {
		sub.ReceiveSettings.NumGoroutines = cfg.NumGoroutines
	}

	exists, err := sub.Exists(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("subscription.Exists check for %s: %w", cfg.SubscriptionID, err)
	}
	if !exists {
		client.Close()
		return nil, fmt.Errorf("pubsub subscription %s does not exist in project %s", cfg.SubscriptionID, cfg.ProjectID)
	}

	bufferSize := cfg.MaxOutstandingMessages
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &GooglePubSubConsumer{
		client:       client,
		subscription: sub,
		config:       cfg,
		logger:       logger,
		outputChan:   make(chan types.ConsumedMessage, bufferSize),
		doneChan:     make(chan struct{}),
	}, nil
}

// Messages returns the output channel.
func (c *GooglePubSubConsumer) Messages() <-chan types.ConsumedMessage {
	return c.outputChan
}

// Start begins receiving from the subscription in the background.
func (c *GooglePubSubConsumer) Start(ctx context.Context) error {
	c.logger.Info().Msg("Starting Pub/Sub message consumption...")

	receiveCtx, cancel := context.WithCancel(ctx)
	c.cancelSubscription = cancel

	go func() {
		defer close(c.doneChan)
		defer close(c.outputChan)

		err := c.subscription.Receive(receiveCtx, func(_ context.Context, msg *pubsub.Message) {
			payload := make([]byte, len(msg.Data))
			copy(payload, msg.Data)

			consumed := types.ConsumedMessage{
				ID:          msg.ID,
				Payload:     payload,
				Attributes:  msg.Attributes,
				PublishTime: msg.PublishTime,
				Ack:         msg.Ack,
				Nack:        msg.Nack,
			}

			select {
			case c.outputChan <- consumed:
			case <-receiveCtx.Done():
				c.logger.Warn().Str("msg_id", msg.ID).Msg("Consumer stopping, Nacking message.")
				msg.Nack()
			}
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Error().Err(err).Msg("Pub/Sub Receive call exited with error")
		}
		c.logger.Info().Msg("Pub/Sub Receive goroutine stopped.")
	}()
	return nil
}

// Stop cancels Receive, waits for it to return and closes the client.
func (c *GooglePubSubConsumer) Stop() error {
	var closeErr error
	c.stopOnce.Do(func() {
		c.logger.Info().Msg("Stopping Pub/Sub consumer...")
		if c.cancelSubscription != nil {
			c.cancelSubscription()
			select {
			case <-c.doneChan:
			case <-time.After(30 * time.Second):
				c.logger.Error().Msg("Timeout waiting for Pub/Sub Receive goroutine to stop.")
			}
		} else {
			// Never started, so nothing will close these.
			close(c.outputChan)
			close(c.doneChan)
		}
		closeErr = c.client.Close()
	})
	return closeErr
}

// Done is closed once the consumer has stopped.
func (c *GooglePubSubConsumer) Done() <-chan struct{} {
	return c.doneChan
}
