package bridgeinit

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds all configuration for the device bridge.
type Config struct {
	// LogLevel for the application-wide logger (e.g., "debug", "info", "warn", "error").
	LogLevel string `mapstructure:"log_level"`

	// HTTPPort is the listen address of the HTTP API, e.g. ":8080".
	HTTPPort string `mapstructure:"http_port"`

	// ShutdownTimeout bounds the graceful HTTP shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	// ProjectID is the GCP project of the event bus, state store and sinks.
	ProjectID string `mapstructure:"project_id"`

	// Registry holds settings for the Cloud IoT registry client.
	Registry struct {
		ID                 string `mapstructure:"id"`
		ServiceAccountFile string `mapstructure:"service_account_file"`
	} `mapstructure:"registry"`

	// Auth holds the API tokens accepted in the Authorization header.
	Auth struct {
		Tokens []string `mapstructure:"tokens"`
	} `mapstructure:"auth"`

	// DeviceConfig is pushed to every newly registered device.
	DeviceConfig types.DeviceConfig `mapstructure:"device_config"`

	// PubSub holds settings for the device event subscriptions.
	PubSub struct {
		CredentialsFile     string        `mapstructure:"credentials_file"`
		StateTopicID        string        `mapstructure:"state_topic_id"`
		LogsTopicID         string        `mapstructure:"logs_topic_id"`
		StateSubscriptionID string        `mapstructure:"state_subscription_id"`
		LogsSubscriptionID  string        `mapstructure:"logs_subscription_id"`
		NumWorkers          int           `mapstructure:"num_workers"`
		HandlerTimeout      time.Duration `mapstructure:"handler_timeout"`
	} `mapstructure:"pubsub"`

	// Firestore holds settings for the device state store.
	Firestore struct {
		Collection      string `mapstructure:"collection"`
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"firestore"`

	// Logging holds settings for the Cloud Logging sink.
	Logging struct {
		LogName         string `mapstructure:"log_name"`
		CredentialsFile string `mapstructure:"credentials_file"`
	} `mapstructure:"logging"`

	// StateHistory archives state events to BigQuery when enabled.
	StateHistory struct {
		Enabled         bool          `mapstructure:"enabled"`
		SubscriptionID  string        `mapstructure:"subscription_id"`
		DatasetID       string        `mapstructure:"dataset_id"`
		TableID         string        `mapstructure:"table_id"`
		CredentialsFile string        `mapstructure:"credentials_file"`
		BatchSize       int           `mapstructure:"batch_size"`
		FlushTimeout    time.Duration `mapstructure:"flush_timeout"`
	} `mapstructure:"state_history"`

	// LogArchive archives log batches to Cloud Storage when enabled.
	LogArchive struct {
		Enabled        bool          `mapstructure:"enabled"`
		SubscriptionID string        `mapstructure:"subscription_id"`
		BucketName     string        `mapstructure:"bucket_name"`
		ObjectPrefix   string        `mapstructure:"object_prefix"`
		BatchSize      int           `mapstructure:"batch_size"`
		FlushTimeout   time.Duration `mapstructure:"flush_timeout"`
	} `mapstructure:"log_archive"`
}

// flagKeys maps command-line flags onto config keys.
var flagKeys = map[string]string{
	"log-level":            "log_level",
	"http-port":            "http_port",
	"project":              "project_id",
	"registry-id":          "registry.id",
	"service-account-file": "registry.service_account_file",
}

// RegisterFlags adds the flags LoadConfig understands to a flag set.
func RegisterFlags(flags *pflag.FlagSet) {
	flags.String("config", "", "Path to a YAML config file")
	flags.String("log-level", "info", "Log level (debug, info, warn, error)")
	flags.String("http-port", ":8080", "HTTP listen address")
	flags.String("project", "", "GCP project ID")
	flags.String("registry-id", "", "Cloud IoT registry ID")
	flags.String("service-account-file", "", "Service account key used for the device registry")
}

// LoadConfig builds the configuration from defaults, an optional YAML file,
// APP_ prefixed environment variables and flags, in increasing precedence.
// flags may be nil.
func LoadConfig(flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	// --- 1. Set Defaults ---
	defaults := types.DefaultDeviceConfig()
	v.SetDefault("log_level", "info")
	v.SetDefault("http_port", ":8080")
	v.SetDefault("shutdown_timeout", 10*time.Second)
	v.SetDefault("project_id", "")
	v.SetDefault("registry.id", "android")
	v.SetDefault("registry.service_account_file", "")
	v.SetDefault("auth.tokens", []string{"1234"})
	v.SetDefault("device_config.logging_enabled", defaults.LoggingEnabled)
	v.SetDefault("device_config.logging_level", defaults.LoggingLevel)
	v.SetDefault("pubsub.credentials_file", "")
	v.SetDefault("pubsub.state_topic_id", "device-state")
	v.SetDefault("pubsub.logs_topic_id", "device-logs")
	v.SetDefault("pubsub.state_subscription_id", "device-state-bridge")
	v.SetDefault("pubsub.logs_subscription_id", "device-logs-bridge")
	v.SetDefault("pubsub.num_workers", 5)
	v.SetDefault("pubsub.handler_timeout", 30*time.Second)
	v.SetDefault("firestore.collection", "states")
	v.SetDefault("firestore.credentials_file", "")
	v.SetDefault("logging.log_name", "playerlogs")
	v.SetDefault("logging.credentials_file", "")
	v.SetDefault("state_history.enabled", false)
	v.SetDefault("state_history.subscription_id", "device-state-history")
	v.SetDefault("state_history.dataset_id", "devices")
	v.SetDefault("state_history.table_id", "device_states")
	v.SetDefault("state_history.credentials_file", "")
	v.SetDefault("state_history.batch_size", 50)
	v.SetDefault("state_history.flush_timeout", 10*time.Second)
	v.SetDefault("log_archive.enabled", false)
	v.SetDefault("log_archive.subscription_id", "device-logs-archive")
	v.SetDefault("log_archive.bucket_name", "")
	v.SetDefault("log_archive.object_prefix", "device-logs")
	v.SetDefault("log_archive.batch_size", 200)
	v.SetDefault("log_archive.flush_timeout", 30*time.Second)

	// --- 2. Bind flags ---
	if flags != nil {
		for flagName, key := range flagKeys {
			if f := flags.Lookup(flagName); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", flagName, err)
				}
			}
		}
	}

	// --- 3. Read the config file, if one was given ---
	if flags != nil {
		if configFile, err := flags.GetString("config"); err == nil && configFile != "" {
			v.SetConfigFile(configFile)
			v.SetConfigType("yaml")
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", configFile, err)
			}
		}
	}

	// --- 4. Environment variables, e.g. APP_PUBSUB_NUM_WORKERS ---
	v.SetEnvPrefix("APP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// --- 5. Unmarshal ---
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// Validate reports every missing setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.ProjectID == "" {
		errs = append(errs, errors.New("project_id is required"))
	}
	if c.Registry.ID == "" {
		errs = append(errs, errors.New("registry.id is required"))
	}
	if c.Registry.ServiceAccountFile == "" {
		errs = append(errs, errors.New("registry.service_account_file is required"))
	}
	if len(c.Auth.Tokens) == 0 {
		errs = append(errs, errors.New("auth.tokens must contain at least one token"))
	}
	if c.PubSub.StateSubscriptionID == "" || c.PubSub.LogsSubscriptionID == "" {
		errs = append(errs, errors.New("pubsub state and logs subscription ids are required"))
	}
	if c.StateHistory.Enabled && (c.StateHistory.DatasetID == "" || c.StateHistory.TableID == "") {
		errs = append(errs, errors.New("state_history requires dataset_id and table_id"))
	}
	if c.LogArchive.Enabled && c.LogArchive.BucketName == "" {
		errs = append(errs, errors.New("log_archive requires bucket_name"))
	}
	return errors.Join(errs...)
}
