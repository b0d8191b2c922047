package servicemanager

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ResourcesSpec lists the cloud resources the bridge reads from and writes to.
type ResourcesSpec struct {
	PubSubTopics        []PubSubTopic        `yaml:"pubsub_topics"`
	PubSubSubscriptions []PubSubSubscription `yaml:"pubsub_subscriptions"`
	BigQueryDatasets    []BigQueryDataset    `yaml:"bigquery_datasets,omitempty"`
	GCSBuckets          []GCSBucket          `yaml:"gcs_buckets,omitempty"`
}

// PubSubTopic defines the configuration for a Pub/Sub topic.
type PubSubTopic struct {
	Name   string            `yaml:"name"`
	Labels map[string]string `yaml:"labels,omitempty"`
}

// PubSubSubscription defines the configuration for a Pub/Sub subscription.
type PubSubSubscription struct {
	Name               string            `yaml:"name"`
	Topic              string            `yaml:"topic"`
	AckDeadlineSeconds int               `yaml:"ack_deadline_seconds,omitempty"`
	MessageRetention   string            `yaml:"message_retention_duration,omitempty"`
	RetryPolicy        *RetryPolicySpec  `yaml:"retry_policy,omitempty"`
	Labels             map[string]string `yaml:"labels,omitempty"`
}

type RetryPolicySpec struct {
	MinimumBackoff string `yaml:"minimum_backoff"`
	MaximumBackoff string `yaml:"maximum_backoff"`
}

// BigQueryDataset defines a dataset. Tables are created by the inserter from
// the record schema, so only the dataset is provisioned.
type BigQueryDataset struct {
	Name        string            `yaml:"name"`
	Location    string            `yaml:"location,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Labels      map[string]string `yaml:"labels,omitempty"`
}

// GCSBucket defines the configuration for a GCS bucket.
type GCSBucket struct {
	Name              string            `yaml:"name"`
	Location          string            `yaml:"location,omitempty"`
	StorageClass      string            `yaml:"storage_class,omitempty"`
	VersioningEnabled bool              `yaml:"versioning_enabled,omitempty"`
	DeleteAfterDays   int64             `yaml:"delete_after_days,omitempty"`
	Labels            map[string]string `yaml:"labels,omitempty"`
}

// LoadResourcesSpec reads and validates a YAML resources file.
func LoadResourcesSpec(path string) (*ResourcesSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read resources file: %w", err)
	}
	var spec ResourcesSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return nil, fmt.Errorf("parse resources file %s: %w", path, err)
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks names are set and every subscription's topic is declared.
func (s *ResourcesSpec) Validate() error {
	var errs []error
	topics := make(map[string]bool, len(s.PubSubTopics))
	for i, t := range s.PubSubTopics {
		if t.Name == "" {
			errs = append(errs, fmt.Errorf("pubsub_topics[%d]: name is required", i))
			continue
		}
		topics[t.Name] = true
	}
	for i, sub := range s.PubSubSubscriptions {
		if sub.Name == "" {
			errs = append(errs, fmt.Errorf("pubsub_subscriptions[%d]: name is required", i))
		}
		if !topics[sub.Topic] {
			errs = append(errs, fmt.Errorf("subscription %q references undeclared topic %q", sub.Name, sub.Topic))
		}
	}
	for i, d := range s.BigQueryDatasets {
		if d.Name == "" {
			errs = append(errs, fmt.Errorf("bigquery_datasets[%d]: name is required", i))
		}
	}
	for i, b := range s.GCSBuckets {
		if b.Name == "" {
			errs = append(errs, fmt.Errorf("gcs_buckets[%d]: name is required", i))
		}
	}
	return errors.Join(errs...)
}
