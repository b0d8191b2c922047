package bridgeinit

import "github.com/illmade-knight/iot-device-bridge/pkg/servicemanager"

// Resources lists the topics, subscriptions, datasets and buckets cfg needs.
// The archive subscriptions read the same topics as the bridge's own.
func Resources(cfg *Config) *servicemanager.ResourcesSpec {
	labels := map[string]string{"app": "device-bridge"}
	spec := &servicemanager.ResourcesSpec{
		PubSubTopics: []servicemanager.PubSubTopic{
			{Name: cfg.PubSub.StateTopicID, Labels: labels},
			{Name: cfg.PubSub.LogsTopicID, Labels: labels},
		},
		PubSubSubscriptions: []servicemanager.PubSubSubscription{
			{Name: cfg.PubSub.StateSubscriptionID, Topic: cfg.PubSub.StateTopicID, AckDeadlineSeconds: 60, Labels: labels},
			{Name: cfg.PubSub.LogsSubscriptionID, Topic: cfg.PubSub.LogsTopicID, AckDeadlineSeconds: 60, Labels: labels},
		},
	}
	if cfg.StateHistory.Enabled {
		spec.PubSubSubscriptions = append(spec.PubSubSubscriptions, servicemanager.PubSubSubscription{
			Name: cfg.StateHistory.SubscriptionID, Topic: cfg.PubSub.StateTopicID, AckDeadlineSeconds: 120, Labels: labels,
		})
		spec.BigQueryDatasets = append(spec.BigQueryDatasets, servicemanager.BigQueryDataset{
			Name: cfg.StateHistory.DatasetID, Description: "Device state history", Labels: labels,
		})
	}
	if cfg.LogArchive.Enabled {
		spec.PubSubSubscriptions = append(spec.PubSubSubscriptions, servicemanager.PubSubSubscription{
			Name: cfg.LogArchive.SubscriptionID, Topic: cfg.PubSub.LogsTopicID, AckDeadlineSeconds: 120, Labels: labels,
		})
		spec.GCSBuckets = append(spec.GCSBuckets, servicemanager.GCSBucket{Name: cfg.LogArchive.BucketName, Labels: labels})
	}
	return spec
}
