package cmd

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/illmade-knight/iot-device-bridge/pkg/consumers"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	eventDeviceID string
	stateData     string
	logLines      []string
	logTags       []string
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Publish device events to the event bus",
	Long: `event publishes messages shaped like the ones the MQTT bridge forwards:
JSON data with a deviceId attribute. Set PUBSUB_EMULATOR_HOST to target
the emulator.`,
}

func publishEvent(cmd *cobra.Command, topicID string, data []byte) error {
	if eventDeviceID == "" {
		return errors.New("--device is required")
	}
	if cfg.ProjectID == "" {
		return errors.New("--project (or project_id) must be set")
	}
	publisher, err := consumers.NewGooglePubSubPublisher(cmd.Context(), &consumers.GooglePubSubPublisherConfig{
		ProjectID:       cfg.ProjectID,
		TopicID:         topicID,
		CredentialsFile: cfg.PubSub.CredentialsFile,
	}, log.Logger)
	if err != nil {
		return err
	}
	defer publisher.Stop()

	msgID, err := publisher.Publish(cmd.Context(), data, map[string]string{types.DeviceIDAttribute: eventDeviceID})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published %s to %s\n", msgID, topicID)
	return nil
}

var publishStateCmd = &cobra.Command{
	Use:     "publish-state",
	Short:   "Publish a device state event",
	Example: `  bridgectl event publish-state --device dev1 --data '{"battery":80}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !json.Valid([]byte(stateData)) {
			return errors.New("--data must be valid JSON")
		}
		return publishEvent(cmd, cfg.PubSub.StateTopicID, []byte(stateData))
	},
}

var publishLogsCmd = &cobra.Command{
	Use:     "publish-logs",
	Short:   "Publish a device log batch",
	Example: `  bridgectl event publish-logs --device dev1 --line boot --line ready --tag env=prod`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(logLines) == 0 {
			return errors.New("at least one --line is required")
		}
		tags, err := parseTags(logTags)
		if err != nil {
			return err
		}
		data, err := json.Marshal(types.LogBatch{Data: logLines, Tags: tags})
		if err != nil {
			return err
		}
		return publishEvent(cmd, cfg.PubSub.LogsTopicID, data)
	},
}

func init() {
	eventCmd.PersistentFlags().StringVar(&eventDeviceID, "device", "", "Device ID set as the deviceId attribute")
	publishStateCmd.Flags().StringVar(&stateData, "data", "{}", "State as JSON")
	publishLogsCmd.Flags().StringArrayVar(&logLines, "line", nil, "Log line (repeatable)")
	publishLogsCmd.Flags().StringArrayVar(&logTags, "tag", nil, "Tag as key=value (repeatable)")

	eventCmd.AddCommand(publishStateCmd, publishLogsCmd)
	rootCmd.AddCommand(eventCmd)
}
