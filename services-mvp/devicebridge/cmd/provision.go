package cmd

import (
	"errors"
	"fmt"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"github.com/illmade-knight/iot-device-bridge/pkg/servicemanager"
	"github.com/illmade-knight/iot-device-bridge/services-mvp/devicebridge/bridgeinit"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/api/option"
)

var (
	resourcesFile string
	teardown      bool
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create the topics, subscriptions, dataset and bucket the bridge uses",
	Long: `provision creates the cloud resources derived from the bridge config, or
the ones listed in --resources. It is idempotent. With --teardown it deletes
the Pub/Sub topics and subscriptions instead; datasets and buckets are kept.`,
	Example: `  bridgectl provision --config ./bridge.yaml
  PUBSUB_EMULATOR_HOST=localhost:8085 bridgectl provision --project test-project
  bridgectl provision --resources ./resources.yaml --teardown`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.ProjectID == "" {
			return errors.New("--project (or project_id) must be set")
		}
		spec := bridgeinit.Resources(cfg)
		if resourcesFile != "" {
			loaded, err := servicemanager.LoadResourcesSpec(resourcesFile)
			if err != nil {
				return err
			}
			spec = loaded
		}
		if err := spec.Validate(); err != nil {
			return err
		}

		ctx := cmd.Context()
		var opts []option.ClientOption
		if cfg.PubSub.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.PubSub.CredentialsFile))
		}

		psClient, err := pubsub.NewClient(ctx, cfg.ProjectID, opts...)
		if err != nil {
			return fmt.Errorf("failed to create Pub/Sub client: %w", err)
		}
		defer psClient.Close()
		psManager := servicemanager.NewPubSubManager(psClient, log.Logger)

		if teardown {
			if err := psManager.Teardown(ctx, spec); err != nil {
				return err
			}
			log.Info().Msg("Pub/Sub resources torn down.")
			return nil
		}

		if err := psManager.Setup(ctx, spec); err != nil {
			return err
		}

		if len(spec.BigQueryDatasets) > 0 {
			bqClient, err := bigquery.NewClient(ctx, cfg.ProjectID, opts...)
			if err != nil {
				return fmt.Errorf("failed to create BigQuery client: %w", err)
			}
			defer bqClient.Close()
			if err := servicemanager.EnsureDatasets(ctx, bqClient, spec.BigQueryDatasets, log.Logger); err != nil {
				return err
			}
		}
		if len(spec.GCSBuckets) > 0 {
			gcsClient, err := storage.NewClient(ctx, opts...)
			if err != nil {
				return fmt.Errorf("failed to create storage client: %w", err)
			}
			defer gcsClient.Close()
			if err := servicemanager.EnsureBuckets(ctx, gcsClient, cfg.ProjectID, spec.GCSBuckets, log.Logger); err != nil {
				return err
			}
		}
		log.Info().Msg("All resources provisioned.")
		return nil
	},
}

func init() {
	provisionCmd.Flags().StringVar(&resourcesFile, "resources", "", "YAML resources file overriding the ones derived from config")
	provisionCmd.Flags().BoolVar(&teardown, "teardown", false, "Delete the Pub/Sub resources instead of creating them")
	rootCmd.AddCommand(provisionCmd)
}
