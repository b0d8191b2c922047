package cmd

import (
	"github.com/illmade-knight/iot-device-bridge/services-mvp/devicebridge/bridgeinit"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and process device events",
	Long: `serve starts the device manager HTTP API together with the device state
and device logs subscriptions, plus the state history and log archive
pipelines when they are enabled. It runs until SIGINT or SIGTERM.`,
	Example: `  bridgectl serve --config ./bridge.yaml
  APP_PUBSUB_NUM_WORKERS=10 bridgectl serve --project my-project --service-account-file sa.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		service, err := bridgeinit.BuildBridgeService(ctx, cfg, Version, log.Logger)
		if err != nil {
			return err
		}
		server, err := bridgeinit.NewServer(cfg, service.Manager(), service, log.Logger)
		if err != nil {
			service.Stop()
			return err
		}
		return server.Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
