package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/illmade-knight/iot-device-bridge/services-mvp/devicebridge/bridgeinit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X .../cmd.Version=1.2.3".
var Version = "dev"

// cfg is loaded once the flags are parsed and shared by every subcommand.
var cfg *bridgeinit.Config

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "bridgectl",
	Short: "Run and operate the IoT device bridge.",
	Long: `bridgectl runs the device bridge and talks to the pieces behind it.

It allows you to:
  - Serve the HTTP API and the device event subscriptions.
  - Inspect, register, command and reset devices in the registry.
  - Publish state and log events as a device would.
  - Simulate a device over the MQTT bridge.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := bridgeinit.LoadConfig(cmd.Flags())
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		cfg = loaded

		zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs
		consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		log.Logger = zerolog.New(consoleWriter).With().Timestamp().Logger()

		level, err := zerolog.ParseLevel(cfg.LogLevel)
		if err != nil {
			log.Warn().Str("provided_level", cfg.LogLevel).Msg("Invalid log level provided. Defaulting to 'info'.")
			level = zerolog.InfoLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Debug().Msg("Logger initialized.")
		return nil
	},
}

// Execute runs the root command. It is called by cli/main.go.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Version = Version
	bridgeinit.RegisterFlags(rootCmd.PersistentFlags())
}
