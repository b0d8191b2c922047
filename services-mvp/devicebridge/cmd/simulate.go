package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/deviceclient"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	simDeviceID     string
	simKeyFile      string
	simBrokerURL    string
	simInterval     time.Duration
	simCount        int
	simTokenTTL     time.Duration
	simLoggingLevel int
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Act as a device on the MQTT bridge",
	Long: `simulate connects to the MQTT bridge as a registered device, publishes
its state and a log line every interval, and prints the config updates and
commands it receives. It stops after --count rounds, or on SIGINT/SIGTERM
when --count is 0.`,
	Example: `  bridgectl simulate --project my-project --device dev1 --key ./dev1_private.pem --interval 5s`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if simDeviceID == "" || simKeyFile == "" {
			return errors.New("--device and --key are required")
		}
		key, err := os.ReadFile(simKeyFile)
		if err != nil {
			return fmt.Errorf("read private key: %w", err)
		}
		device, err := deviceclient.NewDevice(deviceclient.Config{
			BrokerURL:     simBrokerURL,
			ProjectID:     cfg.ProjectID,
			RegistryID:    cfg.Registry.ID,
			DeviceID:      simDeviceID,
			PrivateKeyPEM: key,
			TokenTTL:      simTokenTTL,
			QoS:           1,
		}, nil, log.Logger)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if err := device.Connect(ctx); err != nil {
			return err
		}
		defer device.Disconnect()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(stop)

		ticker := time.NewTicker(simInterval)
		defer ticker.Stop()

		for round := 1; simCount == 0 || round <= simCount; {
			select {
			case <-stop:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case cfgPayload := <-device.Configs():
				fmt.Fprintf(cmd.OutOrStdout(), "config: %s\n", cfgPayload)
			case command := <-device.Commands():
				fmt.Fprintf(cmd.OutOrStdout(), "command on %s: %s\n", command.Topic, command.Payload)
			case <-ticker.C:
				state := map[string]any{"round": round, "loggingLevel": simLoggingLevel, "at": time.Now().UTC().Format(time.RFC3339)}
				if err := device.PublishState(ctx, state); err != nil {
					return err
				}
				line := fmt.Sprintf("simulated round %d", round)
				if err := device.PublishLogs(ctx, []string{line}, []map[string]any{{"source": "simulator"}}); err != nil {
					return err
				}
				log.Info().Int("round", round).Msg("Published state and logs")
				round++
			}
		}
		return nil
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simDeviceID, "device", "", "Registered device ID")
	simulateCmd.Flags().StringVar(&simKeyFile, "key", "", "Device RSA private key (PEM)")
	simulateCmd.Flags().StringVar(&simBrokerURL, "broker", deviceclient.DefaultBrokerURL, "MQTT broker URL")
	simulateCmd.Flags().DurationVar(&simInterval, "interval", 10*time.Second, "Time between publishes")
	simulateCmd.Flags().IntVar(&simCount, "count", 0, "Rounds to publish; 0 runs until interrupted")
	simulateCmd.Flags().DurationVar(&simTokenTTL, "token-ttl", deviceclient.DefaultTokenTTL, "Lifetime of the device JWT")
	simulateCmd.Flags().IntVar(&simLoggingLevel, "logging-level", 2, "loggingLevel reported in the simulated state")
	rootCmd.AddCommand(simulateCmd)
}
