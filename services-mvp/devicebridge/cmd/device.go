package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/illmade-knight/iot-device-bridge/pkg/devicemanager"
	"github.com/illmade-knight/iot-device-bridge/pkg/registry"
	"github.com/illmade-knight/iot-device-bridge/pkg/types"
	"github.com/illmade-knight/iot-device-bridge/services-mvp/devicebridge/bridgeinit"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/encoding/protojson"
)

var (
	manifestFile string
	certFile     string
	commandData  string
)

var deviceCmd = &cobra.Command{
	Use:   "device",
	Short: "Inspect and manage devices in the registry",
}

// newDeviceManager builds a manager with only the registry behind it.
func newDeviceManager() (*devicemanager.Manager, *registry.Client, error) {
	if cfg.Registry.ServiceAccountFile == "" {
		return nil, nil, errors.New("--service-account-file (or registry.service_account_file) must be set")
	}
	client, err := bridgeinit.NewRegistryClient(cfg, log.Logger)
	if err != nil {
		return nil, nil, err
	}
	manager, err := devicemanager.New(bridgeinit.NewManagerConfig(cfg, Version), client, nil, nil, log.Logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return manager, client, nil
}

var deviceGetCmd = &cobra.Command{
	Use:   "get DEVICE_ID",
	Short: "Print a device's registry record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, client, err := newDeviceManager()
		if err != nil {
			return err
		}
		defer client.Close()

		record, err := manager.GetDevice(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out, err := protojson.MarshalOptions{Multiline: true}.Marshal(record.Device)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var deviceListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the devices in the registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		_, client, err := newDeviceManager()
		if err != nil {
			return err
		}
		defer client.Close()

		devices, err := client.ListDevices(cmd.Context(), cfg.Registry.ID)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNUM_ID\tLAST_HEARTBEAT")
		for _, d := range devices {
			heartbeat := "-"
			if t := d.GetLastHeartbeatTime(); t != nil {
				heartbeat = t.AsTime().Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\n", d.GetId(), d.GetNumId(), heartbeat)
		}
		return w.Flush()
	},
}

var deviceRegisterCmd = &cobra.Command{
	Use:   "register [DEVICE_ID]",
	Short: "Register one device, or every device in a manifest",
	Example: `  bridgectl device register dev1 --cert ./dev1.pem
  bridgectl device register --manifest ./devices.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var requests []types.RegistrationRequest
		switch {
		case manifestFile != "":
			loaded, err := LoadDeviceManifest(manifestFile)
			if err != nil {
				return err
			}
			requests = loaded
		case len(args) == 1 && certFile != "":
			cert, err := os.ReadFile(certFile)
			if err != nil {
				return fmt.Errorf("read certificate: %w", err)
			}
			requests = []types.RegistrationRequest{{DeviceID: args[0], RSACertificate: string(cert)}}
		default:
			return errors.New("give a DEVICE_ID with --cert, or --manifest")
		}

		manager, client, err := newDeviceManager()
		if err != nil {
			return err
		}
		defer client.Close()

		var errs []error
		for _, req := range requests {
			body, err := json.Marshal(req)
			if err != nil {
				return err
			}
			resp, err := manager.RegisterDevice(cmd.Context(), cfg.Auth.Tokens[0], body)
			if err != nil {
				log.Error().Err(err).Str("device_id", req.DeviceID).Msg("Registration failed")
				errs = append(errs, fmt.Errorf("%s: %w", req.DeviceID, err))
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered %s in %s/%s\n", req.DeviceID, resp.ProjectID, resp.RegistryID)
		}
		return errors.Join(errs...)
	},
}

var deviceCommandCmd = &cobra.Command{
	Use:     "command DEVICE_ID",
	Short:   "Send a JSON command to a device",
	Example: `  bridgectl device command dev1 --data '{"led":"on"}'`,
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data map[string]any
		if err := json.Unmarshal([]byte(commandData), &data); err != nil || data == nil {
			return fmt.Errorf("--data must be a JSON object: %v", err)
		}
		manager, client, err := newDeviceManager()
		if err != nil {
			return err
		}
		defer client.Close()

		result := manager.SendCommandToIotDevice(cmd.Context(), args[0], data)
		out, err := json.Marshal(devicemanager.CommandResult{Confirmed: result == "", Error: result})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

var deviceResetCmd = &cobra.Command{
	Use:   "reset DEVICE_ID",
	Short: "Send a reset command to a device and delete it",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, client, err := newDeviceManager()
		if err != nil {
			return err
		}
		defer client.Close()

		if err := manager.ResetIotDevice(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "reset and deleted %s\n", args[0])
		return nil
	},
}

func init() {
	deviceRegisterCmd.Flags().StringVar(&manifestFile, "manifest", "", "YAML manifest of devices to register")
	deviceRegisterCmd.Flags().StringVar(&certFile, "cert", "", "RSA X.509 PEM certificate of the device")
	deviceCommandCmd.Flags().StringVar(&commandData, "data", "", "Command as a JSON object")
	_ = deviceCommandCmd.MarkFlagRequired("data")

	deviceCmd.AddCommand(deviceGetCmd, deviceListCmd, deviceRegisterCmd, deviceCommandCmd, deviceResetCmd)
	rootCmd.AddCommand(deviceCmd)
}
