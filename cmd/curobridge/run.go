package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/chaz8081/curobridge/internal/ble"
	"github.com/chaz8081/curobridge/internal/config"
	"github.com/chaz8081/curobridge/internal/publish"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to peripherals and forward readings",
	Args:  cobra.NoArgs,
	RunE:  runBridge,
}

func runBridge(cmd *cobra.Command, args []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	printBanner(cmd, cfg)

	handlers := ble.MultiHandler{ble.LogHandler{}}
	if cfg.MQTT.Enabled {
		pub, err := publish.Dial(cfg.MQTT)
		if err != nil {
			return err
		}
		defer pub.Close()
		handlers = append(handlers, pub)
		slog.Info("[MQTT] publishing", "broker", cfg.MQTT.Broker, "prefix", cfg.MQTT.TopicPrefix)
	}

	transport := ble.NewBluetoothTransport(cfg.BLE.EventBuffer)
	defer transport.Close()

	coord := ble.NewCoordinator(transport, handlers, ble.CoordinatorOptions{
		AutoConnect: cfg.BLE.AutoConnect,
		Device:      cfg.BLE.Device,
	})

	slog.Info("Ready! Scanning for Curo peripherals. Ctrl+C to quit.")
	if err := coord.Run(cmd.Context()); err != nil {
		return err
	}
	slog.Info("Goodbye!")
	return nil
}

// printBanner displays the startup configuration summary.
func printBanner(cmd *cobra.Command, cfg *config.Config) {
	w := cmd.OutOrStdout()
	target := cfg.BLE.Device
	if target == "" {
		target = "any"
	}
	mqtt := "disabled"
	if cfg.MQTT.Enabled {
		mqtt = fmt.Sprintf("%s (%s)", cfg.MQTT.Broker, cfg.MQTT.TopicPrefix)
	}
	fmt.Fprintln(w, "=== curobridge ===")
	fmt.Fprintf(w, "  Auto-connect: %v\n", cfg.BLE.AutoConnect)
	fmt.Fprintf(w, "  Device:       %s\n", target)
	fmt.Fprintf(w, "  MQTT:         %s\n", mqtt)
	fmt.Fprintf(w, "  Log:          %s\n", cfg.LogLevel)
	fmt.Fprintln(w, "==================")
}
