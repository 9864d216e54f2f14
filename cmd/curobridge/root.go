package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/chaz8081/curobridge/internal/config"
)

var (
	configPath string
	device     string
)

var rootCmd = &cobra.Command{
	Use:   "curobridge",
	Short: "Curo BLE bridge",
	Long: `curobridge - discovers Curo alpha and stethoscope peripherals over BLE,
decodes their notifications into readings and forwards them to the log and,
optionally, an MQTT broker.

Configuration is read from ~/.config/curobridge/config.yaml unless --config
is given. Run "curobridge init-config" to write a default file.`,
	Version:      "0.3.0",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file (default: ~/.config/curobridge/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&device, "device", "d", "", "peripheral identifier to connect to (overrides ble.device)")

	rootCmd.AddCommand(scanCmd, runCmd, initConfigCmd)
}

// setup loads and validates the config and installs the slog handler.
func setup() (*config.Config, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if device != "" {
		cfg.BLE.Device = device
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(cfg.LogLevel),
	})))
	return cfg, nil
}

// loadConfig loads the config from the specified path, or falls back to
// the default config path, or uses built-in defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}

	defaultPath := config.DefaultConfigPath()
	if _, err := os.Stat(defaultPath); err == nil {
		cfg, err := config.Load(defaultPath)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", defaultPath, err)
		}
		return cfg, nil
	}

	return config.Default(), nil
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Write the default config file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path, err := config.WriteDefault()
		if err != nil {
			return err
		}
		if path == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Config already exists at %s\n", config.DefaultConfigPath())
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote default config to %s\n", path)
		return nil
	},
}
