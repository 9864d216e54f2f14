package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if !cfg.BLE.AutoConnect {
		t.Error("BLE.AutoConnect should default to true")
	}
	if cfg.BLE.ScanTimeout != 10*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 10s", cfg.BLE.ScanTimeout)
	}
	if cfg.BLE.EventBuffer != 64 {
		t.Errorf("BLE.EventBuffer = %d, want 64", cfg.BLE.EventBuffer)
	}
	if cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled should default to false")
	}
	if cfg.MQTT.TopicPrefix != "curobridge" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "curobridge")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
}

func TestLoad(t *testing.T) {
	yamlContent := `
ble:
  auto_connect: false
  device: "AA:BB:CC:DD:EE:FF"
  scan_timeout: 30s
mqtt:
  enabled: true
  broker: tcp://broker.local:1883
  client_id: ward-3
  username: bridge
  password: secret
  topic_prefix: clinic/ward3
  qos: 1
  retain: true
log_level: debug
`
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte(yamlContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BLE.AutoConnect {
		t.Error("BLE.AutoConnect = true, want false")
	}
	if cfg.BLE.Device != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("BLE.Device = %q, want %q", cfg.BLE.Device, "AA:BB:CC:DD:EE:FF")
	}
	if cfg.BLE.ScanTimeout != 30*time.Second {
		t.Errorf("BLE.ScanTimeout = %v, want 30s", cfg.BLE.ScanTimeout)
	}
	// Not in the file, so the default survives.
	if cfg.BLE.EventBuffer != 64 {
		t.Errorf("BLE.EventBuffer = %d, want 64", cfg.BLE.EventBuffer)
	}
	if !cfg.MQTT.Enabled {
		t.Error("MQTT.Enabled = false, want true")
	}
	if cfg.MQTT.Broker != "tcp://broker.local:1883" {
		t.Errorf("MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if cfg.MQTT.ClientID != "ward-3" {
		t.Errorf("MQTT.ClientID = %q, want %q", cfg.MQTT.ClientID, "ward-3")
	}
	if cfg.MQTT.Username != "bridge" || cfg.MQTT.Password != "secret" {
		t.Errorf("MQTT credentials = %q/%q", cfg.MQTT.Username, cfg.MQTT.Password)
	}
	if cfg.MQTT.TopicPrefix != "clinic/ward3" {
		t.Errorf("MQTT.TopicPrefix = %q, want %q", cfg.MQTT.TopicPrefix, "clinic/ward3")
	}
	if cfg.MQTT.QoS != 1 {
		t.Errorf("MQTT.QoS = %d, want 1", cfg.MQTT.QoS)
	}
	if !cfg.MQTT.Retain {
		t.Error("MQTT.Retain = false, want true")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "debug")
	}
}

func TestLoadExpandsTilde(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	if err := os.WriteFile(filepath.Join(tmpHome, "bridge.yaml"), []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := Load("~/bridge.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "warn")
	}
}

func TestLoadFileNotFound(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Load() should return error for nonexistent file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	cfgPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(cfgPath, []byte("ble: [unclosed\n"), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	if _, err := Load(cfgPath); err == nil {
		t.Error("Load() should return error for malformed YAML")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "zero scan timeout",
			modify:  func(c *Config) { c.BLE.ScanTimeout = 0 },
			wantErr: true,
		},
		{
			name:    "zero event buffer",
			modify:  func(c *Config) { c.BLE.EventBuffer = 0 },
			wantErr: true,
		},
		{
			name:    "mqtt enabled with defaults",
			modify:  func(c *Config) { c.MQTT.Enabled = true },
			wantErr: false,
		},
		{
			name: "mqtt enabled without broker",
			modify: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.Broker = ""
			},
			wantErr: true,
		},
		{
			name: "mqtt enabled without client id",
			modify: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.ClientID = ""
			},
			wantErr: true,
		},
		{
			name: "mqtt enabled with blank topic prefix",
			modify: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.TopicPrefix = "  "
			},
			wantErr: true,
		},
		{
			name:    "mqtt disabled ignores empty broker",
			modify:  func(c *Config) { c.MQTT.Broker = "" },
			wantErr: false,
		},
		{
			name:    "qos out of range",
			modify:  func(c *Config) { c.MQTT.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			modify:  func(c *Config) { c.LogLevel = "invalid" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWriteDefault_CreatesFile(t *testing.T) {
	// Use a temp dir as fake home to avoid touching real config
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}

	expectedPath := filepath.Join(tmpHome, ".config", "curobridge", "config.yaml")
	if path != expectedPath {
		t.Errorf("WriteDefault() path = %q, want %q", path, expectedPath)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read written config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# curobridge") {
		t.Error("written config should start with header comment")
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("written config is not valid YAML: %v", err)
	}
	if cfg.BLE.ScanTimeout != 10*time.Second {
		t.Errorf("written config BLE.ScanTimeout = %v, want 10s", cfg.BLE.ScanTimeout)
	}
	if cfg.MQTT.Broker != "tcp://localhost:1883" {
		t.Errorf("written config MQTT.Broker = %q", cfg.MQTT.Broker)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("written config does not validate: %v", err)
	}
}

func TestWriteDefault_NoOpIfExists(t *testing.T) {
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)

	configDir := filepath.Join(tmpHome, ".config", "curobridge")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	existingContent := []byte("log_level: debug\n")
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, existingContent, 0644); err != nil {
		t.Fatalf("failed to write existing config: %v", err)
	}

	path, err := WriteDefault()
	if err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	if path != "" {
		t.Errorf("WriteDefault() path = %q, want empty string for existing file", path)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("failed to read config: %v", err)
	}
	if string(data) != string(existingContent) {
		t.Error("WriteDefault() should not overwrite existing config file")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo}, // defaults to info
		{"", slog.LevelInfo},        // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := ParseLogLevel(tt.input)
			if got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}
