package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the root configuration structure
type Config struct {
	App        AppConfig        `json:"app" yaml:"app"`
	Hub        HubConfig        `json:"hub" yaml:"hub"`
	Transport  TransportConfig  `json:"transport" yaml:"transport"`
	Mirror     MirrorConfig     `json:"mirror" yaml:"mirror"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Monitoring MonitoringConfig `json:"monitoring" yaml:"monitoring"`
	Recovery   RecoveryConfig   `json:"recovery" yaml:"recovery"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name       string `json:"name" yaml:"name"`
	InstanceID string `json:"instance_id" yaml:"instance_id"`
}

// HubConfig describes the hub being multiplexed and the tick loop driving it
type HubConfig struct {
	Name              string         `json:"name" yaml:"name"`                               // Reported hub name
	Firmware          string         `json:"firmware" yaml:"firmware"`                       // Reported firmware version
	Ports             []string       `json:"ports" yaml:"ports"`                             // Port labels in poll order, e.g. ["A", "B"]
	TickPeriodMs      int            `json:"tick_period_ms" yaml:"tick_period_ms"`           // Sleep between ticks
	BatteryEveryTicks int            `json:"battery_every_ticks" yaml:"battery_every_ticks"` // Battery line throttle
	IMU               bool           `json:"imu" yaml:"imu"`                                 // Hub has an inertial unit
	Buttons           bool           `json:"buttons" yaml:"buttons"`                         // Report pressed hub buttons
	RotateSpeed       int            `json:"rotate_speed" yaml:"rotate_speed"`               // deg/s for the rotate command
	RotateDurationMs  int            `json:"rotate_duration_ms" yaml:"rotate_duration_ms"`   // Duration of the rotate command
	Devices           map[string]int `json:"devices" yaml:"devices"`                         // Simulated hub: port label -> attached type id
}

// TransportConfig selects the link to the host application
type TransportConfig struct {
	Type     string `json:"type" yaml:"type"`           // "serial" or "ble"
	Device   string `json:"device" yaml:"device"`       // Serial device, "auto" to look up the hub's USB port
	BaudRate int    `json:"baud_rate" yaml:"baud_rate"` // Serial baud rate
	BLEName  string `json:"ble_name" yaml:"ble_name"`   // Advertised BLE local name
}

// Mirror broker kinds
const (
	MirrorNATS = "nats"
	MirrorMQTT = "mqtt"
)

// Transport types
const (
	TransportSerial = "serial"
	TransportBLE    = "ble"
)

// MirrorConfig controls the optional copy of every outbound telemetry tick
type MirrorConfig struct {
	Enabled           bool   `json:"enabled" yaml:"enabled"`
	Kind              string `json:"kind" yaml:"kind"`                             // "nats" or "mqtt"
	URL               string `json:"url" yaml:"url"`                               // Broker URL
	SubjectPrefix     string `json:"subject_prefix" yaml:"subject_prefix"`         // Prefix for subjects/topics (e.g., "portview")
	MaxReconnects     int    `json:"max_reconnects" yaml:"max_reconnects"`         // Max reconnection attempts
	ReconnectWaitSec  int    `json:"reconnect_wait_sec" yaml:"reconnect_wait_sec"` // Wait between reconnects
	File              bool   `json:"file" yaml:"file"`                             // Also append telemetry to a rotating file
	HealthIntervalSec int    `json:"health_interval_sec" yaml:"health_interval_sec"`
}

// LoggingConfig contains logging and log rotation settings
type LoggingConfig struct {
	BasePath   string `json:"base_path" yaml:"base_path"`     // Base directory for log files, empty logs to stdout
	MaxSizeMB  int    `json:"max_size_mb" yaml:"max_size_mb"` // Max size before rotation
	MaxBackups int    `json:"max_backups" yaml:"max_backups"` // Max number of old log files
	Compress   bool   `json:"compress" yaml:"compress"`       // Compress rotated logs
	Level      string `json:"level" yaml:"level"`             // Log level: debug, info, warn, error
}

// MonitoringConfig contains HTTP monitoring server settings
type MonitoringConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
	Port    int  `json:"port" yaml:"port"` // HTTP port for monitoring endpoints
}

// RecoveryConfig contains serial link reconnection settings
type RecoveryConfig struct {
	ReconnectDelaySec    int  `json:"reconnect_delay_sec" yaml:"reconnect_delay_sec"`         // Initial reconnect delay
	MaxReconnectDelaySec int  `json:"max_reconnect_delay_sec" yaml:"max_reconnect_delay_sec"` // Maximum reconnect delay
	ExponentialBackoff   bool `json:"exponential_backoff" yaml:"exponential_backoff"`         // Use exponential backoff
}

// Load reads and parses the configuration file. Files ending in .yaml or
// .yml are decoded as YAML, everything else as JSON.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	// Set defaults
	cfg.setDefaults()

	// Validate
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with every default applied, for running
// without a config file.
func Default() *Config {
	var cfg Config
	cfg.setDefaults()
	return &cfg
}

// setDefaults fills in default values for optional fields
func (c *Config) setDefaults() {
	// App defaults
	if c.App.Name == "" {
		c.App.Name = "PortView"
	}
	if c.App.InstanceID == "" {
		c.App.InstanceID = "default"
	}

	// Hub defaults
	if c.Hub.Name == "" {
		c.Hub.Name = "Pybricks Hub"
	}
	if c.Hub.Firmware == "" {
		c.Hub.Firmware = "3.3.0"
	}
	if len(c.Hub.Ports) == 0 {
		c.Hub.Ports = []string{"A", "B"}
	}
	if c.Hub.TickPeriodMs == 0 {
		c.Hub.TickPeriodMs = 100
	}
	if c.Hub.BatteryEveryTicks == 0 {
		c.Hub.BatteryEveryTicks = 100
	}
	if c.Hub.RotateSpeed == 0 {
		c.Hub.RotateSpeed = 500
	}
	if c.Hub.RotateDurationMs == 0 {
		c.Hub.RotateDurationMs = 1000
	}

	// Transport defaults
	if c.Transport.Type == "" {
		c.Transport.Type = TransportSerial
	}
	if c.Transport.Device == "" {
		c.Transport.Device = "auto"
	}
	if c.Transport.BaudRate == 0 {
		c.Transport.BaudRate = 115200
	}
	if c.Transport.BLEName == "" {
		c.Transport.BLEName = c.Hub.Name
	}

	// Mirror defaults
	if c.Mirror.Kind == "" {
		c.Mirror.Kind = MirrorNATS
	}
	if c.Mirror.URL == "" {
		if c.Mirror.Kind == MirrorMQTT {
			c.Mirror.URL = "tcp://localhost:1883"
		} else {
			c.Mirror.URL = "nats://localhost:4222"
		}
	}
	if c.Mirror.SubjectPrefix == "" {
		c.Mirror.SubjectPrefix = "portview"
	}
	if c.Mirror.MaxReconnects == 0 {
		c.Mirror.MaxReconnects = 10
	}
	if c.Mirror.ReconnectWaitSec == 0 {
		c.Mirror.ReconnectWaitSec = 5
	}
	if c.Mirror.HealthIntervalSec == 0 {
		c.Mirror.HealthIntervalSec = 60
	}

	// Logging defaults
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 20
	}
	if c.Logging.MaxBackups == 0 {
		c.Logging.MaxBackups = 5
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}

	// Monitoring defaults
	if c.Monitoring.Port == 0 {
		c.Monitoring.Port = 8080
	}

	// Recovery defaults
	if c.Recovery.ReconnectDelaySec == 0 {
		c.Recovery.ReconnectDelaySec = 1
	}
	if c.Recovery.MaxReconnectDelaySec == 0 {
		c.Recovery.MaxReconnectDelaySec = 30
	}
}

// Helper methods for time conversions
func (h *HubConfig) TickPeriod() time.Duration {
	return time.Duration(h.TickPeriodMs) * time.Millisecond
}

func (h *HubConfig) RotateDuration() time.Duration {
	return time.Duration(h.RotateDurationMs) * time.Millisecond
}

func (m *MirrorConfig) ReconnectWait() time.Duration {
	return time.Duration(m.ReconnectWaitSec) * time.Second
}

func (m *MirrorConfig) HealthInterval() time.Duration {
	return time.Duration(m.HealthIntervalSec) * time.Second
}

func (r *RecoveryConfig) ReconnectDelay() time.Duration {
	return time.Duration(r.ReconnectDelaySec) * time.Second
}

func (r *RecoveryConfig) MaxReconnectDelay() time.Duration {
	return time.Duration(r.MaxReconnectDelaySec) * time.Second
}
