package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

var (
	// Valid baud rates for the host serial link
	validBaudRates = map[int]bool{
		9600:   true,
		19200:  true,
		38400:  true,
		57600:  true,
		115200: true,
		230400: true,
	}

	// Valid log levels
	validLogLevels = map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	// Port label pattern: a single letter A through F
	portLabelPattern = regexp.MustCompile(`^[A-F]$`)
)

// maxPorts is the largest port count of any supported hub.
const maxPorts = 6

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.validateApp(); err != nil {
		return fmt.Errorf("app config: %w", err)
	}

	if err := c.validateHub(); err != nil {
		return fmt.Errorf("hub config: %w", err)
	}

	if err := c.validateTransport(); err != nil {
		return fmt.Errorf("transport config: %w", err)
	}

	if err := c.validateMirror(); err != nil {
		return fmt.Errorf("mirror config: %w", err)
	}

	if err := c.validateLogging(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.validateMonitoring(); err != nil {
		return fmt.Errorf("monitoring config: %w", err)
	}

	if err := c.validateRecovery(); err != nil {
		return fmt.Errorf("recovery config: %w", err)
	}

	return nil
}

func (c *Config) validateApp() error {
	if c.App.Name == "" {
		return fmt.Errorf("name is required")
	}

	if c.App.InstanceID == "" {
		return fmt.Errorf("instance_id is required")
	}

	return nil
}

func (c *Config) validateHub() error {
	if len(c.Hub.Ports) == 0 {
		return fmt.Errorf("at least one port must be configured")
	}
	if len(c.Hub.Ports) > maxPorts {
		return fmt.Errorf("at most %d ports are supported, got: %d", maxPorts, len(c.Hub.Ports))
	}

	seen := make(map[string]bool)
	for i, label := range c.Hub.Ports {
		if !portLabelPattern.MatchString(label) {
			return fmt.Errorf("port %d: label must be A-F, got: %q", i, label)
		}
		if seen[label] {
			return fmt.Errorf("port %d: duplicate label %s", i, label)
		}
		seen[label] = true
	}

	for label, typeID := range c.Hub.Devices {
		if !seen[label] {
			return fmt.Errorf("device on unknown port %s", label)
		}
		if typeID < 0 || typeID > 255 {
			return fmt.Errorf("device on port %s: type id must be 0-255, got: %d", label, typeID)
		}
	}

	if c.Hub.TickPeriodMs <= 0 {
		return fmt.Errorf("tick_period_ms must be positive, got: %d", c.Hub.TickPeriodMs)
	}

	if c.Hub.BatteryEveryTicks <= 0 {
		return fmt.Errorf("battery_every_ticks must be positive, got: %d", c.Hub.BatteryEveryTicks)
	}

	if c.Hub.RotateSpeed <= 0 {
		return fmt.Errorf("rotate_speed must be positive, got: %d", c.Hub.RotateSpeed)
	}

	if c.Hub.RotateDurationMs <= 0 {
		return fmt.Errorf("rotate_duration_ms must be positive, got: %d", c.Hub.RotateDurationMs)
	}

	return nil
}

func (c *Config) validateTransport() error {
	switch c.Transport.Type {
	case TransportSerial:
		if c.Transport.Device == "" {
			return fmt.Errorf("device is required for serial transport")
		}
		if !validBaudRates[c.Transport.BaudRate] {
			return fmt.Errorf("invalid baud_rate %d, must be one of: 9600, 19200, 38400, 57600, 115200, 230400",
				c.Transport.BaudRate)
		}
	case TransportBLE:
		if c.Transport.BLEName == "" {
			return fmt.Errorf("ble_name is required for ble transport")
		}
	default:
		return fmt.Errorf("type must be serial or ble, got: %q", c.Transport.Type)
	}

	return nil
}

func (c *Config) validateMirror() error {
	if !c.Mirror.Enabled {
		return nil
	}

	switch c.Mirror.Kind {
	case MirrorNATS:
		if !strings.HasPrefix(c.Mirror.URL, "nats://") {
			return fmt.Errorf("url must start with nats://, got: %s", c.Mirror.URL)
		}
	case MirrorMQTT:
		if !strings.HasPrefix(c.Mirror.URL, "tcp://") && !strings.HasPrefix(c.Mirror.URL, "ssl://") &&
			!strings.HasPrefix(c.Mirror.URL, "ws://") {
			return fmt.Errorf("url must start with tcp://, ssl:// or ws://, got: %s", c.Mirror.URL)
		}
	default:
		return fmt.Errorf("kind must be nats or mqtt, got: %q", c.Mirror.Kind)
	}

	if c.Mirror.SubjectPrefix == "" {
		return fmt.Errorf("subject_prefix is required")
	}

	// -1 means unlimited reconnects (NATS client convention)
	if c.Mirror.MaxReconnects < -1 {
		return fmt.Errorf("max_reconnects must be -1 (unlimited) or non-negative, got: %d", c.Mirror.MaxReconnects)
	}

	if c.Mirror.ReconnectWaitSec <= 0 {
		return fmt.Errorf("reconnect_wait_sec must be positive, got: %d", c.Mirror.ReconnectWaitSec)
	}

	if c.Mirror.HealthIntervalSec <= 0 {
		return fmt.Errorf("health_interval_sec must be positive, got: %d", c.Mirror.HealthIntervalSec)
	}

	if c.Mirror.File && c.Logging.BasePath == "" {
		return fmt.Errorf("file mirror needs logging.base_path")
	}

	return nil
}

func (c *Config) validateLogging() error {
	if c.Logging.BasePath != "" {
		// Check if base path exists or can be created
		if _, err := os.Stat(c.Logging.BasePath); os.IsNotExist(err) {
			if err := os.MkdirAll(c.Logging.BasePath, 0755); err != nil {
				return fmt.Errorf("base_path %s does not exist and cannot be created: %w", c.Logging.BasePath, err)
			}
		}
	}

	if c.Logging.MaxSizeMB <= 0 {
		return fmt.Errorf("max_size_mb must be positive, got: %d", c.Logging.MaxSizeMB)
	}

	if c.Logging.MaxBackups < 0 {
		return fmt.Errorf("max_backups must be non-negative, got: %d", c.Logging.MaxBackups)
	}

	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level %s, must be one of: debug, info, warn, error", c.Logging.Level)
	}

	return nil
}

func (c *Config) validateMonitoring() error {
	if !c.Monitoring.Enabled {
		return nil
	}

	if c.Monitoring.Port <= 0 || c.Monitoring.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", c.Monitoring.Port)
	}

	return nil
}

func (c *Config) validateRecovery() error {
	if c.Recovery.ReconnectDelaySec <= 0 {
		return fmt.Errorf("reconnect_delay_sec must be positive, got: %d", c.Recovery.ReconnectDelaySec)
	}

	if c.Recovery.MaxReconnectDelaySec < c.Recovery.ReconnectDelaySec {
		return fmt.Errorf("max_reconnect_delay_sec (%d) must be >= reconnect_delay_sec (%d)",
			c.Recovery.MaxReconnectDelaySec, c.Recovery.ReconnectDelaySec)
	}

	return nil
}
