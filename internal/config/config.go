// Package config loads and validates the monitor's runtime configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete runtime configuration.
type Config struct {
	Receiver  ReceiverConfig  `yaml:"receiver"`
	Setup     SetupConfig     `yaml:"setup"`
	Tunes     []TuneConfig    `yaml:"tunes"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	SSH       SSHConfig       `yaml:"ssh"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ReceiverConfig addresses one receiver and bounds the command exchange.
type ReceiverConfig struct {
	ControlAddress string `yaml:"control_address"`
	DataListen     string `yaml:"data_listen"`
	AckTimeoutMS   int    `yaml:"ack_timeout_ms"`
}

// SetupConfig carries the values baked into the connect handshake.
type SetupConfig struct {
	SampleRateHz  uint32 `yaml:"sample_rate_hz"`
	RFGainDB      int8   `yaml:"rf_gain_db"`
	PacketSamples uint16 `yaml:"packet_samples"`
}

// TuneConfig is one initial tune applied after connecting.
type TuneConfig struct {
	Channel     int    `yaml:"channel"`
	FrequencyHz uint64 `yaml:"frequency_hz"`
}

// DiscoveryConfig controls mDNS discovery of receivers on the LAN.
type DiscoveryConfig struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

// SSHConfig optionally tunnels the control channel through an SSH hop.
type SSHConfig struct {
	Host     string `yaml:"host"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	KeyPath  string `yaml:"key_path"`
	Port     int    `yaml:"port"`
}

// TelemetryConfig controls the stats HTTP endpoint.
type TelemetryConfig struct {
	Listen       string `yaml:"listen"`
	HistoryLimit int    `yaml:"history_limit"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const (
	minSampleRateHz = 8_000
	maxSampleRateHz = 61_440_000
	minPacketSize   = 64
	maxPacketSize   = 16_384
)

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Receiver: ReceiverConfig{
			ControlAddress: "192.168.2.100:50000",
			DataListen:     ":50010",
			AckTimeoutMS:   3000,
		},
		Setup: SetupConfig{
			SampleRateHz:  2_000_000,
			RFGainDB:      0,
			PacketSamples: 1024,
		},
		Discovery: DiscoveryConfig{
			TimeoutSeconds: 5,
		},
		Telemetry: TelemetryConfig{
			Listen:       ":8090",
			HistoryLimit: 500,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a YAML file over the defaults and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AckTimeout returns the acknowledgement bound as a duration.
func (r ReceiverConfig) AckTimeout() time.Duration {
	return time.Duration(r.AckTimeoutMS) * time.Millisecond
}

// Validate checks values that would otherwise fail deep inside the client.
func (c Config) Validate() error {
	if c.Receiver.ControlAddress == "" && !c.Discovery.Enabled {
		return fmt.Errorf("receiver control_address is required unless discovery is enabled")
	}
	if c.Receiver.DataListen == "" {
		return fmt.Errorf("receiver data_listen is required")
	}
	if c.Receiver.AckTimeoutMS <= 0 {
		return fmt.Errorf("ack_timeout_ms must be positive")
	}
	if c.Setup.SampleRateHz < minSampleRateHz || c.Setup.SampleRateHz > maxSampleRateHz {
		return fmt.Errorf("sample_rate_hz must be between %d and %d", minSampleRateHz, maxSampleRateHz)
	}
	if c.Setup.PacketSamples < minPacketSize || c.Setup.PacketSamples > maxPacketSize {
		return fmt.Errorf("packet_samples must be between %d and %d", minPacketSize, maxPacketSize)
	}
	if c.Setup.PacketSamples&(c.Setup.PacketSamples-1) != 0 {
		return fmt.Errorf("packet_samples must be a power of two")
	}
	for i, tune := range c.Tunes {
		if tune.Channel < 0 || tune.Channel > 0xFF {
			return fmt.Errorf("tunes[%d]: channel %d out of range", i, tune.Channel)
		}
		if tune.FrequencyHz == 0 {
			return fmt.Errorf("tunes[%d]: frequency_hz is required", i)
		}
	}
	if c.Telemetry.HistoryLimit < 0 {
		return fmt.Errorf("telemetry history_limit must not be negative")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return err
	}
	return nil
}

func parseLogLevel(s string) (string, error) {
	switch s {
	case "", "debug", "info", "warn", "warning", "error":
		return s, nil
	default:
		return "", fmt.Errorf("unsupported log level %q", s)
	}
}
