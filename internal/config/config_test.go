package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "netsdr.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config must validate, got %v", err)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
receiver:
  control_address: "10.0.0.5:50000"
  ack_timeout_ms: 1500
setup:
  sample_rate_hz: 1000000
  rf_gain_db: -20
  packet_samples: 512
tunes:
  - channel: 0
    frequency_hz: 7100000
  - channel: 1
    frequency_hz: 14100000
logging:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Receiver.ControlAddress != "10.0.0.5:50000" {
		t.Fatalf("control address = %q", cfg.Receiver.ControlAddress)
	}
	if cfg.Receiver.AckTimeout() != 1500*time.Millisecond {
		t.Fatalf("ack timeout = %v", cfg.Receiver.AckTimeout())
	}
	if cfg.Setup.SampleRateHz != 1_000_000 || cfg.Setup.RFGainDB != -20 || cfg.Setup.PacketSamples != 512 {
		t.Fatalf("setup = %+v", cfg.Setup)
	}
	if len(cfg.Tunes) != 2 || cfg.Tunes[1].FrequencyHz != 14_100_000 {
		t.Fatalf("tunes = %+v", cfg.Tunes)
	}

	// Untouched sections keep their defaults.
	if cfg.Receiver.DataListen != Default().Receiver.DataListen {
		t.Fatalf("data listen = %q", cfg.Receiver.DataListen)
	}
	if cfg.Telemetry.Listen != Default().Telemetry.Listen {
		t.Fatalf("telemetry listen = %q", cfg.Telemetry.Listen)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{
			name: "sample rate too low",
			body: "setup:\n  sample_rate_hz: 100\n",
			want: "sample_rate_hz",
		},
		{
			name: "packet samples not a power of two",
			body: "setup:\n  packet_samples: 1000\n",
			want: "power of two",
		},
		{
			name: "tune channel out of range",
			body: "tunes:\n  - channel: 300\n    frequency_hz: 1000000\n",
			want: "channel",
		},
		{
			name: "tune without frequency",
			body: "tunes:\n  - channel: 0\n",
			want: "frequency_hz",
		},
		{
			name: "bad log level",
			body: "logging:\n  level: loud\n",
			want: "log level",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := writeConfig(t, tc.body)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
