package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dyno-bridge-core/vesc"
)

const benchYAML = `
bus:
  interface: vcan0
  scheme: compact
channels:
  drive: {id: 10, pole_pairs: 14}
  brake: {id: 11, pole_pairs: 7}
timing:
  resend_ms: 20
safety:
  power_loss_estop: true
metrics:
  torque_per_amp: 0.25
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "bridge.yaml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50*time.Millisecond, cfg.Timing.Resend())
	assert.Equal(t, 5*time.Millisecond, cfg.Timing.Tick())
	assert.Equal(t, time.Second, cfg.Timing.Stale())
}

func TestLoadConfigLayers(t *testing.T) {
	t.Setenv("DYNO_BUS_INTERFACE", "can1")
	t.Setenv("DYNO_BRAKE_POLE_PAIRS", "21")

	cfg, err := LoadConfig(writeConfig(t, benchYAML))
	require.NoError(t, err)
	assert.Equal(t, "can1", cfg.Bus.Interface, "environment wins over the file")
	assert.Equal(t, "compact", cfg.Bus.Scheme)
	assert.Equal(t, uint8(10), cfg.Channels.Drive.ID)
	assert.Equal(t, 14, cfg.Channels.Drive.PolePairs)
	assert.Equal(t, 21, cfg.Channels.Brake.PolePairs)
	assert.Equal(t, 20, cfg.Timing.ResendMs)
	assert.Equal(t, 100, cfg.Timing.ReportMs, "unset keys keep their defaults")
	assert.True(t, cfg.Safety.PowerLossEStop)
	assert.Equal(t, 0.25, cfg.Metrics.TorquePerAmp)

	chs := cfg.VESCChannels()
	require.Len(t, chs, 2)
	assert.Equal(t, vesc.Channel{Role: vesc.Brake, ID: 11, PolePairs: 21}, chs[1])
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigRejectsUnknownKeys(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "bus:\n  iface: can0\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty interface", func(c *Config) { c.Bus.Interface = "" }},
		{"bad scheme", func(c *Config) { c.Bus.Scheme = "fd" }},
		{"shared id", func(c *Config) { c.Channels.Brake.ID = c.Channels.Drive.ID }},
		{"pole pairs", func(c *Config) { c.Channels.Drive.PolePairs = 0 }},
		{"zero resend", func(c *Config) { c.Timing.ResendMs = 0 }},
		{"negative status", func(c *Config) { c.Timing.StatusRequestMs = -1 }},
		{"serial baud", func(c *Config) { c.Host.Port = "/dev/ttyACM0"; c.Host.Baud = 0 }},
		{"zero burst gap", func(c *Config) { c.Timing.EStopBurstGapMs = 0 }},
		{"input source", func(c *Config) { c.Inputs.Source = "i2c" }},
		{"gpio pin", func(c *Config) { c.Inputs.Source = "gpio"; c.Inputs.StopPin = "" }},
		{"torque constant", func(c *Config) { c.Metrics.TorquePerAmp = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
