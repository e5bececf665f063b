package utils

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v6"
	"gopkg.in/yaml.v2"

	"dyno-bridge-core/vesc"
)

// Config is the full bridge configuration. Values are layered: defaults, then
// the YAML file, then DYNO_* environment variables, then command-line flags
// applied by the caller.
type Config struct {
	Bus      BusConfig      `yaml:"bus"`
	Channels ChannelsConfig `yaml:"channels"`
	Timing   TimingConfig   `yaml:"timing"`
	Safety   SafetyConfig   `yaml:"safety"`
	Host     HostConfig     `yaml:"host"`
	Inputs   InputsConfig   `yaml:"inputs"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type BusConfig struct {
	Interface     string `yaml:"interface" env:"DYNO_BUS_INTERFACE"`
	Scheme        string `yaml:"scheme" env:"DYNO_BUS_SCHEME"`
	Bitrate       uint32 `yaml:"bitrate" env:"DYNO_BUS_BITRATE"`
	ConfigureLink bool   `yaml:"configure_link" env:"DYNO_BUS_CONFIGURE_LINK"`
}

type ChannelConfig struct {
	ID        uint8 `yaml:"id" env:"ID"`
	PolePairs int   `yaml:"pole_pairs" env:"POLE_PAIRS"`
}

type ChannelsConfig struct {
	Drive ChannelConfig `yaml:"drive" envPrefix:"DYNO_DRIVE_"`
	Brake ChannelConfig `yaml:"brake" envPrefix:"DYNO_BRAKE_"`
}

// TimingConfig holds every loop cadence in milliseconds. StatusRequestMs 0
// disables status polling.
type TimingConfig struct {
	TickMs          int `yaml:"tick_ms" env:"DYNO_TICK_MS"`
	ResendMs        int `yaml:"resend_ms" env:"DYNO_RESEND_MS"`
	ReportMs        int `yaml:"report_ms" env:"DYNO_REPORT_MS"`
	DebounceMs      int `yaml:"debounce_ms" env:"DYNO_DEBOUNCE_MS"`
	StatusRequestMs int `yaml:"status_request_ms" env:"DYNO_STATUS_REQUEST_MS"`
	HeartbeatMs     int `yaml:"heartbeat_ms" env:"DYNO_HEARTBEAT_MS"`
	StaleMs         int `yaml:"stale_ms" env:"DYNO_STALE_MS"`
	EStopBurst      int `yaml:"estop_burst" env:"DYNO_ESTOP_BURST"`
	EStopBurstGapMs int `yaml:"estop_burst_gap_ms" env:"DYNO_ESTOP_BURST_GAP_MS"`
}

type SafetyConfig struct {
	PowerLossEStop    bool `yaml:"power_loss_estop" env:"DYNO_POWER_LOSS_ESTOP"`
	EnableClearsEStop bool `yaml:"enable_clears_estop" env:"DYNO_ENABLE_CLEARS_ESTOP"`
}

// HostConfig selects the host link. An empty port means stdin/stdout.
type HostConfig struct {
	Port   string `yaml:"port" env:"DYNO_HOST_PORT"`
	Baud   int    `yaml:"baud" env:"DYNO_HOST_BAUD"`
	Timing bool   `yaml:"timing" env:"DYNO_HOST_TIMING"`
}

// InputsConfig selects the digital input source: "none", "panel" or "gpio".
type InputsConfig struct {
	Source    string `yaml:"source" env:"DYNO_INPUTS_SOURCE"`
	StartPin  string `yaml:"start_pin" env:"DYNO_GPIO_START_PIN"`
	StopPin   string `yaml:"stop_pin" env:"DYNO_GPIO_STOP_PIN"`
	PowerPin  string `yaml:"power_pin" env:"DYNO_GPIO_POWER_PIN"`
	ActiveLow bool   `yaml:"active_low" env:"DYNO_GPIO_ACTIVE_LOW"`
}

type MonitorConfig struct {
	Listen string `yaml:"listen" env:"DYNO_MONITOR_LISTEN"`
}

type MQTTConfig struct {
	Broker   string `yaml:"broker" env:"DYNO_MQTT_BROKER"`
	Prefix   string `yaml:"prefix" env:"DYNO_MQTT_PREFIX"`
	ClientID string `yaml:"client_id" env:"DYNO_MQTT_CLIENT_ID"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"DYNO_LOG_LEVEL"`
	File  string `yaml:"file" env:"DYNO_LOG_FILE"`
}

type MetricsConfig struct {
	TorquePerAmp float64 `yaml:"torque_per_amp" env:"DYNO_TORQUE_PER_AMP"`
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (t TimingConfig) Tick() time.Duration          { return ms(t.TickMs) }
func (t TimingConfig) Resend() time.Duration        { return ms(t.ResendMs) }
func (t TimingConfig) Report() time.Duration        { return ms(t.ReportMs) }
func (t TimingConfig) Debounce() time.Duration      { return ms(t.DebounceMs) }
func (t TimingConfig) StatusRequest() time.Duration { return ms(t.StatusRequestMs) }
func (t TimingConfig) Heartbeat() time.Duration     { return ms(t.HeartbeatMs) }
func (t TimingConfig) Stale() time.Duration         { return ms(t.StaleMs) }
func (t TimingConfig) EStopBurstGap() time.Duration { return ms(t.EStopBurstGapMs) }

// DefaultConfig returns the bench defaults.
func DefaultConfig() Config {
	return Config{
		Bus: BusConfig{Interface: "can0", Scheme: "extended", Bitrate: 500000},
		Channels: ChannelsConfig{
			Drive: ChannelConfig{ID: 0x01, PolePairs: 7},
			Brake: ChannelConfig{ID: 0x02, PolePairs: 7},
		},
		Timing: TimingConfig{
			TickMs:          5,
			ResendMs:        50,
			ReportMs:        100,
			DebounceMs:      50,
			StatusRequestMs: 100,
			HeartbeatMs:     1000,
			StaleMs:         1000,
			EStopBurst:      3,
			EStopBurstGapMs: 5,
		},
		Host:    HostConfig{Baud: 115200},
		Inputs:  InputsConfig{Source: "none", StartPin: "GPIO2", StopPin: "GPIO3", PowerPin: "GPIO4"},
		MQTT:    MQTTConfig{Prefix: "dyno", ClientID: "dyno-bridge"},
		Log:     LogConfig{Level: "info", File: "dyno_bridge.log"},
		Metrics: MetricsConfig{TorquePerAmp: 0.1},
	}
}

// LoadConfig builds a Config from defaults, the YAML file at path (skipped
// when path is empty) and the environment, then validates it.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.UnmarshalStrict(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("environment overrides: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the loop.
func (c Config) Validate() error {
	var errs []error
	if c.Bus.Interface == "" {
		errs = append(errs, errors.New("bus.interface is required"))
	}
	if _, err := vesc.ParseScheme(c.Bus.Scheme); err != nil {
		errs = append(errs, fmt.Errorf("bus.scheme: %w", err))
	}
	if c.Channels.Drive.ID == c.Channels.Brake.ID {
		errs = append(errs, fmt.Errorf("channels: drive and brake share id %d", c.Channels.Drive.ID))
	}
	if c.Channels.Drive.PolePairs <= 0 || c.Channels.Brake.PolePairs <= 0 {
		errs = append(errs, errors.New("channels: pole_pairs must be positive"))
	}
	t := c.Timing
	for _, f := range []struct {
		name string
		v    int
	}{
		{"tick_ms", t.TickMs},
		{"resend_ms", t.ResendMs},
		{"report_ms", t.ReportMs},
		{"debounce_ms", t.DebounceMs},
		{"heartbeat_ms", t.HeartbeatMs},
		{"stale_ms", t.StaleMs},
		{"estop_burst", t.EStopBurst},
		{"estop_burst_gap_ms", t.EStopBurstGapMs},
	} {
		if f.v <= 0 {
			errs = append(errs, fmt.Errorf("timing.%s must be positive, got %d", f.name, f.v))
		}
	}
	if t.StatusRequestMs < 0 {
		errs = append(errs, fmt.Errorf("timing.status_request_ms must not be negative, got %d", t.StatusRequestMs))
	}
	if c.Host.Port != "" && c.Host.Baud <= 0 {
		errs = append(errs, fmt.Errorf("host.baud must be positive, got %d", c.Host.Baud))
	}
	switch c.Inputs.Source {
	case "", "none", "panel":
	case "gpio":
		if c.Inputs.StartPin == "" || c.Inputs.StopPin == "" || c.Inputs.PowerPin == "" {
			errs = append(errs, errors.New("inputs: start_pin, stop_pin and power_pin are required for gpio inputs"))
		}
	default:
		errs = append(errs, fmt.Errorf("inputs.source: unknown source %q", c.Inputs.Source))
	}
	if c.Metrics.TorquePerAmp <= 0 {
		errs = append(errs, errors.New("metrics.torque_per_amp must be positive"))
	}
	return errors.Join(errs...)
}

// VESCChannels converts the channel section for the codec.
func (c Config) VESCChannels() []vesc.Channel {
	return []vesc.Channel{
		{Role: vesc.Drive, ID: c.Channels.Drive.ID, PolePairs: c.Channels.Drive.PolePairs},
		{Role: vesc.Brake, ID: c.Channels.Brake.ID, PolePairs: c.Channels.Brake.PolePairs},
	}
}
