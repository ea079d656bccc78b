package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/cepro/cargosim/telemetry"
	"gopkg.in/yaml.v3"
)

// maxLocationDecimals is about the precision of a float64, far larger values make rounding return NaN
const maxLocationDecimals = 15

type TLSConfig struct {
	// CAFile is an optional PEM bundle that is trusted in addition to the system roots, e.g. a pinned broker root CA
	CAFile             string `yaml:"caFile"`
	InsecureSkipVerify bool   `yaml:"insecureSkipVerify"` // development brokers only
}

type BrokerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// username and password may also be given via env vars
	Username           string    `yaml:"username"`
	Password           string    `yaml:"password"`
	ClientID           string    `yaml:"clientId"` // generated if empty
	KeepAliveSecs      int       `yaml:"keepAliveSecs"`
	ConnectTimeoutSecs int       `yaml:"connectTimeoutSecs"`
	TLS                TLSConfig `yaml:"tls"`
}

type PublishConfig struct {
	Topic         string  `yaml:"topic"`
	IntervalSecs  int     `yaml:"intervalSecs"`
	DurationHours float64 `yaml:"durationHours"`
}

type DeviceConfig struct {
	ID                string                 `yaml:"id"`
	BaseLat           float64                `yaml:"baseLat"`
	BaseLon           float64                `yaml:"baseLon"`
	LocationJitter    float64                `yaml:"locationJitter"`
	LocationDecimals  int                    `yaml:"locationDecimals"`
	BaseTemperature   float64                `yaml:"baseTemperature"`
	TemperatureJitter float64                `yaml:"temperatureJitter"`
	BaseBattery       float64                `yaml:"baseBattery"`
	BatteryMaxDrop    float64                `yaml:"batteryMaxDrop"`
	BatteryModel      telemetry.BatteryModel `yaml:"batteryModel"`
	DrainPerReading   float64                `yaml:"drainPerReading"`
}

type Config struct {
	LogLevel string        `yaml:"logLevel"`
	Broker   BrokerConfig  `yaml:"broker"`
	Publish  PublishConfig `yaml:"publish"`
	Device   DeviceConfig  `yaml:"device"`
}

// Default returns the configuration of the HiveMQ Cloud demo. The placeholder host and credentials need replacing
// before a real broker will accept the connection.
func Default() Config {
	params := telemetry.DefaultParams()

	return Config{
		LogLevel: "info",
		Broker: BrokerConfig{
			Host:               "YOUR_CLUSTER_URL.s2.eu.hivemq.cloud",
			Port:               8883,
			Username:           "YOUR_USERNAME",
			Password:           "YOUR_PASSWORD",
			KeepAliveSecs:      60,
			ConnectTimeoutSecs: 10,
		},
		Publish: PublishConfig{
			Topic:         "cargo/telemetry",
			IntervalSecs:  5,
			DurationHours: 5,
		},
		Device: DeviceConfig{
			ID:                params.DeviceID,
			BaseLat:           params.BaseLat,
			BaseLon:           params.BaseLon,
			LocationJitter:    params.LocationJitter,
			LocationDecimals:  params.LocationDecimals,
			BaseTemperature:   params.BaseTemperature,
			TemperatureJitter: params.TemperatureJitter,
			BaseBattery:       params.BaseBattery,
			BatteryMaxDrop:    params.BatteryMaxDrop,
			BatteryModel:      params.BatteryModel,
			DrainPerReading:   params.DrainPerReading,
		},
	}
}

// Read returns the defaults overlaid with any values set in the YAML file at `path`.
func Read(path string) (Config, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	config := Default()
	err = yaml.Unmarshal(content, &config)
	if err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	return config, nil
}

// ApplyEnv overrides the broker credentials with the MQTT_USERNAME and MQTT_PASSWORD env vars, where they are set.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if username, ok := lookup("MQTT_USERNAME"); ok {
		c.Broker.Username = username
	}
	if password, ok := lookup("MQTT_PASSWORD"); ok {
		c.Broker.Password = password
	}
}

// Validate returns all the problems found with the configuration, or nil.
func (c Config) Validate() error {
	var errs []error

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	if c.Broker.Host == "" {
		errs = append(errs, errors.New("broker host is empty"))
	}
	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, fmt.Errorf("broker port %d out of range", c.Broker.Port))
	}
	if c.Broker.KeepAliveSecs < 0 {
		errs = append(errs, fmt.Errorf("broker keep alive %ds is negative", c.Broker.KeepAliveSecs))
	}
	if c.Broker.ConnectTimeoutSecs < 1 {
		errs = append(errs, fmt.Errorf("broker connect timeout %ds must be at least 1s", c.Broker.ConnectTimeoutSecs))
	}
	if c.Publish.Topic == "" {
		errs = append(errs, errors.New("publish topic is empty"))
	}
	if c.Publish.IntervalSecs <= 0 {
		errs = append(errs, fmt.Errorf("publish interval %ds must be positive", c.Publish.IntervalSecs))
	}
	if c.Publish.DurationHours <= 0 {
		errs = append(errs, fmt.Errorf("publish duration %vh must be positive", c.Publish.DurationHours))
	}
	if c.Device.ID == "" {
		errs = append(errs, errors.New("device id is empty"))
	}
	if c.Device.LocationJitter < 0 || c.Device.TemperatureJitter < 0 || c.Device.BatteryMaxDrop < 0 || c.Device.DrainPerReading < 0 {
		errs = append(errs, errors.New("device jitter and drop values must not be negative"))
	}
	if c.Device.LocationDecimals < 0 || c.Device.LocationDecimals > maxLocationDecimals {
		errs = append(errs, fmt.Errorf("device location decimals %d out of range 0..%d", c.Device.LocationDecimals, maxLocationDecimals))
	}
	if err := c.Device.BatteryModel.Valid(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel parses the configured log level, e.g. "debug" or "warn".
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	err := level.UnmarshalText([]byte(c.LogLevel))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

func (p PublishConfig) Interval() time.Duration {
	return time.Duration(p.IntervalSecs) * time.Second
}

func (b BrokerConfig) KeepAlive() time.Duration {
	return time.Duration(b.KeepAliveSecs) * time.Second
}

func (b BrokerConfig) ConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeoutSecs) * time.Second
}

// TelemetryParams returns the generator parameters for the configured device.
func (d DeviceConfig) TelemetryParams() telemetry.Params {
	return telemetry.Params{
		DeviceID:          d.ID,
		BaseLat:           d.BaseLat,
		BaseLon:           d.BaseLon,
		LocationJitter:    d.LocationJitter,
		LocationDecimals:  d.LocationDecimals,
		BaseTemperature:   d.BaseTemperature,
		TemperatureJitter: d.TemperatureJitter,
		BaseBattery:       d.BaseBattery,
		BatteryMaxDrop:    d.BatteryMaxDrop,
		BatteryModel:      d.BatteryModel,
		DrainPerReading:   d.DrainPerReading,
	}
}
