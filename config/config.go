// Package config loads intellispec settings from a YAML file, environment
// variables (INTELLISPEC_ prefix, dots replaced by underscores) and built-in
// defaults, in that order of precedence after the environment.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/CK6170/Intellispec-go/acquisition"
	"github.com/CK6170/Intellispec-go/models"
	"github.com/CK6170/Intellispec-go/optics"
)

// EnvPrefix prefixes every environment override, e.g. INTELLISPEC_SERIAL_PORT.
const EnvPrefix = "INTELLISPEC"

// DefaultFile is looked up in the working directory when no path is given.
const DefaultFile = "intellispec.yaml"

type Config struct {
	Serial      models.SERIAL     `mapstructure:"serial"`
	Acquisition AcquisitionConfig `mapstructure:"acquisition"`
	Server      ServerConfig      `mapstructure:"server"`
	Log         LogConfig         `mapstructure:"log"`
}

type AcquisitionConfig struct {
	CalibrationWindow time.Duration `mapstructure:"calibration_window"`
	MeasureWindow     time.Duration `mapstructure:"measure_window"`
	DarkVoltage       float64       `mapstructure:"dark_voltage"`
	StatusInterval    time.Duration `mapstructure:"status_interval"`
	// Trace is the JSON-lines file unusable telemetry lines are appended to;
	// empty disables tracing.
	Trace string `mapstructure:"trace"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	WebDir          string        `mapstructure:"web_dir"`
	PortCache       string        `mapstructure:"port_cache"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	OpenBrowser     bool          `mapstructure:"open_browser"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("serial.port", "")
	v.SetDefault("serial.baud", models.DefaultBaudRate)
	v.SetDefault("serial.read_timeout", models.DefaultReadTimeout.String())

	v.SetDefault("acquisition.calibration_window", acquisition.DefaultCalibrationWindow.String())
	v.SetDefault("acquisition.measure_window", acquisition.DefaultMeasureWindow.String())
	v.SetDefault("acquisition.dark_voltage", optics.DarkVoltage)
	v.SetDefault("acquisition.status_interval", acquisition.DefaultStatusInterval.String())
	v.SetDefault("acquisition.trace", "")

	v.SetDefault("server.addr", "127.0.0.1:8080")
	v.SetDefault("server.web_dir", "")
	v.SetDefault("server.port_cache", "")
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.open_browser", false)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

func newViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Default returns the built-in configuration, ignoring files and environment.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads path, or DefaultFile when path is empty. Only a missing
// DefaultFile is tolerated; defaults and environment still apply.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(err, "failed to read config %s", path)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}
	cfg.Serial = cfg.Serial.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the controller cannot run with.
func (c *Config) Validate() error {
	if c.Acquisition.CalibrationWindow <= 0 {
		return errors.Errorf("acquisition.calibration_window must be positive, got %s", c.Acquisition.CalibrationWindow)
	}
	if c.Acquisition.MeasureWindow <= 0 {
		return errors.Errorf("acquisition.measure_window must be positive, got %s", c.Acquisition.MeasureWindow)
	}
	if c.Acquisition.DarkVoltage < 0 {
		return errors.Errorf("acquisition.dark_voltage must not be negative, got %g", c.Acquisition.DarkVoltage)
	}
	if c.Serial.BAUDRATE <= 0 {
		return errors.Errorf("serial.baud must be positive, got %d", c.Serial.BAUDRATE)
	}
	return nil
}

// AcquisitionOptions maps the settings onto controller options. Dialer,
// logger and metrics are left for the caller.
func (c *Config) AcquisitionOptions() acquisition.Options {
	return acquisition.Options{
		Serial:            c.Serial,
		DarkVoltage:       c.Acquisition.DarkVoltage,
		CalibrationWindow: c.Acquisition.CalibrationWindow,
		MeasureWindow:     c.Acquisition.MeasureWindow,
		StatusInterval:    c.Acquisition.StatusInterval,
	}
}

// settings is the file layout; durations are rendered as strings so the
// output reads back through Load.
func (c *Config) settings() map[string]any {
	return map[string]any{
		"serial": map[string]any{
			"port":         c.Serial.PORT,
			"baud":         c.Serial.BAUDRATE,
			"read_timeout": c.Serial.READTIMEOUT.String(),
		},
		"acquisition": map[string]any{
			"calibration_window": c.Acquisition.CalibrationWindow.String(),
			"measure_window":     c.Acquisition.MeasureWindow.String(),
			"dark_voltage":       c.Acquisition.DarkVoltage,
			"status_interval":    c.Acquisition.StatusInterval.String(),
			"trace":              c.Acquisition.Trace,
		},
		"server": map[string]any{
			"addr":             c.Server.Addr,
			"web_dir":          c.Server.WebDir,
			"port_cache":       c.Server.PortCache,
			"shutdown_timeout": c.Server.ShutdownTimeout.String(),
			"open_browser":     c.Server.OpenBrowser,
		},
		"log": map[string]any{
			"level":       c.Log.Level,
			"development": c.Log.Development,
		},
	}
}

// YAML renders the configuration in the file format Load accepts.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c.settings())
	if err != nil {
		return nil, errors.Wrap(err, "failed to render config")
	}
	return out, nil
}

// WriteDefault writes the default configuration to path. An existing file is
// only replaced when force is set.
func WriteDefault(path string, force bool) error {
	if path == "" {
		path = DefaultFile
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return errors.Errorf("%s already exists", path)
		}
	}
	out, err := Default().YAML()
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "failed to create %s", dir)
		}
	}
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return errors.Wrapf(err, "failed to write %s", path)
	}
	return nil
}
