// Package config loads and validates the rdpwake configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (RDPWAKE_*)
//  3. Configuration file (YAML)
//  4. Default values (lowest priority)
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config represents the rdpwake configuration.
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics contains Prometheus metrics server configuration
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Monitor contains session-check tuning
	Monitor MonitorConfig `mapstructure:"monitor" yaml:"monitor"`

	// History configures the long-term per-host store
	History HistoryConfig `mapstructure:"history" yaml:"history"`

	// Wake configures Wake-on-LAN packet delivery
	Wake WakeConfig `mapstructure:"wake" yaml:"wake"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format: text or json
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP endpoint
	// are active during `rdpwake watch`
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port for the /metrics endpoint
	// Default: 9090
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// MonitorConfig tunes the session-check pipeline. The defaults mirror the
// behavior the monitor was calibrated with; override them only for
// unusually slow networks.
type MonitorConfig struct {
	// Port is the Remote Desktop service port to probe and connect to.
	// Default: 3389
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`

	// AuxPort is the auxiliary management port probed alongside Port.
	// Default: 135
	AuxPort int `mapstructure:"aux_port" validate:"omitempty,min=1,max=65535" yaml:"aux_port"`

	// ProbeTimeout bounds each TCP connect probe. Default: 200ms
	ProbeTimeout time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`

	// OpenTimeout bounds opening a session-service connection.
	// Default: 1s
	OpenTimeout time.Duration `mapstructure:"open_timeout" yaml:"open_timeout"`

	// EnumTimeout bounds one enumeration pass. Default: 5s
	EnumTimeout time.Duration `mapstructure:"enum_timeout" yaml:"enum_timeout"`

	// WatchInterval is the re-check cadence during `rdpwake watch`.
	// Default: 5s
	WatchInterval time.Duration `mapstructure:"watch_interval" yaml:"watch_interval"`
}

// HistoryConfig configures the long-term host store.
type HistoryConfig struct {
	// Enabled controls whether checks read and write the history
	// database. Default: true
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`

	// Path is the SQLite database location.
	// Default: $XDG_CONFIG_HOME/rdpwake/history.db
	Path string `mapstructure:"path" yaml:"path"`

	// SeedMaxAge is how old a stored OS classification may be and still
	// seed a live check. Default: 720h (30 days)
	SeedMaxAge time.Duration `mapstructure:"seed_max_age" yaml:"seed_max_age"`
}

// WakeConfig configures Wake-on-LAN delivery.
type WakeConfig struct {
	// Broadcast is the UDP broadcast address magic packets are sent to.
	// Default: 255.255.255.255
	Broadcast string `mapstructure:"broadcast" yaml:"broadcast"`

	// Port is the UDP port. Default: 9
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses the default
//     location; a missing file is not an error, defaults apply)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	configFileFound, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !configFileFound {
		cfg := GetDefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(durationDecodeHook())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// SaveConfig saves the configuration to the specified file path in YAML.
func SaveConfig(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// GetDefaultConfigPath returns the default config file location.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default
// location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// getConfigDir returns $XDG_CONFIG_HOME/rdpwake (or ~/.config/rdpwake).
func getConfigDir() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, _ := os.UserHomeDir()
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "rdpwake")
}

// setupViper configures environment variables and config file search.
func setupViper(v *viper.Viper, configPath string) {
	// Environment variables use the RDPWAKE_ prefix and underscores.
	// Example: RDPWAKE_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("RDPWAKE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// durationDecodeHook converts config-file strings like "200ms" into
// time.Duration fields.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
