package config

import (
	"strings"
	"time"

	"github.com/rdpwake/rdpwake/pkg/history"
	"github.com/rdpwake/rdpwake/pkg/monitor"
	"github.com/rdpwake/rdpwake/pkg/wol"
)

// GetDefaultConfig returns a fully defaulted configuration.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any unspecified configuration
// fields. Zero values are replaced; explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyMonitorDefaults(&cfg.Monitor)
	applyHistoryDefaults(&cfg.History)
	applyWakeDefaults(&cfg.Wake)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stderr"
	}
}

// applyMetricsDefaults sets metrics defaults.
// Metrics are opt-in; the port only matters when enabled.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Enabled && cfg.Port == 0 {
		cfg.Port = 9090
	}
}

// applyMonitorDefaults sets the calibrated session-check timings.
func applyMonitorDefaults(cfg *MonitorConfig) {
	if cfg.Port == 0 {
		cfg.Port = monitor.DefaultRDPPort
	}
	if cfg.AuxPort == 0 {
		cfg.AuxPort = monitor.DefaultAuxPort
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 200 * time.Millisecond
	}
	if cfg.OpenTimeout == 0 {
		cfg.OpenTimeout = time.Second
	}
	if cfg.EnumTimeout == 0 {
		cfg.EnumTimeout = 5 * time.Second
	}
	if cfg.WatchInterval == 0 {
		cfg.WatchInterval = monitor.DefaultObserveInterval
	}
}

// applyHistoryDefaults sets the long-term store defaults.
func applyHistoryDefaults(cfg *HistoryConfig) {
	if cfg.Enabled == nil {
		enabled := true
		cfg.Enabled = &enabled
	}
	if cfg.Path == "" {
		cfg.Path = history.DefaultPath()
	}
	if cfg.SeedMaxAge == 0 {
		cfg.SeedMaxAge = history.SeedMaxAge
	}
}

// applyWakeDefaults sets Wake-on-LAN delivery defaults.
func applyWakeDefaults(cfg *WakeConfig) {
	if cfg.Broadcast == "" {
		cfg.Broadcast = wol.DefaultBroadcast
	}
	if cfg.Port == 0 {
		cfg.Port = wol.DefaultPort
	}
}
