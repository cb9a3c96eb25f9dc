package config

import (
	"strings"
	"time"

	"github.com/narpc/narpc/pkg/class"
)

// DefaultShutdownTimeout bounds graceful shutdown when the config omits it.
const DefaultShutdownTimeout = 10 * time.Second

// DefaultMetricsPort is the metrics HTTP port when the config omits it.
const DefaultMetricsPort = 9090

// GetDefaultConfig returns a Config populated entirely with defaults, used
// when no config file is found.
func GetDefaultConfig() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Default strategy: zero values (0, "", false) are replaced with defaults;
// explicit values are preserved.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyMetricsDefaults(&cfg.Metrics)
	applyClassDefaults(&cfg.Class)
	applyEngineDefaults(&cfg.Engine)

	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port <= 0 {
		cfg.Port = DefaultMetricsPort
	}
}

func applyClassDefaults(cfg *ClassConfig) {
	if cfg.Protocol == "" {
		cfg.Protocol = "loopback"
	}
	if cfg.PrePostCount <= 0 {
		cfg.PrePostCount = class.DefaultPrePostCount
	}
}

func applyEngineDefaults(cfg *EngineConfig) {
	if cfg.InputEagerSize <= 0 {
		cfg.InputEagerSize = class.DefaultEagerSize
	}
	if cfg.OutputEagerSize <= 0 {
		cfg.OutputEagerSize = class.DefaultEagerSize
	}
}

// ClassOptions translates the loaded EngineConfig/ClassConfig pair into the
// class.Options a Class is built with.
func (cfg *Config) ClassOptions() class.Options {
	return class.Options{
		Checksum:        cfg.Engine.Checksum,
		AllowSpill:      cfg.Engine.AllowSpill,
		InputEagerSize:  cfg.Engine.InputEagerSize,
		OutputEagerSize: cfg.Engine.OutputEagerSize,
		PrePostCount:    cfg.Class.PrePostCount,
	}
}
