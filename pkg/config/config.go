// Package config loads narpcd's configuration from file, environment, and
// defaults. There is no CLI flag overlay: the only flag cmd/narpcd passes
// in is --config, which selects the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is narpcd's static configuration: how to log, whether to publish
// Prometheus metrics, and how the Class/Context/Engine this process opens
// should be built.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (NARPC_*), for keys the config file sets
//  2. Configuration file (YAML)
//  3. Default values (lowest priority)
//
// When no config file is found, Load returns the defaults without
// consulting the environment.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Metrics configures the Prometheus metrics HTTP server.
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Class configures the transport address this process opens.
	Class ClassConfig `mapstructure:"class" yaml:"class"`

	// Engine configures the framing engine every context on this class
	// builds around the shared registry.
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`

	// ShutdownTimeout bounds how long graceful shutdown waits for
	// in-flight handles to drain before the process exits anyway.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0" yaml:"shutdown_timeout"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase).
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format specifies the log output format.
	// Valid values: text, json.
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output specifies where logs are written.
	// Valid values: stdout, stderr, or a file path.
	Output string `mapstructure:"output" validate:"required" yaml:"output"`
}

// MetricsConfig configures the Prometheus metrics HTTP server.
// When Enabled is false, no metrics are collected (zero overhead).
type MetricsConfig struct {
	// Enabled controls whether metrics collection and the HTTP server are active.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port is the HTTP port the metrics endpoint is served on.
	Port int `mapstructure:"port" validate:"omitempty,min=1,max=65535" yaml:"port"`
}

// ClassConfig configures the single Class this process opens.
type ClassConfig struct {
	// Protocol is the NA protocol scheme, e.g. "tcp" or "loopback".
	Protocol string `mapstructure:"protocol" validate:"required" yaml:"protocol"`

	// Name is the address this class's transport registers/listens under.
	Name string `mapstructure:"name" validate:"required" yaml:"name"`

	// Listen marks whether contexts created on this class should pre-post
	// receive buffers (server role) or not (pure origin/client role).
	Listen bool `mapstructure:"listen" yaml:"listen"`

	// PrePostCount is how many receive buffers a listening context reports
	// posting at creation.
	PrePostCount int `mapstructure:"pre_post_count" validate:"omitempty,gt=0" yaml:"pre_post_count"`
}

// EngineConfig configures the framing engine's per-direction behavior.
type EngineConfig struct {
	// Checksum enables CRC32 protection of eager-path payloads.
	Checksum bool `mapstructure:"checksum" yaml:"checksum"`

	// AllowSpill gates whether an oversize encode may hand off to a bulk
	// transfer. false models the "XDR mode" build toggle: every context
	// built from this process refuses to spill regardless of codec.
	AllowSpill bool `mapstructure:"allow_spill" yaml:"allow_spill"`

	// InputEagerSize/OutputEagerSize are the total per-direction eager
	// buffer sizes, header included.
	InputEagerSize  int `mapstructure:"input_eager_size" validate:"omitempty,gt=0" yaml:"input_eager_size"`
	OutputEagerSize int `mapstructure:"output_eager_size" validate:"omitempty,gt=0" yaml:"output_eager_size"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
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

// MustLoad loads configuration with helpful error messages when the config
// file is missing.
func MustLoad(configPath string) (*Config, error) {
	if configPath == "" {
		if !DefaultConfigExists() {
			return nil, fmt.Errorf("no configuration file found at default location: %s\n\n"+
				"Please initialize a configuration file first:\n"+
				"  narpcd init\n\n"+
				"Or specify a custom config file:\n"+
				"  narpcd <command> --config /path/to/config.yaml",
				GetDefaultConfigPath())
		}
		configPath = GetDefaultConfigPath()
	} else if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	cfg, err := Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// InitConfig writes a sample configuration to the default location. It
// refuses to overwrite an existing file unless force is true. Returns the
// path written.
func InitConfig(force bool) (string, error) {
	return InitConfigToPath(GetDefaultConfigPath(), force)
}

// InitConfigToPath is InitConfig with an explicit destination path.
func InitConfigToPath(path string, force bool) (string, error) {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}

	cfg := GetDefaultConfig()
	cfg.Class.Name = "narpcd-1"
	if err := SaveConfig(cfg, path); err != nil {
		return "", err
	}
	return path, nil
}

// SaveConfig saves the configuration to path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
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

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("NARPC")
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

// durationDecodeHook converts strings and numbers to time.Duration so
// config files and env vars can use human-readable durations like "30s".
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
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

func getConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "narpcd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "narpcd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists reports whether a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the init command).
func GetConfigDir() string {
	return getConfigDir()
}

// Validate runs struct-tag validation over cfg.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is nil")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}
	return nil
}
