// File: internal/config/config.go
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
)

// Interface defines the contract for accessing application configuration.
// Components depend on this rather than the concrete Config so tests can
// inject stripped-down implementations.
type Interface interface {
	Logger() LoggerConfig
	Engine() EngineConfig
	Sandbox() SandboxConfig
	Output() OutputConfig
	Run() RunConfig
	SetRunConfig(rc RunConfig)

	// Engine setters, used by CLI flag binding.
	SetEngineConcurrency(int)
	SetEngineRateLimit(float64)
}

// LoggerConfig holds settings for the zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"` // console or json
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`

	// File output, rotated by lumberjack. Empty disables the file sink.
	LogFile    string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize    int    `mapstructure:"max_size" yaml:"max_size"` // megabytes
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"` // days
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// EngineConfig holds scheduler settings.
type EngineConfig struct {
	// Concurrency bounds how many invocations run at once within a
	// phase. Kept modest by default to respect target-side rate limits.
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`

	// RateLimit is the maximum invocation dispatch rate per second.
	// Zero disables pacing.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`

	// InvocationTimeout caps a single sandboxed execution.
	InvocationTimeout time.Duration `mapstructure:"invocation_timeout" yaml:"invocation_timeout"`
}

// SandboxConfig holds settings for the container execution adapter.
type SandboxConfig struct {
	// Runtime is the container runtime binary, normally "docker".
	Runtime string `mapstructure:"runtime" yaml:"runtime"`

	// ImagePrefix is prepended to tool image names from the registry.
	ImagePrefix string `mapstructure:"image_prefix" yaml:"image_prefix"`

	// VersionProbe enables resolving installed tool versions before a
	// run; versions feed invocation fingerprints and run metadata.
	VersionProbe bool `mapstructure:"version_probe" yaml:"version_probe"`
}

// OutputConfig holds settings for run directories.
type OutputConfig struct {
	// BaseDir is where per-run directories are created. Supports "~".
	BaseDir string `mapstructure:"base_dir" yaml:"base_dir"`
}

// RunConfig centralizes per-run settings resolved from CLI flags and
// arguments. It gets its marching orders from the command line, not the
// config file.
type RunConfig struct {
	Domain      string `mapstructure:"-" yaml:"-"` // web, android, or ios
	TargetsFile string `mapstructure:"-" yaml:"-"`
	ScopeFile   string `mapstructure:"-" yaml:"-"`
	ResumeFrom  string `mapstructure:"-" yaml:"-"`
}

// Config holds the entire application configuration.
type Config struct {
	LoggerC  LoggerConfig  `mapstructure:"logger" yaml:"logger"`
	EngineC  EngineConfig  `mapstructure:"engine" yaml:"engine"`
	SandboxC SandboxConfig `mapstructure:"sandbox" yaml:"sandbox"`
	OutputC  OutputConfig  `mapstructure:"output" yaml:"output"`
	run      RunConfig     `mapstructure:"-" yaml:"-"`
}

// -- Interface method implementations --

func (c *Config) Logger() LoggerConfig   { return c.LoggerC }
func (c *Config) Engine() EngineConfig   { return c.EngineC }
func (c *Config) Sandbox() SandboxConfig { return c.SandboxC }
func (c *Config) Output() OutputConfig   { return c.OutputC }
func (c *Config) Run() RunConfig         { return c.run }

func (c *Config) SetRunConfig(rc RunConfig)    { c.run = rc }
func (c *Config) SetEngineConcurrency(n int)   { c.EngineC.Concurrency = n }
func (c *Config) SetEngineRateLimit(r float64) { c.EngineC.RateLimit = r }

// SetDefaults initializes default values for all configuration keys.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "deadbolt")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Engine --
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.rate_limit", 0.0)
	v.SetDefault("engine.invocation_timeout", "30m")

	// -- Sandbox --
	v.SetDefault("sandbox.runtime", "docker")
	v.SetDefault("sandbox.image_prefix", "deadbolt-")
	v.SetDefault("sandbox.version_probe", true)

	// -- Output --
	v.SetDefault("output.base_dir", "outputs")
}

// NewDefaultConfig returns a Config populated with defaults only.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)
	var cfg Config
	// Unmarshal of pure defaults cannot fail.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Load reads configuration from the given file (or the default search
// path when empty), layers environment variables on top, and unmarshals
// into a Config.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("deadbolt")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("DEADBOLT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file is fine; defaults and env vars apply.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// ResolveBaseDir expands and absolutizes the configured output base dir.
func (c *Config) ResolveBaseDir() (string, error) {
	dir, err := homedir.Expand(c.OutputC.BaseDir)
	if err != nil {
		return "", fmt.Errorf("cannot expand output dir %q: %w", c.OutputC.BaseDir, err)
	}
	return filepath.Abs(dir)
}
