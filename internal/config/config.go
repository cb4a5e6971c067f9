package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigFile     = "bundle.yaml"
	defaultRateLimitRPS   = 50.0
	defaultRateLimitBurst = 100
)

// Config aggregates runtime configuration resolved from multiple sources.
// Precedence: CLI flags > YAML config > Environment variables > Defaults
type Config struct {
	ConfigFile           string        `yaml:"config_file"`
	BaseDir              string        `yaml:"base_dir"`
	Mode                 string        `yaml:"mode"`
	Host                 string        `yaml:"host"`
	Port                 string        `yaml:"port"`
	LogLevel             string        `yaml:"log_level"`
	LogFormat            string        `yaml:"log_format"`
	ShutdownGracePeriod  time.Duration `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    time.Duration `yaml:"read_header_timeout"`
	IdleTimeout          time.Duration `yaml:"idle_timeout"`
	WatchDebounce        time.Duration `yaml:"watch_debounce"`
	EnableRequestLogging bool          `yaml:"enable_request_logging"`
	RateLimitRPS         float64       `yaml:"-"`
	RateLimitBurst       int           `yaml:"-"`
}

// yamlConfig represents the YAML settings file structure.
type yamlConfig struct {
	ConfigFile           string        `yaml:"config_file"`
	BaseDir              string        `yaml:"base_dir"`
	Mode                 string        `yaml:"mode"`
	Host                 string        `yaml:"host"`
	Port                 string        `yaml:"port"`
	LogLevel             string        `yaml:"log_level"`
	LogFormat            string        `yaml:"log_format"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	WatchDebounce        string        `yaml:"watch_debounce"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

// CLIOverrides holds command-line flag overrides.
type CLIOverrides struct {
	SettingsFile   string
	ConfigFile     *string
	BaseDir        *string
	Mode           *string
	Host           *string
	Port           *string
	LogLevel       *string
	LogFormat      *string
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > YAML config > Environment variables > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	cfg := defaultConfig()

	// Apply environment variables first so the settings file can override them.
	applyEnvConfig(&cfg)

	if overrides != nil && overrides.SettingsFile != "" {
		yamlCfg, err := loadFromFile(overrides.SettingsFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML settings: %w", err)
		}
		if err := applyYAMLConfig(&cfg, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML settings: %w", err)
		}
	}

	if overrides != nil {
		applyCLIOverrides(&cfg, overrides)
	}

	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with default values.
func defaultConfig() Config {
	return Config{
		ConfigFile:           defaultConfigFile,
		ShutdownGracePeriod:  10 * time.Second,
		ReadHeaderTimeout:    5 * time.Second,
		IdleTimeout:          60 * time.Second,
		WatchDebounce:        100 * time.Millisecond,
		EnableRequestLogging: true,
		RateLimitRPS:         defaultRateLimitRPS,
		RateLimitBurst:       defaultRateLimitBurst,
	}
}

// loadFromFile loads settings from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig applies YAML settings to the Config struct.
func applyYAMLConfig(cfg *Config, yamlCfg *yamlConfig) error {
	setString(&cfg.ConfigFile, yamlCfg.ConfigFile)
	setString(&cfg.BaseDir, yamlCfg.BaseDir)
	setString(&cfg.Mode, yamlCfg.Mode)
	setString(&cfg.Host, yamlCfg.Host)
	setString(&cfg.Port, yamlCfg.Port)
	setString(&cfg.LogLevel, yamlCfg.LogLevel)
	setString(&cfg.LogFormat, yamlCfg.LogFormat)

	durations := []struct {
		name   string
		raw    string
		target *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &cfg.ShutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &cfg.ReadHeaderTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &cfg.IdleTimeout},
		{"watch_debounce", yamlCfg.WatchDebounce, &cfg.WatchDebounce},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
		*d.target = parsed
	}

	if yamlCfg.EnableRequestLogging != nil {
		cfg.EnableRequestLogging = *yamlCfg.EnableRequestLogging
	}
	if yamlCfg.RateLimit.RPS != nil {
		cfg.RateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		cfg.RateLimitBurst = *yamlCfg.RateLimit.Burst
	}
	return nil
}

// applyEnvConfig applies environment variable configuration.
func applyEnvConfig(cfg *Config) {
	setString(&cfg.ConfigFile, os.Getenv("BUNDLE_CONFIG"))
	setString(&cfg.BaseDir, os.Getenv("BUNDLE_BASE_DIR"))
	setString(&cfg.Mode, os.Getenv("BUNDLE_MODE"))
	setString(&cfg.Host, os.Getenv("HOST"))
	setString(&cfg.Port, os.Getenv("PORT"))
	setString(&cfg.LogLevel, os.Getenv("LOG_LEVEL"))
	setString(&cfg.LogFormat, os.Getenv("LOG_FORMAT"))

	if rps := strings.TrimSpace(os.Getenv("RATE_LIMIT_RPS")); rps != "" {
		if value, err := strconv.ParseFloat(rps, 64); err == nil && value >= 0 {
			cfg.RateLimitRPS = value
		}
	}

	if burst := strings.TrimSpace(os.Getenv("RATE_LIMIT_BURST")); burst != "" {
		if value, err := strconv.Atoi(burst); err == nil && value >= 0 {
			cfg.RateLimitBurst = value
		}
	}
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Config, overrides *CLIOverrides) {
	for _, o := range []struct {
		value  *string
		target *string
	}{
		{overrides.ConfigFile, &cfg.ConfigFile},
		{overrides.BaseDir, &cfg.BaseDir},
		{overrides.Mode, &cfg.Mode},
		{overrides.Host, &cfg.Host},
		{overrides.Port, &cfg.Port},
		{overrides.LogLevel, &cfg.LogLevel},
		{overrides.LogFormat, &cfg.LogFormat},
	} {
		if o.value != nil {
			setString(o.target, *o.value)
		}
	}

	if overrides.RateLimitRPS != nil && *overrides.RateLimitRPS >= 0 {
		cfg.RateLimitRPS = *overrides.RateLimitRPS
	}

	if overrides.RateLimitBurst != nil && *overrides.RateLimitBurst >= 0 {
		cfg.RateLimitBurst = *overrides.RateLimitBurst
	}
}

// validateConfig validates the final configuration.
func validateConfig(cfg Config) error {
	if strings.TrimSpace(cfg.ConfigFile) == "" {
		return fmt.Errorf("build config path cannot be empty")
	}
	switch cfg.Mode {
	case "", "none", "development", "production":
	default:
		return fmt.Errorf("mode must be one of none, development, production (got %q)", cfg.Mode)
	}
	switch cfg.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("log format must be json or console (got %q)", cfg.LogFormat)
	}
	if cfg.Port != "" {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 0 || port > 65535 {
			return fmt.Errorf("port must be a number between 0 and 65535 (got %q)", cfg.Port)
		}
	}
	if cfg.RateLimitRPS < 0 {
		return fmt.Errorf("RATE_LIMIT_RPS must be >= 0")
	}
	if cfg.RateLimitBurst < 0 {
		return fmt.Errorf("RATE_LIMIT_BURST must be >= 0")
	}
	if cfg.WatchDebounce < 0 {
		return fmt.Errorf("watch debounce must be >= 0")
	}
	return nil
}

// PortNumber returns the configured port as an integer, or 0 when unset.
func (c Config) PortNumber() int {
	port, err := strconv.Atoi(c.Port)
	if err != nil {
		return 0
	}
	return port
}

func setString(target *string, value string) {
	if value = strings.TrimSpace(value); value != "" {
		*target = value
	}
}
