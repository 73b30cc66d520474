package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// Load reads and parses configuration from a file.
// A directory argument is resolved to config.yaml inside it.
func Load(configPath string) (*Config, error) {
	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path %q: %w", configPath, err)
	}

	info, err := os.Stat(absPath)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %s\n"+
			"Hint: Check the path or run with --config flag", absPath)
	}

	if info.IsDir() {
		absPath = filepath.Join(absPath, "config.yaml")
		if _, err := os.Stat(absPath); err != nil {
			return nil, fmt.Errorf("directory provided but config.yaml not found: %s", absPath)
		}
	}

	cfg, err := loadConfigFile(absPath)
	if err != nil {
		return nil, err
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	cfg = applyConfigDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadOrDefaults loads configPath when given, otherwise ./config.yaml when it
// exists, otherwise the defaults.
func LoadOrDefaults(configPath string) (*Config, error) {
	if configPath != "" {
		return Load(configPath)
	}
	if _, err := os.Stat("config.yaml"); err == nil {
		return Load("config.yaml")
	}
	cfg := Defaults()
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadConfigFile loads and parses a single config file.
func loadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	interpolated := interpolateEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(interpolated), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	return &cfg, nil
}

// applyEnvOverrides replaces fields whose COMMANDXML_* variable is set.
func applyEnvOverrides(cfg *Config) error {
	if err := env.Parse(cfg); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// applyConfigDefaults merges default values into config where not explicitly set.
func applyConfigDefaults(cfg *Config) *Config {
	defaults := Defaults()

	if cfg.Service.Name == "" {
		cfg.Service.Name = defaults.Service.Name
	}
	if cfg.Service.TickInterval == 0 {
		cfg.Service.TickInterval = defaults.Service.TickInterval
	}
	if cfg.Service.SettleDelay == 0 {
		cfg.Service.SettleDelay = defaults.Service.SettleDelay
	}
	if cfg.Service.LogLevel == "" {
		cfg.Service.LogLevel = defaults.Service.LogLevel
	}
	if cfg.Service.LogFormat == "" {
		cfg.Service.LogFormat = defaults.Service.LogFormat
	}

	if cfg.Channel.Dir == "" {
		cfg.Channel.Dir = defaults.Channel.Dir
	}
	if cfg.Channel.File == "" {
		cfg.Channel.File = defaults.Channel.File
	}
	if cfg.Channel.LogCapacity == 0 {
		cfg.Channel.LogCapacity = defaults.Channel.LogCapacity
	}

	// journal.path is left alone: empty means disabled.

	if !cfg.API.Enabled && cfg.API.Listen == "" {
		cfg.API = defaults.API
	}
	if cfg.API.Listen == "" {
		cfg.API.Listen = defaults.API.Listen
	}

	if cfg.Builtins.LongTask == 0 {
		cfg.Builtins.LongTask = defaults.Builtins.LongTask
	}
	if cfg.Builtins.LongTaskCleanup == 0 {
		cfg.Builtins.LongTaskCleanup = defaults.Builtins.LongTaskCleanup
	}

	return cfg
}

// interpolateEnv replaces ${VAR} with environment variable values.
// Undefined variables are left as-is (not expanded).
func interpolateEnv(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		if value, exists := os.LookupEnv(varName); exists {
			return value
		}
		return match
	})
}

// validate performs basic validation on the configuration.
func validate(cfg *Config) error {
	if cfg.Service.TickInterval <= 0 {
		return fmt.Errorf("service.tick_interval must be positive")
	}
	if cfg.Service.SettleDelay < 0 {
		return fmt.Errorf("service.settle_delay must not be negative")
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[cfg.Service.LogLevel] {
		return fmt.Errorf("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}
	if cfg.Service.LogFormat != "json" && cfg.Service.LogFormat != "text" {
		return fmt.Errorf("service.log_format must be json or text (got %q)", cfg.Service.LogFormat)
	}

	if cfg.Channel.Dir == "" {
		return fmt.Errorf("channel.dir is required")
	}
	if cfg.Channel.File == "" {
		return fmt.Errorf("channel.file is required")
	}
	if cfg.Channel.LogCapacity <= 0 {
		return fmt.Errorf("channel.log_capacity must be positive")
	}

	for _, v := range []struct {
		key, value string
	}{
		{"channel.dir", cfg.Channel.Dir},
		{"channel.file", cfg.Channel.File},
		{"journal.path", cfg.Journal.Path},
	} {
		if matches := envVarPattern.FindStringSubmatch(v.value); len(matches) > 1 {
			return fmt.Errorf("%s: environment variable ${%s} is not set", v.key, matches[1])
		}
	}

	if cfg.API.Enabled && cfg.API.Listen == "" {
		return fmt.Errorf("api.listen is required when api is enabled")
	}

	if cfg.Builtins.LongTask < 0 || cfg.Builtins.LongTaskCleanup < 0 {
		return fmt.Errorf("builtins durations must not be negative")
	}

	return nil
}
