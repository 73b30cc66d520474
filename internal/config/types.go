package config

import (
	"path/filepath"
	"time"
)

// Config represents the complete commandxml configuration. Fields tagged
// env are overridden by the named COMMANDXML_* variable when it is set.
type Config struct {
	Service  ServiceConfig  `yaml:"service"`
	Channel  ChannelConfig  `yaml:"channel"`
	Journal  JournalConfig  `yaml:"journal"`
	API      APIConfig      `yaml:"api,omitempty"`
	Builtins BuiltinsConfig `yaml:"builtins,omitempty"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name         string        `yaml:"name" env:"COMMANDXML_SERVICE_NAME"`
	TickInterval time.Duration `yaml:"tick_interval" env:"COMMANDXML_TICK_INTERVAL"`
	// SettleDelay is how long a synchronous invocation waits after the
	// handler returns before the tick proceeds.
	SettleDelay time.Duration `yaml:"settle_delay" env:"COMMANDXML_SETTLE_DELAY"`
	LogLevel    string        `yaml:"log_level" env:"COMMANDXML_LOG_LEVEL"`
	LogFormat   string        `yaml:"log_format" env:"COMMANDXML_LOG_FORMAT"`
}

// ChannelConfig locates the shared command document.
type ChannelConfig struct {
	Dir         string `yaml:"dir" env:"COMMANDXML_CHANNEL_DIR"`
	File        string `yaml:"file" env:"COMMANDXML_CHANNEL_FILE"`
	LogCapacity int    `yaml:"log_capacity" env:"COMMANDXML_LOG_CAPACITY"`
}

// Path returns the full path of the channel document.
func (c ChannelConfig) Path() string {
	return filepath.Join(c.Dir, c.File)
}

// JournalConfig defines the optional run journal. An empty path disables it.
type JournalConfig struct {
	Path string `yaml:"path" env:"COMMANDXML_JOURNAL_PATH"`
}

// APIConfig defines the read-only HTTP API settings.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" env:"COMMANDXML_API_ENABLED"`
	Listen  string `yaml:"listen" env:"COMMANDXML_API_LISTEN"`
}

// BuiltinsConfig tunes the reference commands.
type BuiltinsConfig struct {
	LongTask        time.Duration `yaml:"long_task" env:"COMMANDXML_LONG_TASK"`
	LongTaskCleanup time.Duration `yaml:"long_task_cleanup" env:"COMMANDXML_LONG_TASK_CLEANUP"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:         "commandxml",
			TickInterval: 1 * time.Second,
			SettleDelay:  1 * time.Second,
			LogLevel:     "info",
			LogFormat:    "json",
		},
		Channel: ChannelConfig{
			Dir:         "./data",
			File:        "Commands.xml",
			LogCapacity: 25,
		},
		Journal: JournalConfig{
			Path: "./data/journal.db",
		},
		API: APIConfig{
			Enabled: false,
			Listen:  "127.0.0.1:8765",
		},
		Builtins: BuiltinsConfig{
			LongTask:        10 * time.Second,
			LongTaskCleanup: 5 * time.Second,
		},
	}
}
