// Package config loads application configuration from file and
// environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Downloads DownloadsConfig `mapstructure:"downloads"`
	Transcode TranscodeConfig `mapstructure:"transcode"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Path   string `mapstructure:"path"`
}

// DownloadsConfig holds acquisition settings.
type DownloadsConfig struct {
	// FlareSolverrURL enables anti-bot fetching when set.
	FlareSolverrURL string `mapstructure:"flaresolverr_url"`
	// DownloadDir is the default directory for direct HTTP fetches.
	DownloadDir string `mapstructure:"download_dir"`
	// StatusRefreshInterval is how often the scheduled full status
	// refresh runs, in addition to the adaptive broadcaster polling.
	StatusRefreshInterval time.Duration `mapstructure:"status_refresh_interval"`
}

// TranscodeConfig holds transcode cache settings.
type TranscodeConfig struct {
	// EvictionAge is how long a ready artifact may go unaccessed before
	// the sweeper removes it.
	EvictionAge time.Duration `mapstructure:"eviction_age"`
	// EvictionInterval is how often the sweeper runs.
	EvictionInterval time.Duration `mapstructure:"eviction_interval"`
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path: "./data/medialoom.db",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Downloads: DownloadsConfig{
			DownloadDir:           "./data/downloads",
			StatusRefreshInterval: 5 * time.Minute,
		},
		Transcode: TranscodeConfig{
			EvictionAge:      7 * 24 * time.Hour,
			EvictionInterval: time.Hour,
		},
	}
}

// Load reads configuration from file and environment variables.
// Priority: environment variables > config file > defaults
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Config file settings
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("$HOME/.medialoom")
	}

	// Environment variable settings
	v.SetEnvPrefix("MEDIALOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, using defaults + env vars
	}

	// Unmarshal into struct
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	// Database defaults
	v.SetDefault("database.path", "./data/medialoom.db")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.path", "")

	// Download defaults
	v.SetDefault("downloads.flaresolverr_url", "")
	v.SetDefault("downloads.download_dir", "./data/downloads")
	v.SetDefault("downloads.status_refresh_interval", 5*time.Minute)

	// Transcode cache defaults
	v.SetDefault("transcode.eviction_age", 7*24*time.Hour)
	v.SetDefault("transcode.eviction_interval", time.Hour)
}
