// Package config provides configuration management using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jobrunner/demimport/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	GRASS    GRASSConfig    `mapstructure:"grass"`
	Download DownloadConfig `mapstructure:"download"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// GRASSConfig holds the GRASS session configuration.
type GRASSConfig struct {
	Executable string `mapstructure:"executable"` // start script used to create locations
	GISRC      string `mapstructure:"gisrc"`      // empty inherits GISRC
	Memory     int    `mapstructure:"memory"`     // MB for r.import and r.proj
}

// DownloadConfig holds open data download configuration.
type DownloadConfig struct {
	Workers    int           `mapstructure:"workers"`
	Timeout    time.Duration `mapstructure:"timeout"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// CatalogConfig selects the open data catalog.
type CatalogConfig struct {
	File string `mapstructure:"file"` // empty uses the built-in catalog
}

// StorageConfig holds credentials for remote local-data roots.
type StorageConfig struct {
	Extensions []string    `mapstructure:"extensions"`
	S3         S3Config    `mapstructure:"s3"`
	Azure      AzureConfig `mapstructure:"azure"`
	HTTP       HTTPConfig  `mapstructure:"http"`
}

// S3Config holds AWS S3 configuration.
type S3Config struct {
	Region          string `mapstructure:"region"`
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
}

// AzureConfig holds Azure Blob Storage configuration.
type AzureConfig struct {
	AccountName      string `mapstructure:"account_name"`
	AccountKey       string `mapstructure:"account_key"`
	ConnectionString string `mapstructure:"connection_string"`
}

// HTTPConfig holds configuration for local-data roots served over HTTP.
type HTTPConfig struct {
	IndexFile string        `mapstructure:"index_file"` // default: index.txt
	Timeout   time.Duration `mapstructure:"timeout"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
}

// MetricsConfig holds Prometheus metrics configuration.
type MetricsConfig struct {
	Namespace string `mapstructure:"namespace"`
	Textfile  string `mapstructure:"textfile"` // node exporter textfile, empty disables metrics
}

// Enabled reports whether metrics are written.
func (c *MetricsConfig) Enabled() bool {
	return c.Textfile != ""
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text, console
}

// Defaults sets the default configuration values.
func Defaults() {
	viper.SetDefault("grass.executable", "grass")
	viper.SetDefault("grass.gisrc", "")
	viper.SetDefault("grass.memory", 1000)

	viper.SetDefault("download.workers", 3)
	viper.SetDefault("download.timeout", 30*time.Minute)
	viper.SetDefault("download.retries", 3)
	viper.SetDefault("download.retry_delay", 5*time.Second)
	viper.SetDefault("download.user_agent", "demimport")

	viper.SetDefault("catalog.file", "")

	viper.SetDefault("storage.extensions", []string{".xyz", ".txt", ".tif", ".tiff"})
	viper.SetDefault("storage.s3.region", "eu-central-1")
	viper.SetDefault("storage.http.index_file", "index.txt")
	viper.SetDefault("storage.http.timeout", 5*time.Minute)

	viper.SetDefault("metrics.namespace", "demimport")
	viper.SetDefault("metrics.textfile", "")

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "console")
}

// Load loads configuration from environment and config file.
func Load(configPath string) (*Config, error) {
	Defaults()

	viper.SetEnvPrefix("DEMIMPORT")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if configPath != "" {
		viper.SetConfigFile(configPath)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.AddConfigPath("$HOME/.config/demimport")
		viper.AddConfigPath("/etc/demimport")
	}

	// The config file is optional.
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.GRASS.Memory < 1 {
		return &domain.ConfigError{Field: "grass.memory", Message: fmt.Sprintf("must be positive, got %d", c.GRASS.Memory)}
	}
	if c.Download.Workers < 1 {
		return &domain.ConfigError{Field: "download.workers", Message: fmt.Sprintf("must be positive, got %d", c.Download.Workers)}
	}
	if c.Download.Retries < 1 {
		return &domain.ConfigError{Field: "download.retries", Message: fmt.Sprintf("must be positive, got %d", c.Download.Retries)}
	}
	if c.Download.RetryDelay < 0 {
		return &domain.ConfigError{Field: "download.retry_delay", Message: "must not be negative"}
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return &domain.ConfigError{Field: "logging.level", Message: fmt.Sprintf("unknown level %q", c.Logging.Level)}
	}

	switch c.Logging.Format {
	case "json", "text", "console":
	default:
		return &domain.ConfigError{Field: "logging.format", Message: fmt.Sprintf("unknown format %q", c.Logging.Format)}
	}

	if c.Storage.Azure.AccountKey != "" && c.Storage.Azure.AccountName == "" {
		return &domain.ConfigError{Field: "storage.azure.account_name", Message: "required with an account key"}
	}

	return nil
}
