package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Printer   PrinterConfig   `yaml:"printer"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type PrinterConfig struct {
	Address             string        `yaml:"address"`
	Port                int           `yaml:"port"`
	UploadsDir          string        `yaml:"uploads_dir"`
	ConnectionTimeout   time.Duration `yaml:"connection_timeout"`
	AckTimeout          time.Duration `yaml:"ack_timeout"`
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type WebhooksConfig struct {
	RetryCount  int           `yaml:"retry_count"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
	WorkerCount int           `yaml:"worker_count"`
	QueueSize   int           `yaml:"queue_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ArchiveConfig controls moving old job history out of the live database.
type ArchiveConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Days    int    `yaml:"days"`
}

type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0, // zero keeps /api/events streams open
		},
		Database: DatabaseConfig{
			Path: "./data/playlist.db",
		},
		Printer: PrinterConfig{
			Address:             "127.0.0.1",
			Port:                9100,
			UploadsDir:          "./data/uploads",
			ConnectionTimeout:   10 * time.Second,
			AckTimeout:          5 * time.Minute,
			HealthCheckInterval: 30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			PollInterval: time.Minute,
		},
		Webhooks: WebhooksConfig{
			RetryCount:  3,
			RetryDelay:  time.Second,
			Timeout:     10 * time.Second,
			WorkerCount: 2,
			QueueSize:   100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Archive: ArchiveConfig{
			Enabled: true,
			Path:    "./data/archives",
			Days:    30,
		},
	}
}

// Default returns the built-in configuration.
func Default() *Config {
	return defaults()
}

// Load reads configPath over the defaults. A missing file yields the
// defaults unchanged.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

func LoadFromEnv() *Config {
	cfg := defaults()
	cfg.ApplyEnv()
	return cfg
}

// ApplyEnv overrides fields from PLAYLIST_* environment variables.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PLAYLIST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}

	if v := os.Getenv("PLAYLIST_DB_PATH"); v != "" {
		c.Database.Path = v
	}

	if v := os.Getenv("PLAYLIST_PRINTER_ADDRESS"); v != "" {
		c.Printer.Address = v
	}

	if v := os.Getenv("PLAYLIST_PRINTER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Printer.Port = port
		}
	}

	if v := os.Getenv("PLAYLIST_UPLOADS_DIR"); v != "" {
		c.Printer.UploadsDir = v
	}

	if v := os.Getenv("PLAYLIST_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}

	if v := os.Getenv("PLAYLIST_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
}

func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Server.ReadTimeout < 0 {
		return fmt.Errorf("server read timeout must be non-negative")
	}

	if c.Server.WriteTimeout < 0 {
		return fmt.Errorf("server write timeout must be non-negative")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	if c.Printer.Address == "" {
		return fmt.Errorf("printer address is required")
	}

	if c.Printer.Port < 1 || c.Printer.Port > 65535 {
		return fmt.Errorf("printer port must be between 1 and 65535, got %d", c.Printer.Port)
	}

	if c.Printer.UploadsDir == "" {
		return fmt.Errorf("uploads directory is required")
	}

	if c.Printer.ConnectionTimeout < 0 {
		return fmt.Errorf("connection timeout must be non-negative")
	}

	if c.Printer.AckTimeout < 0 {
		return fmt.Errorf("ack timeout must be non-negative")
	}

	if c.Printer.HealthCheckInterval < 0 {
		return fmt.Errorf("health check interval must be non-negative")
	}

	if c.Scheduler.PollInterval < 0 {
		return fmt.Errorf("scheduler poll interval must be non-negative")
	}

	if c.Webhooks.RetryCount < 0 {
		return fmt.Errorf("webhook retry count must be non-negative")
	}

	if c.Webhooks.RetryDelay < 0 {
		return fmt.Errorf("webhook retry delay must be non-negative")
	}

	if c.Webhooks.WorkerCount < 1 {
		return fmt.Errorf("webhook worker count must be at least 1")
	}

	if c.Webhooks.QueueSize < 1 {
		return fmt.Errorf("webhook queue size must be at least 1")
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}

	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	validFormats := map[string]bool{
		"json":  true,
		"text":  true,
		"plain": true,
	}

	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, text, plain)", c.Logging.Format)
	}

	if c.Metrics.Enabled && c.Metrics.Path == "" {
		return fmt.Errorf("metrics path is required when metrics are enabled")
	}

	if c.Archive.Enabled {
		if c.Archive.Path == "" {
			return fmt.Errorf("archive path is required when archiving is enabled")
		}
		if c.Archive.Days < 1 {
			return fmt.Errorf("archive days must be at least 1")
		}
	}

	return nil
}
