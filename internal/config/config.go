package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Queue    QueueConfig    `yaml:"queue"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Dispatch DispatchConfig `yaml:"dispatch"`
	Worker   WorkerConfig   `yaml:"worker"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig locates the durable task store for future dispatch windows
// and A/B follow-ups.
type QueueConfig struct {
	Path string `yaml:"path"`
}

// DefaultsConfig carries tenant-level defaults consumed (not owned) by the
// campaign core.
type DefaultsConfig struct {
	Timezone          string `yaml:"timezone"`
	Page              int    `yaml:"page"`
	PageSize          int    `yaml:"page_size"`
	MinContentLength  int    `yaml:"min_content_length"`
	BatchSize         int    `yaml:"batch_size"`
	BatchDelayMinutes int    `yaml:"batch_delay_minutes"`
	// RecurrenceHorizon caps how many occurrences a recurring schedule
	// expands into when it has no end date.
	RecurrenceHorizon int `yaml:"recurrence_horizon"`
}

type DispatchConfig struct {
	Email EmailDispatchConfig `yaml:"email"`
	SMS   SMSDispatchConfig   `yaml:"sms"`
}

// EmailDispatchConfig points at the SMTP smarthost that relays campaign
// email. DKIM and bounce handling belong to the relay, not to campaignd.
type EmailDispatchConfig struct {
	Addr     string        `yaml:"addr"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Timeout  time.Duration `yaml:"timeout"`
}

// SMSDispatchConfig points at the SMS gateway HTTP API.
type SMSDispatchConfig struct {
	BaseURL string        `yaml:"base_url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// WorkerConfig tunes the schedule runner loop.
type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	Concurrency  int           `yaml:"concurrency"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = ":8090"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "/var/lib/campaignd/app.db"
	}
	if cfg.Queue.Path == "" {
		cfg.Queue.Path = "/var/lib/campaignd/tasks.db"
	}
	if cfg.Defaults.Timezone == "" {
		cfg.Defaults.Timezone = "UTC"
	}
	if cfg.Defaults.Page == 0 {
		cfg.Defaults.Page = 1
	}
	if cfg.Defaults.PageSize == 0 {
		cfg.Defaults.PageSize = 20
	}
	if cfg.Defaults.MinContentLength == 0 {
		cfg.Defaults.MinContentLength = 10
	}
	if cfg.Defaults.BatchSize == 0 {
		cfg.Defaults.BatchSize = 500
	}
	if cfg.Defaults.BatchDelayMinutes == 0 {
		cfg.Defaults.BatchDelayMinutes = 5
	}
	if cfg.Defaults.RecurrenceHorizon == 0 {
		cfg.Defaults.RecurrenceHorizon = 26
	}
	if cfg.Dispatch.Email.Timeout == 0 {
		cfg.Dispatch.Email.Timeout = 30 * time.Second
	}
	if cfg.Dispatch.SMS.Timeout == 0 {
		cfg.Dispatch.SMS.Timeout = 30 * time.Second
	}
	if cfg.Worker.PollInterval == 0 {
		cfg.Worker.PollInterval = 5 * time.Second
	}
	if cfg.Worker.Concurrency == 0 {
		cfg.Worker.Concurrency = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func validate(cfg *Config) error {
	if _, err := time.LoadLocation(cfg.Defaults.Timezone); err != nil {
		return fmt.Errorf("defaults.timezone is not a valid IANA zone: %w", err)
	}
	if cfg.Defaults.PageSize < 1 {
		return fmt.Errorf("defaults.page_size must be positive")
	}
	if cfg.Defaults.BatchSize < 1 {
		return fmt.Errorf("defaults.batch_size must be positive")
	}
	if cfg.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be positive")
	}
	return nil
}
