// Package config handles TOML configuration for driftwatch.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config is the root configuration structure.
type Config struct {
	AWS       AWSConfig       `toml:"aws"`
	State     StateConfig     `toml:"state"`
	Scanner   ScannerConfig   `toml:"scanner"`
	Storage   StorageConfig   `toml:"storage"`
	Rules     RulesConfig     `toml:"rules"`
	Normalize NormalizeConfig `toml:"normalize"`
	Notify    NotifyConfig    `toml:"notify"`
	API       APIConfig       `toml:"api"`
	OTEL      OTELConfig      `toml:"otel"`
	Log       LogConfig       `toml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Regions []string `toml:"regions" validate:"dive,required"`
	Profile string   `toml:"profile"`

	// ResourceTypes restricts scanning to these Terraform types. Empty scans every supported type.
	ResourceTypes []string `toml:"resource_types"`
}

// StateConfig says where the Terraform state lives: a local path or an S3 object.
type StateConfig struct {
	Path     string `toml:"path"`
	S3Bucket string `toml:"s3_bucket"`
	S3Key    string `toml:"s3_key"`
	S3Region string `toml:"s3_region"`
	// DefaultRegion is used for state resources that carry no region.
	DefaultRegion string `toml:"default_region"`
}

// ScannerConfig holds scan scheduling settings.
type ScannerConfig struct {
	IntervalStr string        `toml:"interval"`
	Interval    time.Duration `toml:"-"`
	AutoScan    bool          `toml:"auto_scan"`
	RunOnStart  bool          `toml:"run_on_start"`
	Demo        bool          `toml:"demo"`
	FixturesDir string        `toml:"fixtures_dir"`
}

// StorageConfig selects the persistence backend.
type StorageConfig struct {
	Backend         string `toml:"backend" validate:"oneof=bolt sqlite"`
	Path            string `toml:"path" validate:"required"`
	MaxScanHistory  int    `toml:"max_scan_history" validate:"gte=0"`
	MaxAlertHistory int    `toml:"max_alert_history" validate:"gte=0"`
}

// RulesConfig locates the severity rule table.
type RulesConfig struct {
	Path        string `toml:"path"`
	PoliciesDir string `toml:"policies_dir"`
	Watch       bool   `toml:"watch"`
}

// NormalizeConfig holds comparison exclusions.
type NormalizeConfig struct {
	IgnoreTags      []string `toml:"ignore_tags"`
	IgnoreResources []string `toml:"ignore_resources"`
}

// NotifyConfig holds notification sinks.
type NotifyConfig struct {
	MinSeverity string        `toml:"min_severity" validate:"omitempty,oneof=CRITICAL HIGH MEDIUM LOW"`
	Webhook     WebhookConfig `toml:"webhook"`
	NATS        NATSConfig    `toml:"nats"`
	Journal     JournalConfig `toml:"journal"`
}

// WebhookConfig holds the HTTP notification sink.
type WebhookConfig struct {
	URL        string        `toml:"url" validate:"omitempty,url"`
	Secret     string        `toml:"secret"`
	TimeoutStr string        `toml:"timeout"`
	Timeout    time.Duration `toml:"-"`
}

// NATSConfig holds the NATS notification sink.
type NATSConfig struct {
	URL     string `toml:"url"`
	Subject string `toml:"subject"`
}

// JournalConfig holds the on-disk notification journal. An empty dir disables it.
type JournalConfig struct {
	Dir           string `toml:"dir"`
	MaxFileMB     int    `toml:"max_file_mb" validate:"gte=0"`
	RetentionDays int    `toml:"retention_days" validate:"gte=0"`
}

// APIConfig holds the HTTP API settings.
type APIConfig struct {
	Addr string `toml:"addr" validate:"required"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint"`
	Insecure    bool          `toml:"insecure"`
	ServiceName string        `toml:"service_name"`
	Traces      TracesConfig  `toml:"traces"`
	Metrics     MetricsConfig `toml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled"`
	SampleRate float64 `toml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=json console"`
}

// Load reads and parses a TOML config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes TOML, applies defaults and parses durations.
func Parse(data string) (*Config, error) {
	cfg := &Config{}
	meta, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("parse config: unknown key %q", undecoded[0].String())
	}

	applyDefaults(cfg, meta)

	if err := parseDurations(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg, toml.MetaData{})
	_ = parseDurations(cfg)
	return cfg
}

func applyDefaults(cfg *Config, meta toml.MetaData) {
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "driftwatch"
	}
	if cfg.Scanner.IntervalStr == "" {
		cfg.Scanner.IntervalStr = "5m"
	}
	if !meta.IsDefined("scanner", "auto_scan") {
		cfg.Scanner.AutoScan = true
	}
	if !meta.IsDefined("scanner", "run_on_start") {
		cfg.Scanner.RunOnStart = true
	}
	if cfg.Scanner.FixturesDir == "" {
		cfg.Scanner.FixturesDir = "fixtures"
	}
	if cfg.State.DefaultRegion == "" && len(cfg.AWS.Regions) > 0 {
		cfg.State.DefaultRegion = cfg.AWS.Regions[0]
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "bolt"
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "data/driftwatch.db"
	}
	if !meta.IsDefined("storage", "max_scan_history") {
		cfg.Storage.MaxScanHistory = 100
	}
	if !meta.IsDefined("storage", "max_alert_history") {
		cfg.Storage.MaxAlertHistory = 500
	}
	if !meta.IsDefined("normalize", "ignore_tags") {
		cfg.Normalize.IgnoreTags = []string{"LastModified", "CreatedBy"}
	}
	if cfg.Notify.Webhook.TimeoutStr == "" {
		cfg.Notify.Webhook.TimeoutStr = "10s"
	}
	if cfg.Notify.NATS.Subject == "" {
		cfg.Notify.NATS.Subject = "driftwatch.alerts"
	}
	if !meta.IsDefined("notify", "journal", "max_file_mb") {
		cfg.Notify.Journal.MaxFileMB = 64
	}
	if !meta.IsDefined("notify", "journal", "retention_days") {
		cfg.Notify.Journal.RetentionDays = 30
	}
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}

func parseDurations(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Scanner.IntervalStr)
	if err != nil {
		return fmt.Errorf("parse interval %q: %w", cfg.Scanner.IntervalStr, err)
	}
	cfg.Scanner.Interval = d

	t, err := time.ParseDuration(cfg.Notify.Webhook.TimeoutStr)
	if err != nil {
		return fmt.Errorf("parse webhook timeout %q: %w", cfg.Notify.Webhook.TimeoutStr, err)
	}
	cfg.Notify.Webhook.Timeout = t
	return nil
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.Scanner.Interval <= 0 {
		return fmt.Errorf("scanner: interval must be positive (got %s)", c.Scanner.Interval)
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)
	}

	if c.Scanner.Demo {
		if c.Scanner.FixturesDir == "" {
			return errors.New("scanner: demo mode requires fixtures_dir")
		}
		return nil
	}

	if len(c.AWS.Regions) == 0 {
		return errors.New("aws: at least one region required")
	}
	hasPath := c.State.Path != ""
	hasS3 := c.State.S3Bucket != "" || c.State.S3Key != ""
	switch {
	case hasPath && hasS3:
		return errors.New("state: set either path or s3_bucket/s3_key, not both")
	case !hasPath && !hasS3:
		return errors.New("state: path or s3_bucket/s3_key required")
	case hasS3 && (c.State.S3Bucket == "" || c.State.S3Key == ""):
		return errors.New("state: s3_bucket and s3_key are both required")
	}
	return nil
}
