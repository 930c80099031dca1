package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server struct {
		Port      int
		JWTSecret string `mapstructure:"jwt_secret"`
	}
	Database struct {
		Path string
	}
	Security struct {
		SecretKey string `mapstructure:"secret_key"`
	}
	Mail struct {
		Transport      string
		SMTPHost       string `mapstructure:"smtp_host"`
		SMTPPort       int    `mapstructure:"smtp_port"`
		Username       string
		Password       string
		From           string
		FromName       string `mapstructure:"from_name"`
		SendGridAPIKey string `mapstructure:"sendgrid_api_key"`
	}
	Reports struct {
		CodePrefix       string        `mapstructure:"code_prefix"`
		CodePadding      int           `mapstructure:"code_padding"`
		Timezone         string        `mapstructure:"timezone"`
		QueryConcurrency int           `mapstructure:"query_concurrency"`
		ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	}
	Queue struct {
		Concurrency  int
		PollInterval time.Duration `mapstructure:"poll_interval"`
		MaxAttempts  int           `mapstructure:"max_attempts"`
		Backoff      time.Duration
	}
	Alert struct {
		Slack struct {
			Token   string
			Channel string
		}
		Email struct {
			Receivers []string
		}
	}
	Log struct {
		Level  string
		Format string
	}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("database.path", "data/reportmailer.db")
	v.SetDefault("security.secret_key", "")
	v.SetDefault("mail.transport", "smtp")
	v.SetDefault("mail.smtp_host", "localhost")
	v.SetDefault("mail.smtp_port", 587)
	v.SetDefault("mail.from", "reports@localhost")
	v.SetDefault("mail.from_name", "Reports")
	v.SetDefault("reports.code_prefix", "RPT")
	v.SetDefault("reports.code_padding", 5)
	v.SetDefault("reports.timezone", "UTC")
	v.SetDefault("reports.query_concurrency", 1)
	v.SetDefault("reports.connect_timeout", 3*time.Second)
	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("queue.poll_interval", 5*time.Second)
	v.SetDefault("queue.max_attempts", 3)
	v.SetDefault("queue.backoff", 30*time.Minute)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// LoadConfig loads the configuration from config.yaml, falling back to
// defaults (and writing them out) when no file exists. Environment variables
// prefixed REPORTMAILER_ override file values.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/reportmailer")
	v.SetEnvPrefix("REPORTMAILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// Ensure data directory exists
		if err := os.MkdirAll("data", 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to create data directory: %v\n", err)
		}
		if err := v.SafeWriteConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: Failed to write default config: %v\n", err)
		}
	}

	return decode(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("REPORTMAILER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("error reading config file %s: %w", path, err)
	}
	return decode(v)
}

func decode(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.Mail.Transport {
	case "smtp", "sendgrid":
	default:
		return fmt.Errorf("invalid mail.transport %q: want smtp or sendgrid", c.Mail.Transport)
	}
	if c.Mail.Transport == "sendgrid" && c.Mail.SendGridAPIKey == "" {
		return errors.New("mail.sendgrid_api_key is required for the sendgrid transport")
	}
	if c.Security.SecretKey != "" {
		key, err := hex.DecodeString(c.Security.SecretKey)
		if err != nil || len(key) != 32 {
			return errors.New("security.secret_key must be 64 hex characters")
		}
	}
	if c.Reports.CodePadding <= 0 {
		return fmt.Errorf("reports.code_padding must be positive, got %d", c.Reports.CodePadding)
	}
	if _, err := time.LoadLocation(c.Reports.Timezone); err != nil {
		return fmt.Errorf("invalid reports.timezone %q: %w", c.Reports.Timezone, err)
	}
	if c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue.max_attempts must be positive, got %d", c.Queue.MaxAttempts)
	}
	return nil
}

// Location returns the time zone schedules and date macros are evaluated in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Reports.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
