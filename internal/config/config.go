// Package config loads server configuration from a yaml file with
// environment overrides. A .env file is honored when present so local
// setups can keep credentials out of the yaml.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the mailing server.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Redis        RedisConfig        `yaml:"redis"`
	Mail         MailConfig         `yaml:"mail"`
	SMTP         SMTPConfig         `yaml:"smtp"`
	SES          SESConfig          `yaml:"ses"`
	Mailing      MailingConfig      `yaml:"mailing"`
	Subscription SubscriptionConfig `yaml:"subscription"`
	LogLevel     string             `yaml:"log_level"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// RedisConfig holds connection settings for the backing store.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// MailConfig holds mail header and sender-selection settings.
type MailConfig struct {
	From            string `yaml:"from"`
	ListIDPrefix    string `yaml:"list_id_prefix"`
	ListUnsubscribe string `yaml:"list_unsubscribe"`
	FakeSender      bool   `yaml:"fake_sender"`
	RatePerSecond   int    `yaml:"rate_per_second"`
}

// SMTPConfig holds SMTP relay settings.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// SESConfig holds AWS SES credentials. When AccessKey and SecretKey are
// both set the SES transport is used instead of SMTP.
type SESConfig struct {
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
}

// MailingConfig holds execution-engine settings.
type MailingConfig struct {
	MaxEmailsWithoutPause int `yaml:"max_emails_without_pause"`
	PauseDurationSeconds  int `yaml:"pause_duration_seconds"`
	ReceiverBatchSize     int `yaml:"receiver_batch_size"`
	StatsBatchSize        int `yaml:"stats_batch_size"`
}

// SubscriptionConfig holds double-opt-in settings.
type SubscriptionConfig struct {
	TTLSeconds int    `yaml:"ttl_seconds"`
	Subject    string `yaml:"subject"`
	ReplyTo    string `yaml:"reply_to"`
	Template   string `yaml:"template"`
}

// PauseDuration returns the auto-pause sleep as a time.Duration.
func (m MailingConfig) PauseDuration() time.Duration {
	return time.Duration(m.PauseDurationSeconds) * time.Second
}

// TTL returns the subscription-request expiry as a time.Duration.
func (s SubscriptionConfig) TTL() time.Duration {
	return time.Duration(s.TTLSeconds) * time.Second
}

// Load reads configuration from the given yaml file. A missing file is
// not an error: defaults plus environment variables still apply.
func Load(path string) (*Config, error) {
	// Ignore the error: a .env file is optional.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("config: parse %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("BULKPOST_REDIS_ADDR"); v != "" {
		c.Redis.Addr = v
	}
	if v := os.Getenv("BULKPOST_REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("BULKPOST_SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("BULKPOST_SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("BULKPOST_SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("BULKPOST_SES_ACCESS_KEY"); v != "" {
		c.SES.AccessKey = v
	}
	if v := os.Getenv("BULKPOST_SES_SECRET_KEY"); v != "" {
		c.SES.SecretKey = v
	}
	if v := os.Getenv("BULKPOST_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("BULKPOST_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Mail.ListIDPrefix == "" {
		c.Mail.ListIDPrefix = "mailing-"
	}
	if c.SMTP.Port == 0 {
		c.SMTP.Port = 25
	}
	if c.SES.Region == "" {
		c.SES.Region = "us-east-1"
	}
	if c.Mailing.MaxEmailsWithoutPause == 0 {
		c.Mailing.MaxEmailsWithoutPause = 100
	}
	if c.Mailing.PauseDurationSeconds == 0 {
		c.Mailing.PauseDurationSeconds = 60
	}
	if c.Mailing.ReceiverBatchSize == 0 {
		c.Mailing.ReceiverBatchSize = 100
	}
	if c.Mailing.StatsBatchSize == 0 {
		c.Mailing.StatsBatchSize = 1000
	}
	if c.Subscription.TTLSeconds == 0 {
		c.Subscription.TTLSeconds = 3600
	}
	if c.Subscription.Subject == "" {
		c.Subscription.Subject = "Confirm your subscription"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}
