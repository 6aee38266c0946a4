package config

import (
	"log"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

type MQConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type SMTPConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	User          string `yaml:"user"`
	Password      string `yaml:"password"`
	From          string `yaml:"from"`
	SkipTLSVerify bool   `yaml:"skip_tls_verify"`
}

type PushConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
}

// HealthThresholds drive queue-health assessment. Failure rates are fractions
// (0.2 means 20%).
type HealthThresholds struct {
	PendingWarning      int     `yaml:"pending_warning"`
	PendingCritical     int     `yaml:"pending_critical"`
	FailureRateWarning  float64 `yaml:"failure_rate_warning"`
	FailureRateCritical float64 `yaml:"failure_rate_critical"`
}

type DeliveryConfig struct {
	MaxAttempts       int              `yaml:"max_attempts"`
	RetryDelayMinutes int              `yaml:"retry_delay_minutes"`
	BatchSize         int              `yaml:"batch_size"`
	Concurrency       int              `yaml:"concurrency"`
	IntervalSeconds   int              `yaml:"interval_seconds"`
	StaleAfterMinutes int              `yaml:"stale_after_minutes"`
	LogRetentionDays  int              `yaml:"log_retention_days"`
	Health            HealthThresholds `yaml:"health"`
}

type ServerConfig struct {
	MetricsPort string `yaml:"metrics_port"`
}

type Config struct {
	DB       DBConfig       `yaml:"db"`
	MQ       MQConfig       `yaml:"mq"`
	Redis    RedisConfig    `yaml:"redis"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Push     PushConfig     `yaml:"push"`
	Delivery DeliveryConfig `yaml:"delivery"`
	Server   ServerConfig   `yaml:"server"`
}

func Load() *Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}

	f, err := os.Open(path)
	if err != nil {
		log.Fatalf("failed to open %s: %v", path, err)
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		log.Fatalf("failed to decode %s: %v", path, err)
	}

	applyDefaults(&cfg)
	overrideFromEnv(&cfg)

	return &cfg
}

func applyDefaults(cfg *Config) {
	d := &cfg.Delivery
	if d.MaxAttempts == 0 {
		d.MaxAttempts = 3
	}
	if d.RetryDelayMinutes == 0 {
		d.RetryDelayMinutes = 5
	}
	if d.BatchSize == 0 {
		d.BatchSize = 50
	}
	if d.Concurrency == 0 {
		d.Concurrency = 4
	}
	if d.IntervalSeconds == 0 {
		d.IntervalSeconds = 60
	}
	if d.StaleAfterMinutes == 0 {
		d.StaleAfterMinutes = 15
	}
	if d.LogRetentionDays == 0 {
		d.LogRetentionDays = 90
	}
	if d.Health.PendingWarning == 0 {
		d.Health.PendingWarning = 500
	}
	if d.Health.PendingCritical == 0 {
		d.Health.PendingCritical = 1000
	}
	if d.Health.FailureRateWarning == 0 {
		d.Health.FailureRateWarning = 0.10
	}
	if d.Health.FailureRateCritical == 0 {
		d.Health.FailureRateCritical = 0.20
	}
	if cfg.SMTP.Port == 0 {
		cfg.SMTP.Port = 587
	}
	if cfg.Server.MetricsPort == "" {
		cfg.Server.MetricsPort = "9090"
	}
}

func overrideFromEnv(cfg *Config) {
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DB.Host = host
	}
	if port := os.Getenv("DB_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.DB.Port = p
		}
	}
	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DB.User = user
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DB.Password = password
	}
	if name := os.Getenv("DB_NAME"); name != "" {
		cfg.DB.Name = name
	}

	if url := os.Getenv("MQ_URL"); url != "" {
		cfg.MQ.URL = url
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.Redis.Password = password
	}

	if host := os.Getenv("SMTP_HOST"); host != "" {
		cfg.SMTP.Host = host
	}
	if port := os.Getenv("SMTP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.SMTP.Port = p
		}
	}
	if user := os.Getenv("SMTP_USER"); user != "" {
		cfg.SMTP.User = user
	}
	if pass := os.Getenv("SMTP_PASS"); pass != "" {
		cfg.SMTP.Password = pass
	}
	if from := os.Getenv("SMTP_FROM"); from != "" {
		cfg.SMTP.From = from
	}

	if creds := os.Getenv("PUSH_CREDENTIALS_FILE"); creds != "" {
		cfg.Push.CredentialsFile = creds
	}
}
