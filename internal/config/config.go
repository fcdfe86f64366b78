// Package config loads the server configuration from YAML with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the qualifier server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Validator ValidatorConfig `yaml:"validator"`
	Homepage  HomepageConfig  `yaml:"homepage"`
	Cache     CacheConfig     `yaml:"cache"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host            string `yaml:"host"`
	Port            int    `yaml:"port"`
	ShutdownSeconds int    `yaml:"shutdown_seconds"`
	MaxUploadMB     int    `yaml:"max_upload_mb"`
}

// RedisConfig holds the run-state and domain-cache store settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// PostgresConfig holds the optional run-summary database. Empty URL
// disables it.
type PostgresConfig struct {
	URL string `yaml:"url"`
}

// ValidatorConfig tunes DNS validation.
type ValidatorConfig struct {
	TimeoutSeconds int  `yaml:"timeout_seconds"`
	Concurrency    int  `yaml:"concurrency"`
	GeoEnabled     bool `yaml:"geo_enabled"`
}

// HomepageConfig tunes homepage analysis.
type HomepageConfig struct {
	TimeoutSeconds  int `yaml:"timeout_seconds"`
	Concurrency     int `yaml:"concurrency"`
	StrikeThreshold int `yaml:"strike_threshold"`
}

// CacheConfig sets the domain cache TTLs.
type CacheConfig struct {
	AliveTTLHours    int `yaml:"alive_ttl_hours"`
	DeadTTLHours     int `yaml:"dead_ttl_hours"`
	HomepageTTLHours int `yaml:"homepage_ttl_hours"`
}

// StorageConfig selects the export sink: "local" or "s3".
type StorageConfig struct {
	Type      string `yaml:"type"`
	LocalPath string `yaml:"local_path"`
	S3Bucket  string `yaml:"s3_bucket"`
	S3Region  string `yaml:"s3_region"`
	S3Prefix  string `yaml:"s3_prefix"`
}

// LoggingConfig sets the log level and redaction toggle.
type LoggingConfig struct {
	Level     string `yaml:"level"`
	RedactPII bool   `yaml:"redact_pii"`
}

func (v ValidatorConfig) Timeout() time.Duration {
	return time.Duration(v.TimeoutSeconds) * time.Second
}

func (h HomepageConfig) Timeout() time.Duration {
	return time.Duration(h.TimeoutSeconds) * time.Second
}

func (s ServerConfig) ShutdownTimeout() time.Duration {
	return time.Duration(s.ShutdownSeconds) * time.Second
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func (c CacheConfig) AliveTTL() time.Duration {
	return time.Duration(c.AliveTTLHours) * time.Hour
}

func (c CacheConfig) DeadTTL() time.Duration {
	return time.Duration(c.DeadTTLHours) * time.Hour
}

func (c CacheConfig) HomepageTTL() time.Duration {
	return time.Duration(c.HomepageTTLHours) * time.Hour
}

// Load reads the YAML file at path and applies defaults. An empty path
// returns pure defaults; a missing file is an error.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.ShutdownSeconds == 0 {
		cfg.Server.ShutdownSeconds = 15
	}
	if cfg.Server.MaxUploadMB == 0 {
		cfg.Server.MaxUploadMB = 64
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Validator.TimeoutSeconds == 0 {
		cfg.Validator.TimeoutSeconds = 3
	}
	if cfg.Validator.Concurrency == 0 {
		cfg.Validator.Concurrency = 500
	}
	if cfg.Homepage.TimeoutSeconds == 0 {
		cfg.Homepage.TimeoutSeconds = 10
	}
	if cfg.Homepage.Concurrency == 0 {
		cfg.Homepage.Concurrency = 80
	}
	if cfg.Homepage.StrikeThreshold == 0 {
		cfg.Homepage.StrikeThreshold = 3
	}
	if cfg.Cache.AliveTTLHours == 0 {
		cfg.Cache.AliveTTLHours = 7 * 24
	}
	if cfg.Cache.DeadTTLHours == 0 {
		cfg.Cache.DeadTTLHours = 24
	}
	if cfg.Cache.HomepageTTLHours == 0 {
		cfg.Cache.HomepageTTLHours = 72
	}
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "local"
	}
	if cfg.Storage.LocalPath == "" {
		cfg.Storage.LocalPath = "./exports"
	}
	if cfg.Storage.S3Region == "" {
		cfg.Storage.S3Region = "us-east-1"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in
// .env locally and in real env vars in deployment.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if pw := os.Getenv("REDIS_PASSWORD"); pw != "" {
		cfg.Redis.Password = pw
	}
	if db := os.Getenv("REDIS_DB"); db != "" {
		if n, err := strconv.Atoi(db); err == nil {
			cfg.Redis.DB = n
		}
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Postgres.URL = dbURL
	}
	if bucket := os.Getenv("EXPORT_S3_BUCKET"); bucket != "" {
		cfg.Storage.S3Bucket = bucket
		cfg.Storage.Type = "s3"
	}
	if region := os.Getenv("EXPORT_S3_REGION"); region != "" {
		cfg.Storage.S3Region = region
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}
