package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	LiveRamp LiveRampConfig `yaml:"liveramp"`
	Sync     SyncConfig     `yaml:"sync"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
	LogLevel string         `yaml:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings for the sync single-flight lock.
// Redis is optional; with no address configured the sync lock falls back
// to a PostgreSQL advisory lock.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LiveRampConfig holds LiveRamp Data Marketplace API credentials and endpoints
type LiveRampConfig struct {
	BaseURL        string `yaml:"base_url"`
	TokenURL       string `yaml:"token_url"`
	ClientID       string `yaml:"client_id"`
	SecretKey      string `yaml:"secret_key"`
	AccountID      string `yaml:"account_id"`
	OwnerOrg       string `yaml:"owner_org"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// SyncConfig holds catalog sync pipeline settings
type SyncConfig struct {
	MaxAgeHours        int     `yaml:"max_age_hours"`        // freshness window before a non-forced sync refetches
	PageSize           int     `yaml:"page_size"`            // records per API request, capped at the partner limit
	BatchSize          int     `yaml:"batch_size"`           // records per insert batch
	IntervalMinutes    int     `yaml:"interval_minutes"`     // scheduler poll interval
	Enabled            bool    `yaml:"enabled"`              // run the background scheduler
	CoveragePopulation int64   `yaml:"coverage_population"`  // addressable population for reach→coverage
	CoverageCapPct     float64 `yaml:"coverage_cap_pct"`     // upper bound on the coverage estimate
	LockTTLMinutes     int     `yaml:"lock_ttl_minutes"`
}

// SnapshotConfig holds optional S3 export of sync run summaries
type SnapshotConfig struct {
	Enabled  bool   `yaml:"enabled"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Region string `yaml:"s3_region"`
}

// MaxPageSize is the partner API's own cap on records per request.
// The client never asks for more regardless of configuration.
const MaxPageSize = 100

// Load reads configuration from a YAML file and applies defaults. A missing
// file is not an error: every required value has an environment override, so
// env-only deployments run without shipping a config file at all.
func Load(path string) (*Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDefaults()
			return &cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// LoadFromEnv loads config from a YAML file then applies environment
// overrides (with .env support) for deployment and secrets.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if present (ignore error if it doesn't exist)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if dsn := os.Getenv("DATABASE_URL"); dsn != "" {
		cfg.Database.URL = dsn
	}
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		cfg.Redis.Addr = addr
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		cfg.Server.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if clientID := os.Getenv("LIVERAMP_CLIENT_ID"); clientID != "" {
		cfg.LiveRamp.ClientID = clientID
	}
	if secretKey := os.Getenv("LIVERAMP_SECRET_KEY"); secretKey != "" {
		cfg.LiveRamp.SecretKey = secretKey
	}
	if accountID := os.Getenv("LIVERAMP_ACCOUNT_ID"); accountID != "" {
		cfg.LiveRamp.AccountID = accountID
	}
	if ownerOrg := os.Getenv("LIVERAMP_OWNER_ORG"); ownerOrg != "" {
		cfg.LiveRamp.OwnerOrg = ownerOrg
	}
	if bucket := os.Getenv("SNAPSHOT_S3_BUCKET"); bucket != "" {
		cfg.Snapshot.S3Bucket = bucket
		cfg.Snapshot.Enabled = true
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 20
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.LiveRamp.BaseURL == "" {
		cfg.LiveRamp.BaseURL = "https://api.liveramp.com"
	}
	if cfg.LiveRamp.TokenURL == "" {
		cfg.LiveRamp.TokenURL = "https://serviceaccounts.liveramp.com/authn/v1/oauth2/token"
	}
	if cfg.LiveRamp.TimeoutSeconds == 0 {
		cfg.LiveRamp.TimeoutSeconds = 30
	}
	if cfg.Sync.MaxAgeHours == 0 {
		cfg.Sync.MaxAgeHours = 24
	}
	if cfg.Sync.PageSize == 0 || cfg.Sync.PageSize > MaxPageSize {
		cfg.Sync.PageSize = MaxPageSize
	}
	if cfg.Sync.BatchSize == 0 {
		cfg.Sync.BatchSize = 1000
	}
	if cfg.Sync.IntervalMinutes == 0 {
		cfg.Sync.IntervalMinutes = 60
	}
	if cfg.Sync.CoveragePopulation == 0 {
		cfg.Sync.CoveragePopulation = 250_000_000
	}
	if cfg.Sync.CoverageCapPct == 0 {
		cfg.Sync.CoverageCapPct = 50.0
	}
	if cfg.Sync.LockTTLMinutes == 0 {
		cfg.Sync.LockTTLMinutes = 120
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
}

// Validate checks that everything required to run a sync is present.
func (cfg *Config) Validate() error {
	if cfg.Database.URL == "" {
		return fmt.Errorf("database.url is required")
	}
	if cfg.LiveRamp.ClientID == "" {
		return fmt.Errorf("liveramp.client_id is required")
	}
	if cfg.LiveRamp.SecretKey == "" {
		return fmt.Errorf("liveramp.secret_key is required")
	}
	if cfg.LiveRamp.AccountID == "" {
		return fmt.Errorf("liveramp.account_id is required")
	}
	if cfg.Snapshot.Enabled && cfg.Snapshot.S3Bucket == "" {
		return fmt.Errorf("snapshot.s3_bucket is required when snapshot export is enabled")
	}
	return nil
}

// MaxAge returns the freshness window as a duration.
func (cfg *SyncConfig) MaxAge() time.Duration {
	return time.Duration(cfg.MaxAgeHours) * time.Hour
}

// Interval returns the scheduler poll interval as a duration.
func (cfg *SyncConfig) Interval() time.Duration {
	return time.Duration(cfg.IntervalMinutes) * time.Minute
}

// LockTTL returns the sync lock TTL as a duration.
func (cfg *SyncConfig) LockTTL() time.Duration {
	return time.Duration(cfg.LockTTLMinutes) * time.Minute
}

// Timeout returns the per-request timeout as a duration.
func (cfg *LiveRampConfig) Timeout() time.Duration {
	return time.Duration(cfg.TimeoutSeconds) * time.Second
}
