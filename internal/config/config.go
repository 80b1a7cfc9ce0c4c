// Package config loads worchflow's TOML configuration with environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for a worchflow deployment.
type Config struct {
	QueuePrefix string          `toml:"queue_prefix"`
	Redis       RedisConfig     `toml:"redis"`
	Surreal     SurrealConfig   `toml:"surreal"`
	Worker      WorkerConfig    `toml:"worker"`
	Scheduler   SchedulerConfig `toml:"scheduler"`
	Dashboard   DashboardConfig `toml:"dashboard"`
	Logging     LoggingConfig   `toml:"logging"`
}

// RedisConfig configures the KV/queue store connection.
type RedisConfig struct {
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// SurrealConfig configures the document store connection.
type SurrealConfig struct {
	Endpoint  string `toml:"endpoint"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
}

// WorkerConfig configures the worker pool.
type WorkerConfig struct {
	Concurrency int `toml:"concurrency"`
}

// SchedulerConfig configures leader election and cron behavior.
type SchedulerConfig struct {
	LeaderElection       bool   `toml:"leader_election"`
	LeaderTTL            string `toml:"leader_ttl"`             // duration string, default "60s"
	LeaderCheckInterval  string `toml:"leader_check_interval"`  // duration string, default "30s"
}

// GetLeaderTTL parses LeaderTTL, falling back to 60s.
func (c *SchedulerConfig) GetLeaderTTL() time.Duration {
	d, err := time.ParseDuration(c.LeaderTTL)
	if err != nil || d <= 0 {
		return 60 * time.Second
	}
	return d
}

// GetLeaderCheckInterval parses LeaderCheckInterval, falling back to 30s.
func (c *SchedulerConfig) GetLeaderCheckInterval() time.Duration {
	d, err := time.ParseDuration(c.LeaderCheckInterval)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// DashboardConfig configures the monitoring HTTP API.
type DashboardConfig struct {
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	JWTSecret     string `toml:"jwt_secret"`
	AdminPassword string `toml:"admin_password"`
}

// LoggingConfig configures the logger.
type LoggingConfig struct {
	Level string `toml:"level"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		QueuePrefix: "worchflow",
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Surreal: SurrealConfig{
			Endpoint:  "ws://localhost:8000/rpc",
			Namespace: "worchflow",
			Database:  "worchflow",
			Username:  "root",
			Password:  "root",
		},
		Worker: WorkerConfig{
			Concurrency: 5,
		},
		Scheduler: SchedulerConfig{
			LeaderElection:      true,
			LeaderTTL:           "60s",
			LeaderCheckInterval: "30s",
		},
		Dashboard: DashboardConfig{
			Host:          "0.0.0.0",
			Port:          8088,
			JWTSecret:     "dev-jwt-secret-change-in-production",
			AdminPassword: "dev-admin-change-in-production",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfig loads configuration from files (later files override earlier
// ones) and then applies environment overrides.
func LoadConfig(paths ...string) (*Config, error) {
	cfg := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("WORCHFLOW_QUEUE_PREFIX"); v != "" {
		cfg.QueuePrefix = v
	}
	if v := os.Getenv("WORCHFLOW_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("WORCHFLOW_SURREAL_ADDR"); v != "" {
		cfg.Surreal.Endpoint = v
	}
	if v := os.Getenv("WORCHFLOW_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Worker.Concurrency = n
		}
	}
	if v := os.Getenv("WORCHFLOW_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("WORCHFLOW_LEADER_ELECTION"); v != "" {
		cfg.Scheduler.LeaderElection = v == "true" || v == "1"
	}
	if v := os.Getenv("WORCHFLOW_LEADER_TTL"); v != "" {
		cfg.Scheduler.LeaderTTL = v
	}
	if v := os.Getenv("WORCHFLOW_LEADER_CHECK_INTERVAL"); v != "" {
		cfg.Scheduler.LeaderCheckInterval = v
	}
	if v := os.Getenv("WORCHFLOW_DASHBOARD_JWT_SECRET"); v != "" {
		cfg.Dashboard.JWTSecret = v
	}
	if v := os.Getenv("WORCHFLOW_DASHBOARD_ADMIN_PASSWORD"); v != "" {
		cfg.Dashboard.AdminPassword = v
	}
}
