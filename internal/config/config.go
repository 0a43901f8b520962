// Package config handles application configuration loading and validation using Viper.
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the application configuration.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Rewards   RewardsConfig   `mapstructure:"rewards"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Environment    string   `mapstructure:"environment"`
	IdentityHeader string   `mapstructure:"identity_header"` // header carrying the authenticated user id
	AdminUserIDs   []string `mapstructure:"admin_user_ids"`  // callers allowed on /admin routes
}

// DatabaseConfig contains database connection settings for PostgreSQL and Redis.
type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

// PostgresConfig contains PostgreSQL database connection and pool settings.
type PostgresConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	Database        string `mapstructure:"database"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	SSLMode         string `mapstructure:"ssl_mode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"`
}

// RedisConfig contains Redis cache connection settings. An empty host disables the cache.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// RewardsConfig contains point weights and shard settings for the reward engine.
type RewardsConfig struct {
	GeneralSlug            string `mapstructure:"general_slug"`
	DefaultTargetShards    int    `mapstructure:"default_target_shards"`
	LowPriorityPoints      int    `mapstructure:"low_priority_points"`
	MediumPriorityPoints   int    `mapstructure:"medium_priority_points"`
	HighPriorityPoints     int    `mapstructure:"high_priority_points"`
	PomodoroPoints         int    `mapstructure:"pomodoro_points"`
	EndOfDayBonusPercent   int    `mapstructure:"end_of_day_bonus_percent"`
	CatalogCacheTTLSeconds int    `mapstructure:"catalog_cache_ttl"`
}

// CatalogCacheTTL returns the catalog cache TTL as a duration.
func (r RewardsConfig) CatalogCacheTTL() time.Duration {
	return time.Duration(r.CatalogCacheTTLSeconds) * time.Second
}

// SchedulerConfig contains the end-of-day batch scheduling settings.
type SchedulerConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	EndOfDayTime string `mapstructure:"end_of_day_time"` // HH:MM in Timezone
	Timezone     string `mapstructure:"timezone"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig contains Prometheus metrics exporter settings.
type PrometheusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// LoggingConfig contains application logging settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "production")
	v.SetDefault("server.identity_header", "X-User-ID")

	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.ssl_mode", "disable")
	v.SetDefault("database.postgres.max_open_conns", 25)
	v.SetDefault("database.postgres.max_idle_conns", 5)
	v.SetDefault("database.postgres.conn_max_lifetime", 300)
	v.SetDefault("database.redis.port", 6379)
	v.SetDefault("database.redis.pool_size", 10)

	v.SetDefault("rewards.general_slug", "quartz")
	v.SetDefault("rewards.default_target_shards", 10)
	v.SetDefault("rewards.low_priority_points", 1)
	v.SetDefault("rewards.medium_priority_points", 2)
	v.SetDefault("rewards.high_priority_points", 3)
	v.SetDefault("rewards.pomodoro_points", 2)
	v.SetDefault("rewards.end_of_day_bonus_percent", 20)
	v.SetDefault("rewards.catalog_cache_ttl", 3600)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.end_of_day_time", "23:55")
	v.SetDefault("scheduler.timezone", "UTC")

	v.SetDefault("metrics.prometheus.enabled", true)
	v.SetDefault("metrics.prometheus.path", "/metrics")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
}

// Load reads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/gem-progression/")
	}

	// Server configuration
	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.environment", "SERVER_ENVIRONMENT")
	_ = v.BindEnv("server.identity_header", "SERVER_IDENTITY_HEADER")
	_ = v.BindEnv("server.admin_user_ids", "SERVER_ADMIN_USER_IDS")

	// PostgreSQL configuration
	_ = v.BindEnv("database.postgres.host", "POSTGRES_HOST")
	_ = v.BindEnv("database.postgres.port", "POSTGRES_PORT")
	_ = v.BindEnv("database.postgres.database", "POSTGRES_DB")
	_ = v.BindEnv("database.postgres.user", "POSTGRES_USER")
	_ = v.BindEnv("database.postgres.password", "POSTGRES_PASSWORD")
	_ = v.BindEnv("database.postgres.ssl_mode", "POSTGRES_SSL_MODE")
	_ = v.BindEnv("database.postgres.max_open_conns", "POSTGRES_MAX_OPEN_CONNS")
	_ = v.BindEnv("database.postgres.max_idle_conns", "POSTGRES_MAX_IDLE_CONNS")
	_ = v.BindEnv("database.postgres.conn_max_lifetime", "POSTGRES_CONN_MAX_LIFETIME")

	// Redis configuration
	_ = v.BindEnv("database.redis.host", "REDIS_HOST")
	_ = v.BindEnv("database.redis.port", "REDIS_PORT")
	_ = v.BindEnv("database.redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("database.redis.db", "REDIS_DB")
	_ = v.BindEnv("database.redis.pool_size", "REDIS_POOL_SIZE")

	// Reward weights
	_ = v.BindEnv("rewards.general_slug", "REWARDS_GENERAL_SLUG")
	_ = v.BindEnv("rewards.default_target_shards", "REWARDS_DEFAULT_TARGET_SHARDS")
	_ = v.BindEnv("rewards.pomodoro_points", "REWARDS_POMODORO_POINTS")
	_ = v.BindEnv("rewards.end_of_day_bonus_percent", "REWARDS_END_OF_DAY_BONUS_PERCENT")

	// Logging configuration
	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
	_ = v.BindEnv("logging.output", "LOG_OUTPUT")

	// Scheduler configuration
	_ = v.BindEnv("scheduler.enabled", "SCHEDULER_ENABLED")
	_ = v.BindEnv("scheduler.end_of_day_time", "SCHEDULER_END_OF_DAY_TIME")
	_ = v.BindEnv("scheduler.timezone", "SCHEDULER_TIMEZONE")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if c.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if c.Database.Postgres.User == "" {
		return fmt.Errorf("database.postgres.user is required")
	}
	if c.Server.IdentityHeader == "" {
		return fmt.Errorf("server.identity_header is required")
	}
	if c.Rewards.GeneralSlug == "" {
		return fmt.Errorf("rewards.general_slug is required")
	}
	if c.Rewards.DefaultTargetShards < 1 {
		return fmt.Errorf("rewards.default_target_shards must be positive")
	}
	points := map[string]int{
		"rewards.low_priority_points":    c.Rewards.LowPriorityPoints,
		"rewards.medium_priority_points": c.Rewards.MediumPriorityPoints,
		"rewards.high_priority_points":   c.Rewards.HighPriorityPoints,
		"rewards.pomodoro_points":        c.Rewards.PomodoroPoints,
	}
	for key, value := range points {
		if value < 1 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	if c.Rewards.EndOfDayBonusPercent < 0 {
		return fmt.Errorf("rewards.end_of_day_bonus_percent cannot be negative")
	}
	if c.Scheduler.Enabled {
		if _, _, err := c.Scheduler.ClockTime(); err != nil {
			return err
		}
	}
	return nil
}

// GetLocation returns the timezone location.
func (c *SchedulerConfig) GetLocation() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// ClockTime parses EndOfDayTime ("HH:MM") into hour and minute.
func (c *SchedulerConfig) ClockTime() (hour, minute int, err error) {
	parts := strings.Split(c.EndOfDayTime, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time format %q, expected HH:MM", c.EndOfDayTime)
	}

	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", parts[0])
	}

	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", parts[1])
	}

	return hour, minute, nil
}

// CacheEnabled reports whether a Redis host is configured.
func (c *RedisConfig) CacheEnabled() bool {
	return c.Host != ""
}
