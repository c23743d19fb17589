// Package config loads settings for both binaries: .env first, then an
// optional YAML file, then RESTO_* environment variables.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yeremiapane/restaurant-sync/utils"
)

const EnvPrefix = "RESTO"

type APIConfig struct {
	BaseURL  string `mapstructure:"base_url"`
	Token    string `mapstructure:"token"`
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

type ServerConfig struct {
	Port    string `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
	// RateLimit is requests per second per client IP, 0 disables it.
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
	// CORSOrigin empty echoes the request origin.
	CORSOrigin string `mapstructure:"cors_origin"`
}

type DBConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type JWTConfig struct {
	Secret string `mapstructure:"secret"`
}

type SyncConfig struct {
	PollDegraded      time.Duration `mapstructure:"poll_degraded"`
	PollConnected     time.Duration `mapstructure:"poll_connected"`
	RetryAttempts     int           `mapstructure:"retry_attempts"`
	RetryBackoff      time.Duration `mapstructure:"retry_backoff"`
	AlertTTL          time.Duration `mapstructure:"alert_ttl"`
	KitchenCategories []string      `mapstructure:"kitchen_categories"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

type AMQPConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type Config struct {
	API    APIConfig    `mapstructure:"api"`
	Server ServerConfig `mapstructure:"server"`
	DB     DBConfig     `mapstructure:"db"`
	JWT    JWTConfig    `mapstructure:"jwt"`
	Sync   SyncConfig   `mapstructure:"sync"`
	Redis  RedisConfig  `mapstructure:"redis"`
	AMQP   AMQPConfig   `mapstructure:"amqp"`
	Log    LogConfig    `mapstructure:"log"`
}

// SetDefaults registers every key so AutomaticEnv can override it.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("api.base_url", "http://localhost:8080")
	v.SetDefault("api.token", "")
	v.SetDefault("api.email", "")
	v.SetDefault("api.password", "")

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.gin_mode", "debug")
	v.SetDefault("server.rate_limit", 50)
	v.SetDefault("server.rate_burst", 100)
	v.SetDefault("server.cors_origin", "")

	v.SetDefault("db.driver", "sqlite")
	v.SetDefault("db.dsn", "file:restaurant.db?cache=shared")

	v.SetDefault("jwt.secret", "")

	v.SetDefault("sync.poll_degraded", "10s")
	v.SetDefault("sync.poll_connected", "60s")
	v.SetDefault("sync.retry_attempts", 2)
	v.SetDefault("sync.retry_backoff", "3s")
	v.SetDefault("sync.alert_ttl", "6s")
	v.SetDefault("sync.kitchen_categories", []string{"kitchen", "food", "ingredients"})

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "restaurant:kds")

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.queue", "restaurant.disbursements")

	v.SetDefault("log.level", "info")
}

// New builds a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	// RESTO_SYNC_POLL_DEGRADED for sync.poll_degraded
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads .env (if present) and cfgFile (if given) and decodes the result.
func Load(v *viper.Viper, cfgFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		utils.InfoLogger.Debugf(".env not loaded: %v", err)
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", cfgFile, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.DB.Driver {
	case "mysql", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("db.driver must be mysql or sqlite, got %q", c.DB.Driver))
	}
	if c.Sync.PollDegraded <= 0 && c.Sync.PollConnected <= 0 {
		errs = append(errs, errors.New("sync.poll_degraded and sync.poll_connected cannot both be disabled"))
	}
	if c.Sync.RetryAttempts < 0 {
		errs = append(errs, errors.New("sync.retry_attempts cannot be negative"))
	}
	return errors.Join(errs...)
}
