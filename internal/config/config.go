package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port                  string
	AllowedOrigin         string
	DatabaseURL           string
	RunMigrations         bool
	RedisAddr             string
	RedisPassword         string
	RedisDB               int
	AuthSecret            string
	AccessTokenTTLMinutes int
	LogLevel              string
	LogFormat             string
	PriceFeedURL          string
	PricePollInterval     time.Duration
	PriceChannel          string
	PriceCacheKey         string
	SeedOwnerUsername     string
	SeedOwnerPassword     string
}

// Load reads config.yaml when present, then lets environment variables
// override every key (PORT, DATABASE_URL, AUTH_SECRET, ...).
func Load() (Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("run_migrations", true)
	v.SetDefault("redis_db", 0)
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "json")
	v.SetDefault("price_poll_interval", "5m")
	v.SetDefault("price_channel", "dahab:rates")
	v.SetDefault("price_cache_key", "dahab:rates:latest")
	v.SetDefault("seed_owner_username", "owner")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	tokenTTL := v.GetInt("access_token_ttl_minutes")
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	pollInterval := v.GetDuration("price_poll_interval")
	if pollInterval <= 0 {
		pollInterval = 5 * time.Minute
	}

	return Config{
		Port:                  v.GetString("port"),
		AllowedOrigin:         v.GetString("allowed_origin"),
		DatabaseURL:           strings.TrimSpace(v.GetString("database_url")),
		RunMigrations:         v.GetBool("run_migrations"),
		RedisAddr:             strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:         v.GetString("redis_password"),
		RedisDB:               v.GetInt("redis_db"),
		AuthSecret:            strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes: tokenTTL,
		LogLevel:              v.GetString("log_level"),
		LogFormat:             v.GetString("log_format"),
		PriceFeedURL:          strings.TrimSpace(v.GetString("price_feed_url")),
		PricePollInterval:     pollInterval,
		PriceChannel:          v.GetString("price_channel"),
		PriceCacheKey:         v.GetString("price_cache_key"),
		SeedOwnerUsername:     strings.TrimSpace(v.GetString("seed_owner_username")),
		SeedOwnerPassword:     v.GetString("seed_owner_password"),
	}, nil
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}
