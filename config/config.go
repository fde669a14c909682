package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// ServerConfig holds all configuration for the server.
// Tags use mapstructure for Viper unmarshalling.
type ServerConfig struct {
	HTTPPort    string `mapstructure:"HTTP_PORT"`
	MetricsPort string `mapstructure:"METRICS_PORT"`

	MongoURI    string `mapstructure:"MONGO_URI"`
	MongoDBName string `mapstructure:"MONGO_DB_NAME"`

	RedisAddr        string `mapstructure:"REDIS_ADDR"`
	RateLimitBackend string `mapstructure:"RATE_LIMIT_BACKEND"` // "mongo" or "redis"

	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`

	Issuer          string `mapstructure:"ISSUER"`
	CookieSecure    bool   `mapstructure:"COOKIE_SECURE"`
	SessionTTLHours int    `mapstructure:"SESSION_TTL_HOURS"`

	CleanupEnabled     bool `mapstructure:"CLEANUP_ENABLED"`
	CleanupIntervalMin int  `mapstructure:"CLEANUP_INTERVAL_MIN"`
}

// LoadConfig reads configuration from file, environment variables, and defaults.
func LoadConfig() (*ServerConfig, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("/etc/qodari-iam/")
	v.AddConfigPath("$HOME/.qodari-iam")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("HTTP_PORT", "8080")
	v.SetDefault("METRICS_PORT", "9090")
	v.SetDefault("MONGO_URI", "mongodb://localhost:27017/qodari_iam_dev")
	v.SetDefault("MONGO_DB_NAME", "qodari_iam_dev")
	v.SetDefault("REDIS_ADDR", "")
	v.SetDefault("RATE_LIMIT_BACKEND", "mongo")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", true)
	v.SetDefault("ISSUER", "https://iam.qodari.io")
	v.SetDefault("COOKIE_SECURE", true)
	v.SetDefault("SESSION_TTL_HOURS", 168)
	v.SetDefault("CLEANUP_ENABLED", true)
	v.SetDefault("CLEANUP_INTERVAL_MIN", 15)

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine, env vars and defaults still apply.
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	return &cfg, nil
}
