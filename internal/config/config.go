// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

const (
	// BackendPebble stores posts in a pebble LSM directory.
	BackendPebble = "pebble"
	// BackendSQL stores posts in a gorm-managed table.
	BackendSQL = "sql"

	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Port           string `mapstructure:"PORT"`
	Env            string `mapstructure:"APP_ENV"`
	AllowedOrigins string `mapstructure:"ALLOWED_ORIGINS"`

	StoreBackend  string `mapstructure:"STORE_BACKEND"`
	StorePath     string `mapstructure:"STORE_PATH"`
	StoreName     string `mapstructure:"STORE_NAME"`
	StoreMaxBytes int64  `mapstructure:"STORE_MAX_BYTES"`
	StoreSync     bool   `mapstructure:"STORE_SYNC"`
	StoreLogging  bool   `mapstructure:"STORE_LOGGING"`

	DBDriver   string `mapstructure:"DB_DRIVER"`
	SQLitePath string `mapstructure:"SQLITE_PATH"`
	DBHost     string `mapstructure:"DB_HOST"`
	DBPort     string `mapstructure:"DB_PORT"`
	DBUser     string `mapstructure:"DB_USER"`
	DBPassword string `mapstructure:"DB_PASSWORD"`
	DBName     string `mapstructure:"DB_NAME"`
	DBSSLMode  string `mapstructure:"DB_SSLMODE"`

	RedisURL        string `mapstructure:"REDIS_URL"`
	CacheTTLSeconds int    `mapstructure:"CACHE_TTL_SECONDS"`

	// Both limits are requests per minute per client IP. Zero disables them.
	RateLimitPerMinute  int  `mapstructure:"RATE_LIMIT_PER_MINUTE"`
	CreatePostRateLimit int  `mapstructure:"CREATE_POST_RATE_LIMIT"`
	RateLimitFailClosed bool `mapstructure:"RATE_LIMIT_FAIL_CLOSED"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.AddConfigPath(".")
	viper.AddConfigPath("..")
	viper.AddConfigPath("../..")
	viper.SetConfigName("config")
	viper.SetConfigType("yml")
	viper.AutomaticEnv()

	// The base config file is optional.
	_ = viper.ReadInConfig()

	env := viper.GetString("APP_ENV")
	if env == "" {
		env = "development"
	}

	if env != "development" {
		viper.SetConfigName("config." + env)
		if err := viper.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) || isProduction(env) {
				return nil, fmt.Errorf("required profile-specific config 'config.%s.yml' not found: %w", env, err)
			}
		} else {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

	setDefaults()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}
	config.StoreBackend = strings.ToLower(strings.TrimSpace(config.StoreBackend))
	config.DBDriver = strings.ToLower(strings.TrimSpace(config.DBDriver))
	config.DBSSLMode = strings.ToLower(strings.TrimSpace(config.DBSSLMode))

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("PORT", "8375")
	viper.SetDefault("APP_ENV", "development")
	viper.SetDefault("ALLOWED_ORIGINS", "http://localhost:5173,http://localhost:3000,http://127.0.0.1:5173")

	viper.SetDefault("STORE_BACKEND", BackendPebble)
	viper.SetDefault("STORE_PATH", "data/posts")
	viper.SetDefault("STORE_NAME", "posts")
	viper.SetDefault("STORE_MAX_BYTES", 0)
	viper.SetDefault("STORE_SYNC", true)
	viper.SetDefault("STORE_LOGGING", false)

	viper.SetDefault("DB_DRIVER", DriverSQLite)
	viper.SetDefault("SQLITE_PATH", "data/posts.db")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_USER", "user")
	viper.SetDefault("DB_PASSWORD", "password")
	viper.SetDefault("DB_NAME", "stableposts")
	viper.SetDefault("DB_SSLMODE", "disable")

	viper.SetDefault("REDIS_URL", "localhost:6379")
	viper.SetDefault("CACHE_TTL_SECONDS", 300)
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 0)
	viper.SetDefault("CREATE_POST_RATE_LIMIT", 0)
	viper.SetDefault("RATE_LIMIT_FAIL_CLOSED", false)

	viper.SetDefault("TRACING_ENABLED", false)
	viper.SetDefault("TRACING_EXPORTER", "stdout")
	viper.SetDefault("OTLP_ENDPOINT", "localhost:4318")
	viper.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// Validate ensures that required configuration values are present and consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	switch c.StoreBackend {
	case BackendPebble:
		if c.StorePath == "" {
			return errors.New("STORE_PATH is required for the pebble backend")
		}
	case BackendSQL:
		if c.DBDriver != DriverSQLite && c.DBDriver != DriverPostgres {
			return fmt.Errorf("DB_DRIVER must be %q or %q, got %q", DriverSQLite, DriverPostgres, c.DBDriver)
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", BackendPebble, BackendSQL, c.StoreBackend)
	}
	if c.StoreName == "" {
		return errors.New("STORE_NAME is required")
	}
	if c.StoreMaxBytes < 0 {
		return errors.New("STORE_MAX_BYTES must not be negative")
	}
	if c.CacheTTLSeconds < 0 {
		return errors.New("CACHE_TTL_SECONDS must not be negative")
	}
	if c.RateLimitPerMinute < 0 || c.CreatePostRateLimit < 0 {
		return errors.New("rate limits must not be negative")
	}
	if c.TracingSamplerRatio < 0 || c.TracingSamplerRatio > 1 {
		return errors.New("TRACING_SAMPLER_RATIO must be between 0 and 1")
	}

	if c.IsProduction() {
		if c.usesPostgres() && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
		if c.usesPostgres() && (c.DBSSLMode == "disable" || c.DBSSLMode == "") {
			log.Println("WARNING: DB_SSLMODE is 'disable' in production. It is highly recommended to use SSL for database connections.")
		}
		if c.AllowedOrigins == "*" {
			log.Println("WARNING: ALLOWED_ORIGINS is set to '*' in production. This is insecure.")
		}
		if !c.StoreSync && c.StoreBackend == BackendPebble {
			log.Println("WARNING: STORE_SYNC is off in production. Acknowledged writes may be lost on a crash.")
		}
	}

	return nil
}

// IsProduction reports whether the config targets a production environment.
func (c *Config) IsProduction() bool {
	return isProduction(c.Env)
}

func (c *Config) usesPostgres() bool {
	return c.StoreBackend == BackendSQL && c.DBDriver == DriverPostgres
}

func isProduction(env string) bool {
	return env == "production" || env == "prod"
}
