package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                "8375",
		Env:                 "development",
		StoreBackend:        BackendPebble,
		StorePath:           "data/posts",
		StoreName:           "posts",
		DBDriver:            DriverSQLite,
		DBPassword:          "password",
		TracingSamplerRatio: 1,
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(c *Config)
		expectError bool
	}{
		{"defaults", func(*Config) {}, false},
		{"missing port", func(c *Config) { c.Port = "" }, true},
		{"unknown backend", func(c *Config) { c.StoreBackend = "bolt" }, true},
		{"pebble without path", func(c *Config) { c.StorePath = "" }, true},
		{"sql with sqlite", func(c *Config) { c.StoreBackend = BackendSQL }, false},
		{"sql with unknown driver", func(c *Config) { c.StoreBackend = BackendSQL; c.DBDriver = "mysql" }, true},
		{"missing store name", func(c *Config) { c.StoreName = "" }, true},
		{"negative capacity", func(c *Config) { c.StoreMaxBytes = -1 }, true},
		{"negative cache ttl", func(c *Config) { c.CacheTTLSeconds = -5 }, true},
		{"negative global rate limit", func(c *Config) { c.RateLimitPerMinute = -1 }, true},
		{"negative create rate limit", func(c *Config) { c.CreatePostRateLimit = -1 }, true},
		{"sampler above one", func(c *Config) { c.TracingSamplerRatio = 1.5 }, true},
		{"production postgres with default password", func(c *Config) {
			c.Env = "production"
			c.StoreBackend = BackendSQL
			c.DBDriver = DriverPostgres
		}, true},
		{"production postgres with strong password", func(c *Config) {
			c.Env = "prod"
			c.StoreBackend = BackendSQL
			c.DBDriver = DriverPostgres
			c.DBPassword = "a-much-stronger-password"
			c.DBSSLMode = "require"
		}, false},
		{"production pebble ignores db password", func(c *Config) { c.Env = "production" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)

			err := c.Validate()
			if tt.expectError {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadConfig_DefaultsAndEnv(t *testing.T) {
	defer viper.Reset()
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORE_BACKEND", "  SQL ")
	t.Setenv("STORE_MAX_BYTES", "4096")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8375", c.Port)
	assert.Equal(t, BackendSQL, c.StoreBackend)
	assert.Equal(t, DriverSQLite, c.DBDriver)
	assert.Equal(t, int64(4096), c.StoreMaxBytes)
	assert.Equal(t, "posts", c.StoreName)
	assert.True(t, c.StoreSync)
	assert.Equal(t, 300, c.CacheTTLSeconds)
	assert.Zero(t, c.RateLimitPerMinute)
	assert.Zero(t, c.CreatePostRateLimit)
	assert.False(t, c.RateLimitFailClosed)
}

func TestLoadConfig_TestProfileIsOptional(t *testing.T) {
	defer viper.Reset()
	t.Setenv("APP_ENV", "test")

	c, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "test", c.Env)
}

func TestLoadConfig_ProductionRequiresProfile(t *testing.T) {
	defer viper.Reset()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	defer func() { _ = os.Chdir(wd) }()

	t.Setenv("APP_ENV", "production")

	_, err = LoadConfig()
	assert.Error(t, err)
}
