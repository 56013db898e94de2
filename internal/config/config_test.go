package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWithLegacyEnv(t *testing.T) {
	t.Setenv("DB_SOURCE", "postgres://localhost/referrals")
	t.Setenv("REFERRAL_AUTH_JWT_SECRET", "0123456789abcdef0123")
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "postgres://localhost/referrals", cfg.DB.Source)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Storage.Driver)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTL)
	assert.Equal(t, "development", cfg.Env)
	assert.False(t, cfg.RateLimit.TrustProxyHeaders)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte(`
server:
  port: "9090"
storage:
  driver: memory
auth:
  jwt_secret: file-secret-long-enough
cache:
  driver: none
`)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	t.Setenv("REFERRAL_SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "7070", cfg.Server.Port)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Equal(t, "none", cfg.Cache.Driver)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Server:    ServerConfig{Port: "8080"},
			DB:        DBConfig{Source: "postgres://x"},
			Storage:   StorageConfig{Driver: "postgres"},
			Auth:      AuthConfig{JWTSecret: "0123456789abcdef"},
			Cache:     CacheConfig{Driver: "memory"},
			RateLimit: RateLimitConfig{RequestsPerSecond: 1, Burst: 1},
		}
	}

	cases := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"valid", func(*Config) {}, true},
		{"missing db source", func(c *Config) { c.DB.Source = "" }, false},
		{"memory needs no db", func(c *Config) { c.DB.Source = ""; c.Storage.Driver = "memory" }, true},
		{"memory rejected in production", func(c *Config) { c.Storage.Driver = "memory"; c.Env = "production" }, false},
		{"unknown storage", func(c *Config) { c.Storage.Driver = "mongo" }, false},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, false},
		{"unknown cache", func(c *Config) { c.Cache.Driver = "memcached" }, false},
		{"zero burst", func(c *Config) { c.RateLimit.Burst = 0 }, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.ok {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}
}
