package config

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// newTestConfig returns a valid Config for validation tests.
func newTestConfig() Config {
	return Config{
		StartupMode: StartupModeStrict,
		DataDir:     "./data",
		Log:         LogConfig{Level: "info"},
		Engine: EngineConfig{
			BlockTTL:       15 * time.Minute,
			QuarantineTTL:  5 * time.Minute,
			ManualBlockTTL: 24 * time.Hour,
			ResponseSLO:    100 * time.Millisecond,
		},
		Detect: DetectConfig{
			DDoSThreshold:   100,
			DDoSWindow:      time.Minute,
			RateLimitMax:    60,
			RateLimitWindow: time.Minute,
		},
		Janitor: JanitorConfig{
			Enabled:     true,
			Interval:    time.Minute,
			DecayFactor: 0.5,
			ScoreFloor:  1.0,
		},
		API: APIConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			RequestsPerSecond: 100,
			Burst:             200,
			MaxBodyBytes:      64 * 1024,
			ShutdownTimeout:   10 * time.Second,
		},
		Auth: AuthConfig{BcryptCost: bcrypt.DefaultCost},
		Storage: StorageConfig{
			Backend:        "sqlite",
			MemoryCapacity: 10000,
			RetryAttempts:  3,
			RetryBackoff:   2 * time.Second,
		},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		Workers: WorkersConfig{Persist: 4, Mirror: 2, QueueSize: 1024},
		Notify:  NotifyConfig{BufferSize: 64},
		Tracing: TracingConfig{ServiceName: "warden", SampleRatio: 1.0},
		Secrets: SecretsConfig{Provider: "env"},
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, StartupModeStrict, cfg.StartupMode)
	assert.Equal(t, "info", cfg.Log.Level)

	assert.Equal(t, 15*time.Minute, cfg.Engine.BlockTTL)
	assert.Equal(t, 5*time.Minute, cfg.Engine.QuarantineTTL)
	assert.Equal(t, 24*time.Hour, cfg.Engine.ManualBlockTTL)
	assert.Equal(t, 100*time.Millisecond, cfg.Engine.ResponseSLO)

	assert.Equal(t, 100, cfg.Detect.DDoSThreshold)
	assert.Equal(t, time.Minute, cfg.Detect.DDoSWindow)

	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.API.Addr())
	assert.False(t, cfg.API.TLS)

	assert.Equal(t, "sqlite", cfg.Storage.Backend)
	assert.Equal(t, filepath.Join("data", "warden.db"), cfg.Storage.SQLite.Path)
	assert.False(t, cfg.Redis.Enabled)
	assert.False(t, cfg.Auth.Enabled)
	assert.Equal(t, "env", cfg.Secrets.Provider)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	viper.Reset()
	t.Setenv("WARDEN_API_PORT", "9090")
	t.Setenv("WARDEN_ENGINE_BLOCK_TTL", "30m")
	t.Setenv("WARDEN_STORAGE_BACKEND", "memory")
	t.Setenv("WARDEN_STARTUP_MODE", "graceful")
	t.Setenv("WARDEN_REDIS_ENABLED", "true")
	t.Setenv("WARDEN_REDIS_ADDR", "redis.internal:6379")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 30*time.Minute, cfg.Engine.BlockTTL)
	assert.Equal(t, "memory", cfg.Storage.Backend)
	assert.Equal(t, StartupModeGraceful, cfg.StartupMode)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr)
}

func TestLoadConfigHashesAPIKey(t *testing.T) {
	viper.Reset()
	t.Setenv("WARDEN_AUTH_ENABLED", "true")
	t.Setenv("WARDEN_AUTH_API_KEY", "operations-rotation-key")
	t.Setenv("WARDEN_AUTH_BCRYPT_COST", "4")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Empty(t, cfg.Auth.APIKey, "plain key must not survive load")
	require.NotEmpty(t, cfg.Auth.APIKeyHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword(
		[]byte(cfg.Auth.APIKeyHash), []byte("operations-rotation-key")))
}

func TestLoadConfigRejectsWeakJWTSecret(t *testing.T) {
	viper.Reset()
	t.Setenv("WARDEN_AUTH_ENABLED", "true")
	t.Setenv("WARDEN_AUTH_JWT_SECRET", "short")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 characters")

	viper.Reset()
	t.Setenv("WARDEN_AUTH_JWT_SECRET", "secret-0123456789-0123456789-0123456789")

	_, err = LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "weak/default value")
}

func TestLoadConfigRequiresCredentialWhenAuthEnabled(t *testing.T) {
	viper.Reset()
	t.Setenv("WARDEN_AUTH_ENABLED", "true")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no JWT secret or API key")
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{
			name:    "invalid startup mode",
			mutate:  func(c *Config) { c.StartupMode = "fast" },
			wantErr: "invalid startup_mode",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Log.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "zero block ttl",
			mutate:  func(c *Config) { c.Engine.BlockTTL = 0 },
			wantErr: "block_ttl must be positive",
		},
		{
			name:    "ddos threshold below one",
			mutate:  func(c *Config) { c.Detect.DDoSThreshold = 0 },
			wantErr: "ddos_threshold",
		},
		{
			name:    "decay factor out of range",
			mutate:  func(c *Config) { c.Janitor.DecayFactor = 1.5 },
			wantErr: "decay_factor",
		},
		{
			name:    "api port out of range",
			mutate:  func(c *Config) { c.API.Port = 70000 },
			wantErr: "invalid API port",
		},
		{
			name:    "tls without cert",
			mutate:  func(c *Config) { c.API.TLS = true },
			wantErr: "requires cert_file",
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "postgres" },
			wantErr: "invalid storage backend",
		},
		{
			name: "mongodb backend with bad uri",
			mutate: func(c *Config) {
				c.Storage.Backend = "mongodb"
				c.Storage.MongoDB = MongoConfig{URI: "localhost:27017", Database: "warden"}
			},
			wantErr: "must start with mongodb://",
		},
		{
			name: "mongodb backend without database",
			mutate: func(c *Config) {
				c.Storage.Backend = "mongodb"
				c.Storage.MongoDB = MongoConfig{URI: "mongodb://localhost:27017"}
			},
			wantErr: "database cannot be empty",
		},
		{
			name: "redis enabled without addr",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Addr = ""
			},
			wantErr: "redis.addr",
		},
		{
			name:    "zero persist workers",
			mutate:  func(c *Config) { c.Workers.Persist = 0 },
			wantErr: "worker counts",
		},
		{
			name: "sample ratio out of range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRatio = 2
			},
			wantErr: "sample_ratio",
		},
		{
			name:    "unsupported secret provider",
			mutate:  func(c *Config) { c.Secrets.Provider = "gcp" },
			wantErr: "unsupported secret provider",
		},
		{
			name: "enabled webhook without url",
			mutate: func(c *Config) {
				c.Notify.Webhooks = []WebhookChannel{{Enabled: true, Type: "webhook"}}
			},
			wantErr: "url cannot be empty",
		},
		{
			name: "webhook with unknown type",
			mutate: func(c *Config) {
				c.Notify.Webhooks = []WebhookChannel{{Enabled: true, Type: "pager", URL: "https://example.com"}}
			},
			wantErr: "invalid type",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := newTestConfig()
			tc.mutate(&cfg)

			err := validateConfig(&cfg)
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestResolvePaths(t *testing.T) {
	cfg := newTestConfig()
	cfg.DataDir = "/var/lib/warden"
	cfg.Storage.SQLite.Path = ""
	cfg.ResolvePaths()
	assert.Equal(t, filepath.Join("/var/lib/warden", "warden.db"), cfg.Storage.SQLite.Path)

	cfg = newTestConfig()
	cfg.Storage.SQLite.Path = "/opt/warden/custom.db"
	cfg.ResolvePaths()
	assert.Equal(t, "/opt/warden/custom.db", cfg.Storage.SQLite.Path)

	cfg = newTestConfig()
	cfg.DataDir = ""
	cfg.Storage.SQLite.Path = ""
	cfg.ResolvePaths()
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, filepath.Join("data", "warden.db"), cfg.Storage.SQLite.Path)
}
