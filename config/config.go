// Package config loads and validates the warden configuration from an
// optional warden.yaml file and WARDEN_-prefixed environment variables.
package config

import (
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"
)

// StartupMode defines how warden handles initialization failures.
type StartupMode string

const (
	// StartupModeStrict fails fast on any initialization error (default).
	StartupModeStrict StartupMode = "strict"
	// StartupModeGraceful starts with degraded functionality, logging warnings.
	// Storage falls back to memory, the mirror is skipped, tracing is dropped.
	StartupModeGraceful StartupMode = "graceful"
)

// LogConfig controls logger construction in bootstrap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `mapstructure:"level"`
}

// EngineConfig holds the response-engine tunables.
type EngineConfig struct {
	BlockTTL       time.Duration `mapstructure:"block_ttl"`
	QuarantineTTL  time.Duration `mapstructure:"quarantine_ttl"`
	ManualBlockTTL time.Duration `mapstructure:"manual_block_ttl"`
	// ResponseSLO is the reported latency objective for HandleThreat. Breaches
	// are logged and counted, never enforced.
	ResponseSLO time.Duration `mapstructure:"response_slo"`
	// PolicyFile optionally overrides the built-in scoring policy with a YAML
	// policy document.
	PolicyFile string `mapstructure:"policy_file"`
}

// DetectConfig holds detector thresholds and windows.
type DetectConfig struct {
	DDoSThreshold   int           `mapstructure:"ddos_threshold"`
	DDoSWindow      time.Duration `mapstructure:"ddos_window"`
	RateLimitMax    int           `mapstructure:"rate_limit_max"`
	RateLimitWindow time.Duration `mapstructure:"rate_limit_window"`
}

// JanitorConfig controls periodic score decay.
type JanitorConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Interval    time.Duration `mapstructure:"interval"`
	DecayFactor float64       `mapstructure:"decay_factor"`
	ScoreFloor  float64       `mapstructure:"score_floor"`
}

// APIConfig holds the HTTP server settings.
type APIConfig struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	TLS               bool          `mapstructure:"tls"`
	CertFile          string        `mapstructure:"cert_file"`
	KeyFile           string        `mapstructure:"key_file"`
	TrustProxy        bool          `mapstructure:"trust_proxy"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
	Burst             int           `mapstructure:"burst"`
	MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
}

// Addr returns the host:port listen address.
func (a APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// AuthConfig guards the admin containment routes.
type AuthConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	JWTSecret string `mapstructure:"jwt_secret"`
	// APIKey is the plain static admin key. LoadConfig hashes it into
	// APIKeyHash and clears it; it never survives past load.
	APIKey     string `mapstructure:"api_key"`
	APIKeyHash string `mapstructure:"api_key_hash"`
	BcryptCost int    `mapstructure:"bcrypt_cost"`
}

// SQLiteConfig configures the default incident and audit store.
type SQLiteConfig struct {
	// Path is the database file. Empty derives ${data_dir}/warden.db.
	Path string `mapstructure:"path"`
}

// MongoConfig configures the optional MongoDB incident store.
type MongoConfig struct {
	URI         string `mapstructure:"uri"`
	Database    string `mapstructure:"database"`
	MaxPoolSize uint64 `mapstructure:"max_pool_size"`
}

// ClickHouseConfig configures the optional ClickHouse audit store.
type ClickHouseConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Addr        string `mapstructure:"addr"`
	Database    string `mapstructure:"database"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	TLS         bool   `mapstructure:"tls"`
	MaxPoolSize int    `mapstructure:"max_pool_size"`
}

// StorageConfig selects and configures the persistence backends.
type StorageConfig struct {
	// Backend is the incident store: sqlite (default), mongodb, or memory.
	Backend    string           `mapstructure:"backend"`
	SQLite     SQLiteConfig     `mapstructure:"sqlite"`
	MongoDB    MongoConfig      `mapstructure:"mongodb"`
	ClickHouse ClickHouseConfig `mapstructure:"clickhouse"`
	// MemoryCapacity bounds the in-memory fallback stores.
	MemoryCapacity int `mapstructure:"memory_capacity"`
	// RetryAttempts and RetryBackoff control backend connection retries at
	// startup. Backoff doubles per attempt.
	RetryAttempts int           `mapstructure:"retry_attempts"`
	RetryBackoff  time.Duration `mapstructure:"retry_backoff"`
}

// RedisConfig configures the containment propagation mirror.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// WorkersConfig sizes the async worker pools.
type WorkersConfig struct {
	Persist   int `mapstructure:"persist"`
	Mirror    int `mapstructure:"mirror"`
	QueueSize int `mapstructure:"queue_size"`
}

// WebhookChannel configures one outbound notification channel.
type WebhookChannel struct {
	Enabled bool   `mapstructure:"enabled"`
	Type    string `mapstructure:"type"` // webhook or slack
	Name    string `mapstructure:"name"`
	URL     string `mapstructure:"url"`
	Method  string `mapstructure:"method"`
	// MinSeverity filters events below the given severity.
	MinSeverity string            `mapstructure:"min_severity"`
	Headers     map[string]string `mapstructure:"headers"`
}

// NotifyConfig configures event fan-out.
type NotifyConfig struct {
	// BufferSize is the per-subscriber hub buffer.
	BufferSize int              `mapstructure:"buffer_size"`
	Webhooks   []WebhookChannel `mapstructure:"webhooks"`
}

// TracingConfig controls the OpenTelemetry tracer provider.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	ServiceName string  `mapstructure:"service_name"`
	SampleRatio float64 `mapstructure:"sample_ratio"`
}

// VaultConfig configures the HashiCorp Vault secret provider.
type VaultConfig struct {
	Address string `mapstructure:"address"`
	Token   string `mapstructure:"token"`
	Path    string `mapstructure:"path"`
}

// AWSConfig configures the AWS Secrets Manager provider.
type AWSConfig struct {
	Region    string `mapstructure:"region"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	SecretID  string `mapstructure:"secret_id"`
}

// SecretsConfig selects where sensitive values come from.
type SecretsConfig struct {
	// Provider is env (default), vault, or aws.
	Provider string      `mapstructure:"provider"`
	Vault    VaultConfig `mapstructure:"vault"`
	AWS      AWSConfig   `mapstructure:"aws"`
}

// Config holds all configuration for the warden service.
type Config struct {
	// StartupMode controls how initialization failures are handled:
	// strict (default) fails fast, graceful degrades and keeps going.
	StartupMode StartupMode `mapstructure:"startup_mode"`

	// DataDir is the base data directory for file-backed stores.
	DataDir string `mapstructure:"data_dir"`

	Log     LogConfig     `mapstructure:"log"`
	Engine  EngineConfig  `mapstructure:"engine"`
	Detect  DetectConfig  `mapstructure:"detect"`
	Janitor JanitorConfig `mapstructure:"janitor"`
	API     APIConfig     `mapstructure:"api"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Storage StorageConfig `mapstructure:"storage"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Workers WorkersConfig `mapstructure:"workers"`
	Notify  NotifyConfig  `mapstructure:"notify"`
	Tracing TracingConfig `mapstructure:"tracing"`
	Secrets SecretsConfig `mapstructure:"secrets"`
}

func setDefaults() {
	viper.SetDefault("startup_mode", string(StartupModeStrict))
	viper.SetDefault("data_dir", "./data")

	viper.SetDefault("log.level", "info")

	viper.SetDefault("engine.block_ttl", 15*time.Minute)
	viper.SetDefault("engine.quarantine_ttl", 5*time.Minute)
	viper.SetDefault("engine.manual_block_ttl", 24*time.Hour)
	viper.SetDefault("engine.response_slo", 100*time.Millisecond)
	viper.SetDefault("engine.policy_file", "")

	viper.SetDefault("detect.ddos_threshold", 100)
	viper.SetDefault("detect.ddos_window", time.Minute)
	viper.SetDefault("detect.rate_limit_max", 60)
	viper.SetDefault("detect.rate_limit_window", time.Minute)

	viper.SetDefault("janitor.enabled", true)
	viper.SetDefault("janitor.interval", time.Minute)
	viper.SetDefault("janitor.decay_factor", 0.5)
	viper.SetDefault("janitor.score_floor", 1.0)

	viper.SetDefault("api.host", "0.0.0.0")
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("api.tls", false)
	viper.SetDefault("api.cert_file", "server.crt")
	viper.SetDefault("api.key_file", "server.key")
	viper.SetDefault("api.trust_proxy", false)
	viper.SetDefault("api.requests_per_second", 100)
	viper.SetDefault("api.burst", 200)
	viper.SetDefault("api.max_body_bytes", 64*1024)
	viper.SetDefault("api.shutdown_timeout", 10*time.Second)

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwt_secret", "")
	viper.SetDefault("auth.api_key", "")
	viper.SetDefault("auth.api_key_hash", "")
	viper.SetDefault("auth.bcrypt_cost", bcrypt.DefaultCost)

	viper.SetDefault("storage.backend", "sqlite")
	viper.SetDefault("storage.sqlite.path", "") // empty = derive from data_dir
	viper.SetDefault("storage.mongodb.uri", "mongodb://localhost:27017")
	viper.SetDefault("storage.mongodb.database", "warden")
	viper.SetDefault("storage.mongodb.max_pool_size", 10)
	viper.SetDefault("storage.clickhouse.enabled", false)
	viper.SetDefault("storage.clickhouse.addr", "localhost:9000")
	viper.SetDefault("storage.clickhouse.database", "warden")
	viper.SetDefault("storage.clickhouse.username", "default")
	viper.SetDefault("storage.clickhouse.password", "")
	viper.SetDefault("storage.clickhouse.tls", false)
	viper.SetDefault("storage.clickhouse.max_pool_size", 10)
	viper.SetDefault("storage.memory_capacity", 10000)
	viper.SetDefault("storage.retry_attempts", 3)
	viper.SetDefault("storage.retry_backoff", 2*time.Second)

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	viper.SetDefault("workers.persist", 4)
	viper.SetDefault("workers.mirror", 2)
	viper.SetDefault("workers.queue_size", 1024)

	viper.SetDefault("notify.buffer_size", 64)
	viper.SetDefault("notify.webhooks", []WebhookChannel{})

	viper.SetDefault("tracing.enabled", false)
	viper.SetDefault("tracing.service_name", "warden")
	viper.SetDefault("tracing.sample_ratio", 1.0)

	viper.SetDefault("secrets.provider", "env")
	viper.SetDefault("secrets.vault.address", "")
	viper.SetDefault("secrets.vault.token", "")
	viper.SetDefault("secrets.vault.path", "")
	viper.SetDefault("secrets.aws.region", "us-east-1")
	viper.SetDefault("secrets.aws.access_key", "")
	viper.SetDefault("secrets.aws.secret_key", "")
	viper.SetDefault("secrets.aws.secret_id", "")
}

// loadFromEnv sets up environment variable loading. Nested keys map with
// underscores: auth.jwt_secret becomes WARDEN_AUTH_JWT_SECRET.
func loadFromEnv() {
	viper.SetEnvPrefix("WARDEN")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// validateAndHash validates secrets and hashes the plain admin key.
func validateAndHash(config *Config) error {
	if config.Auth.Enabled {
		if config.Auth.JWTSecret == "" && config.Auth.APIKey == "" && config.Auth.APIKeyHash == "" {
			return fmt.Errorf("auth is enabled but no JWT secret or API key is configured")
		}
		if config.Auth.JWTSecret != "" {
			if len(config.Auth.JWTSecret) < 32 {
				return fmt.Errorf("JWT secret must be at least 32 characters (256 bits)")
			}
			weakSecrets := []string{
				"secret", "password", "changeme", "default", "admin",
				"jwt_secret", "supersecret", "mysecret", "test", "example",
			}
			lowerSecret := strings.ToLower(config.Auth.JWTSecret)
			for _, weak := range weakSecrets {
				if strings.Contains(lowerSecret, weak) {
					return fmt.Errorf("JWT secret appears to contain a weak/default value: use a cryptographically secure random string")
				}
			}
		}
	}

	// Hash the plain key if provided and drop the plaintext.
	if config.Auth.APIKey != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(config.Auth.APIKey), config.Auth.BcryptCost)
		if err != nil {
			return fmt.Errorf("failed to hash API key: %w", err)
		}
		config.Auth.APIKeyHash = string(hashed)
		config.Auth.APIKey = ""
	}

	if err := validateConfig(config); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func validateConfig(config *Config) error {
	switch config.StartupMode {
	case "", StartupModeStrict, StartupModeGraceful:
	default:
		return fmt.Errorf("invalid startup_mode: %q (must be strict or graceful)", config.StartupMode)
	}

	switch config.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %q", config.Log.Level)
	}

	if config.Engine.BlockTTL <= 0 {
		return fmt.Errorf("engine.block_ttl must be positive")
	}
	if config.Engine.QuarantineTTL <= 0 {
		return fmt.Errorf("engine.quarantine_ttl must be positive")
	}
	if config.Engine.ManualBlockTTL <= 0 {
		return fmt.Errorf("engine.manual_block_ttl must be positive")
	}

	if config.Detect.DDoSThreshold < 1 {
		return fmt.Errorf("detect.ddos_threshold must be at least 1")
	}
	if config.Detect.DDoSWindow <= 0 {
		return fmt.Errorf("detect.ddos_window must be positive")
	}
	if config.Detect.RateLimitMax < 1 {
		return fmt.Errorf("detect.rate_limit_max must be at least 1")
	}
	if config.Detect.RateLimitWindow <= 0 {
		return fmt.Errorf("detect.rate_limit_window must be positive")
	}

	if config.Janitor.Enabled {
		if config.Janitor.Interval <= 0 {
			return fmt.Errorf("janitor.interval must be positive")
		}
		if config.Janitor.DecayFactor <= 0 || config.Janitor.DecayFactor >= 1 {
			return fmt.Errorf("janitor.decay_factor must be between 0 and 1 exclusive, got %v", config.Janitor.DecayFactor)
		}
	}

	if config.API.Port < 1 || config.API.Port > 65535 {
		return fmt.Errorf("invalid API port: %d (must be 1-65535)", config.API.Port)
	}
	if config.API.Host == "" {
		return fmt.Errorf("api.host cannot be empty")
	}
	if config.API.TLS && (config.API.CertFile == "" || config.API.KeyFile == "") {
		return fmt.Errorf("api.tls requires cert_file and key_file")
	}
	if config.API.RequestsPerSecond <= 0 {
		return fmt.Errorf("api.requests_per_second must be positive")
	}

	if config.Auth.BcryptCost < bcrypt.MinCost || config.Auth.BcryptCost > bcrypt.MaxCost {
		return fmt.Errorf("auth.bcrypt_cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost)
	}

	switch config.Storage.Backend {
	case "sqlite", "mongodb", "memory":
	default:
		return fmt.Errorf("invalid storage backend: %q (must be sqlite, mongodb, or memory)", config.Storage.Backend)
	}
	if config.Storage.Backend == "mongodb" {
		uri := config.Storage.MongoDB.URI
		if !strings.HasPrefix(uri, "mongodb://") && !strings.HasPrefix(uri, "mongodb+srv://") {
			return fmt.Errorf("invalid MongoDB URI: must start with mongodb:// or mongodb+srv://")
		}
		parsed, err := url.Parse(uri)
		if err != nil {
			return fmt.Errorf("invalid MongoDB URI: %w", err)
		}
		if parsed.Host == "" {
			return fmt.Errorf("invalid MongoDB URI: missing host")
		}
		if config.Storage.MongoDB.Database == "" {
			return fmt.Errorf("MongoDB database cannot be empty")
		}
	}
	if config.Storage.ClickHouse.Enabled && config.Storage.ClickHouse.Addr == "" {
		return fmt.Errorf("clickhouse.addr cannot be empty when ClickHouse is enabled")
	}
	if config.Storage.RetryAttempts < 1 {
		return fmt.Errorf("storage.retry_attempts must be at least 1")
	}

	if config.Redis.Enabled && config.Redis.Addr == "" {
		return fmt.Errorf("redis.addr cannot be empty when the mirror is enabled")
	}

	if config.Workers.Persist < 1 || config.Workers.Mirror < 1 {
		return fmt.Errorf("worker counts must be at least 1")
	}
	if config.Workers.QueueSize < 1 {
		return fmt.Errorf("workers.queue_size must be at least 1")
	}

	if config.Tracing.Enabled {
		if config.Tracing.SampleRatio < 0 || config.Tracing.SampleRatio > 1 {
			return fmt.Errorf("tracing.sample_ratio must be between 0 and 1, got %v", config.Tracing.SampleRatio)
		}
	}

	switch config.Secrets.Provider {
	case "", "env", "vault", "aws":
	default:
		return fmt.Errorf("unsupported secret provider: %q", config.Secrets.Provider)
	}

	for i, hook := range config.Notify.Webhooks {
		if !hook.Enabled {
			continue
		}
		if hook.URL == "" {
			return fmt.Errorf("notify.webhooks[%d]: url cannot be empty", i)
		}
		if hook.Type != "webhook" && hook.Type != "slack" {
			return fmt.Errorf("notify.webhooks[%d]: invalid type %q", i, hook.Type)
		}
	}

	return nil
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	viper.SetConfigName("warden")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	setDefaults()
	loadFromEnv()

	if err := viper.ReadInConfig(); err != nil {
		// Config file not found; defaults and env vars apply.
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	// Non-default providers overlay secrets before validation so the rules
	// below see the real values.
	if provider := config.Secrets.Provider; provider != "" && provider != "env" {
		if err := LoadSecrets(&config); err != nil {
			return nil, fmt.Errorf("failed to load secrets from %s: %w", provider, err)
		}
	}

	if err := validateAndHash(&config); err != nil {
		return nil, err
	}

	config.ResolvePaths()
	return &config, nil
}

// ResolvePaths derives file locations from DataDir when not explicitly set.
func (c *Config) ResolvePaths() {
	dataDir := c.DataDir
	if dataDir == "" {
		dataDir = "./data"
		c.DataDir = dataDir
	}
	if c.Storage.SQLite.Path == "" {
		c.Storage.SQLite.Path = filepath.Join(dataDir, "warden.db")
	} else if !filepath.IsAbs(c.Storage.SQLite.Path) {
		c.Storage.SQLite.Path = filepath.Clean(c.Storage.SQLite.Path)
	}
}
