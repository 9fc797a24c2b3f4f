package platform

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/txn2/karaoke-live/pkg/audit"
	"github.com/txn2/karaoke-live/pkg/auth"
	khttp "github.com/txn2/karaoke-live/pkg/http"
	"github.com/txn2/karaoke-live/pkg/live"
	"github.com/txn2/karaoke-live/pkg/poller"
	"github.com/txn2/karaoke-live/pkg/ratelimit"
	"github.com/txn2/karaoke-live/pkg/realtime"
)

// CurrentConfigVersion is the only accepted config API version.
const CurrentConfigVersion = "v1"

// EnvPrefix prefixes every environment override, e.g. KARAOKE_SERVER_ADDRESS.
const EnvPrefix = "KARAOKE_"

// Config holds the complete service configuration.
type Config struct {
	APIVersion string           `yaml:"apiVersion"`
	Server     ServerConfig     `yaml:"server" envPrefix:"SERVER_"`
	Logging    LoggingConfig    `yaml:"logging" envPrefix:"LOG_"`
	Database   DatabaseConfig   `yaml:"database" envPrefix:"DATABASE_"`
	Redis      RedisConfig      `yaml:"redis" envPrefix:"REDIS_"`
	Poller     PollerConfig     `yaml:"poller" envPrefix:"POLLER_"`
	Limits     LimitsConfig     `yaml:"limits" envPrefix:"LIMITS_"`
	Storage    StorageConfig    `yaml:"storage" envPrefix:"STORAGE_"`
	Auth       AuthConfig       `yaml:"auth" envPrefix:"AUTH_"`
	PubNub     PubNubConfig     `yaml:"pubnub" envPrefix:"PUBNUB_"`
	Metrics    MetricsConfig    `yaml:"metrics" envPrefix:"METRICS_"`
	Repertoire RepertoireConfig `yaml:"repertoire" envPrefix:"REPERTOIRE_"`
	Audit      audit.Config     `yaml:"audit"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Address           string        `yaml:"address" env:"ADDRESS"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" env:"READ_HEADER_TIMEOUT"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	WriteTimeout      time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`

	// TrustedProxies lists addresses or CIDR prefixes allowed to set
	// X-Forwarded-For. Empty trusts no one.
	TrustedProxies []string `yaml:"trusted_proxies" env:"TRUSTED_PROXIES"`
}

// LoggingConfig selects the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`   // debug, info, warn, error
	Format string `yaml:"format" env:"FORMAT"` // json, text
}

// DatabaseConfig configures PostgreSQL. An empty DSN selects in-memory stores.
type DatabaseConfig struct {
	DSN          string `yaml:"dsn" env:"DSN"`
	MaxOpenConns int    `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	AutoMigrate  bool   `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig configures the shared rate limiter. An empty address selects
// the in-process limiter.
type RedisConfig struct {
	Address   string `yaml:"address" env:"ADDRESS"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// PollerConfig configures active session detection.
type PollerConfig struct {
	Interval time.Duration `yaml:"interval" env:"INTERVAL"`
}

// LimitsConfig configures guest throttling.
type LimitsConfig struct {
	Requests           int           `yaml:"requests" env:"REQUESTS"`
	Window             time.Duration `yaml:"window" env:"WINDOW"`
	MaxKeys            int           `yaml:"max_keys" env:"MAX_KEYS"`
	SweepInterval      time.Duration `yaml:"sweep_interval" env:"SWEEP_INTERVAL"`
	MaxPendingPerGuest int           `yaml:"max_pending_per_guest" env:"MAX_PENDING_PER_GUEST"`
}

// StorageConfig bounds storage calls.
type StorageConfig struct {
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// AuthConfig configures operator and tool credentials.
type AuthConfig struct {
	APIKeys       []auth.APIKey `yaml:"api_keys"`
	JWTIssuer     string        `yaml:"jwt_issuer" env:"JWT_ISSUER"`
	JWTSigningKey string        `yaml:"jwt_signing_key" env:"JWT_SIGNING_KEY"`
}

// PubNubConfig configures the broadcast mirror.
type PubNubConfig struct {
	Enabled       bool   `yaml:"enabled" env:"ENABLED"`
	PublishKey    string `yaml:"publish_key" env:"PUBLISH_KEY"`
	SubscribeKey  string `yaml:"subscribe_key" env:"SUBSCRIBE_KEY"`
	SecretKey     string `yaml:"secret_key" env:"SECRET_KEY"`
	UserID        string `yaml:"user_id" env:"USER_ID"`
	ChannelPrefix string `yaml:"channel_prefix" env:"CHANNEL_PREFIX"`
	QueueSize     int    `yaml:"queue_size" env:"QUEUE_SIZE"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Path string `yaml:"path" env:"PATH"`
}

// RepertoireConfig selects the song catalog. A file seeds the in-memory
// catalog; with a database and Import set, the file is also written to it.
type RepertoireConfig struct {
	File   string `yaml:"file" env:"FILE"`
	Import bool   `yaml:"import" env:"IMPORT"`
}

// LoadConfig loads configuration from a YAML file, then applies
// environment overrides and defaults. An empty path uses only the
// environment.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		// #nosec G304 -- path is from CLI args, controlled by admin
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in the string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// applyDefaults applies default values to the config.
func applyDefaults(cfg *Config) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentConfigVersion
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = ":8080"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = realtime.DefaultWriteTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = "karaoke:rl:"
	}
	if cfg.Poller.Interval == 0 {
		cfg.Poller.Interval = poller.DefaultInterval
	}
	if cfg.Limits.Requests == 0 {
		cfg.Limits.Requests = ratelimit.DefaultLimit
	}
	if cfg.Limits.Window == 0 {
		cfg.Limits.Window = ratelimit.DefaultWindow
	}
	if cfg.Limits.MaxKeys == 0 {
		cfg.Limits.MaxKeys = ratelimit.DefaultMaxKeys
	}
	if cfg.Limits.SweepInterval == 0 {
		cfg.Limits.SweepInterval = cfg.Limits.Window
	}
	if cfg.Limits.MaxPendingPerGuest == 0 {
		cfg.Limits.MaxPendingPerGuest = live.DefaultMaxPendingPerGuest
	}
	if cfg.Storage.Timeout == 0 {
		cfg.Storage.Timeout = live.DefaultStorageTimeout
	}
	if cfg.Auth.JWTIssuer == "" {
		cfg.Auth.JWTIssuer = "karaoke-live"
	}
	if cfg.PubNub.ChannelPrefix == "" {
		cfg.PubNub.ChannelPrefix = "karaoke-"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = 90
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.APIVersion != CurrentConfigVersion {
		errs = append(errs, fmt.Errorf("unsupported apiVersion %q (want %s)", c.APIVersion, CurrentConfigVersion))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q is not json or text", c.Logging.Format))
	}
	if _, err := khttp.ParseTrustedProxies(c.Server.TrustedProxies); err != nil {
		errs = append(errs, fmt.Errorf("server.trusted_proxies: %w", err))
	}
	if c.Server.WriteTimeout < 0 {
		errs = append(errs, errors.New("server.write_timeout must not be negative"))
	}
	if c.Poller.Interval < time.Second {
		errs = append(errs, errors.New("poller.interval must be at least 1s"))
	}
	if c.Limits.Requests < 1 || c.Limits.Window <= 0 {
		errs = append(errs, errors.New("limits.requests and limits.window must be positive"))
	}
	if c.Limits.MaxPendingPerGuest < 1 {
		errs = append(errs, errors.New("limits.max_pending_per_guest must be positive"))
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, errors.New("storage.timeout must be positive"))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, errors.New("redis.db must not be negative"))
	}
	if c.Auth.JWTSigningKey != "" && len(c.Auth.JWTSigningKey) < 32 {
		errs = append(errs, errors.New("auth.jwt_signing_key must be at least 32 bytes"))
	}
	for i, k := range c.Auth.APIKeys {
		if k.Name == "" || (k.Key == "") == (k.KeyHash == "") {
			errs = append(errs, fmt.Errorf("auth.api_keys[%d]: name and exactly one of key or key_hash are required", i))
		}
	}
	if c.PubNub.Enabled && (c.PubNub.PublishKey == "" || c.PubNub.SubscribeKey == "") {
		errs = append(errs, errors.New("pubnub.publish_key and pubnub.subscribe_key are required when pubnub is enabled"))
	}
	if c.Repertoire.Import && (c.Repertoire.File == "" || c.Database.DSN == "") {
		errs = append(errs, errors.New("repertoire.import requires repertoire.file and database.dsn"))
	}
	if !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, errors.New("metrics.path must start with /"))
	}

	return errors.Join(errs...)
}
