// Package envconfig loads the server's configuration from the environment
// and an optional .env file using Viper.
package envconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/storefront/sessionguard"
)

// Config holds server configuration. Durations accept Go syntax ("15m").
type Config struct {
	// HTTPAddr is the listen address of the HTTP server.
	HTTPAddr string `mapstructure:"HTTP_ADDR"`
	LogLevel string `mapstructure:"LOG_LEVEL"`

	RedisAddr     string `mapstructure:"REDIS_ADDR"`
	RedisPassword string `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int    `mapstructure:"REDIS_DB"`
	RedisPrefix   string `mapstructure:"REDIS_PREFIX"`

	// Secrets are hex strings of at least 64 characters and must differ.
	AccessSecret  string        `mapstructure:"JWT_ACCESS_SECRET"`
	RefreshSecret string        `mapstructure:"JWT_REFRESH_SECRET"`
	Issuer        string        `mapstructure:"JWT_ISSUER"`
	Audience      string        `mapstructure:"JWT_AUDIENCE"`
	AccessTTL     time.Duration `mapstructure:"JWT_ACCESS_TTL"`
	RefreshTTL    time.Duration `mapstructure:"JWT_REFRESH_TTL"`

	FamilyMaxAge        time.Duration `mapstructure:"FAMILY_MAX_AGE"`
	FamilyInactivity    time.Duration `mapstructure:"FAMILY_INACTIVITY_TIMEOUT"`
	RotationTimeout     time.Duration `mapstructure:"ROTATION_TIMEOUT"`
	RotationWindow      time.Duration `mapstructure:"ROTATION_VELOCITY_WINDOW"`
	RotationMax         int           `mapstructure:"ROTATION_MAX"`
	SweepInterval       time.Duration `mapstructure:"SWEEP_INTERVAL"`
	SweepBatchSize      int           `mapstructure:"SWEEP_BATCH_SIZE"`
	AuditLog            bool          `mapstructure:"AUDIT_LOG"`
	LatencyHistograms   bool          `mapstructure:"METRICS_LATENCY"`
	CookieDomain        string        `mapstructure:"COOKIE_DOMAIN"`
	CookieInsecure      bool          `mapstructure:"COOKIE_INSECURE"`
	ShutdownGracePeriod time.Duration `mapstructure:"SHUTDOWN_GRACE_PERIOD"`
}

// Load reads .env (if present), then the environment. Env vars override
// .env. Only the keys with a default below are read.
func Load() (*Config, error) {
	return load(".env")
}

func load(envFile string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(envFile)
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("read %s: %w", envFile, err)
		}
	}

	v.AutomaticEnv()

	def := sessionguard.DefaultConfig()
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_PREFIX", def.Redis.Prefix)
	v.SetDefault("JWT_ACCESS_SECRET", "")
	v.SetDefault("JWT_REFRESH_SECRET", "")
	v.SetDefault("JWT_ISSUER", def.JWT.Issuer)
	v.SetDefault("JWT_AUDIENCE", def.JWT.Audience)
	v.SetDefault("JWT_ACCESS_TTL", def.JWT.AccessTTL)
	v.SetDefault("JWT_REFRESH_TTL", def.JWT.RefreshTTL)
	v.SetDefault("FAMILY_MAX_AGE", def.Family.MaxAge)
	v.SetDefault("FAMILY_INACTIVITY_TIMEOUT", def.Family.InactivityTimeout)
	v.SetDefault("ROTATION_TIMEOUT", def.Rotation.Timeout)
	v.SetDefault("ROTATION_VELOCITY_WINDOW", def.Rotation.VelocityWindow)
	v.SetDefault("ROTATION_MAX", def.Rotation.MaxRotations)
	v.SetDefault("SWEEP_INTERVAL", def.Sweeper.Interval)
	v.SetDefault("SWEEP_BATCH_SIZE", def.Sweeper.BatchSize)
	v.SetDefault("AUDIT_LOG", true)
	v.SetDefault("METRICS_LATENCY", true)
	v.SetDefault("COOKIE_DOMAIN", "")
	v.SetDefault("COOKIE_INSECURE", false)
	v.SetDefault("SHUTDOWN_GRACE_PERIOD", 15*time.Second)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if strings.TrimSpace(cfg.HTTPAddr) == "" {
		return nil, errors.New("config: HTTP_ADDR must be set")
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil, errors.New("config: REDIS_ADDR must be set")
	}
	return &cfg, nil
}

// Engine maps the server configuration onto the engine's. The result is
// validated by the engine builder, secrets first.
func (c *Config) Engine() sessionguard.Config {
	cfg := sessionguard.DefaultConfig()
	cfg.JWT.AccessSecret = c.AccessSecret
	cfg.JWT.RefreshSecret = c.RefreshSecret
	cfg.JWT.Issuer = c.Issuer
	cfg.JWT.Audience = c.Audience
	cfg.JWT.AccessTTL = c.AccessTTL
	cfg.JWT.RefreshTTL = c.RefreshTTL
	cfg.Family.MaxAge = c.FamilyMaxAge
	cfg.Family.InactivityTimeout = c.FamilyInactivity
	cfg.Rotation.Timeout = c.RotationTimeout
	cfg.Rotation.VelocityWindow = c.RotationWindow
	cfg.Rotation.MaxRotations = c.RotationMax
	cfg.Sweeper.Interval = c.SweepInterval
	cfg.Sweeper.BatchSize = c.SweepBatchSize
	cfg.Redis.Prefix = c.RedisPrefix
	cfg.Audit.Enabled = c.AuditLog
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = c.LatencyHistograms
	return cfg
}

// Level parses LOG_LEVEL; unknown values fall back to info.
func (c *Config) Level() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
