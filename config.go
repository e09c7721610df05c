package sessionguard

import (
	"errors"
	"strings"
	"time"
)

// Config holds every engine knob. Instances are configured during
// initialization and then treated as immutable.
type Config struct {
	JWT      JWTConfig
	Family   FamilyConfig
	Rotation RotationConfig
	Ledger   LedgerConfig
	Sweeper  SweeperConfig
	Redis    RedisConfig
	Audit    AuditConfig
	Metrics  MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig controls token signing. Both secrets are hex strings of at
// least MinSecretLength characters; see ValidateSecrets.
type JWTConfig struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AccessSecret  string
	RefreshSecret string
	Issuer        string
	Audience      string
	Leeway        time.Duration
}

/*
====================================
FAMILY CONFIG
====================================
*/

// FamilyConfig bounds the life of a session family.
type FamilyConfig struct {
	// MaxAge is the absolute lifetime of a family from login.
	MaxAge time.Duration
	// ExpiredRetention keeps a family hash readable this long past
	// ValidUntil so late rotations report expiry rather than not-found.
	ExpiredRetention time.Duration
	// InactivityTimeout is how long a family may sit unused before the
	// sweeper deletes it.
	InactivityTimeout time.Duration
}

/*
====================================
ROTATION CONFIG
====================================
*/

// RotationConfig bounds a single refresh exchange.
type RotationConfig struct {
	Timeout        time.Duration
	VelocityWindow time.Duration
	MaxRotations   int
}

/*
====================================
LEDGER CONFIG
====================================
*/

// LedgerConfig controls how long invalidation records are kept.
type LedgerConfig struct {
	// RotationBuffer is the fraction of a rotated token's lifetime added
	// past its exp claim.
	RotationBuffer float64
	// InvalidationFactor multiplies the configured TTL for explicit
	// invalidations and family-level records.
	//
	// Records never expire before JWT Leeway has passed after the latest
	// exp they cover, whatever these two values are.
	InvalidationFactor float64
}

/*
====================================
SWEEPER CONFIG
====================================
*/

// SweeperConfig controls the background cleanup loop.
type SweeperConfig struct {
	Interval     time.Duration
	BatchSize    int
	Attempts     int
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
}

/*
====================================
REDIS / AUDIT / METRICS
====================================
*/

type RedisConfig struct {
	Prefix string
}

// AuditConfig controls the buffered audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// MetricsConfig toggles the in-process counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

/*
====================================
DEFAULT CONFIG
====================================
*/

// DefaultConfig returns the production defaults. Secrets are left empty
// and must be supplied.
func DefaultConfig() Config {
	return defaultConfig()
}

func defaultConfig() Config {
	return Config{
		JWT: JWTConfig{
			AccessTTL:  5 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "storefront",
			Audience:   "storefront-api",
			Leeway:     5 * time.Second,
		},
		Family: FamilyConfig{
			MaxAge:            30 * 24 * time.Hour,
			ExpiredRetention:  24 * time.Hour,
			InactivityTimeout: 30 * 24 * time.Hour,
		},
		Rotation: RotationConfig{
			Timeout:        5 * time.Second,
			VelocityWindow: 5 * time.Minute,
			MaxRotations:   10,
		},
		Ledger: LedgerConfig{
			RotationBuffer:     0.2,
			InvalidationFactor: 1.2,
		},
		Sweeper: SweeperConfig{
			Interval:     6 * time.Hour,
			BatchSize:    500,
			Attempts:     3,
			RetryBackoff: 200 * time.Millisecond,
			MaxBackoff:   5 * time.Second,
		},
		Redis: RedisConfig{
			Prefix: "sg",
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	return cfg
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks secrets first and then every duration and bound. The
// first failing rule is returned; secret failures carry ErrWeakSecret.
func (c *Config) Validate() error {
	if err := ValidateSecrets(c.JWT.AccessSecret, c.JWT.RefreshSecret); err != nil {
		return err
	}

	// JWT
	if c.JWT.AccessTTL <= 0 {
		return errors.New("JWT AccessTTL must be > 0")
	}
	if c.JWT.RefreshTTL <= 0 {
		return errors.New("JWT RefreshTTL must be > 0")
	}
	if c.JWT.AccessTTL >= c.JWT.RefreshTTL {
		return errors.New("JWT AccessTTL must be shorter than RefreshTTL")
	}
	if c.JWT.Leeway < 0 || c.JWT.Leeway > time.Minute {
		return errors.New("JWT Leeway must be within [0, 1m]")
	}

	// Family
	if c.Family.MaxAge < c.JWT.RefreshTTL {
		return errors.New("Family MaxAge must be >= JWT RefreshTTL")
	}
	if c.Family.ExpiredRetention < 0 {
		return errors.New("Family ExpiredRetention must be >= 0")
	}
	if c.Family.InactivityTimeout <= 0 {
		return errors.New("Family InactivityTimeout must be > 0")
	}

	// Rotation
	if c.Rotation.Timeout <= 0 {
		return errors.New("Rotation Timeout must be > 0")
	}
	if c.Rotation.VelocityWindow <= 0 {
		return errors.New("Rotation VelocityWindow must be > 0")
	}
	if c.Rotation.MaxRotations <= 0 {
		return errors.New("Rotation MaxRotations must be > 0")
	}

	// Ledger
	if c.Ledger.RotationBuffer < 0 {
		return errors.New("Ledger RotationBuffer must be >= 0")
	}
	if c.Ledger.InvalidationFactor < 1 {
		return errors.New("Ledger InvalidationFactor must be >= 1")
	}

	// Sweeper
	if c.Sweeper.Interval <= 0 {
		return errors.New("Sweeper Interval must be > 0")
	}
	if c.Sweeper.BatchSize <= 0 {
		return errors.New("Sweeper BatchSize must be > 0")
	}
	if c.Sweeper.Attempts < 1 {
		return errors.New("Sweeper Attempts must be >= 1")
	}
	if c.Sweeper.RetryBackoff <= 0 || c.Sweeper.MaxBackoff < c.Sweeper.RetryBackoff {
		return errors.New("Sweeper RetryBackoff must be > 0 and <= MaxBackoff")
	}

	// Redis
	if strings.TrimSpace(c.Redis.Prefix) == "" || strings.ContainsAny(c.Redis.Prefix, " \t\n") {
		return errors.New("Redis Prefix must be non-empty without whitespace")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}

	return nil
}
