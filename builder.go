package sessionguard

import (
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/storefront/sessionguard/internal"
	internalaudit "github.com/storefront/sessionguard/internal/audit"
	"github.com/storefront/sessionguard/internal/flows"
	"github.com/storefront/sessionguard/jwt"
	"github.com/storefront/sessionguard/ledger"
	"github.com/storefront/sessionguard/session"
)

// Builder assembles an Engine. A Builder is single-use.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	logger    *slog.Logger
	auditSink AuditSink
	now       func() time.Time

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis sets the store client. Single-node and Sentinel clients are
// supported; the rotation script touches keys it derives at run time.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now for token timestamps and family state.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration, secrets first, and wires the stores,
// the token manager and the flow service. Weak secrets fail with
// ErrWeakSecret before any other check.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.redis == nil {
		return nil, errors.New("redis client required")
	}

	now := b.now
	if now == nil {
		now = time.Now
	}
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	// -------- STORES --------
	inv := ledger.New(b.redis, cfg.Redis.Prefix)
	families := session.NewStore(b.redis, cfg.Redis.Prefix, cfg.Family.ExpiredRetention, inv)

	// -------- TOKENS --------
	jm, err := jwt.NewManager(jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		RefreshTTL:    cfg.JWT.RefreshTTL,
		AccessSecret:  []byte(cfg.JWT.AccessSecret),
		RefreshSecret: []byte(cfg.JWT.RefreshSecret),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		Now:           now,
	})
	if err != nil {
		return nil, ErrIssuance.wrap(err)
	}

	engine := &Engine{
		config:   cfg,
		ledger:   inv,
		families: families,
		tokens:   jm,
		logger:   logger,
		now:      now,
	}
	engine.audit = internalaudit.NewDispatcher(internalaudit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
		Critical:   criticalAuditEvents,
	}, b.auditSink)
	engine.metrics = NewMetrics(cfg.Metrics)

	logoutDeps := flows.LogoutDeps{
		Tokens:       jm,
		Ledger:       inv,
		Families:     families,
		Now:          now,
		ExpiryFactor: cfg.Ledger.InvalidationFactor,
		Leeway:       cfg.JWT.Leeway,
	}
	engine.flow = flows.New(flows.Deps{
		Issue: flows.IssueDeps{
			Tokens:       jm,
			Families:     families,
			NewFamilyID:  newFamilyID,
			NewTokenID:   internal.NewTokenID,
			Now:          now,
			MaxFamilyAge: cfg.Family.MaxAge,
		},
		Verify: flows.VerifyDeps{
			Tokens:   jm,
			Ledger:   inv,
			Families: families,
			Now:      now,
		},
		Rotate: flows.RotateDeps{
			Tokens:         jm,
			Families:       families,
			NewTokenID:     internal.NewTokenID,
			Now:            now,
			Timeout:        cfg.Rotation.Timeout,
			VelocityWindow: cfg.Rotation.VelocityWindow,
			MaxRotations:   cfg.Rotation.MaxRotations,
			LedgerBuffer:   cfg.Ledger.RotationBuffer,
			Leeway:         cfg.JWT.Leeway,

			FamilyLedgerFactor: cfg.Ledger.InvalidationFactor,
		},
		Logout: logoutDeps,
		Introspection: flows.IntrospectionDeps{
			Families:          families,
			Now:               now,
			EngineNotReadyErr: ErrEngineNotReady,
			UserNotFoundErr:   ErrInvalidRequest,
		},
	})

	b.built = true

	return engine, nil
}

func newFamilyID() (string, error) {
	fid, err := internal.NewFamilyID()
	if err != nil {
		return "", err
	}
	return fid.String(), nil
}
