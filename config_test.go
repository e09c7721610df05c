package sessionguard

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "defaults with secrets",
			mutate:    func(c *Config) {},
			wantValid: true,
		},
		{
			name: "jwt leeway invalid",
			mutate: func(c *Config) {
				c.JWT.Leeway = 2 * time.Minute
			},
			wantValid: false,
		},
		{
			name: "access ttl not shorter than refresh",
			mutate: func(c *Config) {
				c.JWT.AccessTTL = c.JWT.RefreshTTL
			},
			wantValid: false,
		},
		{
			name: "family shorter than refresh token",
			mutate: func(c *Config) {
				c.Family.MaxAge = 24 * time.Hour
			},
			wantValid: false,
		},
		{
			name: "rotation timeout zero",
			mutate: func(c *Config) {
				c.Rotation.Timeout = 0
			},
			wantValid: false,
		},
		{
			name: "velocity limit zero",
			mutate: func(c *Config) {
				c.Rotation.MaxRotations = 0
			},
			wantValid: false,
		},
		{
			name: "invalidation factor below one",
			mutate: func(c *Config) {
				c.Ledger.InvalidationFactor = 0.5
			},
			wantValid: false,
		},
		{
			name: "sweeper attempts zero",
			mutate: func(c *Config) {
				c.Sweeper.Attempts = 0
			},
			wantValid: false,
		},
		{
			name: "sweeper backoff above max",
			mutate: func(c *Config) {
				c.Sweeper.RetryBackoff = time.Minute
			},
			wantValid: false,
		},
		{
			name: "redis prefix blank",
			mutate: func(c *Config) {
				c.Redis.Prefix = "  "
			},
			wantValid: false,
		},
		{
			name: "audit buffer zero when enabled",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantValid && err != nil {
				t.Fatalf("expected valid config, got %v", err)
			}
			if !tt.wantValid && err == nil {
				t.Fatal("expected invalid config")
			}
		})
	}
}

func TestDefaultConfigNeedsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret for default config, got %v", err)
	}
}

func TestDefaultConfigValues(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.JWT.AccessTTL != 5*time.Minute || cfg.JWT.RefreshTTL != 7*24*time.Hour {
		t.Fatalf("unexpected token lifetimes %v / %v", cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL)
	}
	if cfg.Family.MaxAge != 30*24*time.Hour || cfg.Family.InactivityTimeout != 30*24*time.Hour {
		t.Fatalf("unexpected family bounds %+v", cfg.Family)
	}
	if cfg.Rotation.MaxRotations != 10 || cfg.Rotation.VelocityWindow != 5*time.Minute || cfg.Rotation.Timeout != 5*time.Second {
		t.Fatalf("unexpected rotation bounds %+v", cfg.Rotation)
	}
	if cfg.Sweeper.Interval != 6*time.Hour || cfg.Sweeper.Attempts != 3 {
		t.Fatalf("unexpected sweeper config %+v", cfg.Sweeper)
	}
}

func TestValidateSecrets(t *testing.T) {
	tests := []struct {
		name    string
		access  string
		refresh string
		wantErr bool
	}{
		{name: "valid", access: testAccessSecret, refresh: testRefreshSecret},
		{name: "upper-case hex", access: strings.ToUpper(testAccessSecret), refresh: testRefreshSecret},
		{name: "access missing", access: "", refresh: testRefreshSecret, wantErr: true},
		{name: "refresh missing", access: testAccessSecret, refresh: "", wantErr: true},
		{name: "63 characters", access: testAccessSecret[:63], refresh: testRefreshSecret, wantErr: true},
		{name: "non-hex", access: strings.Repeat("g", 64), refresh: testRefreshSecret, wantErr: true},
		{name: "identical", access: testAccessSecret, refresh: testAccessSecret, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecrets(tt.access, tt.refresh)
			if tt.wantErr {
				if !errors.Is(err, ErrWeakSecret) {
					t.Fatalf("expected ErrWeakSecret, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
