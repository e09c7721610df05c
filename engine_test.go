package sessionguard

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var (
	testAccessSecret  = strings.Repeat("a1", 32)
	testRefreshSecret = strings.Repeat("b2", 32)
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return mr, client
}

func testConfig() Config {
	cfg := defaultConfig()
	cfg.JWT.AccessSecret = testAccessSecret
	cfg.JWT.RefreshSecret = testRefreshSecret
	cfg.Metrics.Enabled = true
	return cfg
}

// testClock is a settable clock shared by the engine and the test.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Now().Truncate(time.Millisecond)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newEngine(t *testing.T, cfg Config, clock *testClock) (*Engine, *redis.Client) {
	t.Helper()

	_, rdb := newTestRedis(t)
	b := New().WithConfig(cfg).WithRedis(rdb)
	if clock != nil {
		b = b.WithClock(clock.Now)
	}
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine, rdb
}

func laptop() RequestMetadata {
	return RequestMetadata{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0",
		Platform:       "Linux",
		Timezone:       "Europe/Berlin",
		ClientIP:       "203.0.113.10",
		AcceptLanguage: "en-US,en;q=0.9",
		AcceptEncoding: "gzip, br",
		DeviceID:       "laptop-1",
	}
}

func phone() RequestMetadata {
	return RequestMetadata{
		UserAgent:      "Mozilla/5.0 (iPhone; CPU iPhone OS 17_4 like Mac OS X) AppleWebKit/605.1.15 Mobile/15E148 Safari/604.1",
		Platform:       "iOS",
		Timezone:       "Asia/Tokyo",
		ClientIP:       "198.51.100.7",
		AcceptLanguage: "ja-JP",
		AcceptEncoding: "gzip",
		DeviceID:       "phone-9",
	}
}

func TestBuildRejectsWeakSecrets(t *testing.T) {
	_, rdb := newTestRedis(t)

	tests := []struct {
		name    string
		access  string
		refresh string
	}{
		{name: "missing", access: "", refresh: testRefreshSecret},
		{name: "short", access: "abcdef", refresh: testRefreshSecret},
		{name: "not hex", access: strings.Repeat("zz", 32), refresh: testRefreshSecret},
		{name: "password", access: "correct-horse-battery-staple-correct-horse-battery-staple-12345678", refresh: testRefreshSecret},
		{name: "identical", access: testAccessSecret, refresh: testAccessSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.JWT.AccessSecret = tt.access
			cfg.JWT.RefreshSecret = tt.refresh

			_, err := New().WithConfig(cfg).WithRedis(rdb).Build()
			if !errors.Is(err, ErrWeakSecret) {
				t.Fatalf("expected ErrWeakSecret, got %v", err)
			}
			if CodeOf(err) != CodeWeakSecret {
				t.Fatalf("expected code %s, got %q", CodeWeakSecret, CodeOf(err))
			}
		})
	}
}

func TestBuildChecksSecretsBeforeRedis(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.AccessSecret = "weak"

	_, err := New().WithConfig(cfg).Build()
	if !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret without redis, got %v", err)
	}
}

func TestBuilderSingleUse(t *testing.T) {
	_, rdb := newTestRedis(t)
	b := New().WithConfig(testConfig()).WithRedis(rdb)
	engine, err := b.Build()
	if err != nil {
		t.Fatalf("first Build failed: %v", err)
	}
	defer engine.Close()

	if _, err := b.Build(); err == nil {
		t.Fatal("expected second Build to fail")
	}
}

func TestGenerateTokensCreatesFamily(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" || pair.FamilyID == "" {
		t.Fatalf("incomplete pair: %+v", pair)
	}
	if !pair.AccessExpiresAt.Before(pair.RefreshExpiresAt) {
		t.Fatal("access token must expire before refresh token")
	}

	access, err := engine.VerifyToken(ctx, pair.AccessToken, KindAccess)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	refresh, err := engine.VerifyToken(ctx, pair.RefreshToken, KindRefresh)
	if err != nil {
		t.Fatalf("verify refresh: %v", err)
	}
	if access.TokenID == refresh.TokenID {
		t.Fatal("access and refresh tokens share a jti")
	}
	if access.FamilyID != pair.FamilyID || refresh.FamilyID != pair.FamilyID {
		t.Fatal("tokens not bound to the issued family")
	}
	if access.UserID != "u1" || access.Role != "customer" {
		t.Fatalf("unexpected claims %+v", access)
	}

	sessions, err := engine.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 1 || sessions[0].FamilyID != pair.FamilyID {
		t.Fatalf("expected the new family to be listed, got %+v", sessions)
	}
	if sessions[0].Device.DeviceType != "desktop" || sessions[0].Device.DeviceID != "laptop-1" {
		t.Fatalf("unexpected device %+v", sessions[0].Device)
	}
	if got := engine.MetricsSnapshot().Counters[MetricIssued]; got != 1 {
		t.Fatalf("expected MetricIssued=1, got %d", got)
	}
}

func TestGenerateTokensRequiresUser(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)

	_, err := engine.GenerateTokens(context.Background(), " ", "customer", laptop())
	if !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestGenerateTokensWithoutMetadata(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", RequestMetadata{})
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if _, err := engine.RotateTokens(ctx, pair.RefreshToken, RequestMetadata{}); err != nil {
		t.Fatalf("rotate with the same empty metadata: %v", err)
	}
}

func TestRotateKeepsFamilyAndChangesTokenID(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	first, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	second, err := engine.RotateTokens(ctx, first.RefreshToken, laptop())
	if err != nil {
		t.Fatalf("RotateTokens: %v", err)
	}

	before, _ := engine.tokens.Parse(first.RefreshToken, KindRefresh)
	after, err := engine.VerifyToken(ctx, second.RefreshToken, KindRefresh)
	if err != nil {
		t.Fatalf("verify rotated refresh: %v", err)
	}
	if after.TokenID == before.ID {
		t.Fatal("rotation must issue a new jti")
	}
	if after.FamilyID != before.FID || second.FamilyID != first.FamilyID {
		t.Fatal("rotation must keep the family")
	}

	// The used refresh token is dead for verification too.
	if _, err := engine.VerifyToken(ctx, first.RefreshToken, KindRefresh); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected old refresh token invalidated, got %v", err)
	}
}

func TestRotateTwiceReturnsInvalidated(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	next, err := engine.RotateTokens(ctx, pair.RefreshToken, laptop())
	if err != nil {
		t.Fatalf("first rotate: %v", err)
	}

	_, err = engine.RotateTokens(ctx, pair.RefreshToken, laptop())
	if !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected ErrTokenInvalidated, got %v", err)
	}
	if SecurityFailure(err) {
		t.Fatal("a replayed token alone does not close the family")
	}

	// The chain continues from the newest token.
	if _, err := engine.RotateTokens(ctx, next.RefreshToken, laptop()); err != nil {
		t.Fatalf("rotate newest token: %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricReplayDetected]; got != 1 {
		t.Fatalf("expected MetricReplayDetected=1, got %d", got)
	}
}

func TestFingerprintMismatchCompromisesFamily(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	// Attacker replays the refresh token from another device.
	_, err = engine.RotateTokens(ctx, pair.RefreshToken, phone())
	if !errors.Is(err, ErrTokenFingerprintMismatch) {
		t.Fatalf("expected ErrTokenFingerprintMismatch, got %v", err)
	}
	if !SecurityFailure(err) {
		t.Fatal("fingerprint mismatch must be a security failure")
	}

	// The legitimate device is locked out as well.
	_, err = engine.RotateTokens(ctx, pair.RefreshToken, laptop())
	if !errors.Is(err, ErrTokenFamilyCompromised) {
		t.Fatalf("expected ErrTokenFamilyCompromised, got %v", err)
	}
	if _, err := engine.VerifyToken(ctx, pair.RefreshToken, KindRefresh); !errors.Is(err, ErrTokenFamilyCompromised) {
		t.Fatalf("expected verify to report compromise, got %v", err)
	}

	sessions, err := engine.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("compromised family must not be listed, got %d", len(sessions))
	}

	snap := engine.MetricsSnapshot()
	if snap.Counters[MetricFingerprintMismatch] != 1 || snap.Counters[MetricFamilyCompromised] != 1 {
		t.Fatalf("unexpected security counters %+v", snap.Counters)
	}
}

func TestRotationVelocityLimit(t *testing.T) {
	cfg := testConfig()
	cfg.Rotation.MaxRotations = 3
	engine, _ := newEngine(t, cfg, nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	refresh := pair.RefreshToken
	for i := 0; i < cfg.Rotation.MaxRotations; i++ {
		next, err := engine.RotateTokens(ctx, refresh, laptop())
		if err != nil {
			t.Fatalf("rotation %d: %v", i+1, err)
		}
		refresh = next.RefreshToken
	}

	_, err = engine.RotateTokens(ctx, refresh, laptop())
	if !errors.Is(err, ErrSuspiciousRotation) {
		t.Fatalf("expected ErrSuspiciousRotation, got %v", err)
	}
	_, err = engine.RotateTokens(ctx, refresh, laptop())
	if !errors.Is(err, ErrTokenFamilyCompromised) {
		t.Fatalf("expected family compromised after velocity breach, got %v", err)
	}
}

func TestRotateRejectsAccessToken(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if _, err := engine.RotateTokens(ctx, pair.AccessToken, laptop()); !errors.Is(err, ErrTokenInvalid) && !errors.Is(err, ErrInvalidTokenType) {
		t.Fatalf("expected access token to be rejected, got %v", err)
	}
	if _, err := engine.VerifyToken(ctx, pair.RefreshToken, KindAccess); err == nil {
		t.Fatal("refresh token accepted as access token")
	}
}

func TestRotateRejectsGarbage(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)

	_, err := engine.RotateTokens(context.Background(), "not-a-jwt", laptop())
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid, got %v", err)
	}
}

func TestExpiredFamilyCannotRotate(t *testing.T) {
	clock := newTestClock()
	cfg := testConfig()
	cfg.JWT.RefreshTTL = 24 * time.Hour
	cfg.Family.MaxAge = 24 * time.Hour
	engine, _ := newEngine(t, cfg, clock)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	// Past the family's ValidUntil, still inside the token's leeway.
	clock.Advance(24*time.Hour + time.Second)
	_, err = engine.RotateTokens(ctx, pair.RefreshToken, laptop())
	if !errors.Is(err, ErrTokenFamilyExpired) {
		t.Fatalf("expected ErrTokenFamilyExpired, got %v", err)
	}
}

func TestExpiredTokenReported(t *testing.T) {
	clock := newTestClock()
	engine, _ := newEngine(t, testConfig(), clock)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	clock.Advance(10 * time.Minute)

	if _, err := engine.VerifyToken(ctx, pair.AccessToken, KindAccess); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestRevokedFamilyRejected(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if err := engine.RevokeFamily(ctx, pair.FamilyID); err != nil {
		t.Fatalf("RevokeFamily: %v", err)
	}

	if _, err := engine.VerifyToken(ctx, pair.AccessToken, KindAccess); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected access token of revoked family invalidated, got %v", err)
	}
	if _, err := engine.RotateTokens(ctx, pair.RefreshToken, laptop()); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected refresh of revoked family invalidated, got %v", err)
	}
}

func TestRotateMissingFamily(t *testing.T) {
	engine, rdb := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	// Drop the family without a ledger record, as an expired hash would.
	if err := rdb.Del(ctx, "sg:fam:"+pair.FamilyID).Err(); err != nil {
		t.Fatalf("del: %v", err)
	}

	if _, err := engine.RotateTokens(ctx, pair.RefreshToken, laptop()); !errors.Is(err, ErrInvalidTokenFamily) {
		t.Fatalf("expected ErrInvalidTokenFamily, got %v", err)
	}
}

func TestLogoutInvalidatesTokens(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	report, err := engine.Logout(ctx, pair.AccessToken, pair.RefreshToken, false)
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !report.AccessInvalidated || !report.RefreshInvalidated || report.FamilyClosed {
		t.Fatalf("unexpected report %+v", report)
	}

	if _, err := engine.VerifyToken(ctx, pair.AccessToken, KindAccess); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected access invalidated, got %v", err)
	}
	if _, err := engine.VerifyToken(ctx, pair.RefreshToken, KindRefresh); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected refresh invalidated, got %v", err)
	}
	if _, err := engine.RotateTokens(ctx, pair.RefreshToken, laptop()); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected rotate after logout to fail, got %v", err)
	}
}

func TestLogoutSkipsBadRefreshToken(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	report, err := engine.Logout(ctx, pair.AccessToken, "garbage", false)
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !report.AccessInvalidated || report.RefreshInvalidated {
		t.Fatalf("unexpected report %+v", report)
	}

	if _, err := engine.Logout(ctx, "", "garbage", false); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("expected ErrTokenInvalid with no usable token, got %v", err)
	}
}

func TestLogoutClosesFamily(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	report, err := engine.Logout(ctx, pair.AccessToken, pair.RefreshToken, true)
	if err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if !report.FamilyClosed {
		t.Fatal("expected family closed")
	}

	sessions, err := engine.ListSessions(ctx, "u1")
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 0 {
		t.Fatalf("expected no sessions, got %d", len(sessions))
	}
}

func TestInvalidateTokenIdempotent(t *testing.T) {
	engine, rdb := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	if err := engine.InvalidateToken(ctx, "jti-1", "access", "fam-1"); err != nil {
		t.Fatalf("InvalidateToken: %v", err)
	}
	ttl := rdb.PTTL(ctx, "sg:inv:jti-1").Val()
	if ttl < 5*time.Minute || ttl > 6*time.Minute+time.Second {
		t.Fatalf("expected ledger TTL near 1.2 x access TTL, got %v", ttl)
	}

	if err := engine.InvalidateToken(ctx, "jti-1", "access", "fam-1"); err != nil {
		t.Fatalf("second InvalidateToken: %v", err)
	}
	if got := engine.MetricsSnapshot().Counters[MetricTokenInvalidated]; got != 1 {
		t.Fatalf("expected one new ledger record, got %d", got)
	}

	if err := engine.InvalidateToken(ctx, "jti-2", "bogus", ""); !errors.Is(err, ErrInvalidTokenType) {
		t.Fatalf("expected ErrInvalidTokenType, got %v", err)
	}
	if err := engine.InvalidateToken(ctx, "", "access", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestRevokeAllForUser(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	var pairs []TokenPair
	for _, meta := range []RequestMetadata{laptop(), phone()} {
		pair, err := engine.GenerateTokens(ctx, "u1", "customer", meta)
		if err != nil {
			t.Fatalf("GenerateTokens: %v", err)
		}
		pairs = append(pairs, pair)
	}
	other, err := engine.GenerateTokens(ctx, "u2", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	n, err := engine.RevokeAllForUser(ctx, "u1")
	if err != nil {
		t.Fatalf("RevokeAllForUser: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
	for _, p := range pairs {
		if _, err := engine.VerifyToken(ctx, p.AccessToken, KindAccess); !errors.Is(err, ErrTokenInvalidated) {
			t.Fatalf("expected revoked access token, got %v", err)
		}
	}
	if _, err := engine.VerifyToken(ctx, other.RefreshToken, KindRefresh); err != nil {
		t.Fatalf("other user's session must survive: %v", err)
	}
}

func TestStoreUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine, err := New().WithConfig(testConfig()).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	mr.Close()

	if _, err := engine.RotateTokens(ctx, pair.RefreshToken, laptop()); !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
	if h := engine.Health(ctx); h.RedisAvailable {
		t.Fatal("expected health to report redis down")
	}
}

func TestNilEngineNotReady(t *testing.T) {
	var engine *Engine
	ctx := context.Background()

	if _, err := engine.GenerateTokens(ctx, "u1", "", RequestMetadata{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if _, err := engine.RotateTokens(ctx, "x", RequestMetadata{}); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("expected ErrEngineNotReady, got %v", err)
	}
	if h := engine.Health(ctx); h.RedisAvailable {
		t.Fatal("nil engine reported healthy")
	}
}

func TestRotatedTokenStaysInvalidatedThroughLeeway(t *testing.T) {
	clock := newTestClock()
	cfg := testConfig()
	cfg.JWT.RefreshTTL = 10 * time.Minute
	cfg.JWT.Leeway = 30 * time.Second
	cfg.Ledger.RotationBuffer = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	mr, rdb := newTestRedis(t)
	engine, err := New().WithConfig(cfg).WithRedis(rdb).WithClock(clock.Now).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if _, err := engine.RotateTokens(ctx, pair.RefreshToken, laptop()); err != nil {
		t.Fatalf("RotateTokens: %v", err)
	}

	// Past exp but inside the leeway the token still parses.
	clock.Advance(10*time.Minute + 10*time.Second)
	mr.FastForward(10*time.Minute + 10*time.Second)

	if _, err := engine.RotateTokens(ctx, pair.RefreshToken, laptop()); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected ErrTokenInvalidated, got %v", err)
	}
}

func TestCompromisedFamilyRejectsAccessTokens(t *testing.T) {
	engine, rdb := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if _, err := engine.VerifyToken(ctx, pair.AccessToken, KindAccess); err != nil {
		t.Fatalf("VerifyToken before compromise: %v", err)
	}

	if _, err := engine.RotateTokens(ctx, pair.RefreshToken, phone()); !errors.Is(err, ErrTokenFingerprintMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	if _, err := engine.VerifyToken(ctx, pair.AccessToken, KindAccess); !errors.Is(err, ErrTokenFamilyCompromised) {
		t.Fatalf("expected ErrTokenFamilyCompromised for access token, got %v", err)
	}

	rec, err := engine.ledger.Get(ctx, pair.FamilyID)
	if err != nil {
		t.Fatalf("expected family-level ledger record: %v", err)
	}
	if rec.TokenType != "family" {
		t.Fatalf("expected family record, got %q", rec.TokenType)
	}
	ttl := rdb.PTTL(ctx, "sg:inv:"+pair.FamilyID).Val()
	if want := time.Duration(float64(7*24*time.Hour) * 1.2); ttl < want-time.Minute || ttl > want {
		t.Fatalf("expected family record TTL near %v, got %v", want, ttl)
	}
}
