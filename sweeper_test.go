package sessionguard

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSweeperRemovesExpiredFamilyOnly(t *testing.T) {
	clock := newTestClock()
	cfg := testConfig()
	cfg.Family.MaxAge = 8 * 24 * time.Hour
	cfg.Family.InactivityTimeout = 60 * 24 * time.Hour
	engine, _ := newEngine(t, cfg, clock)
	ctx := context.Background()

	old, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	clock.Advance(7 * 24 * time.Hour)
	fresh, err := engine.GenerateTokens(ctx, "u1", "customer", phone())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	clock.Advance(2 * 24 * time.Hour)

	report, ran := engine.NewSweeper(SweeperConfig{}).RunOnce(ctx)
	if !ran {
		t.Fatal("expected the pass to run")
	}
	if err := report.Err(); err != nil {
		t.Fatalf("sweep errors: %v", err)
	}
	if report.FamiliesExpired != 1 {
		t.Fatalf("expected one expired family, got %d", report.FamiliesExpired)
	}

	if ok, _ := engine.families.Exists(ctx, old.FamilyID); ok {
		t.Fatal("expired family survived the sweep")
	}
	if ok, _ := engine.families.Exists(ctx, fresh.FamilyID); !ok {
		t.Fatal("live family was removed by the sweep")
	}
	if got := engine.MetricsSnapshot().Counters[MetricSweepFamiliesExpired]; got != 1 {
		t.Fatalf("expected MetricSweepFamiliesExpired=1, got %d", got)
	}
}

func TestSweeperClosesCompromisedFamily(t *testing.T) {
	engine, rdb := newEngine(t, testConfig(), nil)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	if _, err := engine.RotateTokens(ctx, pair.RefreshToken, phone()); !errors.Is(err, ErrTokenFingerprintMismatch) {
		t.Fatalf("expected mismatch, got %v", err)
	}

	report, _ := engine.NewSweeper(SweeperConfig{}).RunOnce(ctx)
	if report.FamiliesCompromised != 1 {
		t.Fatalf("expected one compromised family closed, got %d", report.FamiliesCompromised)
	}
	if ok, _ := engine.families.Exists(ctx, pair.FamilyID); ok {
		t.Fatal("compromised family survived the sweep")
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

	// Even with the family row gone, its tokens stay dead.
	if _, err := engine.VerifyToken(ctx, pair.AccessToken, KindAccess); !errors.Is(err, ErrTokenInvalidated) {
		t.Fatalf("expected access token invalidated, got %v", err)
	}
}

func TestSweeperPurgesLedgerAndOrphans(t *testing.T) {
	clock := newTestClock()
	cfg := testConfig()
	engine, _ := newEngine(t, cfg, clock)
	ctx := context.Background()

	pair, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	next, err := engine.RotateTokens(ctx, pair.RefreshToken, laptop())
	if err != nil {
		t.Fatalf("RotateTokens: %v", err)
	}
	used, _ := engine.tokens.Parse(next.AccessToken, KindAccess)

	if err := engine.InvalidateToken(ctx, used.ID, "access", pair.FamilyID); err != nil {
		t.Fatalf("InvalidateToken: %v", err)
	}
	// An orphan: its family never existed.
	if err := engine.InvalidateToken(ctx, "stray-jti", "refresh", "gone-family"); err != nil {
		t.Fatalf("InvalidateToken: %v", err)
	}

	report, _ := engine.NewSweeper(SweeperConfig{}).RunOnce(ctx)
	if report.OrphansPurged != 1 {
		t.Fatalf("expected one orphan purged, got %d", report.OrphansPurged)
	}
	if report.LedgerPurged != 0 {
		t.Fatalf("nothing has expired yet, purged %d", report.LedgerPurged)
	}
	if ok, _ := engine.ledger.IsInvalidated(ctx, used.ID); !ok {
		t.Fatal("record of a live family must be kept")
	}

	// Past 1.2 x access TTL the access record expires; the rotated refresh
	// record lives on until its own exp plus buffer.
	clock.Advance(7 * time.Minute)
	report, _ = engine.NewSweeper(SweeperConfig{}).RunOnce(ctx)
	if report.LedgerPurged != 1 {
		t.Fatalf("expected one expired ledger record purged, got %d", report.LedgerPurged)
	}
}

func TestSweeperDeletesInactiveFamilies(t *testing.T) {
	clock := newTestClock()
	cfg := testConfig()
	cfg.Family.MaxAge = 90 * 24 * time.Hour
	cfg.Family.InactivityTimeout = 30 * 24 * time.Hour
	engine, _ := newEngine(t, cfg, clock)
	ctx := context.Background()

	idle, err := engine.GenerateTokens(ctx, "u1", "customer", laptop())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}
	active, err := engine.GenerateTokens(ctx, "u1", "customer", phone())
	if err != nil {
		t.Fatalf("GenerateTokens: %v", err)
	}

	clock.Advance(6 * 24 * time.Hour)
	refresh := active.RefreshToken
	for i := 0; i < 5; i++ {
		next, err := engine.RotateTokens(ctx, refresh, phone())
		if err != nil {
			t.Fatalf("RotateTokens: %v", err)
		}
		refresh = next.RefreshToken
		clock.Advance(6 * 24 * time.Hour)
	}

	report, _ := engine.NewSweeper(SweeperConfig{}).RunOnce(ctx)
	if report.FamiliesInactive != 1 {
		t.Fatalf("expected one inactive family deleted, got %d", report.FamiliesInactive)
	}
	if ok, _ := engine.families.Exists(ctx, idle.FamilyID); ok {
		t.Fatal("idle family survived")
	}
	if ok, _ := engine.families.Exists(ctx, active.FamilyID); !ok {
		t.Fatal("active family removed")
	}
}

func TestSweeperSingleFlight(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	s := engine.NewSweeper(SweeperConfig{})

	s.running.Store(true)
	if _, ran := s.RunOnce(context.Background()); ran {
		t.Fatal("overlapping pass must be skipped")
	}
	s.running.Store(false)
	if _, ran := s.RunOnce(context.Background()); !ran {
		t.Fatal("expected pass after the previous one finished")
	}
	if got := engine.MetricsSnapshot().Counters[MetricSweepSkipped]; got != 1 {
		t.Fatalf("expected MetricSweepSkipped=1, got %d", got)
	}
}

func TestSweeperStartStop(t *testing.T) {
	engine, _ := newEngine(t, testConfig(), nil)
	s := engine.NewSweeper(SweeperConfig{Interval: 10 * time.Millisecond})

	s.Start(context.Background())
	s.Start(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for engine.MetricsSnapshot().Counters[MetricSweepRuns] == 0 {
		if time.Now().After(deadline) {
			t.Fatal("sweeper never ran")
		}
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	runs := engine.MetricsSnapshot().Counters[MetricSweepRuns]
	time.Sleep(50 * time.Millisecond)
	if got := engine.MetricsSnapshot().Counters[MetricSweepRuns]; got != runs {
		t.Fatalf("sweeper kept running after Stop: %d -> %d", runs, got)
	}
}

func TestSweeperReportsStoreErrors(t *testing.T) {
	mr, rdb := newTestRedis(t)
	engine, err := New().WithConfig(testConfig()).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer engine.Close()
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Fatalf("ping: %v", err)
	}

	mr.SetError("WRONGTYPE Operation against a key holding the wrong kind of value")
	report, ran := engine.NewSweeper(SweeperConfig{RetryBackoff: time.Millisecond}).RunOnce(context.Background())
	mr.SetError("")

	if !ran {
		t.Fatal("expected the pass to run")
	}
	if len(report.Errors) == 0 {
		t.Fatal("expected step errors to be reported")
	}
	if report.Err() == nil {
		t.Fatal("expected joined error")
	}
}
