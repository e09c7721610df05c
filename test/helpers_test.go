//go:build integration
// +build integration

package test

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/storefront/sessionguard"
)

// redisMode describes which Redis backend the suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis, func())
}

// redisModes always includes miniredis. A real standalone Redis is added
// when REDIS_ADDR is set; its test DB is flushed before and after.
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, mr, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, *miniredis.Miniredis, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				rdb.FlushDB(context.Background())
				return rdb, nil, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	return modes
}

func integrationConfig() sessionguard.Config {
	cfg := sessionguard.DefaultConfig()
	cfg.JWT.AccessSecret = strings.Repeat("7c", 32)
	cfg.JWT.RefreshSecret = strings.Repeat("c7", 32)
	cfg.Rotation.MaxRotations = 4
	return cfg
}

func buildEngine(t *testing.T, rdb redis.UniversalClient, cfg sessionguard.Config) *sessionguard.Engine {
	t.Helper()
	engine, err := sessionguard.New().WithConfig(cfg).WithRedis(rdb).Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

func desktop() sessionguard.RequestMetadata {
	return sessionguard.RequestMetadata{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/126.0 Safari/537.36",
		ClientIP:       "192.0.2.44",
		AcceptLanguage: "de-DE",
		DeviceID:       "desk-1",
	}
}
