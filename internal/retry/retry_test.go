package retry

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var fastPolicy = Policy{Attempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}

func TestDoRetriesTransientUpToLimit(t *testing.T) {
	transient := fmt.Errorf("store: %w", syscall.ECONNRESET)

	attempts, err := Do(context.Background(), fastPolicy, func(context.Context) error {
		return transient
	})
	if !errors.Is(err, syscall.ECONNRESET) {
		t.Fatalf("expected last transient error, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestDoStopsOnPermanent(t *testing.T) {
	permanent := errors.New("corrupt record")

	attempts, err := Do(context.Background(), fastPolicy, func(context.Context) error {
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected permanent error, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestDoSucceedsAfterTransient(t *testing.T) {
	calls := 0
	attempts, err := Do(context.Background(), fastPolicy, func(context.Context) error {
		calls++
		if calls < 2 {
			return context.DeadlineExceeded
		}
		return nil
	})
	if err != nil || attempts != 2 {
		t.Fatalf("expected success on attempt 2, got %d %v", attempts, err)
	}
}

func TestDoHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts, err := Do(ctx, Policy{Attempts: 5, Initial: time.Second, Max: time.Second}, func(context.Context) error {
		return syscall.ECONNREFUSED
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if attempts > 1 {
		t.Fatalf("cancelled context must not keep retrying, got %d attempts", attempts)
	}
}

func TestTransientClassification(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, true},
		{"reset", fmt.Errorf("x: %w", syscall.ECONNRESET), true},
		{"closed client", redis.ErrClosed, false},
		{"redis nil", redis.Nil, false},
		{"plain", errors.New("boom"), false},
	}
	for _, tc := range cases {
		if got := Transient(tc.err); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestTransientRedisReplies(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()

	ctx := context.Background()
	if err := rdb.Ping(ctx).Err(); err != nil {
		t.Fatalf("warm up ping: %v", err)
	}

	mr.SetError("LOADING Redis is loading the dataset in memory")
	if err := rdb.Ping(ctx).Err(); !Transient(err) {
		t.Fatalf("expected LOADING to be transient, got %v", err)
	}

	mr.SetError("WRONGTYPE Operation against a key holding the wrong kind of value")
	if err := rdb.Ping(ctx).Err(); Transient(err) {
		t.Fatalf("expected WRONGTYPE to be permanent, got %v", err)
	}
	mr.SetError("")

	mr.Close()
	if err := rdb.Ping(ctx).Err(); !Transient(err) {
		t.Fatalf("expected a dropped server to be transient, got %v", err)
	}
}
