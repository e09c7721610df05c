// Package retry runs store calls with bounded exponential backoff, retrying
// only errors that are likely to clear on their own.
package retry

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Policy bounds one retried operation.
type Policy struct {
	Attempts int
	Initial  time.Duration
	Max      time.Duration
}

// Default is three attempts starting at 100ms.
func Default() Policy {
	return Policy{Attempts: 3, Initial: 100 * time.Millisecond, Max: 2 * time.Second}
}

// Do runs op until it succeeds, returns a non-transient error, the attempts
// are used up or ctx is done. It returns the last error seen and the number
// of attempts made.
func Do(ctx context.Context, p Policy, op func(context.Context) error) (int, error) {
	if p.Attempts < 1 {
		p.Attempts = 1
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.Initial
	eb.MaxInterval = p.Max
	eb.MaxElapsedTime = 0

	attempts := 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(p.Attempts-1)), ctx)
	err := backoff.Retry(func() error {
		attempts++
		err := op(ctx)
		if err != nil && !Transient(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b)
	return attempts, err
}

var transientPrefixes = []string{"LOADING", "TRYAGAIN", "BUSY", "CLUSTERDOWN", "MASTERDOWN"}

// Transient reports whether err is worth retrying: timeouts, dropped or
// refused connections and Redis replies that signal a temporary state.
func Transient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}

	var redisErr redis.Error
	if errors.As(err, &redisErr) {
		for _, prefix := range transientPrefixes {
			if redis.HasErrorPrefix(redisErr, prefix) {
				return true
			}
		}
	}
	return false
}
