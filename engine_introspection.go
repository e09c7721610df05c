package sessionguard

import (
	"context"
	"time"
)

// HealthStatus is an on-demand backend health result.
type HealthStatus struct {
	RedisAvailable bool
	RedisLatency   time.Duration
}

// ListSessions returns the user's session families that can still rotate,
// for an account's "devices" page.
func (e *Engine) ListSessions(ctx context.Context, userID string) ([]SessionInfo, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	families, err := e.flow.ListSessions(ctx, userID)
	if err != nil {
		if CodeOf(err) != "" {
			return nil, err
		}
		return nil, storeError(err)
	}

	out := make([]SessionInfo, 0, len(families))
	for _, f := range families {
		out = append(out, sessionView(f))
	}
	return out, nil
}

func (e *Engine) Health(ctx context.Context) HealthStatus {
	if !e.ready() {
		return HealthStatus{}
	}

	ok, latency := e.flow.Health(ctx)
	return HealthStatus{
		RedisAvailable: ok,
		RedisLatency:   latency,
	}
}
