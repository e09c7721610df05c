package flows

import (
	"context"
	"time"

	"github.com/storefront/sessionguard/session"
)

type IntrospectionFamilyStore interface {
	ListByUser(ctx context.Context, userID string) ([]*session.Family, error)
	Ping(ctx context.Context) error
}

type IntrospectionDeps struct {
	Families          IntrospectionFamilyStore
	Now               func() time.Time
	EngineNotReadyErr error
	UserNotFoundErr   error
}

// RunListSessions returns the user's families that can still rotate.
func RunListSessions(ctx context.Context, userID string, deps IntrospectionDeps) ([]*session.Family, error) {
	if deps.Families == nil {
		return nil, deps.EngineNotReadyErr
	}
	if userID == "" {
		return nil, deps.UserNotFoundErr
	}

	families, err := deps.Families.ListByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := deps.Now()
	active := make([]*session.Family, 0, len(families))
	for _, f := range families {
		if !f.Terminal(now) {
			active = append(active, f)
		}
	}
	return active, nil
}

func RunHealth(ctx context.Context, deps IntrospectionDeps) (bool, time.Duration) {
	if deps.Families == nil {
		return false, 0
	}
	start := time.Now()
	err := deps.Families.Ping(ctx)
	return err == nil, time.Since(start)
}
