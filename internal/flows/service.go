package flows

import (
	"context"
	"time"

	"github.com/storefront/sessionguard/fingerprint"
	"github.com/storefront/sessionguard/jwt"
	"github.com/storefront/sessionguard/session"
)

// Service is the centralized flow runner built once by the root engine.
type Service struct {
	deps Deps
}

// New returns a flow service with immutable dependency wiring.
func New(deps Deps) Service {
	return Service{deps: deps}
}

// Initialized reports whether the service has been wired with flow deps.
func (s Service) Initialized() bool {
	return s.deps.Verify.Tokens != nil && s.deps.Rotate.Families != nil
}

func (s Service) Issue(ctx context.Context, req IssueRequest) IssueResult {
	return RunIssue(ctx, req, s.deps.Issue)
}

func (s Service) Verify(ctx context.Context, tokenStr string, typ jwt.TokenType) VerifyResult {
	return RunVerify(ctx, tokenStr, typ, s.deps.Verify)
}

func (s Service) Rotate(ctx context.Context, refreshToken string, meta fingerprint.RequestMetadata) RotateResult {
	return RunRotate(ctx, refreshToken, meta, s.deps.Rotate)
}

func (s Service) Invalidate(ctx context.Context, req InvalidateRequest) (bool, error) {
	return RunInvalidate(ctx, req, s.deps.Logout)
}

func (s Service) Logout(ctx context.Context, req LogoutRequest) LogoutResult {
	return RunLogout(ctx, req, s.deps.Logout)
}

func (s Service) RevokeFamily(ctx context.Context, familyID string) error {
	return RunRevokeFamily(ctx, familyID, s.deps.Logout)
}

func (s Service) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	return RunRevokeAllForUser(ctx, userID, s.deps.Logout)
}

func (s Service) ListSessions(ctx context.Context, userID string) ([]*session.Family, error) {
	return RunListSessions(ctx, userID, s.deps.Introspection)
}

func (s Service) Health(ctx context.Context) (bool, time.Duration) {
	return RunHealth(ctx, s.deps.Introspection)
}
