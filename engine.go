package sessionguard

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	internalaudit "github.com/storefront/sessionguard/internal/audit"
	"github.com/storefront/sessionguard/internal/flows"
	"github.com/storefront/sessionguard/jwt"
	"github.com/storefront/sessionguard/ledger"
	"github.com/storefront/sessionguard/session"
)

// Engine issues, verifies, rotates and revokes session credentials. It is
// immutable after Build and safe for concurrent use.
type Engine struct {
	config   Config
	ledger   *ledger.Ledger
	families *session.Store
	tokens   *jwt.Manager
	flow     flows.Service
	audit    *internalaudit.Dispatcher
	metrics  *Metrics
	logger   *slog.Logger
	now      func() time.Time
}

// Close flushes and stops the audit dispatcher.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
}

// AuditDropped reports how many audit events were dropped on a full buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.audit == nil {
		return 0
	}
	return e.audit.Dropped()
}

func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil || e.metrics == nil {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}
	return e.metrics.Snapshot()
}

// Config returns a copy of the configuration the engine was built with.
func (e *Engine) Config() Config {
	return cloneConfig(e.config)
}

func (e *Engine) metricInc(id MetricID) {
	if e == nil || e.metrics == nil {
		return
	}
	e.metrics.Inc(id)
}

func (e *Engine) ready() bool {
	return e != nil && e.flow.Initialized()
}

// GenerateTokens starts a new session family for userID and returns its
// first token pair. Missing metadata only weakens the fingerprint.
func (e *Engine) GenerateTokens(ctx context.Context, userID, role string, meta RequestMetadata) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	res := e.flow.Issue(ctx, flows.IssueRequest{
		UserID:   userID,
		Role:     role,
		Metadata: meta,
	})

	var err error
	switch res.Failure {
	case flows.IssueFailureNone:
		e.metricInc(MetricIssued)
		e.emitAudit(ctx, auditEventTokensIssued, true, userID, res.Pair.FamilyID, nil, func() map[string]string {
			return map[string]string{
				"device_type": res.Family.Device.DeviceType,
				"device_name": res.Family.Device.DeviceName,
			}
		})
		return TokenPair{
			AccessToken:      res.Pair.AccessToken,
			RefreshToken:     res.Pair.RefreshToken,
			FamilyID:         res.Pair.FamilyID,
			AccessExpiresAt:  res.Pair.AccessExpiresAt,
			RefreshExpiresAt: res.Pair.RefreshExpiresAt,
		}, nil
	case flows.IssueFailureInput:
		err = ErrInvalidRequest.wrap(res.Err)
	case flows.IssueFailurePersist:
		if errors.Is(res.Err, session.ErrFamilyExists) {
			err = ErrIssuance.wrap(res.Err)
		} else {
			err = storeError(res.Err)
		}
	default:
		err = ErrIssuance.wrap(res.Err)
	}

	e.metricInc(MetricIssueFailure)
	e.logger.ErrorContext(ctx, "token issuance failed",
		slog.String("user_id", userID),
		slog.String("code", string(CodeOf(err))),
		slog.Any("error", err),
	)
	e.emitAudit(ctx, auditEventIssueFailure, false, userID, "", err, nil)
	return TokenPair{}, err
}

// VerifyToken checks a token of the given kind. Access tokens are checked
// against the signature and the invalidation ledger; refresh tokens also
// require a live family.
func (e *Engine) VerifyToken(ctx context.Context, token string, kind TokenKind) (*Claims, error) {
	if !e.ready() {
		return nil, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() { e.metrics.Observe(MetricVerifyLatency, time.Since(start)) }()
	}

	res := e.flow.Verify(ctx, token, kind)

	var err error
	switch res.Failure {
	case flows.VerifyFailureNone:
		e.metricInc(MetricVerifySuccess)
		return claimsView(res.Claims), nil
	case flows.VerifyFailureParse:
		err = tokenError(res.Err)
	case flows.VerifyFailureInvalidated:
		err = ErrTokenInvalidated
	case flows.VerifyFailureFamilyNotFound:
		err = ErrInvalidTokenFamily.wrap(res.Err)
	case flows.VerifyFailureFamilyCompromised:
		err = ErrTokenFamilyCompromised
	case flows.VerifyFailureFamilyExpired:
		err = ErrTokenFamilyExpired
	default:
		err = storeError(res.Err)
	}

	e.metricInc(MetricVerifyFailure)
	return nil, err
}

// RotateTokens exchanges a refresh token for a new pair in the same family.
// Each refresh token rotates at most once. Fingerprint mismatch and
// excessive rotation close the family permanently. When the store call
// exceeds Rotation.Timeout the result is ErrStoreUnavailable, and the
// presented token may already be spent.
func (e *Engine) RotateTokens(ctx context.Context, refreshToken string, meta RequestMetadata) (TokenPair, error) {
	if !e.ready() {
		return TokenPair{}, ErrEngineNotReady
	}

	var start time.Time
	if e.metrics.LatencyEnabled() {
		start = time.Now()
		defer func() { e.metrics.Observe(MetricRotateLatency, time.Since(start)) }()
	}

	res := e.flow.Rotate(ctx, refreshToken, meta)

	var userID, familyID string
	if res.Claims != nil {
		userID, familyID = res.Claims.UID, res.Claims.FID
	}

	if res.Failure == flows.RotateFailureNone {
		e.metricInc(MetricRotateSuccess)
		e.emitAudit(ctx, auditEventRotateSuccess, true, userID, familyID, nil, func() map[string]string {
			return map[string]string{
				"rotations": strconv.FormatInt(res.Rotations, 10),
			}
		})
		return TokenPair{
			AccessToken:      res.Pair.AccessToken,
			RefreshToken:     res.Pair.RefreshToken,
			FamilyID:         res.Pair.FamilyID,
			AccessExpiresAt:  res.Pair.AccessExpiresAt,
			RefreshExpiresAt: res.Pair.RefreshExpiresAt,
		}, nil
	}

	e.metricInc(MetricRotateFailure)

	var (
		err       error
		eventType = auditEventRotateFailure
		security  bool
	)
	switch res.Failure {
	case flows.RotateFailureParse:
		err = tokenError(res.Err)
	case flows.RotateFailureMint:
		err = ErrIssuance.wrap(res.Err)
	case flows.RotateFailureInvalidated:
		err = ErrTokenInvalidated
		eventType = auditEventReplayDetected
		security = true
		e.metricInc(MetricReplayDetected)
	case flows.RotateFailureFamilyNotFound:
		err = ErrInvalidTokenFamily
	case flows.RotateFailureFamilyExpired:
		err = ErrTokenFamilyExpired
	case flows.RotateFailureFamilyCompromised:
		err = ErrTokenFamilyCompromised
		eventType = auditEventFamilyCompromised
		security = true
		e.metricInc(MetricFamilyCompromised)
	case flows.RotateFailureSuspicious:
		err = ErrSuspiciousRotation
		eventType = auditEventSuspiciousRotation
		security = true
		e.metricInc(MetricSuspiciousRotation)
	case flows.RotateFailureFingerprintMismatch:
		err = ErrTokenFingerprintMismatch
		eventType = auditEventFingerprintMismatch
		security = true
		e.metricInc(MetricFingerprintMismatch)
	case flows.RotateFailureTimeout:
		err = storeError(res.Err)
		e.metricInc(MetricRotateTimeout)
	default:
		err = storeError(res.Err)
	}

	attrs := []any{
		slog.String("user_id", userID),
		slog.String("family_id", familyID),
		slog.String("code", string(CodeOf(err))),
	}
	if security {
		e.logger.WarnContext(ctx, "refresh rejected by family security check", attrs...)
	} else if CodeOf(err) == CodeStoreUnavailable || CodeOf(err) == CodeIssuance {
		e.logger.ErrorContext(ctx, "refresh failed", append(attrs, slog.Any("error", res.Err))...)
	}
	e.emitAudit(ctx, eventType, false, userID, familyID, err, nil)

	return TokenPair{}, err
}

// InvalidateToken puts one identifier on the ledger. tokenType is "access",
// "refresh" or "family"; the record outlives the configured lifetime of
// that type by the invalidation factor. Invalidating twice is a no-op.
func (e *Engine) InvalidateToken(ctx context.Context, tokenID, tokenType, familyID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if tokenID == "" {
		return ErrInvalidRequest
	}

	written, err := e.flow.Invalidate(ctx, flows.InvalidateRequest{
		TokenID:   tokenID,
		TokenType: tokenType,
		FamilyID:  familyID,
	})
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidRecord) {
			return ErrInvalidTokenType.wrap(err)
		}
		return storeError(err)
	}
	if written {
		e.metricInc(MetricTokenInvalidated)
		e.emitAudit(ctx, auditEventTokenInvalidated, true, "", familyID, nil, func() map[string]string {
			return map[string]string{"token_type": tokenType}
		})
	}
	return nil
}

// Logout invalidates the presented tokens. An unparsable refresh token is
// skipped as long as the access token is usable. With closeFamily the
// whole session family is revoked.
func (e *Engine) Logout(ctx context.Context, accessToken, refreshToken string, closeFamily bool) (LogoutReport, error) {
	if !e.ready() {
		return LogoutReport{}, ErrEngineNotReady
	}

	res := e.flow.Logout(ctx, flows.LogoutRequest{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		CloseFamily:  closeFamily,
	})
	report := LogoutReport{
		AccessInvalidated:  res.AccessInvalidated,
		RefreshInvalidated: res.RefreshInvalidated,
		FamilyClosed:       res.FamilyClosed,
	}
	if res.Err != nil {
		var err error
		if errors.Is(res.Err, flows.ErrNoToken) {
			err = ErrTokenInvalid.wrap(res.Err)
		} else {
			err = storeError(res.Err)
		}
		e.emitAudit(ctx, auditEventLogout, false, res.UserID, res.FamilyID, err, nil)
		return report, err
	}

	e.metricInc(MetricLogout)
	if report.FamilyClosed {
		e.metricInc(MetricFamilyRevoked)
	}
	e.emitAudit(ctx, auditEventLogout, true, res.UserID, res.FamilyID, nil, func() map[string]string {
		return map[string]string{
			"family_closed": strconv.FormatBool(report.FamilyClosed),
		}
	})
	return report, nil
}

// RevokeFamily closes one session family. Every token it issued is
// rejected from then on.
func (e *Engine) RevokeFamily(ctx context.Context, familyID string) error {
	if !e.ready() {
		return ErrEngineNotReady
	}
	if familyID == "" {
		return ErrInvalidRequest
	}

	if err := e.flow.RevokeFamily(ctx, familyID); err != nil {
		err = storeError(err)
		e.emitAudit(ctx, auditEventFamilyRevoked, false, "", familyID, err, nil)
		return err
	}

	e.metricInc(MetricFamilyRevoked)
	e.emitAudit(ctx, auditEventFamilyRevoked, true, "", familyID, nil, nil)
	return nil
}

// RevokeAllForUser closes every session family of userID and returns how
// many were closed. A partial failure returns the count so far with the
// joined errors.
func (e *Engine) RevokeAllForUser(ctx context.Context, userID string) (int, error) {
	if !e.ready() {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, ErrInvalidRequest
	}

	n, err := e.flow.RevokeAllForUser(ctx, userID)
	if n > 0 && e.metrics != nil {
		e.metrics.Add(MetricFamilyRevoked, uint64(n))
	}
	if err != nil {
		err = storeError(err)
	}
	e.emitAudit(ctx, auditEventLogoutAll, err == nil, userID, "", err, func() map[string]string {
		return map[string]string{"revoked": strconv.Itoa(n)}
	})
	return n, err
}
