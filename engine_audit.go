package sessionguard

import (
	"context"
	"time"
)

const (
	auditEventTokensIssued        = "tokens_issued"
	auditEventIssueFailure        = "issue_failure"
	auditEventRotateSuccess       = "rotate_success"
	auditEventRotateFailure       = "rotate_failure"
	auditEventReplayDetected      = "refresh_replay_detected"
	auditEventFamilyCompromised   = "family_compromised"
	auditEventFingerprintMismatch = "fingerprint_mismatch"
	auditEventSuspiciousRotation  = "suspicious_rotation"
	auditEventTokenInvalidated    = "token_invalidated"
	auditEventLogout              = "logout"
	auditEventFamilyRevoked       = "family_revoked"
	auditEventLogoutAll           = "logout_all"
	auditEventSweep               = "sweep_completed"
)

// criticalAuditEvents are never shed by a full audit queue.
var criticalAuditEvents = []string{
	auditEventReplayDetected,
	auditEventFamilyCompromised,
	auditEventFingerprintMismatch,
	auditEventSuspiciousRotation,
}

func (e *Engine) emitAudit(
	ctx context.Context,
	eventType string,
	success bool,
	userID string,
	familyID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := AuditEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		UserID:    userID,
		FamilyID:  familyID,
		IP:        clientIPFromContext(ctx),
		Success:   success,
		Metadata:  metadata,
	}
	if code := auditErrorCode(err); code != "" {
		event.Error = code
	}

	e.audit.Emit(ctx, event)
}

// auditErrorCode maps err to its stable code. Untagged errors are reported
// as internal so raw store messages never reach a sink.
func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if code := CodeOf(err); code != "" {
		return string(code)
	}
	return "INTERNAL_ERROR"
}
