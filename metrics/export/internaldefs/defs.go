package internaldefs

import (
	"github.com/storefront/sessionguard"
)

// CounterDef names one engine counter for export.
type CounterDef struct {
	ID   sessionguard.MetricID
	Name string
	Help string
}

// HistogramDef names one engine latency histogram for export.
type HistogramDef struct {
	ID   sessionguard.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in rendering order.
var CounterDefs = []CounterDef{
	{ID: sessionguard.MetricIssued, Name: "sessionguard_tokens_issued_total", Help: "Token pairs issued for new session families."},
	{ID: sessionguard.MetricIssueFailure, Name: "sessionguard_issue_failure_total", Help: "Failed token pair issuance."},
	{ID: sessionguard.MetricVerifySuccess, Name: "sessionguard_verify_success_total", Help: "Tokens that passed verification."},
	{ID: sessionguard.MetricVerifyFailure, Name: "sessionguard_verify_failure_total", Help: "Tokens rejected by verification."},
	{ID: sessionguard.MetricRotateSuccess, Name: "sessionguard_rotate_success_total", Help: "Successful refresh token rotations."},
	{ID: sessionguard.MetricRotateFailure, Name: "sessionguard_rotate_failure_total", Help: "Rejected refresh token rotations."},
	{ID: sessionguard.MetricRotateTimeout, Name: "sessionguard_rotate_timeout_total", Help: "Rotations that exceeded the store deadline."},
	{ID: sessionguard.MetricReplayDetected, Name: "sessionguard_replay_detected_total", Help: "Presentations of an already rotated refresh token."},
	{ID: sessionguard.MetricFamilyCompromised, Name: "sessionguard_family_compromised_total", Help: "Rotations rejected on a compromised family."},
	{ID: sessionguard.MetricFingerprintMismatch, Name: "sessionguard_fingerprint_mismatch_total", Help: "Rotations from a device other than the family's."},
	{ID: sessionguard.MetricSuspiciousRotation, Name: "sessionguard_suspicious_rotation_total", Help: "Rotations over the velocity limit."},
	{ID: sessionguard.MetricTokenInvalidated, Name: "sessionguard_token_invalidated_total", Help: "Identifiers written to the invalidation ledger."},
	{ID: sessionguard.MetricLogout, Name: "sessionguard_logout_total", Help: "Logout operations."},
	{ID: sessionguard.MetricFamilyRevoked, Name: "sessionguard_family_revoked_total", Help: "Session families closed by logout or revocation."},
	{ID: sessionguard.MetricSweepRuns, Name: "sessionguard_sweep_runs_total", Help: "Completed sweeper runs."},
	{ID: sessionguard.MetricSweepSkipped, Name: "sessionguard_sweep_skipped_total", Help: "Sweeper runs skipped while another was in flight."},
	{ID: sessionguard.MetricSweepLedgerPurged, Name: "sessionguard_sweep_ledger_purged_total", Help: "Expired ledger records removed."},
	{ID: sessionguard.MetricSweepFamiliesExpired, Name: "sessionguard_sweep_families_expired_total", Help: "Expired families removed."},
	{ID: sessionguard.MetricSweepFamiliesCompromised, Name: "sessionguard_sweep_families_compromised_total", Help: "Compromised families removed."},
	{ID: sessionguard.MetricSweepOrphansPurged, Name: "sessionguard_sweep_orphans_purged_total", Help: "Ledger records of missing families removed."},
	{ID: sessionguard.MetricSweepFamiliesInactive, Name: "sessionguard_sweep_families_inactive_total", Help: "Inactive families removed."},
	{ID: sessionguard.MetricSweepErrors, Name: "sessionguard_sweep_errors_total", Help: "Sweeper steps that failed after retries."},
}

// HistogramDefs lists every exported latency histogram.
var HistogramDefs = []HistogramDef{
	{ID: sessionguard.MetricRotateLatency, Name: "sessionguard_rotate_latency_seconds", Help: "Refresh token rotation latency."},
	{ID: sessionguard.MetricVerifyLatency, Name: "sessionguard_verify_latency_seconds", Help: "Token verification latency."},
}

// HistogramUpperBounds are the upper bounds of the engine's first seven
// buckets in seconds. The eighth is +Inf.
var HistogramUpperBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

// HistogramBoundSuffix names all eight buckets for instrument names.
var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// AuditDroppedName is the counter for events the audit dispatcher dropped.
const AuditDroppedName = "sessionguard_audit_dropped_total"

// NormalizeBuckets copies raw into a fixed eight-bucket array, zero-filling
// missing buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}

// Store health gauges.
const (
	RedisUpName      = "sessionguard_redis_up"
	RedisLatencyName = "sessionguard_redis_ping_seconds"
)
