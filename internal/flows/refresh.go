package flows

import (
	"context"
	"errors"
	"time"

	"github.com/storefront/sessionguard/fingerprint"
	"github.com/storefront/sessionguard/jwt"
	"github.com/storefront/sessionguard/session"
)

// RotateFailureKind classifies rotation failures for root-level mapping.
type RotateFailureKind int

const (
	RotateFailureNone RotateFailureKind = iota
	RotateFailureParse
	RotateFailureMint
	RotateFailureInvalidated
	RotateFailureFamilyNotFound
	RotateFailureFamilyCompromised
	RotateFailureFamilyExpired
	RotateFailureSuspicious
	RotateFailureFingerprintMismatch
	RotateFailureStore
	RotateFailureTimeout
)

// RotateResult carries either the new pair or failure metadata.
type RotateResult struct {
	Failure   RotateFailureKind
	Err       error
	Claims    *jwt.Claims
	Pair      Pair
	Rotations int64
}

type RotateFamilyStore interface {
	Rotate(ctx context.Context, in session.RotateInput) (int64, error)
}

// RotateDeps captures rotation dependencies.
type RotateDeps struct {
	Tokens     TokenManager
	Families   RotateFamilyStore
	NewTokenID func() (string, error)
	Now        func() time.Time
	Timeout    time.Duration

	// VelocityWindow and MaxRotations bound how often one family may rotate.
	VelocityWindow time.Duration
	MaxRotations   int

	// LedgerBuffer is the fraction of the token lifetime added to its expiry
	// before the ledger entry may be purged.
	LedgerBuffer float64

	// Leeway is the clock skew Tokens.Parse tolerates past exp.
	Leeway time.Duration

	// FamilyLedgerFactor multiplies the refresh TTL to get the lifetime of
	// the family-level entry written when a rotation compromises the family.
	FamilyLedgerFactor float64
}

// RunRotate exchanges a refresh token for a new pair in the same family.
//
// The next pair is minted in memory first; the family checks, the rotation
// record and the invalidation of the presented token then commit in one
// store call. A failed rotation never returns tokens.
//
// RotateFailureTimeout leaves the outcome unknown: the deadline can fire
// after the store already committed, so the presented token may be spent
// even though no pair came back.
func RunRotate(ctx context.Context, refreshToken string, meta fingerprint.RequestMetadata, deps RotateDeps) RotateResult {
	if deps.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, deps.Timeout)
		defer cancel()
	}

	claims, err := deps.Tokens.Parse(refreshToken, jwt.TypeRefresh)
	if err != nil {
		return RotateResult{Failure: RotateFailureParse, Err: err}
	}

	next, err := mintPair(deps.Tokens, deps.NewTokenID, claims.UID, claims.Role, claims.FID)
	if err != nil {
		return RotateResult{Failure: RotateFailureMint, Err: err, Claims: claims}
	}

	lifetime := claims.Lifetime()
	if lifetime <= 0 {
		lifetime = deps.Tokens.TTL(jwt.TypeRefresh)
	}
	ledgerExpiry := claims.ExpiresAt.Time.Add(ledgerTail(time.Duration(float64(lifetime)*deps.LedgerBuffer), deps.Leeway))

	now := deps.Now()
	familyExpiry := now.Add(ledgerRetention(deps.Tokens.TTL(jwt.TypeRefresh), deps.FamilyLedgerFactor, deps.Leeway))

	rotations, err := deps.Families.Rotate(ctx, session.RotateInput{
		FamilyID:           claims.FID,
		UserID:             claims.UID,
		TokenID:            claims.ID,
		FingerprintHash:    fingerprint.Of(meta),
		Now:                now,
		LedgerExpiry:       ledgerExpiry,
		FamilyLedgerExpiry: familyExpiry,
		Window:             deps.VelocityWindow,
		MaxRotations:       deps.MaxRotations,
	})
	if err != nil {
		return RotateResult{Failure: classifyRotateError(ctx, err), Err: err, Claims: claims}
	}

	return RotateResult{
		Failure:   RotateFailureNone,
		Claims:    claims,
		Pair:      next,
		Rotations: rotations,
	}
}

func classifyRotateError(ctx context.Context, err error) RotateFailureKind {
	switch {
	case errors.Is(err, session.ErrTokenInvalidated):
		return RotateFailureInvalidated
	case errors.Is(err, session.ErrFamilyNotFound):
		return RotateFailureFamilyNotFound
	case errors.Is(err, session.ErrFamilyCompromised):
		return RotateFailureFamilyCompromised
	case errors.Is(err, session.ErrFamilyExpired):
		return RotateFailureFamilyExpired
	case errors.Is(err, session.ErrSuspiciousRotation):
		return RotateFailureSuspicious
	case errors.Is(err, session.ErrFingerprintMismatch):
		return RotateFailureFingerprintMismatch
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return RotateFailureTimeout
	default:
		return RotateFailureStore
	}
}
