package flows

import (
	"context"
	"errors"
	"time"

	"github.com/storefront/sessionguard/jwt"
	"github.com/storefront/sessionguard/session"
)

// VerifyFailureKind classifies verification failures for root-level mapping.
type VerifyFailureKind int

const (
	VerifyFailureNone VerifyFailureKind = iota
	VerifyFailureParse
	VerifyFailureInvalidated
	VerifyFailureFamilyNotFound
	VerifyFailureFamilyCompromised
	VerifyFailureFamilyExpired
	VerifyFailureStore
)

// VerifyResult returns decoded claims or a classified failure.
type VerifyResult struct {
	Failure VerifyFailureKind
	Err     error
	Claims  *jwt.Claims
	Family  *session.Family
}

type VerifyLedger interface {
	IsInvalidated(ctx context.Context, ids ...string) (bool, error)
}

type VerifyFamilyStore interface {
	Get(ctx context.Context, familyID string) (*session.Family, error)
}

// VerifyDeps captures verification dependencies.
type VerifyDeps struct {
	Tokens   TokenManager
	Ledger   VerifyLedger
	Families VerifyFamilyStore
	Now      func() time.Time
}

// RunVerify checks signature, claim shape and the invalidation ledger. For
// refresh tokens it also requires a live, uncompromised family. Access tokens
// are checked against the family only through its family-level ledger entry.
func RunVerify(ctx context.Context, tokenStr string, typ jwt.TokenType, deps VerifyDeps) VerifyResult {
	claims, err := deps.Tokens.Parse(tokenStr, typ)
	if err != nil {
		return VerifyResult{Failure: VerifyFailureParse, Err: err}
	}

	invalidated, err := deps.Ledger.IsInvalidated(ctx, claims.ID, claims.FID)
	if err != nil {
		return VerifyResult{Failure: VerifyFailureStore, Err: err, Claims: claims}
	}
	if invalidated {
		// A family flagged by a failed rotation is on the ledger too; report
		// the compromise while its record is still around.
		if fam, err := deps.Families.Get(ctx, claims.FID); err == nil && fam.ReuseDetected && fam.UserID == claims.UID {
			return VerifyResult{Failure: VerifyFailureFamilyCompromised, Claims: claims, Family: fam}
		}
		return VerifyResult{Failure: VerifyFailureInvalidated, Claims: claims}
	}

	if typ != jwt.TypeRefresh {
		return VerifyResult{Failure: VerifyFailureNone, Claims: claims}
	}

	fam, err := deps.Families.Get(ctx, claims.FID)
	if err != nil {
		if errors.Is(err, session.ErrFamilyNotFound) {
			return VerifyResult{Failure: VerifyFailureFamilyNotFound, Err: err, Claims: claims}
		}
		return VerifyResult{Failure: VerifyFailureStore, Err: err, Claims: claims}
	}
	if fam.UserID != claims.UID {
		return VerifyResult{Failure: VerifyFailureFamilyNotFound, Claims: claims}
	}
	if fam.ReuseDetected {
		return VerifyResult{Failure: VerifyFailureFamilyCompromised, Claims: claims, Family: fam}
	}
	if deps.Now().After(fam.ValidUntil) {
		return VerifyResult{Failure: VerifyFailureFamilyExpired, Claims: claims, Family: fam}
	}

	return VerifyResult{Failure: VerifyFailureNone, Claims: claims, Family: fam}
}
