package flows

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/storefront/sessionguard/jwt"
	"github.com/storefront/sessionguard/ledger"
)

// ErrNoToken is returned by RunLogout when neither token could be used.
var ErrNoToken = errors.New("no usable token presented")

type LogoutLedger interface {
	Invalidate(ctx context.Context, rec ledger.Record) (bool, error)
}

type LogoutFamilyStore interface {
	Delete(ctx context.Context, familyID string) (bool, error)
	UserFamilyIDs(ctx context.Context, userID string) ([]string, error)
}

// LogoutDeps captures invalidation, logout and revocation dependencies.
type LogoutDeps struct {
	Tokens   TokenManager
	Ledger   LogoutLedger
	Families LogoutFamilyStore
	Now      func() time.Time

	// ExpiryFactor multiplies a token lifetime to get its ledger retention.
	ExpiryFactor float64

	// Leeway is the clock skew Tokens.Parse tolerates past exp.
	Leeway time.Duration
}

// InvalidateRequest names one identifier to put on the ledger.
type InvalidateRequest struct {
	TokenID   string
	TokenType string
	FamilyID  string
}

// RunInvalidate records TokenID on the ledger for ExpiryFactor times the
// configured lifetime of its type. It reports whether a new record was
// written; an identifier already present is not an error.
func RunInvalidate(ctx context.Context, req InvalidateRequest, deps LogoutDeps) (bool, error) {
	var lifetime time.Duration
	switch req.TokenType {
	case ledger.TypeAccess:
		lifetime = deps.Tokens.TTL(jwt.TypeAccess)
	case ledger.TypeRefresh, ledger.TypeFamily:
		lifetime = deps.Tokens.TTL(jwt.TypeRefresh)
	default:
		return false, fmt.Errorf("%w: unknown token type %q", ledger.ErrInvalidRecord, req.TokenType)
	}

	return deps.Ledger.Invalidate(ctx, ledger.Record{
		JTI:        req.TokenID,
		ExpiryTime: deps.Now().Add(ledgerRetention(lifetime, deps.ExpiryFactor, deps.Leeway)),
		TokenType:  req.TokenType,
		FamilyID:   req.FamilyID,
	})
}

// LogoutRequest carries the tokens a client presented at logout.
type LogoutRequest struct {
	AccessToken  string
	RefreshToken string
	CloseFamily  bool
}

// LogoutResult reports what logout invalidated.
type LogoutResult struct {
	Err                error
	UserID             string
	FamilyID           string
	AccessInvalidated  bool
	RefreshInvalidated bool
	FamilyClosed       bool
}

// RunLogout invalidates the presented access token and, when present and
// belonging to the same user, the refresh token. Tokens that fail to parse
// are skipped; at least one must be usable. With CloseFamily the family is
// revoked as well.
func RunLogout(ctx context.Context, req LogoutRequest, deps LogoutDeps) LogoutResult {
	var (
		access    *jwt.Claims
		refresh   *jwt.Claims
		parseErrs error
	)
	if req.AccessToken != "" {
		c, err := deps.Tokens.Parse(req.AccessToken, jwt.TypeAccess)
		if err != nil {
			parseErrs = errors.Join(parseErrs, err)
		} else {
			access = c
		}
	}
	if req.RefreshToken != "" {
		c, err := deps.Tokens.Parse(req.RefreshToken, jwt.TypeRefresh)
		if err != nil {
			parseErrs = errors.Join(parseErrs, err)
		} else {
			refresh = c
		}
	}
	if access != nil && refresh != nil && access.UID != refresh.UID {
		refresh = nil
	}
	if access == nil && refresh == nil {
		return LogoutResult{Err: errors.Join(ErrNoToken, parseErrs)}
	}

	res := LogoutResult{}
	if access != nil {
		res.UserID, res.FamilyID = access.UID, access.FID
		if _, err := RunInvalidate(ctx, InvalidateRequest{
			TokenID:   access.ID,
			TokenType: ledger.TypeAccess,
			FamilyID:  access.FID,
		}, deps); err != nil {
			res.Err = err
			return res
		}
		res.AccessInvalidated = true
	}
	if refresh != nil {
		res.UserID, res.FamilyID = refresh.UID, refresh.FID
		if _, err := RunInvalidate(ctx, InvalidateRequest{
			TokenID:   refresh.ID,
			TokenType: ledger.TypeRefresh,
			FamilyID:  refresh.FID,
		}, deps); err != nil {
			res.Err = err
			return res
		}
		res.RefreshInvalidated = true
	}

	if req.CloseFamily && res.FamilyID != "" {
		if err := RunRevokeFamily(ctx, res.FamilyID, deps); err != nil {
			res.Err = err
			return res
		}
		res.FamilyClosed = true
	}
	return res
}

// RunRevokeFamily writes a family-level ledger entry, then deletes the
// family. Every token of the family is rejected from the first write on.
func RunRevokeFamily(ctx context.Context, familyID string, deps LogoutDeps) error {
	if familyID == "" {
		return fmt.Errorf("%w: empty family id", ledger.ErrInvalidRecord)
	}
	if _, err := RunInvalidate(ctx, InvalidateRequest{
		TokenID:   familyID,
		TokenType: ledger.TypeFamily,
		FamilyID:  familyID,
	}, deps); err != nil {
		return err
	}
	_, err := deps.Families.Delete(ctx, familyID)
	return err
}

// RunRevokeAllForUser revokes every family indexed for userID and returns
// how many were revoked. It keeps going past individual failures.
func RunRevokeAllForUser(ctx context.Context, userID string, deps LogoutDeps) (int, error) {
	ids, err := deps.Families.UserFamilyIDs(ctx, userID)
	if err != nil {
		return 0, err
	}

	var (
		revoked int
		errs    error
	)
	for _, id := range ids {
		if err := RunRevokeFamily(ctx, id, deps); err != nil {
			errs = errors.Join(errs, fmt.Errorf("family %s: %w", id, err))
			continue
		}
		revoked++
	}
	return revoked, errs
}
