package flows

import (
	"time"

	"github.com/storefront/sessionguard/jwt"
)

// TokenManager is the signing surface flows need from jwt.Manager.
type TokenManager interface {
	Create(in jwt.Issue) (string, time.Time, error)
	Parse(tokenStr string, want jwt.TokenType) (*jwt.Claims, error)
	TTL(typ jwt.TokenType) time.Duration
}

// Pair is a freshly minted access/refresh pair bound to one family.
type Pair struct {
	AccessToken      string
	RefreshToken     string
	AccessTokenID    string
	RefreshTokenID   string
	FamilyID         string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

func mintPair(tokens TokenManager, newTokenID func() (string, error), userID, role, familyID string) (Pair, error) {
	accessID, err := newTokenID()
	if err != nil {
		return Pair{}, err
	}
	refreshID, err := newTokenID()
	if err != nil {
		return Pair{}, err
	}

	access, accessExp, err := tokens.Create(jwt.Issue{
		Type:     jwt.TypeAccess,
		UserID:   userID,
		Role:     role,
		FamilyID: familyID,
		TokenID:  accessID,
	})
	if err != nil {
		return Pair{}, err
	}
	refresh, refreshExp, err := tokens.Create(jwt.Issue{
		Type:     jwt.TypeRefresh,
		UserID:   userID,
		Role:     role,
		FamilyID: familyID,
		TokenID:  refreshID,
	})
	if err != nil {
		return Pair{}, err
	}

	return Pair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessTokenID:    accessID,
		RefreshTokenID:   refreshID,
		FamilyID:         familyID,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

// ledgerTail is how long past a token's expiry its ledger entry must stay.
// Parse accepts a token until exp + leeway, so the entry outlives that.
func ledgerTail(buffer, leeway time.Duration) time.Duration {
	if floor := leeway + time.Second; buffer < floor {
		return floor
	}
	return buffer
}

// ledgerRetention scales lifetime by factor, keeping at least the leeway
// tail past it.
func ledgerRetention(lifetime time.Duration, factor float64, leeway time.Duration) time.Duration {
	return lifetime + ledgerTail(time.Duration(float64(lifetime)*factor)-lifetime, leeway)
}
