package sessionguard

import (
	"time"

	"github.com/storefront/sessionguard/fingerprint"
	"github.com/storefront/sessionguard/jwt"
	"github.com/storefront/sessionguard/session"
)

// TokenKind selects which secret and claim shape VerifyToken expects.
type TokenKind = jwt.TokenType

const (
	KindAccess  = jwt.TypeAccess
	KindRefresh = jwt.TypeRefresh
)

// RequestMetadata is the client information a fingerprint is derived from.
type RequestMetadata = fingerprint.RequestMetadata

// TokenPair is what login and refresh hand back to the client.
type TokenPair struct {
	AccessToken      string
	RefreshToken     string
	FamilyID         string
	AccessExpiresAt  time.Time
	RefreshExpiresAt time.Time
}

// Claims is the verified content of a token.
type Claims struct {
	TokenID   string
	UserID    string
	Role      string
	FamilyID  string
	Kind      TokenKind
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// SessionInfo describes one live session family for account pages. It
// never carries the fingerprint hash.
type SessionInfo struct {
	FamilyID      string
	CreatedAt     time.Time
	LastRotation  time.Time
	ValidUntil    time.Time
	RotationCount int64
	Device        DeviceInfo
}

type DeviceInfo struct {
	DeviceID    string
	DeviceName  string
	DeviceType  string
	BrowserInfo string
	OSInfo      string
	LastActive  time.Time
}

// LogoutReport says which parts of a logout took effect.
type LogoutReport struct {
	AccessInvalidated  bool
	RefreshInvalidated bool
	FamilyClosed       bool
}

func claimsView(c *jwt.Claims) *Claims {
	if c == nil {
		return nil
	}
	out := &Claims{
		TokenID:  c.ID,
		UserID:   c.UID,
		Role:     c.Role,
		FamilyID: c.FID,
		Kind:     c.Type,
	}
	if c.IssuedAt != nil {
		out.IssuedAt = c.IssuedAt.Time
	}
	if c.ExpiresAt != nil {
		out.ExpiresAt = c.ExpiresAt.Time
	}
	return out
}

func sessionView(f *session.Family) SessionInfo {
	return SessionInfo{
		FamilyID:      f.FamilyID,
		CreatedAt:     f.CreatedAt,
		LastRotation:  f.LastRotation,
		ValidUntil:    f.ValidUntil,
		RotationCount: f.RotationCount,
		Device: DeviceInfo{
			DeviceID:    f.Device.DeviceID,
			DeviceName:  f.Device.DeviceName,
			DeviceType:  f.Device.DeviceType,
			BrowserInfo: f.Device.BrowserInfo,
			OSInfo:      f.Device.OSInfo,
			LastActive:  f.Device.LastActive,
		},
	}
}
