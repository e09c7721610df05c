package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenType is the value of the "typ" claim.
type TokenType string

const (
	TypeAccess  TokenType = "access"
	TypeRefresh TokenType = "refresh"
)

var (
	// ErrWrongType is returned when a verified token carries a different "typ" than the caller expects.
	ErrWrongType = errors.New("token type mismatch")
	// ErrSubjectMismatch is returned when "sub" differs from "uid".
	ErrSubjectMismatch = errors.New("token subject mismatch")
	// ErrMissingClaims is returned when jti, uid or fid is absent.
	ErrMissingClaims = errors.New("token missing required claims")
)

// Config holds the signing material and validation policy.
type Config struct {
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	AccessSecret  []byte
	RefreshSecret []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	Now           func() time.Time
}

// Manager signs and parses tokens. It is immutable after NewManager and safe for concurrent use.
type Manager struct {
	config Config
}

// Claims is the payload shared by access and refresh tokens.
type Claims struct {
	UID  string    `json:"uid"`
	Role string    `json:"role,omitempty"`
	Type TokenType `json:"typ"`
	FID  string    `json:"fid"`
	jwt.RegisteredClaims
}

// Lifetime returns exp - iat, or zero when either is missing.
func (c *Claims) Lifetime() time.Duration {
	if c == nil || c.ExpiresAt == nil || c.IssuedAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(c.IssuedAt.Time)
}

// Issue is the input for a single signed token.
type Issue struct {
	Type     TokenType
	UserID   string
	Role     string
	FamilyID string
	TokenID  string
}

func NewManager(cfg Config) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.AccessTTL >= cfg.RefreshTTL {
		return nil, errors.New("access TTL must be shorter than refresh TTL")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}
	if cfg.MaxFutureIAT == 0 {
		cfg.MaxFutureIAT = 10 * time.Minute
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("invalid MaxFutureIAT configuration")
	}
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("hs256 requires access and refresh secrets")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Manager{config: cfg}, nil
}

// TTL returns the configured lifetime for a token kind.
func (j *Manager) TTL(typ TokenType) time.Duration {
	if typ == TypeRefresh {
		return j.config.RefreshTTL
	}
	return j.config.AccessTTL
}

// Create signs one token and returns it with its expiry.
func (j *Manager) Create(in Issue) (string, time.Time, error) {
	if in.UserID == "" || in.FamilyID == "" || in.TokenID == "" {
		return "", time.Time{}, ErrMissingClaims
	}
	key, err := j.secret(in.Type)
	if err != nil {
		return "", time.Time{}, err
	}

	now := j.config.Now()
	exp := now.Add(j.TTL(in.Type))

	claims := Claims{
		UID:  in.UserID,
		Role: in.Role,
		Type: in.Type,
		FID:  in.FamilyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   in.UserID,
			ID:        in.TokenID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    j.config.Issuer,
		},
	}
	if j.config.Audience != "" {
		claims.Audience = jwt.ClaimStrings{j.config.Audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Parse verifies the signature, registered claims and claim shape of tokenStr
// and requires its "typ" to equal want.
func (j *Manager) Parse(tokenStr string, want TokenType) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.config.Now),
	}
	if j.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(j.config.Leeway))
	}
	if j.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(j.config.Issuer))
	}
	if j.config.Audience != "" {
		options = append(options, jwt.WithAudience(j.config.Audience))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		c, ok := t.Claims.(*Claims)
		if !ok {
			return nil, jwt.ErrTokenInvalidClaims
		}
		// The unverified typ only selects a key; it is re-checked below once the signature holds.
		return j.secret(c.Type)
	})
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	if claims.IssuedAt != nil && claims.IssuedAt.Time.After(j.config.Now().Add(j.config.MaxFutureIAT)) {
		return nil, errors.New("token iat too far in the future")
	}
	if claims.Type != want {
		return claims, ErrWrongType
	}
	if claims.ID == "" || claims.UID == "" || claims.FID == "" {
		return nil, ErrMissingClaims
	}
	if claims.Subject != claims.UID {
		return nil, ErrSubjectMismatch
	}

	return claims, nil
}

func (j *Manager) secret(typ TokenType) ([]byte, error) {
	switch typ {
	case TypeAccess:
		return j.config.AccessSecret, nil
	case TypeRefresh:
		return j.config.RefreshSecret, nil
	default:
		return nil, fmt.Errorf("unknown token type %q", typ)
	}
}
