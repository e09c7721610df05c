package sessionguard

import (
	"errors"

	gjwt "github.com/golang-jwt/jwt/v5"

	"github.com/storefront/sessionguard/jwt"
)

// Code is the stable, machine-readable name of a failure. Route handlers
// map codes to HTTP statuses; codes never change meaning between releases.
type Code string

const (
	CodeTokenExpired           Code = "TOKEN_EXPIRED"
	CodeTokenInvalid           Code = "INVALID_TOKEN"
	CodeInvalidTokenType       Code = "INVALID_TOKEN_TYPE"
	CodeTokenInvalidated       Code = "TOKEN_INVALIDATED"
	CodeInvalidTokenFamily     Code = "INVALID_TOKEN_FAMILY"
	CodeTokenFamilyExpired     Code = "TOKEN_FAMILY_EXPIRED"
	CodeTokenFamilyCompromised Code = "TOKEN_FAMILY_COMPROMISED"
	CodeFingerprintMismatch    Code = "TOKEN_FINGERPRINT_MISMATCH"
	CodeSuspiciousRotation     Code = "SUSPICIOUS_ROTATION_ACTIVITY"
	CodeWeakSecret             Code = "WEAK_SECRET"
	CodeIssuance               Code = "TOKEN_ISSUANCE_FAILED"
	CodeStoreUnavailable       Code = "STORE_UNAVAILABLE"
	CodeEngineNotReady         Code = "ENGINE_NOT_READY"
	CodeInvalidRequest         Code = "INVALID_REQUEST"
)

// Error is a tagged failure. Two *Error values match under errors.Is when
// their codes are equal, so a wrapped error still matches its sentinel.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// wrap returns a copy of e carrying cause. Causes are for logs only and
// are never shown to clients.
func (e *Error) wrap(cause error) error {
	if cause == nil {
		return e
	}
	return &Error{Code: e.Code, Message: e.Message, cause: cause}
}

var (
	ErrTokenExpired             = &Error{Code: CodeTokenExpired, Message: "token expired"}
	ErrTokenInvalid             = &Error{Code: CodeTokenInvalid, Message: "invalid token"}
	ErrInvalidTokenType         = &Error{Code: CodeInvalidTokenType, Message: "invalid token type"}
	ErrTokenInvalidated         = &Error{Code: CodeTokenInvalidated, Message: "token has been invalidated"}
	ErrInvalidTokenFamily       = &Error{Code: CodeInvalidTokenFamily, Message: "invalid token family"}
	ErrTokenFamilyExpired       = &Error{Code: CodeTokenFamilyExpired, Message: "token family expired"}
	ErrTokenFamilyCompromised   = &Error{Code: CodeTokenFamilyCompromised, Message: "token family compromised"}
	ErrTokenFingerprintMismatch = &Error{Code: CodeFingerprintMismatch, Message: "token fingerprint mismatch"}
	ErrSuspiciousRotation       = &Error{Code: CodeSuspiciousRotation, Message: "suspicious rotation activity"}
	ErrWeakSecret               = &Error{Code: CodeWeakSecret, Message: "signing secret too weak"}
	ErrIssuance                 = &Error{Code: CodeIssuance, Message: "token issuance failed"}
	ErrStoreUnavailable         = &Error{Code: CodeStoreUnavailable, Message: "session store unavailable"}
	ErrEngineNotReady           = &Error{Code: CodeEngineNotReady, Message: "engine not initialized"}
	ErrInvalidRequest           = &Error{Code: CodeInvalidRequest, Message: "invalid request"}
)

// CodeOf returns the code carried by err, or "" when err is not tagged.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// SecurityFailure reports whether err means the family was closed as a
// suspected theft. Callers should clear client credentials.
func SecurityFailure(err error) bool {
	switch CodeOf(err) {
	case CodeTokenFamilyCompromised, CodeFingerprintMismatch, CodeSuspiciousRotation:
		return true
	default:
		return false
	}
}

// tokenError maps a signature or claim failure to its public error.
func tokenError(err error) error {
	switch {
	case errors.Is(err, gjwt.ErrTokenExpired):
		return ErrTokenExpired.wrap(err)
	case errors.Is(err, jwt.ErrWrongType):
		return ErrInvalidTokenType.wrap(err)
	default:
		return ErrTokenInvalid.wrap(err)
	}
}

func storeError(err error) error {
	return ErrStoreUnavailable.wrap(err)
}
