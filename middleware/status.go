package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/storefront/sessionguard"
)

// StatusFor maps an engine error to an HTTP status. Family security
// failures are 403; every other token problem is 401.
func StatusFor(err error) int {
	switch sessionguard.CodeOf(err) {
	case sessionguard.CodeTokenExpired,
		sessionguard.CodeTokenInvalid,
		sessionguard.CodeInvalidTokenType,
		sessionguard.CodeTokenInvalidated,
		sessionguard.CodeInvalidTokenFamily,
		sessionguard.CodeTokenFamilyExpired:
		return http.StatusUnauthorized
	case sessionguard.CodeTokenFamilyCompromised,
		sessionguard.CodeFingerprintMismatch,
		sessionguard.CodeSuspiciousRotation:
		return http.StatusForbidden
	case sessionguard.CodeInvalidRequest:
		return http.StatusBadRequest
	case sessionguard.CodeStoreUnavailable, sessionguard.CodeEngineNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error apiError `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: apiError{Code: code, Message: msg}})
}

// writeError never echoes the cause; store errors carry connection
// details.
func writeError(w http.ResponseWriter, err error) {
	code := string(sessionguard.CodeOf(err))
	msg := "internal error"
	var tagged *sessionguard.Error
	if errors.As(err, &tagged) {
		msg = tagged.Message
	}
	if code == "" {
		code = "INTERNAL_ERROR"
	}
	writeJSONError(w, StatusFor(err), code, msg)
}
