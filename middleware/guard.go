package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/storefront/sessionguard"
	"github.com/storefront/sessionguard/fingerprint"
)

type claimsContextKey struct{}

// ClaimsFromContext returns the claims stored by Guard.
func ClaimsFromContext(ctx context.Context) (*sessionguard.Claims, bool) {
	claims, ok := ctx.Value(claimsContextKey{}).(*sessionguard.Claims)
	return claims, ok
}

// Guard admits requests carrying a valid access token.
func Guard(engine *sessionguard.Engine) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if engine == nil {
				writeError(w, sessionguard.ErrEngineNotReady)
				return
			}

			token, ok := bearerToken(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, sessionguard.ErrTokenInvalid)
				return
			}

			ctx := withRequestIP(r)
			claims, err := engine.VerifyToken(ctx, token, sessionguard.KindAccess)
			if err != nil {
				writeError(w, err)
				return
			}

			ctx = context.WithValue(ctx, claimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole must run after Guard.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, sessionguard.ErrTokenInvalid)
				return
			}
			if _, ok := allowed[claims.Role]; !ok {
				writeJSONError(w, http.StatusForbidden, "FORBIDDEN", "role not permitted")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(value string) (string, bool) {
	const bearer = "Bearer "
	if len(value) < len(bearer) || !strings.EqualFold(value[:len(bearer)], bearer) {
		return "", false
	}

	token := strings.TrimSpace(value[len(bearer):])
	if token == "" {
		return "", false
	}

	return token, true
}

func withRequestIP(r *http.Request) context.Context {
	ctx := r.Context()
	if ip := fingerprint.FromRequest(r).ClientIP; ip != "" {
		ctx = sessionguard.WithClientIP(ctx, ip)
	}
	return ctx
}
