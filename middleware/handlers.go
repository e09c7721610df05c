package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/storefront/sessionguard"
	"github.com/storefront/sessionguard/fingerprint"
)

// RefreshCookieName is the cookie that carries the refresh token.
const RefreshCookieName = "refreshToken"

// CookieConfig shapes the refresh cookie. Insecure exists for plain-HTTP
// local development only.
type CookieConfig struct {
	Path     string
	Domain   string
	Insecure bool
}

// Handlers serves the session endpoints on top of an engine.
type Handlers struct {
	engine *sessionguard.Engine
	cookie CookieConfig
	logger *slog.Logger
}

func NewHandlers(engine *sessionguard.Engine, cookie CookieConfig, logger *slog.Logger) *Handlers {
	if cookie.Path == "" {
		cookie.Path = "/auth"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{engine: engine, cookie: cookie, logger: logger}
}

type tokenResponse struct {
	AccessToken     string    `json:"accessToken"`
	AccessExpiresAt time.Time `json:"accessExpiresAt"`
}

type sessionResponse struct {
	FamilyID      string    `json:"familyId"`
	CreatedAt     time.Time `json:"createdAt"`
	LastRotation  time.Time `json:"lastRotation"`
	ValidUntil    time.Time `json:"validUntil"`
	RotationCount int64     `json:"rotationCount"`
	DeviceName    string    `json:"deviceName"`
	DeviceType    string    `json:"deviceType"`
	Browser       string    `json:"browser"`
	OS            string    `json:"os"`
	LastActive    time.Time `json:"lastActive"`
}

type logoutAllResponse struct {
	Revoked int `json:"revoked"`
}

// Refresh rotates the refresh token from the cookie. The new refresh token
// replaces the cookie; only the access token is returned in the body.
func (h *Handlers) Refresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	refresh, ok := refreshFromCookie(r)
	if !ok {
		writeError(w, sessionguard.ErrTokenInvalid)
		return
	}

	pair, err := h.engine.RotateTokens(withRequestIP(r), refresh, fingerprint.FromRequest(r))
	if err != nil {
		if sessionguard.SecurityFailure(err) || sessionguard.CodeOf(err) == sessionguard.CodeTokenInvalidated {
			h.clearRefreshCookie(w)
		}
		if StatusFor(err) >= http.StatusInternalServerError {
			h.logger.ErrorContext(r.Context(), "refresh.fail", slog.String("code", string(sessionguard.CodeOf(err))))
		}
		writeError(w, err)
		return
	}

	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
	writeJSON(w, http.StatusOK, tokenResponse{
		AccessToken:     pair.AccessToken,
		AccessExpiresAt: pair.AccessExpiresAt,
	})
}

// Logout invalidates the presented tokens and closes the session family.
// It always clears the cookie; a request with no usable token is 401.
func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	access, _ := bearerToken(r.Header.Get("Authorization"))
	refresh, _ := refreshFromCookie(r)
	h.clearRefreshCookie(w)

	if _, err := h.engine.Logout(withRequestIP(r), access, refresh, true); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll closes every session family of the authenticated user. It
// must run behind Guard.
func (h *Handlers) LogoutAll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, sessionguard.ErrTokenInvalid)
		return
	}

	n, err := h.engine.RevokeAllForUser(r.Context(), claims.UserID)
	h.clearRefreshCookie(w)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, logoutAllResponse{Revoked: n})
}

// Sessions lists the authenticated user's active devices. It must run
// behind Guard.
func (h *Handlers) Sessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, sessionguard.ErrTokenInvalid)
		return
	}

	sessions, err := h.engine.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]sessionResponse, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, sessionResponse{
			FamilyID:      s.FamilyID,
			CreatedAt:     s.CreatedAt,
			LastRotation:  s.LastRotation,
			ValidUntil:    s.ValidUntil,
			RotationCount: s.RotationCount,
			DeviceName:    s.Device.DeviceName,
			DeviceType:    s.Device.DeviceType,
			Browser:       s.Device.BrowserInfo,
			OS:            s.Device.OSInfo,
			LastActive:    s.Device.LastActive,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// SetRefreshCookie stores a freshly issued refresh token, for the login
// handler that called GenerateTokens.
func (h *Handlers) SetRefreshCookie(w http.ResponseWriter, pair sessionguard.TokenPair) {
	h.setRefreshCookie(w, pair.RefreshToken, pair.RefreshExpiresAt)
}

func (h *Handlers) setRefreshCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    token,
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		Expires:  expires,
		MaxAge:   int(time.Until(expires).Seconds()),
		HttpOnly: true,
		Secure:   !h.cookie.Insecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handlers) clearRefreshCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     RefreshCookieName,
		Value:    "",
		Path:     h.cookie.Path,
		Domain:   h.cookie.Domain,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   !h.cookie.Insecure,
		SameSite: http.SameSiteStrictMode,
	})
}

func refreshFromCookie(r *http.Request) (string, bool) {
	c, err := r.Cookie(RefreshCookieName)
	if err != nil {
		return "", false
	}
	v := strings.TrimSpace(c.Value)
	return v, v != ""
}
