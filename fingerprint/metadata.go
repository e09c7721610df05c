package fingerprint

import (
	"net"
	"net/http"
	"strings"
)

// RequestMetadata is the request-side input to fingerprinting. Empty fields are skipped.
type RequestMetadata struct {
	UserAgent           string
	Platform            string
	Timezone            string
	ClientIP            string
	AcceptLanguage      string
	AcceptEncoding      string
	DeviceID            string
	ScreenResolution    string
	ColorDepth          string
	HardwareConcurrency string
	TouchSupport        string
}

// FromRequest collects RequestMetadata from headers and the remote address.
// The first X-Forwarded-For hop wins over RemoteAddr.
func FromRequest(r *http.Request) RequestMetadata {
	if r == nil {
		return RequestMetadata{}
	}
	h := r.Header
	return RequestMetadata{
		UserAgent:           h.Get("User-Agent"),
		Platform:            h.Get("X-Platform"),
		Timezone:            h.Get("X-Timezone"),
		ClientIP:            clientIP(r),
		AcceptLanguage:      h.Get("Accept-Language"),
		AcceptEncoding:      h.Get("Accept-Encoding"),
		DeviceID:            h.Get("X-Device-Id"),
		ScreenResolution:    h.Get("X-Screen"),
		ColorDepth:          h.Get("X-Color-Depth"),
		HardwareConcurrency: h.Get("X-Hardware-Concurrency"),
		TouchSupport:        h.Get("X-Touch-Support"),
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
