package fingerprint

import "strings"

const unknown = "unknown"

// DeviceInfo is a display description of the requesting device.
type DeviceInfo struct {
	DeviceID   string
	DeviceName string
	DeviceType string
	Browser    string
	OS         string
}

type uaPattern struct {
	needle string
	name   string
}

// Order matters: Edge and Opera carry "chrome", Chrome carries "safari".
var browserPatterns = []uaPattern{
	{"edg/", "Edge"},
	{"opr/", "Opera"},
	{"opera", "Opera"},
	{"samsungbrowser", "Samsung Internet"},
	{"firefox", "Firefox"},
	{"fxios", "Firefox"},
	{"crios", "Chrome"},
	{"chrome", "Chrome"},
	{"safari", "Safari"},
	{"msie", "Internet Explorer"},
	{"trident", "Internet Explorer"},
}

var osPatterns = []uaPattern{
	{"windows", "Windows"},
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"android", "Android"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"cros", "ChromeOS"},
	{"linux", "Linux"},
}

// ParseDevice derives DeviceInfo from the user agent. Unknown parts default to "unknown".
func ParseDevice(meta RequestMetadata) DeviceInfo {
	ua := strings.ToLower(meta.UserAgent)

	info := DeviceInfo{
		DeviceID:   strings.TrimSpace(meta.DeviceID),
		DeviceType: deviceType(ua),
		Browser:    match(ua, browserPatterns),
		OS:         match(ua, osPatterns),
	}
	info.DeviceName = info.Browser + " on " + info.OS
	return info
}

func deviceType(ua string) string {
	switch {
	case ua == "":
		return unknown
	case strings.Contains(ua, "tablet") || strings.Contains(ua, "ipad"):
		return "tablet"
	case strings.Contains(ua, "mobile"):
		return "mobile"
	default:
		return "desktop"
	}
}

func match(ua string, patterns []uaPattern) string {
	if ua == "" {
		return unknown
	}
	for _, p := range patterns {
		if strings.Contains(ua, p.needle) {
			return p.name
		}
	}
	return unknown
}
