package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Data is normalized RequestMetadata, ready to hash.
type Data struct {
	UserAgent           string
	Platform            string
	Timezone            string
	IP                  string
	AcceptLanguage      string
	AcceptEncoding      string
	DeviceID            string
	ScreenResolution    string
	ColorDepth          string
	HardwareConcurrency string
	TouchSupport        string
}

// Generate normalizes metadata. Whitespace is trimmed everywhere; encodings and
// languages are lower-cased since clients vary their casing.
func Generate(meta RequestMetadata) Data {
	return Data{
		UserAgent:           strings.TrimSpace(meta.UserAgent),
		Platform:            strings.TrimSpace(meta.Platform),
		Timezone:            strings.TrimSpace(meta.Timezone),
		IP:                  strings.TrimSpace(meta.ClientIP),
		AcceptLanguage:      strings.ToLower(strings.TrimSpace(meta.AcceptLanguage)),
		AcceptEncoding:      strings.ToLower(strings.TrimSpace(meta.AcceptEncoding)),
		DeviceID:            strings.TrimSpace(meta.DeviceID),
		ScreenResolution:    strings.TrimSpace(meta.ScreenResolution),
		ColorDepth:          strings.TrimSpace(meta.ColorDepth),
		HardwareConcurrency: strings.TrimSpace(meta.HardwareConcurrency),
		TouchSupport:        strings.TrimSpace(meta.TouchSupport),
	}
}

// Hash is a hex SHA-256 over the present fields in fixed order. Each present
// field is written as "name=value|" so that moving a value between fields
// changes the digest.
func Hash(d Data) string {
	fields := [...]struct {
		name  string
		value string
	}{
		{"ua", d.UserAgent},
		{"platform", d.Platform},
		{"tz", d.Timezone},
		{"ip", d.IP},
		{"lang", d.AcceptLanguage},
		{"enc", d.AcceptEncoding},
		{"device", d.DeviceID},
		{"screen", d.ScreenResolution},
		{"depth", d.ColorDepth},
		{"cpu", d.HardwareConcurrency},
		{"touch", d.TouchSupport},
	}

	h := sha256.New()
	for _, f := range fields {
		if f.value == "" {
			continue
		}
		h.Write([]byte(f.name))
		h.Write([]byte{'='})
		h.Write([]byte(f.value))
		h.Write([]byte{'|'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Of is Hash(Generate(meta)).
func Of(meta RequestMetadata) string {
	return Hash(Generate(meta))
}
