package session

import "time"

// Device describes the device a family was issued to.
type Device struct {
	DeviceID    string
	LastActive  time.Time
	DeviceName  string
	DeviceType  string
	BrowserInfo string
	OSInfo      string
}

// Family is one rotation chain. ValidUntil is fixed at creation and
// ReuseDetected is never cleared.
type Family struct {
	FamilyID        string
	UserID          string
	Role            string
	FingerprintHash string
	ValidUntil      time.Time
	LastRotation    time.Time
	ReuseDetected   bool
	Device          Device
	CreatedAt       time.Time
	UpdatedAt       time.Time
	RotationCount   int64
}

// Terminal reports whether the family can no longer rotate at now.
func (f *Family) Terminal(now time.Time) bool {
	return f.ReuseDetected || now.After(f.ValidUntil)
}

// hash field names
const (
	fieldUserID        = "uid"
	fieldRole          = "role"
	fieldFingerprint   = "fp"
	fieldValidUntil    = "valid_until"
	fieldLastRotation  = "last_rotation"
	fieldReuse         = "reuse"
	fieldCreatedAt     = "created_at"
	fieldUpdatedAt     = "updated_at"
	fieldDeviceID      = "dev_id"
	fieldLastActive    = "dev_last_active"
	fieldDeviceName    = "dev_name"
	fieldDeviceType    = "dev_type"
	fieldDeviceBrowser = "dev_browser"
	fieldDeviceOS      = "dev_os"
	fieldRotations     = "rotations"
)
