package flows

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/storefront/sessionguard/fingerprint"
	"github.com/storefront/sessionguard/session"
)

// IssueFailureKind classifies issuance failures for root-level mapping.
type IssueFailureKind int

const (
	IssueFailureNone IssueFailureKind = iota
	IssueFailureInput
	IssueFailureFamilyID
	IssueFailureSign
	IssueFailurePersist
)

// IssueRequest is the login-time input: who is signing in and from where.
type IssueRequest struct {
	UserID   string
	Role     string
	Metadata fingerprint.RequestMetadata
}

// IssueResult carries the new pair and family, or failure metadata.
type IssueResult struct {
	Failure IssueFailureKind
	Err     error
	Pair    Pair
	Family  *session.Family
}

type IssueFamilyStore interface {
	Create(ctx context.Context, f *session.Family) error
}

// IssueDeps captures issuance dependencies.
type IssueDeps struct {
	Tokens       TokenManager
	Families     IssueFamilyStore
	NewFamilyID  func() (string, error)
	NewTokenID   func() (string, error)
	Now          func() time.Time
	MaxFamilyAge time.Duration
}

// RunIssue creates a new session family and signs its first token pair.
// Tokens are signed before the family is persisted so a signing failure
// leaves no family behind.
func RunIssue(ctx context.Context, req IssueRequest, deps IssueDeps) IssueResult {
	if strings.TrimSpace(req.UserID) == "" {
		return IssueResult{Failure: IssueFailureInput, Err: errors.New("user id is required")}
	}

	familyID, err := deps.NewFamilyID()
	if err != nil {
		return IssueResult{Failure: IssueFailureFamilyID, Err: err}
	}

	now := deps.Now()
	device := fingerprint.ParseDevice(req.Metadata)
	fam := &session.Family{
		FamilyID:        familyID,
		UserID:          req.UserID,
		Role:            req.Role,
		FingerprintHash: fingerprint.Of(req.Metadata),
		ValidUntil:      now.Add(deps.MaxFamilyAge),
		LastRotation:    now,
		ReuseDetected:   false,
		CreatedAt:       now,
		UpdatedAt:       now,
		Device: session.Device{
			DeviceID:    device.DeviceID,
			LastActive:  now,
			DeviceName:  device.DeviceName,
			DeviceType:  device.DeviceType,
			BrowserInfo: device.Browser,
			OSInfo:      device.OS,
		},
	}

	pair, err := mintPair(deps.Tokens, deps.NewTokenID, req.UserID, req.Role, familyID)
	if err != nil {
		return IssueResult{Failure: IssueFailureSign, Err: err, Family: fam}
	}

	if err := deps.Families.Create(ctx, fam); err != nil {
		return IssueResult{Failure: IssueFailurePersist, Err: err, Family: fam}
	}

	return IssueResult{Failure: IssueFailureNone, Pair: pair, Family: fam}
}
