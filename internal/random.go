package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"

	"github.com/google/uuid"
)

// FamilyID is 128 bits of crypto/rand output.
type FamilyID [16]byte

func NewFamilyID() (FamilyID, error) {
	var fid FamilyID
	_, err := rand.Read(fid[:])
	return fid, err
}

func (f FamilyID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(f[:])
}

func ParseFamilyID(familyID string) (FamilyID, error) {
	var fid FamilyID

	raw, err := base64.RawURLEncoding.DecodeString(familyID)
	if err != nil {
		return fid, err
	}
	if len(raw) != len(fid) {
		return fid, errors.New("invalid family id size")
	}

	copy(fid[:], raw)
	return fid, nil
}

// NewTokenID returns a fresh jti.
func NewTokenID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}
