package sessionguard

import (
	"errors"
	"fmt"
)

// MinSecretLength is the minimum number of hex characters in a signing secret.
const MinSecretLength = 64

// ValidateSecrets checks the access and refresh signing secrets. Each must be
// at least MinSecretLength hexadecimal characters, and they must differ.
// Secrets that look like human passwords are rejected.
func ValidateSecrets(accessSecret, refreshSecret string) error {
	var errs error
	if err := validateSecret("access", accessSecret); err != nil {
		errs = errors.Join(errs, err)
	}
	if err := validateSecret("refresh", refreshSecret); err != nil {
		errs = errors.Join(errs, err)
	}
	if errs == nil && accessSecret == refreshSecret {
		errs = errors.New("access and refresh secrets must differ")
	}
	if errs != nil {
		return ErrWeakSecret.wrap(errs)
	}
	return nil
}

func validateSecret(name, secret string) error {
	if secret == "" {
		return fmt.Errorf("%s secret is missing", name)
	}
	if len(secret) < MinSecretLength {
		return fmt.Errorf("%s secret has %d characters, need at least %d", name, len(secret), MinSecretLength)
	}
	for _, r := range secret {
		if !isHex(r) {
			return fmt.Errorf("%s secret must be hexadecimal", name)
		}
	}
	return nil
}

func isHex(r rune) bool {
	return (r >= '0' && r <= '9') || (r >= 'a' && r <= 'f') || (r >= 'A' && r <= 'F')
}
