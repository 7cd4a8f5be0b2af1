package token

import (
	"errors"
	"fmt"
	"strings"
)

// Minimum signing secret lengths in bytes.
const (
	MinSecretLength           = 16
	MinProductionSecretLength = 32
)

// ErrWeakSecret reports a signing secret that fails the startup self-check.
var ErrWeakSecret = errors.New("token: weak signing secret")

var placeholderSecrets = map[string]struct{}{
	"secret":          {},
	"password":        {},
	"changeme":        {},
	"change-me":       {},
	"default":         {},
	"test":            {},
	"admin":           {},
	"qwerty":          {},
	"123456":          {},
	"supersecret":     {},
	"jwt-secret":      {},
	"jwt_secret":      {},
	"your-secret":     {},
	"your-secret-key": {},
	"your_jwt_secret": {},
}

// CheckSecret validates the signing secret. Production requires a longer
// secret; well-known placeholders are always rejected.
func CheckSecret(secret string, production bool) error {
	normalized := strings.ToLower(strings.TrimSpace(secret))
	if _, ok := placeholderSecrets[normalized]; ok {
		return fmt.Errorf("%w: well-known placeholder value", ErrWeakSecret)
	}
	minLen := MinSecretLength
	if production {
		minLen = MinProductionSecretLength
	}
	if len(secret) < minLen {
		return fmt.Errorf("%w: %d bytes, need at least %d", ErrWeakSecret, len(secret), minLen)
	}
	return nil
}
