package shared

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// GenServiceKey returns a random key suitable for the X-Service-Key header.
func GenServiceKey() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// ServiceKeyMatches compares digests so the comparison time depends on
// neither the content nor the length of the provided key.
func ServiceKeyMatches(expected, provided string) bool {
	if expected == "" || provided == "" {
		return false
	}
	e := sha256.Sum256([]byte(expected))
	p := sha256.Sum256([]byte(provided))
	return subtle.ConstantTimeCompare(e[:], p[:]) == 1
}
