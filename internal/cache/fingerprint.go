package cache

import (
	"crypto/sha1" //nolint:gosec // Fingerprints name files; they are not a security boundary.
	"encoding/hex"
)

// FingerprintLen is the length of a fingerprint in hex characters.
const FingerprintLen = sha1.Size * 2

// Fingerprint returns the lowercase hex SHA-1 digest of key.
func Fingerprint(key string) string {
	sum := sha1.Sum([]byte(key)) //nolint:gosec // See import comment.
	return hex.EncodeToString(sum[:])
}

// isFingerprint reports whether name looks like an entry file name.
func isFingerprint(name string) bool {
	if len(name) != FingerprintLen {
		return false
	}
	for i := range len(name) {
		c := name[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
