package util

import (
	"crypto/sha256"
	"encoding/hex"
)

// ContentSHA256 returns the hex-encoded SHA-256 digest of data, used for
// upload deduplication.
func ContentSHA256(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashUserKey returns a filesystem-safe identifier for a user ID.
func HashUserKey(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}
