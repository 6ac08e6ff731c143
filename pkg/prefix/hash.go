// Package prefix implements user-tag issuance and the IPv6 sub-prefix
// arithmetic used to carve a per-user source range out of each agent's
// configured prefix.
package prefix

import (
	"crypto/sha256"
	"encoding/hex"
)

// HashSubject returns the hex-encoded SHA-256 of subject, used as the
// database key for the user (user_hash in §3).
func HashSubject(subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return hex.EncodeToString(sum[:])
}
