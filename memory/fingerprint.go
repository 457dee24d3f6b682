package memory

import (
	"crypto/sha256"
	"encoding/hex"
)

// fingerprintLen is the number of hex characters kept from the full digest.
// 128 bits is plenty for dedup at human-authored-text scale; this is not a
// collision-proof identifier.
const fingerprintLen = 32

// Fingerprint returns the deterministic content hash used for deduplication.
func Fingerprint(body string) string {
	sum := sha256.Sum256([]byte(body))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}
