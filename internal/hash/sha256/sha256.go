// Package sha256 provides the SHA-256 digests used for article identity and
// per-feed state file names.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// shortLen is the number of trailing hex characters kept by Short.
const shortLen = 8

// Sum hashes the parts in order and returns a hex digest. Each part is
// terminated by a NUL byte so adjacent parts cannot run together.
func Sum(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p)) //nolint:errcheck // hash.Hash writes never fail
		h.Write([]byte{0}) //nolint:errcheck // hash.Hash writes never fail
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Short returns the last eight hex characters of the SHA-256 digest of s.
func Short(s string) string {
	sum := sha256.Sum256([]byte(s))
	full := hex.EncodeToString(sum[:])
	return full[len(full)-shortLen:]
}
