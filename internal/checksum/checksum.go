// Package checksum computes and verifies the content digests stored next to
// every document.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// Sum returns the SHA-256 digest of data as a lowercase hex string.
func Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Verify reports whether digest matches data. Surrounding whitespace and
// letter case in digest are ignored so hand-edited digest files still verify.
func Verify(data []byte, digest string) bool {
	want := strings.ToLower(strings.TrimSpace(digest))
	got := Sum(data)
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}
