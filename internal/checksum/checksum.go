// Package checksum computes and verifies content digests used as file
// identity throughout the sync core. Digests are SHA-256 rendered as
// lowercase hex, so two byte sequences are equal iff their digests are.
package checksum

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/astepanov/syncbox/internal/common"
)

// Compute returns the SHA-256 digest of data as a lowercase hex string.
func Compute(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Verify recomputes the digest of data and compares it to expected
// (case-insensitive). A mismatch is reported as *common.IntegrityError so
// the caller can reject the write without any state change.
func Verify(data []byte, expected string) error {
	actual := Compute(data)
	want := strings.ToLower(expected)
	if subtle.ConstantTimeCompare([]byte(actual), []byte(want)) != 1 {
		return &common.IntegrityError{Expected: want, Actual: actual}
	}
	return nil
}
