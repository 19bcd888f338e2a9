// Package fingerprint computes content fingerprints for change attribution.
//
// A fingerprint is the fixed-size, collision-resistant digest of a file's
// full content, used for equality comparison instead of byte-for-byte
// diffing. Two byte slices carry the same fingerprint exactly when they are
// identical (up to the collision resistance of SHA-256).
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
)

// Fingerprint is a hex-encoded SHA-256 digest of file content.
type Fingerprint string

// Func computes a fingerprint for raw content. Implementations must be
// deterministic and side-effect free. A non-nil error means the content
// could not be fingerprinted; callers are expected to treat that as
// "classification impossible" rather than guessing.
type Func func(content []byte) (Fingerprint, error)

// Compute returns the SHA-256 fingerprint of content. Nil and empty
// content fingerprint identically (both are zero bytes). The error return
// satisfies Func; this implementation never fails.
func Compute(content []byte) (Fingerprint, error) {
	sum := sha256.Sum256(content)
	return Fingerprint(hex.EncodeToString(sum[:])), nil
}

// String returns the hex digest.
func (f Fingerprint) String() string {
	return string(f)
}

// Short returns a 12-character prefix of the digest for log output.
func (f Fingerprint) Short() string {
	if len(f) <= 12 {
		return string(f)
	}
	return string(f[:12])
}
