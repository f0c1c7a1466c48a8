// Package cas computes content fingerprints for chapter text and bundle
// entries. BLAKE3 is the primary digest; SHA-256 is kept alongside it for
// tools that only speak SHA-256.
package cas

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/FocuswithJustin/sidestory/core/errors"
)

// HashResult contains both SHA-256 and BLAKE3 hashes of a piece of content.
type HashResult struct {
	SHA256 string `json:"sha256"`
	BLAKE3 string `json:"blake3"`
}

// Fingerprint hashes data with both algorithms.
func Fingerprint(data []byte) HashResult {
	return HashResult{
		SHA256: Hash(data),
		BLAKE3: Blake3Hash(data),
	}
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Blake3Hash returns the hex BLAKE3-256 of data.
func Blake3Hash(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Verify checks data against a stored fingerprint. Empty fields in want are
// skipped, so rows written before a digest existed still verify.
func Verify(data []byte, want HashResult) error {
	if want.BLAKE3 != "" {
		if got := Blake3Hash(data); got != want.BLAKE3 {
			return fmt.Errorf("%w: blake3 %s, want %s", errors.ErrIntegrity, short(got), short(want.BLAKE3))
		}
	}
	if want.SHA256 != "" {
		if got := Hash(data); got != want.SHA256 {
			return fmt.Errorf("%w: sha256 %s, want %s", errors.ErrIntegrity, short(got), short(want.SHA256))
		}
	}
	return nil
}

// IsValidHash reports whether s looks like a hex-encoded 256-bit digest.
func IsValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
