// Package sha256 provides hex SHA-256 digests used for notice identity and
// translation cache keys.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// SumHex hashes the input and returns the hex digest.
func SumHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
