package blob

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Digest is the hex BLAKE2b-256 digest of a blob, used to identify stored
// models in logs and reports without printing them.
func Digest(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}
