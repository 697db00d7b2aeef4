// Package integrity provides content hashing for batch provenance. All
// functions are pure and deterministic.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/verdantis/emissary/internal/model"
)

// HashType names the digest algorithm used for content hashes.
const HashType = "sha256"

// HashContent produces the named SHA-256 hex digest of raw content. The
// digest value is what goes into a batch manifest's SHA256 field.
func HashContent(data []byte) model.ContentHash {
	sum := sha256.Sum256(data)
	return model.ContentHash{
		Type:  HashType,
		Value: hex.EncodeToString(sum[:]),
	}
}

// Hasher is the default hashing capability handed to the pipeline.
type Hasher struct{}

// Hash implements the pipeline's hashing interface.
func (Hasher) Hash(data []byte) model.ContentHash {
	return HashContent(data)
}
