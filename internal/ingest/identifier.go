package ingest

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"github.com/google/uuid"
)

// NewIdentifier generates a secret endpoint identifier: 32 random bytes,
// URL-safe base64. Regenerates on the (practically impossible) chance the
// result collides with the canonical id shape, which is reserved for
// internal resource routing.
func NewIdentifier() (string, error) {
	for {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("generate identifier: %w", err)
		}
		id := base64.RawURLEncoding.EncodeToString(buf)
		if !IsCanonicalID(id) {
			return id, nil
		}
	}
}

// IsCanonicalID reports whether a string matches the 36-character canonical
// id format used for internal resources. Such identifiers are never valid
// endpoint identifiers.
func IsCanonicalID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}
