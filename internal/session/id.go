package session

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"mcpgate/pkg/logging"
)

// Session id constraints. Ids the store generates are base64url over 24
// random bytes; ids presented by clients only need to be printable ASCII and
// bounded, since transports may mint their own.
const (
	idEntropyBytes = 24
	// MaxIDLength caps presented ids so a hostile client cannot grow the
	// store with arbitrarily long keys.
	MaxIDLength = 256
)

// NewID generates a cryptographically random session id. The encoded form is
// 32 printable-ASCII characters.
func NewID() string {
	buf := make([]byte, idEntropyBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the platform is broken; there is no
		// meaningful fallback for a security token.
		panic(fmt.Errorf("reading random bytes for session id: %w", err))
	}
	return base64.RawURLEncoding.EncodeToString(buf)
}

// ValidateID checks a client-presented session id: non-empty, bounded, and
// every byte in the visible ASCII range [0x21, 0x7E].
func ValidateID(id string) error {
	if id == "" {
		return &InvalidIDError{Reason: "empty"}
	}
	if len(id) > MaxIDLength {
		return &InvalidIDError{Reason: fmt.Sprintf("longer than %d bytes", MaxIDLength)}
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7E {
			return &InvalidIDError{Reason: fmt.Sprintf("non-printable byte at position %d", i)}
		}
	}
	return nil
}

// TruncateID shortens a session id for logging. Full ids never appear in
// logs.
func TruncateID(id string) string {
	return logging.TruncateSessionID(id)
}
