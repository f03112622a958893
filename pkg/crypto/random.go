package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// Sizes of the random and derived values used throughout the protocol.
const (
	// SymmetricKeySize is the symmetric key length in bytes (AES-128).
	SymmetricKeySize = 16

	// SaltSize is the pairing salt length in bytes.
	SaltSize = 16

	// TopicIDSize is the raw topic identifier length in bytes. Topics
	// travel as lowercase hex strings, so the rendered form is twice this.
	TopicIDSize = 16

	// VerificationDataSize is the length of the short value both users
	// compare manually after the handshake.
	VerificationDataSize = 6
)

// RandomBytes returns n cryptographically secure random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("reading random bytes: %w", err)
	}
	return b, nil
}

// NewSalt generates a random pairing salt.
func NewSalt() ([]byte, error) {
	return RandomBytes(SaltSize)
}

// NewTopicID generates a random topic identifier, rendered lowercase hex
// like the derived channel topics.
func NewTopicID() (string, error) {
	b, err := RandomBytes(TopicIDSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
