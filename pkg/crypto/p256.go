package crypto

import (
	"crypto/ecdh"
	"crypto/rand"
	"errors"
	"fmt"
)

// P-256 constants.
const (
	// P256GroupSizeBytes is the group size in bytes.
	P256GroupSizeBytes = 32

	// P256PublicKeySizeBytes is the uncompressed public key size.
	// Format: 0x04 || X (32 bytes) || Y (32 bytes) = 65 bytes
	P256PublicKeySizeBytes = 65

	// SharedSecretSize is the ECDH shared secret size (x-coordinate).
	SharedSecretSize = 32
)

// KeyPair is an ephemeral P-256 key pair used for pairing key agreement.
type KeyPair struct {
	private *ecdh.PrivateKey
}

// GenerateKeyPair generates a new P-256 key pair.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := ecdh.P256().GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating P-256 key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// KeyPairFromPrivateKey restores a key pair from a 32-byte private scalar.
// Used when reloading a pairing-in-progress peer from the store.
func KeyPairFromPrivateKey(privateKey []byte) (*KeyPair, error) {
	if len(privateKey) != P256GroupSizeBytes {
		return nil, fmt.Errorf("private key must be %d bytes, got %d", P256GroupSizeBytes, len(privateKey))
	}
	priv, err := ecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &KeyPair{private: priv}, nil
}

// PublicKey returns the public key in uncompressed format (65 bytes).
func (kp *KeyPair) PublicKey() []byte {
	return kp.private.PublicKey().Bytes()
}

// PrivateKey returns the private key as a 32-byte scalar.
func (kp *KeyPair) PrivateKey() []byte {
	return kp.private.Bytes()
}

// ECDH computes the shared secret between our private key and the peer's
// 65-byte uncompressed public key. Both pairing sides arrive at the same
// 32-byte value.
func (kp *KeyPair) ECDH(peerPublicKey []byte) ([]byte, error) {
	if err := ValidatePublicKey(peerPublicKey); err != nil {
		return nil, err
	}
	peerPub, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("invalid peer public key: %w", err)
	}
	secret, err := kp.private.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("ECDH computation failed: %w", err)
	}
	return secret, nil
}

// ValidatePublicKey checks that a public key has the expected uncompressed
// encoding. Full point validation happens in crypto/ecdh when the key is used.
func ValidatePublicKey(publicKey []byte) error {
	if len(publicKey) != P256PublicKeySizeBytes {
		return fmt.Errorf("public key must be %d bytes, got %d", P256PublicKeySizeBytes, len(publicKey))
	}
	if publicKey[0] != 0x04 {
		return errors.New("public key must be in uncompressed format (starting with 0x04)")
	}
	return nil
}
