// AES-128-GCM authenticated encryption for protocol payloads.
// All post-handshake protocol messages travel as GCM-sealed payloads with
// a 96-bit nonce and additional authenticated data binding the channel.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AES-GCM constants.
const (
	// AESGCMKeySize is the AES-128 key size in bytes.
	AESGCMKeySize = 16

	// AESGCMNonceSize is the GCM nonce size in bytes (96 bits).
	AESGCMNonceSize = 12

	// AESGCMTagSize is the authentication tag size in bytes.
	AESGCMTagSize = 16
)

// Errors for AES-GCM operations.
var (
	ErrAESGCMInvalidKeySize   = errors.New("aesgcm: invalid key size, must be 16 bytes")
	ErrAESGCMInvalidNonceSize = errors.New("aesgcm: invalid nonce size, must be 12 bytes")
	ErrAESGCMAuthFailed       = errors.New("aesgcm: message authentication failed")
)

// NewNonce generates a random 96-bit GCM nonce.
func NewNonce() ([]byte, error) {
	return RandomBytes(AESGCMNonceSize)
}

// AESGCMSeal encrypts and authenticates plaintext with associated data.
// Returns ciphertext || tag.
func AESGCMSeal(key, nonce, plaintext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != AESGCMNonceSize {
		return nil, ErrAESGCMInvalidNonceSize
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AESGCMOpen decrypts and verifies ciphertext with associated data.
// Authentication failure fails closed: no plaintext bytes are ever
// returned alongside an error.
func AESGCMOpen(key, nonce, ciphertext, aad []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(nonce) != AESGCMNonceSize {
		return nil, ErrAESGCMInvalidNonceSize
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAESGCMAuthFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AESGCMKeySize {
		return nil, ErrAESGCMInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
