// AES-CTR (NIST 800-38A Section 6.5) for low-level transport framing.
// The relay link encrypts frames in counter mode only; authentication of
// the application payload is layered separately via AES-GCM.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
)

// AES-CTR constants.
const (
	// AESCTRKeySize is the AES-128 key size in bytes.
	AESCTRKeySize = 16

	// AESCTRIVSize is the initialization vector size (one AES block).
	AESCTRIVSize = 16
)

// Errors for AES-CTR operations.
var (
	ErrAESCTRInvalidKeySize = errors.New("aesctr: invalid key size, must be 16 bytes")
	ErrAESCTRInvalidIVSize  = errors.New("aesctr: invalid IV size, must be 16 bytes")
)

// AESCTR applies AES-128-CTR to data. Encryption and decryption are the
// same operation; the result has the same length as the input.
func AESCTR(key, iv, data []byte) ([]byte, error) {
	if len(key) != AESCTRKeySize {
		return nil, ErrAESCTRInvalidKeySize
	}
	if len(iv) != AESCTRIVSize {
		return nil, ErrAESCTRInvalidIVSize
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	out := make([]byte, len(data))
	cipher.NewCTR(block, iv).XORKeyStream(out, data)
	return out, nil
}

// NewCTRIV generates a random initialization vector for AES-CTR framing.
func NewCTRIV() ([]byte, error) {
	return RandomBytes(AESCTRIVSize)
}
