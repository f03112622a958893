package crypto

import (
	"bytes"
	"testing"
)

func TestAESGCMRoundTrip(t *testing.T) {
	key, _ := RandomBytes(AESGCMKeySize)
	nonce, _ := NewNonce()
	plaintext := []byte("prepare bolus 2.0U")
	aad := []byte("sender-topic|recipient-topic")

	ciphertext, err := AESGCMSeal(key, nonce, plaintext, aad)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}
	if len(ciphertext) != len(plaintext)+AESGCMTagSize {
		t.Errorf("ciphertext length = %d, want %d", len(ciphertext), len(plaintext)+AESGCMTagSize)
	}

	decrypted, err := AESGCMOpen(key, nonce, ciphertext, aad)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Error("decrypted plaintext mismatch")
	}
}

// TestAESGCMFailsClosed verifies that tampering with any input of the AEAD
// yields an authentication error and never any plaintext bytes.
func TestAESGCMFailsClosed(t *testing.T) {
	key, _ := RandomBytes(AESGCMKeySize)
	nonce, _ := NewNonce()
	aad := []byte("channel-binding")

	ciphertext, err := AESGCMSeal(key, nonce, []byte("payload"), aad)
	if err != nil {
		t.Fatalf("Seal error: %v", err)
	}

	otherKey, _ := RandomBytes(AESGCMKeySize)
	otherNonce, _ := NewNonce()
	tampered := append([]byte(nil), ciphertext...)
	tampered[0] ^= 0x01

	cases := []struct {
		name       string
		key        []byte
		nonce      []byte
		ciphertext []byte
		aad        []byte
	}{
		{"wrong key", otherKey, nonce, ciphertext, aad},
		{"wrong nonce", key, otherNonce, ciphertext, aad},
		{"wrong aad", key, nonce, ciphertext, []byte("other-binding")},
		{"tampered ciphertext", key, nonce, tampered, aad},
	}

	for _, tc := range cases {
		plaintext, err := AESGCMOpen(tc.key, tc.nonce, tc.ciphertext, tc.aad)
		if err != ErrAESGCMAuthFailed {
			t.Errorf("%s: error = %v, want ErrAESGCMAuthFailed", tc.name, err)
		}
		if plaintext != nil {
			t.Errorf("%s: plaintext must be nil on authentication failure", tc.name)
		}
	}
}

func TestAESGCMInvalidParams(t *testing.T) {
	key, _ := RandomBytes(AESGCMKeySize)
	nonce, _ := NewNonce()

	if _, err := AESGCMSeal(key[:8], nonce, []byte("x"), nil); err != ErrAESGCMInvalidKeySize {
		t.Errorf("short key: error = %v, want ErrAESGCMInvalidKeySize", err)
	}
	if _, err := AESGCMSeal(key, nonce[:8], []byte("x"), nil); err != ErrAESGCMInvalidNonceSize {
		t.Errorf("short nonce: error = %v, want ErrAESGCMInvalidNonceSize", err)
	}
}

func TestAESCTRRoundTrip(t *testing.T) {
	key, _ := RandomBytes(AESCTRKeySize)
	iv, _ := NewCTRIV()
	data := []byte("framed relay payload spanning multiple AES blocks for good measure")

	encrypted, err := AESCTR(key, iv, data)
	if err != nil {
		t.Fatalf("AESCTR error: %v", err)
	}
	if bytes.Equal(encrypted, data) {
		t.Error("ciphertext should differ from plaintext")
	}

	decrypted, err := AESCTR(key, iv, encrypted)
	if err != nil {
		t.Fatalf("AESCTR error: %v", err)
	}
	if !bytes.Equal(decrypted, data) {
		t.Error("CTR round trip mismatch")
	}
}
