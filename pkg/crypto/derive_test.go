package crypto

import (
	"bytes"
	"testing"
)

func TestECDHSharedSecretAgreement(t *testing.T) {
	initiator, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}
	responder, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	s1, err := initiator.ECDH(responder.PublicKey())
	if err != nil {
		t.Fatalf("initiator ECDH error: %v", err)
	}
	s2, err := responder.ECDH(initiator.PublicKey())
	if err != nil {
		t.Fatalf("responder ECDH error: %v", err)
	}

	if !bytes.Equal(s1, s2) {
		t.Error("both sides should compute the same shared secret")
	}
	if len(s1) != SharedSecretSize {
		t.Errorf("shared secret length = %d, want %d", len(s1), SharedSecretSize)
	}
}

func TestKeyPairFromPrivateKeyRestoresPublic(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	restored, err := KeyPairFromPrivateKey(kp.PrivateKey())
	if err != nil {
		t.Fatalf("KeyPairFromPrivateKey() error: %v", err)
	}

	if !bytes.Equal(kp.PublicKey(), restored.PublicKey()) {
		t.Error("restored key pair should have the same public key")
	}
}

func TestValidatePublicKey(t *testing.T) {
	kp, err := GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair() error: %v", err)
	}

	if err := ValidatePublicKey(kp.PublicKey()); err != nil {
		t.Errorf("valid public key rejected: %v", err)
	}
	if err := ValidatePublicKey(kp.PublicKey()[:64]); err == nil {
		t.Error("truncated public key should be rejected")
	}
	bad := append([]byte{0x02}, kp.PublicKey()[1:]...)
	if err := ValidatePublicKey(bad); err == nil {
		t.Error("compressed-format public key should be rejected")
	}
}

// TestDeriveChannelSymmetry verifies both sides compute matching channel
// material with roles swapped: the main device's outgoing channel is the
// follower's ingoing channel and vice versa, while status key and
// verification data are identical.
func TestDeriveChannelSymmetry(t *testing.T) {
	mainKP, _ := GenerateKeyPair()
	followerKP, _ := GenerateKeyPair()
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt() error: %v", err)
	}

	mainSecret, err := mainKP.ECDH(followerKP.PublicKey())
	if err != nil {
		t.Fatalf("ECDH error: %v", err)
	}
	followerSecret, err := followerKP.ECDH(mainKP.PublicKey())
	if err != nil {
		t.Fatalf("ECDH error: %v", err)
	}

	mainCh, err := DeriveChannel(mainSecret, salt, RoleMain)
	if err != nil {
		t.Fatalf("DeriveChannel(main) error: %v", err)
	}
	followerCh, err := DeriveChannel(followerSecret, salt, RoleFollower)
	if err != nil {
		t.Fatalf("DeriveChannel(follower) error: %v", err)
	}

	if !bytes.Equal(mainCh.IngoingKey, followerCh.OutgoingKey) {
		t.Error("main ingoing key should equal follower outgoing key")
	}
	if !bytes.Equal(mainCh.OutgoingKey, followerCh.IngoingKey) {
		t.Error("main outgoing key should equal follower ingoing key")
	}
	if mainCh.IngoingTopic != followerCh.OutgoingTopic {
		t.Error("main ingoing topic should equal follower outgoing topic")
	}
	if mainCh.OutgoingTopic != followerCh.IngoingTopic {
		t.Error("main outgoing topic should equal follower ingoing topic")
	}
	if !bytes.Equal(mainCh.StatusKey, followerCh.StatusKey) {
		t.Error("status keys should be identical on both sides")
	}
	if !bytes.Equal(mainCh.VerificationData, followerCh.VerificationData) {
		t.Error("verification data should be identical on both sides")
	}

	if len(mainCh.VerificationData) != VerificationDataSize {
		t.Errorf("verification data length = %d, want %d", len(mainCh.VerificationData), VerificationDataSize)
	}
	if len(mainCh.IngoingKey) != SymmetricKeySize {
		t.Errorf("key length = %d, want %d", len(mainCh.IngoingKey), SymmetricKeySize)
	}
}

func TestDeriveChannelDistinctValues(t *testing.T) {
	secret := make([]byte, SharedSecretSize)
	for i := range secret {
		secret[i] = byte(i)
	}
	salt := make([]byte, SaltSize)

	ch, err := DeriveChannel(secret, salt, RoleMain)
	if err != nil {
		t.Fatalf("DeriveChannel() error: %v", err)
	}

	if bytes.Equal(ch.IngoingKey, ch.OutgoingKey) {
		t.Error("ingoing and outgoing keys must differ")
	}
	if bytes.Equal(ch.IngoingKey, ch.StatusKey) || bytes.Equal(ch.OutgoingKey, ch.StatusKey) {
		t.Error("status key must differ from message keys")
	}
	if ch.IngoingTopic == ch.OutgoingTopic {
		t.Error("topics must differ")
	}
}

func TestDeriveChannelRejectsShortSecret(t *testing.T) {
	if _, err := DeriveChannel(make([]byte, 16), make([]byte, SaltSize), RoleMain); err == nil {
		t.Error("short shared secret should be rejected")
	}
}
