package crypto

import (
	"bytes"
	"testing"
)

func TestSizeConstants(t *testing.T) {
	tests := []struct {
		name string
		got  int
		want int
	}{
		{"SymmetricKeySize", SymmetricKeySize, 16},
		{"SaltSize", SaltSize, 16},
		{"TopicIDSize", TopicIDSize, 16},
		{"VerificationDataSize", VerificationDataSize, 6},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %d, want %d", tt.name, tt.got, tt.want)
		}
	}
}

func TestRandomBytes(t *testing.T) {
	a, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if len(a) != 32 {
		t.Fatalf("length = %d, want 32", len(a))
	}
	b, err := RandomBytes(32)
	if err != nil {
		t.Fatalf("RandomBytes: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Error("two 32-byte draws are identical")
	}
}

func TestNewSalt(t *testing.T) {
	salt, err := NewSalt()
	if err != nil {
		t.Fatalf("NewSalt: %v", err)
	}
	if len(salt) != SaltSize {
		t.Errorf("salt length = %d, want %d", len(salt), SaltSize)
	}
}

func TestNewTopicID(t *testing.T) {
	topic, err := NewTopicID()
	if err != nil {
		t.Fatalf("NewTopicID: %v", err)
	}
	if len(topic) != 2*TopicIDSize {
		t.Errorf("topic length = %d, want %d hex characters", len(topic), 2*TopicIDSize)
	}
	for _, c := range topic {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			t.Fatalf("topic contains non-hex character %q", c)
		}
	}
	other, err := NewTopicID()
	if err != nil {
		t.Fatalf("NewTopicID: %v", err)
	}
	if topic == other {
		t.Error("two topic ids are identical")
	}
}
