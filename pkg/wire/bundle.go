package wire

import (
	"encoding/base64"
)

// BundleVersion is the current pairing bundle format version.
const BundleVersion = 1

// PairingBundle is the one-time payload the pairing initiator exports for
// out-of-band transfer (a scanned code). It is the only secret-adjacent
// material ever transmitted outside the encrypted channel, so it must move
// over a trusted path such as a camera scan, never over the network.
type PairingBundle struct {
	Version uint8

	// RelayURL and RelayCredentials let the responder reach the same push
	// relay as the initiator.
	RelayURL         string
	RelayCredentials string

	// FollowerID is the follower role assigned by the main device.
	FollowerID uint32

	// Salt is the pairing salt both sides feed into key derivation.
	Salt []byte

	// PairingTopic is the ephemeral topic for the public key exchange.
	PairingTopic string

	// PublicKey is the initiator's ephemeral public key.
	PublicKey []byte
}

// EncodeString renders the bundle for embedding in a scanned code.
func (b *PairingBundle) EncodeString() (string, error) {
	w := &writer{}
	w.u8(b.Version)
	w.str(b.RelayURL)
	w.str(b.RelayCredentials)
	w.u32(b.FollowerID)
	w.bytes(b.Salt)
	w.str(b.PairingTopic)
	w.bytes(b.PublicKey)
	if w.err != nil {
		return "", w.err
	}
	return base64.RawURLEncoding.EncodeToString(w.buf), nil
}

// DecodeBundleString parses a scanned bundle string.
func DecodeBundleString(s string) (*PairingBundle, error) {
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidBundle
	}

	r := &reader{buf: raw}
	b := &PairingBundle{
		Version:          r.u8(),
		RelayURL:         r.str(),
		RelayCredentials: r.str(),
		FollowerID:       r.u32(),
		Salt:             r.bytes(),
		PairingTopic:     r.str(),
		PublicKey:        r.bytes(),
	}
	if err := r.finish(); err != nil {
		return nil, ErrInvalidBundle
	}
	if b.Version != BundleVersion {
		return nil, ErrInvalidBundle
	}
	return b, nil
}
