// Package keystore provides at-rest storage for the symmetric keys derived
// during pairing. Keys are addressed by a deterministic alias built from the
// peer id and the key's purpose, and every key carries a usage scope:
// message keys are seal-only on the sending side and open-only on the
// receiving side, so a stored key can never be used in the wrong direction.
package keystore

import (
	"fmt"

	"github.com/google/uuid"
)

// Purpose identifies which of the derived per-peer keys an alias refers to.
type Purpose int

const (
	// PurposeIngoing is the key that decrypts messages received from the peer.
	PurposeIngoing Purpose = iota

	// PurposeOutgoing is the key that encrypts messages sent to the peer.
	PurposeOutgoing

	// PurposeStatus is the key for the separate status-sharing channel.
	PurposeStatus
)

// String returns a human-readable representation of the purpose.
func (p Purpose) String() string {
	switch p {
	case PurposeIngoing:
		return "ingoing"
	case PurposeOutgoing:
		return "outgoing"
	case PurposeStatus:
		return "status"
	default:
		return fmt.Sprintf("purpose(%d)", int(p))
	}
}

// Usage scopes what a stored key may be retrieved for.
type Usage int

const (
	// UsageSeal allows the key to be used for encryption only.
	UsageSeal Usage = iota

	// UsageOpen allows the key to be used for decryption only.
	UsageOpen

	// UsageSealOpen allows both directions (status keys).
	UsageSealOpen
)

// Alias returns the deterministic store alias for a peer's key of the given
// purpose. Only the owning component for a peer touches its aliases.
func Alias(peerID uuid.UUID, purpose Purpose) string {
	return fmt.Sprintf("remora/%s/%s", peerID, purpose)
}

// PeerAliases returns all aliases belonging to one peer, for release on
// unpairing.
func PeerAliases(peerID uuid.UUID) []string {
	return []string{
		Alias(peerID, PurposeIngoing),
		Alias(peerID, PurposeOutgoing),
		Alias(peerID, PurposeStatus),
	}
}

// KeyStore stores symmetric keys at rest.
//
// All methods must be safe for concurrent use. A lookup miss is fatal to
// the calling operation; implementations never substitute a default key.
type KeyStore interface {
	// Store persists a key under an alias with a usage scope, replacing
	// any previous key at that alias.
	Store(alias string, key []byte, usage Usage) error

	// KeyForSeal retrieves a key for encryption. Returns ErrKeyNotFound on
	// a miss and ErrUsageViolation if the key is open-scoped.
	KeyForSeal(alias string) ([]byte, error)

	// KeyForOpen retrieves a key for decryption. Returns ErrKeyNotFound on
	// a miss and ErrUsageViolation if the key is seal-scoped.
	KeyForOpen(alias string) ([]byte, error)

	// Delete removes keys by alias. Missing aliases are not an error.
	Delete(aliases ...string) error
}
