package crypto

import "fmt"

// HKDF info strings for the per-peer channel material. Each derived value
// gets a distinct context so the outputs are independent.
const (
	infoKeyMain          = "remora/v1/key/main"
	infoKeyFollower      = "remora/v1/key/follower"
	infoKeyStatus        = "remora/v1/key/status"
	infoTopicMain        = "remora/v1/topic/main"
	infoTopicFollower    = "remora/v1/topic/follower"
	infoVerificationData = "remora/v1/verification_data"
)

// Role identifies which side of a pairing a device plays when deriving
// channel material. The main device and the follower swap the main/follower
// labels so the initiator's outgoing channel is the responder's ingoing one.
type Role int

const (
	// RoleMain is the command-executing device (pairing initiator).
	RoleMain Role = iota

	// RoleFollower is the command-issuing device (pairing responder).
	RoleFollower
)

// String returns a human-readable representation of the role.
func (r Role) String() string {
	switch r {
	case RoleMain:
		return "Main"
	case RoleFollower:
		return "Follower"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// Channel holds all per-peer material derived from one ECDH shared secret
// and one pairing salt. Both sides compute identical values independently
// after exchanging only public keys; no further negotiation round-trip is
// needed.
//
// IngoingKey/OutgoingKey and the topics are role-dependent (swapped between
// the two sides); StatusKey and VerificationData are identical on both.
type Channel struct {
	IngoingKey       []byte // decrypts messages we receive
	OutgoingKey      []byte // encrypts messages we send
	StatusKey        []byte // separate status-sharing channel
	IngoingTopic     string // topic we subscribe to
	OutgoingTopic    string // topic the peer subscribes to
	VerificationData []byte // short value both users compare manually
}

// DeriveChannel derives the five labeled per-peer values from a shared
// secret and salt for the given local role.
func DeriveChannel(sharedSecret, salt []byte, role Role) (*Channel, error) {
	if len(sharedSecret) != SharedSecretSize {
		return nil, fmt.Errorf("shared secret must be %d bytes, got %d", SharedSecretSize, len(sharedSecret))
	}

	mainKey, err := HKDFSHA256(sharedSecret, salt, []byte(infoKeyMain), SymmetricKeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving main key: %w", err)
	}
	followerKey, err := HKDFSHA256(sharedSecret, salt, []byte(infoKeyFollower), SymmetricKeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving follower key: %w", err)
	}
	statusKey, err := HKDFSHA256(sharedSecret, salt, []byte(infoKeyStatus), SymmetricKeySize)
	if err != nil {
		return nil, fmt.Errorf("deriving status key: %w", err)
	}
	mainTopic, err := HKDFSHA256(sharedSecret, salt, []byte(infoTopicMain), TopicIDSize)
	if err != nil {
		return nil, fmt.Errorf("deriving main topic: %w", err)
	}
	followerTopic, err := HKDFSHA256(sharedSecret, salt, []byte(infoTopicFollower), TopicIDSize)
	if err != nil {
		return nil, fmt.Errorf("deriving follower topic: %w", err)
	}
	verification, err := HKDFSHA256(sharedSecret, salt, []byte(infoVerificationData), VerificationDataSize)
	if err != nil {
		return nil, fmt.Errorf("deriving verification data: %w", err)
	}

	ch := &Channel{
		StatusKey:        statusKey,
		VerificationData: verification,
	}

	// The "main" labeled values belong to the main device's ingoing
	// direction: followers encrypt with the main key and publish on the
	// main topic, and vice versa.
	switch role {
	case RoleMain:
		ch.IngoingKey = mainKey
		ch.OutgoingKey = followerKey
		ch.IngoingTopic = fmt.Sprintf("%x", mainTopic)
		ch.OutgoingTopic = fmt.Sprintf("%x", followerTopic)
	case RoleFollower:
		ch.IngoingKey = followerKey
		ch.OutgoingKey = mainKey
		ch.IngoingTopic = fmt.Sprintf("%x", followerTopic)
		ch.OutgoingTopic = fmt.Sprintf("%x", mainTopic)
	default:
		return nil, fmt.Errorf("invalid role %d", role)
	}

	return ch, nil
}
