// Package peer maintains the persisted table of counterpart devices, each
// tagged with its pairing stage and the key/topic material relevant to that
// stage.
package peer

import (
	"time"

	"github.com/google/uuid"
)

// Device is the identity record for one paired or pairing-in-progress
// counterpart.
//
// Invariants, checked on every persist:
//   - PairingTopic is present only in {Initiating, Handshaking}.
//   - IngoingTopic/OutgoingTopic are present only from {Verifying, Paired}.
//   - Stage == Paired iff both verification flags are true.
//
// The symmetric keys derived for this peer never live here; they are held
// in the key store under aliases built from ID. Topic strings are not
// secret, only unguessable.
type Device struct {
	// ID is the locally assigned identifier, stable for the device's
	// lifetime.
	ID uuid.UUID

	// FollowerID identifies which follower role this peer plays. Set only
	// on the main device; nil on a follower's record of its main device.
	FollowerID *uint32

	// Stage is the pairing lifecycle stage.
	Stage Stage

	// DisplayName is an optional operator-assigned name.
	DisplayName string

	// Salt is the random pairing salt, fixed at initiation.
	Salt []byte

	// PairingTopic is the ephemeral channel used only until the handshake
	// completes.
	PairingTopic string

	// PrivateKey and PublicKey are the local ephemeral key pair. The
	// private scalar is only needed until channel derivation completes.
	PrivateKey []byte
	PublicKey  []byte

	// PeerPublicKey is the counterpart's public key, once received.
	PeerPublicKey []byte

	// VerificationData is the short value both users compare manually.
	VerificationData []byte

	// HasLocalVerified and HasPeerVerified track the manual verification
	// handshake. The peer is Paired exactly when both are true.
	HasLocalVerified bool
	HasPeerVerified  bool

	// IngoingTopic and OutgoingTopic are the derived, stable channel
	// identifiers used after the handshake.
	IngoingTopic  string
	OutgoingTopic string

	// PairedAt is the pairing completion time.
	PairedAt time.Time
}

// Validate checks the stage invariants.
func (d *Device) Validate() error {
	inPairingStages := d.Stage == StageInitiating || d.Stage == StageHandshaking
	if d.PairingTopic != "" && !inPairingStages {
		return ErrInvariantViolated
	}
	if inPairingStages && d.PairingTopic == "" {
		return ErrInvariantViolated
	}

	hasPeerTopics := d.IngoingTopic != "" || d.OutgoingTopic != ""
	inChannelStages := d.Stage == StageVerifying || d.Stage == StagePaired
	if hasPeerTopics && !inChannelStages {
		return ErrInvariantViolated
	}
	if inChannelStages && (d.IngoingTopic == "" || d.OutgoingTopic == "") {
		return ErrInvariantViolated
	}

	bothVerified := d.HasLocalVerified && d.HasPeerVerified
	if (d.Stage == StagePaired) != bothVerified {
		return ErrInvariantViolated
	}

	return nil
}

// AdvanceStage moves the device to the next stage, enforcing forward-only
// transitions.
func (d *Device) AdvanceStage(next Stage) error {
	if !d.Stage.canAdvanceTo(next) {
		return ErrStageRegression
	}
	d.Stage = next
	return nil
}

// Clone returns a deep copy of the device.
func (d *Device) Clone() *Device {
	cp := *d
	if d.FollowerID != nil {
		fid := *d.FollowerID
		cp.FollowerID = &fid
	}
	cp.Salt = cloneBytes(d.Salt)
	cp.PrivateKey = cloneBytes(d.PrivateKey)
	cp.PublicKey = cloneBytes(d.PublicKey)
	cp.PeerPublicKey = cloneBytes(d.PeerPublicKey)
	cp.VerificationData = cloneBytes(d.VerificationData)
	return &cp
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp
}
