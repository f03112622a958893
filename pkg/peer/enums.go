package peer

import "fmt"

// Stage represents a peer's position in the pairing lifecycle.
// A peer advances monotonically through the stages and never regresses.
type Stage int

const (
	// StageStub is a freshly created record that exists solely to reserve
	// a durable identifier. It is promoted immediately.
	StageStub Stage = iota

	// StageInitiating means we generated key material and exported the
	// pairing bundle; we are waiting for the peer's public key on the
	// pairing topic.
	StageInitiating

	// StageHandshaking means we imported a pairing bundle and are about to
	// publish our public key on the pairing topic.
	StageHandshaking

	// StageVerifying means both sides hold the derived channel material
	// and the users are comparing the verification data.
	StageVerifying

	// StagePaired means both sides confirmed the verification data.
	StagePaired
)

// String returns a human-readable representation of the stage.
func (s Stage) String() string {
	switch s {
	case StageStub:
		return "Stub"
	case StageInitiating:
		return "Initiating"
	case StageHandshaking:
		return "Handshaking"
	case StageVerifying:
		return "Verifying"
	case StagePaired:
		return "Paired"
	default:
		return fmt.Sprintf("Stage(%d)", int(s))
	}
}

// canAdvanceTo reports whether a transition from s to next is a legal,
// forward-only stage change.
func (s Stage) canAdvanceTo(next Stage) bool {
	switch s {
	case StageStub:
		// A stub is promoted to whichever role-side entry stage applies.
		return next == StageInitiating || next == StageHandshaking
	case StageInitiating, StageHandshaking:
		return next == StageVerifying
	case StageVerifying:
		return next == StagePaired
	default:
		return false
	}
}
