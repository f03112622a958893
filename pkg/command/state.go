// Package command implements the two-stage treatment command protocol: the
// follower-side requester driving Initial → Prepared → Progressing → Final,
// and the main-device processor enforcing single-flight prepare/confirm
// execution with sequence-based replay defense.
package command

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/TebbeUbben/remora/pkg/wire"
)

// Phase tags the follower-side command union.
type Phase int

const (
	// PhaseInitial means the prepare request was sent (or is about to be)
	// and no response has been accepted yet.
	PhaseInitial Phase = iota

	// PhaseRejected means the main device answered the prepare with an
	// enumerated error.
	PhaseRejected

	// PhasePrepared means the main device accepted the command, possibly
	// with constrained data, and awaits confirmation.
	PhasePrepared

	// PhaseProgressing means execution started and progress is streaming.
	PhaseProgressing

	// PhaseFinal means the terminal result arrived.
	PhaseFinal
)

// String returns a human-readable representation of the phase.
func (p Phase) String() string {
	switch p {
	case PhaseInitial:
		return "Initial"
	case PhaseRejected:
		return "Rejected"
	case PhasePrepared:
		return "Prepared"
	case PhaseProgressing:
		return "Progressing"
	case PhaseFinal:
		return "Final"
	default:
		return fmt.Sprintf("Phase(%d)", int(p))
	}
}

// State is the follower's single persisted command slot: one command's
// progress through the protocol as a tagged union. Exactly one State is
// live at a time; initiating a new command overwrites the previous one.
//
// FollowerSequenceID is assigned once per command attempt and never
// changes; MainSequenceID is assigned by the main device when the command
// enters the prepare phase and correlates all subsequent messages.
type State struct {
	Phase  Phase
	PeerID uuid.UUID

	FollowerSequenceID uint64
	OriginalData       *wire.CommandData
	Snapshot           wire.StatusSnapshot
	LastAttempt        time.Time

	// Rejected.
	Error wire.CommandError

	// Prepared and later.
	MainSequenceID  uint64
	ConstrainedData *wire.CommandData
	ValidUntil      time.Time

	// Progressing.
	Progress *wire.CommandProgress

	// Final.
	Result *wire.CommandResult
}

// Store persists the follower's single command slot. Implemented by
// pkg/store.
type Store interface {
	// SaveCommand persists the slot, replacing any previous value.
	SaveCommand(s *State) error

	// LoadCommand returns the current slot, or nil when none exists.
	LoadCommand() (*State, error)

	// ClearCommand discards the slot.
	ClearCommand() error
}

// Sender hands a protocol message to the outbound path (seal + enqueue).
// Implemented by the node wiring in pkg/remora.
type Sender interface {
	Send(peerID uuid.UUID, m wire.Message, collapseKey string, ttl time.Duration) error
}
