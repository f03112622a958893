// Package store provides the persistence layer: paired peer records, the
// single follower command slot, the outgoing send queue and per-peer
// sequence state live behind one Store interface with an in-memory and a
// SQLite implementation.
package store

import (
	"github.com/google/uuid"

	"github.com/TebbeUbben/remora/pkg/command"
	"github.com/TebbeUbben/remora/pkg/peer"
	"github.com/TebbeUbben/remora/pkg/sendqueue"
)

// SequenceStore tracks per-peer message id state: the outgoing counter
// and the replay windows for the ingoing and status channels.
type SequenceStore interface {
	// NextOutgoingID returns the next outgoing message id for the peer.
	// Ids are monotonically increasing and survive restarts.
	NextOutgoingID(peerID uuid.UUID) (uint64, error)

	// AcceptIngoing records an ingoing message id and reports whether it
	// is fresh. Duplicates and ids older than the replay window return
	// false.
	AcceptIngoing(peerID uuid.UUID, messageID uint64) (bool, error)

	// AcceptStatus is AcceptIngoing for the status channel, which has its
	// own id space.
	AcceptStatus(peerID uuid.UUID, messageID uint64) (bool, error)

	// DeleteSequenceState drops all sequence state for a peer.
	DeleteSequenceState(peerID uuid.UUID) error
}

// Store aggregates every persistence concern of a node.
type Store interface {
	peer.Store
	command.Store
	sendqueue.Store
	SequenceStore

	Close() error
}
