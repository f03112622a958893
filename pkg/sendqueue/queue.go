// Package sendqueue implements the persisted per-peer outbox feeding the
// push transport. Entries survive process restarts and are retried until
// the transport confirms delivery or their TTL elapses. A collapse key
// makes a newer enqueued message supersede an older unsent one with the
// same key, so stale progress updates are never transmitted after being
// overtaken.
package sendqueue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the default queue entry lifetime.
const DefaultTTL = 24 * time.Hour

// Entry is one outbound, not-yet-confirmed-sent message.
type Entry struct {
	// PeerID identifies the destination peer.
	PeerID uuid.UUID

	// MessageID is unique within the peer, monotonically assigned by the
	// per-peer outgoing sequence counter.
	MessageID uint64

	// Topic is the transport topic to publish on.
	Topic string

	// CollapseKey, when non-empty, makes this entry supersede any older
	// unsent entry for the same peer with the same key.
	CollapseKey string

	// QueuedAt is the enqueue time; retrieval is FIFO by this field.
	QueuedAt time.Time

	// TTL bounds how long delivery is attempted.
	TTL time.Duration

	// Payload is the opaque sealed envelope.
	Payload []byte
}

// Expired reports whether the entry's TTL has elapsed at now.
func (e *Entry) Expired(now time.Time) bool {
	return now.After(e.QueuedAt.Add(e.TTL))
}

// Store abstracts the persisted queue table. Implemented by pkg/store.
//
// All methods must be safe for concurrent use.
type Store interface {
	// InsertQueueEntry inserts an entry, replacing any unsent entry with
	// the same (peer, collapseKey) when the collapse key is non-empty.
	InsertQueueEntry(e *Entry) error

	// NextQueueEntry returns the oldest entry by enqueue time, or nil
	// when the queue is empty.
	NextQueueEntry() (*Entry, error)

	// RemoveQueueEntry deletes one entry by its primary key.
	RemoveQueueEntry(peerID uuid.UUID, messageID uint64) error

	// ExpireQueueEntries deletes entries whose TTL elapsed before now and
	// returns how many were removed.
	ExpireQueueEntries(now time.Time) (int, error)

	// DeleteQueueForPeer drops all entries for a peer (unpairing).
	DeleteQueueForPeer(peerID uuid.UUID) error
}

// Queue wraps a Store with enqueue-time defaults and a wakeup signal for
// the delivery worker.
type Queue struct {
	store  Store
	wakeCh chan struct{}
}

// New creates a queue over the given store.
func New(store Store) *Queue {
	return &Queue{
		store:  store,
		wakeCh: make(chan struct{}, 1),
	}
}

// Enqueue persists an entry and wakes the delivery worker.
func (q *Queue) Enqueue(e *Entry) error {
	if e.QueuedAt.IsZero() {
		e.QueuedAt = time.Now()
	}
	if e.TTL == 0 {
		e.TTL = DefaultTTL
	}
	if err := q.store.InsertQueueEntry(e); err != nil {
		return fmt.Errorf("enqueuing message %d: %w", e.MessageID, err)
	}

	select {
	case q.wakeCh <- struct{}{}:
	default:
	}
	return nil
}

// Next returns the oldest queued entry, or nil when empty.
func (q *Queue) Next() (*Entry, error) {
	return q.store.NextQueueEntry()
}

// Remove deletes an entry after the transport confirmed delivery.
func (q *Queue) Remove(peerID uuid.UUID, messageID uint64) error {
	return q.store.RemoveQueueEntry(peerID, messageID)
}

// DropPeer discards all pending traffic for a peer.
func (q *Queue) DropPeer(peerID uuid.UUID) error {
	return q.store.DeleteQueueForPeer(peerID)
}

// wake returns the channel signaled on enqueue.
func (q *Queue) wake() <-chan struct{} {
	return q.wakeCh
}
