package store

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TebbeUbben/remora/pkg/command"
	"github.com/TebbeUbben/remora/pkg/peer"
	"github.com/TebbeUbben/remora/pkg/sendqueue"
)

// Memory is an in-memory Store for tests and ephemeral nodes. Safe for
// concurrent use.
type Memory struct {
	mu      sync.Mutex
	peers   map[uuid.UUID]*peer.Device
	cmd     *command.State
	queue   []*sendqueue.Entry
	seq     map[uuid.UUID]*sequenceState
	initSeq func() uint64
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		peers:   make(map[uuid.UUID]*peer.Device),
		seq:     make(map[uuid.UUID]*sequenceState),
		initSeq: randomOutgoingInit,
	}
}

func (m *Memory) SavePeer(d *peer.Device) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.peers[d.ID] = d.Clone()
	return nil
}

func (m *Memory) LoadPeers() ([]*peer.Device, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*peer.Device, 0, len(m.peers))
	for _, d := range m.peers {
		out = append(out, d.Clone())
	}
	return out, nil
}

func (m *Memory) DeletePeer(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, id)
	return nil
}

func (m *Memory) SaveCommand(s *command.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.cmd = &cp
	return nil
}

func (m *Memory) LoadCommand() (*command.State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cmd == nil {
		return nil, nil
	}
	cp := *m.cmd
	return &cp, nil
}

func (m *Memory) ClearCommand() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cmd = nil
	return nil
}

func (m *Memory) InsertQueueEntry(e *sendqueue.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e.CollapseKey != "" {
		kept := m.queue[:0]
		for _, existing := range m.queue {
			if existing.PeerID == e.PeerID && existing.CollapseKey == e.CollapseKey {
				continue
			}
			kept = append(kept, existing)
		}
		m.queue = kept
	}

	cp := *e
	cp.Payload = append([]byte(nil), e.Payload...)
	m.queue = append(m.queue, &cp)
	return nil
}

func (m *Memory) NextQueueEntry() (*sendqueue.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var oldest *sendqueue.Entry
	for _, e := range m.queue {
		if oldest == nil || e.QueuedAt.Before(oldest.QueuedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	cp.Payload = append([]byte(nil), oldest.Payload...)
	return &cp, nil
}

func (m *Memory) RemoveQueueEntry(peerID uuid.UUID, messageID uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, e := range m.queue {
		if e.PeerID == peerID && e.MessageID == messageID {
			m.queue = append(m.queue[:i], m.queue[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) ExpireQueueEntries(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.queue[:0]
	removed := 0
	for _, e := range m.queue {
		if e.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	m.queue = kept
	return removed, nil
}

func (m *Memory) DeleteQueueForPeer(peerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.queue[:0]
	for _, e := range m.queue {
		if e.PeerID == peerID {
			continue
		}
		kept = append(kept, e)
	}
	m.queue = kept
	return nil
}

func (m *Memory) NextOutgoingID(peerID uuid.UUID) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.sequenceState(peerID)
	state.outgoing++
	return state.outgoing, nil
}

func (m *Memory) AcceptIngoing(peerID uuid.UUID, messageID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sequenceState(peerID).ingoing.accept(messageID), nil
}

func (m *Memory) AcceptStatus(peerID uuid.UUID, messageID uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sequenceState(peerID).status.accept(messageID), nil
}

func (m *Memory) DeleteSequenceState(peerID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.seq, peerID)
	return nil
}

func (m *Memory) Close() error { return nil }

func (m *Memory) sequenceState(peerID uuid.UUID) *sequenceState {
	state, ok := m.seq[peerID]
	if !ok {
		state = &sequenceState{outgoing: m.initSeq()}
		m.seq[peerID] = state
	}
	return state
}
