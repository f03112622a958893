package sendqueue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type memQueueStore struct {
	mu      sync.Mutex
	entries []*Entry
}

func (s *memQueueStore) InsertQueueEntry(e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.CollapseKey != "" {
		kept := s.entries[:0]
		for _, existing := range s.entries {
			if existing.PeerID == e.PeerID && existing.CollapseKey == e.CollapseKey {
				continue
			}
			kept = append(kept, existing)
		}
		s.entries = kept
	}
	cp := *e
	s.entries = append(s.entries, &cp)
	return nil
}

func (s *memQueueStore) NextQueueEntry() (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *Entry
	for _, e := range s.entries {
		if oldest == nil || e.QueuedAt.Before(oldest.QueuedAt) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (s *memQueueStore) RemoveQueueEntry(peerID uuid.UUID, messageID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, e := range s.entries {
		if e.PeerID == peerID && e.MessageID == messageID {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *memQueueStore) ExpireQueueEntries(now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	removed := 0
	for _, e := range s.entries {
		if e.Expired(now) {
			removed++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return removed, nil
}

func (s *memQueueStore) DeleteQueueForPeer(peerID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.entries[:0]
	for _, e := range s.entries {
		if e.PeerID == peerID {
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return nil
}

func (s *memQueueStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []string
	failUntil int
	attempts  int
	notify    chan struct{}
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{notify: make(chan struct{}, 64)}
}

func (p *fakePublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.attempts++
	if p.attempts <= p.failUntil {
		return errors.New("relay unavailable")
	}
	p.published = append(p.published, topic)
	select {
	case p.notify <- struct{}{}:
	default:
	}
	return nil
}

func (p *fakePublisher) topics() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.published))
	copy(out, p.published)
	return out
}

func waitPublished(t *testing.T, p *fakePublisher, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		if len(p.topics()) >= n {
			return
		}
		select {
		case <-p.notify:
		case <-deadline:
			t.Fatalf("only %d of %d messages published", len(p.topics()), n)
		}
	}
}

func TestWorkerDrainsFIFO(t *testing.T) {
	storeImpl := &memQueueStore{}
	queue := New(storeImpl)
	publisher := newFakePublisher()
	worker := NewWorker(WorkerConfig{Queue: queue, Publisher: publisher})

	peerID := uuid.New()
	base := time.Now().Add(-time.Minute)
	for i, topic := range []string{"a", "b", "c"} {
		err := queue.Enqueue(&Entry{
			PeerID:    peerID,
			MessageID: uint64(i + 1),
			Topic:     topic,
			QueuedAt:  base.Add(time.Duration(i) * time.Second),
			Payload:   []byte{byte(i)},
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	worker.Start()
	defer worker.Stop()
	waitPublished(t, publisher, 3)

	got := publisher.topics()
	if got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("publish order = %v, want [a b c]", got)
	}
	if storeImpl.len() != 0 {
		t.Fatal("delivered entries not removed")
	}
}

func TestWorkerRetriesUntilPublishSucceeds(t *testing.T) {
	storeImpl := &memQueueStore{}
	queue := New(storeImpl)
	publisher := newFakePublisher()
	publisher.failUntil = 2
	worker := NewWorker(WorkerConfig{Queue: queue, Publisher: publisher})
	worker.Start()
	defer worker.Stop()

	err := queue.Enqueue(&Entry{
		PeerID:    uuid.New(),
		MessageID: 1,
		Topic:     "t",
		Payload:   []byte{1},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	waitPublished(t, publisher, 1)
	if storeImpl.len() != 0 {
		t.Fatal("entry not removed after eventual delivery")
	}
}

func TestWorkerDropsExpiredEntries(t *testing.T) {
	storeImpl := &memQueueStore{}
	queue := New(storeImpl)
	publisher := newFakePublisher()
	worker := NewWorker(WorkerConfig{Queue: queue, Publisher: publisher})

	// Already past its TTL when the worker first sees it.
	err := queue.Enqueue(&Entry{
		PeerID:    uuid.New(),
		MessageID: 1,
		Topic:     "stale",
		QueuedAt:  time.Now().Add(-2 * time.Hour),
		TTL:       time.Hour,
		Payload:   []byte{1},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	err = queue.Enqueue(&Entry{
		PeerID:    uuid.New(),
		MessageID: 2,
		Topic:     "fresh",
		Payload:   []byte{2},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	worker.Start()
	defer worker.Stop()
	waitPublished(t, publisher, 1)

	got := publisher.topics()
	if len(got) != 1 || got[0] != "fresh" {
		t.Fatalf("published %v, want only the fresh entry", got)
	}
	if storeImpl.len() != 0 {
		t.Fatal("expired entry not dropped")
	}
}

func TestEnqueueDefaults(t *testing.T) {
	storeImpl := &memQueueStore{}
	queue := New(storeImpl)

	if err := queue.Enqueue(&Entry{PeerID: uuid.New(), MessageID: 1, Topic: "t"}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	e, err := queue.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.QueuedAt.IsZero() {
		t.Fatal("enqueue time not defaulted")
	}
	if e.TTL != DefaultTTL {
		t.Fatalf("ttl = %v, want %v", e.TTL, DefaultTTL)
	}
}

func TestQueueCollapseSupersede(t *testing.T) {
	storeImpl := &memQueueStore{}
	queue := New(storeImpl)
	peerID := uuid.New()

	for i := 1; i <= 3; i++ {
		err := queue.Enqueue(&Entry{
			PeerID:      peerID,
			MessageID:   uint64(i),
			Topic:       "t",
			CollapseKey: "progress",
			Payload:     []byte{byte(i)},
		})
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}

	e, err := queue.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if e.MessageID != 3 {
		t.Fatalf("dequeued message %d, want the newest (3)", e.MessageID)
	}
	if storeImpl.len() != 1 {
		t.Fatalf("%d entries stored, want 1", storeImpl.len())
	}
}
