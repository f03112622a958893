package transport

import (
	"sync"
	"time"
)

// MemoryBroker is an in-process hub connecting several MemoryTransport
// endpoints, used to test protocol flows deterministically. Optional
// knobs simulate the relay's weaker delivery guarantees.
type MemoryBroker struct {
	// DeliveryDelay postpones every delivery by a fixed amount.
	DeliveryDelay time.Duration

	// Duplicate delivers every payload twice.
	Duplicate bool

	mu        sync.Mutex
	endpoints []*MemoryTransport
}

// NewMemoryBroker creates an empty broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{}
}

// Attach creates a new endpoint on the broker.
func (b *MemoryBroker) Attach() *MemoryTransport {
	b.mu.Lock()
	defer b.mu.Unlock()
	ep := &MemoryTransport{broker: b, subs: make(map[string]bool)}
	b.endpoints = append(b.endpoints, ep)
	return ep
}

func (b *MemoryBroker) publish(topic string, payload []byte) {
	b.mu.Lock()
	delay := b.DeliveryDelay
	duplicate := b.Duplicate
	var targets []*MemoryTransport
	for _, ep := range b.endpoints {
		ep.mu.Lock()
		subscribed := !ep.closed && ep.subs[topic]
		ep.mu.Unlock()
		if subscribed {
			targets = append(targets, ep)
		}
	}
	b.mu.Unlock()

	deliveries := 1
	if duplicate {
		deliveries = 2
	}
	for _, ep := range targets {
		for i := 0; i < deliveries; i++ {
			go func(ep *MemoryTransport) {
				if delay > 0 {
					time.Sleep(delay)
				}
				ep.deliver(topic, payload)
			}(ep)
		}
	}
}

// MemoryTransport is one endpoint of a MemoryBroker.
type MemoryTransport struct {
	broker *MemoryBroker

	mu      sync.Mutex
	subs    map[string]bool
	handler Handler
	closed  bool
}

func (t *MemoryTransport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

func (t *MemoryTransport) Subscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	t.subs[topic] = true
	return nil
}

func (t *MemoryTransport) Unsubscribe(topic string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	delete(t.subs, topic)
	return nil
}

func (t *MemoryTransport) Publish(topic string, payload []byte) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return ErrClosed
	}
	t.mu.Unlock()

	cp := make([]byte, len(payload))
	copy(cp, payload)
	t.broker.publish(topic, cp)
	return nil
}

func (t *MemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *MemoryTransport) deliver(topic string, payload []byte) {
	t.mu.Lock()
	handler := t.handler
	subscribed := !t.closed && t.subs[topic]
	t.mu.Unlock()
	if handler != nil && subscribed {
		handler(topic, payload)
	}
}
