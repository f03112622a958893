// Package transport abstracts the store-and-forward push transport:
// topic-based publish/subscribe with at-least-once, unordered delivery.
// It ships an in-process broker for tests and a websocket relay client.
package transport

// Handler receives delivered payloads together with the topic they were
// published on. Handlers must tolerate duplicates and reordering.
type Handler func(topic string, payload []byte)

// Transport is a topic-addressed push channel. Implementations deliver
// payloads for subscribed topics to the registered handler; delivery may
// be delayed, duplicated or reordered, never inspected.
type Transport interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error

	// SetHandler registers the delivery callback. Must be called before
	// the first subscription.
	SetHandler(h Handler)

	Close() error
}
