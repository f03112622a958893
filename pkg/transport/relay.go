package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/pion/logging"

	"github.com/TebbeUbben/remora/pkg/crypto"
)

const relaySessionInfo = "remora/v1/relay/session"

// RelayConfig configures a relay client.
type RelayConfig struct {
	// URL is the websocket endpoint of the relay, e.g.
	// wss://relay.example.org/v1.
	URL string

	// Credentials authenticate against the relay and seed the session
	// key that frames travel under. Empty credentials mean plaintext
	// frames (local development relays).
	Credentials string

	// DialTimeout bounds one connection attempt (default: 10s).
	DialTimeout time.Duration

	// LoggerFactory is optional.
	LoggerFactory logging.LoggerFactory
}

// Relay is a Transport over a websocket relay connection. The connection
// is kept alive with exponential-backoff reconnects; subscriptions are
// replayed after every reconnect so a restarted relay loses nothing.
type Relay struct {
	url         string
	dialTimeout time.Duration
	sessionKey  []byte
	log         logging.LeveledLogger

	mu      sync.Mutex
	conn    *websocket.Conn
	subs    map[string]bool
	handler Handler
	closed  bool

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewRelay creates a relay client. Call Start to connect.
func NewRelay(config RelayConfig) (*Relay, error) {
	r := &Relay{
		url:         config.URL,
		dialTimeout: config.DialTimeout,
		subs:        make(map[string]bool),
	}
	if r.dialTimeout == 0 {
		r.dialTimeout = 10 * time.Second
	}
	if config.Credentials != "" {
		key, err := crypto.HKDFSHA256([]byte(config.Credentials), nil, []byte(relaySessionInfo), crypto.SymmetricKeySize)
		if err != nil {
			return nil, fmt.Errorf("deriving relay session key: %w", err)
		}
		r.sessionKey = key
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("relay")
	}
	return r, nil
}

// Start launches the connection loop.
func (r *Relay) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.doneCh = make(chan struct{})
	go r.run(ctx)
}

// SetHandler registers the delivery callback.
func (r *Relay) SetHandler(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handler = h
}

// Subscribe registers interest in a topic. The subscription survives
// reconnects; while disconnected it is queued for the next session.
func (r *Relay) Subscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.subs[topic] = true
	if r.conn == nil {
		return nil
	}
	return r.writeFrameLocked(&frame{op: opSubscribe, topic: topic})
}

// Unsubscribe drops a topic.
func (r *Relay) Unsubscribe(topic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	delete(r.subs, topic)
	if r.conn == nil {
		return nil
	}
	return r.writeFrameLocked(&frame{op: opUnsubscribe, topic: topic})
}

// Publish sends a payload to a topic. While disconnected it fails with
// ErrNotConnected; the send queue owns retry.
func (r *Relay) Publish(topic string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if r.conn == nil {
		return ErrNotConnected
	}
	return r.writeFrameLocked(&frame{op: opPublish, topic: topic, payload: payload})
}

// Close terminates the connection loop and the current connection.
func (r *Relay) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	conn := r.conn
	r.mu.Unlock()

	if r.cancel != nil {
		r.cancel()
	}
	if conn != nil {
		conn.Close()
	}
	if r.doneCh != nil {
		<-r.doneCh
	}
	return nil
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.doneCh)

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.MaxInterval = time.Minute
	policy.MaxElapsedTime = 0 // keep trying for the process lifetime

	for ctx.Err() == nil {
		conn, err := r.dial(ctx)
		if err != nil {
			wait := policy.NextBackOff()
			r.warnf("connecting to relay: %v (retrying in %s)", err, wait)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		policy.Reset()

		if err := r.attach(conn); err != nil {
			r.warnf("replaying subscriptions: %v", err)
			conn.Close()
			continue
		}
		r.debugf("connected to relay %s", r.url)

		r.readLoop(ctx, conn)

		r.mu.Lock()
		if r.conn == conn {
			r.conn = nil
		}
		r.mu.Unlock()
		conn.Close()
	}
}

func (r *Relay) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, r.dialTimeout)
	defer cancel()
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, r.url, nil)
	return conn, err
}

// attach installs a fresh connection and replays every subscription.
func (r *Relay) attach(conn *websocket.Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = conn
	for topic := range r.subs {
		if err := r.writeFrameLocked(&frame{op: opSubscribe, topic: topic}); err != nil {
			r.conn = nil
			return err
		}
	}
	return nil
}

func (r *Relay) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				r.warnf("relay read: %v", err)
			}
			return
		}

		opened, err := openFrame(r.sessionKey, data)
		if err != nil {
			r.warnf("opening relay frame: %v", err)
			continue
		}
		f, err := decodeFrame(opened)
		if err != nil {
			r.warnf("decoding relay frame: %v", err)
			continue
		}
		if f.op != opDeliver {
			r.warnf("unexpected relay frame opcode %d", f.op)
			continue
		}

		r.mu.Lock()
		handler := r.handler
		subscribed := r.subs[f.topic]
		r.mu.Unlock()
		if handler != nil && subscribed {
			handler(f.topic, f.payload)
		}
	}
}

// writeFrameLocked seals and sends one frame. Callers hold r.mu, which
// also serializes writers as the websocket requires.
func (r *Relay) writeFrameLocked(f *frame) error {
	sealed, err := sealFrame(r.sessionKey, f.encode())
	if err != nil {
		return err
	}
	if err := r.conn.WriteMessage(websocket.BinaryMessage, sealed); err != nil {
		return fmt.Errorf("writing relay frame: %w", err)
	}
	return nil
}

func (r *Relay) warnf(format string, args ...interface{}) {
	if r.log != nil {
		r.log.Warnf(format, args...)
	}
}

func (r *Relay) debugf(format string, args ...interface{}) {
	if r.log != nil {
		r.log.Debugf(format, args...)
	}
}
