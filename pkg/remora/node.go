package remora

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/TebbeUbben/remora/pkg/keystore"
	"github.com/TebbeUbben/remora/pkg/pairing"
	"github.com/TebbeUbben/remora/pkg/peer"
	"github.com/TebbeUbben/remora/pkg/sendqueue"
	"github.com/TebbeUbben/remora/pkg/store"
	"github.com/TebbeUbben/remora/pkg/transport"
	"github.com/TebbeUbben/remora/pkg/wire"
)

// node is the role-independent part of a running endpoint: peer
// directory, pairing coordinator, send queue and inbound dispatch.
type node struct {
	store       store.Store
	keys        keystore.KeyStore
	transport   transport.Transport
	directory   *peer.Directory
	coordinator *pairing.Coordinator
	queue       *sendqueue.Queue
	worker      *sendqueue.Worker
	log         logging.LeveledLogger

	// dispatchMu serializes inbound message handling so every handler
	// sees the persisted state left by the previous one.
	dispatchMu sync.Mutex

	// route handles a decrypted channel message; set by the role wrapper.
	route func(d *peer.Device, msg wire.Message)

	// routePairing handles a plaintext pairing-topic payload.
	routePairing func(d *peer.Device, payload []byte)
}

func newNode(config *Config) *node {
	n := &node{
		store:     config.Store,
		keys:      config.KeyStore,
		transport: config.Transport,
		queue:     sendqueue.New(config.Store),
		log:       config.LoggerFactory.NewLogger("remora"),
	}
	n.worker = sendqueue.NewWorker(sendqueue.WorkerConfig{
		Queue:         n.queue,
		Publisher:     config.Transport,
		SweepInterval: config.SweepInterval,
		LoggerFactory: config.LoggerFactory,
	})
	return n
}

// start re-subscribes to every topic owed to persisted peers and begins
// draining the send queue. Mid-handshake peers keep their pairing topic,
// established ones their derived ingoing topic.
func (n *node) start() error {
	n.transport.SetHandler(n.handleInbound)

	devices, err := n.directory.Devices()
	if err != nil {
		return fmt.Errorf("loading peers: %w", err)
	}
	for _, d := range devices {
		switch d.Stage {
		case peer.StageInitiating, peer.StageHandshaking:
			if d.PairingTopic != "" {
				if err := n.transport.Subscribe(d.PairingTopic); err != nil {
					return fmt.Errorf("subscribing pairing topic: %w", err)
				}
			}
		case peer.StageVerifying, peer.StagePaired:
			if err := n.transport.Subscribe(d.IngoingTopic); err != nil {
				return fmt.Errorf("subscribing ingoing topic: %w", err)
			}
		}
	}

	n.worker.Start()
	return nil
}

func (n *node) stop() {
	n.worker.Stop()
}

// Send seals a message for a peer and hands it to the send queue. The
// envelope's message id doubles as the queue's per-peer id.
func (n *node) Send(peerID uuid.UUID, m wire.Message, collapseKey string, ttl time.Duration) error {
	d, err := n.directory.Get(peerID)
	if err != nil {
		return err
	}
	if d.OutgoingTopic == "" {
		return ErrNoChannel
	}

	key, err := n.keys.KeyForSeal(keystore.Alias(peerID, keystore.PurposeOutgoing))
	if err != nil {
		return fmt.Errorf("loading outgoing key: %w", err)
	}
	messageID, err := n.store.NextOutgoingID(peerID)
	if err != nil {
		return fmt.Errorf("allocating message id: %w", err)
	}
	payload, err := wire.Seal(key, messageID, m, d.IngoingTopic, d.OutgoingTopic)
	if err != nil {
		return fmt.Errorf("sealing message: %w", err)
	}

	return n.queue.Enqueue(&sendqueue.Entry{
		PeerID:      peerID,
		MessageID:   messageID,
		Topic:       d.OutgoingTopic,
		CollapseKey: collapseKey,
		TTL:         ttl,
		Payload:     payload,
	})
}

// handleInbound is the transport delivery callback. Anything that fails
// to authenticate or parse is logged and dropped; an attacker probing a
// topic never receives an answer.
func (n *node) handleInbound(topic string, payload []byte) {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()

	if d, err := n.directory.ByPairingTopic(topic); err == nil {
		n.routePairing(d, payload)
		return
	}

	d, err := n.directory.ByIngoingTopic(topic)
	if err != nil {
		n.log.Debugf("dropping payload for unknown topic %s", topic)
		return
	}

	key, err := n.keys.KeyForOpen(keystore.Alias(d.ID, keystore.PurposeIngoing))
	if err != nil {
		n.log.Warnf("loading ingoing key for %s: %v", d.ID, err)
		return
	}
	messageID, msg, err := wire.Open(key, payload, d.OutgoingTopic, d.IngoingTopic)
	if err != nil {
		n.log.Warnf("dropping undecryptable payload for %s: %v", d.ID, err)
		return
	}
	fresh, err := n.store.AcceptIngoing(d.ID, messageID)
	if err != nil {
		n.log.Warnf("checking message id for %s: %v", d.ID, err)
		return
	}
	if !fresh {
		n.log.Debugf("dropping replayed message %d from %s", messageID, d.ID)
		return
	}

	n.route(d, msg)
}

// unpair removes a peer and everything attached to it: subscription, key
// material, queued traffic and sequence state.
func (n *node) unpair(peerID uuid.UUID) error {
	if err := n.coordinator.Unpair(peerID); err != nil {
		return err
	}
	if err := n.queue.DropPeer(peerID); err != nil {
		return fmt.Errorf("dropping queued traffic: %w", err)
	}
	if err := n.store.DeleteSequenceState(peerID); err != nil {
		return fmt.Errorf("dropping sequence state: %w", err)
	}
	return nil
}
