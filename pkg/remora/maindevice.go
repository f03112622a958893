package remora

import (
	"github.com/google/uuid"

	"github.com/TebbeUbben/remora/pkg/command"
	"github.com/TebbeUbben/remora/pkg/crypto"
	"github.com/TebbeUbben/remora/pkg/pairing"
	"github.com/TebbeUbben/remora/pkg/peer"
	"github.com/TebbeUbben/remora/pkg/wire"
)

// MainNode is the controller side: it exports pairing bundles for
// followers and executes their confirmed treatment commands through the
// configured handler.
type MainNode struct {
	*node
	processor *command.Processor
}

// NewMain assembles a main node. Call Start before use.
func NewMain(config Config) (*MainNode, error) {
	if err := config.validate(true); err != nil {
		return nil, err
	}
	config.applyDefaults()

	n := newNode(&config)
	n.directory = peer.NewDirectory(config.Store, false)

	coordinator, err := pairing.NewCoordinator(pairing.Config{
		Role:             crypto.RoleMain,
		Directory:        n.directory,
		KeyStore:         config.KeyStore,
		Transport:        config.Transport,
		Sender:           n,
		RelayURL:         config.RelayURL,
		RelayCredentials: config.RelayCredentials,
		LoggerFactory:    config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	n.coordinator = coordinator

	processor, err := command.NewProcessor(command.ProcessorConfig{
		Handler:       config.Handler,
		Sender:        n,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	m := &MainNode{node: n, processor: processor}
	n.route = m.routeMessage
	n.routePairing = m.routePairingMessage
	return m, nil
}

// Start re-subscribes to persisted topics and starts queue delivery.
func (m *MainNode) Start() error { return m.start() }

// Stop halts queue delivery.
func (m *MainNode) Stop() { m.stop() }

// BeginPairing creates a new follower slot and returns its record plus
// the encoded bundle for out-of-band transfer.
func (m *MainNode) BeginPairing(followerID uint32, displayName string) (*peer.Device, string, error) {
	return m.coordinator.Initiate(followerID, displayName)
}

// ConfirmVerification records that the user compared the verification
// code with the follower's display.
func (m *MainNode) ConfirmVerification(peerID uuid.UUID) error {
	return m.coordinator.ConfirmVerification(peerID)
}

// Unpair removes a follower and all its material.
func (m *MainNode) Unpair(peerID uuid.UUID) error {
	return m.unpair(peerID)
}

// Followers lists all persisted follower records.
func (m *MainNode) Followers() ([]*peer.Device, error) {
	return m.directory.Devices()
}

func (m *MainNode) routeMessage(d *peer.Device, msg wire.Message) {
	var err error
	switch msg := msg.(type) {
	case *wire.Verify:
		err = m.coordinator.HandleVerify(d.ID)
	case *wire.PrepareCommand:
		err = m.processor.HandlePrepareCommand(d.ID, msg)
	case *wire.ConfirmCommand:
		err = m.processor.HandleConfirmCommand(d.ID, msg)
	default:
		m.log.Warnf("dropping unexpected %s from %s", msg.MessageType(), d.ID)
		return
	}
	if err != nil {
		m.log.Warnf("handling %s from %s: %v", msg.MessageType(), d.ID, err)
	}
}

// routePairingMessage completes the handshake when the follower's public
// key arrives in the clear on the pairing topic.
func (m *MainNode) routePairingMessage(d *peer.Device, payload []byte) {
	msg, err := wire.Unmarshal(payload)
	if err != nil {
		m.log.Warnf("dropping malformed pairing payload for %s: %v", d.ID, err)
		return
	}
	exchange, ok := msg.(*wire.PublicKeyExchange)
	if !ok {
		m.log.Warnf("dropping unexpected %s on pairing topic of %s", msg.MessageType(), d.ID)
		return
	}
	if _, err := m.coordinator.HandlePublicKeyExchange(d.PairingTopic, exchange); err != nil {
		m.log.Warnf("completing handshake for %s: %v", d.ID, err)
	}
}
