package remora

import (
	"github.com/google/uuid"

	"github.com/TebbeUbben/remora/pkg/command"
	"github.com/TebbeUbben/remora/pkg/crypto"
	"github.com/TebbeUbben/remora/pkg/pairing"
	"github.com/TebbeUbben/remora/pkg/peer"
	"github.com/TebbeUbben/remora/pkg/wire"
)

// FollowerNode is the remote-control side: it pairs with exactly one main
// device and drives treatment commands through prepare and confirm.
type FollowerNode struct {
	*node
	requester *command.Requester
}

// NewFollower assembles a follower node. Call Start before use.
func NewFollower(config Config) (*FollowerNode, error) {
	if err := config.validate(false); err != nil {
		return nil, err
	}
	config.applyDefaults()

	n := newNode(&config)
	n.directory = peer.NewDirectory(config.Store, true)

	coordinator, err := pairing.NewCoordinator(pairing.Config{
		Role:          crypto.RoleFollower,
		Directory:     n.directory,
		KeyStore:      config.KeyStore,
		Transport:     config.Transport,
		Sender:        n,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}
	n.coordinator = coordinator

	requester, err := command.NewRequester(command.RequesterConfig{
		Store:         config.Store,
		Sender:        n,
		OnChange:      config.OnCommandChange,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		return nil, err
	}

	f := &FollowerNode{node: n, requester: requester}
	n.route = f.routeMessage
	n.routePairing = f.routePairingMessage
	return f, nil
}

// Start re-subscribes to persisted topics and starts queue delivery.
func (f *FollowerNode) Start() error { return f.start() }

// Stop halts queue delivery. Persisted state survives for the next start.
func (f *FollowerNode) Stop() { f.stop() }

// Pair consumes a bundle scanned from the main device and runs the
// responder half of the handshake.
func (f *FollowerNode) Pair(bundle string, displayName string) (*peer.Device, error) {
	return f.coordinator.HandleBundle(bundle, displayName)
}

// ConfirmVerification records that the user compared the verification
// code with the main device's display.
func (f *FollowerNode) ConfirmVerification(peerID uuid.UUID) error {
	return f.coordinator.ConfirmVerification(peerID)
}

// Unpair removes the peer and all its material.
func (f *FollowerNode) Unpair(peerID uuid.UUID) error {
	return f.unpair(peerID)
}

// MainDevice returns the paired main device record.
func (f *FollowerNode) MainDevice() (*peer.Device, error) {
	d, err := f.directory.PairedMain()
	if err == peer.ErrNotFound {
		return nil, ErrNotPaired
	}
	return d, err
}

// RequestCommand starts a new treatment command toward the paired main
// device, overwriting any previous command slot.
func (f *FollowerNode) RequestCommand(data *wire.CommandData, snapshot wire.StatusSnapshot) error {
	d, err := f.MainDevice()
	if err != nil {
		return err
	}
	return f.requester.InitiateCommand(d.ID, data, snapshot)
}

// RetryPrepare re-sends the prepare request of the current Initial
// command.
func (f *FollowerNode) RetryPrepare() error {
	return f.requester.SendPrepareRequest()
}

// ConfirmCommand confirms the current Prepared command for execution.
func (f *FollowerNode) ConfirmCommand() error {
	return f.requester.SendConfirmation()
}

// CurrentCommand returns the persisted command slot, or nil.
func (f *FollowerNode) CurrentCommand() (*command.State, error) {
	return f.requester.Current()
}

// ClearCommand discards the current command slot.
func (f *FollowerNode) ClearCommand() error {
	return f.requester.Clear()
}

func (f *FollowerNode) routeMessage(d *peer.Device, msg wire.Message) {
	var err error
	switch m := msg.(type) {
	case *wire.Verify:
		err = f.coordinator.HandleVerify(d.ID)
	case *wire.PrepareCommandResponse:
		err = f.requester.HandlePrepareResponse(m)
	case *wire.CommandProgress:
		err = f.requester.HandleProgress(m)
	case *wire.CommandResult:
		err = f.requester.HandleResult(m)
	default:
		f.log.Warnf("dropping unexpected %s from %s", msg.MessageType(), d.ID)
		return
	}
	if err != nil {
		f.log.Warnf("handling %s from %s: %v", msg.MessageType(), d.ID, err)
	}
}

// The follower never listens on a pairing topic: it answers the bundle on
// the main device's topic and moves straight to the derived channel.
func (f *FollowerNode) routePairingMessage(d *peer.Device, payload []byte) {
	f.log.Warnf("dropping unexpected pairing-topic payload for %s", d.ID)
}
