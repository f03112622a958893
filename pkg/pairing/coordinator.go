// Package pairing implements the five-stage pairing handshake between a
// main device and a follower: out-of-band bundle transfer, public key
// exchange over the ephemeral pairing topic, symmetric channel derivation
// and mutual manual verification.
package pairing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/TebbeUbben/remora/pkg/crypto"
	"github.com/TebbeUbben/remora/pkg/keystore"
	"github.com/TebbeUbben/remora/pkg/peer"
	"github.com/TebbeUbben/remora/pkg/wire"
)

// collapseVerify collapses repeated verify sends so at most one is queued
// per peer.
const collapseVerify = "verify"

// Transport is the subset of the push transport the coordinator needs.
type Transport interface {
	Subscribe(topic string) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte) error
}

// Sender carries messages over an established encrypted channel. Only the
// verify message travels this way during pairing.
type Sender interface {
	Send(peerID uuid.UUID, m wire.Message, collapseKey string, ttl time.Duration) error
}

// Config configures a Coordinator.
type Config struct {
	// Role selects which side of the handshake this process plays.
	Role crypto.Role

	// Directory is the peer table. Required.
	Directory *peer.Directory

	// KeyStore receives the derived channel keys. Required.
	KeyStore keystore.KeyStore

	// Transport handles pairing-topic traffic and subscriptions.
	// Required.
	Transport Transport

	// Sender carries the verify message once the channel exists.
	// Required.
	Sender Sender

	// RelayURL and RelayCredentials are embedded in exported bundles so
	// the responder can reach the same relay. Only used on the main side.
	RelayURL         string
	RelayCredentials string

	// LoggerFactory is optional.
	LoggerFactory logging.LoggerFactory
}

// Coordinator drives the pairing state machine for every peer of one
// process. Crypto and parse failures abort the single operation and leave
// the peer record in its current stage for manual retry or cancel.
type Coordinator struct {
	role      crypto.Role
	directory *peer.Directory
	keys      keystore.KeyStore
	transport Transport
	sender    Sender
	relayURL  string
	relayCred string
	log       logging.LeveledLogger
}

// NewCoordinator creates a pairing coordinator.
func NewCoordinator(config Config) (*Coordinator, error) {
	if config.Directory == nil {
		return nil, ErrDirectoryRequired
	}
	if config.KeyStore == nil {
		return nil, ErrKeyStoreRequired
	}
	if config.Transport == nil {
		return nil, ErrTransportRequired
	}
	if config.Sender == nil {
		return nil, ErrSenderRequired
	}
	c := &Coordinator{
		role:      config.Role,
		directory: config.Directory,
		keys:      config.KeyStore,
		transport: config.Transport,
		sender:    config.Sender,
		relayURL:  config.RelayURL,
		relayCred: config.RelayCredentials,
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("pairing")
	}
	return c, nil
}

// Initiate starts a pairing on the main device: it generates the ephemeral
// key pair, salt and pairing topic, persists an Initiating record,
// subscribes to the pairing topic and returns the encoded one-time bundle
// for out-of-band transfer to the follower.
func (c *Coordinator) Initiate(followerID uint32, displayName string) (*peer.Device, string, error) {
	if c.role != crypto.RoleMain {
		return nil, "", ErrWrongRole
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, "", fmt.Errorf("generating key pair: %w", err)
	}
	salt, err := crypto.NewSalt()
	if err != nil {
		return nil, "", fmt.Errorf("generating salt: %w", err)
	}
	pairingTopic, err := crypto.NewTopicID()
	if err != nil {
		return nil, "", fmt.Errorf("generating pairing topic: %w", err)
	}

	d, err := c.directory.Create()
	if err != nil {
		return nil, "", err
	}
	d.FollowerID = &followerID
	d.DisplayName = displayName
	d.Salt = salt
	d.PairingTopic = pairingTopic
	d.PrivateKey = keyPair.PrivateKey()
	d.PublicKey = keyPair.PublicKey()
	if err := d.AdvanceStage(peer.StageInitiating); err != nil {
		return nil, "", err
	}
	if err := c.directory.Update(d); err != nil {
		return nil, "", err
	}

	if err := c.transport.Subscribe(pairingTopic); err != nil {
		return nil, "", fmt.Errorf("subscribing to pairing topic: %w", err)
	}

	bundle := &wire.PairingBundle{
		Version:          wire.BundleVersion,
		RelayURL:         c.relayURL,
		RelayCredentials: c.relayCred,
		FollowerID:       followerID,
		Salt:             salt,
		PairingTopic:     pairingTopic,
		PublicKey:        keyPair.PublicKey(),
	}
	encoded, err := bundle.EncodeString()
	if err != nil {
		return nil, "", fmt.Errorf("encoding bundle: %w", err)
	}
	return d, encoded, nil
}

// HandleBundle consumes a scanned bundle on the follower: it derives the
// channel, stores the keys, subscribes to the derived ingoing topic and
// answers with its own public key on the pairing topic. The peer record
// ends up in Verifying.
func (c *Coordinator) HandleBundle(encoded string, displayName string) (*peer.Device, error) {
	if c.role != crypto.RoleFollower {
		return nil, ErrWrongRole
	}

	bundle, err := wire.DecodeBundleString(encoded)
	if err != nil {
		return nil, err
	}
	if err := crypto.ValidatePublicKey(bundle.PublicKey); err != nil {
		return nil, fmt.Errorf("bundle public key: %w", err)
	}

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, fmt.Errorf("generating key pair: %w", err)
	}
	sharedSecret, err := keyPair.ECDH(bundle.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("deriving shared secret: %w", err)
	}
	channel, err := crypto.DeriveChannel(sharedSecret, bundle.Salt, crypto.RoleFollower)
	if err != nil {
		return nil, fmt.Errorf("deriving channel: %w", err)
	}

	d, err := c.directory.Create()
	if err != nil {
		return nil, err
	}
	d.DisplayName = displayName
	d.Salt = bundle.Salt
	d.PairingTopic = bundle.PairingTopic
	d.PublicKey = keyPair.PublicKey()
	d.PeerPublicKey = bundle.PublicKey
	d.VerificationData = channel.VerificationData
	if err := d.AdvanceStage(peer.StageHandshaking); err != nil {
		return nil, err
	}
	if err := c.directory.Update(d); err != nil {
		return nil, err
	}

	if err := c.storeChannelKeys(d.ID, channel); err != nil {
		return nil, err
	}
	if err := c.transport.Subscribe(channel.IngoingTopic); err != nil {
		return nil, fmt.Errorf("subscribing to ingoing topic: %w", err)
	}

	payload, err := wire.Marshal(&wire.PublicKeyExchange{PublicKey: keyPair.PublicKey()})
	if err != nil {
		return nil, fmt.Errorf("encoding public key exchange: %w", err)
	}
	if err := c.transport.Publish(bundle.PairingTopic, payload); err != nil {
		return nil, fmt.Errorf("publishing public key: %w", err)
	}

	// The public key is out; the pairing topic has served its purpose.
	if err := c.transport.Unsubscribe(bundle.PairingTopic); err != nil {
		c.warnf("unsubscribing pairing topic: %v", err)
	}
	d.PairingTopic = ""
	d.IngoingTopic = channel.IngoingTopic
	d.OutgoingTopic = channel.OutgoingTopic
	if err := d.AdvanceStage(peer.StageVerifying); err != nil {
		return nil, err
	}
	if err := c.directory.Update(d); err != nil {
		return nil, err
	}
	return d, nil
}

// HandlePublicKeyExchange completes the handshake on the main device when
// the follower's public key arrives on the pairing topic. The main side
// derives with swapped labels relative to the follower, releases the
// pairing topic and moves to Verifying.
func (c *Coordinator) HandlePublicKeyExchange(pairingTopic string, msg *wire.PublicKeyExchange) (*peer.Device, error) {
	if c.role != crypto.RoleMain {
		return nil, ErrWrongRole
	}

	d, err := c.directory.ByPairingTopic(pairingTopic)
	if err != nil {
		return nil, err
	}
	if d.Stage != peer.StageInitiating {
		return nil, ErrWrongStage
	}
	if err := crypto.ValidatePublicKey(msg.PublicKey); err != nil {
		return nil, fmt.Errorf("peer public key: %w", err)
	}

	keyPair, err := crypto.KeyPairFromPrivateKey(d.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("restoring key pair: %w", err)
	}
	sharedSecret, err := keyPair.ECDH(msg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("deriving shared secret: %w", err)
	}
	channel, err := crypto.DeriveChannel(sharedSecret, d.Salt, crypto.RoleMain)
	if err != nil {
		return nil, fmt.Errorf("deriving channel: %w", err)
	}

	if err := c.storeChannelKeys(d.ID, channel); err != nil {
		return nil, err
	}
	if err := c.transport.Subscribe(channel.IngoingTopic); err != nil {
		return nil, fmt.Errorf("subscribing to ingoing topic: %w", err)
	}
	if err := c.transport.Unsubscribe(d.PairingTopic); err != nil {
		c.warnf("unsubscribing pairing topic: %v", err)
	}

	// The private scalar is no longer needed once the channel exists.
	d.PrivateKey = nil
	d.PairingTopic = ""
	d.PeerPublicKey = msg.PublicKey
	d.VerificationData = channel.VerificationData
	d.IngoingTopic = channel.IngoingTopic
	d.OutgoingTopic = channel.OutgoingTopic
	if err := d.AdvanceStage(peer.StageVerifying); err != nil {
		return nil, err
	}
	if err := c.directory.Update(d); err != nil {
		return nil, err
	}
	return d, nil
}

// ConfirmVerification records that the local user compared the displayed
// verification data and sends the verify message to the peer. Confirming
// twice is a no-op.
func (c *Coordinator) ConfirmVerification(peerID uuid.UUID) error {
	d, err := c.directory.Get(peerID)
	if err != nil {
		return err
	}
	if d.Stage != peer.StageVerifying && d.Stage != peer.StagePaired {
		return ErrWrongStage
	}
	if d.HasLocalVerified {
		return nil
	}

	if err := c.sender.Send(peerID, &wire.Verify{}, collapseVerify, 0); err != nil {
		return fmt.Errorf("sending verify: %w", err)
	}

	d.HasLocalVerified = true
	c.maybePaired(d)
	return c.directory.Update(d)
}

// HandleVerify records the peer user's confirmation. Either flag may be
// set first; the peer becomes Paired exactly when both are.
func (c *Coordinator) HandleVerify(peerID uuid.UUID) error {
	d, err := c.directory.Get(peerID)
	if err != nil {
		return err
	}
	if d.Stage != peer.StageVerifying && d.Stage != peer.StagePaired {
		return ErrWrongStage
	}
	if d.HasPeerVerified {
		return nil
	}

	d.HasPeerVerified = true
	c.maybePaired(d)
	return c.directory.Update(d)
}

// Unpair removes a peer at any stage: it unsubscribes from whichever
// topic is active, erases the stored key material and deletes the record.
func (c *Coordinator) Unpair(peerID uuid.UUID) error {
	d, err := c.directory.Delete(peerID)
	if err != nil {
		return err
	}

	if d.PairingTopic != "" {
		if err := c.transport.Unsubscribe(d.PairingTopic); err != nil {
			c.warnf("unsubscribing pairing topic: %v", err)
		}
	}
	if d.IngoingTopic != "" {
		if err := c.transport.Unsubscribe(d.IngoingTopic); err != nil {
			c.warnf("unsubscribing ingoing topic: %v", err)
		}
	}
	if err := c.keys.Delete(keystore.PeerAliases(peerID)...); err != nil {
		return fmt.Errorf("deleting channel keys: %w", err)
	}
	return nil
}

func (c *Coordinator) maybePaired(d *peer.Device) {
	if d.Stage == peer.StageVerifying && d.HasLocalVerified && d.HasPeerVerified {
		if err := d.AdvanceStage(peer.StagePaired); err == nil {
			d.PairedAt = time.Now()
		}
	}
}

// storeChannelKeys persists the three derived keys under usage-scoped
// aliases. The ingoing key may only ever decrypt and the outgoing key may
// only ever encrypt; status flows follower-to-main, so its usage depends
// on the local role.
func (c *Coordinator) storeChannelKeys(peerID uuid.UUID, channel *crypto.Channel) error {
	statusUsage := keystore.UsageSeal
	if c.role == crypto.RoleMain {
		statusUsage = keystore.UsageOpen
	}
	if err := c.keys.Store(keystore.Alias(peerID, keystore.PurposeIngoing), channel.IngoingKey, keystore.UsageOpen); err != nil {
		return fmt.Errorf("storing ingoing key: %w", err)
	}
	if err := c.keys.Store(keystore.Alias(peerID, keystore.PurposeOutgoing), channel.OutgoingKey, keystore.UsageSeal); err != nil {
		return fmt.Errorf("storing outgoing key: %w", err)
	}
	if err := c.keys.Store(keystore.Alias(peerID, keystore.PurposeStatus), channel.StatusKey, statusUsage); err != nil {
		return fmt.Errorf("storing status key: %w", err)
	}
	return nil
}

func (c *Coordinator) warnf(format string, args ...interface{}) {
	if c.log != nil {
		c.log.Warnf(format, args...)
	}
}
