package pairing

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/TebbeUbben/remora/pkg/crypto"
	"github.com/TebbeUbben/remora/pkg/keystore"
	"github.com/TebbeUbben/remora/pkg/peer"
	"github.com/TebbeUbben/remora/pkg/store"
	"github.com/TebbeUbben/remora/pkg/wire"
)

type fakeTransport struct {
	mu        sync.Mutex
	subs      map[string]bool
	published map[string][][]byte
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		subs:      make(map[string]bool),
		published: make(map[string][][]byte),
	}
}

func (tr *fakeTransport) Subscribe(topic string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.subs[topic] = true
	return nil
}

func (tr *fakeTransport) Unsubscribe(topic string) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	delete(tr.subs, topic)
	return nil
}

func (tr *fakeTransport) Publish(topic string, payload []byte) error {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.published[topic] = append(tr.published[topic], payload)
	return nil
}

func (tr *fakeTransport) subscribed(topic string) bool {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.subs[topic]
}

func (tr *fakeTransport) lastPublished(t *testing.T, topic string) []byte {
	t.Helper()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	msgs := tr.published[topic]
	if len(msgs) == 0 {
		t.Fatalf("nothing published on %q", topic)
	}
	return msgs[len(msgs)-1]
}

type verifySender struct {
	mu       sync.Mutex
	sent     []uuid.UUID
	collapse string
}

func (s *verifySender) Send(peerID uuid.UUID, m wire.Message, collapseKey string, ttl time.Duration) error {
	if _, ok := m.(*wire.Verify); !ok {
		return nil
	}
	s.mu.Lock()
	s.sent = append(s.sent, peerID)
	s.collapse = collapseKey
	s.mu.Unlock()
	return nil
}

type side struct {
	coordinator *Coordinator
	directory   *peer.Directory
	keys        *keystore.Memory
	transport   *fakeTransport
	sender      *verifySender
}

func newSide(t *testing.T, role crypto.Role) *side {
	t.Helper()
	s := &side{
		keys:      keystore.NewMemory(),
		transport: newFakeTransport(),
		sender:    &verifySender{},
	}
	s.directory = peer.NewDirectory(store.NewMemory(), role == crypto.RoleFollower)
	c, err := NewCoordinator(Config{
		Role:             role,
		Directory:        s.directory,
		KeyStore:         s.keys,
		Transport:        s.transport,
		Sender:           s.sender,
		RelayURL:         "wss://relay.example.org",
		RelayCredentials: "token",
	})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	s.coordinator = c
	return s
}

// handshake runs the full exchange up to Verifying on both sides and
// returns the two peer records.
func handshake(t *testing.T, main, follower *side) (*peer.Device, *peer.Device) {
	t.Helper()

	mainDev, bundle, err := main.coordinator.Initiate(1, "phone")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if mainDev.Stage != peer.StageInitiating {
		t.Fatalf("stage = %v, want Initiating", mainDev.Stage)
	}
	if !main.transport.subscribed(mainDev.PairingTopic) {
		t.Fatal("initiator not subscribed to pairing topic")
	}

	followerDev, err := follower.coordinator.HandleBundle(bundle, "pump")
	if err != nil {
		t.Fatalf("HandleBundle: %v", err)
	}
	if followerDev.Stage != peer.StageVerifying {
		t.Fatalf("stage = %v, want Verifying", followerDev.Stage)
	}

	// The follower's public key travels over the pairing topic in the
	// clear; feed it to the initiator as the transport would.
	payload := follower.transport.lastPublished(t, mainDev.PairingTopic)
	msg, err := wire.Unmarshal(payload)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	exchange, ok := msg.(*wire.PublicKeyExchange)
	if !ok {
		t.Fatalf("published %T, want *wire.PublicKeyExchange", msg)
	}
	mainDev, err = main.coordinator.HandlePublicKeyExchange(mainDev.PairingTopic, exchange)
	if err != nil {
		t.Fatalf("HandlePublicKeyExchange: %v", err)
	}
	if mainDev.Stage != peer.StageVerifying {
		t.Fatalf("stage = %v, want Verifying", mainDev.Stage)
	}
	return mainDev, followerDev
}

func TestHandshakeDerivesSymmetricChannel(t *testing.T) {
	main := newSide(t, crypto.RoleMain)
	follower := newSide(t, crypto.RoleFollower)

	mainDev, followerDev := handshake(t, main, follower)

	if !bytes.Equal(mainDev.VerificationData, followerDev.VerificationData) {
		t.Fatal("verification data differs between sides")
	}
	if mainDev.IngoingTopic != followerDev.OutgoingTopic || mainDev.OutgoingTopic != followerDev.IngoingTopic {
		t.Fatal("topics not swapped between roles")
	}

	// Each side listens on its derived ingoing topic and has released
	// the pairing topic.
	if !main.transport.subscribed(mainDev.IngoingTopic) {
		t.Fatal("initiator not subscribed to ingoing topic")
	}
	if !follower.transport.subscribed(followerDev.IngoingTopic) {
		t.Fatal("responder not subscribed to ingoing topic")
	}
	if mainDev.PairingTopic != "" || followerDev.PairingTopic != "" {
		t.Fatal("pairing topic retained after handshake")
	}

	// What the follower seals with, the main device opens with.
	followerSeal, err := follower.keys.KeyForSeal(keystore.Alias(followerDev.ID, keystore.PurposeOutgoing))
	if err != nil {
		t.Fatalf("KeyForSeal: %v", err)
	}
	mainOpen, err := main.keys.KeyForOpen(keystore.Alias(mainDev.ID, keystore.PurposeIngoing))
	if err != nil {
		t.Fatalf("KeyForOpen: %v", err)
	}
	if !bytes.Equal(followerSeal, mainOpen) {
		t.Fatal("crossed message keys do not match")
	}

	// The initiator's private scalar is erased after derivation.
	if mainDev.PrivateKey != nil {
		t.Fatal("private key retained after derivation")
	}
}

func TestVerificationOrderIndependent(t *testing.T) {
	orders := []struct {
		name       string
		localFirst bool
	}{
		{"local first", true},
		{"peer first", false},
	}
	for _, tc := range orders {
		t.Run(tc.name, func(t *testing.T) {
			main := newSide(t, crypto.RoleMain)
			follower := newSide(t, crypto.RoleFollower)
			mainDev, _ := handshake(t, main, follower)

			steps := []func() error{
				func() error { return main.coordinator.ConfirmVerification(mainDev.ID) },
				func() error { return main.coordinator.HandleVerify(mainDev.ID) },
			}
			if !tc.localFirst {
				steps[0], steps[1] = steps[1], steps[0]
			}

			if err := steps[0](); err != nil {
				t.Fatalf("first verification step: %v", err)
			}
			d, _ := main.directory.Get(mainDev.ID)
			if d.Stage == peer.StagePaired {
				t.Fatal("paired with only one flag set")
			}
			if err := steps[1](); err != nil {
				t.Fatalf("second verification step: %v", err)
			}
			d, _ = main.directory.Get(mainDev.ID)
			if d.Stage != peer.StagePaired {
				t.Fatalf("stage = %v, want Paired", d.Stage)
			}
			if d.PairedAt.IsZero() {
				t.Fatal("paired-at not stamped")
			}
		})
	}
}

func TestConfirmVerificationTwiceSendsOnce(t *testing.T) {
	main := newSide(t, crypto.RoleMain)
	follower := newSide(t, crypto.RoleFollower)
	mainDev, _ := handshake(t, main, follower)

	if err := main.coordinator.ConfirmVerification(mainDev.ID); err != nil {
		t.Fatalf("ConfirmVerification: %v", err)
	}
	if err := main.coordinator.ConfirmVerification(mainDev.ID); err != nil {
		t.Fatalf("ConfirmVerification repeat: %v", err)
	}
	if len(main.sender.sent) != 1 {
		t.Fatalf("sent %d verify messages, want 1", len(main.sender.sent))
	}
	if main.sender.collapse != collapseVerify {
		t.Fatalf("collapse key = %q, want %q", main.sender.collapse, collapseVerify)
	}
}

func TestInitiateRejectedOnFollower(t *testing.T) {
	follower := newSide(t, crypto.RoleFollower)
	if _, _, err := follower.coordinator.Initiate(1, "x"); err != ErrWrongRole {
		t.Fatalf("err = %v, want ErrWrongRole", err)
	}

	main := newSide(t, crypto.RoleMain)
	if _, err := main.coordinator.HandleBundle("anything", "x"); err != ErrWrongRole {
		t.Fatalf("err = %v, want ErrWrongRole", err)
	}
}

func TestHandleBundleRejectsGarbage(t *testing.T) {
	follower := newSide(t, crypto.RoleFollower)

	if _, err := follower.coordinator.HandleBundle("not a bundle", "x"); err == nil {
		t.Fatal("malformed bundle accepted")
	}
	devices, _ := follower.directory.Devices()
	for _, d := range devices {
		if d.Stage != peer.StageStub {
			t.Fatal("failed bundle advanced a peer record")
		}
	}
}

func TestUnpairReleasesEverything(t *testing.T) {
	main := newSide(t, crypto.RoleMain)
	follower := newSide(t, crypto.RoleFollower)
	mainDev, _ := handshake(t, main, follower)

	if err := main.coordinator.Unpair(mainDev.ID); err != nil {
		t.Fatalf("Unpair: %v", err)
	}

	if _, err := main.directory.Get(mainDev.ID); err != peer.ErrNotFound {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if main.transport.subscribed(mainDev.IngoingTopic) {
		t.Fatal("still subscribed to ingoing topic after unpair")
	}
	for _, alias := range keystore.PeerAliases(mainDev.ID) {
		if _, err := main.keys.KeyForOpen(alias); err != keystore.ErrKeyNotFound {
			if _, err := main.keys.KeyForSeal(alias); err != keystore.ErrKeyNotFound {
				t.Fatalf("alias %q survived unpair", alias)
			}
		}
	}
}

func TestUnpairMidHandshake(t *testing.T) {
	main := newSide(t, crypto.RoleMain)

	mainDev, _, err := main.coordinator.Initiate(1, "phone")
	if err != nil {
		t.Fatalf("Initiate: %v", err)
	}
	if err := main.coordinator.Unpair(mainDev.ID); err != nil {
		t.Fatalf("Unpair: %v", err)
	}
	if main.transport.subscribed(mainDev.PairingTopic) {
		t.Fatal("still subscribed to pairing topic after unpair")
	}
}
