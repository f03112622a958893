package peer

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store abstracts the persisted peer table. Implemented by pkg/store.
//
// All methods must be safe for concurrent use.
type Store interface {
	SavePeer(d *Device) error
	LoadPeers() ([]*Device, error)
	DeletePeer(id uuid.UUID) error
}

// ChangeKind describes what happened to a device in a change notification.
type ChangeKind int

const (
	// ChangeUpdated means the device was created or modified.
	ChangeUpdated ChangeKind = iota

	// ChangeDeleted means the device was removed.
	ChangeDeleted
)

// Directory is the authoritative view over the persisted peer table. Every
// read goes through the store so decisions are always made against current
// persisted state; the directory itself caches nothing across operations.
type Directory struct {
	store Store

	// singlePaired enforces the follower-side invariant that at most one
	// Paired main-device peer exists.
	singlePaired bool

	mu       sync.Mutex
	watchers []func(*Device, ChangeKind)
}

// NewDirectory creates a directory over the given store. Set singlePaired
// on follower processes, where only one main device may be paired.
func NewDirectory(store Store, singlePaired bool) *Directory {
	return &Directory{store: store, singlePaired: singlePaired}
}

// OnChange registers a callback invoked after every persisted change.
func (dir *Directory) OnChange(fn func(*Device, ChangeKind)) {
	dir.mu.Lock()
	defer dir.mu.Unlock()
	dir.watchers = append(dir.watchers, fn)
}

// Create persists a new Stub device, reserving a durable identifier. The
// caller promotes it to Initiating or Handshaking depending on role.
func (dir *Directory) Create() (*Device, error) {
	d := &Device{ID: uuid.New(), Stage: StageStub}
	if err := dir.store.SavePeer(d); err != nil {
		return nil, fmt.Errorf("creating peer record: %w", err)
	}
	dir.notify(d, ChangeUpdated)
	return d.Clone(), nil
}

// Update validates and persists a device.
func (dir *Directory) Update(d *Device) error {
	if err := d.Validate(); err != nil {
		return err
	}

	if dir.singlePaired && d.Stage == StagePaired {
		existing, err := dir.store.LoadPeers()
		if err != nil {
			return fmt.Errorf("checking paired peers: %w", err)
		}
		for _, other := range existing {
			if other.ID != d.ID && other.Stage == StagePaired {
				return ErrAlreadyPaired
			}
		}
	}

	if err := dir.store.SavePeer(d); err != nil {
		return fmt.Errorf("saving peer record: %w", err)
	}
	dir.notify(d, ChangeUpdated)
	return nil
}

// Get returns the device with the given id.
func (dir *Directory) Get(id uuid.UUID) (*Device, error) {
	devices, err := dir.store.LoadPeers()
	if err != nil {
		return nil, fmt.Errorf("loading peers: %w", err)
	}
	for _, d := range devices {
		if d.ID == id {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

// Devices returns all persisted devices.
func (dir *Directory) Devices() ([]*Device, error) {
	return dir.store.LoadPeers()
}

// ByPairingTopic returns the device currently handshaking on the given
// ephemeral topic.
func (dir *Directory) ByPairingTopic(topic string) (*Device, error) {
	return dir.find(func(d *Device) bool { return d.PairingTopic == topic })
}

// ByIngoingTopic returns the device whose derived ingoing topic matches.
func (dir *Directory) ByIngoingTopic(topic string) (*Device, error) {
	return dir.find(func(d *Device) bool { return d.IngoingTopic == topic })
}

// PairedMain returns the single Paired peer of a follower process, or
// ErrNotFound when not yet paired.
func (dir *Directory) PairedMain() (*Device, error) {
	return dir.find(func(d *Device) bool { return d.Stage == StagePaired })
}

func (dir *Directory) find(match func(*Device) bool) (*Device, error) {
	devices, err := dir.store.LoadPeers()
	if err != nil {
		return nil, fmt.Errorf("loading peers: %w", err)
	}
	for _, d := range devices {
		if match(d) {
			return d, nil
		}
	}
	return nil, ErrNotFound
}

// Delete removes the device record. The caller is responsible for
// releasing the key-store aliases and unsubscribing from the device's
// active topic; Delete returns the removed record so it can do both.
func (dir *Directory) Delete(id uuid.UUID) (*Device, error) {
	d, err := dir.Get(id)
	if err != nil {
		return nil, err
	}
	if err := dir.store.DeletePeer(id); err != nil {
		return nil, fmt.Errorf("deleting peer record: %w", err)
	}
	dir.notify(d, ChangeDeleted)
	return d, nil
}

func (dir *Directory) notify(d *Device, kind ChangeKind) {
	dir.mu.Lock()
	watchers := make([]func(*Device, ChangeKind), len(dir.watchers))
	copy(watchers, dir.watchers)
	dir.mu.Unlock()

	for _, fn := range watchers {
		fn(d.Clone(), kind)
	}
}
