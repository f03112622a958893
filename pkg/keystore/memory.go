package keystore

import (
	"sync"

	"github.com/TebbeUbben/remora/pkg/crypto"
)

// Memory is an in-memory KeyStore implementation.
// Useful for testing and development. Keys are lost when the process exits.
//
// All methods are safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]storedKey
}

type storedKey struct {
	key   []byte
	usage Usage
}

// NewMemory creates a new in-memory key store.
func NewMemory() *Memory {
	return &Memory{
		keys: make(map[string]storedKey),
	}
}

// Store persists a key under an alias.
func (m *Memory) Store(alias string, key []byte, usage Usage) error {
	if len(key) != crypto.SymmetricKeySize {
		return ErrInvalidKeySize
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := make([]byte, len(key))
	copy(cp, key)
	m.keys[alias] = storedKey{key: cp, usage: usage}
	return nil
}

// KeyForSeal retrieves a key for encryption.
func (m *Memory) KeyForSeal(alias string) ([]byte, error) {
	return m.key(alias, UsageSeal)
}

// KeyForOpen retrieves a key for decryption.
func (m *Memory) KeyForOpen(alias string) ([]byte, error) {
	return m.key(alias, UsageOpen)
}

func (m *Memory) key(alias string, want Usage) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sk, ok := m.keys[alias]
	if !ok {
		return nil, ErrKeyNotFound
	}
	if sk.usage != want && sk.usage != UsageSealOpen {
		return nil, ErrUsageViolation
	}

	cp := make([]byte, len(sk.key))
	copy(cp, sk.key)
	return cp, nil
}

// Delete removes keys by alias.
func (m *Memory) Delete(aliases ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, alias := range aliases {
		delete(m.keys, alias)
	}
	return nil
}
