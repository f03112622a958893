// Package remora assembles the protocol stack into runnable nodes: a
// FollowerNode that initiates treatment commands toward its single paired
// main device, and a MainNode that validates, confirms and executes them.
package remora

import (
	"time"

	"github.com/pion/logging"

	"github.com/TebbeUbben/remora/pkg/command"
	"github.com/TebbeUbben/remora/pkg/keystore"
	"github.com/TebbeUbben/remora/pkg/store"
	"github.com/TebbeUbben/remora/pkg/transport"
)

// Config carries everything a node needs. Store, KeyStore and Transport
// are always required; Handler only on the main side.
type Config struct {
	// Store is the node database. Required.
	Store store.Store

	// KeyStore holds the per-peer channel keys. Required.
	KeyStore keystore.KeyStore

	// Transport is the push transport. The node registers its delivery
	// handler on it; the caller owns the transport's lifecycle. Required.
	Transport transport.Transport

	// Handler executes treatment commands. Required for MainNode,
	// ignored on the follower.
	Handler command.Handler

	// OnCommandChange observes the follower's current command slot.
	// Ignored on the main side.
	OnCommandChange func(*command.State)

	// RelayURL and RelayCredentials are embedded in exported pairing
	// bundles. Only meaningful on the main side.
	RelayURL         string
	RelayCredentials string

	// SweepInterval is the send queue's expiry sweep period
	// (default: 30s).
	SweepInterval time.Duration

	// LoggerFactory defaults to pion's standard factory.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) validate(needHandler bool) error {
	if c.Store == nil {
		return ErrStoreRequired
	}
	if c.KeyStore == nil {
		return ErrKeyStoreRequired
	}
	if c.Transport == nil {
		return ErrTransportRequired
	}
	if needHandler && c.Handler == nil {
		return ErrHandlerRequired
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LoggerFactory == nil {
		c.LoggerFactory = logging.NewDefaultLoggerFactory()
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
}
