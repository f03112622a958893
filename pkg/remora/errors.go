package remora

import "errors"

var (
	// ErrStoreRequired is returned when no store is configured.
	ErrStoreRequired = errors.New("remora: store is required")

	// ErrKeyStoreRequired is returned when no key store is configured.
	ErrKeyStoreRequired = errors.New("remora: key store is required")

	// ErrTransportRequired is returned when no transport is configured.
	ErrTransportRequired = errors.New("remora: transport is required")

	// ErrHandlerRequired is returned when a main node is built without a
	// command handler.
	ErrHandlerRequired = errors.New("remora: command handler is required")

	// ErrNotPaired is returned by follower operations that need a paired
	// main device.
	ErrNotPaired = errors.New("remora: no paired main device")

	// ErrNoChannel is returned when sending to a peer whose encrypted
	// channel is not established yet.
	ErrNoChannel = errors.New("remora: peer has no established channel")
)
