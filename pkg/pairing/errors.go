package pairing

import "errors"

var (
	// ErrWrongRole is returned when an operation is invoked on the wrong
	// side of the pairing (for example Initiate on a follower).
	ErrWrongRole = errors.New("pairing: operation not valid for this role")

	// ErrWrongStage is returned when a handshake message arrives for a
	// peer that is not in the stage expecting it.
	ErrWrongStage = errors.New("pairing: peer is not in the expected stage")

	// ErrDirectoryRequired is returned by NewCoordinator when no
	// directory is configured.
	ErrDirectoryRequired = errors.New("pairing: directory is required")

	// ErrKeyStoreRequired is returned by NewCoordinator when no key
	// store is configured.
	ErrKeyStoreRequired = errors.New("pairing: key store is required")

	// ErrTransportRequired is returned by NewCoordinator when no
	// transport is configured.
	ErrTransportRequired = errors.New("pairing: transport is required")

	// ErrSenderRequired is returned by NewCoordinator when no sender is
	// configured.
	ErrSenderRequired = errors.New("pairing: sender is required")
)
