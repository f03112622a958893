package command

import "errors"

// Errors returned by the command package.
var (
	// ErrNoCommand is returned when an operation needs a current command
	// and none is persisted.
	ErrNoCommand = errors.New("command: no current command")

	// ErrWrongPhase is returned when an operation does not apply to the
	// current command's phase.
	ErrWrongPhase = errors.New("command: operation not valid in current phase")

	// ErrHandlerRequired is returned when a processor is built without a
	// treatment handler.
	ErrHandlerRequired = errors.New("command: handler is required")

	// ErrSenderRequired is returned when a component is built without an
	// outbound sender.
	ErrSenderRequired = errors.New("command: sender is required")

	// ErrStoreRequired is returned when a requester is built without a
	// command store.
	ErrStoreRequired = errors.New("command: store is required")
)
