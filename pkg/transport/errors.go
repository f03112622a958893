package transport

import "errors"

var (
	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport: closed")

	// ErrNotConnected is returned by Publish while the relay connection
	// is down. The send queue retries later.
	ErrNotConnected = errors.New("transport: not connected to relay")

	// ErrFrameTooShort is returned when a relay frame cannot be parsed.
	ErrFrameTooShort = errors.New("transport: frame too short")

	// ErrUnknownOpcode is returned for relay frames with an unknown
	// opcode byte.
	ErrUnknownOpcode = errors.New("transport: unknown frame opcode")
)
