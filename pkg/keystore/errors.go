package keystore

import "errors"

// Errors returned by the keystore package.
var (
	// ErrKeyNotFound is returned when no key exists for an alias.
	ErrKeyNotFound = errors.New("keystore: key not found")

	// ErrUsageViolation is returned when a key is retrieved for a
	// direction its usage scope does not permit.
	ErrUsageViolation = errors.New("keystore: key usage violation")

	// ErrInvalidKeySize is returned for keys that are not 16 bytes.
	ErrInvalidKeySize = errors.New("keystore: invalid key size, must be 16 bytes")

	// ErrInvalidMasterKey is returned when the wrapping master key has the
	// wrong size.
	ErrInvalidMasterKey = errors.New("keystore: master key must be 16 bytes")
)
