package peer

import "errors"

// Errors returned by the peer package.
var (
	// ErrNotFound is returned when no peer exists for an id or topic.
	ErrNotFound = errors.New("peer: device not found")

	// ErrStageRegression is returned for a stage transition that would
	// move a peer backwards or skip a stage.
	ErrStageRegression = errors.New("peer: invalid stage transition")

	// ErrAlreadyPaired is returned when pairing would create a second
	// Paired main-device peer for a follower process.
	ErrAlreadyPaired = errors.New("peer: a paired main device already exists")

	// ErrInvariantViolated is returned when a device record breaks a
	// stage invariant (topic fields present in the wrong stages, or
	// Paired without both verification flags).
	ErrInvariantViolated = errors.New("peer: device invariant violated")
)
