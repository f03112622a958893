package command

import (
	"context"

	"github.com/TebbeUbben/remora/pkg/wire"
)

// Handler supplies the domain side of command processing on the main
// device. The protocol layer decides when to call it; the handler decides
// what the treatment means.
type Handler interface {
	// ValidateStatusSnapshot compares the follower's snapshot against the
	// main device's own state. A mismatch yields the matching enumerated
	// error (ErrorBgMismatch etc.); ErrorNone accepts.
	ValidateStatusSnapshot(snapshot wire.StatusSnapshot) wire.CommandError

	// PrepareTreatment validates the requested command and may constrain
	// it (for example capping a bolus amount). The returned data must
	// keep the request's variant. ErrorNone accepts.
	PrepareTreatment(data *wire.CommandData) (*wire.CommandData, wire.CommandError)

	// ExecuteTreatment performs the prepared command, reporting
	// intermediate state through progress. It returns the final data on
	// success or an enumerated error.
	ExecuteTreatment(ctx context.Context, data *wire.CommandData, progress func(wire.CommandProgress)) (*wire.CommandData, wire.CommandError)
}
