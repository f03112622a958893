package wire

import "time"

// Variant tags the kind of treatment a command carries. The encoding is
// extensible: new variants get new tags, old decoders reject unknown ones.
type Variant uint8

const (
	// VariantBolus is an insulin bolus delivery.
	VariantBolus Variant = 1
)

// String returns a human-readable representation of the variant.
func (v Variant) String() string {
	switch v {
	case VariantBolus:
		return "Bolus"
	default:
		return "Unknown"
	}
}

// BolusData is the payload of a bolus command.
type BolusData struct {
	// Amount is the requested insulin amount in units.
	Amount float64
}

// CommandData is a tagged command payload. Exactly the field matching
// Variant is populated.
type CommandData struct {
	Variant Variant
	Bolus   *BolusData
}

// encode appends the command data to the writer.
func (c *CommandData) encode(w *writer) {
	w.u8(uint8(c.Variant))
	switch c.Variant {
	case VariantBolus:
		w.f64(c.Bolus.Amount)
	}
}

// decodeCommandData reads a tagged command payload.
func decodeCommandData(r *reader) (*CommandData, error) {
	variant := Variant(r.u8())
	switch variant {
	case VariantBolus:
		return &CommandData{
			Variant: variant,
			Bolus:   &BolusData{Amount: r.f64()},
		}, nil
	default:
		if r.err != nil {
			return nil, r.err
		}
		return nil, ErrUnknownVariant
	}
}

// StatusSnapshot is the follower's view of the main device's state at the
// moment a command was issued. The main device validates it against its
// own state before preparing, so both users look at the same numbers.
type StatusSnapshot struct {
	Timestamp       time.Time
	BloodGlucose    float64 // mg/dl
	InsulinOnBoard  float64 // units
	CarbsOnBoard    float64 // grams
	LastBolusAmount float64 // units, 0 when no prior bolus
	LastBolusAt     time.Time
}

func (s *StatusSnapshot) encode(w *writer) {
	w.timestamp(s.Timestamp)
	w.f64(s.BloodGlucose)
	w.f64(s.InsulinOnBoard)
	w.f64(s.CarbsOnBoard)
	w.f64(s.LastBolusAmount)
	w.timestamp(s.LastBolusAt)
}

func decodeStatusSnapshot(r *reader) StatusSnapshot {
	return StatusSnapshot{
		Timestamp:       r.timestamp(),
		BloodGlucose:    r.f64(),
		InsulinOnBoard:  r.f64(),
		CarbsOnBoard:    r.f64(),
		LastBolusAmount: r.f64(),
		LastBolusAt:     r.timestamp(),
	}
}
