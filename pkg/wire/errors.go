package wire

import (
	"errors"
	"fmt"
)

// Errors returned by the wire package.
var (
	// ErrMessageTooShort is returned when a buffer ends before a field.
	ErrMessageTooShort = errors.New("wire: data too short")

	// ErrUnknownType is returned for an unrecognized message type tag.
	ErrUnknownType = errors.New("wire: unknown message type")

	// ErrUnknownVariant is returned for an unrecognized command variant.
	ErrUnknownVariant = errors.New("wire: unknown command variant")

	// ErrTrailingData is returned when a message decodes with bytes left over.
	ErrTrailingData = errors.New("wire: trailing data after message")

	// ErrInvalidBundle is returned for a malformed pairing bundle string.
	ErrInvalidBundle = errors.New("wire: invalid pairing bundle")

	// ErrDecryptionFailed is returned when envelope authentication fails.
	ErrDecryptionFailed = errors.New("wire: envelope decryption failed")

	// ErrFieldTooLong is returned when a variable-length field exceeds the
	// 16-bit length prefix.
	ErrFieldTooLong = errors.New("wire: field exceeds maximum length")
)

// CommandError is the protocol-level error taxonomy carried in prepare
// responses and command results. Once past the transport boundary, failures
// are signaled as these enumerated values, not as Go errors.
type CommandError uint8

const (
	// ErrorNone means no error; the message carries data instead.
	ErrorNone CommandError = iota

	// ErrorUnknown is an unclassified failure on the main device.
	ErrorUnknown

	// ErrorBolusInProgress means the pump is already delivering a bolus.
	ErrorBolusInProgress

	// ErrorPumpSuspended means delivery is suspended on the pump.
	ErrorPumpSuspended

	// ErrorBgMismatch means the follower's glucose snapshot disagrees with
	// the main device's view.
	ErrorBgMismatch

	// ErrorIobMismatch means the insulin-on-board snapshot disagrees.
	ErrorIobMismatch

	// ErrorCobMismatch means the carbs-on-board snapshot disagrees.
	ErrorCobMismatch

	// ErrorLastBolusMismatch means the last-bolus snapshot disagrees.
	ErrorLastBolusMismatch

	// ErrorPumpTimeout means the pump did not respond in time.
	ErrorPumpTimeout

	// ErrorWrongSequenceId means a confirm referenced a sequence id that
	// does not match the current prepared command.
	ErrorWrongSequenceId

	// ErrorExpired means the prepared command's validity window passed.
	ErrorExpired

	// ErrorActiveCommand means another command is currently executing.
	ErrorActiveCommand

	// ErrorInvalidValue means the requested command failed validation.
	ErrorInvalidValue
)

// String returns a human-readable representation of the command error.
func (e CommandError) String() string {
	switch e {
	case ErrorNone:
		return "None"
	case ErrorUnknown:
		return "Unknown"
	case ErrorBolusInProgress:
		return "BolusInProgress"
	case ErrorPumpSuspended:
		return "PumpSuspended"
	case ErrorBgMismatch:
		return "BgMismatch"
	case ErrorIobMismatch:
		return "IobMismatch"
	case ErrorCobMismatch:
		return "CobMismatch"
	case ErrorLastBolusMismatch:
		return "LastBolusMismatch"
	case ErrorPumpTimeout:
		return "PumpTimeout"
	case ErrorWrongSequenceId:
		return "WrongSequenceId"
	case ErrorExpired:
		return "Expired"
	case ErrorActiveCommand:
		return "ActiveCommand"
	case ErrorInvalidValue:
		return "InvalidValue"
	default:
		return fmt.Sprintf("CommandError(%d)", uint8(e))
	}
}
