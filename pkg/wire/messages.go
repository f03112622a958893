// Package wire defines the protocol messages exchanged between a follower
// and its main device, their binary encoding, and the authenticated
// envelope that carries them over the push transport.
package wire

import (
	"time"
)

// Type tags a protocol message.
type Type uint8

const (
	// TypePublicKeyExchange carries the responder's public key over the
	// ephemeral pairing topic. The only message sent in the clear.
	TypePublicKeyExchange Type = iota + 1

	// TypeVerify confirms the sender's user compared the verification data.
	TypeVerify

	// TypePrepareCommand asks the main device to validate and prepare a
	// command.
	TypePrepareCommand

	// TypePrepareCommandResponse answers a prepare with either constrained
	// data and a main sequence id, or an enumerated error.
	TypePrepareCommandResponse

	// TypeConfirmCommand triggers execution of a prepared command.
	TypeConfirmCommand

	// TypeCommandProgress streams execution progress to the follower.
	TypeCommandProgress

	// TypeCommandResult carries the terminal success or error.
	TypeCommandResult
)

// String returns a human-readable representation of the message type.
func (t Type) String() string {
	switch t {
	case TypePublicKeyExchange:
		return "PublicKeyExchange"
	case TypeVerify:
		return "Verify"
	case TypePrepareCommand:
		return "PrepareCommand"
	case TypePrepareCommandResponse:
		return "PrepareCommandResponse"
	case TypeConfirmCommand:
		return "ConfirmCommand"
	case TypeCommandProgress:
		return "CommandProgress"
	case TypeCommandResult:
		return "CommandResult"
	default:
		return "Unknown"
	}
}

// Message is a decodable protocol message.
type Message interface {
	MessageType() Type
	encode(w *writer)
}

// PublicKeyExchange is the responder's half of the key agreement.
type PublicKeyExchange struct {
	PublicKey []byte
}

// MessageType implements Message.
func (m *PublicKeyExchange) MessageType() Type { return TypePublicKeyExchange }

func (m *PublicKeyExchange) encode(w *writer) {
	w.bytes(m.PublicKey)
}

// Verify signals that the sender's user confirmed the verification data.
// It carries no fields; its authenticity comes from the sealed envelope.
type Verify struct{}

// MessageType implements Message.
func (m *Verify) MessageType() Type { return TypeVerify }

func (m *Verify) encode(*writer) {}

// PrepareCommand is the first phase of the two-phase command exchange.
type PrepareCommand struct {
	FollowerSequenceID uint64
	Timestamp          time.Time
	Snapshot           StatusSnapshot
	Data               *CommandData
}

// MessageType implements Message.
func (m *PrepareCommand) MessageType() Type { return TypePrepareCommand }

func (m *PrepareCommand) encode(w *writer) {
	w.u64(m.FollowerSequenceID)
	w.timestamp(m.Timestamp)
	m.Snapshot.encode(w)
	m.Data.encode(w)
}

// PrepareCommandResponse answers a PrepareCommand. Error is ErrorNone on
// success, in which case Data holds the possibly constrained command and
// MainSequenceID/ValidUntil are set.
type PrepareCommandResponse struct {
	FollowerSequenceID uint64
	MainSequenceID     uint64
	Timestamp          time.Time
	ValidUntil         time.Time
	Error              CommandError
	Data               *CommandData
}

// MessageType implements Message.
func (m *PrepareCommandResponse) MessageType() Type { return TypePrepareCommandResponse }

func (m *PrepareCommandResponse) encode(w *writer) {
	w.u64(m.FollowerSequenceID)
	w.u64(m.MainSequenceID)
	w.timestamp(m.Timestamp)
	w.timestamp(m.ValidUntil)
	w.u8(uint8(m.Error))
	if m.Error == ErrorNone {
		m.Data.encode(w)
	}
}

// ConfirmCommand is the second phase: execute the prepared command.
type ConfirmCommand struct {
	MainSequenceID uint64
	Timestamp      time.Time
}

// MessageType implements Message.
func (m *ConfirmCommand) MessageType() Type { return TypeConfirmCommand }

func (m *ConfirmCommand) encode(w *writer) {
	w.u64(m.MainSequenceID)
	w.timestamp(m.Timestamp)
}

// ProgressKind tags the payload of a CommandProgress message.
type ProgressKind uint8

const (
	// ProgressConnecting reports when the pump connection attempt started.
	ProgressConnecting ProgressKind = iota + 1

	// ProgressPercentage reports delivery progress in percent.
	ProgressPercentage

	// ProgressEnqueued reports that the command was queued on the pump.
	ProgressEnqueued
)

// CommandProgress streams intermediate execution state.
type CommandProgress struct {
	MainSequenceID uint64
	Timestamp      time.Time
	Kind           ProgressKind

	// ConnectingStartedAt is set when Kind == ProgressConnecting.
	ConnectingStartedAt time.Time

	// Percentage is set when Kind == ProgressPercentage.
	Percentage uint8
}

// MessageType implements Message.
func (m *CommandProgress) MessageType() Type { return TypeCommandProgress }

func (m *CommandProgress) encode(w *writer) {
	w.u64(m.MainSequenceID)
	w.timestamp(m.Timestamp)
	w.u8(uint8(m.Kind))
	switch m.Kind {
	case ProgressConnecting:
		w.timestamp(m.ConnectingStartedAt)
	case ProgressPercentage:
		w.u8(m.Percentage)
	}
}

// CommandResult is the terminal message of one command exchange.
type CommandResult struct {
	MainSequenceID uint64
	Timestamp      time.Time
	Error          CommandError
	Data           *CommandData
}

// MessageType implements Message.
func (m *CommandResult) MessageType() Type { return TypeCommandResult }

func (m *CommandResult) encode(w *writer) {
	w.u64(m.MainSequenceID)
	w.timestamp(m.Timestamp)
	w.u8(uint8(m.Error))
	if m.Error == ErrorNone {
		m.Data.encode(w)
	}
}

// Marshal encodes a message as type tag + body.
func Marshal(m Message) ([]byte, error) {
	w := &writer{}
	w.u8(uint8(m.MessageType()))
	m.encode(w)
	if w.err != nil {
		return nil, w.err
	}
	return w.buf, nil
}

// Unmarshal decodes a message from its binary form.
func Unmarshal(data []byte) (Message, error) {
	r := &reader{buf: data}
	t := Type(r.u8())
	if r.err != nil {
		return nil, r.err
	}

	var (
		m   Message
		err error
	)
	switch t {
	case TypePublicKeyExchange:
		m = &PublicKeyExchange{PublicKey: r.bytes()}
	case TypeVerify:
		m = &Verify{}
	case TypePrepareCommand:
		msg := &PrepareCommand{
			FollowerSequenceID: r.u64(),
			Timestamp:          r.timestamp(),
			Snapshot:           decodeStatusSnapshot(r),
		}
		msg.Data, err = decodeCommandData(r)
		m = msg
	case TypePrepareCommandResponse:
		msg := &PrepareCommandResponse{
			FollowerSequenceID: r.u64(),
			MainSequenceID:     r.u64(),
			Timestamp:          r.timestamp(),
			ValidUntil:         r.timestamp(),
			Error:              CommandError(r.u8()),
		}
		if msg.Error == ErrorNone && r.err == nil {
			msg.Data, err = decodeCommandData(r)
		}
		m = msg
	case TypeConfirmCommand:
		m = &ConfirmCommand{
			MainSequenceID: r.u64(),
			Timestamp:      r.timestamp(),
		}
	case TypeCommandProgress:
		msg := &CommandProgress{
			MainSequenceID: r.u64(),
			Timestamp:      r.timestamp(),
			Kind:           ProgressKind(r.u8()),
		}
		switch msg.Kind {
		case ProgressConnecting:
			msg.ConnectingStartedAt = r.timestamp()
		case ProgressPercentage:
			msg.Percentage = r.u8()
		}
		m = msg
	case TypeCommandResult:
		msg := &CommandResult{
			MainSequenceID: r.u64(),
			Timestamp:      r.timestamp(),
			Error:          CommandError(r.u8()),
		}
		if msg.Error == ErrorNone && r.err == nil {
			msg.Data, err = decodeCommandData(r)
		}
		m = msg
	default:
		return nil, ErrUnknownType
	}

	if err != nil {
		return nil, err
	}
	if err := r.finish(); err != nil {
		return nil, err
	}
	return m, nil
}
