package command

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/TebbeUbben/remora/pkg/wire"
)

// Collapse keys for follower-side traffic: a re-sent request supersedes an
// older unsent copy of itself in the queue.
const (
	collapsePrepare = "prepare"
	collapseConfirm = "confirm"
)

// RequesterConfig configures a Requester.
type RequesterConfig struct {
	// Store persists the single current command. Required.
	Store Store

	// Sender carries outbound messages. Required.
	Sender Sender

	// OnChange is invoked with the updated command state after every
	// transition, including Clear (with nil).
	OnChange func(*State)

	// LoggerFactory is optional.
	LoggerFactory logging.LoggerFactory
}

// Requester drives the follower-side command lifecycle. Its state is the
// single persisted command slot; concurrent calls are expected to be
// serialized by the caller, and every decision re-reads the persisted
// state before mutating it.
type Requester struct {
	store    Store
	sender   Sender
	onChange func(*State)
	log      logging.LeveledLogger
}

// NewRequester creates a follower-side requester.
func NewRequester(config RequesterConfig) (*Requester, error) {
	if config.Store == nil {
		return nil, ErrStoreRequired
	}
	if config.Sender == nil {
		return nil, ErrSenderRequired
	}
	r := &Requester{
		store:    config.Store,
		sender:   config.Sender,
		onChange: config.OnChange,
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("requester")
	}
	return r, nil
}

// Current returns the persisted command slot, or nil when none exists.
func (r *Requester) Current() (*State, error) {
	return r.store.LoadCommand()
}

// InitiateCommand creates a fresh Initial command addressed to the given
// peer, persists it as the sole current command (overwriting any previous
// one) and sends the prepare request.
func (r *Requester) InitiateCommand(peerID uuid.UUID, data *wire.CommandData, snapshot wire.StatusSnapshot) error {
	state := &State{
		Phase:              PhaseInitial,
		PeerID:             peerID,
		FollowerSequenceID: newSequenceID(),
		OriginalData:       data,
		Snapshot:           snapshot,
	}
	if err := r.persist(state); err != nil {
		return err
	}
	return r.SendPrepareRequest()
}

// SendPrepareRequest (re-)sends the prepare request for the current
// Initial command and stamps the attempt time. Used for manual retry.
func (r *Requester) SendPrepareRequest() error {
	state, err := r.store.LoadCommand()
	if err != nil {
		return err
	}
	if state == nil {
		return ErrNoCommand
	}
	if state.Phase != PhaseInitial {
		return ErrWrongPhase
	}

	msg := &wire.PrepareCommand{
		FollowerSequenceID: state.FollowerSequenceID,
		Timestamp:          time.Now(),
		Snapshot:           state.Snapshot,
		Data:               state.OriginalData,
	}
	if err := r.sender.Send(state.PeerID, msg, collapsePrepare, 0); err != nil {
		return fmt.Errorf("sending prepare request: %w", err)
	}

	state.LastAttempt = time.Now()
	return r.persist(state)
}

// HandlePrepareResponse applies a prepare response to the current command.
// A response bearing a stale follower sequence id, or arriving in any
// phase other than Initial, leaves the persisted command unchanged.
func (r *Requester) HandlePrepareResponse(msg *wire.PrepareCommandResponse) error {
	state, err := r.store.LoadCommand()
	if err != nil {
		return err
	}
	if state == nil || state.Phase != PhaseInitial || state.FollowerSequenceID != msg.FollowerSequenceID {
		r.debugf("dropping prepare response with sequence id %d", msg.FollowerSequenceID)
		return nil
	}

	if msg.Error != wire.ErrorNone {
		state.Phase = PhaseRejected
		state.Error = msg.Error
		return r.persist(state)
	}

	// A constrained payload of a different variant than requested is a
	// protocol violation, not a negotiation.
	if msg.Data == nil || msg.Data.Variant != state.OriginalData.Variant {
		r.warnf("discarding prepare response with mismatching variant")
		return nil
	}

	state.Phase = PhasePrepared
	state.MainSequenceID = msg.MainSequenceID
	state.ConstrainedData = msg.Data
	state.ValidUntil = msg.ValidUntil
	return r.persist(state)
}

// SendConfirmation sends the confirm message for the current Prepared
// command and stamps the attempt time.
func (r *Requester) SendConfirmation() error {
	state, err := r.store.LoadCommand()
	if err != nil {
		return err
	}
	if state == nil {
		return ErrNoCommand
	}
	if state.Phase != PhasePrepared {
		return ErrWrongPhase
	}

	msg := &wire.ConfirmCommand{
		MainSequenceID: state.MainSequenceID,
		Timestamp:      time.Now(),
	}
	if err := r.sender.Send(state.PeerID, msg, collapseConfirm, 0); err != nil {
		return fmt.Errorf("sending confirmation: %w", err)
	}

	state.LastAttempt = time.Now()
	return r.persist(state)
}

// HandleProgress applies a progress update. Updates are dropped when the
// command is not in a post-confirm phase, when the main sequence id does
// not match, or when the update's timestamp is not newer than the
// currently recorded progress (out-of-order defense).
func (r *Requester) HandleProgress(msg *wire.CommandProgress) error {
	state, err := r.store.LoadCommand()
	if err != nil {
		return err
	}
	if state == nil || state.MainSequenceID != msg.MainSequenceID {
		return nil
	}
	if state.Phase != PhasePrepared && state.Phase != PhaseProgressing {
		return nil
	}
	if state.Progress != nil && !msg.Timestamp.After(state.Progress.Timestamp) {
		r.debugf("dropping out-of-order progress update")
		return nil
	}

	state.Phase = PhaseProgressing
	state.Progress = msg
	return r.persist(state)
}

// HandleResult applies the terminal result. A success result whose data
// variant mismatches the confirmed command's variant is discarded.
func (r *Requester) HandleResult(msg *wire.CommandResult) error {
	state, err := r.store.LoadCommand()
	if err != nil {
		return err
	}
	if state == nil || state.MainSequenceID != msg.MainSequenceID {
		return nil
	}
	if state.Phase != PhasePrepared && state.Phase != PhaseProgressing {
		return nil
	}
	if msg.Error == wire.ErrorNone {
		if msg.Data == nil || msg.Data.Variant != state.ConstrainedData.Variant {
			r.warnf("discarding result with mismatching variant")
			return nil
		}
	}

	state.Phase = PhaseFinal
	state.Result = msg
	return r.persist(state)
}

// Clear discards the current command unconditionally.
func (r *Requester) Clear() error {
	if err := r.store.ClearCommand(); err != nil {
		return err
	}
	if r.onChange != nil {
		r.onChange(nil)
	}
	return nil
}

func (r *Requester) persist(state *State) error {
	if err := r.store.SaveCommand(state); err != nil {
		return fmt.Errorf("persisting command state: %w", err)
	}
	if r.onChange != nil {
		r.onChange(state)
	}
	return nil
}

func (r *Requester) debugf(format string, args ...interface{}) {
	if r.log != nil {
		r.log.Debugf(format, args...)
	}
}

func (r *Requester) warnf(format string, args ...interface{}) {
	if r.log != nil {
		r.log.Warnf(format, args...)
	}
}

// newSequenceID returns a random 64-bit sequence id. Random assignment
// keeps ids fresh across process restarts without persisting a counter.
func newSequenceID() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	return binary.LittleEndian.Uint64(buf[:])
}
