package command

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/TebbeUbben/remora/pkg/wire"
)

// DefaultPreparedValidity is how long a prepared command may wait for its
// confirmation before it expires.
const DefaultPreparedValidity = 5 * time.Minute

// collapseProgress collapses queued progress updates per peer so only the
// newest unsent one is ever transmitted.
const collapseProgress = "command-progress"

// PreparedCommand mirrors a follower's Prepared command on the main
// device: validated, possibly constrained, awaiting confirmation within a
// bounded validity window. At most one exists at a time.
type PreparedCommand struct {
	PeerID             uuid.UUID
	FollowerSequenceID uint64
	MainSequenceID     uint64
	ValidUntil         time.Time
	Data               *wire.CommandData

	// cachedResponse is replayed verbatim on an identical duplicate
	// prepare, without re-invoking the handler.
	cachedResponse *wire.PrepareCommandResponse
}

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	// Handler performs domain validation and execution. Required.
	Handler Handler

	// Sender carries outbound messages. Required.
	Sender Sender

	// PreparedValidity overrides the confirmation window (default: 5m).
	PreparedValidity time.Duration

	// LoggerFactory is optional.
	LoggerFactory logging.LoggerFactory

	// now overrides the clock in tests.
	now func() time.Time
}

// Processor drives main-device command handling. One mutex guards the
// prepared slot and the executing flag so prepare handling, confirm
// handling and execution bookkeeping never interleave unsafely; the mutex
// is held only while inspecting or mutating state, never for the duration
// of an execution.
type Processor struct {
	handler  Handler
	sender   Sender
	validity time.Duration
	log      logging.LeveledLogger
	now      func() time.Time

	mu        sync.Mutex
	prepared  *PreparedCommand
	executing bool
	seq       uint64

	// executionDone is closed when the current execution's goroutine
	// fully retires; tests synchronize on it.
	executionDone chan struct{}
}

// NewProcessor creates a main-device command processor.
func NewProcessor(config ProcessorConfig) (*Processor, error) {
	if config.Handler == nil {
		return nil, ErrHandlerRequired
	}
	if config.Sender == nil {
		return nil, ErrSenderRequired
	}

	p := &Processor{
		handler:  config.Handler,
		sender:   config.Sender,
		validity: config.PreparedValidity,
		now:      config.now,
		seq:      randomSequenceInit(),
	}
	if p.validity == 0 {
		p.validity = DefaultPreparedValidity
	}
	if p.now == nil {
		p.now = time.Now
	}
	if config.LoggerFactory != nil {
		p.log = config.LoggerFactory.NewLogger("processor")
	}
	return p, nil
}

// Prepared returns a copy of the current prepared slot, or nil.
func (p *Processor) Prepared() *PreparedCommand {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.prepared == nil {
		return nil
	}
	cp := *p.prepared
	return &cp
}

// Executing reports whether a command execution is in flight.
func (p *Processor) Executing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.executing
}

// HandlePrepareCommand processes a prepare request from a peer.
//
// While a command is executing, every prepare is answered with
// ActiveCommand. A duplicate of the currently prepared (peer, follower
// sequence id) pair replays the cached response without re-invoking the
// handler. Anything else is validated by the handler and either rejected
// or installed as the new prepared slot, replacing any previous unrelated
// one.
func (p *Processor) HandlePrepareCommand(peerID uuid.UUID, msg *wire.PrepareCommand) error {
	p.mu.Lock()

	if p.executing {
		p.mu.Unlock()
		return p.respondPrepareError(peerID, msg.FollowerSequenceID, wire.ErrorActiveCommand)
	}

	if p.prepared != nil && p.prepared.PeerID == peerID && p.prepared.FollowerSequenceID == msg.FollowerSequenceID {
		cached := p.prepared.cachedResponse
		p.mu.Unlock()
		p.debugf("replaying cached prepare response for peer %s", peerID)
		return p.sender.Send(peerID, cached, "", 0)
	}
	p.mu.Unlock()

	// Handler work happens outside the lock; the slot is re-checked and
	// written under the lock afterwards.
	if errCode := p.handler.ValidateStatusSnapshot(msg.Snapshot); errCode != wire.ErrorNone {
		return p.respondPrepareError(peerID, msg.FollowerSequenceID, errCode)
	}
	constrained, errCode := p.handler.PrepareTreatment(msg.Data)
	if errCode != wire.ErrorNone {
		return p.respondPrepareError(peerID, msg.FollowerSequenceID, errCode)
	}

	p.mu.Lock()
	if p.executing {
		p.mu.Unlock()
		return p.respondPrepareError(peerID, msg.FollowerSequenceID, wire.ErrorActiveCommand)
	}

	p.seq++
	response := &wire.PrepareCommandResponse{
		FollowerSequenceID: msg.FollowerSequenceID,
		MainSequenceID:     p.seq,
		Timestamp:          p.now(),
		ValidUntil:         p.now().Add(p.validity),
		Error:              wire.ErrorNone,
		Data:               constrained,
	}
	p.prepared = &PreparedCommand{
		PeerID:             peerID,
		FollowerSequenceID: msg.FollowerSequenceID,
		MainSequenceID:     response.MainSequenceID,
		ValidUntil:         response.ValidUntil,
		Data:               constrained,
		cachedResponse:     response,
	}
	p.mu.Unlock()

	return p.sender.Send(peerID, response, "", 0)
}

// HandleConfirmCommand processes a confirmation.
//
// A confirm that does not match the current prepared slot (including one
// from a second follower racing the first) is answered with
// WrongSequenceId. A confirm arriving while a command executes is ignored:
// the running execution's result message is authoritative. An expired
// prepared command yields Expired and drops the slot.
func (p *Processor) HandleConfirmCommand(peerID uuid.UUID, msg *wire.ConfirmCommand) error {
	p.mu.Lock()

	if p.executing {
		p.mu.Unlock()
		p.debugf("ignoring confirm %d while executing", msg.MainSequenceID)
		return nil
	}

	if p.prepared == nil || p.prepared.PeerID != peerID || p.prepared.MainSequenceID != msg.MainSequenceID {
		p.mu.Unlock()
		return p.respondResultError(peerID, msg.MainSequenceID, wire.ErrorWrongSequenceId)
	}

	if p.now().After(p.prepared.ValidUntil) {
		p.prepared = nil
		p.mu.Unlock()
		return p.respondResultError(peerID, msg.MainSequenceID, wire.ErrorExpired)
	}

	prepared := p.prepared
	p.executing = true
	p.executionDone = make(chan struct{})
	done := p.executionDone
	p.mu.Unlock()

	go p.execute(prepared, done)
	return nil
}

// execute runs the treatment and streams rate-limited progress. The slot
// and executing flag are cleared when execution finishes, in a step that
// is not itself cancellable, so the slot can never stay occupied.
func (p *Processor) execute(prepared *PreparedCommand, done chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.executing = false
		if p.prepared == prepared {
			p.prepared = nil
		}
		p.mu.Unlock()
		close(done)
	}()

	ps := newProgressSender(func(progress wire.CommandProgress) {
		// Fire and forget: a transmission failure is logged, retry is the
		// send queue's responsibility.
		if err := p.sender.Send(prepared.PeerID, &progress, collapseProgress, 0); err != nil {
			p.warnf("sending progress: %v", err)
		}
	}, p.now)

	data, errCode := p.handler.ExecuteTreatment(context.Background(), prepared.Data, func(progress wire.CommandProgress) {
		progress.MainSequenceID = prepared.MainSequenceID
		if progress.Timestamp.IsZero() {
			progress.Timestamp = p.now()
		}
		ps.offer(progress)
	})
	ps.close()

	result := &wire.CommandResult{
		MainSequenceID: prepared.MainSequenceID,
		Timestamp:      p.now(),
		Error:          errCode,
	}
	if errCode == wire.ErrorNone {
		result.Data = data
	}

	// The terminal result bypasses rate limiting and is always sent.
	if err := p.sender.Send(prepared.PeerID, result, "", 0); err != nil {
		p.warnf("sending result: %v", err)
	}
}

func (p *Processor) respondPrepareError(peerID uuid.UUID, followerSequenceID uint64, errCode wire.CommandError) error {
	return p.sender.Send(peerID, &wire.PrepareCommandResponse{
		FollowerSequenceID: followerSequenceID,
		Timestamp:          p.now(),
		Error:              errCode,
	}, "", 0)
}

func (p *Processor) respondResultError(peerID uuid.UUID, mainSequenceID uint64, errCode wire.CommandError) error {
	return p.sender.Send(peerID, &wire.CommandResult{
		MainSequenceID: mainSequenceID,
		Timestamp:      p.now(),
		Error:          errCode,
	}, "", 0)
}

func (p *Processor) debugf(format string, args ...interface{}) {
	if p.log != nil {
		p.log.Debugf(format, args...)
	}
}

func (p *Processor) warnf(format string, args ...interface{}) {
	if p.log != nil {
		p.log.Warnf(format, args...)
	}
}

// randomSequenceInit returns a random initial main sequence id so ids stay
// fresh across process restarts without persisting the counter.
func randomSequenceInit() uint64 {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return uint64(time.Now().UnixNano())
	}
	// Keep headroom before wrap-around.
	return binary.LittleEndian.Uint64(buf[:]) >> 16
}
