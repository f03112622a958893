package command

import (
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/TebbeUbben/remora/pkg/wire"
)

type memCommandStore struct {
	mu    sync.Mutex
	state *State
}

func (s *memCommandStore) SaveCommand(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *state
	s.state = &cp
	return nil
}

func (s *memCommandStore) LoadCommand() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return nil, nil
	}
	cp := *s.state
	return &cp, nil
}

func (s *memCommandStore) ClearCommand() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = nil
	return nil
}

type sentMessage struct {
	peerID      uuid.UUID
	msg         wire.Message
	collapseKey string
	ttl         time.Duration
}

type captureSender struct {
	mu   sync.Mutex
	sent []sentMessage
}

func (s *captureSender) Send(peerID uuid.UUID, m wire.Message, collapseKey string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, sentMessage{peerID: peerID, msg: m, collapseKey: collapseKey, ttl: ttl})
	return nil
}

func (s *captureSender) messages() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]sentMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

func (s *captureSender) last(t *testing.T) sentMessage {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		t.Fatal("no message sent")
	}
	return s.sent[len(s.sent)-1]
}

func newTestRequester(t *testing.T) (*Requester, *memCommandStore, *captureSender) {
	t.Helper()
	store := &memCommandStore{}
	sender := &captureSender{}
	r, err := NewRequester(RequesterConfig{Store: store, Sender: sender})
	if err != nil {
		t.Fatalf("NewRequester: %v", err)
	}
	return r, store, sender
}

func bolusData(amount float64) *wire.CommandData {
	return &wire.CommandData{Variant: wire.VariantBolus, Bolus: &wire.BolusData{Amount: amount}}
}

func initiateBolus(t *testing.T, r *Requester, amount float64) *State {
	t.Helper()
	if err := r.InitiateCommand(uuid.New(), bolusData(amount), wire.StatusSnapshot{Timestamp: time.Now()}); err != nil {
		t.Fatalf("InitiateCommand: %v", err)
	}
	state, err := r.Current()
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if state == nil {
		t.Fatal("no command after initiate")
	}
	return state
}

func TestRequesterInitiateSendsPrepare(t *testing.T) {
	r, _, sender := newTestRequester(t)
	state := initiateBolus(t, r, 2.0)

	if state.Phase != PhaseInitial {
		t.Fatalf("phase = %v, want Initial", state.Phase)
	}
	if state.FollowerSequenceID == 0 {
		t.Fatal("follower sequence id not assigned")
	}
	if state.LastAttempt.IsZero() {
		t.Fatal("attempt time not stamped")
	}

	sent := sender.last(t)
	prep, ok := sent.msg.(*wire.PrepareCommand)
	if !ok {
		t.Fatalf("sent %T, want *wire.PrepareCommand", sent.msg)
	}
	if prep.FollowerSequenceID != state.FollowerSequenceID {
		t.Fatal("prepare carries wrong sequence id")
	}
	if sent.collapseKey != collapsePrepare {
		t.Fatalf("collapse key = %q, want %q", sent.collapseKey, collapsePrepare)
	}
}

func TestRequesterInitiateOverwritesPrevious(t *testing.T) {
	r, _, _ := newTestRequester(t)
	first := initiateBolus(t, r, 2.0)
	second := initiateBolus(t, r, 3.0)

	if second.FollowerSequenceID == first.FollowerSequenceID {
		t.Fatal("new command reused previous sequence id")
	}
	if second.OriginalData.Bolus.Amount != 3.0 {
		t.Fatal("previous command leaked into new one")
	}
}

func TestRequesterPrepareResponseAccepted(t *testing.T) {
	r, _, _ := newTestRequester(t)
	state := initiateBolus(t, r, 2.0)

	validUntil := time.Now().Add(5 * time.Minute)
	err := r.HandlePrepareResponse(&wire.PrepareCommandResponse{
		FollowerSequenceID: state.FollowerSequenceID,
		MainSequenceID:     42,
		Timestamp:          time.Now(),
		ValidUntil:         validUntil,
		Error:              wire.ErrorNone,
		Data:               bolusData(1.5),
	})
	if err != nil {
		t.Fatalf("HandlePrepareResponse: %v", err)
	}

	state, _ = r.Current()
	if state.Phase != PhasePrepared {
		t.Fatalf("phase = %v, want Prepared", state.Phase)
	}
	if state.MainSequenceID != 42 {
		t.Fatal("main sequence id not recorded")
	}
	if state.ConstrainedData.Bolus.Amount != 1.5 {
		t.Fatal("constrained data not recorded")
	}
	if state.OriginalData.Bolus.Amount != 2.0 {
		t.Fatal("original data overwritten")
	}
}

func TestRequesterPrepareResponseStaleSequenceIgnored(t *testing.T) {
	r, _, _ := newTestRequester(t)
	state := initiateBolus(t, r, 2.0)

	err := r.HandlePrepareResponse(&wire.PrepareCommandResponse{
		FollowerSequenceID: state.FollowerSequenceID + 1,
		MainSequenceID:     42,
		Error:              wire.ErrorNone,
		Data:               bolusData(2.0),
	})
	if err != nil {
		t.Fatalf("HandlePrepareResponse: %v", err)
	}

	state, _ = r.Current()
	if state.Phase != PhaseInitial {
		t.Fatalf("stale response changed phase to %v", state.Phase)
	}
}

func TestRequesterPrepareResponseError(t *testing.T) {
	r, _, _ := newTestRequester(t)
	state := initiateBolus(t, r, 2.0)

	err := r.HandlePrepareResponse(&wire.PrepareCommandResponse{
		FollowerSequenceID: state.FollowerSequenceID,
		Error:              wire.ErrorBolusInProgress,
	})
	if err != nil {
		t.Fatalf("HandlePrepareResponse: %v", err)
	}

	state, _ = r.Current()
	if state.Phase != PhaseRejected {
		t.Fatalf("phase = %v, want Rejected", state.Phase)
	}
	if state.Error != wire.ErrorBolusInProgress {
		t.Fatalf("error = %v, want BolusInProgress", state.Error)
	}
}

func TestRequesterPrepareResponseVariantMismatchDiscarded(t *testing.T) {
	r, _, _ := newTestRequester(t)
	state := initiateBolus(t, r, 2.0)

	err := r.HandlePrepareResponse(&wire.PrepareCommandResponse{
		FollowerSequenceID: state.FollowerSequenceID,
		MainSequenceID:     42,
		Error:              wire.ErrorNone,
		Data:               &wire.CommandData{Variant: wire.Variant(99)},
	})
	if err != nil {
		t.Fatalf("HandlePrepareResponse: %v", err)
	}

	state, _ = r.Current()
	if state.Phase != PhaseInitial {
		t.Fatalf("mismatching variant changed phase to %v", state.Phase)
	}
}

func prepareCommand(t *testing.T, r *Requester) *State {
	t.Helper()
	state := initiateBolus(t, r, 2.0)
	err := r.HandlePrepareResponse(&wire.PrepareCommandResponse{
		FollowerSequenceID: state.FollowerSequenceID,
		MainSequenceID:     42,
		ValidUntil:         time.Now().Add(5 * time.Minute),
		Error:              wire.ErrorNone,
		Data:               bolusData(1.5),
	})
	if err != nil {
		t.Fatalf("HandlePrepareResponse: %v", err)
	}
	state, _ = r.Current()
	return state
}

func TestRequesterConfirmRequiresPrepared(t *testing.T) {
	r, _, _ := newTestRequester(t)
	if err := r.SendConfirmation(); err != ErrNoCommand {
		t.Fatalf("err = %v, want ErrNoCommand", err)
	}

	initiateBolus(t, r, 2.0)
	if err := r.SendConfirmation(); err != ErrWrongPhase {
		t.Fatalf("err = %v, want ErrWrongPhase", err)
	}
}

func TestRequesterConfirmSendsMainSequenceID(t *testing.T) {
	r, _, sender := newTestRequester(t)
	prepareCommand(t, r)

	if err := r.SendConfirmation(); err != nil {
		t.Fatalf("SendConfirmation: %v", err)
	}
	sent := sender.last(t)
	confirm, ok := sent.msg.(*wire.ConfirmCommand)
	if !ok {
		t.Fatalf("sent %T, want *wire.ConfirmCommand", sent.msg)
	}
	if confirm.MainSequenceID != 42 {
		t.Fatal("confirm carries wrong main sequence id")
	}
	if sent.collapseKey != collapseConfirm {
		t.Fatalf("collapse key = %q, want %q", sent.collapseKey, collapseConfirm)
	}
}

func TestRequesterProgressOrdering(t *testing.T) {
	r, _, _ := newTestRequester(t)
	prepareCommand(t, r)

	base := time.Now()
	err := r.HandleProgress(&wire.CommandProgress{
		MainSequenceID: 42,
		Timestamp:      base,
		Kind:           wire.ProgressPercentage,
		Percentage:     50,
	})
	if err != nil {
		t.Fatalf("HandleProgress: %v", err)
	}
	state, _ := r.Current()
	if state.Phase != PhaseProgressing {
		t.Fatalf("phase = %v, want Progressing", state.Phase)
	}
	if state.Progress.Percentage != 50 {
		t.Fatal("progress not recorded")
	}

	// An older or equal timestamp never moves progress backwards.
	for _, ts := range []time.Time{base, base.Add(-time.Second)} {
		err = r.HandleProgress(&wire.CommandProgress{
			MainSequenceID: 42,
			Timestamp:      ts,
			Kind:           wire.ProgressPercentage,
			Percentage:     10,
		})
		if err != nil {
			t.Fatalf("HandleProgress: %v", err)
		}
		state, _ = r.Current()
		if state.Progress.Percentage != 50 {
			t.Fatal("out-of-order update applied")
		}
	}
}

func TestRequesterProgressWrongSequenceIgnored(t *testing.T) {
	r, _, _ := newTestRequester(t)
	prepareCommand(t, r)

	err := r.HandleProgress(&wire.CommandProgress{
		MainSequenceID: 7,
		Timestamp:      time.Now(),
		Kind:           wire.ProgressEnqueued,
	})
	if err != nil {
		t.Fatalf("HandleProgress: %v", err)
	}
	state, _ := r.Current()
	if state.Phase != PhasePrepared || state.Progress != nil {
		t.Fatal("progress with wrong sequence id applied")
	}
}

func TestRequesterResult(t *testing.T) {
	r, _, _ := newTestRequester(t)
	prepareCommand(t, r)

	err := r.HandleResult(&wire.CommandResult{
		MainSequenceID: 42,
		Timestamp:      time.Now(),
		Error:          wire.ErrorNone,
		Data:           bolusData(1.5),
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	state, _ := r.Current()
	if state.Phase != PhaseFinal {
		t.Fatalf("phase = %v, want Final", state.Phase)
	}
	if state.Result.Data.Bolus.Amount != 1.5 {
		t.Fatal("result data not recorded")
	}

	// Progress after the terminal result stays dropped.
	err = r.HandleProgress(&wire.CommandProgress{
		MainSequenceID: 42,
		Timestamp:      time.Now().Add(time.Minute),
		Kind:           wire.ProgressPercentage,
		Percentage:     99,
	})
	if err != nil {
		t.Fatalf("HandleProgress: %v", err)
	}
	state, _ = r.Current()
	if state.Phase != PhaseFinal {
		t.Fatal("progress applied after final result")
	}
}

func TestRequesterResultVariantMismatchDiscarded(t *testing.T) {
	r, _, _ := newTestRequester(t)
	prepareCommand(t, r)

	err := r.HandleResult(&wire.CommandResult{
		MainSequenceID: 42,
		Timestamp:      time.Now(),
		Error:          wire.ErrorNone,
		Data:           &wire.CommandData{Variant: wire.Variant(99)},
	})
	if err != nil {
		t.Fatalf("HandleResult: %v", err)
	}
	state, _ := r.Current()
	if state.Phase != PhasePrepared {
		t.Fatal("result with mismatching variant applied")
	}
}

func TestRequesterClear(t *testing.T) {
	r, _, _ := newTestRequester(t)
	var lastNotified *State
	notified := false
	r.onChange = func(s *State) {
		lastNotified = s
		notified = true
	}

	initiateBolus(t, r, 2.0)
	notified = false
	if err := r.Clear(); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	state, _ := r.Current()
	if state != nil {
		t.Fatal("command survived Clear")
	}
	if !notified || lastNotified != nil {
		t.Fatal("Clear did not notify with nil state")
	}
}
