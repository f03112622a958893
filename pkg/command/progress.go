package command

import (
	"time"

	"github.com/TebbeUbben/remora/pkg/wire"
)

// progressInterval is the minimum spacing between two distinct percentage
// updates on the wire. The terminal result is never rate limited.
const progressInterval = time.Second

// progressSender decouples the execution task from progress transmission:
// the executor pushes updates into a bounded channel and a dedicated
// goroutine forwards them, dropping repeated percentages and spacing
// distinct ones by at least progressInterval. Connecting/enqueued updates
// pass through unthrottled.
type progressSender struct {
	updates chan wire.CommandProgress
	done    chan struct{}
	send    func(wire.CommandProgress)
	now     func() time.Time
}

func newProgressSender(send func(wire.CommandProgress), now func() time.Time) *progressSender {
	ps := &progressSender{
		updates: make(chan wire.CommandProgress, 16),
		done:    make(chan struct{}),
		send:    send,
		now:     now,
	}
	go ps.run()
	return ps
}

// offer hands an update to the sender without ever blocking the executor.
// When the channel is full the update is dropped; a newer one follows.
func (ps *progressSender) offer(p wire.CommandProgress) {
	select {
	case ps.updates <- p:
	default:
	}
}

// close stops the sender once all buffered updates are drained.
func (ps *progressSender) close() {
	close(ps.updates)
	<-ps.done
}

func (ps *progressSender) run() {
	defer close(ps.done)

	var (
		lastPct     = -1
		lastSentAt  time.Time
		pending     *wire.CommandProgress
		timer       *time.Timer
		timerCh     <-chan time.Time
		stopPending = func() {
			if timer != nil {
				timer.Stop()
				timer = nil
				timerCh = nil
			}
			pending = nil
		}
	)

	emit := func(p wire.CommandProgress) {
		ps.send(p)
		lastSentAt = ps.now()
		if p.Kind == wire.ProgressPercentage {
			lastPct = int(p.Percentage)
		}
	}

	for {
		select {
		case p, ok := <-ps.updates:
			if !ok {
				// Drained; a held update is overtaken by the terminal
				// result the processor sends directly.
				stopPending()
				return
			}
			if p.Kind != wire.ProgressPercentage {
				emit(p)
				continue
			}
			if int(p.Percentage) == lastPct {
				continue
			}
			if wait := progressInterval - ps.now().Sub(lastSentAt); wait > 0 {
				// Too soon after the previous distinct update; hold the
				// newest value and flush when the interval elapses.
				cp := p
				pending = &cp
				if timer == nil {
					timer = time.NewTimer(wait)
					timerCh = timer.C
				}
				continue
			}
			stopPending()
			emit(p)

		case <-timerCh:
			if pending != nil {
				emit(*pending)
			}
			stopPending()
		}
	}
}
