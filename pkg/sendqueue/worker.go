package sendqueue

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pion/logging"
)

// Publisher is the slice of the push transport the worker needs.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// WorkerConfig configures a delivery worker.
type WorkerConfig struct {
	// Queue is the outbox to drain. Required.
	Queue *Queue

	// Publisher hands entries to the transport. Required.
	Publisher Publisher

	// SweepInterval is how often expired entries are purged and the queue
	// is re-checked without a wakeup (default: 30s).
	SweepInterval time.Duration

	// LoggerFactory is optional; without it the worker runs silent.
	LoggerFactory logging.LoggerFactory
}

// Worker drains the queue to the transport. Each entry is retried with
// exponential backoff until the publish succeeds or the entry's TTL
// elapses; delivery order is FIFO per retrieval.
type Worker struct {
	queue         *Queue
	publisher     Publisher
	sweepInterval time.Duration
	log           logging.LeveledLogger

	cancel context.CancelFunc
	doneCh chan struct{}
}

// NewWorker creates a delivery worker. Call Start to begin draining.
func NewWorker(config WorkerConfig) *Worker {
	w := &Worker{
		queue:         config.Queue,
		publisher:     config.Publisher,
		sweepInterval: config.SweepInterval,
	}
	if w.sweepInterval == 0 {
		w.sweepInterval = 30 * time.Second
	}
	if config.LoggerFactory != nil {
		w.log = config.LoggerFactory.NewLogger("sendqueue")
	}
	return w
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.doneCh = make(chan struct{})
	go w.run(ctx)
}

// Stop terminates the worker and waits for it to exit. Pending entries
// stay persisted for the next start.
func (w *Worker) Stop() {
	if w.cancel == nil {
		return
	}
	w.cancel()
	<-w.doneCh
}

func (w *Worker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.sweepInterval)
	defer ticker.Stop()

	for {
		w.drain(ctx)

		select {
		case <-ctx.Done():
			return
		case <-w.queue.wake():
		case <-ticker.C:
			if n, err := w.queue.store.ExpireQueueEntries(time.Now()); err != nil {
				w.warnf("expiring queue entries: %v", err)
			} else if n > 0 {
				w.debugf("expired %d queue entries", n)
			}
		}
	}
}

// drain publishes queued entries oldest-first until the queue is empty or
// the context is cancelled.
func (w *Worker) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		entry, err := w.queue.Next()
		if err != nil {
			w.warnf("reading queue: %v", err)
			return
		}
		if entry == nil {
			return
		}

		if entry.Expired(time.Now()) {
			if err := w.queue.Remove(entry.PeerID, entry.MessageID); err != nil {
				w.warnf("dropping expired entry: %v", err)
				return
			}
			continue
		}

		if err := w.publish(ctx, entry); err != nil {
			// Publish kept failing within the entry's remaining lifetime;
			// leave it queued and try again on the next wakeup.
			w.warnf("delivering message %d to %s: %v", entry.MessageID, entry.PeerID, err)
			return
		}

		if err := w.queue.Remove(entry.PeerID, entry.MessageID); err != nil {
			w.warnf("removing delivered entry: %v", err)
			return
		}
		w.debugf("delivered message %d for peer %s", entry.MessageID, entry.PeerID)
	}
}

// publish retries one entry with exponential backoff, bounded by the
// entry's remaining TTL.
func (w *Worker) publish(ctx context.Context, entry *Entry) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 30 * time.Second
	policy.MaxElapsedTime = time.Until(entry.QueuedAt.Add(entry.TTL))

	return backoff.Retry(func() error {
		return w.publisher.Publish(entry.Topic, entry.Payload)
	}, backoff.WithContext(policy, ctx))
}

func (w *Worker) warnf(format string, args ...interface{}) {
	if w.log != nil {
		w.log.Warnf(format, args...)
	}
}

func (w *Worker) debugf(format string, args ...interface{}) {
	if w.log != nil {
		w.log.Debugf(format, args...)
	}
}
