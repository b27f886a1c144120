package relay

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/serene/internal/observe"
)

var (
	// ErrQueueFull is returned by [Forwarder.Enqueue] when the queue has no
	// room. The record is dropped.
	ErrQueueFull = errors.New("relay: forward queue full")

	// ErrClosed is returned by [Forwarder.Enqueue] after shutdown began.
	ErrClosed = errors.New("relay: forwarder closed")
)

// Forward outcomes reported to metrics.
const (
	statusSent    = "sent"
	statusRetry   = "retry"
	statusFailed  = "failed"
	statusDropped = "dropped"
)

const (
	defaultQueueSize   = 256
	defaultWorkers     = 2
	defaultMaxAttempts = 5
	defaultRetryBase   = 500 * time.Millisecond
	defaultRetryMax    = 30 * time.Second

	// jitterDivisor gives ±5% jitter around the computed delay.
	jitterDivisor = 10
)

// Sink accepts records for asynchronous delivery.
type Sink interface {
	Enqueue(rec Record) error
}

// Sender delivers one record. [*Client] implements it.
type Sender interface {
	Send(ctx context.Context, rec Record) error
}

// Discard is a [Sink] that accepts and drops every record. It is used when
// forwarding is disabled.
type Discard struct{}

// Enqueue implements [Sink].
func (Discard) Enqueue(Record) error { return nil }

// ForwarderConfig configures a [Forwarder].
type ForwarderConfig struct {
	// QueueSize is the capacity of the record queue. Default: 256.
	QueueSize int

	// Workers is the number of concurrent senders. Default: 2.
	Workers int

	// MaxAttempts per record, the first one included. Default: 5.
	MaxAttempts int

	// RetryBase is the delay before the second attempt; it doubles for each
	// further attempt. Default: 500ms.
	RetryBase time.Duration

	// RetryMax caps the retry delay. Default: 30s.
	RetryMax time.Duration

	// Metrics receives forward outcomes. Nil disables recording.
	Metrics *observe.Metrics
}

// Forwarder delivers records in the background with bounded retries.
//
// Call [Forwarder.Start] once, then [Forwarder.Shutdown] to drain.
// All methods are safe for concurrent use.
type Forwarder struct {
	sender      Sender
	workers     int
	maxAttempts int
	retryBase   time.Duration
	retryMax    time.Duration
	metrics     *observe.Metrics

	// mu guards closed and the close of queue against concurrent Enqueue.
	mu     sync.RWMutex
	closed bool
	queue  chan Record

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
}

// NewForwarder returns a [Forwarder] that delivers through sender.
func NewForwarder(sender Sender, cfg ForwarderConfig) *Forwarder {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaultMaxAttempts
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = defaultRetryBase
	}
	if cfg.RetryMax <= 0 {
		cfg.RetryMax = defaultRetryMax
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Forwarder{
		sender:      sender,
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   cfg.RetryBase,
		retryMax:    cfg.RetryMax,
		metrics:     cfg.Metrics,
		queue:       make(chan Record, cfg.QueueSize),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start launches the worker pool. Subsequent calls are no-ops.
func (f *Forwarder) Start() {
	f.start.Do(func() {
		for i := range f.workers {
			f.wg.Add(1)
			go f.work(i)
		}
	})
}

// Enqueue queues rec without blocking. A record without a Key gets a fresh
// idempotency key. When the queue is full the record is dropped and
// [ErrQueueFull] is returned.
func (f *Forwarder) Enqueue(rec Record) error {
	if rec.Key == "" {
		rec.Key = uuid.NewString()
	}

	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return ErrClosed
	}
	select {
	case f.queue <- rec:
		return nil
	default:
		f.record(statusDropped)
		slog.Warn("relay: forward queue full, dropping record",
			"conversation_id", rec.ConversationID,
			"queue_size", cap(f.queue),
		)
		return ErrQueueFull
	}
}

// Len returns the number of queued records.
func (f *Forwarder) Len() int { return len(f.queue) }

// Shutdown stops accepting records and waits for the workers to drain the
// queue. If ctx expires first, in-flight sends are cancelled, the remaining
// records are dropped and ctx.Err() is returned.
func (f *Forwarder) Shutdown(ctx context.Context) error {
	f.mu.Lock()
	if !f.closed {
		f.closed = true
		close(f.queue)
	}
	f.mu.Unlock()

	// Workers that were never started would leave the queue undrained.
	f.Start()

	done := make(chan struct{})
	go func() {
		f.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		f.cancel()
		return nil
	case <-ctx.Done():
		slog.Warn("relay: shutdown deadline reached, dropping queued records", "remaining", len(f.queue))
		f.cancel()
		<-done
		return ctx.Err()
	}
}

func (f *Forwarder) work(id int) {
	defer f.wg.Done()
	for rec := range f.queue {
		if f.ctx.Err() != nil {
			f.record(statusDropped)
			continue
		}
		f.deliver(id, rec)
	}
}

// deliver sends rec, retrying retryable failures with backoff.
func (f *Forwarder) deliver(worker int, rec Record) {
	for attempt := 1; ; attempt++ {
		err := f.sender.Send(f.ctx, rec)
		if err == nil {
			f.record(statusSent)
			return
		}

		if !IsRetryable(err) || attempt >= f.maxAttempts || f.ctx.Err() != nil {
			f.record(statusFailed)
			slog.Warn("relay: forward failed",
				"conversation_id", rec.ConversationID,
				"idempotency_key", rec.Key,
				"attempt", attempt,
				"worker", worker,
				"err", err,
			)
			return
		}

		delay := f.backoff(attempt)
		f.record(statusRetry)
		slog.Debug("relay: forward attempt failed, retrying",
			"conversation_id", rec.ConversationID,
			"attempt", attempt,
			"delay", delay,
			"err", err,
		)

		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-f.ctx.Done():
			t.Stop()
			f.record(statusFailed)
			return
		}
	}
}

// backoff returns the delay after the given failed attempt: retryBase doubled
// per attempt, capped at retryMax, with a little jitter.
func (f *Forwarder) backoff(attempt int) time.Duration {
	delay := f.retryBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= f.retryMax {
			delay = f.retryMax
			break
		}
	}
	if jitter := int64(delay / jitterDivisor); jitter > 0 {
		delay += time.Duration(rand.Int64N(jitter) - jitter/2)
	}
	return delay
}

func (f *Forwarder) record(status string) {
	if f.metrics != nil {
		f.metrics.RecordForward(context.Background(), status)
	}
}
