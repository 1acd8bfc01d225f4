package ingest

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pvzzle/walletfeed/internal/domain"
	"github.com/pvzzle/walletfeed/internal/metrics"

	"go.uber.org/zap"
)

var ErrClosed = errors.New("ingest buffer closed")

type Config struct {
	// Quiet is the debounce period: a batch is flushed once no delivery has
	// arrived for this long.
	Quiet time.Duration
	// MaxWait caps how long a continuous burst can defer a flush.
	// Zero disables the cap.
	MaxWait time.Duration
	// Backlog is the capacity of the flushed-batch channel.
	Backlog int
}

type batch struct {
	mu     sync.Mutex
	items  []domain.RawDelivery
	sealed bool
	// final is installed by Close; it never flushes, so it takes nothing
	final bool
}

// Buffer accumulates provider deliveries and hands them off in debounced
// batches. Accept is safe for concurrent use, including while a flush is in
// progress.
type Buffer struct {
	cfg Config
	log *zap.Logger
	out chan []domain.RawDelivery

	cur atomic.Pointer[batch]

	mu      sync.Mutex // timer state
	timer   *time.Timer
	gen     uint64
	burstAt time.Time

	sendMu sync.Mutex // swap + emit, close
	closed bool
}

func NewBuffer(cfg Config, log *zap.Logger) *Buffer {
	if cfg.Quiet <= 0 {
		cfg.Quiet = 3 * time.Second
	}
	if cfg.Backlog <= 0 {
		cfg.Backlog = 16
	}
	if log == nil {
		log = zap.NewNop()
	}

	b := &Buffer{
		cfg: cfg,
		log: log.With(zap.String("component", "ingest")),
		out: make(chan []domain.RawDelivery, cfg.Backlog),
	}
	b.cur.Store(&batch{})
	return b
}

// Batches yields flushed batches in swap order. It is closed by Close.
func (b *Buffer) Batches() <-chan []domain.RawDelivery { return b.out }

// Accept appends d to the in-flight batch and restarts the quiet timer. After
// Close it returns ErrClosed and d is not taken.
func (b *Buffer) Accept(d domain.RawDelivery) error {
	for {
		cur := b.cur.Load()
		cur.mu.Lock()
		if cur.final {
			cur.mu.Unlock()
			metrics.WebhookDeliveries.WithLabelValues("rejected_closed").Inc()
			b.log.Warn("delivery refused after close",
				zap.String("delivery_id", d.DeliveryID),
				zap.String("subscription_id", d.SubscriptionID),
			)
			return ErrClosed
		}
		if cur.sealed {
			// lost the race with a swap; the fresh batch is already installed
			cur.mu.Unlock()
			continue
		}
		cur.items = append(cur.items, d)
		cur.mu.Unlock()
		break
	}
	b.arm()
	return nil
}

// Flush swaps out the current batch immediately.
func (b *Buffer) Flush() {
	b.disarm()
	b.flush(false)
}

// Close flushes what is buffered and closes the Batches channel.
func (b *Buffer) Close() {
	b.disarm()
	b.flush(true)
}

func (b *Buffer) arm() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if b.burstAt.IsZero() {
		b.burstAt = now
	}

	delay := b.cfg.Quiet
	if b.cfg.MaxWait > 0 {
		if rem := b.burstAt.Add(b.cfg.MaxWait).Sub(now); rem < delay {
			delay = max(rem, 0)
		}
	}

	b.gen++
	gen := b.gen
	if b.timer != nil {
		b.timer.Stop()
	}
	b.timer = time.AfterFunc(delay, func() { b.fire(gen) })
}

func (b *Buffer) disarm() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	b.burstAt = time.Time{}
}

func (b *Buffer) fire(gen uint64) {
	b.mu.Lock()
	if gen != b.gen {
		// an Accept re-armed the timer after this one was scheduled
		b.mu.Unlock()
		return
	}
	b.timer = nil
	b.burstAt = time.Time{}
	b.mu.Unlock()

	b.flush(false)
}

// flush swaps in a fresh batch and emits the old one. With final set the
// fresh batch refuses every later Accept and Batches is closed.
func (b *Buffer) flush(final bool) {
	b.sendMu.Lock()
	defer b.sendMu.Unlock()
	if b.closed {
		return
	}

	old := b.cur.Swap(&batch{final: final})
	old.mu.Lock()
	old.sealed = true
	items := old.items
	old.mu.Unlock()

	if len(items) > 0 {
		metrics.BufferFlushes.Inc()
		metrics.BatchSize.Observe(float64(len(items)))
		b.log.Debug("batch flushed", zap.Int("deliveries", len(items)), zap.Bool("final", final))
		b.out <- items
	}

	if final {
		b.closed = true
		close(b.out)
	}
}
