package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"token_exchange/internal/domain"
	"token_exchange/internal/infra"
)

// DefaultMaxHeld bounds how many out-of-order batches wait for a missing sequence.
const DefaultMaxHeld = 64

// Dispatcher delivers settled batches to the exchange notifier in batch
// sequence order. Batches are published after their transaction commits,
// so two committers may hand them over out of order; the dispatcher holds
// early arrivals until the gap closes.
type Dispatcher struct {
	inbox    chan *domain.Batch
	notifier domain.ExchangeNotifier
	timeout  time.Duration
	metrics  *infra.Metrics
	maxHeld  int

	// Owned by the Run goroutine.
	nextSeq uint64
	held    map[uint64]*domain.Batch

	mu        sync.RWMutex // Used only for external reads
	delivered uint64

	done chan struct{}
}

// NewDispatcher creates a dispatcher expecting startSeq as the next batch sequence.
func NewDispatcher(inboxSize int, startSeq uint64, notifier domain.ExchangeNotifier, timeout time.Duration, metrics *infra.Metrics) *Dispatcher {
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	if startSeq == 0 {
		startSeq = 1
	}
	return &Dispatcher{
		inbox:     make(chan *domain.Batch, inboxSize),
		notifier:  notifier,
		timeout:   timeout,
		metrics:   metrics,
		maxHeld:   DefaultMaxHeld,
		nextSeq:   startSeq,
		held:      make(map[uint64]*domain.Batch),
		delivered: startSeq - 1,
		done:      make(chan struct{}),
	}
}

// Publish hands a committed batch to the dispatcher.
// It reports false if ctx ends before the inbox accepts the batch.
func (d *Dispatcher) Publish(ctx context.Context, b *domain.Batch) bool {
	select {
	case d.inbox <- b:
		return true
	case <-ctx.Done():
		slog.Warn("Settlement notification dropped",
			slog.Uint64("seq", b.Seq),
			slog.String("batch_id", b.ID),
			slog.Any("error", ctx.Err()),
		)
		d.metrics.RecordNotifyFailure()
		return false
	}
}

// Run starts the delivery loop. This MUST be run in a single goroutine.
func (d *Dispatcher) Run(ctx context.Context) {
	slog.Info("Settlement dispatcher started", slog.Uint64("next_seq", d.nextSeq))
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			d.drain()
			slog.Info("Settlement dispatcher stopped", slog.Uint64("delivered", d.LastDelivered()))
			return
		case b := <-d.inbox:
			d.accept(b)
		}
	}
}

// Done is closed once Run has returned.
func (d *Dispatcher) Done() <-chan struct{} {
	return d.done
}

// LastDelivered returns the sequence of the last batch handed to the notifier.
func (d *Dispatcher) LastDelivered() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.delivered
}

func (d *Dispatcher) accept(b *domain.Batch) {
	if b.Seq < d.nextSeq {
		slog.Warn("Duplicate settlement batch ignored", slog.Uint64("seq", b.Seq), slog.Uint64("next_seq", d.nextSeq))
		return
	}
	d.held[b.Seq] = b
	d.flush()

	if len(d.held) > d.maxHeld {
		// The missing batch was dropped upstream; do not stall the feed behind it.
		lowest := d.lowestHeld()
		slog.Error("SEQUENCE_GAP_SKIPPED",
			slog.Uint64("expected", d.nextSeq),
			slog.Uint64("resumed_at", lowest),
		)
		d.nextSeq = lowest
		d.flush()
	}
}

func (d *Dispatcher) flush() {
	for {
		b, ok := d.held[d.nextSeq]
		if !ok {
			return
		}
		delete(d.held, d.nextSeq)
		d.deliver(b)
		d.nextSeq++
	}
}

func (d *Dispatcher) lowestHeld() uint64 {
	seqs := make([]uint64, 0, len(d.held))
	for seq := range d.held {
		seqs = append(seqs, seq)
	}
	sort.Slice(seqs, func(i, j int) bool { return seqs[i] < seqs[j] })
	return seqs[0]
}

// drain delivers whatever is still queued or held, in sequence order.
func (d *Dispatcher) drain() {
collect:
	for {
		select {
		case b := <-d.inbox:
			if b.Seq >= d.nextSeq {
				d.held[b.Seq] = b
			}
		default:
			break collect
		}
	}
	for len(d.held) > 0 {
		d.nextSeq = d.lowestHeld()
		d.flush()
	}
}

func (d *Dispatcher) deliver(b *domain.Batch) {
	defer func() {
		d.mu.Lock()
		d.delivered = b.Seq
		d.mu.Unlock()
	}()

	if d.notifier == nil {
		return
	}

	ctx := context.Background()
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	if err := d.notify(ctx, b); err != nil {
		d.metrics.RecordNotifyFailure()
		slog.Warn("Exchange notification failed",
			slog.Uint64("seq", b.Seq),
			slog.String("batch_id", b.ID),
			slog.Bool("retriable", domain.IsRetriable(err)),
			slog.Any("error", err),
		)
	}
}

func (d *Dispatcher) notify(ctx context.Context, b *domain.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	return d.notifier.Notify(ctx, b)
}
