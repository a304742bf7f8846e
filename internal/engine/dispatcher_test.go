package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"token_exchange/internal/domain"
	"token_exchange/internal/infra"
)

type recorder struct {
	mu   sync.Mutex
	seqs []uint64
	fail map[uint64]bool
}

func (r *recorder) Notify(_ context.Context, b *domain.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seqs = append(r.seqs, b.Seq)
	if r.fail[b.Seq] {
		return domain.NewNetworkError("notify", errors.New("exchange down"))
	}
	return nil
}

func (r *recorder) got() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uint64(nil), r.seqs...)
}

func batch(seq uint64) *domain.Batch {
	return &domain.Batch{ID: "b", Seq: seq}
}

func waitDelivered(t *testing.T, d *Dispatcher, seq uint64) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for d.LastDelivered() < seq {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for seq %d, last delivered %d", seq, d.LastDelivered())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func equalSeqs(a, b []uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDispatcher_DeliversInSequenceOrder(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(10, 1, rec, time.Second, &infra.Metrics{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// Committers hand batches over out of order
	for _, seq := range []uint64{2, 3, 1, 4} {
		d.Publish(ctx, batch(seq))
	}
	waitDelivered(t, d, 4)

	if got := rec.got(); !equalSeqs(got, []uint64{1, 2, 3, 4}) {
		t.Errorf("Expected in-order delivery, got %v", got)
	}
}

func TestDispatcher_IgnoresDuplicates(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(10, 5, rec, 0, &infra.Metrics{})

	d.accept(batch(5))
	d.accept(batch(5))
	d.accept(batch(4))

	if got := rec.got(); !equalSeqs(got, []uint64{5}) {
		t.Errorf("Expected single delivery of 5, got %v", got)
	}
}

func TestDispatcher_SkipsUnrecoverableGap(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(10, 1, rec, 0, &infra.Metrics{})
	d.maxHeld = 2

	// Batch 1 never arrives
	d.accept(batch(2))
	d.accept(batch(3))
	if len(rec.got()) != 0 {
		t.Fatalf("Expected batches to be held, got %v", rec.got())
	}
	d.accept(batch(4))

	if got := rec.got(); !equalSeqs(got, []uint64{2, 3, 4}) {
		t.Errorf("Expected delivery to resume at 2, got %v", got)
	}
}

func TestDispatcher_FailuresAreCountedNotFatal(t *testing.T) {
	rec := &recorder{fail: map[uint64]bool{1: true}}
	m := &infra.Metrics{}
	d := NewDispatcher(10, 1, rec, 0, m)

	d.accept(batch(1))
	d.accept(batch(2))

	if got := rec.got(); !equalSeqs(got, []uint64{1, 2}) {
		t.Errorf("Expected both batches attempted, got %v", got)
	}
	if m.Snapshot().NotifyFailures != 1 {
		t.Errorf("Expected 1 notify failure, got %d", m.Snapshot().NotifyFailures)
	}
}

func TestDispatcher_RecoversNotifierPanic(t *testing.T) {
	m := &infra.Metrics{}
	panicky := domain.NotifierFunc(func(context.Context, *domain.Batch) error {
		panic("boom")
	})
	d := NewDispatcher(1, 1, panicky, 0, m)

	d.accept(batch(1))

	if d.LastDelivered() != 1 {
		t.Errorf("Expected seq 1 marked delivered, got %d", d.LastDelivered())
	}
	if m.Snapshot().NotifyFailures != 1 {
		t.Error("Expected panic to count as a notify failure")
	}
}

func TestDispatcher_DrainsOnShutdown(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(10, 1, rec, 0, &infra.Metrics{})

	bg := context.Background()
	d.Publish(bg, batch(3))
	d.Publish(bg, batch(1))

	ctx, cancel := context.WithCancel(bg)
	cancel()
	d.Run(ctx)

	<-d.Done()
	if got := rec.got(); !equalSeqs(got, []uint64{1, 3}) {
		t.Errorf("Expected drained batches in order, got %v", got)
	}
}

func TestDispatcher_PublishRespectsContext(t *testing.T) {
	m := &infra.Metrics{}
	d := NewDispatcher(0, 1, nil, 0, m)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if d.Publish(ctx, batch(1)) {
		t.Error("Publish should fail without a running dispatcher and a cancelled context")
	}
	if m.Snapshot().NotifyFailures != 1 {
		t.Error("Expected dropped batch to be counted")
	}
}
