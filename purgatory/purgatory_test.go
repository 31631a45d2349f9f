package purgatory

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/solivaf/kafka/common"
	"github.com/solivaf/kafka/errs"
)

type testOp struct {
	Base
	mu        sync.Mutex
	satisfied bool
	expired   bool
	cancelErr error
	doneCh    chan struct{}
}

func newTestOp(deadline time.Time) *testOp {
	return &testOp{Base: NewBase(deadline), doneCh: make(chan struct{})}
}

func (o *testOp) TryComplete() bool {
	o.mu.Lock()
	ok := o.satisfied
	o.mu.Unlock()
	if !ok {
		return false
	}
	if o.MarkCompleted() {
		o.OnComplete()
		return true
	}
	return false
}

func (o *testOp) OnExpiration() {
	o.mu.Lock()
	o.expired = true
	o.mu.Unlock()
}

func (o *testOp) OnCancel(err error) {
	o.mu.Lock()
	o.cancelErr = err
	o.mu.Unlock()
}

func (o *testOp) OnComplete() { close(o.doneCh) }

func (o *testOp) satisfy() {
	o.mu.Lock()
	o.satisfied = true
	o.mu.Unlock()
}

func waitDone(t *testing.T, o *testOp) {
	t.Helper()
	select {
	case <-o.doneCh:
	case <-time.After(2 * time.Second):
		t.Fatalf("operation did not complete")
	}
}

func TestCompleteWithoutParking(t *testing.T) {
	clock := common.NewManualClock(time.Unix(0, 0))
	p := New("produce", clock, nil)
	defer p.Shutdown(errs.ErrShuttingDown)

	op := newTestOp(clock.Now().Add(time.Second))
	op.satisfy()
	if !p.TryCompleteElseWatch(op, []common.TopicPartition{common.NewTopicPartition("orders", 0)}) {
		t.Fatalf("expected immediate completion")
	}
	if p.NumWatched() != 0 {
		t.Fatalf("expected no watched operations, got %d", p.NumWatched())
	}
}

func TestCheckAndComplete(t *testing.T) {
	clock := common.NewManualClock(time.Unix(0, 0))
	p := New("produce", clock, nil)
	defer p.Shutdown(errs.ErrShuttingDown)

	tp := common.NewTopicPartition("orders", 0)
	op := newTestOp(clock.Now().Add(time.Minute))
	if p.TryCompleteElseWatch(op, []common.TopicPartition{tp}) {
		t.Fatalf("expected operation to park")
	}
	if got := p.NumWatched(); got != 1 {
		t.Fatalf("expected 1 watched operation, got %d", got)
	}
	if got := p.CheckAndComplete(tp); got != 0 {
		t.Fatalf("expected no completions while unsatisfied, got %d", got)
	}

	op.satisfy()
	if got := p.CheckAndComplete(tp); got != 1 {
		t.Fatalf("expected 1 completion, got %d", got)
	}
	waitDone(t, op)
	if op.expired {
		t.Fatalf("satisfied operation should not expire")
	}
	if p.NumWatched() != 0 {
		t.Fatalf("completed operation should be purged")
	}
}

func TestExpiration(t *testing.T) {
	clock := common.NewManualClock(time.Unix(0, 0))
	p := New("produce", clock, nil)
	defer p.Shutdown(errs.ErrShuttingDown)

	tp := common.NewTopicPartition("orders", 0)
	op := newTestOp(clock.Now().Add(100 * time.Millisecond))
	if p.TryCompleteElseWatch(op, []common.TopicPartition{tp}) {
		t.Fatalf("expected operation to park")
	}

	// The reaper arms its timer asynchronously; keep advancing until the
	// deadline path fires.
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case <-op.doneCh:
			done = true
		case <-deadline:
			t.Fatalf("operation did not expire")
		case <-time.After(10 * time.Millisecond):
			clock.Advance(200 * time.Millisecond)
		}
	}

	op.mu.Lock()
	expired := op.expired
	op.mu.Unlock()
	if !expired {
		t.Fatalf("expected operation to expire")
	}
}

func TestExpirationLosesToPredicate(t *testing.T) {
	clock := common.NewManualClock(time.Unix(0, 0))
	p := New("produce", clock, nil)
	defer p.Shutdown(errs.ErrShuttingDown)

	tp := common.NewTopicPartition("orders", 0)
	op := newTestOp(clock.Now().Add(time.Minute))
	p.TryCompleteElseWatch(op, []common.TopicPartition{tp})

	op.satisfy()
	p.CheckAndComplete(tp)
	waitDone(t, op)

	clock.Advance(2 * time.Minute)
	op.mu.Lock()
	expired := op.expired
	op.mu.Unlock()
	if expired {
		t.Fatalf("completed operation must not expire afterwards")
	}
}

func TestWatchMultipleKeys(t *testing.T) {
	clock := common.NewManualClock(time.Unix(0, 0))
	p := New("produce", clock, nil)
	defer p.Shutdown(errs.ErrShuttingDown)

	tp0 := common.NewTopicPartition("orders", 0)
	tp1 := common.NewTopicPartition("orders", 1)
	op := newTestOp(clock.Now().Add(time.Minute))
	p.TryCompleteElseWatch(op, []common.TopicPartition{tp0, tp1})
	if got := p.NumWatched(); got != 1 {
		t.Fatalf("one operation under two keys should count once, got %d", got)
	}

	op.satisfy()
	if got := p.CheckAndComplete(tp1); got != 1 {
		t.Fatalf("expected completion via second key, got %d", got)
	}
	waitDone(t, op)
}

func TestShutdownFailsPending(t *testing.T) {
	clock := common.NewManualClock(time.Unix(0, 0))
	p := New("fetch", clock, nil)

	tp := common.NewTopicPartition("orders", 0)
	op := newTestOp(clock.Now().Add(time.Minute))
	p.TryCompleteElseWatch(op, []common.TopicPartition{tp})

	p.Shutdown(errs.ErrShuttingDown)
	waitDone(t, op)

	op.mu.Lock()
	defer op.mu.Unlock()
	if !errors.Is(op.cancelErr, errs.ErrShuttingDown) {
		t.Fatalf("expected shutdown cancel error, got %v", op.cancelErr)
	}
}

func TestWatchAfterShutdown(t *testing.T) {
	clock := common.NewManualClock(time.Unix(0, 0))
	p := New("fetch", clock, nil)
	p.Shutdown(errs.ErrShuttingDown)

	op := newTestOp(clock.Now().Add(time.Minute))
	if !p.TryCompleteElseWatch(op, []common.TopicPartition{common.NewTopicPartition("orders", 0)}) {
		t.Fatalf("operation parked after shutdown should complete immediately")
	}
	if !errors.Is(op.cancelErr, errs.ErrShuttingDown) {
		t.Fatalf("expected shutdown cancel error, got %v", op.cancelErr)
	}
}
