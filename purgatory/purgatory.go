// Package purgatory holds delayed operations: requests that could not be
// answered synchronously and wait for either a state change that satisfies
// them or their deadline. Completion is exactly-once; the predicate path and
// the timer path race on a single-assignment flag and the loser no-ops.
package purgatory

import (
	"container/heap"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solivaf/kafka/common"
	"github.com/solivaf/kafka/errs"
	"go.uber.org/zap"
)

// DelayedOperation is one parked request. Implementations embed Base and
// watch one or more partitions.
type DelayedOperation interface {
	// TryComplete re-checks the completion condition; when every watched
	// partition is resolved it must mark the operation completed (via
	// MarkCompleted) and deliver the response (OnComplete), returning true.
	// It must be cheap and idempotent: it runs on every relevant state
	// change and from the expiry reaper.
	TryComplete() bool
	// OnExpiration marks still-unsatisfied work as timed out. Runs on the
	// timer path, before OnComplete.
	OnExpiration()
	// OnCancel marks still-unsatisfied work with err (role change to
	// follower, shutdown). Runs before OnComplete on the cancel path.
	OnCancel(err error)
	// OnComplete delivers the response callback. Runs exactly once,
	// whichever path wins.
	OnComplete()

	Completed() bool
	MarkCompleted() bool
	DeadlineAt() time.Time
}

// Base carries the completion flag and deadline shared by all delayed
// operations.
type Base struct {
	deadline time.Time
	done     atomic.Bool
}

func NewBase(deadline time.Time) Base {
	return Base{deadline: deadline}
}

func (b *Base) Completed() bool { return b.done.Load() }

// MarkCompleted wins the completion race at most once.
func (b *Base) MarkCompleted() bool { return b.done.CompareAndSwap(false, true) }

func (b *Base) DeadlineAt() time.Time { return b.deadline }

// DelayedOperationPurgatory maps watch keys to waiting operations and runs a
// deadline reaper that force-completes overdue ones.
type DelayedOperationPurgatory struct {
	name   string
	clock  common.Clock
	logger *zap.Logger

	mu       sync.Mutex
	watchers map[common.TopicPartition][]DelayedOperation
	expiry   opHeap
	closed   bool

	wakeCh chan struct{}
	stopCh chan struct{}
	doneCh chan struct{}
}

func New(name string, clock common.Clock, logger *zap.Logger) *DelayedOperationPurgatory {
	if logger == nil {
		logger = zap.NewNop()
	}
	p := &DelayedOperationPurgatory{
		name:     name,
		clock:    clock,
		logger:   logger.Named(name),
		watchers: make(map[common.TopicPartition][]DelayedOperation),
		wakeCh:   make(chan struct{}, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go p.reap()
	return p
}

// TryCompleteElseWatch attempts synchronous completion; otherwise registers
// the operation under every key and arms its deadline. Returns true when the
// operation completed without parking.
func (p *DelayedOperationPurgatory) TryCompleteElseWatch(op DelayedOperation, keys []common.TopicPartition) bool {
	if op.TryComplete() {
		return true
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		// Parked after shutdown started: fail it the way Shutdown fails the
		// rest.
		op.OnCancel(errs.ErrShuttingDown)
		if op.MarkCompleted() {
			op.OnComplete()
		}
		return true
	}
	for _, key := range keys {
		p.watchers[key] = append(p.watchers[key], op)
	}
	heap.Push(&p.expiry, op)
	p.mu.Unlock()

	// A state change between the first check and registration would have
	// missed this operation; check once more now that it is watched.
	if op.TryComplete() {
		return true
	}
	p.wake()
	return false
}

// CheckAndComplete re-checks every operation watching the key and returns how
// many completed. Invoked synchronously on state changes (append, high
// watermark advance, role change); callers must not hold partition locks.
func (p *DelayedOperationPurgatory) CheckAndComplete(key common.TopicPartition) int {
	p.mu.Lock()
	ops := make([]DelayedOperation, len(p.watchers[key]))
	copy(ops, p.watchers[key])
	p.mu.Unlock()

	completed := 0
	for _, op := range ops {
		if op.Completed() {
			continue
		}
		if op.TryComplete() {
			completed++
		}
	}
	if completed > 0 {
		p.purge(key)
	}
	return completed
}

// NumWatched reports the number of live operations still watching any key.
func (p *DelayedOperationPurgatory) NumWatched() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen := make(map[DelayedOperation]struct{})
	for _, ops := range p.watchers {
		for _, op := range ops {
			if !op.Completed() {
				seen[op] = struct{}{}
			}
		}
	}
	return len(seen)
}

// Shutdown fails every still-pending operation with err and stops the
// reaper. Idempotent.
func (p *DelayedOperationPurgatory) Shutdown(err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	pending := make(map[DelayedOperation]struct{})
	for _, ops := range p.watchers {
		for _, op := range ops {
			if !op.Completed() {
				pending[op] = struct{}{}
			}
		}
	}
	p.watchers = make(map[common.TopicPartition][]DelayedOperation)
	p.expiry = nil
	p.mu.Unlock()

	close(p.stopCh)
	<-p.doneCh

	for op := range pending {
		op.OnCancel(err)
		if op.MarkCompleted() {
			op.OnComplete()
		}
	}
	if len(pending) > 0 {
		p.logger.Info("failed pending delayed operations on shutdown", zap.Int("count", len(pending)))
	}
}

func (p *DelayedOperationPurgatory) wake() {
	select {
	case p.wakeCh <- struct{}{}:
	default:
	}
}

// purge drops completed operations from a key's watch list.
func (p *DelayedOperationPurgatory) purge(key common.TopicPartition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := p.watchers[key]
	live := ops[:0]
	for _, op := range ops {
		if !op.Completed() {
			live = append(live, op)
		}
	}
	if len(live) == 0 {
		delete(p.watchers, key)
	} else {
		p.watchers[key] = live
	}
}

// reap force-completes operations past their deadline, delivering the
// timeout outcome unless the predicate path already won.
func (p *DelayedOperationPurgatory) reap() {
	defer close(p.doneCh)
	for {
		var timerCh <-chan time.Time

		p.mu.Lock()
		for p.expiry.Len() > 0 && p.expiry[0].Completed() {
			heap.Pop(&p.expiry)
		}
		if p.expiry.Len() > 0 {
			wait := p.expiry[0].DeadlineAt().Sub(p.clock.Now())
			timerCh = p.clock.After(wait)
		}
		p.mu.Unlock()

		select {
		case <-p.stopCh:
			return
		case <-p.wakeCh:
			continue
		case <-timerCh:
		}

		now := p.clock.Now()
		var due []DelayedOperation
		p.mu.Lock()
		for p.expiry.Len() > 0 {
			next := p.expiry[0]
			if next.Completed() {
				heap.Pop(&p.expiry)
				continue
			}
			if next.DeadlineAt().After(now) {
				break
			}
			heap.Pop(&p.expiry)
			due = append(due, next)
		}
		p.mu.Unlock()

		for _, op := range due {
			if op.MarkCompleted() {
				op.OnExpiration()
				op.OnComplete()
			}
		}
		if len(due) > 0 {
			p.mu.Lock()
			keys := make([]common.TopicPartition, 0, len(p.watchers))
			for key := range p.watchers {
				keys = append(keys, key)
			}
			p.mu.Unlock()
			for _, key := range keys {
				p.purge(key)
			}
		}
	}
}

// opHeap orders operations by deadline.
type opHeap []DelayedOperation

func (h opHeap) Len() int           { return len(h) }
func (h opHeap) Less(i, j int) bool { return h[i].DeadlineAt().Before(h[j].DeadlineAt()) }
func (h opHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *opHeap) Push(x any)        { *h = append(*h, x.(DelayedOperation)) }
func (h *opHeap) Pop() any {
	old := *h
	n := len(old)
	op := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return op
}
