package replication

import (
	"sync"
	"time"

	"github.com/solivaf/kafka/common"
	"github.com/solivaf/kafka/errs"
	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/purgatory"
)

// produceStatus is the per-partition outcome of an acks=-1 produce. A status
// is resolved once its error is known or the required offset is covered by
// the high watermark; the operation completes when every status resolves.
type produceStatus struct {
	baseOffset     uint64
	lastOffset     uint64
	requiredOffset uint64 // log end offset after the append
	acksPending    bool
	err            error
}

// DelayedProduce waits for the high watermark of every written partition to
// reach the appended records. The data is already in the leader log; only
// the acknowledgment is deferred.
type DelayedProduce struct {
	purgatory.Base
	registry *PartitionRegistry

	mu       sync.Mutex
	order    []common.TopicPartition
	statuses map[common.TopicPartition]*produceStatus

	respond func(*protocol.ProduceResponse)
}

func NewDelayedProduce(
	deadline time.Time,
	registry *PartitionRegistry,
	order []common.TopicPartition,
	statuses map[common.TopicPartition]*produceStatus,
	respond func(*protocol.ProduceResponse),
) *DelayedProduce {
	return &DelayedProduce{
		Base:     purgatory.NewBase(deadline),
		registry: registry,
		order:    order,
		statuses: statuses,
		respond:  respond,
	}
}

func (d *DelayedProduce) TryComplete() bool {
	d.mu.Lock()
	allResolved := true
	for tp, st := range d.statuses {
		if !st.acksPending {
			continue
		}
		part, ok := d.registry.Get(tp)
		if !ok {
			st.err = errs.ErrNotLeaderf(tp)
			st.acksPending = false
			continue
		}
		satisfied, err := part.CheckEnoughReplicasReachOffset(st.requiredOffset)
		if err != nil {
			st.err = err
			st.acksPending = false
			continue
		}
		if satisfied {
			st.acksPending = false
			continue
		}
		allResolved = false
	}
	d.mu.Unlock()

	if !allResolved {
		return false
	}
	if d.MarkCompleted() {
		d.OnComplete()
		return true
	}
	return false
}

func (d *DelayedProduce) OnExpiration() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for tp, st := range d.statuses {
		if st.acksPending {
			st.err = errs.ErrTimedOutf(tp, st.requiredOffset)
			st.acksPending = false
		}
	}
}

func (d *DelayedProduce) OnCancel(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, st := range d.statuses {
		if st.acksPending {
			st.err = err
			st.acksPending = false
		}
	}
}

func (d *DelayedProduce) OnComplete() {
	d.mu.Lock()
	resp := &protocol.ProduceResponse{Results: make([]protocol.ProducePartitionResult, 0, len(d.order))}
	for _, tp := range d.order {
		st := d.statuses[tp]
		resp.Results = append(resp.Results, protocol.ProducePartitionResult{
			Topic:      tp.Topic,
			Partition:  tp.Partition,
			ErrorCode:  protocol.CodeForErr(st.err),
			BaseOffset: st.baseOffset,
			LastOffset: st.lastOffset,
		})
	}
	d.mu.Unlock()
	d.respond(resp)
}
