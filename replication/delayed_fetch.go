package replication

import (
	"sync"
	"time"

	"github.com/solivaf/kafka/common"
	"github.com/solivaf/kafka/protocol"
	"github.com/solivaf/kafka/purgatory"
)

// fetchStatus is one partition of a parked fetch: where to resume reading
// and how many bytes that partition may contribute. A status created with a
// pre-resolved error is never re-read.
type fetchStatus struct {
	tp          common.TopicPartition
	fetchOffset uint64
	maxBytes    uint32
	err         error
}

// DelayedFetch waits until enough bytes accumulate across the requested
// partitions (appends for a follower, high watermark advances for a
// consumer) or the wait expires. Log reads are idempotent, so TryComplete
// probes availability with the same bounded read OnComplete uses to build
// the response.
type DelayedFetch struct {
	purgatory.Base
	manager  *ReplicaManager
	consumer bool
	minBytes int32

	mu       sync.Mutex
	statuses []*fetchStatus
	cancel   error

	respond func(*protocol.FetchResponse)
}

func NewDelayedFetch(
	deadline time.Time,
	manager *ReplicaManager,
	consumer bool,
	minBytes int32,
	statuses []*fetchStatus,
	respond func(*protocol.FetchResponse),
) *DelayedFetch {
	return &DelayedFetch{
		Base:     purgatory.NewBase(deadline),
		manager:  manager,
		consumer: consumer,
		minBytes: minBytes,
		statuses: statuses,
		respond:  respond,
	}
}

// TryComplete forces completion as soon as the accumulated readable bytes
// reach minBytes, or any partition turns into an error (lost leadership,
// offset out of range): errors must surface immediately, not after the full
// wait.
func (d *DelayedFetch) TryComplete() bool {
	var accumulated int
	forceNow := false

	d.mu.Lock()
	statuses := d.statuses
	d.mu.Unlock()

	for _, st := range statuses {
		if st.err != nil {
			forceNow = true
			break
		}
		part, ok := d.manager.registry.Get(st.tp)
		if !ok {
			forceNow = true
			break
		}
		entries, _, _, err := part.ReadRecords(st.fetchOffset, st.maxBytes, d.consumer)
		if err != nil {
			forceNow = true
			break
		}
		for _, e := range entries {
			accumulated += len(e.Value)
		}
	}

	if !forceNow && accumulated < int(d.minBytes) {
		return false
	}
	if d.MarkCompleted() {
		d.OnComplete()
		return true
	}
	return false
}

// OnExpiration is a no-op: an expired fetch simply responds with whatever is
// readable, which may be nothing.
func (d *DelayedFetch) OnExpiration() {}

func (d *DelayedFetch) OnCancel(err error) {
	d.mu.Lock()
	d.cancel = err
	d.mu.Unlock()
}

func (d *DelayedFetch) OnComplete() {
	d.mu.Lock()
	cancel := d.cancel
	statuses := d.statuses
	d.mu.Unlock()

	if cancel != nil {
		resp := &protocol.FetchResponse{Results: make([]protocol.FetchPartitionResult, 0, len(statuses))}
		for _, st := range statuses {
			resp.Results = append(resp.Results, protocol.FetchPartitionResult{
				Topic:     st.tp.Topic,
				Partition: st.tp.Partition,
				ErrorCode: protocol.CodeForErr(cancel),
			})
		}
		d.respond(resp)
		return
	}
	d.respond(d.manager.readFetchResults(statuses, d.consumer))
}
