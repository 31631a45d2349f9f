package replication

import (
	"sync"
	"time"
)

// Replica is the leader-side view of a follower's replication progress. The
// follower's fetch offset is its log end offset; the leader records it on
// every fetch and derives the high watermark from the slowest in-sync member.
type Replica struct {
	brokerID int32

	mu            sync.RWMutex
	logEndOffset  uint64
	lastFetchTime time.Time
}

func NewReplica(brokerID int32) *Replica {
	return &Replica{brokerID: brokerID}
}

func (r *Replica) BrokerID() int32 { return r.brokerID }

func (r *Replica) LogEndOffset() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.logEndOffset
}

func (r *Replica) LastFetchTime() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastFetchTime
}

// UpdateFetchState records the offset the follower fetched from, which is by
// definition its current log end offset.
func (r *Replica) UpdateFetchState(logEndOffset uint64, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logEndOffset = logEndOffset
	r.lastFetchTime = at
}
